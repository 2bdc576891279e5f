// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package window keeps the rolling, time bounded buffer of ride samples and
// aggregates it into per-axis RMS magnitudes.
package window

import (
	"math"
	"time"

	"github.com/relabs-tech/rideiq/internal/sampler"
	"github.com/relabs-tech/rideiq/internal/score"
)

// DefaultDuration is the trailing span of samples used for scoring.
const DefaultDuration = 60 * time.Second

// Window is a chronologically ordered queue of samples. It is not safe for
// concurrent use; its owner serializes access.
type Window struct {
	duration time.Duration
	samples  []sampler.Sample
}

// New returns an empty window spanning d. A non-positive d uses DefaultDuration.
func New(d time.Duration) *Window {
	if d <= 0 {
		d = DefaultDuration
	}
	return &Window{duration: d}
}

// Duration returns the configured span.
func (w *Window) Duration() time.Duration { return w.duration }

// Len returns the number of retained samples.
func (w *Window) Len() int { return len(w.samples) }

// Ingest appends s at the tail and evicts every sample older than
// s.Time - Duration from the head. Samples must arrive in time order.
func (w *Window) Ingest(s sampler.Sample) {
	w.samples = append(w.samples, s)
	w.evict(s.Time)
}

// evict drops the stale prefix. Samples are appended in order, so the first
// sample inside the window marks the cut.
func (w *Window) evict(now time.Time) {
	cutoff := now.Add(-w.duration)
	idx := len(w.samples)
	for i, s := range w.samples {
		if !s.Time.Before(cutoff) {
			idx = i
			break
		}
	}
	if idx == 0 {
		return
	}
	n := copy(w.samples, w.samples[idx:])
	clear(w.samples[n:])
	w.samples = w.samples[:n]
}

// Clear drops every sample.
func (w *Window) Clear() {
	clear(w.samples)
	w.samples = w.samples[:0]
}

// Samples returns a copy of the retained samples, oldest first.
func (w *Window) Samples() []sampler.Sample {
	out := make([]sampler.Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// RMS returns sqrt(mean(v^2)) for each axis. An empty window yields zeros.
func (w *Window) RMS() score.Magnitudes {
	if len(w.samples) == 0 {
		return score.Magnitudes{}
	}
	var lat, vert, rot float64
	for _, s := range w.samples {
		lat += s.Lateral * s.Lateral
		vert += s.Vertical * s.Vertical
		rot += s.Rotation * s.Rotation
	}
	n := float64(len(w.samples))
	return score.Magnitudes{
		Lateral:  math.Sqrt(lat / n),
		Vertical: math.Sqrt(vert / n),
		Rotation: math.Sqrt(rot / n),
	}
}

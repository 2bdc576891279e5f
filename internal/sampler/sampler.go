// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sampler turns raw device motion into gravity-relative ride samples.
package sampler

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/relabs-tech/rideiq/internal/motion"
)

// DefaultInterval is the consumption cadence. Raw frames arriving between
// ticks are not queued; only the latest one is read.
const DefaultInterval = 250 * time.Millisecond

// Sample is a single derived observation. All magnitudes are non-negative.
type Sample struct {
	Time     time.Time `json:"time"`
	Vertical float64   `json:"vertical_g"`   // along gravity, g
	Lateral  float64   `json:"lateral_g"`    // orthogonal to gravity, g
	Rotation float64   `json:"rotation_rad"` // |angular rate|, rad/s
}

// Decompose splits the user acceleration of f into the component along the
// gravity direction and the residual orthogonal to it.
//
//	up       = g / max(eps, |g|)
//	vertical = u . up
//	lateral  = |u - vertical*up|
//
// A zero gravity vector yields a zero up vector, so the whole user
// acceleration is reported as lateral.
func Decompose(f motion.Frame, now time.Time) Sample {
	u := r3.Vec(f.UserAccel)
	g := r3.Vec(f.Gravity)

	gMag := math.Max(math.SmallestNonzeroFloat64, r3.Norm(g))
	// Divide per component: 1/gMag overflows for subnormal gravity.
	up := r3.Vec{X: g.X / gMag, Y: g.Y / gMag, Z: g.Z / gMag}

	vertical := r3.Dot(u, up)
	lateral := r3.Norm(r3.Sub(u, r3.Scale(vertical, up)))

	return Sample{
		Time:     now,
		Vertical: math.Abs(vertical),
		Lateral:  math.Abs(lateral),
		Rotation: math.Abs(r3.Norm(r3.Vec(f.RotationRate))),
	}
}

// Sampler polls a motion source and keeps the most recent derived sample as
// its live reading. It holds no history. It is not safe for concurrent use.
type Sampler struct {
	src  motion.Source
	live Sample
}

// New returns a sampler reading from src.
func New(src motion.Source) *Sampler {
	return &Sampler{src: src}
}

// Poll reads the current frame and derives a sample stamped with now.
func (s *Sampler) Poll(now time.Time) (Sample, error) {
	f, err := s.src.Current()
	if err != nil {
		return Sample{}, fmt.Errorf("sampler: read motion: %w", err)
	}
	smp := Decompose(f, now)
	s.live = smp
	return smp, nil
}

// Live returns the last derived sample, or zero values after Reset.
func (s *Sampler) Live() Sample { return s.live }

// Reset zeroes the live reading. Called when sampling pauses or stops so
// idle consumers never see stale motion.
func (s *Sampler) Reset() { s.live = Sample{} }

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package tracker

import (
	"fmt"
	"time"

	"github.com/relabs-tech/rideiq/internal/sampler"
	"github.com/relabs-tech/rideiq/internal/score"
	"github.com/relabs-tech/rideiq/internal/trip"
)

// State is the pipeline lifecycle state.
type State int

const (
	Idle State = iota
	Running
	Paused
)

var allStates = []string{Idle.String(), Running.String(), Paused.String()}

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = Idle
	case "running":
		*s = Running
	case "paused":
		*s = Paused
	default:
		return fmt.Errorf("tracker: unknown state %q", b)
	}
	return nil
}

// Snapshot is an immutable view of the pipeline after a tick or transition.
// Ready is false while the window is empty; scores are then zero and every
// label is score.NoDataLabel.
type Snapshot struct {
	State     State            `json:"state"`
	SessionID string           `json:"session_id,omitempty"`
	Time      time.Time        `json:"time"`
	Live      sampler.Sample   `json:"live"`
	Samples   int              `json:"samples"`
	Ready     bool             `json:"ready"`
	RMS       score.Magnitudes `json:"rms"`
	Scores    score.Triple     `json:"scores"`
	Labels    score.LabelSet   `json:"labels"`
}

// Summary describes a finished session. Scores are the means of every ready
// tick; Total is the mean of the three axis means.
type Summary struct {
	SessionID string        `json:"session_id"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Active    time.Duration `json:"active_ns"`
	Ticks     int           `json:"ticks"`
	Scores    score.Triple  `json:"scores"`
	Total     float64       `json:"total"`
	Label     string        `json:"label"`
	// Trip is set when GPS trip stats were available at stop.
	Trip *trip.Stats `json:"trip,omitempty"`
}

type session struct {
	id        string
	startedAt time.Time
	resumedAt time.Time
	running   bool
	active    time.Duration
	ticks     int
	sum       score.Triple
}

func newSession(id string, now time.Time) *session {
	return &session{id: id, startedAt: now}
}

func (s *session) resume(now time.Time) {
	s.resumedAt = now
	s.running = true
}

func (s *session) pause(now time.Time) {
	if !s.running {
		return
	}
	s.active += now.Sub(s.resumedAt)
	s.running = false
}

func (s *session) record(t score.Triple) {
	s.ticks++
	s.sum.Smoothness += t.Smoothness
	s.sum.Stability += t.Stability
	s.sum.Steadiness += t.Steadiness
}

func (s *session) summary(now time.Time) Summary {
	sum := Summary{
		SessionID: s.id,
		StartedAt: s.startedAt,
		EndedAt:   now,
		Active:    s.active,
		Ticks:     s.ticks,
		Label:     score.NoDataLabel,
	}
	if s.ticks == 0 {
		return sum
	}
	n := float64(s.ticks)
	sum.Scores = score.Triple{
		Smoothness: s.sum.Smoothness / n,
		Stability:  s.sum.Stability / n,
		Steadiness: s.sum.Steadiness / n,
	}
	sum.Total = sum.Scores.Mean()
	sum.Label = score.Label(sum.Total)
	return sum
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package score maps ride motion magnitudes to bounded quality scores
// and human readable labels.
package score

import "math"

const (
	// Max is the best possible score.
	Max = 10.0
	// Min is the worst possible score.
	Min = 0.0

	// NoDataLabel is shown for an axis before the window holds any samples.
	NoDataLabel = "No Data"
)

// Default per-axis calibration constants.
// Lateral g is roughly 0.3g -> 6.4, 0.6g -> 2.8.
const (
	DefaultSmoothnessScale = 1.2 // lateral acceleration, g
	DefaultStabilityScale  = 1.0 // vertical acceleration, g
	DefaultSteadinessScale = 6.0 // rotation rate, rad/s
)

// Scales holds the per-axis magnitude multipliers.
type Scales struct {
	Smoothness float64 `yaml:"smoothness" json:"smoothness" default:"1.2" validate:"gt=0"`
	Stability  float64 `yaml:"stability" json:"stability" default:"1.0" validate:"gt=0"`
	Steadiness float64 `yaml:"steadiness" json:"steadiness" default:"6.0" validate:"gt=0"`
}

// DefaultScales returns the reference calibration.
func DefaultScales() Scales {
	return Scales{
		Smoothness: DefaultSmoothnessScale,
		Stability:  DefaultStabilityScale,
		Steadiness: DefaultSteadinessScale,
	}
}

// WithDefaults replaces every non-positive scale with its default.
func (s Scales) WithDefaults() Scales {
	def := DefaultScales()
	if s.Smoothness <= 0 {
		s.Smoothness = def.Smoothness
	}
	if s.Stability <= 0 {
		s.Stability = def.Stability
	}
	if s.Steadiness <= 0 {
		s.Steadiness = def.Steadiness
	}
	return s
}

// Magnitudes is one RMS value per axis.
type Magnitudes struct {
	Lateral  float64 `json:"lateral"`  // g
	Vertical float64 `json:"vertical"` // g
	Rotation float64 `json:"rotation"` // rad/s
}

// Triple is the current score per axis, each in [Min, Max].
type Triple struct {
	Smoothness float64 `json:"smoothness"`
	Stability  float64 `json:"stability"`
	Steadiness float64 `json:"steadiness"`
}

// Mean returns the average of the three axis scores.
func (t Triple) Mean() float64 {
	return (t.Smoothness + t.Stability + t.Steadiness) / 3
}

// LabelSet pairs a label with each axis of a Triple.
type LabelSet struct {
	Smoothness string `json:"smoothness"`
	Stability  string `json:"stability"`
	Steadiness string `json:"steadiness"`
}

// FromMagnitude converts a magnitude into a score:
//
//	score = clamp(10 - value*scale*10, 0, 10)
//
// Higher magnitude means a lower score. NaN or infinite magnitudes, and a NaN
// scale, are treated as the worst case.
func FromMagnitude(value, scale float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) || math.IsNaN(scale) {
		return Min
	}
	if value == 0 {
		return Max
	}
	s := Max - value*scale*10
	if math.IsNaN(s) {
		return Min
	}
	return math.Max(Min, math.Min(Max, s))
}

// Label maps a score to its qualitative bin. Each bin includes its lower bound.
func Label(score float64) string {
	switch {
	case score >= 8.5:
		return "Excellent"
	case score >= 7:
		return "Very Good"
	case score >= 5.5:
		return "Good"
	case score >= 4:
		return "Average"
	case score >= 2.5:
		return "Rough"
	default:
		return "Harsh"
	}
}

// Map scores each axis with its own scale.
func Map(m Magnitudes, s Scales) Triple {
	return Triple{
		Smoothness: FromMagnitude(m.Lateral, s.Smoothness),
		Stability:  FromMagnitude(m.Vertical, s.Stability),
		Steadiness: FromMagnitude(m.Rotation, s.Steadiness),
	}
}

// Labels labels every axis of t.
func Labels(t Triple) LabelSet {
	return LabelSet{
		Smoothness: Label(t.Smoothness),
		Stability:  Label(t.Stability),
		Steadiness: Label(t.Steadiness),
	}
}

// NoData is the label set used while no samples are available.
func NoData() LabelSet {
	return LabelSet{Smoothness: NoDataLabel, Stability: NoDataLabel, Steadiness: NoDataLabel}
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import (
	"math"
	"time"
)

type mockSource struct {
	start     time.Time
	roughness float64
	now       func() time.Time
}

// NewMockSource creates a mock motion source that generates a smooth
// drive with periodic bumps. roughness scales every user acceleration and
// rotation component; 1 gives a "Good" ride.
func NewMockSource(roughness float64) Source {
	return &mockSource{start: time.Now(), roughness: roughness, now: time.Now}
}

func (m *mockSource) Current() (Frame, error) {
	elapsed := m.now().Sub(m.start).Seconds()
	r := m.roughness

	// Phone lying flat, screen up: gravity points along -Z.
	return Frame{
		UserAccel: Vec3{
			X: r * 0.20 * math.Sin(elapsed*0.9),               // cornering
			Y: r * 0.15 * math.Cos(elapsed*0.4),               // braking / accelerating
			Z: r * 0.25 * math.Sin(elapsed*7) * bump(elapsed), // road surface
		},
		Gravity: Vec3{X: 0, Y: 0, Z: -1},
		RotationRate: Vec3{
			X: r * 0.02 * math.Sin(elapsed*3),
			Y: r * 0.02 * math.Cos(elapsed*2.5),
			Z: r * 0.05 * math.Sin(elapsed*0.9),
		},
	}, nil
}

// bump is 1 for one second out of every five and a low ripple otherwise.
func bump(elapsed float64) float64 {
	if math.Mod(elapsed, 5) < 1 {
		return 1
	}
	return 0.2
}

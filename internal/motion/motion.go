// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package motion provides device motion frames from hardware, a broker, or a
// synthetic generator.
package motion

import (
	"errors"
	"sync"
	"time"
)

// ErrUnavailable is returned when a source has no current frame to offer.
var ErrUnavailable = errors.New("motion unavailable")

// DefaultRawInterval is the raw frame cadence of the hardware loop (50 Hz).
const DefaultRawInterval = 20 * time.Millisecond

// Vec3 is a vector in device-local coordinates.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Frame is one raw device motion reading.
type Frame struct {
	UserAccel    Vec3 `json:"user_accel"`    // g, gravity removed
	Gravity      Vec3 `json:"gravity"`       // g, direction of gravity
	RotationRate Vec3 `json:"rotation_rate"` // rad/s
}

// Source is anything that can report the current motion frame on demand.
type Source interface {
	Current() (Frame, error)
}

// Latest holds the newest frame written by a background producer. Older frames
// are overwritten, never queued.
type Latest struct {
	mu     sync.RWMutex
	frame  Frame
	at     time.Time
	have   bool
	maxAge time.Duration
	now    func() time.Time
}

// NewLatest returns an empty holder. Frames older than maxAge are reported as
// unavailable; maxAge <= 0 disables the check.
func NewLatest(maxAge time.Duration) *Latest {
	return &Latest{maxAge: maxAge, now: time.Now}
}

// Store replaces the current frame.
func (l *Latest) Store(f Frame) {
	l.mu.Lock()
	l.frame = f
	l.at = l.now()
	l.have = true
	l.mu.Unlock()
}

// Reset forgets the current frame.
func (l *Latest) Reset() {
	l.mu.Lock()
	l.frame = Frame{}
	l.have = false
	l.mu.Unlock()
}

// Current implements Source.
func (l *Latest) Current() (Frame, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.have {
		return Frame{}, ErrUnavailable
	}
	if l.maxAge > 0 && l.now().Sub(l.at) > l.maxAge {
		return Frame{}, ErrUnavailable
	}
	return l.frame, nil
}

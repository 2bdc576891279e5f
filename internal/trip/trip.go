// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package trip accumulates distance, speed, elevation and the route of a ride
// from GPS sentences.
package trip

import (
	"math"
	"sync"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"github.com/relabs-tech/rideiq/internal/gps"
)

// Stats is a point-in-time view of the trip.
type Stats struct {
	DistanceMeters      float64 `json:"distance_m"`
	SpeedMPS            float64 `json:"speed_mps"`
	AltitudeMeters      float64 `json:"altitude_m"`
	ElevationGainMeters float64 `json:"elevation_gain_m"`
	Points              int     `json:"points"`
	Fix                 gps.Fix `json:"fix"`
}

// Trip is safe for concurrent use. While paused it keeps the fix current but
// adds no distance, elevation gain or route points, and the next recorded fix
// starts a new route segment.
type Trip struct {
	mu        sync.Mutex
	fix       gps.Fix
	distance  float64
	gain      float64
	lastAlt   float64
	haveAlt   bool
	segments  []orb.LineString
	newSeg    bool
	recording bool
}

// New returns an empty trip that records from the first sentence.
func New() *Trip { return &Trip{recording: true, newSeg: true} }

// Pause stops accumulating. The gap until Resume is never counted.
func (t *Trip) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recording = false
	t.newSeg = true
	t.haveAlt = false
}

// Resume starts accumulating again.
func (t *Trip) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recording = true
}

// Recording reports whether fixes are accumulated.
func (t *Trip) Recording() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recording
}

// Apply folds one sentence into the trip. It reports whether the sentence
// was used. Only RMC and GGA are consumed.
func (t *Trip) Apply(s nmea.Sentence) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch m := s.(type) {
	case nmea.RMC:
		t.fix.ApplyRMC(m)
		if !t.fix.Valid() || !t.recording {
			return true
		}
		p := orb.Point{m.Longitude, m.Latitude}
		if t.newSeg || len(t.segments) == 0 {
			t.segments = append(t.segments, orb.LineString{p})
			t.newSeg = false
			return true
		}
		seg := &t.segments[len(t.segments)-1]
		t.distance += geo.Distance((*seg)[len(*seg)-1], p)
		*seg = append(*seg, p)
		return true

	case nmea.GGA:
		t.fix.ApplyGGA(m)
		if m.FixQuality == nmea.Invalid || !t.recording {
			return true
		}
		if t.haveAlt {
			t.gain += math.Max(0, m.Altitude-t.lastAlt)
		}
		t.lastAlt = m.Altitude
		t.haveAlt = true
		return true
	}
	return false
}

func (t *Trip) points() int {
	n := 0
	for _, seg := range t.segments {
		n += len(seg)
	}
	return n
}

// Stats returns the current totals.
func (t *Trip) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		DistanceMeters:      t.distance,
		SpeedMPS:            t.fix.SpeedMPS(),
		AltitudeMeters:      t.fix.Altitude,
		ElevationGainMeters: t.gain,
		Points:              t.points(),
		Fix:                 t.fix,
	}
}

// Route returns the route so far as a GeoJSON feature carrying the totals as
// properties. A trip without pauses is a LineString; paused gaps split it into
// a MultiLineString.
func (t *Trip) Route() *geojson.Feature {
	t.mu.Lock()
	defer t.mu.Unlock()

	segs := make(orb.MultiLineString, len(t.segments))
	for i, seg := range t.segments {
		segs[i] = append(orb.LineString(nil), seg...)
	}
	var g orb.Geometry
	switch len(segs) {
	case 0:
		g = orb.LineString{}
	case 1:
		g = segs[0]
	default:
		g = segs
	}
	f := geojson.NewFeature(g)
	f.Properties["distance_m"] = t.distance
	f.Properties["elevation_gain_m"] = t.gain
	return f
}

// Reset clears the trip for a new ride.
func (t *Trip) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fix = gps.Fix{}
	t.distance, t.gain, t.lastAlt = 0, 0, 0
	t.haveAlt = false
	t.segments = nil
	t.newSeg = true
}

package gps

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

// KnotsToMPS converts speed over ground from knots to metres per second.
const KnotsToMPS = 1852.0 / 3600.0

// Fix represents a single combined GPS fix suitable for JSON and MQTT.
type Fix struct {
	Time       string  `json:"time"`        // e.g. "12:34:56.0000"
	Date       string  `json:"date"`        // dd/mm/yy
	Latitude   float64 `json:"lat"`         // decimal degrees
	Longitude  float64 `json:"lon"`         // decimal degrees
	SpeedKnots float64 `json:"speed_knots"` // speed over ground
	CourseDeg  float64 `json:"course_deg"`  // course over ground
	Validity   string  `json:"validity"`    // "A" (valid) / "V" (void)
	Altitude   float64 `json:"altitude_m"`  // above mean sea level, from GGA
	Quality    string  `json:"fix_quality"` // GGA fix quality, "0" is invalid
	Satellites int64   `json:"satellites"`
}

// Valid reports whether the last RMC carried a usable position.
func (f Fix) Valid() bool { return f.Validity == nmea.ValidRMC }

// SpeedMPS returns the ground speed in m/s, never negative.
func (f Fix) SpeedMPS() float64 {
	if f.SpeedKnots <= 0 {
		return 0
	}
	return f.SpeedKnots * KnotsToMPS
}

// ApplyRMC fills position, speed and course from an RMC sentence.
func (f *Fix) ApplyRMC(m nmea.RMC) {
	f.Time = m.Time.String()
	f.Date = m.Date.String()
	f.Latitude = m.Latitude
	f.Longitude = m.Longitude
	f.SpeedKnots = m.Speed
	f.CourseDeg = m.Course
	f.Validity = m.Validity
}

// ApplyGGA fills altitude and fix quality from a GGA sentence.
func (f *Fix) ApplyGGA(m nmea.GGA) {
	f.Quality = m.FixQuality
	f.Satellites = m.NumSatellites
	if m.FixQuality != nmea.Invalid {
		f.Altitude = m.Altitude
	}
}

// ReadSentences reads NMEA lines from r and calls fn with every sentence that
// parses. Noise, partial lines and checksum failures are skipped. It returns
// when r is exhausted or fails.
func ReadSentences(r io.Reader, fn func(nmea.Sentence)) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		// NMEA sentences start with '$'; anything before it is line noise.
		i := strings.IndexByte(line, '$')
		if i < 0 {
			continue
		}
		s, err := nmea.Parse(line[i:])
		if err != nil {
			continue
		}
		fn(s)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("gps: read: %w", err)
	}
	return nil
}

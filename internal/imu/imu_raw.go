package imu

import (
	"fmt"
	"math"
)

// IMURaw represents a single raw accel+gyro sample in sensor counts.
type IMURaw struct {
	Source string `json:"source"` // device name for logging, e.g. "left"

	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`
}

type IMURawSource interface {
	ReadRaw() (IMURaw, error)
}

// Full scale ranges indexed by the MPU-9250 range code (0-3).
var (
	accelRangesG   = [4]float64{2, 4, 8, 16}
	gyroRangesDegS = [4]float64{250, 500, 1000, 2000}
)

// AccelRangeG returns the accelerometer full scale in g for a range code.
func AccelRangeG(code byte) (float64, error) {
	if int(code) >= len(accelRangesG) {
		return 0, fmt.Errorf("accel range code %d out of range 0-3", code)
	}
	return accelRangesG[code], nil
}

// GyroRangeDegS returns the gyroscope full scale in °/s for a range code.
func GyroRangeDegS(code byte) (float64, error) {
	if int(code) >= len(gyroRangesDegS) {
		return 0, fmt.Errorf("gyro range code %d out of range 0-3", code)
	}
	return gyroRangesDegS[code], nil
}

// Scale converts raw counts into physical units for a fixed range setting.
type Scale struct {
	GPerCount   float64 // accel
	RadPerCount float64 // gyro
}

// NewScale builds the conversion for the given range codes.
// A 16-bit reading spans ±full scale, so one count is fullScale/32768.
func NewScale(accelCode, gyroCode byte) (Scale, error) {
	a, err := AccelRangeG(accelCode)
	if err != nil {
		return Scale{}, err
	}
	g, err := GyroRangeDegS(gyroCode)
	if err != nil {
		return Scale{}, err
	}
	return Scale{
		GPerCount:   a / 32768.0,
		RadPerCount: g / 32768.0 * math.Pi / 180.0,
	}, nil
}

// Accel returns acceleration in g.
func (s Scale) Accel(r IMURaw) (x, y, z float64) {
	return float64(r.Ax) * s.GPerCount, float64(r.Ay) * s.GPerCount, float64(r.Az) * s.GPerCount
}

// Gyro returns angular rate in rad/s.
func (s Scale) Gyro(r IMURaw) (x, y, z float64) {
	return float64(r.Gx) * s.RadPerCount, float64(r.Gy) * s.RadPerCount, float64(r.Gz) * s.RadPerCount
}

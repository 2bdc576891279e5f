// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/rideiq/internal/imu"
)

// IMUConfig describes an MPU-9250 wired over SPI.
type IMUConfig struct {
	Name      string `yaml:"name" default:"left"`
	SPIDevice string `yaml:"spi_device" default:"/dev/spidev0.0"`
	CSPin     string `yaml:"cs_pin" default:"8"`
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	AccelRange byte `yaml:"accel_range" default:"1" validate:"lte=3"`
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	GyroRange    byte          `yaml:"gyro_range" default:"1" validate:"lte=3"`
	GravityAlpha float64       `yaml:"gravity_alpha" default:"0.9" validate:"gte=0,lt=1"`
	RawInterval  time.Duration `yaml:"raw_interval" default:"20ms" validate:"gt=0"`
	Calibrate    bool          `yaml:"calibrate" default:"true"`
}

type mpuReader struct {
	name string
	imu  *mpu9250.MPU9250
}

// newMPUReader initializes the MPU-9250 and applies the configured ranges.
func newMPUReader(cfg IMUConfig, log *zap.Logger) (imu.IMURawSource, error) {
	name := cfg.Name
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%s IMU: periph host init: %w", name, err)
	}

	cs := gpioreg.ByName(cfg.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("%s IMU: CS pin %q not found", name, cfg.CSPin)
	}

	tr, err := mpu9250.NewSpiTransport(cfg.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: SPI transport (%s): %w", name, cfg.SPIDevice, err)
	}

	dev, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: device creation: %w", name, err)
	}

	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("%s IMU: initialization: %w", name, err)
	}

	if err := dev.SetAccelRange(cfg.AccelRange); err != nil {
		return nil, fmt.Errorf("%s IMU: set accel range: %w", name, err)
	}
	if err := dev.SetGyroRange(cfg.GyroRange); err != nil {
		return nil, fmt.Errorf("%s IMU: set gyro range: %w", name, err)
	}
	log.Info("IMU ranges configured",
		zap.String("imu", name),
		zap.Uint8("accel_range", cfg.AccelRange),
		zap.Uint8("gyro_range", cfg.GyroRange))

	if cfg.Calibrate {
		// Bias calibration assumes the device is still.
		if err := dev.Calibrate(); err != nil {
			log.Warn("IMU calibration failed", zap.String("imu", name), zap.Error(err))
		} else {
			log.Info("IMU calibration complete", zap.String("imu", name))
		}
	}

	return &mpuReader{name: name, imu: dev}, nil
}

// ReadRaw reads accelerometer and gyroscope counts.
func (r *mpuReader) ReadRaw() (imu.IMURaw, error) {
	ax, err := r.imu.GetAccelerationX()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("%s IMU accel X: %w", r.name, err)
	}
	ay, err := r.imu.GetAccelerationY()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("%s IMU accel Y: %w", r.name, err)
	}
	az, err := r.imu.GetAccelerationZ()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("%s IMU accel Z: %w", r.name, err)
	}

	gx, err := r.imu.GetRotationX()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("%s IMU gyro X: %w", r.name, err)
	}
	gy, err := r.imu.GetRotationY()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("%s IMU gyro Y: %w", r.name, err)
	}
	gz, err := r.imu.GetRotationZ()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("%s IMU gyro Z: %w", r.name, err)
	}

	return imu.IMURaw{
		Source: r.name,
		Ax:     ax,
		Ay:     ay,
		Az:     az,
		Gx:     gx,
		Gy:     gy,
		Gz:     gz,
	}, nil
}

// IMUSource polls raw counts at the hardware cadence, converts them to
// physical units, splits gravity out and keeps only the newest frame.
type IMUSource struct {
	reader   imu.IMURawSource
	scale    imu.Scale
	filter   *GravityFilter
	latest   *Latest
	interval time.Duration
	log      *zap.Logger
}

// NewIMUSource initializes the hardware described by cfg.
// Call Run to start the raw loop.
func NewIMUSource(cfg IMUConfig, log *zap.Logger) (*IMUSource, error) {
	reader, err := newMPUReader(cfg, log)
	if err != nil {
		return nil, err
	}
	return newIMUSource(reader, cfg, log)
}

func newIMUSource(reader imu.IMURawSource, cfg IMUConfig, log *zap.Logger) (*IMUSource, error) {
	scale, err := imu.NewScale(cfg.AccelRange, cfg.GyroRange)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: %w", cfg.Name, err)
	}
	interval := cfg.RawInterval
	if interval <= 0 {
		interval = DefaultRawInterval
	}
	return &IMUSource{
		reader:   reader,
		scale:    scale,
		filter:   NewGravityFilter(cfg.GravityAlpha),
		latest:   NewLatest(10 * interval),
		interval: interval,
		log:      log.Named("imu"),
	}, nil
}

// Current implements Source.
func (s *IMUSource) Current() (Frame, error) {
	return s.latest.Current()
}

// Run reads the IMU until ctx is done. Read errors are logged and the loop
// continues; a source that keeps failing goes stale and reports ErrUnavailable.
// Each run starts from a fresh gravity estimate and no frame.
func (s *IMUSource) Run(ctx context.Context) error {
	s.filter.Reset()
	s.latest.Reset()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.step(); err != nil {
				s.log.Warn("IMU read failed", zap.Error(err))
			}
		}
	}
}

func (s *IMUSource) step() error {
	raw, err := s.reader.ReadRaw()
	if err != nil {
		return err
	}
	ax, ay, az := s.scale.Accel(raw)
	gx, gy, gz := s.scale.Gyro(raw)

	user, gravity := s.filter.Split(Vec3{X: ax, Y: ay, Z: az})
	s.latest.Store(Frame{
		UserAccel:    user,
		Gravity:      gravity,
		RotationRate: Vec3{X: gx, Y: gy, Z: gz},
	})
	return nil
}

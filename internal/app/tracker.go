// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/rideiq/internal/api"
	"github.com/relabs-tech/rideiq/internal/config"
	"github.com/relabs-tech/rideiq/internal/metrics"
	"github.com/relabs-tech/rideiq/internal/motion"
	"github.com/relabs-tech/rideiq/internal/tracker"
)

// TrackerOptions controls RunTracker.
type TrackerOptions struct {
	// AutoStart begins a session as soon as the pipeline is up.
	AutoStart bool
	Registry  *prometheus.Registry
	// Client reuses a connected MQTT client instead of dialing cfg.MQTT.
	// The caller keeps ownership and disconnects it.
	Client mqtt.Client
}

// RunTracker runs the scoring pipeline with its HTTP surface and, when
// enabled, its MQTT publisher and control subscriber. It returns when ctx is
// done or a component fails.
func RunTracker(ctx context.Context, cfg *config.Config, log *zap.Logger, opts TrackerOptions) error {
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	rec := metrics.New(reg)

	client := opts.Client
	if client == nil && cfg.MQTT.Enabled {
		c, err := connectMQTT(cfg.MQTT, cfg.MQTT.ClientIDTracker, log.Named("mqtt"))
		if err != nil {
			return err
		}
		client = c
		defer client.Disconnect(disconnectQuiesceMs)
	}

	// Early returns below must still stop goroutines buildSource started.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	src, err := buildSource(ctx, g, cfg, client, log)
	if err != nil {
		return err
	}
	if c, ok := src.(io.Closer); ok {
		defer func() {
			if err := c.Close(); err != nil {
				log.Warn("motion source close error", zap.Error(err))
			}
		}()
	}

	trk := tracker.New(src, cfg.Pipeline,
		tracker.WithLogger(log.Named("tracker")),
		tracker.WithRecorder(rec))
	sess := &session{Tracker: trk, topic: cfg.Topics.Session, rec: rec, log: log.Named("session")}

	apiOpts := []api.Option{
		api.WithLogger(log.Named("http")),
		api.WithGatherer(reg),
		api.WithWSBuffer(cfg.Web.WSBuffer),
	}

	if client != nil {
		pub := newMQTTPublisher(client, cfg.MQTT.ConnectTimeout)
		sess.pub = pub

		if err := subscribe(client, cfg.Topics.Control, sess.handleControl); err != nil {
			return err
		}
		log.Info("listening for control commands", zap.String("topic", cfg.Topics.Control))

		trips := &tripCache{log: log.Named("trip")}
		if err := subscribe(client, cfg.Topics.Trip, trips.handle); err != nil {
			return err
		}
		sess.trips = trips
		apiOpts = append(apiOpts, api.WithTrip(trips))

		snaps, unsubscribe := trk.Subscribe(1)
		defer unsubscribe()
		g.Go(func() error {
			forwardSnapshots(ctx, snaps, pub, cfg.Topics.Scores, rec, log.Named("publisher"))
			return nil
		})
	}

	srv := api.New(sess, apiOpts...)
	g.Go(func() error { return srv.Run(ctx, cfg.Web.Addr, cfg.Web.ShutdownTimeout) })
	g.Go(func() error { return trk.Run(ctx) })

	if opts.AutoStart {
		sess.Start()
	}

	err = g.Wait()
	if sum := sess.Stop(); sum != nil {
		log.Info("final session summary",
			zap.String("session", sum.SessionID),
			zap.Float64("total", sum.Total),
			zap.String("label", sum.Label))
	}
	return err
}

func buildSource(ctx context.Context, g *errgroup.Group, cfg *config.Config, client mqtt.Client, log *zap.Logger) (motion.Source, error) {
	switch cfg.Motion.Source {
	case "mock":
		log.Info("using mock motion source", zap.Float64("roughness", cfg.Motion.Roughness))
		return motion.NewMockSource(cfg.Motion.Roughness), nil

	case "imu":
		src, err := motion.NewIMUSource(cfg.Motion.IMU, log.Named("imu"))
		if err != nil {
			return nil, err
		}
		g.Go(func() error { return src.Run(ctx) })
		return src, nil

	case "mqtt":
		if client == nil {
			return nil, fmt.Errorf("motion source mqtt requires mqtt.enabled")
		}
		src, err := motion.NewMQTTSource(client, cfg.Topics.Motion, cfg.Motion.MaxAge, log)
		if err != nil {
			return nil, err
		}
		return src, nil

	default:
		return nil, fmt.Errorf("unknown motion source %q", cfg.Motion.Source)
	}
}

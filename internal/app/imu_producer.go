// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/rideiq/internal/config"
	"github.com/relabs-tech/rideiq/internal/motion"
)

// RunMotionProducer reads frames from the configured local source (imu or
// mock) and publishes them to the motion topic, so a tracker elsewhere can
// score them with the mqtt source.
func RunMotionProducer(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if cfg.Motion.Source == "mqtt" {
		return fmt.Errorf("motion producer needs a local source, got %q", cfg.Motion.Source)
	}

	client, err := connectMQTT(cfg.MQTT, cfg.MQTT.ClientIDMotion, log.Named("mqtt"))
	if err != nil {
		return err
	}
	defer client.Disconnect(disconnectQuiesceMs)

	g, ctx := errgroup.WithContext(ctx)
	src, err := buildSource(ctx, g, cfg, nil, log)
	if err != nil {
		return err
	}

	pub := newMQTTPublisher(client, cfg.MQTT.ConnectTimeout)
	log.Info("publishing motion frames",
		zap.String("topic", cfg.Topics.Motion),
		zap.Duration("interval", cfg.Motion.IMU.RawInterval))
	g.Go(func() error {
		publishFrames(ctx, src, pub, cfg.Topics.Motion, cfg.Motion.IMU.RawInterval, log)
		return nil
	})
	return g.Wait()
}

// publishFrames publishes the current frame every interval until ctx is done.
// Ticks without a frame are skipped.
func publishFrames(ctx context.Context, src motion.Source, pub Publisher, topic string, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var sent, skipped int
	for {
		select {
		case <-ctx.Done():
			log.Info("motion producer stopped", zap.Int("sent", sent), zap.Int("skipped", skipped))
			return
		case <-ticker.C:
			f, err := src.Current()
			if err != nil {
				skipped++
				if !errors.Is(err, motion.ErrUnavailable) {
					log.Warn("motion read error", zap.Error(err))
				}
				continue
			}
			if err := pub.PublishJSON(topic, false, f); err != nil {
				log.Warn("frame publish error", zap.Error(err))
				continue
			}
			sent++
		}
	}
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/relabs-tech/rideiq/internal/config"
	"github.com/relabs-tech/rideiq/internal/motion"
	"github.com/relabs-tech/rideiq/internal/tracker"
)

// RunMockConsole scores a synthetic ride in-process and prints every snapshot,
// without a broker or hardware. The summary is printed when ctx is done.
func RunMockConsole(ctx context.Context, cfg *config.Config, log *zap.Logger, out io.Writer) error {
	return runConsole(ctx, motion.NewMockSource(cfg.Motion.Roughness), cfg.Pipeline, log, out)
}

func runConsole(ctx context.Context, src motion.Source, pcfg tracker.Config, log *zap.Logger, out io.Writer) error {
	trk := tracker.New(src, pcfg, tracker.WithLogger(log.Named("tracker")))
	snaps, cancel := trk.Subscribe(8)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- trk.Run(ctx) }()
	trk.Start()

	for {
		select {
		case <-ctx.Done():
			err := <-done
			if sum := trk.Stop(); sum != nil {
				_, _ = io.WriteString(out, formatSummary(*sum))
			}
			return err
		case snap := <-snaps:
			_, _ = io.WriteString(out, formatSnapshot(snap))
		}
	}
}

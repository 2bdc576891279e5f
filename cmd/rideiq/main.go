// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Command rideiq scores ride quality from device motion.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relabs-tech/rideiq/internal/app"
	"github.com/relabs-tech/rideiq/internal/config"
	"github.com/relabs-tech/rideiq/internal/logging"
)

type rootFlags struct {
	configPath string
	verbose    bool
}

// runFunc is what every subcommand does once config and logger are ready.
type runFunc func(ctx context.Context, cfg *config.Config, log *zap.Logger) error

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "rideiq",
		Short:         "Gravity-relative ride quality scoring",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	var autoStart bool
	track := &cobra.Command{
		Use:   "track",
		Short: "Run the scoring pipeline with its HTTP and MQTT surfaces",
		RunE: flags.run("tracker", func(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			return app.RunTracker(ctx, cfg, log, app.TrackerOptions{AutoStart: autoStart, Registry: reg})
		}),
	}
	track.Flags().BoolVar(&autoStart, "autostart", false, "start a session as soon as the pipeline is up")

	root.AddCommand(
		track,
		&cobra.Command{
			Use:   "console",
			Short: "Print published scores, summaries and trip stats",
			RunE: flags.run("console", func(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
				return app.RunConsoleMQTT(ctx, cfg, log, os.Stdout)
			}),
		},
		&cobra.Command{
			Use:   "gps",
			Short: "Read NMEA from the GPS serial port and publish trip stats",
			RunE:  flags.run("gps", app.RunGPSProducer),
		},
		&cobra.Command{
			Use:   "display",
			Short: "Show the latest scores on an SSD1306 OLED",
			RunE:  flags.run("display", app.RunDisplay),
		},
		&cobra.Command{
			Use:   "motion",
			Short: "Publish frames from the local motion source to MQTT",
			RunE:  flags.run("motion", app.RunMotionProducer),
		},
		&cobra.Command{
			Use:   "mock",
			Short: "Score a synthetic ride in-process and print every snapshot",
			RunE: flags.run("mock", func(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
				return app.RunMockConsole(ctx, cfg, log, os.Stdout)
			}),
		},
	)
	return root
}

// run loads config, builds the logger and cancels the context on SIGINT or
// SIGTERM before handing over to fn.
func (f *rootFlags) run(name string, fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(f.configPath)
		if err != nil {
			return err
		}
		log, err := logging.New(cfg.Log, f.verbose)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log = log.Named(name)
		log.Info("starting", zap.String("config", f.configPath))
		if err := fn(ctx, cfg, log); err != nil {
			log.Error("exited with error", zap.Error(err))
			return err
		}
		log.Info("stopped")
		return nil
	}
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "rideiq:", err)
		os.Exit(1)
	}
}

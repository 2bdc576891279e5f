// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package api serves live scores, session control and metrics over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/relabs-tech/rideiq/internal/tracker"
	"github.com/relabs-tech/rideiq/internal/trip"
)

// Controller is the session surface the API drives. *tracker.Tracker
// satisfies it.
type Controller interface {
	Start()
	Pause()
	Stop() *tracker.Summary
	Snapshot() tracker.Snapshot
	Subscribe(buf int) (<-chan tracker.Snapshot, func())
}

// TripView exposes the most recent trip stats, if any have been seen.
type TripView interface {
	Trip() (trip.Stats, bool)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithTrip enables GET /api/trip.
func WithTrip(v TripView) Option {
	return func(s *Server) { s.trips = v }
}

// WithWSBuffer sets the per-connection snapshot buffer.
func WithWSBuffer(n int) Option {
	return func(s *Server) { s.wsBuffer = n }
}

// Server wraps the Echo HTTP server.
type Server struct {
	echo     *echo.Echo
	ctl      Controller
	trips    TripView
	gatherer prometheus.Gatherer
	wsBuffer int
	log      *zap.Logger
}

// New builds a server with every route registered.
func New(ctl Controller, opts ...Option) *Server {
	s := &Server{
		ctl:      ctl,
		gatherer: prometheus.DefaultGatherer,
		wsBuffer: 4,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))
	e.Use(requestLogging(s.log))

	e.GET("/api/scores", s.handleScores)
	e.GET("/api/session", s.handleSession)
	e.POST("/api/session/start", s.handleStart)
	e.POST("/api/session/pause", s.handlePause)
	e.POST("/api/session/stop", s.handleStop)
	e.GET("/api/trip", s.handleTrip)
	e.GET("/ws/scores", s.handleScoresWS)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	s.echo = e
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Run listens on addr until ctx is done, then shuts down within timeout.
func (s *Server) Run(ctx context.Context, addr string, timeout time.Duration) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", addr))
		errc <- s.echo.Start(addr)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.echo.Shutdown(sctx); err != nil {
		return fmt.Errorf("http server: shutdown: %w", err)
	}
	<-errc
	s.log.Info("http server stopped")
	return nil
}

func requestLogging(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			log.Debug("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.String("remote", req.RemoteAddr),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(start)))
			return nil
		}
	}
}

// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package tracker owns the ride scoring pipeline: it polls a motion source,
// maintains the rolling window, recomputes scores each tick and fans the
// result out to readers.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relabs-tech/rideiq/internal/motion"
	"github.com/relabs-tech/rideiq/internal/sampler"
	"github.com/relabs-tech/rideiq/internal/score"
	"github.com/relabs-tech/rideiq/internal/window"
)

// Config holds the pipeline parameters.
type Config struct {
	Interval time.Duration `yaml:"interval" default:"250ms" validate:"gt=0"`
	Window   time.Duration `yaml:"window" default:"60s" validate:"gt=0"`
	Scales   score.Scales  `yaml:"scales"`
}

// DefaultConfig returns the reference cadence, window and calibration.
func DefaultConfig() Config {
	return Config{
		Interval: sampler.DefaultInterval,
		Window:   window.DefaultDuration,
		Scales:   score.DefaultScales(),
	}
}

// Recorder receives pipeline measurements. *metrics.Recorder satisfies it.
type Recorder interface {
	SampleIngested()
	SourceError()
	SnapshotDropped()
	ObserveTick(d time.Duration)
	SetWindow(n int)
	SetState(current string, states ...string)
	SetScores(m score.Magnitudes, t score.Triple)
}

type nopRecorder struct{}

func (nopRecorder) SampleIngested()                          {}
func (nopRecorder) SourceError()                             {}
func (nopRecorder) SnapshotDropped()                         {}
func (nopRecorder) ObserveTick(time.Duration)                {}
func (nopRecorder) SetWindow(int)                            {}
func (nopRecorder) SetState(string, ...string)               {}
func (nopRecorder) SetScores(score.Magnitudes, score.Triple) {}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(t *Tracker) { t.rec = r }
}

// WithClock replaces time.Now for control transitions and Run.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Tracker is the single writer of the scoring window. All methods are safe
// for concurrent use; control calls and ticks serialize on one mutex.
type Tracker struct {
	mu      sync.Mutex
	cfg     Config
	sampler *sampler.Sampler
	window  *window.Window
	state   State
	sess    *session
	snap    Snapshot

	subs    map[int]chan Snapshot
	nextSub int

	log *zap.Logger
	rec Recorder
	now func() time.Time
}

// New builds an idle tracker reading from src. Zero or negative config fields
// fall back to DefaultConfig values, each scale on its own.
func New(src motion.Source, cfg Config, opts ...Option) *Tracker {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	cfg.Scales = cfg.Scales.WithDefaults()

	t := &Tracker{
		cfg:     cfg,
		sampler: sampler.New(src),
		window:  window.New(cfg.Window),
		state:   Idle,
		subs:    make(map[int]chan Snapshot),
		log:     zap.NewNop(),
		rec:     nopRecorder{},
		now:     time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	t.snap = t.buildSnapshot(t.now())
	t.rec.SetState(Idle.String(), allStates...)
	return t
}

// Start begins or resumes sampling. A new session starts when leaving Idle.
// It is a no-op while already running.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	switch t.state {
	case Running:
		return
	case Idle:
		t.sess = newSession(uuid.NewString(), now)
		t.log.Info("session started", zap.String("session", t.sess.id))
	case Paused:
		t.log.Info("session resumed", zap.String("session", t.sess.id))
	}
	t.sess.resume(now)
	t.setState(Running, now)
}

// Pause halts sampling and zeroes the live values. The window and the last
// scores are kept so a resume continues where it left off.
func (t *Tracker) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Running {
		return
	}
	now := t.now()
	t.sess.pause(now)
	t.sampler.Reset()
	t.log.Info("session paused", zap.String("session", t.sess.id))
	t.setState(Paused, now)
}

// Stop ends the session, clears the window and resets scores. It returns the
// session summary, or nil when there was no session.
func (t *Tracker) Stop() *Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Idle {
		return nil
	}
	now := t.now()
	t.sess.pause(now)
	sum := t.sess.summary(now)
	t.sess = nil

	t.sampler.Reset()
	t.window.Clear()
	t.rec.SetWindow(0)
	t.rec.SetScores(score.Magnitudes{}, score.Triple{})
	t.log.Info("session stopped",
		zap.String("session", sum.SessionID),
		zap.Float64("total", sum.Total),
		zap.String("label", sum.Label),
		zap.Int("ticks", sum.Ticks))
	t.setState(Idle, now)
	return &sum
}

// Tick runs one sampling step stamped with now. It does nothing unless the
// tracker is running. A source error skips the tick and keeps the state.
func (t *Tracker) Tick(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Running {
		return
	}
	began := time.Now()

	s, err := t.sampler.Poll(now)
	if err != nil {
		t.rec.SourceError()
		t.log.Debug("tick skipped", zap.Error(err))
		return
	}
	t.window.Ingest(s)
	t.rec.SampleIngested()

	t.snap = t.buildSnapshot(now)
	if t.snap.Ready {
		t.sess.record(t.snap.Scores)
	}
	t.rec.SetWindow(t.snap.Samples)
	t.rec.SetScores(t.snap.RMS, t.snap.Scores)
	t.broadcast()
	t.rec.ObserveTick(time.Since(began))
}

// Run ticks at the configured interval until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	t.log.Info("tracker loop started", zap.Duration("interval", t.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			t.log.Info("tracker loop stopped")
			return nil
		case <-ticker.C:
			t.Tick(t.now())
		}
	}
}

// Snapshot returns a copy of the latest published state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// State returns the current pipeline state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Subscribe registers a reader of snapshots. The channel holds at most buf
// snapshots (minimum 1); when full, the oldest is dropped in favour of the
// newest so a slow reader never blocks the pipeline. The current snapshot is
// delivered immediately. cancel closes the channel.
func (t *Tracker) Subscribe(buf int) (<-chan Snapshot, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Snapshot, buf)

	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	ch <- t.snap
	t.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			close(ch)
			t.mu.Unlock()
		})
	}
	return ch, cancel
}

func (t *Tracker) setState(s State, now time.Time) {
	t.state = s
	t.snap = t.buildSnapshot(now)
	t.rec.SetState(s.String(), allStates...)
	t.broadcast()
}

func (t *Tracker) buildSnapshot(now time.Time) Snapshot {
	snap := Snapshot{
		State:   t.state,
		Time:    now,
		Live:    t.sampler.Live(),
		Samples: t.window.Len(),
		Labels:  score.NoData(),
	}
	if t.sess != nil {
		snap.SessionID = t.sess.id
	}
	if snap.Samples == 0 {
		return snap
	}
	snap.Ready = true
	snap.RMS = t.window.RMS()
	snap.Scores = score.Map(snap.RMS, t.cfg.Scales)
	snap.Labels = score.Labels(snap.Scores)
	return snap
}

// broadcast must be called with t.mu held.
func (t *Tracker) broadcast() {
	for _, ch := range t.subs {
		select {
		case ch <- t.snap:
			continue
		default:
		}
		// Full: replace the stalest snapshot.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- t.snap:
		default:
		}
		t.rec.SnapshotDropped()
	}
}

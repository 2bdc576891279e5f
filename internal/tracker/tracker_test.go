package tracker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/relabs-tech/rideiq/internal/motion"
	"github.com/relabs-tech/rideiq/internal/sampler"
	"github.com/relabs-tech/rideiq/internal/score"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2025, 10, 4, 9, 0, 0, 0, time.UTC)

type stubSource struct {
	mu    sync.Mutex
	frame motion.Frame
	err   error
}

func (s *stubSource) Current() (motion.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.err
}

func (s *stubSource) set(f motion.Frame, err error) {
	s.mu.Lock()
	s.frame, s.err = f, err
	s.mu.Unlock()
}

// lateral03 yields 0.3g lateral, no vertical, no rotation.
var lateral03 = motion.Frame{
	UserAccel: motion.Vec3{X: 0.3},
	Gravity:   motion.Vec3{Z: -1},
}

type countingRecorder struct {
	nopRecorder
	ingested, sourceErrs, dropped int
	state                         string
}

func (r *countingRecorder) SampleIngested()  { r.ingested++ }
func (r *countingRecorder) SourceError()     { r.sourceErrs++ }
func (r *countingRecorder) SnapshotDropped() { r.dropped++ }

func (r *countingRecorder) SetState(s string, _ ...string) { r.state = s }

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestTracker(t *testing.T, src motion.Source, opts ...Option) (*Tracker, *clock) {
	t.Helper()
	c := &clock{now: t0}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithClock(c.Now)}, opts...)
	return New(src, Config{}, opts...), c
}

// tick advances the clock by one interval and ticks at the new time.
func tick(tr *Tracker, c *clock) {
	c.advance(sampler.DefaultInterval)
	tr.Tick(c.now)
}

func TestNew_IdleNoData(t *testing.T) {
	tr, _ := newTestTracker(t, &stubSource{frame: lateral03})
	snap := tr.Snapshot()

	assert.Equal(t, Idle, snap.State)
	assert.False(t, snap.Ready)
	assert.Empty(t, snap.SessionID)
	assert.Equal(t, score.Triple{}, snap.Scores)
	assert.Equal(t, score.NoData(), snap.Labels)
	assert.Equal(t, DefaultConfig(), tr.cfg)
}

func TestNew_PartialScalesKeepDefaults(t *testing.T) {
	src := &stubSource{frame: motion.Frame{
		UserAccel:    motion.Vec3{X: 0.3, Z: 0.5},
		Gravity:      motion.Vec3{Z: -1},
		RotationRate: motion.Vec3{Z: 0.1},
	}}
	tr := New(src, Config{Scales: score.Scales{Smoothness: 2}}, WithLogger(zaptest.NewLogger(t)))
	assert.Equal(t, score.Scales{Smoothness: 2, Stability: 1, Steadiness: 6}, tr.cfg.Scales)

	tr.Start()
	tr.Tick(t0)
	got := tr.Snapshot().Scores
	assert.InDelta(t, 4.0, got.Smoothness, 1e-9)
	// Stability and steadiness use their default scales, not a zero scale.
	assert.InDelta(t, 5.0, got.Stability, 1e-9)
	assert.InDelta(t, 4.0, got.Steadiness, 1e-9)
}

func TestTick_IdleDoesNothing(t *testing.T) {
	rec := &countingRecorder{}
	tr, c := newTestTracker(t, &stubSource{frame: lateral03}, WithRecorder(rec))
	tick(tr, c)
	tick(tr, c)

	assert.Zero(t, tr.Snapshot().Samples)
	assert.Zero(t, rec.ingested)
}

func TestTick_ScoresLateral(t *testing.T) {
	tr, c := newTestTracker(t, &stubSource{frame: lateral03})
	tr.Start()
	for i := 0; i < 4; i++ {
		tick(tr, c)
	}

	want := Snapshot{
		State:   Running,
		Time:    t0.Add(4 * sampler.DefaultInterval),
		Live:    sampler.Sample{Time: t0.Add(4 * sampler.DefaultInterval), Lateral: 0.3},
		Samples: 4,
		Ready:   true,
		RMS:     score.Magnitudes{Lateral: 0.3},
		Scores:  score.Triple{Smoothness: 6.4, Stability: 10, Steadiness: 10},
		Labels:  score.LabelSet{Smoothness: "Good", Stability: "Excellent", Steadiness: "Excellent"},
	}
	got := tr.Snapshot()
	assert.NotEmpty(t, got.SessionID)
	if diff := cmp.Diff(want, got,
		cmpopts.IgnoreFields(Snapshot{}, "SessionID"),
		cmpopts.EquateApprox(0, 1e-9),
	); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestPause_KeepsWindowZeroesLive(t *testing.T) {
	tr, c := newTestTracker(t, &stubSource{frame: lateral03})
	tr.Start()
	tick(tr, c)
	tick(tr, c)
	before := tr.Snapshot()

	tr.Pause()
	snap := tr.Snapshot()
	assert.Equal(t, Paused, snap.State)
	assert.Equal(t, sampler.Sample{}, snap.Live)
	assert.Equal(t, 2, snap.Samples)
	assert.True(t, snap.Ready)
	assert.Equal(t, before.Scores, snap.Scores)
	assert.Equal(t, before.SessionID, snap.SessionID)

	// Paused ticks are ignored.
	tick(tr, c)
	assert.Equal(t, 2, tr.Snapshot().Samples)

	// Resume keeps the session.
	tr.Start()
	tick(tr, c)
	snap = tr.Snapshot()
	assert.Equal(t, Running, snap.State)
	assert.Equal(t, before.SessionID, snap.SessionID)
	assert.Equal(t, 3, snap.Samples)
}

func TestStop_ClearsAndSummarizes(t *testing.T) {
	tr, c := newTestTracker(t, &stubSource{frame: lateral03})
	tr.Start()
	id := tr.Snapshot().SessionID
	for i := 0; i < 8; i++ {
		tick(tr, c)
	}
	tr.Pause()
	c.advance(time.Minute)
	tr.Start()
	for i := 0; i < 8; i++ {
		tick(tr, c)
	}

	sum := tr.Stop()
	require.NotNil(t, sum)
	assert.Equal(t, id, sum.SessionID)
	assert.Equal(t, t0, sum.StartedAt)
	assert.Equal(t, c.now, sum.EndedAt)
	assert.Equal(t, 16*sampler.DefaultInterval, sum.Active)
	assert.Equal(t, 16, sum.Ticks)
	assert.InDelta(t, 6.4, sum.Scores.Smoothness, 1e-9)
	assert.InDelta(t, 10, sum.Scores.Stability, 1e-9)
	assert.InDelta(t, 8.8, sum.Total, 1e-9)
	assert.Equal(t, "Excellent", sum.Label)

	snap := tr.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Zero(t, snap.Samples)
	assert.False(t, snap.Ready)
	assert.Empty(t, snap.SessionID)
	assert.Equal(t, score.Triple{}, snap.Scores)
	assert.Equal(t, score.NoData(), snap.Labels)

	// The next session gets a fresh id.
	tr.Start()
	assert.NotEqual(t, id, tr.Snapshot().SessionID)
}

func TestStop_WithoutTicksReportsNoData(t *testing.T) {
	tr, c := newTestTracker(t, &stubSource{err: motion.ErrUnavailable})
	tr.Start()
	tick(tr, c)
	sum := tr.Stop()
	require.NotNil(t, sum)
	assert.Zero(t, sum.Ticks)
	assert.Equal(t, score.NoDataLabel, sum.Label)
	assert.Zero(t, sum.Total)
}

func TestInvalidTransitionsAreNoOps(t *testing.T) {
	rec := &countingRecorder{}
	tr, _ := newTestTracker(t, &stubSource{frame: lateral03}, WithRecorder(rec))

	assert.Nil(t, tr.Stop())
	tr.Pause()
	assert.Equal(t, Idle, tr.State())
	assert.Equal(t, "idle", rec.state)

	tr.Start()
	id := tr.Snapshot().SessionID
	tr.Start()
	assert.Equal(t, id, tr.Snapshot().SessionID)
	assert.Equal(t, "running", rec.state)

	tr.Pause()
	tr.Pause()
	assert.Equal(t, Paused, tr.State())
}

func TestTick_SourceErrorSkips(t *testing.T) {
	src := &stubSource{err: motion.ErrUnavailable}
	rec := &countingRecorder{}
	tr, c := newTestTracker(t, src, WithRecorder(rec))
	tr.Start()

	tick(tr, c)
	assert.Equal(t, Running, tr.State())
	assert.Zero(t, tr.Snapshot().Samples)
	assert.Equal(t, 1, rec.sourceErrs)

	src.set(lateral03, nil)
	tick(tr, c)
	assert.Equal(t, 1, tr.Snapshot().Samples)
	assert.Equal(t, 1, rec.ingested)
}

func TestSubscribe_DropsStale(t *testing.T) {
	rec := &countingRecorder{}
	tr, c := newTestTracker(t, &stubSource{frame: lateral03}, WithRecorder(rec))
	ch, cancel := tr.Subscribe(1)
	defer cancel()

	first := <-ch
	assert.Equal(t, Idle, first.State)

	tr.Start()
	for i := 0; i < 5; i++ {
		tick(tr, c)
	}
	got := <-ch
	assert.Equal(t, 5, got.Samples)
	assert.Equal(t, 5, rec.dropped)

	select {
	case s := <-ch:
		t.Fatalf("unexpected extra snapshot %+v", s)
	default:
	}
}

func TestSubscribe_CancelCloses(t *testing.T) {
	tr, c := newTestTracker(t, &stubSource{frame: lateral03})
	ch, cancel := tr.Subscribe(4)
	<-ch
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after cancel must not panic.
	tr.Start()
	tick(tr, c)
}

func TestRun_TicksUntilCancel(t *testing.T) {
	src := &stubSource{frame: lateral03}
	tr := New(src, Config{Interval: time.Millisecond}, WithLogger(zaptest.NewLogger(t)))
	tr.Start()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	require.Eventually(t, func() bool { return tr.Snapshot().Samples >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSnapshot_JSON(t *testing.T) {
	tr, c := newTestTracker(t, &stubSource{frame: lateral03})
	tr.Start()
	tick(tr, c)

	b, err := json.Marshal(tr.Snapshot())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "running", m["state"])
	assert.Equal(t, true, m["ready"])
	assert.Equal(t, "Good", m["labels"].(map[string]any)["smoothness"])

	var back Snapshot
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, Running, back.State)
}

func TestState_UnmarshalUnknown(t *testing.T) {
	var s State
	assert.Error(t, s.UnmarshalText([]byte("flying")))
	assert.Equal(t, "state(9)", State(9).String())
}

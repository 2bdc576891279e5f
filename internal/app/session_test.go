package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/relabs-tech/rideiq/internal/motion"
	"github.com/relabs-tech/rideiq/internal/tracker"
	"github.com/relabs-tech/rideiq/internal/trip"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type published struct {
	topic    string
	retained bool
	v        any
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) PublishJSON(topic string, retained bool, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic, retained, v})
	return nil
}

func (p *fakePublisher) sent() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type publishErrors struct {
	mu sync.Mutex
	n  map[string]int
}

func (r *publishErrors) PublishError(transport string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == nil {
		r.n = map[string]int{}
	}
	r.n[transport]++
}

func newTestSession(t *testing.T, pub Publisher) (*session, *publishErrors) {
	t.Helper()
	rec := &publishErrors{}
	s := &session{
		Tracker: tracker.New(motion.NewMockSource(1), tracker.DefaultConfig(), tracker.WithLogger(zaptest.NewLogger(t))),
		pub:     pub,
		topic:   "rideiq/session",
		rec:     rec,
		log:     zaptest.NewLogger(t),
	}
	return s, rec
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		payload string
		want    Command
		err     bool
	}{
		{"start", CommandStart, false},
		{"  PAUSE\n", CommandPause, false},
		{`{"command":"stop"}`, CommandStop, false},
		{`{"command":" Start "}`, CommandStart, false},
		{"jump", "", true},
		{`{"command":`, "", true},
		{`{"cmd":"start"}`, "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, err := parseCommand([]byte(tt.payload))
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseCommand([]byte("jump"))
	assert.ErrorIs(t, err, errUnknownCommand)
}

func TestSession_StopPublishesSummary(t *testing.T) {
	pub := &fakePublisher{}
	s, _ := newTestSession(t, pub)

	assert.Nil(t, s.Stop(), "stop while idle")
	assert.Empty(t, pub.sent())

	s.Start()
	now := time.Now()
	for i := range 4 {
		s.Tick(now.Add(time.Duration(i) * 250 * time.Millisecond))
	}
	sum := s.Stop()
	require.NotNil(t, sum)
	assert.Equal(t, 4, sum.Ticks)

	msgs := pub.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "rideiq/session", msgs[0].topic)
	assert.False(t, msgs[0].retained)
	assert.Equal(t, sum, msgs[0].v)
}

func TestSession_StopAttachesTrip(t *testing.T) {
	pub := &fakePublisher{}
	s, _ := newTestSession(t, pub)
	cache := &tripCache{log: zaptest.NewLogger(t)}
	s.trips = cache

	s.Start()
	sum := s.Stop()
	require.NotNil(t, sum)
	assert.Nil(t, sum.Trip, "no trip stats seen yet")

	cache.handle(nil, fakeMessage{payload: []byte(`{"distance_m":3710.6,"elevation_gain_m":7,"points":4}`)})
	s.Start()
	sum = s.Stop()
	require.NotNil(t, sum)
	require.NotNil(t, sum.Trip)
	assert.Equal(t, 3710.6, sum.Trip.DistanceMeters)
	assert.Equal(t, 7.0, sum.Trip.ElevationGainMeters)

	msgs := pub.sent()
	require.Len(t, msgs, 2)
	assert.Equal(t, sum, msgs[1].v)
}

func TestSession_StopPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	s, rec := newTestSession(t, pub)

	s.Start()
	require.NotNil(t, s.Stop())
	assert.Equal(t, 1, rec.n["mqtt"])
	assert.Equal(t, tracker.Idle, s.State())
}

func TestSession_StopWithoutBroker(t *testing.T) {
	s, rec := newTestSession(t, nil)
	s.Start()
	require.NotNil(t, s.Stop())
	assert.Empty(t, rec.n)
}

func TestSession_HandleControl(t *testing.T) {
	pub := &fakePublisher{}
	s, _ := newTestSession(t, pub)
	send := func(payload string) {
		s.handleControl(nil, fakeMessage{topic: "rideiq/control", payload: []byte(payload)})
	}

	send("start")
	assert.Equal(t, tracker.Running, s.State())
	send(`{"command":"pause"}`)
	assert.Equal(t, tracker.Paused, s.State())
	send("jump")
	assert.Equal(t, tracker.Paused, s.State())
	send("stop")
	assert.Equal(t, tracker.Idle, s.State())
	assert.Len(t, pub.sent(), 1)
}

func TestForwardSnapshots(t *testing.T) {
	pub := &fakePublisher{}
	rec := &publishErrors{}
	snaps := make(chan tracker.Snapshot, 2)
	snaps <- tracker.Snapshot{State: tracker.Running, Samples: 1}
	snaps <- tracker.Snapshot{State: tracker.Running, Samples: 2}
	close(snaps)

	forwardSnapshots(context.Background(), snaps, pub, "rideiq/scores", rec, zaptest.NewLogger(t))

	msgs := pub.sent()
	require.Len(t, msgs, 2)
	for i, m := range msgs {
		assert.Equal(t, "rideiq/scores", m.topic)
		assert.True(t, m.retained)
		assert.Equal(t, i+1, m.v.(tracker.Snapshot).Samples)
	}
}

func TestForwardSnapshots_StopsOnCancel(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	rec := &publishErrors{}
	snaps := make(chan tracker.Snapshot, 1)
	snaps <- tracker.Snapshot{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		forwardSnapshots(ctx, snaps, pub, "rideiq/scores", rec, zaptest.NewLogger(t))
		close(done)
	}()
	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.n["mqtt"] == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwardSnapshots did not return after cancel")
	}
}

func TestTripCache(t *testing.T) {
	c := &tripCache{log: zaptest.NewLogger(t)}
	_, ok := c.Trip()
	assert.False(t, ok)

	c.handle(nil, fakeMessage{payload: []byte("not json")})
	_, ok = c.Trip()
	assert.False(t, ok)

	c.handle(nil, fakeMessage{payload: []byte(`{"distance_m":1500,"points":3}`)})
	st, ok := c.Trip()
	require.True(t, ok)
	assert.Equal(t, trip.Stats{DistanceMeters: 1500, Points: 3}, st)
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/relabs-tech/rideiq/internal/config"
	"github.com/relabs-tech/rideiq/internal/tracker"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

type brokerMessage struct {
	topic   string
	payload []byte
}

// memClient is an in-memory mqtt.Client covering the calls the tracker makes.
type memClient struct {
	mqtt.Client

	mu           sync.Mutex
	failTopic    string
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	published    []brokerMessage
}

func newMemClient() *memClient {
	return &memClient{handlers: map[string]mqtt.MessageHandler{}}
}

func (c *memClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if topic == c.failTopic {
		return doneToken{err: errors.New("not authorized")}
	}
	c.handlers[topic] = cb
	return doneToken{}
}

func (c *memClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.handlers, t)
	}
	c.unsubscribed = append(c.unsubscribed, topics...)
	return doneToken{}
}

func (c *memClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, brokerMessage{topic: topic, payload: payload.([]byte)})
	return doneToken{}
}

func (c *memClient) deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	cb, ok := c.handlers[topic]
	c.mu.Unlock()
	if ok {
		cb(c, fakeMessage{topic: topic, payload: payload})
	}
	return ok
}

func (c *memClient) on(topic string) []brokerMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []brokerMessage
	for _, m := range c.published {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (c *memClient) unsubs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.unsubscribed...)
}

func remoteTrackerConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Motion.Source = "mqtt"
	cfg.Web.Addr = "127.0.0.1:0"
	return cfg
}

func TestRunTracker_SubscribeFailureReleasesSource(t *testing.T) {
	cfg := remoteTrackerConfig(t)
	client := newMemClient()
	client.failTopic = cfg.Topics.Control

	err := RunTracker(context.Background(), cfg, zaptest.NewLogger(t), TrackerOptions{Client: client})
	assert.ErrorContains(t, err, "subscribe rideiq/control")
	assert.Equal(t, []string{cfg.Topics.Motion}, client.unsubs())
}

func TestRunTracker_PublishesScoresAndSummary(t *testing.T) {
	cfg := remoteTrackerConfig(t)
	client := newMemClient()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunTracker(ctx, cfg, zaptest.NewLogger(t), TrackerOptions{Client: client, AutoStart: true})
	}()

	require.Eventually(t, func() bool {
		for _, m := range client.on(cfg.Topics.Scores) {
			var snap tracker.Snapshot
			if json.Unmarshal(m.payload, &snap) == nil && snap.State == tracker.Running {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, client.deliver(cfg.Topics.Trip, []byte(`{"distance_m":1855.3,"elevation_gain_m":5,"points":2}`)))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunTracker did not return after cancel")
	}

	sums := client.on(cfg.Topics.Session)
	require.Len(t, sums, 1)
	var sum tracker.Summary
	require.NoError(t, json.Unmarshal(sums[0].payload, &sum))
	assert.NotEmpty(t, sum.SessionID)
	require.NotNil(t, sum.Trip)
	assert.Equal(t, 1855.3, sum.Trip.DistanceMeters)
	assert.Contains(t, client.unsubs(), cfg.Topics.Motion)
}

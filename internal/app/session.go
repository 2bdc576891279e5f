package app

import (
	"context"
	"encoding/json"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/rideiq/internal/tracker"
	"github.com/relabs-tech/rideiq/internal/trip"
)

type tripSource interface {
	Trip() (trip.Stats, bool)
}

type publishErrorRecorder interface {
	PublishError(transport string)
}

// session wraps the tracker so that a stop from any surface (HTTP, MQTT)
// attaches the trip totals and publishes the summary.
type session struct {
	*tracker.Tracker
	pub   Publisher // nil without a broker
	trips tripSource
	topic string
	rec   publishErrorRecorder
	log   *zap.Logger
}

func (s *session) Stop() *tracker.Summary {
	sum := s.Tracker.Stop()
	if sum == nil {
		return nil
	}
	if s.trips != nil {
		if st, ok := s.trips.Trip(); ok {
			sum.Trip = &st
		}
	}
	if s.pub == nil {
		return sum
	}
	if err := s.pub.PublishJSON(s.topic, false, sum); err != nil {
		s.rec.PublishError("mqtt")
		s.log.Warn("summary publish error", zap.Error(err))
	}
	return sum
}

func (s *session) apply(cmd Command) {
	switch cmd {
	case CommandStart:
		s.Start()
	case CommandPause:
		s.Pause()
	case CommandStop:
		s.Stop()
	}
}

func (s *session) handleControl(_ mqtt.Client, msg mqtt.Message) {
	cmd, err := parseCommand(msg.Payload())
	if err != nil {
		s.log.Warn("ignoring control message", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	s.log.Info("control command", zap.String("command", string(cmd)))
	s.apply(cmd)
}

// forwardSnapshots publishes every snapshot as a retained message until ctx
// is done or snaps closes.
func forwardSnapshots(ctx context.Context, snaps <-chan tracker.Snapshot, pub Publisher, topic string, rec publishErrorRecorder, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if err := pub.PublishJSON(topic, true, snap); err != nil {
				rec.PublishError("mqtt")
				log.Warn("snapshot publish error", zap.Error(err))
			}
		}
	}
}

// tripCache keeps the latest trip stats published by the GPS producer.
type tripCache struct {
	mu   sync.RWMutex
	st   trip.Stats
	have bool
	log  *zap.Logger
}

func (c *tripCache) handle(_ mqtt.Client, msg mqtt.Message) {
	var st trip.Stats
	if err := json.Unmarshal(msg.Payload(), &st); err != nil {
		c.log.Warn("trip unmarshal error", zap.Error(err))
		return
	}
	c.mu.Lock()
	c.st = st
	c.have = true
	c.mu.Unlock()
}

// Trip implements api.TripView.
func (c *tripCache) Trip() (trip.Stats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.st, c.have
}

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/rideiq/internal/config"
	"github.com/relabs-tech/rideiq/internal/tracker"
	"github.com/relabs-tech/rideiq/internal/trip"
)

func formatSnapshot(s tracker.Snapshot) string {
	if !s.Ready {
		return fmt.Sprintf("[SCORE] state=%-7s samples=%3d  no data yet\n", s.State, s.Samples)
	}
	return fmt.Sprintf(
		"[SCORE] state=%-7s samples=%3d  smooth=%4.1f (%s)  stable=%4.1f (%s)  steady=%4.1f (%s)\n",
		s.State, s.Samples,
		s.Scores.Smoothness, s.Labels.Smoothness,
		s.Scores.Stability, s.Labels.Stability,
		s.Scores.Steadiness, s.Labels.Steadiness,
	)
}

func formatSummary(s tracker.Summary) string {
	line := fmt.Sprintf(
		"[RIDE ] session=%s total=%4.1f (%s)  smooth=%4.1f stable=%4.1f steady=%4.1f  active=%s ticks=%d",
		s.SessionID, s.Total, s.Label,
		s.Scores.Smoothness, s.Scores.Stability, s.Scores.Steadiness,
		s.Active, s.Ticks,
	)
	if s.Trip != nil {
		line += fmt.Sprintf("  dist=%.2fkm gain=%.0fm", s.Trip.DistanceMeters/1000, s.Trip.ElevationGainMeters)
	}
	return line + "\n"
}

func formatTrip(st trip.Stats) string {
	return fmt.Sprintf(
		"[TRIP ] dist=%.2fkm speed=%.1fm/s alt=%.0fm gain=%.0fm points=%d\n",
		st.DistanceMeters/1000, st.SpeedMPS, st.AltitudeMeters, st.ElevationGainMeters, st.Points,
	)
}

// lineWriter serializes whole lines from concurrent MQTT callbacks.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) print(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.w, s)
}

// jsonHandler decodes each payload into a fresh T and passes it to fn.
func jsonHandler[T any](log *zap.Logger, what string, fn func(T)) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		var v T
		if err := json.Unmarshal(msg.Payload(), &v); err != nil {
			log.Warn("unmarshal error", zap.String("payload", what), zap.String("topic", msg.Topic()), zap.Error(err))
			return
		}
		fn(v)
	}
}

// RunConsoleMQTT prints scores, session summaries and trip stats as they are
// published, until ctx is done.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config, log *zap.Logger, out io.Writer) error {
	client, err := connectMQTT(cfg.MQTT, cfg.MQTT.ClientIDConsole, log.Named("mqtt"))
	if err != nil {
		return err
	}
	defer client.Disconnect(disconnectQuiesceMs)

	lw := &lineWriter{w: out}
	subs := []struct {
		topic string
		cb    mqtt.MessageHandler
	}{
		{cfg.Topics.Scores, jsonHandler(log, "scores", func(s tracker.Snapshot) { lw.print(formatSnapshot(s)) })},
		{cfg.Topics.Session, jsonHandler(log, "session", func(s tracker.Summary) { lw.print(formatSummary(s)) })},
		{cfg.Topics.Trip, jsonHandler(log, "trip", func(st trip.Stats) { lw.print(formatTrip(st)) })},
	}
	for _, s := range subs {
		if err := subscribe(client, s.topic, s.cb); err != nil {
			return err
		}
		log.Info("console subscribed", zap.String("topic", s.topic))
	}

	<-ctx.Done()
	log.Info("console shutting down")
	return nil
}

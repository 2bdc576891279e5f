package motion

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTSource receives frames published by a remote device (e.g. a phone
// streaming device motion at 50 Hz) and keeps only the newest one.
type MQTTSource struct {
	client mqtt.Client
	topic  string
	latest *Latest
	log    *zap.Logger
}

// NewMQTTSource subscribes to topic on an already connected client. Frames
// older than maxAge are reported as unavailable.
func NewMQTTSource(client mqtt.Client, topic string, maxAge time.Duration, log *zap.Logger) (*MQTTSource, error) {
	s := &MQTTSource{
		client: client,
		topic:  topic,
		latest: NewLatest(maxAge),
		log:    log.Named("mqtt-source"),
	}
	token := client.Subscribe(topic, 0, s.handle)
	token.Wait()
	if token.Error() != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	s.log.Info("subscribed to motion frames", zap.String("topic", topic))
	return s, nil
}

func (s *MQTTSource) handle(_ mqtt.Client, msg mqtt.Message) {
	var f Frame
	if err := json.Unmarshal(msg.Payload(), &f); err != nil {
		s.log.Warn("frame unmarshal error", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	s.latest.Store(f)
}

// Current implements Source.
func (s *MQTTSource) Current() (Frame, error) {
	return s.latest.Current()
}

// Close unsubscribes from the frames topic and forgets the last frame.
func (s *MQTTSource) Close() error {
	token := s.client.Unsubscribe(s.topic)
	token.Wait()
	s.latest.Reset()
	if err := token.Error(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", s.topic, err)
	}
	return nil
}

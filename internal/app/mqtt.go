// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/relabs-tech/rideiq/internal/config"
)

const disconnectQuiesceMs = 250

// connectMQTT connects a client with auto-reconnect and waits at most
// cfg.ConnectTimeout for the first connection.
func connectMQTT(cfg config.MQTT, clientID string, log *zap.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("MQTT connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Info("connected to MQTT broker", zap.String("broker", cfg.Broker), zap.String("client_id", clientID))
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("MQTT connect %s: timed out after %s", cfg.Broker, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("MQTT connect %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// subscribe waits for the subscription to be acknowledged.
func subscribe(client mqtt.Client, topic string, cb mqtt.MessageHandler) error {
	token := client.Subscribe(topic, 0, cb)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Publisher sends JSON documents to a topic.
type Publisher interface {
	PublishJSON(topic string, retained bool, v any) error
}

type mqttPublisher struct {
	client  mqtt.Client
	timeout time.Duration
}

func newMQTTPublisher(client mqtt.Client, timeout time.Duration) *mqttPublisher {
	return &mqttPublisher{client: client, timeout: timeout}
}

func (p *mqttPublisher) PublishJSON(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal (%s): %w", topic, err)
	}
	token := p.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("MQTT publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT publish %s: %w", topic, err)
	}
	return nil
}

// Command is a session control request received over MQTT.
type Command string

const (
	CommandStart Command = "start"
	CommandPause Command = "pause"
	CommandStop  Command = "stop"
)

var errUnknownCommand = errors.New("unknown command")

// parseCommand accepts a bare word ("start") or {"command":"start"}.
func parseCommand(payload []byte) (Command, error) {
	s := strings.TrimSpace(string(payload))
	if strings.HasPrefix(s, "{") {
		var msg struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal([]byte(s), &msg); err != nil {
			return "", fmt.Errorf("control payload: %w", err)
		}
		s = msg.Command
	}
	switch c := Command(strings.ToLower(strings.TrimSpace(s))); c {
	case CommandStart, CommandPause, CommandStop:
		return c, nil
	default:
		return "", fmt.Errorf("%w %q", errUnknownCommand, s)
	}
}

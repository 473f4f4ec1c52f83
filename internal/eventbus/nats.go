/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/telemetry"
)

// NATSBus relays events between nodes over core NATS. The client
// buffers publishes across broker outages and replays subscriptions on
// reconnect, so local subscribers never notice a restart.
type NATSBus struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	local  *events.Bus
	logger zerolog.Logger
	nodeID string
	prefix string
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Name          string
	SubjectPrefix string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		SubjectPrefix: "grimnir.vision.events",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NewNATSBus creates a NATS-backed relay over the given local bus. The
// connection is established lazily, so a broker that is still booting
// does not block startup.
func NewNATSBus(cfg NATSConfig, local *events.Bus, nodeID string, logger zerolog.Logger) (*NATSBus, error) {
	log := logger.With().Str("component", "eventbus").Str("backend", "nats").Logger()

	nb := &NATSBus{
		local:  local,
		logger: log,
		nodeID: nodeID,
		prefix: cfg.SubjectPrefix,
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	nb.conn = conn

	sub, err := conn.Subscribe(cfg.SubjectPrefix+".>", nb.handleMessage)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe nats: %w", err)
	}
	nb.sub = sub

	log.Info().Str("url", cfg.URL).Str("node_id", nodeID).Msg("NATS event relay initialized")
	return nb, nil
}

// Subscribe registers a local subscriber for an event type.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	return nb.local.Subscribe(eventType)
}

// Unsubscribe removes a local subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)
}

// Publish delivers locally and forwards to other nodes.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)

	data, err := marshalNATSMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to marshal relay message")
		telemetry.EventRelayPublishesTotal.WithLabelValues("nats", "error").Inc()
		return
	}

	subject := nb.prefix + "." + string(eventType)
	if err := nb.conn.Publish(subject, data); err != nil {
		nb.logger.Error().Err(err).Str("subject", subject).Msg("failed to publish to NATS")
		telemetry.EventRelayPublishesTotal.WithLabelValues("nats", "error").Inc()
		return
	}

	telemetry.EventRelayPublishesTotal.WithLabelValues("nats", "ok").Inc()
}

// handleMessage injects remote events into the local bus.
func (nb *NATSBus) handleMessage(msg *nats.Msg) {
	envelope, err := unmarshalNATSMessage(msg.Data)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to unmarshal relay message")
		return
	}

	// Skip our own publishes coming back around.
	if envelope.NodeID == nb.nodeID {
		return
	}

	eventType := envelope.EventType
	if eventType == "" {
		eventType = events.EventType(strings.TrimPrefix(msg.Subject, nb.prefix+"."))
	}

	nb.local.Publish(eventType, envelope.Payload)

	nb.logger.Debug().
		Str("event_type", string(eventType)).
		Str("source_node", envelope.NodeID).
		Msg("delivered remote event to local subscribers")
}

// Connected reports whether the broker link is currently up.
func (nb *NATSBus) Connected() bool {
	return nb.conn != nil && nb.conn.IsConnected()
}

// Close drains in-flight messages and closes the connection.
func (nb *NATSBus) Close() error {
	nb.logger.Info().Msg("closing NATS event relay")

	if nb.conn == nil {
		return nil
	}
	if err := nb.conn.Drain(); err != nil {
		nb.logger.Warn().Err(err).Msg("NATS drain failed, closing hard")
		nb.conn.Close()
	}
	return nil
}

// natsMessage is the wire envelope for relayed events. MessageID lets
// downstream consumers deduplicate if a subject is ever bridged twice.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalNATSMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	msg := natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	}
	return json.Marshal(msg)
}

func unmarshalNATSMessage(data []byte) (*natsMessage, error) {
	var msg natsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal nats message: %w", err)
	}
	return &msg, nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus relays in-process events between grimnir_vision nodes.
// A relay wraps the local events.Bus: publishes fan out locally first and
// are then forwarded to the configured backend, while remote events are
// injected into the local bus. Echoes are suppressed by node ID.
package eventbus

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_vision/internal/config"
	"github.com/friendsincode/grimnir_vision/internal/events"
)

// Relay is the event fabric surface shared by all backends.
type Relay interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Publish(eventType events.EventType, payload events.Payload)
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
	Close() error
}

// New selects a relay backend from config. With relay "none" events stay
// within the process.
func New(cfg *config.Config, local *events.Bus, logger zerolog.Logger) (Relay, error) {
	nodeID := cfg.InstanceID
	if nodeID == "" {
		nodeID = generateNodeID()
	}

	switch cfg.EventRelay {
	case config.RelayNone:
		return NewMemory(local), nil

	case config.RelayRedis:
		rcfg := DefaultRedisConfig()
		rcfg.Addr = cfg.RedisAddr
		rcfg.Password = cfg.RedisPassword
		rcfg.DB = cfg.RedisDB
		return NewRedisBus(rcfg, local, nodeID, logger)

	case config.RelayNATS:
		ncfg := DefaultNATSConfig()
		ncfg.URL = cfg.NATSURL
		ncfg.SubjectPrefix = cfg.NATSSubject
		ncfg.Name = "grimnir-vision-" + nodeID
		return NewNATSBus(ncfg, local, nodeID, logger)

	default:
		return nil, fmt.Errorf("unknown event relay backend: %s", cfg.EventRelay)
	}
}

// NewMemory wraps a local bus in the Relay interface without any
// cross-node forwarding. Used for single-node deployments and tests.
func NewMemory(local *events.Bus) Relay {
	return &memoryRelay{local: local}
}

// memoryRelay satisfies Relay for single-node deployments.
type memoryRelay struct {
	local *events.Bus
}

func (m *memoryRelay) Subscribe(eventType events.EventType) events.Subscriber {
	return m.local.Subscribe(eventType)
}

func (m *memoryRelay) Publish(eventType events.EventType, payload events.Payload) {
	m.local.Publish(eventType, payload)
}

func (m *memoryRelay) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	m.local.Unsubscribe(eventType, sub)
}

func (m *memoryRelay) Close() error { return nil }

// generateNodeID builds a relay node identity from the hostname and a
// random suffix so two nodes on one host never collide.
func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	short := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return host + "-" + short
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_vision/internal/config"
	"github.com/friendsincode/grimnir_vision/internal/events"
)

func expectPayload(t *testing.T, sub events.Subscriber) events.Payload {
	t.Helper()
	select {
	case p := <-sub:
		return p
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestNewSelectsMemoryRelay(t *testing.T) {
	local := events.NewBus()
	relay, err := New(&config.Config{EventRelay: config.RelayNone}, local, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer relay.Close()

	if _, ok := relay.(*memoryRelay); !ok {
		t.Fatalf("relay type = %T, want *memoryRelay", relay)
	}

	sub := relay.Subscribe(events.EventPlaybackState)
	relay.Publish(events.EventPlaybackState, events.Payload{"state": "playing"})

	p := expectPayload(t, sub)
	if p["state"] != "playing" {
		t.Errorf("payload = %v", p)
	}

	relay.Unsubscribe(events.EventPlaybackState, sub)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	if _, err := New(&config.Config{EventRelay: "carrier-pigeon"}, events.NewBus(), zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestRedisBusDegradesToLocalDelivery(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1" // nothing listens here
	cfg.DialTimeout = 200 * time.Millisecond

	rb, err := NewRedisBus(cfg, events.NewBus(), "node-a", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	defer rb.Close()

	if !rb.useFallback {
		t.Fatal("expected degraded relay with unreachable Redis")
	}

	sub := rb.Subscribe(events.EventSessionCreated)
	rb.Publish(events.EventSessionCreated, events.Payload{"session_id": "s-1"})

	p := expectPayload(t, sub)
	if p["session_id"] != "s-1" {
		t.Errorf("payload = %v", p)
	}

	if err := rb.TryReconnect(); err == nil {
		t.Error("TryReconnect should refuse to retry immediately")
	}
}

func TestNATSBusLocalDeliveryWhileDisconnected(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = "nats://127.0.0.1:1" // nothing listens here
	cfg.Timeout = 200 * time.Millisecond
	cfg.ReconnectWait = 50 * time.Millisecond

	nb, err := NewNATSBus(cfg, events.NewBus(), "node-a", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewNATSBus: %v", err)
	}
	defer nb.Close()

	if nb.Connected() {
		t.Fatal("expected disconnected relay")
	}

	sub := nb.Subscribe(events.EventGeometryChanged)
	nb.Publish(events.EventGeometryChanged, events.Payload{"projection": "sphere"})

	p := expectPayload(t, sub)
	if p["projection"] != "sphere" {
		t.Errorf("payload = %v", p)
	}
}

func TestNATSHandleMessageSuppressesEcho(t *testing.T) {
	nb := &NATSBus{
		local:  events.NewBus(),
		logger: zerolog.Nop(),
		nodeID: "node-a",
		prefix: "grimnir.vision.events",
	}

	sub := nb.Subscribe(events.EventPlaybackState)

	own, err := marshalNATSMessage(events.EventPlaybackState, events.Payload{"state": "paused"}, "node-a")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	nb.handleMessage(&nats.Msg{Subject: "grimnir.vision.events.playback.state", Data: own})

	select {
	case p := <-sub:
		t.Fatalf("own message echoed back: %v", p)
	case <-time.After(50 * time.Millisecond):
	}

	remote, err := marshalNATSMessage(events.EventPlaybackState, events.Payload{"state": "playing"}, "node-b")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	nb.handleMessage(&nats.Msg{Subject: "grimnir.vision.events.playback.state", Data: remote})

	p := expectPayload(t, sub)
	if p["state"] != "playing" {
		t.Errorf("payload = %v", p)
	}
}

func TestGenerateNodeID(t *testing.T) {
	a, b := generateNodeID(), generateNodeID()
	if a == "" || b == "" {
		t.Fatal("node IDs must not be empty")
	}
	if a == b {
		t.Fatalf("node IDs should be unique, both %q", a)
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/telemetry"
)

// RedisBus relays events between nodes over Redis pub/sub. Local
// delivery always goes through the wrapped bus; Redis outages degrade
// the relay to single-node operation via a circuit breaker rather than
// failing publishes.
type RedisBus struct {
	client *redis.Client
	pubsub *redis.PubSub
	local  *events.Bus
	logger zerolog.Logger
	nodeID string
	prefix string

	mu          sync.Mutex
	useFallback bool
	failCount   int
	maxFails    int
	lastCheck   time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration

	// ChannelPrefix namespaces relay channels so several deployments can
	// share one Redis.
	ChannelPrefix string
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
		ChannelPrefix: "grimnir.vision.events.",
	}
}

// NewRedisBus creates a Redis-backed relay over the given local bus.
// When Redis is unreachable at startup the relay starts degraded and
// keeps serving local subscribers.
func NewRedisBus(cfg RedisConfig, local *events.Bus, nodeID string, logger zerolog.Logger) (*RedisBus, error) {
	ctx, cancel := context.WithCancel(context.Background())

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	maxFails := cfg.MaxFailures
	if maxFails <= 0 {
		maxFails = 5
	}

	rb := &RedisBus{
		client:   client,
		local:    local,
		logger:   logger.With().Str("component", "eventbus").Str("backend", "redis").Logger(),
		nodeID:   nodeID,
		prefix:   cfg.ChannelPrefix,
		maxFails: maxFails,
		ctx:      ctx,
		cancel:   cancel,
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		rb.logger.Warn().Err(err).Msg("Redis connection failed, relay degraded to local-only")
		rb.useFallback = true
		rb.lastCheck = time.Now()
		return rb, nil
	}

	rb.startReceiver()

	rb.logger.Info().Str("addr", cfg.Addr).Str("node_id", nodeID).Msg("Redis event relay initialized")
	return rb, nil
}

func (rb *RedisBus) startReceiver() {
	// go-redis re-subscribes transparently after reconnects, so one
	// pattern subscription survives Redis restarts.
	rb.pubsub = rb.client.PSubscribe(rb.ctx, rb.prefix+"*")
	rb.wg.Add(1)
	go rb.receiveMessages()
}

// Subscribe registers a local subscriber for an event type.
func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	return rb.local.Subscribe(eventType)
}

// Unsubscribe removes a local subscriber.
func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.local.Unsubscribe(eventType, sub)
}

// Publish delivers locally and forwards to other nodes.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.local.Publish(eventType, payload)

	rb.mu.Lock()
	degraded := rb.useFallback
	rb.mu.Unlock()
	if degraded {
		telemetry.EventRelayPublishesTotal.WithLabelValues("redis", "skipped").Inc()
		return
	}

	data, err := marshalMessage(eventType, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to marshal relay message")
		telemetry.EventRelayPublishesTotal.WithLabelValues("redis", "error").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()

	if err := rb.client.Publish(ctx, rb.prefix+string(eventType), data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to Redis")
		telemetry.EventRelayPublishesTotal.WithLabelValues("redis", "error").Inc()
		rb.handleFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()

	telemetry.EventRelayPublishesTotal.WithLabelValues("redis", "ok").Inc()
}

// receiveMessages injects remote events into the local bus.
func (rb *RedisBus) receiveMessages() {
	defer rb.wg.Done()

	ch := rb.pubsub.Channel()

	rb.logger.Debug().Msg("started Redis relay receiver")

	for {
		select {
		case <-rb.ctx.Done():
			rb.logger.Debug().Msg("stopping Redis relay receiver")
			return

		case msg, ok := <-ch:
			if !ok {
				rb.logger.Warn().Msg("Redis relay channel closed")
				return
			}

			envelope, err := unmarshalMessage([]byte(msg.Payload))
			if err != nil {
				rb.logger.Error().Err(err).Msg("failed to unmarshal relay message")
				continue
			}

			// Skip our own publishes coming back around.
			if envelope.NodeID == rb.nodeID {
				continue
			}

			eventType := envelope.EventType
			if eventType == "" {
				eventType = events.EventType(strings.TrimPrefix(msg.Channel, rb.prefix))
			}

			rb.local.Publish(eventType, envelope.Payload)

			rb.logger.Debug().
				Str("event_type", string(eventType)).
				Str("source_node", envelope.NodeID).
				Msg("delivered remote event to local subscribers")
		}
	}
}

// Close shuts the relay down and releases the Redis connection.
func (rb *RedisBus) Close() error {
	rb.logger.Info().Msg("closing Redis event relay")

	rb.cancel()

	if rb.pubsub != nil {
		rb.pubsub.Close()
	}

	rb.wg.Wait()

	if err := rb.client.Close(); err != nil {
		rb.logger.Error().Err(err).Msg("failed to close Redis client")
		return err
	}
	return nil
}

// handleFailure trips the circuit breaker after repeated publish errors.
// The client stays open so TryReconnect can re-arm the relay.
func (rb *RedisBus) handleFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++

	if rb.failCount >= rb.maxFails && !rb.useFallback {
		rb.logger.Warn().
			Int("fail_count", rb.failCount).
			Msg("Redis failure threshold reached, relay degraded to local-only")

		rb.useFallback = true
		rb.lastCheck = time.Now()
	}
}

// TryReconnect re-arms a degraded relay once Redis answers pings again.
// Called periodically from the server's background workers.
func (rb *RedisBus) TryReconnect() error {
	rb.mu.Lock()

	if !rb.useFallback {
		rb.mu.Unlock()
		return nil
	}
	if time.Since(rb.lastCheck) < 30*time.Second {
		rb.mu.Unlock()
		return fmt.Errorf("too soon to retry")
	}
	rb.lastCheck = time.Now()
	rb.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rb.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis still unavailable: %w", err)
	}

	rb.mu.Lock()
	rb.useFallback = false
	rb.failCount = 0
	firstConnect := rb.pubsub == nil
	rb.mu.Unlock()

	if firstConnect {
		rb.startReceiver()
	}

	rb.logger.Info().Msg("reconnected to Redis, relay re-armed")
	return nil
}

// relayMessage is the wire envelope for relayed events.
type relayMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	msg := relayMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nodeID,
	}
	return json.Marshal(msg)
}

func unmarshalMessage(data []byte) (*relayMessage, error) {
	var msg relayMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal relay message: %w", err)
	}
	return &msg, nil
}

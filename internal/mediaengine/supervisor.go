/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_vision/internal/telemetry"
)

// RestartFunc is invoked when a supervised engine must be replaced. The
// callback owns teardown and respawn; the supervisor only decides when.
type RestartFunc func(sessionID, reason string)

// Supervisor watches engine liveness per session. Playback controllers
// report a heartbeat on every successful position sample; a session whose
// heartbeats stop gets its engine restarted, rate limited so a crash loop
// cannot spin forever.
type Supervisor struct {
	logger  zerolog.Logger
	restart RestartFunc

	mu        sync.RWMutex
	monitored map[string]*EngineHealth

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// EngineHealth tracks liveness metrics for one session's engine.
type EngineHealth struct {
	SessionID        string
	LastHeartbeat    time.Time
	ConsecutiveFails int
	BufferingCount   int64
	RestartCount     int
	LastRestart      time.Time
}

const (
	healthCheckInterval = 5 * time.Second
	heartbeatTimeout    = 15 * time.Second

	maxConsecutiveFails = 3

	maxRestartsInWindow = 5
	restartWindow       = 5 * time.Minute
)

// NewSupervisor creates an engine supervisor. restart may be nil, in which
// case failures are logged and counted but nothing is respawned.
func NewSupervisor(logger zerolog.Logger, restart RestartFunc) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		logger:    logger.With().Str("component", "engine_supervisor").Logger(),
		restart:   restart,
		monitored: make(map[string]*EngineHealth),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the health check loop.
func (s *Supervisor) Start() {
	s.logger.Info().Msg("starting engine supervisor")
	s.wg.Add(1)
	go s.healthCheckLoop()
}

// Stop gracefully stops the supervisor.
func (s *Supervisor) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("engine supervisor stopped")
}

// Monitor adds a session's engine to supervision.
func (s *Supervisor) Monitor(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.monitored[sessionID]; exists {
		return
	}
	s.monitored[sessionID] = &EngineHealth{
		SessionID:     sessionID,
		LastHeartbeat: time.Now(),
	}
	s.logger.Info().Str("session_id", sessionID).Msg("monitoring engine")
}

// Unmonitor removes a session's engine from supervision.
func (s *Supervisor) Unmonitor(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.monitored, sessionID)
}

// Heartbeat records engine responsiveness for a session.
func (s *Supervisor) Heartbeat(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if health, exists := s.monitored[sessionID]; exists {
		health.LastHeartbeat = time.Now()
		health.ConsecutiveFails = 0
	}
}

// ReportBuffering counts buffering episodes. Buffering alone never
// triggers a restart; slow networks are not crashes.
func (s *Supervisor) ReportBuffering(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if health, exists := s.monitored[sessionID]; exists {
		health.BufferingCount++
	}
}

func (s *Supervisor) healthCheckLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.performHealthCheck()
		}
	}
}

func (s *Supervisor) performHealthCheck() {
	s.mu.RLock()
	sessionIDs := make([]string, 0, len(s.monitored))
	for id := range s.monitored {
		sessionIDs = append(sessionIDs, id)
	}
	s.mu.RUnlock()

	for _, id := range sessionIDs {
		s.checkEngine(id)
	}
}

func (s *Supervisor) checkEngine(sessionID string) {
	s.mu.Lock()
	health, exists := s.monitored[sessionID]
	if !exists {
		s.mu.Unlock()
		return
	}

	if time.Since(health.LastHeartbeat) <= heartbeatTimeout {
		s.mu.Unlock()
		return
	}

	health.ConsecutiveFails++
	fails := health.ConsecutiveFails
	s.mu.Unlock()

	s.logger.Warn().
		Str("session_id", sessionID).
		Int("consecutive_fails", fails).
		Msg("engine heartbeat timeout")

	if fails >= maxConsecutiveFails {
		s.restartEngine(sessionID, "heartbeat timeout")
	}
}

func (s *Supervisor) restartEngine(sessionID, reason string) {
	s.mu.Lock()
	health, exists := s.monitored[sessionID]
	if !exists {
		s.mu.Unlock()
		return
	}

	if health.RestartCount >= maxRestartsInWindow {
		if time.Since(health.LastRestart) < restartWindow {
			s.mu.Unlock()
			s.logger.Error().
				Str("session_id", sessionID).
				Int("restart_count", health.RestartCount).
				Msg("restart rate limit exceeded, giving up")
			return
		}
		health.RestartCount = 0
	}

	health.RestartCount++
	health.LastRestart = time.Now()
	health.ConsecutiveFails = 0
	health.LastHeartbeat = time.Now()
	restarts := health.RestartCount
	s.mu.Unlock()

	s.logger.Warn().
		Str("session_id", sessionID).
		Str("reason", reason).
		Int("restart_count", restarts).
		Msg("restarting engine")

	telemetry.EngineRestartsTotal.WithLabelValues(reason).Inc()

	if s.restart != nil {
		s.restart(sessionID, reason)
	}
}

// Health returns a copy of one session's health record.
func (s *Supervisor) Health(sessionID string) (EngineHealth, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	health, exists := s.monitored[sessionID]
	if !exists {
		return EngineHealth{}, false
	}
	return *health, true
}

// AllHealth returns health records for every supervised engine.
func (s *Supervisor) AllHealth() map[string]EngineHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]EngineHealth, len(s.monitored))
	for id, health := range s.monitored {
		result[id] = *health
	}
	return result
}

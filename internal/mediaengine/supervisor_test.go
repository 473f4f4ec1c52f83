/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type restartRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *restartRecorder) restart(sessionID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sessionID+":"+reason)
}

func (r *restartRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func staleHeartbeat(s *Supervisor, sessionID string, age time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitored[sessionID].LastHeartbeat = time.Now().Add(-age)
}

func TestSupervisorRestartsAfterConsecutiveTimeouts(t *testing.T) {
	rec := &restartRecorder{}
	s := NewSupervisor(zerolog.Nop(), rec.restart)
	s.Monitor("sess-1")

	for i := 0; i < maxConsecutiveFails; i++ {
		staleHeartbeat(s, "sess-1", heartbeatTimeout+time.Second)
		s.checkEngine("sess-1")
	}

	if rec.count() != 1 {
		t.Fatalf("restart calls = %d, want 1", rec.count())
	}

	health, ok := s.Health("sess-1")
	if !ok {
		t.Fatal("health record missing")
	}
	if health.RestartCount != 1 {
		t.Errorf("RestartCount = %d, want 1", health.RestartCount)
	}
	if health.ConsecutiveFails != 0 {
		t.Errorf("ConsecutiveFails = %d, want reset to 0", health.ConsecutiveFails)
	}
}

func TestSupervisorHeartbeatResetsFailCount(t *testing.T) {
	rec := &restartRecorder{}
	s := NewSupervisor(zerolog.Nop(), rec.restart)
	s.Monitor("sess-1")

	staleHeartbeat(s, "sess-1", heartbeatTimeout+time.Second)
	s.checkEngine("sess-1")
	s.Heartbeat("sess-1")

	health, _ := s.Health("sess-1")
	if health.ConsecutiveFails != 0 {
		t.Errorf("ConsecutiveFails = %d, want 0 after heartbeat", health.ConsecutiveFails)
	}
	if rec.count() != 0 {
		t.Errorf("restart calls = %d, want 0", rec.count())
	}
}

func TestSupervisorRestartRateLimit(t *testing.T) {
	rec := &restartRecorder{}
	s := NewSupervisor(zerolog.Nop(), rec.restart)
	s.Monitor("sess-1")

	s.mu.Lock()
	s.monitored["sess-1"].RestartCount = maxRestartsInWindow
	s.monitored["sess-1"].LastRestart = time.Now()
	s.mu.Unlock()

	s.restartEngine("sess-1", "heartbeat timeout")
	if rec.count() != 0 {
		t.Errorf("restart calls = %d, want 0 when rate limited", rec.count())
	}
}

func TestSupervisorUnmonitorStopsTracking(t *testing.T) {
	s := NewSupervisor(zerolog.Nop(), nil)
	s.Monitor("sess-1")
	s.Unmonitor("sess-1")

	if _, ok := s.Health("sess-1"); ok {
		t.Error("expected no health record after Unmonitor")
	}
	// Operations on unknown sessions are no-ops.
	s.Heartbeat("sess-1")
	s.ReportBuffering("sess-1")
	s.checkEngine("sess-1")
}

func TestSupervisorBufferingNeverRestarts(t *testing.T) {
	rec := &restartRecorder{}
	s := NewSupervisor(zerolog.Nop(), rec.restart)
	s.Monitor("sess-1")

	for i := 0; i < 50; i++ {
		s.ReportBuffering("sess-1")
	}

	health, _ := s.Health("sess-1")
	if health.BufferingCount != 50 {
		t.Errorf("BufferingCount = %d, want 50", health.BufferingCount)
	}
	if rec.count() != 0 {
		t.Errorf("restart calls = %d, want 0", rec.count())
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session composes a playback engine, state controller, and
// surface coordinator per viewing session and owns their lifecycles.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/manifest"
	"github.com/friendsincode/grimnir_vision/internal/mediaengine"
	"github.com/friendsincode/grimnir_vision/internal/playback"
	"github.com/friendsincode/grimnir_vision/internal/surface"
	"github.com/friendsincode/grimnir_vision/internal/telemetry"
)

var (
	// ErrSessionNotFound is returned for unknown session IDs.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTooManySessions is returned when the session cap is reached.
	ErrTooManySessions = errors.New("session limit reached")
)

// EngineFactory builds a playback engine for a new session.
type EngineFactory func(ctx context.Context) (mediaengine.Engine, error)

// ProgressStore persists watch progress for resume. Implemented by the
// history store; nil disables resume.
type ProgressStore interface {
	Resume(ctx context.Context, userID, streamURL string) (positionSeconds float64, ok bool, err error)
	Save(ctx context.Context, userID, streamURL, title string, positionSeconds, durationSeconds float64) error
}

// Session is one viewer's playback context. Each session has a private
// event bus; cross-session concerns live on the server bus.
type Session struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`

	mu          sync.Mutex
	engine      mediaengine.Engine
	controller  *playback.Controller
	coordinator *surface.Coordinator
	store       *surface.Store
	bus         *events.Bus
	cancel      context.CancelFunc

	// lastActive is the unix-nano time of the last API interaction,
	// updated lock-free because Get runs under the manager's read lock.
	lastActive atomic.Int64
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns when the session was last fetched by a caller.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Controller returns the session's playback controller.
func (s *Session) Controller() *playback.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controller
}

// Coordinator returns the session's surface coordinator.
func (s *Session) Coordinator() *surface.Coordinator {
	return s.coordinator
}

// MeshStore returns the session's retained wire-form mesh.
func (s *Session) MeshStore() *surface.Store {
	return s.store
}

// Bus returns the session's private event bus.
func (s *Session) Bus() *events.Bus {
	return s.bus
}

// ManagerOptions wires manager dependencies. Factory is required;
// everything else degrades gracefully when nil.
type ManagerOptions struct {
	Factory     EngineFactory
	Fetcher     *manifest.Fetcher
	Progress    ProgressStore
	Supervisor  *mediaengine.Supervisor
	ServerBus   *events.Bus
	MaxSessions int
	Playback    playback.Options
	// FlushInterval is how often watch progress is persisted.
	FlushInterval time.Duration
}

// Manager tracks live sessions up to a configured cap.
type Manager struct {
	opts   ManagerOptions
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// resumeEndWindow: progress saved within the last 3% of the media counts
// as finished and does not resume.
const resumeEndWindow = 0.97

const defaultMaxSessions = 8

func NewManager(opts ManagerOptions, logger zerolog.Logger) *Manager {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = defaultMaxSessions
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 10 * time.Second
	}
	return &Manager{
		opts:     opts,
		logger:   logger.With().Str("component", "session_manager").Logger(),
		sessions: make(map[string]*Session),
	}
}

// Create spins up a new session with a fresh engine, controller, and
// surface.
func (m *Manager) Create(ctx context.Context, ownerID string) (*Session, error) {
	m.mu.Lock()
	if len(m.sessions) >= m.opts.MaxSessions {
		m.mu.Unlock()
		return nil, ErrTooManySessions
	}
	// Reserve the slot before the engine spawn so concurrent creates
	// cannot blow past the cap.
	id := uuid.NewString()
	m.sessions[id] = nil
	m.mu.Unlock()

	sess, err := m.buildSession(ctx, id, ownerID)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = sess
	count := len(m.sessions)
	m.mu.Unlock()

	telemetry.ActiveSessions.Set(float64(count))
	if m.opts.Supervisor != nil {
		m.opts.Supervisor.Monitor(id)
	}
	if m.opts.ServerBus != nil {
		m.opts.ServerBus.Publish(events.EventSessionCreated, events.Payload{
			"session_id": id,
			"owner_id":   ownerID,
		})
	}
	m.logger.Info().Str("session_id", id).Str("owner_id", ownerID).Msg("session created")
	return sess, nil
}

func (m *Manager) buildSession(ctx context.Context, id, ownerID string) (*Session, error) {
	engine, err := m.opts.Factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine start: %w", err)
	}

	bus := events.NewBus()
	heartbeat := func() {}
	if m.opts.Supervisor != nil {
		sup := m.opts.Supervisor
		heartbeat = func() { sup.Heartbeat(id) }
	}

	controller := playback.NewController(engine, bus, m.opts.Playback, heartbeat, m.logger)

	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:         id,
		OwnerID:    ownerID,
		CreatedAt:  time.Now().UTC(),
		engine:     engine,
		controller: controller,
		store:      surface.NewStore(),
		bus:        bus,
		cancel:     cancel,
	}
	sess.touch()

	// The source closes over the session, not the controller, so engine
	// replacement does not leave the surface reading a dead controller.
	source := func() playback.StreamDescriptor {
		return sess.Controller().Descriptor()
	}
	coordinator, err := surface.NewCoordinator(sess.store, source, bus, m.logger)
	if err != nil {
		cancel()
		_ = engine.Close()
		return nil, fmt.Errorf("surface init: %w", err)
	}
	sess.coordinator = coordinator

	controller.Start()
	coordinator.Start()
	if m.opts.Progress != nil {
		go m.flushProgressLoop(sessCtx, sess)
	}
	return sess, nil
}

// Get returns a session by ID and marks it active.
func (m *Manager) Get(id string) (*Session, bool) {
	sess, ok := m.lookup(id)
	if ok {
		sess.touch()
	}
	return sess, ok
}

// lookup fetches without refreshing the activity clock; internal paths
// like supervisor restarts must not keep an abandoned session alive.
func (m *Manager) lookup(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok || sess == nil {
		return nil, false
	}
	return sess, true
}

// List returns sessions ordered by creation time.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		if sess != nil {
			out = append(out, sess)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close tears down one session, persisting final watch progress.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok || sess == nil {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()

	m.teardown(sess)
	telemetry.ActiveSessions.Set(float64(count))

	if m.opts.Supervisor != nil {
		m.opts.Supervisor.Unmonitor(id)
	}
	if m.opts.ServerBus != nil {
		m.opts.ServerBus.Publish(events.EventSessionClosed, events.Payload{
			"session_id": id,
		})
	}
	m.logger.Info().Str("session_id", id).Msg("session closed")
	return nil
}

// CloseAll tears down every session; used at shutdown.
func (m *Manager) CloseAll() {
	for _, sess := range m.List() {
		if err := m.Close(sess.ID); err != nil {
			m.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("session close failed")
		}
	}
}

func (m *Manager) teardown(sess *Session) {
	m.saveProgress(context.Background(), sess)
	sess.cancel()

	sess.mu.Lock()
	controller := sess.controller
	engine := sess.engine
	sess.mu.Unlock()

	controller.Stop()
	sess.coordinator.Stop()
	if err := engine.Close(); err != nil {
		m.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("engine close failed")
	}
}

// OpenStream opens a descriptor in a session: resolves variants for
// manifest URLs, configures the projection surface, starts playback, and
// resumes from saved watch progress when there is usable progress.
func (m *Manager) OpenStream(ctx context.Context, sessionID string, desc playback.StreamDescriptor) error {
	sess, ok := m.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	controller := sess.Controller()

	if err := controller.OpenStream(ctx, desc); err != nil {
		return err
	}

	if err := sess.coordinator.ConfigureForDescriptor(desc); err != nil {
		// Playback continues on the previous surface; the failure has
		// already been reported on the session bus.
		m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("projection reconfigure failed")
	}

	if m.opts.Fetcher != nil && strings.Contains(desc.URL, ".m3u8") {
		variants, err := m.opts.Fetcher.FetchVariants(ctx, desc.URL)
		if err != nil {
			m.logger.Warn().Err(err).Str("url", desc.URL).Msg("variant fetch failed")
		} else {
			controller.SetVariants(variants)
			sess.bus.Publish(events.EventManifestFetched, events.Payload{
				"url":      desc.URL,
				"variants": len(variants),
			})
		}
	}

	if m.opts.Progress != nil && desc.MediaKind != playback.MediaPhoto {
		m.resume(ctx, sess, desc.URL)
	}
	return nil
}

func (m *Manager) resume(ctx context.Context, sess *Session, streamURL string) {
	position, ok, err := m.opts.Progress.Resume(ctx, sess.OwnerID, streamURL)
	if err != nil {
		m.logger.Warn().Err(err).Msg("resume lookup failed")
		return
	}
	if !ok || position <= 0 {
		return
	}
	if err := sess.Controller().SeekTo(ctx, position); err != nil {
		m.logger.Warn().Err(err).Msg("resume seek failed")
		return
	}
	m.logger.Info().
		Str("session_id", sess.ID).
		Float64("position", position).
		Msg("resumed from saved progress")
}

func (m *Manager) flushProgressLoop(ctx context.Context, sess *Session) {
	ticker := time.NewTicker(m.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.saveProgress(ctx, sess)
		}
	}
}

func (m *Manager) saveProgress(ctx context.Context, sess *Session) {
	if m.opts.Progress == nil {
		return
	}
	st := sess.Controller().Snapshot()
	if !st.Open() || st.MediaKind == playback.MediaPhoto || st.DurationSeconds <= 0 {
		return
	}

	position := st.CurrentTimeSeconds
	// Within the tail window the title counts as watched; store the
	// position as finished so the next open starts from the top.
	if st.HasReachedEnd || position >= st.DurationSeconds*resumeEndWindow {
		position = st.DurationSeconds
	}
	if err := m.opts.Progress.Save(ctx, sess.OwnerID, st.StreamURL, st.Title, position, st.DurationSeconds); err != nil {
		m.logger.Warn().Err(err).Msg("progress save failed")
	}
}

// ReapIdle closes sessions that nobody has touched for at least maxIdle.
// Actively playing sessions are never reaped. A paused or empty session
// still pins an engine process, so it is shut down; its watch progress
// is saved on the way out. Returns the IDs of the closed sessions.
func (m *Manager) ReapIdle(maxIdle time.Duration) []string {
	if maxIdle <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-maxIdle)

	var reaped []string
	for _, sess := range m.List() {
		if sess.LastActive().After(cutoff) {
			continue
		}
		st := sess.Controller().Snapshot()
		if st.Open() && !st.Paused {
			continue
		}
		if err := m.Close(sess.ID); err != nil {
			continue
		}
		m.logger.Info().
			Str("session_id", sess.ID).
			Time("last_active", sess.LastActive()).
			Msg("idle session reaped")
		reaped = append(reaped, sess.ID)
	}
	return reaped
}

// RestartEngine replaces a session's engine after a supervisor-detected
// failure and reopens the stream that was playing.
func (m *Manager) RestartEngine(sessionID, reason string) {
	sess, ok := m.lookup(sessionID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	desc := sess.Controller().Descriptor()
	st := sess.Controller().Snapshot()

	engine, err := m.opts.Factory(ctx)
	if err != nil {
		m.logger.Error().Err(err).Str("session_id", sessionID).Msg("engine respawn failed")
		return
	}

	heartbeat := func() {}
	if m.opts.Supervisor != nil {
		sup := m.opts.Supervisor
		heartbeat = func() { sup.Heartbeat(sessionID) }
	}

	sess.mu.Lock()
	oldController := sess.controller
	oldEngine := sess.engine
	sess.engine = engine
	sess.controller = playback.NewController(engine, sess.bus, m.opts.Playback, heartbeat, m.logger)
	controller := sess.controller
	sess.mu.Unlock()

	oldController.Stop()
	_ = oldEngine.Close()
	controller.Start()

	m.logger.Warn().
		Str("session_id", sessionID).
		Str("reason", reason).
		Msg("engine replaced")

	if desc.URL == "" {
		return
	}
	if err := controller.OpenStream(ctx, desc); err != nil {
		m.logger.Error().Err(err).Str("session_id", sessionID).Msg("stream reopen failed")
		return
	}
	if st.CurrentTimeSeconds > 0 {
		if err := controller.SeekTo(ctx, st.CurrentTimeSeconds); err != nil {
			m.logger.Warn().Err(err).Msg("position restore failed")
		}
	}
}

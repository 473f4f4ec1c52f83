/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_vision/internal/api"
	"github.com/friendsincode/grimnir_vision/internal/audit"
	"github.com/friendsincode/grimnir_vision/internal/auth"
	"github.com/friendsincode/grimnir_vision/internal/cache"
	"github.com/friendsincode/grimnir_vision/internal/config"
	"github.com/friendsincode/grimnir_vision/internal/db"
	"github.com/friendsincode/grimnir_vision/internal/eventbus"
	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/history"
	"github.com/friendsincode/grimnir_vision/internal/logbuffer"
	"github.com/friendsincode/grimnir_vision/internal/manifest"
	"github.com/friendsincode/grimnir_vision/internal/media"
	"github.com/friendsincode/grimnir_vision/internal/mediaengine"
	"github.com/friendsincode/grimnir_vision/internal/models"
	"github.com/friendsincode/grimnir_vision/internal/playback"
	"github.com/friendsincode/grimnir_vision/internal/session"
	"github.com/friendsincode/grimnir_vision/internal/telemetry"
	"github.com/friendsincode/grimnir_vision/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db         *gorm.DB
	cache      *cache.Cache
	logBuffer  *logbuffer.Buffer
	api        *api.API
	localBus   *events.Bus
	bus        eventbus.Relay
	sessions   *session.Manager
	supervisor *mediaengine.Supervisor
	history    *history.Store
	library    *media.Library
	auditSvc   *audit.Service
	updates    *version.Checker

	// settings is the startup snapshot of the stored system settings.
	// Fields that feed constructor options take effect on restart.
	settings *models.SystemSettings

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}
	if cfg.S3Bucket != "" && cfg.S3PublicBaseURL == "" {
		logger.Warn().Msg("S3/MinIO media backend configured without a public base URL: playback engines need fetchable URLs, uploaded media may not open")
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("grimnir-vision-api")) // Add OpenTelemetry tracing
	router.Use(telemetry.MetricsMiddleware)                       // Add Prometheus metrics
	// Skip timeout for WebSocket and upload connections
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip timeout middleware for WebSocket upgrade requests
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			// Skip timeout for large uploads that can legitimately exceed request middleware timeout.
			if r.URL.Path == "/api/v1/media/upload" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		localBus:  events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:    addr,
		Handler: srv.router,
		// Keep header deadline to protect against slowloris, but do not enforce a full-body
		// read deadline so large uploads are not terminated mid-request.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		// WriteTimeout set to 0 for websocket support - handlers manage their own deadlines
		// The middleware timeout (60s) handles non-streaming routes
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self' 'unsafe-inline' data: blob:; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return fmt.Errorf("register db telemetry callbacks: %w", err)
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	if s.cfg.ProfileFile != "" {
		if _, err := db.SeedProfiles(database, s.cfg.ProfileFile, s.logger); err != nil {
			return fmt.Errorf("seed projection profiles: %w", err)
		}
	}

	// Ensure media directory exists
	if err := os.MkdirAll(s.cfg.MediaRoot, 0755); err != nil {
		return fmt.Errorf("failed to create media directory %s: %w", s.cfg.MediaRoot, err)
	}
	s.logger.Info().Str("path", s.cfg.MediaRoot).Msg("media directory ready")

	// Stored settings win over env defaults so admin panel edits survive
	// restarts.
	settings, err := models.GetSystemSettings(database)
	if err != nil {
		return fmt.Errorf("load system settings: %w", err)
	}
	s.settings = settings
	if settings.LogLevel != "" {
		if level, err := zerolog.ParseLevel(settings.LogLevel); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}

	// Redis cache for manifest, profile, and user lookups
	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	entityCache, err := cache.New(cacheCfg, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
	} else {
		s.cache = entityCache
		s.DeferClose(func() error { return s.cache.Close() })
	}

	// Cross-node event relay. Backend "none" keeps events in-process.
	relay, err := eventbus.New(s.cfg, s.localBus, s.logger)
	if err != nil {
		return fmt.Errorf("create event relay: %w", err)
	}
	s.bus = relay
	s.DeferClose(relay.Close)

	mediaService, err := media.NewService(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize media service: %w", err)
	}
	s.library = media.NewLibrary(s.cfg.MediaRoot, s.logger)
	s.history = history.NewStore(database, s.logger)

	// A typed nil *cache.Cache must not reach the fetcher interface.
	var variantCache manifest.VariantCache
	if s.cache != nil {
		variantCache = s.cache
	}
	fetcher := manifest.NewFetcher(variantCache, s.logger)

	// The restart callback routes through the session manager, which is
	// built two statements later. sessionMgr is assigned before Start()
	// launches the health loop, so the closure never sees it nil.
	var sessionMgr *session.Manager
	supervisor := mediaengine.NewSupervisor(s.logger, func(sessionID, reason string) {
		sessionMgr.RestartEngine(sessionID, reason)
	})
	s.supervisor = supervisor

	playbackOpts := playback.DefaultOptions()
	if s.cfg.SamplerIntervalMs > 0 {
		playbackOpts.SampleInterval = time.Duration(s.cfg.SamplerIntervalMs) * time.Millisecond
	}
	playbackOpts.AutoHideVideoDelay = time.Duration(settings.VideoPanelAutoHideSecs) * time.Second
	playbackOpts.AutoHidePhotoDelay = time.Duration(settings.PhotoPanelAutoHideSecs) * time.Second

	maxSessions := s.cfg.MaxSessions
	if settings.MaxConcurrentSessions > 0 {
		maxSessions = settings.MaxConcurrentSessions
	}

	// Disabling resume also stops progress persistence; the history
	// tables keep whatever was recorded before.
	var progress session.ProgressStore
	if s.cfg.ResumeEnabled && settings.ResumePlaybackEnabled {
		progress = s.history
	}

	engineOpts := mediaengine.MPVOptions{
		Binary:    s.cfg.MPVBinary,
		ExtraArgs: s.cfg.MPVExtraArgs,
	}
	factory := func(ctx context.Context) (mediaengine.Engine, error) {
		return mediaengine.NewMPVEngine(ctx, engineOpts, s.logger)
	}

	sessionMgr = session.NewManager(session.ManagerOptions{
		Factory:       factory,
		Fetcher:       fetcher,
		Progress:      progress,
		Supervisor:    supervisor,
		ServerBus:     s.localBus,
		MaxSessions:   maxSessions,
		Playback:      playbackOpts,
		FlushInterval: time.Duration(s.cfg.ProgressFlushSecs) * time.Second,
	}, s.logger)
	s.sessions = sessionMgr
	s.DeferClose(func() error {
		sessionMgr.CloseAll()
		return nil
	})

	supervisor.Start()
	s.DeferClose(func() error {
		supervisor.Stop()
		return nil
	})

	deviceKeys := auth.NewDeviceKeyService(database, s.logger)

	// Audit rides the local bus; the relay injects remote audit events
	// into it, so cross-node actions land in the same trail.
	s.auditSvc = audit.NewService(database, s.localBus, s.logger)

	s.updates = version.NewChecker(s.logger)

	s.api = api.New(s.db, s.cfg, sessionMgr, fetcher, mediaService, s.library, s.history, s.cache, supervisor, deviceKeys, s.auditSvc, s.bus, s.logBuffer, s.logger)

	// Import jobs stranded in "running" by an unclean shutdown get marked
	// failed so the dashboard does not show phantom progress.
	if err := s.api.MigrationService().RecoverStaleJobs(context.Background()); err != nil {
		s.logger.Warn().Err(err).Msg("stale import job recovery failed")
	}

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// LogBuffer returns the server's log buffer for attaching to zerolog.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Start audit service
	if s.auditSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.auditSvc.Start(ctx)
		}()
	}

	// Start database metrics updater
	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}

	// Initial library scan so the media picker is populated on first load
	if s.library != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if _, err := s.library.Scan(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn().Err(err).Msg("startup library scan failed")
			}
		}()
	}

	// Session history retention
	if s.history != nil && s.cfg.SessionRetainDays > 0 {
		retain := time.Duration(s.cfg.SessionRetainDays) * 24 * time.Hour
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					trimmed, err := s.history.TrimSessions(ctx, retain)
					if err != nil {
						s.logger.Warn().Err(err).Msg("session history trim failed")
					} else if trimmed > 0 {
						s.logger.Info().Int64("rows", trimmed).Msg("trimmed old session records")
					}
				}
			}
		}()
	}

	// Idle session reaper. Every paused or empty session pins an engine
	// process, so stale ones are closed; progress is saved on close.
	if s.sessions != nil && s.cfg.SessionIdleMins > 0 {
		maxIdle := time.Duration(s.cfg.SessionIdleMins) * time.Minute
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if reaped := s.sessions.ReapIdle(maxIdle); len(reaped) > 0 {
						s.logger.Info().Int("sessions", len(reaped)).Msg("reaped idle sessions")
					}
				}
			}
		}()
	}

	// Redis relay reconnect loop. The relay rate limits attempts itself.
	if rb, ok := s.bus.(*eventbus.RedisBus); ok {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := rb.TryReconnect(); err != nil {
						s.logger.Debug().Err(err).Msg("redis relay reconnect attempt failed")
					}
				}
			}
		}()
	}

	// Start version update checker
	if s.updates != nil {
		s.updates.Start(ctx)
	}

	// Start cache invalidation listener
	if s.cache != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}
}

// runCacheInvalidationListener subscribes to cache events and invalidates cache accordingly.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	// Subscribe to all cache invalidation events
	profileCreated := s.bus.Subscribe(events.EventProfileCreated)
	profileUpdated := s.bus.Subscribe(events.EventProfileUpdated)
	profileDeleted := s.bus.Subscribe(events.EventProfileDeleted)
	userUpdated := s.bus.Subscribe(events.EventUserUpdated)
	userDeleted := s.bus.Subscribe(events.EventUserDeleted)
	progressUpdated := s.bus.Subscribe(events.EventProgressUpdated)

	defer func() {
		s.bus.Unsubscribe(events.EventProfileCreated, profileCreated)
		s.bus.Unsubscribe(events.EventProfileUpdated, profileUpdated)
		s.bus.Unsubscribe(events.EventProfileDeleted, profileDeleted)
		s.bus.Unsubscribe(events.EventUserUpdated, userUpdated)
		s.bus.Unsubscribe(events.EventUserDeleted, userDeleted)
		s.bus.Unsubscribe(events.EventProgressUpdated, progressUpdated)
	}()

	s.logger.Info().Msg("cache invalidation listener started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return

		case payload := <-profileCreated:
			s.invalidateProfile(ctx, payload, "profile created")

		case payload := <-profileUpdated:
			s.invalidateProfile(ctx, payload, "profile updated")

		case payload := <-profileDeleted:
			s.invalidateProfile(ctx, payload, "profile deleted")

		case payload := <-userUpdated:
			if userID, ok := payload["user_id"].(string); ok {
				s.logger.Debug().Str("user_id", userID).Msg("invalidating user cache (user updated)")
				s.cache.InvalidateUser(ctx, userID)
			}

		case payload := <-userDeleted:
			if userID, ok := payload["user_id"].(string); ok {
				s.logger.Debug().Str("user_id", userID).Msg("invalidating user cache (user deleted)")
				s.cache.InvalidateUserScope(ctx, userID)
			}

		case payload := <-progressUpdated:
			if userID, ok := payload["user_id"].(string); ok {
				s.cache.InvalidateProgress(ctx, userID)
			}
		}
	}
}

func (s *Server) invalidateProfile(ctx context.Context, payload events.Payload, cause string) {
	profileID, _ := payload["profile_id"].(string)
	ownerID, _ := payload["owner_id"].(string)
	if profileID == "" {
		return
	}
	s.logger.Debug().Str("profile_id", profileID).Str("cause", cause).Msg("invalidating profile cache")
	s.cache.InvalidateProfile(ctx, profileID, ownerID)
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := `{"status":"ok"`

		// Surface pending updates so probes can alert on stale nodes
		if s.updates != nil && s.updates.Info().UpdateAvailable {
			response += `,"update_available":true`
		}

		response += `}`
		_, _ = w.Write([]byte(response))
	})

	// Metrics stay mountable even when anonymous scraping is switched
	// off in settings; flipping it back on requires a restart.
	if s.settings == nil || s.settings.MetricsEnabled {
		s.router.Handle("/metrics", telemetry.Handler())
	}

	s.api.Routes(s.router)
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_vision/internal/audit"
	"github.com/friendsincode/grimnir_vision/internal/auth"
	"github.com/friendsincode/grimnir_vision/internal/cache"
	"github.com/friendsincode/grimnir_vision/internal/config"
	"github.com/friendsincode/grimnir_vision/internal/eventbus"
	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/history"
	"github.com/friendsincode/grimnir_vision/internal/logbuffer"
	"github.com/friendsincode/grimnir_vision/internal/manifest"
	"github.com/friendsincode/grimnir_vision/internal/media"
	"github.com/friendsincode/grimnir_vision/internal/mediaengine"
	"github.com/friendsincode/grimnir_vision/internal/migration"
	"github.com/friendsincode/grimnir_vision/internal/models"
	"github.com/friendsincode/grimnir_vision/internal/session"
)

// API exposes HTTP handlers.
type API struct {
	db               *gorm.DB
	cfg              *config.Config
	jwtSecret        []byte
	sessions         *session.Manager
	fetcher          *manifest.Fetcher
	media            *media.Service
	library          *media.Library
	history          *history.Store
	cache            *cache.Cache
	supervisor       *mediaengine.Supervisor
	deviceKeys       *auth.DeviceKeyService
	auditSvc         *audit.Service
	migrationHandler *MigrationHandler
	bus              eventbus.Relay
	logBuffer        *logbuffer.Buffer
	maxUploadBytes   int64
	logger           zerolog.Logger
}

// defaultMaxUploadBytes caps media uploads when no limit is configured.
const defaultMaxUploadBytes = 512 << 20

// New creates the API router wrapper.
func New(db *gorm.DB, cfg *config.Config, sessions *session.Manager, fetcher *manifest.Fetcher, mediaSvc *media.Service, library *media.Library, historyStore *history.Store, cacheSvc *cache.Cache, supervisor *mediaengine.Supervisor, deviceKeys *auth.DeviceKeyService, auditSvc *audit.Service, bus eventbus.Relay, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	migrationHandler := NewMigrationHandler(db, mediaSvc, bus, logger)

	maxUpload := cfg.MaxUploadSizeBytes()
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}

	return &API{
		db:               db,
		cfg:              cfg,
		jwtSecret:        []byte(cfg.JWTSigningKey),
		sessions:         sessions,
		fetcher:          fetcher,
		media:            mediaSvc,
		library:          library,
		history:          historyStore,
		cache:            cacheSvc,
		supervisor:       supervisor,
		deviceKeys:       deviceKeys,
		auditSvc:         auditSvc,
		migrationHandler: migrationHandler,
		bus:              bus,
		logBuffer:        logBuf,
		maxUploadBytes:   maxUpload,
		logger:           logger,
	}
}

// MigrationService exposes the import job service so the server can
// recover jobs orphaned by an unclean shutdown.
func (a *API) MigrationService() *migration.Service {
	return a.migrationHandler.Service()
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Get("/auth/me", a.handleMe)

			pr.Route("/sessions", func(r chi.Router) {
				r.Get("/", a.handleSessionsList)
				r.With(a.requireRoles(models.RoleAdmin, models.RoleOperator)).Post("/", a.handleSessionsCreate)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/", a.handleSessionGet)
					r.With(a.requireRoles(models.RoleAdmin, models.RoleOperator)).Delete("/", a.handleSessionClose)

					r.Get("/state", a.handleSessionState)
					r.Get("/mesh", a.handleSessionMesh)
					r.Get("/mesh/info", a.handleSessionMeshInfo)
					r.Get("/variants", a.handleSessionVariants)
					r.Get("/ws", a.handleSessionSocket)

					// Playback commands (operator+)
					r.Group(func(cr chi.Router) {
						cr.Use(a.requireRoles(models.RoleAdmin, models.RoleOperator))
						cr.Post("/open", a.handleStreamOpen)
						cr.Post("/play", a.handlePlay)
						cr.Post("/pause", a.handlePause)
						cr.Post("/toggle", a.handleTogglePlay)
						cr.Post("/stop", a.handleStreamStop)
						cr.Post("/seek", a.handleSeek)
						cr.Post("/panel", a.handlePanel)
						cr.Post("/scrub/begin", a.handleScrubBegin)
						cr.Post("/scrub/move", a.handleScrubMove)
						cr.Post("/scrub/end", a.handleScrubEnd)
						cr.Post("/variant", a.handleVariantSelect)
					})
				})
			})

			// Manifest inspection without opening a stream
			pr.Get("/variants", a.handleVariantsProbe)

			pr.Route("/profiles", func(r chi.Router) {
				r.Get("/", a.handleProfilesList)
				r.With(a.requireRoles(models.RoleAdmin, models.RoleOperator)).Post("/", a.handleProfilesCreate)
				r.Route("/{profileID}", func(r chi.Router) {
					r.Get("/", a.handleProfileGet)
					r.With(a.requireRoles(models.RoleAdmin, models.RoleOperator)).Put("/", a.handleProfileUpdate)
					r.With(a.requireRoles(models.RoleAdmin, models.RoleOperator)).Delete("/", a.handleProfileDelete)
				})
			})

			pr.Route("/history", func(r chi.Router) {
				r.Get("/recent", a.handleHistoryRecent)
				r.Get("/continue", a.handleHistoryContinue)
				r.Get("/resume", a.handleHistoryResume)
				r.Get("/sessions", a.handleHistorySessions)
				r.Delete("/progress", a.handleHistoryDeleteProgress)
			})

			pr.Route("/media", func(r chi.Router) {
				r.Get("/", a.handleMediaList)
				r.With(a.requireRoles(models.RoleAdmin, models.RoleOperator)).Post("/scan", a.handleMediaScan)
				r.With(a.requireRoles(models.RoleAdmin, models.RoleOperator)).Post("/upload", a.handleMediaUpload)
				r.Post("/probe", a.handleMediaProbe)
			})

			pr.Route("/devicekeys", func(r chi.Router) {
				r.Get("/", a.handleDeviceKeysList)
				r.With(a.requireRoles(models.RoleAdmin)).Post("/", a.handleDeviceKeysCreate)
				r.With(a.requireRoles(models.RoleAdmin)).Delete("/{keyID}", a.handleDeviceKeyRevoke)
			})

			// User administration (admin only)
			pr.Route("/users", func(r chi.Router) {
				r.Use(a.requireRoles(models.RoleAdmin))
				r.Get("/", a.handleUsersList)
				r.Post("/", a.handleUsersCreate)
				r.Patch("/{userID}", a.handleUserUpdate)
				r.Delete("/{userID}", a.handleUserDelete)
			})

			// System status routes (admin only)
			pr.Route("/system", func(r chi.Router) {
				r.Use(a.requireRoles(models.RoleAdmin))
				r.Get("/status", a.handleSystemStatus)
				r.Get("/settings", a.handleSettingsGet)
				r.Put("/settings", a.handleSettingsUpdate)
				r.Get("/logs", a.handleSystemLogs)
				r.Get("/logs/components", a.handleLogComponents)
				r.Get("/logs/stats", a.handleLogStats)
				r.Delete("/logs", a.handleClearLogs)
			})

			// Audit log routes (admin only)
			pr.With(a.requireRoles(models.RoleAdmin)).Get("/audit", a.handleAuditList)

			// Migration routes (admin only)
			pr.Group(func(mr chi.Router) {
				mr.Use(a.requireRoles(models.RoleAdmin))
				a.migrationHandler.RegisterRoutes(mr)
			})

			pr.Get("/events", a.handleEvents)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

const tokenTTL = 24 * time.Hour

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email_and_password_required")
		return
	}

	var user models.User
	err := a.db.WithContext(r.Context()).First(&user, "email = ?", req.Email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("login lookup failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if !auth.CheckPassword(user.Password, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if user.Suspended {
		writeError(w, http.StatusForbidden, "account_suspended")
		return
	}

	token, err := auth.Issue(a.jwtSecret, auth.Claims{
		UserID: user.ID,
		Roles:  []string{string(user.Role)},
	}, tokenTTL)
	if err != nil {
		a.logger.Error().Err(err).Msg("token issue failed")
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(tokenTTL),
		User:      user,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var user models.User
	err := a.db.WithContext(r.Context()).First(&user, "id = ?", claims.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Device key principals have no user row beyond the owner, so
		// fall back to the claims themselves.
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id": claims.UserID,
			"roles":   claims.Roles,
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.Middleware(a.jwtSecret, a.deviceKeys)
}

func (a *API) requireRoles(allowed ...models.RoleName) func(http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[string(role)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range claims.Roles {
				if _, exists := allowedSet[role]; exists {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "insufficient_role")
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// auditContext extracts user and request info for audit logging.
func (a *API) auditContext(r *http.Request) events.Payload {
	payload := events.Payload{
		"ip_address": r.RemoteAddr,
		"user_agent": r.UserAgent(),
	}

	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims != nil {
		payload["user_id"] = claims.UserID

		var user models.User
		if err := a.db.Select("email").First(&user, "id = ?", claims.UserID).Error; err == nil {
			payload["user_email"] = user.Email
		}
	}

	return payload
}

// publishAuditEvent publishes an audit event with user and request context.
func (a *API) publishAuditEvent(r *http.Request, eventType events.EventType, data events.Payload) {
	payload := a.auditContext(r)
	for k, v := range data {
		payload[k] = v
	}
	a.bus.Publish(eventType, payload)
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/logbuffer"
	"github.com/friendsincode/grimnir_vision/internal/models"
	"github.com/friendsincode/grimnir_vision/internal/version"
)

// SystemStatus represents the overall system health status.
type SystemStatus struct {
	Version   string          `json:"version"`
	Database  ComponentStatus `json:"database"`
	Storage   ComponentStatus `json:"storage"`
	Cache     ComponentStatus `json:"cache"`
	Engines   ComponentStatus `json:"engines"`
	Sessions  int             `json:"active_sessions"`
	Timestamp time.Time       `json:"timestamp"`
}

// ComponentStatus represents the status of a single system component.
type ComponentStatus struct {
	Status  string `json:"status"` // "ok", "error", "unavailable"
	Message string `json:"message,omitempty"`
}

func (a *API) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := SystemStatus{
		Version:   version.Version,
		Timestamp: time.Now(),
		Sessions:  a.sessions.Count(),
	}

	// Check database connection
	sqlDB, err := a.db.DB()
	if err != nil {
		status.Database = ComponentStatus{Status: "error", Message: err.Error()}
	} else if err := sqlDB.PingContext(ctx); err != nil {
		status.Database = ComponentStatus{Status: "error", Message: err.Error()}
	} else {
		status.Database = ComponentStatus{Status: "ok", Message: "Connected"}
	}

	// Check storage access
	if a.media != nil {
		if err := a.media.CheckStorageAccess(); err != nil {
			status.Storage = ComponentStatus{Status: "error", Message: err.Error()}
		} else {
			status.Storage = ComponentStatus{Status: "ok", Message: "Accessible"}
		}
	} else {
		status.Storage = ComponentStatus{Status: "unavailable", Message: "Media service not available"}
	}

	// Check cache availability
	if a.cache != nil && a.cache.IsAvailable() {
		status.Cache = ComponentStatus{Status: "ok", Message: "Connected"}
	} else {
		status.Cache = ComponentStatus{Status: "unavailable", Message: "Redis not configured or unreachable"}
	}

	// Summarize engine health
	if a.supervisor != nil {
		health := a.supervisor.AllHealth()
		failing := 0
		for _, h := range health {
			if h.ConsecutiveFails > 0 {
				failing++
			}
		}
		msg := fmt.Sprintf("%d monitored, %d failing", len(health), failing)
		if failing > 0 {
			status.Engines = ComponentStatus{Status: "error", Message: msg}
		} else {
			status.Engines = ComponentStatus{Status: "ok", Message: msg}
		}
	} else {
		status.Engines = ComponentStatus{Status: "unavailable", Message: "Supervisor not available"}
	}

	writeJSON(w, http.StatusOK, status)
}

// settingsResponse flattens the singleton settings row for the API.
func settingsResponse(s *models.SystemSettings) map[string]any {
	return map[string]any{
		"default_projection":         s.DefaultProjection,
		"video_panel_auto_hide_secs": s.VideoPanelAutoHideSecs,
		"photo_panel_auto_hide_secs": s.PhotoPanelAutoHideSecs,
		"max_concurrent_sessions":    s.MaxConcurrentSessions,
		"resume_playback_enabled":    s.ResumePlaybackEnabled,
		"websocket_enabled":          s.WebsocketEnabled,
		"metrics_enabled":            s.MetricsEnabled,
		"log_level":                  s.LogLevel,
		"valid_projections":          models.ValidProjections,
		"valid_log_levels":           models.ValidLogLevels,
		"updated_at":                 s.UpdatedAt,
	}
}

func (a *API) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	settings, err := models.GetSystemSettings(a.db.WithContext(r.Context()))
	if err != nil {
		a.logger.Error().Err(err).Msg("settings load failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse(settings))
}

// settingsUpdateRequest carries partial updates. Nil pointers leave the
// stored value untouched.
type settingsUpdateRequest struct {
	DefaultProjection      *string `json:"default_projection"`
	VideoPanelAutoHideSecs *int    `json:"video_panel_auto_hide_secs"`
	PhotoPanelAutoHideSecs *int    `json:"photo_panel_auto_hide_secs"`
	MaxConcurrentSessions  *int    `json:"max_concurrent_sessions"`
	ResumePlaybackEnabled  *bool   `json:"resume_playback_enabled"`
	WebsocketEnabled       *bool   `json:"websocket_enabled"`
	MetricsEnabled         *bool   `json:"metrics_enabled"`
	LogLevel               *string `json:"log_level"`
}

func (a *API) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var req settingsUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	settings, err := models.GetSystemSettings(a.db.WithContext(r.Context()))
	if err != nil {
		a.logger.Error().Err(err).Msg("settings load failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	changed := map[string]any{}

	if req.DefaultProjection != nil {
		if !models.IsValidProjection(*req.DefaultProjection) {
			writeError(w, http.StatusBadRequest, "invalid_projection")
			return
		}
		settings.DefaultProjection = *req.DefaultProjection
		changed["default_projection"] = *req.DefaultProjection
	}
	if req.VideoPanelAutoHideSecs != nil {
		if *req.VideoPanelAutoHideSecs < 0 {
			writeError(w, http.StatusBadRequest, "invalid_auto_hide")
			return
		}
		settings.VideoPanelAutoHideSecs = *req.VideoPanelAutoHideSecs
		changed["video_panel_auto_hide_secs"] = *req.VideoPanelAutoHideSecs
	}
	if req.PhotoPanelAutoHideSecs != nil {
		if *req.PhotoPanelAutoHideSecs < 0 {
			writeError(w, http.StatusBadRequest, "invalid_auto_hide")
			return
		}
		settings.PhotoPanelAutoHideSecs = *req.PhotoPanelAutoHideSecs
		changed["photo_panel_auto_hide_secs"] = *req.PhotoPanelAutoHideSecs
	}
	if req.MaxConcurrentSessions != nil {
		if *req.MaxConcurrentSessions < 1 {
			writeError(w, http.StatusBadRequest, "invalid_session_limit")
			return
		}
		settings.MaxConcurrentSessions = *req.MaxConcurrentSessions
		changed["max_concurrent_sessions"] = *req.MaxConcurrentSessions
	}
	if req.ResumePlaybackEnabled != nil {
		settings.ResumePlaybackEnabled = *req.ResumePlaybackEnabled
		changed["resume_playback_enabled"] = *req.ResumePlaybackEnabled
	}
	if req.WebsocketEnabled != nil {
		settings.WebsocketEnabled = *req.WebsocketEnabled
		changed["websocket_enabled"] = *req.WebsocketEnabled
	}
	if req.MetricsEnabled != nil {
		settings.MetricsEnabled = *req.MetricsEnabled
		changed["metrics_enabled"] = *req.MetricsEnabled
	}
	if req.LogLevel != nil {
		if !models.IsValidLogLevel(*req.LogLevel) {
			writeError(w, http.StatusBadRequest, "invalid_log_level")
			return
		}
		settings.LogLevel = *req.LogLevel
		changed["log_level"] = *req.LogLevel
	}

	if len(changed) == 0 {
		writeJSON(w, http.StatusOK, settingsResponse(settings))
		return
	}

	if err := a.db.WithContext(r.Context()).Save(settings).Error; err != nil {
		a.logger.Error().Err(err).Msg("settings save failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.publishAuditEvent(r, events.EventAuditSettingsUpdate, events.Payload{"changed": changed})

	writeJSON(w, http.StatusOK, settingsResponse(settings))
}

func (a *API) handleSystemLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log_buffer_unavailable")
		return
	}

	params := logbuffer.QueryParams{
		Level:      r.URL.Query().Get("level"),
		Component:  r.URL.Query().Get("component"),
		SessionID:  r.URL.Query().Get("session_id"),
		Search:     r.URL.Query().Get("search"),
		Descending: true, // Default to newest first
	}

	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			params.Since = t
		}
	}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			params.Limit = n
		}
	} else {
		params.Limit = 500 // Default limit
	}

	if order := r.URL.Query().Get("order"); order == "asc" {
		params.Descending = false
	}

	entries := a.logBuffer.Query(params)

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (a *API) handleLogComponents(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log_buffer_unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"components": a.logBuffer.GetComponents(),
	})
}

func (a *API) handleLogStats(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log_buffer_unavailable")
		return
	}

	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		writeJSON(w, http.StatusOK, a.logBuffer.StatsForSession(sessionID))
		return
	}
	writeJSON(w, http.StatusOK, a.logBuffer.Stats())
}

func (a *API) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log_buffer_unavailable")
		return
	}

	a.logBuffer.Clear()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Log buffer cleared",
	})
}

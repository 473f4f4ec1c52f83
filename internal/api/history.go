/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"

	"github.com/friendsincode/grimnir_vision/internal/auth"
	"github.com/friendsincode/grimnir_vision/internal/cache"
	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/models"
)

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	if n > 200 {
		n = 200
	}
	return n
}

// handleHistoryRecent returns the caller's most recently watched streams,
// finished or not.
func (a *API) handleHistoryRecent(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	entries, err := a.history.Recent(r.Context(), claims.UserID, parseLimit(r, 20))
	if err != nil {
		a.logger.Error().Err(err).Msg("recent history query failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleHistoryContinue returns unfinished streams with a resumable
// position. The list is cached per user; saves and deletes invalidate it.
func (a *API) handleHistoryContinue(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit := parseLimit(r, 20)

	if a.cache != nil {
		if cached, ok := a.cache.GetRecentProgress(r.Context(), claims.UserID); ok {
			if len(cached) > limit {
				cached = cached[:limit]
			}
			writeJSON(w, http.StatusOK, map[string]any{"entries": cached})
			return
		}
	}

	entries, err := a.history.ContinueWatching(r.Context(), claims.UserID, limit)
	if err != nil {
		a.logger.Error().Err(err).Msg("continue-watching query failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	cached := make([]cache.CachedProgress, 0, len(entries))
	for _, p := range entries {
		cached = append(cached, cache.CachedProgress{
			StreamURL:       p.StreamURL,
			Title:           p.Title,
			PositionSeconds: p.PositionSeconds,
			DurationSeconds: p.DurationSeconds,
			Finished:        p.Finished,
			WatchedAt:       p.WatchedAt,
		})
	}
	if a.cache != nil {
		if err := a.cache.SetRecentProgress(r.Context(), claims.UserID, cached); err != nil {
			a.logger.Debug().Err(err).Msg("progress cache write failed")
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": cached})
}

// handleHistoryResume returns the saved resume position for one stream.
// Positions inside the tail window or at zero report resumable=false.
func (a *API) handleHistoryResume(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	streamURL := r.URL.Query().Get("url")
	if streamURL == "" {
		writeError(w, http.StatusBadRequest, "url_required")
		return
	}
	position, resumable, err := a.history.Resume(r.Context(), claims.UserID, streamURL)
	if err != nil {
		a.logger.Error().Err(err).Msg("resume position query failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stream_url":       streamURL,
		"position_seconds": position,
		"resumable":        resumable,
	})
}

// handleHistorySessions returns the caller's past viewing sessions.
func (a *API) handleHistorySessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	records, err := a.history.RecentSessions(r.Context(), claims.UserID, parseLimit(r, 20))
	if err != nil {
		a.logger.Error().Err(err).Msg("session history query failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if records == nil {
		records = []models.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": records})
}

// handleHistoryDeleteProgress removes one saved resume position.
func (a *API) handleHistoryDeleteProgress(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	streamURL := r.URL.Query().Get("url")
	if streamURL == "" {
		writeError(w, http.StatusBadRequest, "url_required")
		return
	}
	if err := a.history.DeleteProgress(r.Context(), claims.UserID, streamURL); err != nil {
		a.logger.Error().Err(err).Msg("progress delete failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	a.bus.Publish(events.EventProgressUpdated, map[string]any{"user_id": claims.UserID})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/grimnir_vision/internal/auth"
	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/geometry"
	"github.com/friendsincode/grimnir_vision/internal/models"
	"github.com/friendsincode/grimnir_vision/internal/playback"
	"github.com/friendsincode/grimnir_vision/internal/session"
)

type sessionInfo struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"owner_id"`
	CreatedAt time.Time      `json:"created_at"`
	State     playback.State `json:"state"`
}

func describeSession(s *session.Session) sessionInfo {
	return sessionInfo{
		ID:        s.ID,
		OwnerID:   s.OwnerID,
		CreatedAt: s.CreatedAt,
		State:     s.Controller().Snapshot(),
	}
}

// resolveSession loads the session from the URL and enforces that the
// caller owns it or holds the admin role. It writes the error response
// itself and returns nil when the request must not proceed.
func (a *API) resolveSession(w http.ResponseWriter, r *http.Request) *session.Session {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id_required")
		return nil
	}

	sess, ok := a.sessions.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "session_not_found")
		return nil
	}

	if sess.OwnerID != claims.UserID && !claims.HasRole(string(models.RoleAdmin)) {
		writeError(w, http.StatusForbidden, "not_session_owner")
		return nil
	}
	return sess
}

// defaultProjection reads the configured default from system settings.
// Lookup failures fall back to the built-in half sphere.
func (a *API) defaultProjection(ctx context.Context) string {
	if a.db == nil {
		return ""
	}
	settings, err := models.GetSystemSettings(a.db.WithContext(ctx))
	if err != nil {
		return ""
	}
	return settings.DefaultProjection
}

func (a *API) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	all := a.sessions.List()
	infos := make([]sessionInfo, 0, len(all))
	for _, sess := range all {
		if sess.OwnerID != claims.UserID && !claims.HasRole(string(models.RoleAdmin)) {
			continue
		}
		infos = append(infos, describeSession(sess))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": infos,
		"count":    len(infos),
	})
}

func (a *API) handleSessionsCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sess, err := a.sessions.Create(r.Context(), claims.UserID)
	if errors.Is(err, session.ErrTooManySessions) {
		writeError(w, http.StatusTooManyRequests, "session_limit_reached")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("session create failed")
		writeError(w, http.StatusInternalServerError, "session_create_failed")
		return
	}

	if a.history != nil {
		rec := &models.SessionRecord{
			ID:        sess.ID,
			OwnerID:   sess.OwnerID,
			StartedAt: sess.CreatedAt,
		}
		if err := a.history.RecordSessionStart(r.Context(), rec); err != nil {
			a.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("session record write failed")
		}
	}

	a.publishAuditEvent(r, events.EventAuditSessionCreate, events.Payload{
		"session_id":    sess.ID,
		"resource_type": "session",
		"resource_id":   sess.ID,
	})

	writeJSON(w, http.StatusCreated, describeSession(sess))
}

func (a *API) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess := a.resolveSession(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, describeSession(sess))
}

func (a *API) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	sess := a.resolveSession(w, r)
	if sess == nil {
		return
	}

	if a.history != nil {
		if err := a.history.RecordSessionEnd(r.Context(), sess.ID); err != nil {
			a.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("session record close failed")
		}
	}

	if err := a.sessions.Close(sess.ID); err != nil {
		writeError(w, http.StatusNotFound, "session_not_found")
		return
	}

	a.publishAuditEvent(r, events.EventAuditSessionClose, events.Payload{
		"session_id":    sess.ID,
		"resource_type": "session",
		"resource_id":   sess.ID,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (a *API) handleSessionState(w http.ResponseWriter, r *http.Request) {
	sess := a.resolveSession(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, sess.Controller().Snapshot())
}

type openStreamRequest struct {
	URL              string  `json:"url"`
	MediaKind        string  `json:"media_kind"`
	Title            string  `json:"title"`
	Details          string  `json:"details"`
	IsSecurityScoped bool    `json:"is_security_scoped"`
	Projection       string  `json:"projection"`
	HorizontalFovDeg float32 `json:"horizontal_fov_deg"`
	AspectRatio      float32 `json:"aspect_ratio"`
	// ProfileID applies a saved projection profile. An explicit
	// horizontal_fov_deg forces the FOV; the profile's value is the
	// fallback when nothing forces one.
	ProfileID string `json:"profile_id"`
}

func (a *API) handleStreamOpen(w http.ResponseWriter, r *http.Request) {
	sess := a.resolveSession(w, r)
	if sess == nil {
		return
	}

	var req openStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url_required")
		return
	}

	var fallbackFov float32
	if req.ProfileID != "" {
		profile, err := a.loadProfile(r.Context(), req.ProfileID)
		if err != nil {
			writeError(w, http.StatusNotFound, "profile_not_found")
			return
		}
		if req.Projection == "" {
			req.Projection = profile.Projection
		}
		fallbackFov = profile.HorizontalFovDeg
		if req.AspectRatio == 0 {
			req.AspectRatio = profile.AspectRatio
		}
	}

	if req.Projection == "" {
		req.Projection = a.defaultProjection(r.Context())
	}

	kind := playback.MediaKind(req.MediaKind)
	if kind == "" {
		kind = playback.MediaVideo
	}
	if kind != playback.MediaVideo && kind != playback.MediaPhoto {
		writeError(w, http.StatusBadRequest, "invalid_media_kind")
		return
	}

	desc := playback.StreamDescriptor{
		URL:              req.URL,
		MediaKind:        kind,
		Title:            req.Title,
		Details:          req.Details,
		IsSecurityScoped: req.IsSecurityScoped,
		Projection:       req.Projection,
		FallbackFovDeg:   fallbackFov,
		AspectRatio:      req.AspectRatio,
	}
	if req.HorizontalFovDeg != 0 {
		fov := req.HorizontalFovDeg
		desc.ForceFovDeg = &fov
	}

	if err := a.sessions.OpenStream(r.Context(), sess.ID, desc); err != nil {
		a.logger.Error().Err(err).Str("session_id", sess.ID).Str("url", desc.URL).Msg("stream open failed")
		writeError(w, http.StatusBadGateway, "stream_open_failed")
		return
	}

	if a.history != nil {
		err := a.history.UpdateSessionStream(r.Context(), sess.ID, desc.URL, desc.Title, string(desc.MediaKind), desc.Projection)
		if err != nil {
			a.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("session record stream update failed")
		}
	}

	writeJSON(w, http.StatusOK, sess.Controller().Snapshot())
}

// writeCommandError maps controller command failures onto HTTP codes.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, playback.ErrNoStream):
		writeError(w, http.StatusConflict, "no_stream_open")
	case errors.Is(err, playback.ErrUnknownVariant):
		writeError(w, http.StatusNotFound, "unknown_variant")
	default:
		writeError(w, http.StatusBadGateway, "engine_command_failed")
	}
}

func (a *API) handlePlay(w http.ResponseWriter, r *http.Request) {
	sess := a.resolveSession(w, r)
	if sess == nil {
		return
	}
	if err := sess.Controller().Play(r.Context()); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Controller().Snapshot())
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	sess := a.resolveSession(w, r)
	if sess == nil {
		return
	}
	if err := sess.Controller().Pause(r.Context()); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Controller().Snapshot())
}

func (a *API) handleTogglePlay(w http.ResponseWriter, r *http.Request) {
	sess := a.resolveSession(w, r)
	if sess == nil {
		return
	}
	if err := sess.Controller().TogglePlay(r.Context()); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Controller().Snapshot())
}

func (a *API) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	sess := a.resolveSession(w, r)
	if sess == nil {
		return
	}
	if err := sess.Controller().ClearStream(r.Context()); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Controller().Snapshot())
}

type seekRequest struct {
	DeltaSeconds float64 `json:"delta_seconds"`
}

func (a *API) handleSeek(w http.ResponseWriter, r *http.Request) {
	sess := a.resolveSession(w, r)
	if sess == nil {
		return
	}

	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.DeltaSeconds == 0 {
		writeError(w, http.StatusBadRequest, "delta_seconds_required")
		return
	}

	if err := sess.Controller().SeekRelative(r.Context(), req.DeltaSeconds); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Controller().Snapshot())
}

type panelRequest struct {
	Action string `json:"action"`
}

func (a *API) handlePanel(w http.ResponseWriter, r *http.Request) {
	sess := a.resolveSession(w, r)
	if sess == nil {
		return
	}

	var req panelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	controller := sess.Controller()
	switch req.Action {
	case "show":
		controller.ShowPanel()
	case "hide":
		controller.HidePanel()
	case "toggle":
		controller.TogglePanel()
	default:
		writeError(w, http.StatusBadRequest, "invalid_panel_action")
		return
	}
	writeJSON(w, http.StatusOK, controller.Snapshot())
}

func (a *API) handleScrubBegin(w http.ResponseWriter, r *http.Request) {
	sess := a.resolveSession(w, r)
	if sess == nil {
		return
	}
	if err := sess.Controller().BeginScrub(); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Controller().Snapshot())
}

type scrubMoveRequest struct {
	TargetSeconds float64 `json:"target_seconds"`
}

func (a *API) handleScrubMove(w http.ResponseWriter, r *http.Request) {
	sess := a.resolveSession(w, r)
	if sess == nil {
		return
	}

	var req scrubMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	sess.Controller().SetScrubTime(req.TargetSeconds)
	writeJSON(w, http.StatusOK, sess.Controller().Snapshot())
}

func (a *API) handleScrubEnd(w http.ResponseWriter, r *http.Request) {
	sess := a.resolveSession(w, r)
	if sess == nil {
		return
	}
	if err := sess.Controller().EndScrub(r.Context()); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Controller().Snapshot())
}

type variantSelectRequest struct {
	Label string `json:"label"`
}

func (a *API) handleVariantSelect(w http.ResponseWriter, r *http.Request) {
	sess := a.resolveSession(w, r)
	if sess == nil {
		return
	}

	var req variantSelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Label == "" {
		writeError(w, http.StatusBadRequest, "label_required")
		return
	}

	if err := sess.Controller().SelectVariant(r.Context(), req.Label); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Controller().Snapshot())
}

func (a *API) handleSessionVariants(w http.ResponseWriter, r *http.Request) {
	sess := a.resolveSession(w, r)
	if sess == nil {
		return
	}

	st := sess.Controller().Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"variants": st.Variants,
		"active":   st.ActiveVariant,
	})
}

// handleSessionMesh serves the retained wire-form mesh: gzip-compressed
// little-endian vertex data, ready to hand to a rendering client.
func (a *API) handleSessionMesh(w http.ResponseWriter, r *http.Request) {
	sess := a.resolveSession(w, r)
	if sess == nil {
		return
	}

	encoded, _, ok := sess.MeshStore().Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no_mesh")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(encoded)
}

type meshInfoResponse struct {
	Spec      geometry.ProjectionSurfaceSpec `json:"spec"`
	Transform geometry.Transform             `json:"transform"`
	Stats     geometry.MeshStats             `json:"stats"`
	SizeBytes int                            `json:"size_bytes"`
}

func (a *API) handleSessionMeshInfo(w http.ResponseWriter, r *http.Request) {
	sess := a.resolveSession(w, r)
	if sess == nil {
		return
	}

	encoded, transform, ok := sess.MeshStore().Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no_mesh")
		return
	}

	writeJSON(w, http.StatusOK, meshInfoResponse{
		Spec:      sess.Coordinator().CurrentSpec(),
		Transform: transform,
		Stats:     sess.MeshStore().Stats(),
		SizeBytes: len(encoded),
	})
}

// handleVariantsProbe fetches and parses a manifest without touching any
// session.
func (a *API) handleVariantsProbe(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "url_required")
		return
	}
	if a.fetcher == nil {
		writeError(w, http.StatusServiceUnavailable, "manifest_fetcher_unavailable")
		return
	}

	variants, err := a.fetcher.FetchVariants(r.Context(), url)
	if err != nil {
		writeError(w, http.StatusBadGateway, "manifest_fetch_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"url":      url,
		"variants": variants,
	})
}

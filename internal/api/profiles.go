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

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_vision/internal/auth"
	"github.com/friendsincode/grimnir_vision/internal/cache"
	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/models"
)

type profileRequest struct {
	Name               string  `json:"name"`
	Projection         string  `json:"projection"`
	HorizontalFovDeg   float32 `json:"horizontal_fov_deg"`
	AspectRatio        float32 `json:"aspect_ratio"`
	RadiusMeters       float32 `json:"radius_meters"`
	SliceCount         int     `json:"slice_count"`
	VerticalSliceCount int     `json:"vertical_slice_count"`
	Shared             bool    `json:"shared"`
}

func (req *profileRequest) validate() string {
	if req.Name == "" {
		return "name_required"
	}
	if !models.IsValidProjection(req.Projection) {
		return "invalid_projection"
	}
	if req.Projection == "fov" && (req.HorizontalFovDeg <= 0 || req.HorizontalFovDeg > 360) {
		return "invalid_horizontal_fov"
	}
	return ""
}

// loadProfile resolves a profile by ID, consulting the cache first.
func (a *API) loadProfile(ctx context.Context, profileID string) (*models.ProjectionProfile, error) {
	if a.cache != nil {
		if cached, ok := a.cache.GetProfile(ctx, profileID); ok {
			return &models.ProjectionProfile{
				ID:                 cached.ID,
				OwnerID:            cached.OwnerID,
				Name:               cached.Name,
				Projection:         cached.Projection,
				HorizontalFovDeg:   cached.HorizontalFovDeg,
				AspectRatio:        cached.AspectRatio,
				RadiusMeters:       cached.RadiusMeters,
				SliceCount:         cached.SliceCount,
				VerticalSliceCount: cached.VerticalSliceCount,
				Shared:             cached.Shared,
			}, nil
		}
	}

	var profile models.ProjectionProfile
	if err := a.db.WithContext(ctx).First(&profile, "id = ?", profileID).Error; err != nil {
		return nil, err
	}

	if a.cache != nil {
		_ = a.cache.SetProfile(ctx, cachedFromProfile(&profile))
	}
	return &profile, nil
}

func cachedFromProfile(p *models.ProjectionProfile) *cache.CachedProfile {
	return &cache.CachedProfile{
		ID:                 p.ID,
		OwnerID:            p.OwnerID,
		Name:               p.Name,
		Projection:         p.Projection,
		HorizontalFovDeg:   p.HorizontalFovDeg,
		AspectRatio:        p.AspectRatio,
		RadiusMeters:       p.RadiusMeters,
		SliceCount:         p.SliceCount,
		VerticalSliceCount: p.VerticalSliceCount,
		Shared:             p.Shared,
	}
}

func (a *API) handleProfilesList(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var profiles []models.ProjectionProfile
	err := a.db.WithContext(r.Context()).
		Where("owner_id = ? OR shared = ?", claims.UserID, true).
		Order("name ASC").
		Find(&profiles).Error
	if err != nil {
		a.logger.Error().Err(err).Msg("list profiles failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"profiles": profiles})
}

func (a *API) handleProfilesCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if code := req.validate(); code != "" {
		writeError(w, http.StatusBadRequest, code)
		return
	}

	profile := models.ProjectionProfile{
		ID:                 uuid.NewString(),
		OwnerID:            claims.UserID,
		Name:               req.Name,
		Projection:         req.Projection,
		HorizontalFovDeg:   req.HorizontalFovDeg,
		AspectRatio:        req.AspectRatio,
		RadiusMeters:       req.RadiusMeters,
		SliceCount:         req.SliceCount,
		VerticalSliceCount: req.VerticalSliceCount,
		Shared:             req.Shared,
	}

	if err := a.db.WithContext(r.Context()).Create(&profile).Error; err != nil {
		a.logger.Error().Err(err).Msg("create profile failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	// Remote nodes drop their cached copies on this event.
	a.bus.Publish(events.EventProfileCreated, events.Payload{
		"profile_id": profile.ID,
		"owner_id":   profile.OwnerID,
	})
	a.publishAuditEvent(r, events.EventAuditProfileCreate, events.Payload{
		"resource_type": "profile",
		"resource_id":   profile.ID,
		"name":          profile.Name,
	})

	writeJSON(w, http.StatusCreated, profile)
}

func (a *API) handleProfileGet(w http.ResponseWriter, r *http.Request) {
	profileID := chi.URLParam(r, "profileID")
	if profileID == "" {
		writeError(w, http.StatusBadRequest, "profile_id_required")
		return
	}

	profile, err := a.loadProfile(r.Context(), profileID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if profile.OwnerID != claims.UserID && !profile.Shared && !claims.HasRole(string(models.RoleAdmin)) {
		writeError(w, http.StatusForbidden, "not_profile_owner")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// fetchOwnedProfile loads a profile and checks write access: the owner or
// an admin.
func (a *API) fetchOwnedProfile(w http.ResponseWriter, r *http.Request) *models.ProjectionProfile {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}

	profileID := chi.URLParam(r, "profileID")
	if profileID == "" {
		writeError(w, http.StatusBadRequest, "profile_id_required")
		return nil
	}

	var profile models.ProjectionProfile
	err := a.db.WithContext(r.Context()).First(&profile, "id = ?", profileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return nil
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return nil
	}

	if profile.OwnerID != claims.UserID && !claims.HasRole(string(models.RoleAdmin)) {
		writeError(w, http.StatusForbidden, "not_profile_owner")
		return nil
	}
	return &profile
}

func (a *API) handleProfileUpdate(w http.ResponseWriter, r *http.Request) {
	profile := a.fetchOwnedProfile(w, r)
	if profile == nil {
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if code := req.validate(); code != "" {
		writeError(w, http.StatusBadRequest, code)
		return
	}

	updates := map[string]any{
		"name":                 req.Name,
		"projection":           req.Projection,
		"horizontal_fov_deg":   req.HorizontalFovDeg,
		"aspect_ratio":         req.AspectRatio,
		"radius_meters":        req.RadiusMeters,
		"slice_count":          req.SliceCount,
		"vertical_slice_count": req.VerticalSliceCount,
		"shared":               req.Shared,
	}

	if err := a.db.WithContext(r.Context()).Model(profile).Updates(updates).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}

	if a.cache != nil {
		_ = a.cache.InvalidateProfile(r.Context(), profile.ID, profile.OwnerID)
	}
	a.bus.Publish(events.EventProfileUpdated, events.Payload{
		"profile_id": profile.ID,
		"owner_id":   profile.OwnerID,
	})
	a.publishAuditEvent(r, events.EventAuditProfileUpdate, events.Payload{
		"resource_type": "profile",
		"resource_id":   profile.ID,
		"name":          req.Name,
	})

	var updated models.ProjectionProfile
	if err := a.db.WithContext(r.Context()).First(&updated, "id = ?", profile.ID).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleProfileDelete(w http.ResponseWriter, r *http.Request) {
	profile := a.fetchOwnedProfile(w, r)
	if profile == nil {
		return
	}

	if err := a.db.WithContext(r.Context()).Delete(&models.ProjectionProfile{}, "id = ?", profile.ID).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "delete_failed")
		return
	}

	if a.cache != nil {
		_ = a.cache.InvalidateProfile(r.Context(), profile.ID, profile.OwnerID)
	}
	a.bus.Publish(events.EventProfileDeleted, events.Payload{
		"profile_id": profile.ID,
		"owner_id":   profile.OwnerID,
	})
	a.publishAuditEvent(r, events.EventAuditProfileDelete, events.Payload{
		"resource_type": "profile",
		"resource_id":   profile.ID,
		"name":          profile.Name,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

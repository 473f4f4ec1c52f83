/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/grimnir_vision/internal/auth"
	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/models"
)

// handleDeviceKeysList returns the caller's device keys. The plaintext
// key is never stored, so only prefixes come back.
func (a *API) handleDeviceKeysList(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	keys, err := a.deviceKeys.ListForOwner(r.Context(), claims.UserID)
	if err != nil {
		a.logger.Error().Err(err).Msg("device key list failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if keys == nil {
		keys = []models.DeviceKey{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys, "count": len(keys)})
}

type deviceKeyCreateRequest struct {
	Name       string          `json:"name"`
	Role       models.RoleName `json:"role"`
	ExpiresInS int64           `json:"expires_in_seconds"`
}

const (
	defaultKeyTTL = 365 * 24 * time.Hour
	maxKeyTTL     = 5 * 365 * 24 * time.Hour
)

func (a *API) handleDeviceKeysCreate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req deviceKeyCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	if req.Role == "" {
		req.Role = models.RoleViewer
	}
	if !validRole(req.Role) {
		writeError(w, http.StatusBadRequest, "invalid_role")
		return
	}

	ttl := defaultKeyTTL
	if req.ExpiresInS > 0 {
		ttl = time.Duration(req.ExpiresInS) * time.Second
		if ttl > maxKeyTTL {
			ttl = maxKeyTTL
		}
	}

	plaintext, rec, err := a.deviceKeys.Generate(r.Context(), claims.UserID, req.Name, req.Role, time.Now().Add(ttl))
	if err != nil {
		a.logger.Error().Err(err).Msg("device key generate failed")
		writeError(w, http.StatusInternalServerError, "keygen_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditDeviceKeyCreate, events.Payload{
		"resource_type": "device_key",
		"resource_id":   rec.ID,
		"name":          rec.Name,
		"role":          string(rec.Role),
	})

	// The full key is shown exactly once.
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":        plaintext,
		"id":         rec.ID,
		"name":       rec.Name,
		"role":       rec.Role,
		"key_prefix": rec.KeyPrefix,
		"expires_at": rec.ExpiresAt,
	})
}

func (a *API) handleDeviceKeyRevoke(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")
	if keyID == "" {
		writeError(w, http.StatusBadRequest, "key_id_required")
		return
	}

	if err := a.deviceKeys.Revoke(r.Context(), keyID); err != nil {
		a.logger.Error().Err(err).Str("key_id", keyID).Msg("device key revoke failed")
		writeError(w, http.StatusInternalServerError, "revoke_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditDeviceKeyRevoke, events.Payload{
		"resource_type": "device_key",
		"resource_id":   keyID,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

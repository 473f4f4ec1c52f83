/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_vision/internal/auth"
	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/models"
)

func validRole(role models.RoleName) bool {
	switch role {
	case models.RoleAdmin, models.RoleOperator, models.RoleViewer:
		return true
	}
	return false
}

func (a *API) handleUsersList(w http.ResponseWriter, r *http.Request) {
	var users []models.User
	if err := a.db.WithContext(r.Context()).Order("email ASC").Find(&users).Error; err != nil {
		a.logger.Error().Err(err).Msg("user list failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}

type userCreateRequest struct {
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Role     models.RoleName `json:"role"`
}

func (a *API) handleUsersCreate(w http.ResponseWriter, r *http.Request) {
	var req userCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email_and_password_required")
		return
	}
	if req.Role == "" {
		req.Role = models.RoleViewer
	}
	if !validRole(req.Role) {
		writeError(w, http.StatusBadRequest, "invalid_role")
		return
	}

	var existing models.User
	err := a.db.WithContext(r.Context()).First(&existing, "email = ?", req.Email).Error
	if err == nil {
		writeError(w, http.StatusConflict, "email_in_use")
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		a.logger.Error().Err(err).Msg("password hash failed")
		writeError(w, http.StatusInternalServerError, "hash_error")
		return
	}

	user := models.User{
		ID:       uuid.NewString(),
		Email:    req.Email,
		Password: hash,
		Role:     req.Role,
	}
	if err := a.db.WithContext(r.Context()).Create(&user).Error; err != nil {
		a.logger.Error().Err(err).Msg("user create failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.publishAuditEvent(r, events.EventAuditUserCreate, events.Payload{
		"resource_type": "user",
		"resource_id":   user.ID,
		"email":         user.Email,
		"role":          string(user.Role),
	})

	writeJSON(w, http.StatusCreated, user)
}

// userUpdateRequest carries partial updates. Nil pointers leave the
// stored value untouched.
type userUpdateRequest struct {
	Email     *string          `json:"email"`
	Password  *string          `json:"password"`
	Role      *models.RoleName `json:"role"`
	Suspended *bool            `json:"suspended"`
}

func (a *API) handleUserUpdate(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	userID := chi.URLParam(r, "userID")
	var user models.User
	err := a.db.WithContext(r.Context()).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var req userUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	// Admins cannot lock themselves out via role change or suspension.
	if user.ID == claims.UserID && (req.Role != nil || req.Suspended != nil) {
		writeError(w, http.StatusBadRequest, "cannot_modify_self")
		return
	}

	roleChanged := false
	suspendChanged := false

	if req.Email != nil && *req.Email != "" {
		user.Email = *req.Email
	}
	if req.Role != nil {
		if !validRole(*req.Role) {
			writeError(w, http.StatusBadRequest, "invalid_role")
			return
		}
		if user.Role != *req.Role {
			user.Role = *req.Role
			roleChanged = true
		}
	}
	if req.Suspended != nil && user.Suspended != *req.Suspended {
		user.Suspended = *req.Suspended
		suspendChanged = true
	}
	if req.Password != nil && *req.Password != "" {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			a.logger.Error().Err(err).Msg("password hash failed")
			writeError(w, http.StatusInternalServerError, "hash_error")
			return
		}
		user.Password = hash
	}

	if err := a.db.WithContext(r.Context()).Save(&user).Error; err != nil {
		a.logger.Error().Err(err).Msg("user update failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if a.cache != nil {
		if err := a.cache.InvalidateUser(r.Context(), user.ID); err != nil {
			a.logger.Debug().Err(err).Msg("user cache invalidate failed")
		}
	}
	a.bus.Publish(events.EventUserUpdated, events.Payload{"user_id": user.ID})

	if roleChanged {
		a.publishAuditEvent(r, events.EventAuditUserRoleChange, events.Payload{
			"resource_type": "user",
			"resource_id":   user.ID,
			"new_role":      string(user.Role),
		})
	}
	if suspendChanged {
		a.publishAuditEvent(r, events.EventAuditUserSuspend, events.Payload{
			"resource_type": "user",
			"resource_id":   user.ID,
			"suspended":     user.Suspended,
		})
	}

	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUserDelete(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	userID := chi.URLParam(r, "userID")
	var user models.User
	err := a.db.WithContext(r.Context()).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if user.ID == claims.UserID {
		writeError(w, http.StatusBadRequest, "cannot_delete_self")
		return
	}

	if err := a.db.WithContext(r.Context()).Delete(&user).Error; err != nil {
		a.logger.Error().Err(err).Msg("user delete failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if a.cache != nil {
		if err := a.cache.InvalidateUserScope(r.Context(), user.ID); err != nil {
			a.logger.Debug().Err(err).Msg("user cache invalidate failed")
		}
	}
	a.bus.Publish(events.EventUserDeleted, events.Payload{"user_id": user.ID})

	a.publishAuditEvent(r, events.EventAuditUserDelete, events.Payload{
		"resource_type": "user",
		"resource_id":   user.ID,
		"email":         user.Email,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_vision/internal/auth"
	"github.com/friendsincode/grimnir_vision/internal/eventbus"
	"github.com/friendsincode/grimnir_vision/internal/media"
	"github.com/friendsincode/grimnir_vision/internal/migration"
)

// MigrationHandler serves the import job endpoints under /migrations.
type MigrationHandler struct {
	service *migration.Service
	logger  zerolog.Logger
}

// NewMigrationHandler wires the job service with every known importer.
func NewMigrationHandler(db *gorm.DB, mediaService *media.Service, bus eventbus.Relay, logger zerolog.Logger) *MigrationHandler {
	svc := migration.NewService(db, bus, logger)
	svc.RegisterImporter(migration.SourceTypeViewra, migration.NewViewraImporter(db, mediaService, logger))
	svc.RegisterImporter(migration.SourceTypeLegacySQLite, migration.NewLegacySQLiteImporter(db, mediaService, logger))

	return &MigrationHandler{
		service: svc,
		logger:  logger.With().Str("handler", "migration").Logger(),
	}
}

// Service exposes the job service so the server can recover stale jobs
// on startup.
func (h *MigrationHandler) Service() *migration.Service {
	return h.service
}

// RegisterRoutes mounts the import endpoints on r.
func (h *MigrationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/migrations", func(r chi.Router) {
		r.Post("/", h.handleCreateJob)
		r.Get("/", h.handleListJobs)
		r.Get("/{id}", h.handleGetJob)
		r.Delete("/{id}", h.handleDeleteJob)
		r.Post("/{id}/start", h.handleStartJob)
		r.Post("/{id}/cancel", h.handleCancelJob)
	})
}

// createJobRequest names the source system and its import options.
type createJobRequest struct {
	SourceType migration.SourceType `json:"source_type"`
	Options    migration.Options    `json:"options"`
}

// jobEnvelope wraps a single job for create and get responses.
type jobEnvelope struct {
	Job *migration.Job `json:"job"`
}

func (h *MigrationHandler) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	// Imports land on the caller unless a target user is named.
	if req.Options.ImportingUserID == "" {
		if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
			req.Options.ImportingUserID = claims.UserID
		}
	}

	job, err := h.service.CreateJob(r.Context(), req.SourceType, req.Options)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info().Str("job_id", job.ID).Str("source", string(job.SourceType)).Msg("import job created")
	writeJSON(w, http.StatusCreated, jobEnvelope{Job: job})
}

func (h *MigrationHandler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed_to_list_jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (h *MigrationHandler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job_not_found")
		return
	}
	writeJSON(w, http.StatusOK, jobEnvelope{Job: job})
}

func (h *MigrationHandler) handleStartJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.StartJob(r.Context(), id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Info().Str("job_id", id).Msg("import job started")
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (h *MigrationHandler) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CancelJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *MigrationHandler) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

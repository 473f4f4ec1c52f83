/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/friendsincode/grimnir_vision/internal/audit"
	"github.com/friendsincode/grimnir_vision/internal/models"
)

// auditEntry is the wire form of one audit trail row.
type auditEntry struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	UserID       *string        `json:"user_id,omitempty"`
	UserEmail    string         `json:"user_email,omitempty"`
	SessionID    *string        `json:"session_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
}

// handleAuditList serves the admin audit trail, newest first.
func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	filters := auditFiltersFromQuery(r.URL.Query())

	logs, total, err := a.auditSvc.Query(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to query audit logs")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}

	entries := make([]auditEntry, 0, len(logs))
	for _, row := range logs {
		entries = append(entries, auditEntry{
			ID:           row.ID,
			Timestamp:    row.Timestamp,
			UserID:       row.UserID,
			UserEmail:    row.UserEmail,
			SessionID:    row.SessionID,
			Action:       string(row.Action),
			ResourceType: row.ResourceType,
			ResourceID:   row.ResourceID,
			Details:      row.Details,
			IPAddress:    row.IPAddress,
			UserAgent:    row.UserAgent,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"audit_logs": entries,
		"total":      total,
		"limit":      filters.Limit,
		"offset":     filters.Offset,
	})
}

// auditFiltersFromQuery reads the optional filter params. Malformed
// values fall back to the defaults instead of failing the request.
func auditFiltersFromQuery(q url.Values) audit.QueryFilters {
	filters := audit.QueryFilters{Limit: 100}

	if v := q.Get("user_id"); v != "" {
		filters.UserID = &v
	}
	if v := q.Get("session_id"); v != "" {
		filters.SessionID = &v
	}
	if v := q.Get("action"); v != "" {
		action := models.AuditAction(v)
		filters.Action = &action
	}
	filters.StartTime = parseTimeParam(q.Get("start_time"))
	filters.EndTime = parseTimeParam(q.Get("end_time"))

	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 && n <= 1000 {
		filters.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		filters.Offset = n
	}

	return filters
}

func parseTimeParam(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audit persists an append-only trail of sensitive operations.
// Entries arrive over the event bus so callers never block on the write.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/models"
)

// actionFor maps audit event types to the recorded action.
var actionFor = map[events.EventType]models.AuditAction{
	events.EventAuditSessionCreate:   models.AuditActionSessionCreate,
	events.EventAuditSessionClose:    models.AuditActionSessionClose,
	events.EventAuditProfileCreate:   models.AuditActionProfileCreate,
	events.EventAuditProfileUpdate:   models.AuditActionProfileUpdate,
	events.EventAuditProfileDelete:   models.AuditActionProfileDelete,
	events.EventAuditUserCreate:      models.AuditActionUserCreate,
	events.EventAuditUserRoleChange:  models.AuditActionUserRoleChange,
	events.EventAuditUserSuspend:     models.AuditActionUserSuspend,
	events.EventAuditUserDelete:      models.AuditActionUserDelete,
	events.EventAuditDeviceKeyCreate: models.AuditActionDeviceKeyCreate,
	events.EventAuditDeviceKeyRevoke: models.AuditActionDeviceKeyRevoke,
	events.EventAuditSettingsUpdate:  models.AuditActionSettingsUpdate,
	events.EventAuditImportRun:       models.AuditActionImportRun,
}

// Service subscribes to audit events and stores them as audit log rows.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

type taggedPayload struct {
	action  models.AuditAction
	payload events.Payload
}

// Start consumes audit events until ctx is cancelled. Run it on its own
// goroutine.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("audit service starting")

	// Fan every audit subscription into one channel so a single writer
	// owns the database handle.
	merged := make(chan taggedPayload, 64)
	done := make(chan struct{})

	for eventType, action := range actionFor {
		sub := s.bus.Subscribe(eventType)
		eventType, action := eventType, action
		go func() {
			defer s.bus.Unsubscribe(eventType, sub)
			for {
				select {
				case <-done:
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					select {
					case merged <- taggedPayload{action: action, payload: payload}:
					case <-done:
						return
					}
				}
			}
		}()
	}

	s.logger.Info().Msg("audit service started")

	for {
		select {
		case <-ctx.Done():
			close(done)
			s.logger.Info().Msg("audit service stopping")
			return
		case tagged := <-merged:
			s.logAuditEntry(ctx, tagged.action, tagged.payload)
		}
	}
}

// logAuditEntry creates an audit log entry from an event payload.
func (s *Service) logAuditEntry(ctx context.Context, action models.AuditAction, payload events.Payload) {
	entry := &models.AuditLog{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Action:    action,
		Details:   make(map[string]any),
		CreatedAt: time.Now(),
	}

	if userID, ok := payload["user_id"].(string); ok && userID != "" {
		entry.UserID = &userID
	}
	if userEmail, ok := payload["user_email"].(string); ok {
		entry.UserEmail = userEmail
	}
	if sessionID, ok := payload["session_id"].(string); ok && sessionID != "" {
		entry.SessionID = &sessionID
	}
	if resourceType, ok := payload["resource_type"].(string); ok {
		entry.ResourceType = resourceType
	}
	if resourceID, ok := payload["resource_id"].(string); ok {
		entry.ResourceID = resourceID
	}
	if ipAddress, ok := payload["ip_address"].(string); ok {
		entry.IPAddress = ipAddress
	}
	if userAgent, ok := payload["user_agent"].(string); ok {
		entry.UserAgent = userAgent
	}

	for k, v := range payload {
		switch k {
		case "user_id", "user_email", "session_id", "resource_type", "resource_id", "ip_address", "user_agent":
			// Already extracted above.
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Msg("failed to log audit entry")
	}
}

// Log records an audit entry directly (for non-event-bus actions).
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")

	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	UserID    *string
	SessionID *string
	Action    *models.AuditAction
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Query retrieves audit logs with filters, newest first. The second
// return value is the unpaginated match count.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.SessionID != nil {
		query = query.Where("session_id = ?", *filters.SessionID)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(100)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction defines the type of audited action.
type AuditAction string

// Audit action constants for all sensitive operations.
const (
	AuditActionUserCreate      AuditAction = "user.create"
	AuditActionUserRoleChange  AuditAction = "user.role_change"
	AuditActionUserSuspend     AuditAction = "user.suspend"
	AuditActionUserDelete      AuditAction = "user.delete"
	AuditActionDeviceKeyCreate AuditAction = "devicekey.create"
	AuditActionDeviceKeyRevoke AuditAction = "devicekey.revoke"
	AuditActionSessionCreate   AuditAction = "session.create"
	AuditActionSessionClose    AuditAction = "session.close"
	AuditActionProfileCreate   AuditAction = "profile.create"
	AuditActionProfileUpdate   AuditAction = "profile.update"
	AuditActionProfileDelete   AuditAction = "profile.delete"
	AuditActionSettingsUpdate  AuditAction = "settings.update"
	AuditActionImportRun       AuditAction = "import.run"
)

// AuditLog records sensitive operations for security and compliance.
type AuditLog struct {
	ID           string         `gorm:"type:uuid;primaryKey"`
	Timestamp    time.Time      `gorm:"index:idx_audit_timestamp;not null"`
	UserID       *string        `gorm:"type:uuid;index:idx_audit_user"`    // NULL for system actions
	UserEmail    string         `gorm:"type:varchar(255)"`                 // Denormalized for readability
	SessionID    *string        `gorm:"type:uuid;index:idx_audit_session"` // NULL if not session-scoped
	Action       AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null"`
	ResourceType string         `gorm:"type:varchar(64)"`           // "user", "devicekey", "profile", etc.
	ResourceID   string         `gorm:"type:uuid"`                  // ID of the affected resource
	Details      map[string]any `gorm:"type:jsonb;serializer:json"` // Action-specific details
	IPAddress    string         `gorm:"type:varchar(45)"`           // IPv4 or IPv6
	UserAgent    string         `gorm:"type:varchar(512)"`
	CreatedAt    time.Time
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}

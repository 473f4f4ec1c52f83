/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package migration

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the current state of an import job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// SourceType represents the type of system being imported from.
type SourceType string

const (
	// SourceTypeViewra imports accounts and watch history from a Viewra
	// media server's PostgreSQL database.
	SourceTypeViewra SourceType = "viewra"

	// SourceTypeLegacySQLite imports projection profiles and watch
	// history from the single-user desktop player's SQLite file.
	SourceTypeLegacySQLite SourceType = "legacy_sqlite"
)

// Job represents an import job.
type Job struct {
	ID         string     `json:"id" gorm:"primaryKey"`
	SourceType SourceType `json:"source_type" gorm:"type:varchar(50);not null"`
	Status     JobStatus  `json:"status" gorm:"type:varchar(50);not null;default:'pending'"`
	DryRun     bool       `json:"dry_run" gorm:"not null;default:false"`
	Options    Options    `json:"options" gorm:"type:jsonb"`
	Progress   Progress   `json:"progress" gorm:"type:jsonb"`
	Result     *Result    `json:"result,omitempty" gorm:"type:jsonb"`
	Error      string     `json:"error,omitempty" gorm:"type:text"`

	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Options contains import-specific configuration.
type Options struct {
	// Filled by the migration service when creating a job.
	JobID string `json:"job_id,omitempty"`

	// Common options
	DryRun       bool `json:"dry_run"`
	SkipUsers    bool `json:"skip_users"`
	SkipProfiles bool `json:"skip_profiles"`
	SkipProgress bool `json:"skip_progress"`

	// Viewra options (direct DB access)
	ViewraDSN string `json:"viewra_dsn,omitempty"`

	// Legacy SQLite options
	SQLitePath string `json:"sqlite_path,omitempty"`

	// Imported accounts receive this role unless the source carries one.
	DefaultRole string `json:"default_role,omitempty"`

	// User performing the import. Sources without their own accounts
	// attach imported profiles and history to this user.
	ImportingUserID string `json:"importing_user_id,omitempty"`

	// Stream URLs from the source are rewritten onto this prefix when
	// set, so history survives a media root move.
	StreamURLPrefix string `json:"stream_url_prefix,omitempty"`
}

// Progress tracks import progress.
type Progress struct {
	Phase            string    `json:"phase"`
	TotalSteps       int       `json:"total_steps"`
	CompletedSteps   int       `json:"completed_steps"`
	CurrentStep      string    `json:"current_step"`
	UsersTotal       int       `json:"users_total"`
	UsersImported    int       `json:"users_imported"`
	ProfilesTotal    int       `json:"profiles_total"`
	ProfilesImported int       `json:"profiles_imported"`
	ProgressTotal    int       `json:"progress_total"`
	ProgressImported int       `json:"progress_imported"`
	Percentage       float64   `json:"percentage"`
	StartTime        time.Time `json:"start_time"`
}

// Result contains the final import results.
type Result struct {
	UsersCreated            int            `json:"users_created"`
	ProfilesCreated         int            `json:"profiles_created"`
	ProgressEntriesImported int            `json:"progress_entries_imported"`
	Warnings                []string       `json:"warnings,omitempty"`
	Skipped                 map[string]int `json:"skipped,omitempty"`
	DurationSeconds         float64        `json:"duration_seconds"`
}

// Importer defines the interface for import sources.
type Importer interface {
	// Validate checks if the import can proceed with the given options.
	Validate(ctx context.Context, options Options) error

	// Analyze counts what the import would create without making changes.
	Analyze(ctx context.Context, options Options) (*Result, error)

	// Import performs the actual import.
	Import(ctx context.Context, options Options, progressCallback ProgressCallback) (*Result, error)
}

// ProgressCallback is called during an import to report progress.
type ProgressCallback func(progress Progress)

// ValidationError represents a validation error with details.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Scanner/Valuer interfaces for GORM JSONB support

// Value implements driver.Valuer for Options.
func (o Options) Value() (driver.Value, error) {
	return json.Marshal(o)
}

// Scan implements sql.Scanner for Options.
func (o *Options) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal Options: expected []byte or string, got %T", value)
	}
	return json.Unmarshal(bytes, o)
}

// Value implements driver.Valuer for Progress.
func (p Progress) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for Progress.
func (p *Progress) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal Progress: expected []byte or string, got %T", value)
	}
	return json.Unmarshal(bytes, p)
}

// Value implements driver.Valuer for Result.
func (r Result) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for Result.
func (r *Result) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal Result: expected []byte or string, got %T", value)
	}
	return json.Unmarshal(bytes, r)
}

// String returns the string representation of SourceType.
func (s SourceType) String() string {
	return string(s)
}

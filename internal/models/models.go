package models

import (
	"time"
)

// RoleName enumerates the RBAC roles.
type RoleName string

const (
	RoleAdmin    RoleName = "admin"
	RoleOperator RoleName = "operator"
	RoleViewer   RoleName = "viewer"
)

// normalizeRole maps legacy role spellings from imported databases
// onto the canonical set. Unknown values pass through unchanged.
func normalizeRole(r RoleName) RoleName {
	switch r {
	case RoleName("superuser"), RoleName("root"):
		return RoleAdmin
	case RoleName("manager"), RoleName("editor"):
		return RoleOperator
	case RoleName("user"), RoleName("guest"):
		return RoleViewer
	}
	return r
}

// User represents an authenticated account.
type User struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null" json:"email"`
	Password  string    `gorm:"not null" json:"-"`
	Role      RoleName  `gorm:"type:varchar(16);default:'viewer'" json:"role"`
	Suspended bool      `gorm:"default:false" json:"suspended"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role,
// accepting legacy spellings.
func (u *User) IsAdmin() bool {
	return normalizeRole(u.Role) == RoleAdmin
}

// CanOperate reports whether the user may issue playback commands.
func (u *User) CanOperate() bool {
	switch normalizeRole(u.Role) {
	case RoleAdmin, RoleOperator:
		return true
	}
	return false
}

// ProjectionProfile is a saved surface configuration that can be
// applied to a playback session.
type ProjectionProfile struct {
	ID                 string    `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID            string    `gorm:"type:uuid;index" json:"owner_id"`
	Name               string    `gorm:"index;not null" json:"name"`
	Projection         string    `gorm:"type:varchar(32);not null" json:"projection"`
	HorizontalFovDeg   float32   `json:"horizontal_fov_deg"`
	AspectRatio        float32   `json:"aspect_ratio"`
	RadiusMeters       float32   `json:"radius_meters"`
	SliceCount         int       `json:"slice_count"`
	VerticalSliceCount int       `json:"vertical_slice_count"`
	Shared             bool      `gorm:"default:false" json:"shared"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// WatchProgress stores per-user resume positions keyed by stream URL.
type WatchProgress struct {
	ID              string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          string    `gorm:"type:uuid;uniqueIndex:idx_progress_user_stream" json:"user_id"`
	StreamURL       string    `gorm:"type:varchar(768);uniqueIndex:idx_progress_user_stream" json:"stream_url"`
	Title           string    `json:"title"`
	PositionSeconds float64   `json:"position_seconds"`
	DurationSeconds float64   `json:"duration_seconds"`
	Finished        bool      `gorm:"default:false" json:"finished"`
	WatchedAt       time.Time `gorm:"index" json:"watched_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Remaining returns how many seconds are left to watch. Zero when the
// entry is finished or the duration is unknown.
func (p WatchProgress) Remaining() float64 {
	if p.Finished || p.DurationSeconds <= 0 {
		return 0
	}
	left := p.DurationSeconds - p.PositionSeconds
	if left < 0 {
		return 0
	}
	return left
}

// SessionRecord captures the lifetime of one playback session for
// history views.
type SessionRecord struct {
	ID         string     `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID    string     `gorm:"type:uuid;index" json:"owner_id"`
	StreamURL  string     `gorm:"type:varchar(2048)" json:"stream_url"`
	Title      string     `json:"title"`
	MediaKind  string     `gorm:"type:varchar(16)" json:"media_kind"`
	Projection string     `gorm:"type:varchar(32)" json:"projection"`
	StartedAt  time.Time  `gorm:"index" json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (SessionRecord) TableName() string {
	return "session_records"
}

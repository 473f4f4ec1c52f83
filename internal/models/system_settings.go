/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"slices"
	"time"

	"gorm.io/gorm"
)

// SystemSettings is the admin-editable runtime configuration. It lives
// in a single row with ID 1; environment variables seed the defaults
// and this row overrides them while the process runs.
type SystemSettings struct {
	ID                     int    `gorm:"primaryKey"`
	DefaultProjection      string `gorm:"type:varchar(32);default:'half_sphere'"`
	VideoPanelAutoHideSecs int    `gorm:"default:10"`
	PhotoPanelAutoHideSecs int    `gorm:"default:5"`
	MaxConcurrentSessions  int    `gorm:"default:8"`
	ResumePlaybackEnabled  bool   `gorm:"default:true"`
	WebsocketEnabled       bool   `gorm:"default:true"`
	MetricsEnabled         bool   `gorm:"default:true"`
	LogLevel               string `gorm:"type:varchar(16);default:'info'"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// TableName returns the table name for GORM.
func (SystemSettings) TableName() string {
	return "system_settings"
}

// ValidProjections are the projection names a session may default to.
var ValidProjections = []string{"half_sphere", "sphere", "fov"}

// ValidLogLevels are the log levels the settings API accepts.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// IsValidProjection reports whether val names a known projection.
func IsValidProjection(val string) bool {
	return slices.Contains(ValidProjections, val)
}

// IsValidLogLevel reports whether val names an accepted log level.
func IsValidLogLevel(val string) bool {
	return slices.Contains(ValidLogLevels, val)
}

// GetSystemSettings loads the singleton row, creating it with column
// defaults on first call.
func GetSystemSettings(db *gorm.DB) (*SystemSettings, error) {
	var settings SystemSettings
	if err := db.FirstOrCreate(&settings, SystemSettings{ID: 1}).Error; err != nil {
		return nil, err
	}
	return &settings, nil
}

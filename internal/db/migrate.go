/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/grimnir_vision/internal/migration"
	"github.com/friendsincode/grimnir_vision/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		// Platform-level models
		&models.User{},
		&models.SystemSettings{},
		&models.DeviceKey{},
		&models.AuditLog{},

		// Playback resources
		&models.ProjectionProfile{},
		&models.WatchProgress{},
		&models.SessionRecord{},

		// Migration jobs
		&migration.Job{},
	); err != nil {
		return err
	}

	if err := normalizeLegacyRoles(database); err != nil {
		return err
	}
	if err := backfillWatchedAt(database); err != nil {
		return err
	}
	if err := markFinishedTails(database); err != nil {
		return err
	}

	return nil
}

// normalizeLegacyRoles rewrites role spellings carried over from imported
// databases onto the canonical admin/operator/viewer set.
func normalizeLegacyRoles(database *gorm.DB) error {
	if err := database.Exec("UPDATE users SET role = ? WHERE LOWER(TRIM(role)) IN ?", models.RoleAdmin, []string{"superuser", "root"}).Error; err != nil {
		return fmt.Errorf("normalize legacy admin role: %w", err)
	}
	if err := database.Exec("UPDATE users SET role = ? WHERE LOWER(TRIM(role)) IN ?", models.RoleOperator, []string{"manager", "editor"}).Error; err != nil {
		return fmt.Errorf("normalize legacy operator role: %w", err)
	}
	if err := database.Exec("UPDATE users SET role = ? WHERE LOWER(TRIM(role)) IN ?", models.RoleViewer, []string{"user", "guest"}).Error; err != nil {
		return fmt.Errorf("normalize legacy viewer role: %w", err)
	}
	return nil
}

// backfillWatchedAt populates watched_at for progress rows imported without
// a last-watched timestamp.
func backfillWatchedAt(database *gorm.DB) error {
	return database.Exec(
		"UPDATE watch_progresses SET watched_at = updated_at WHERE watched_at IS NULL",
	).Error
}

// markFinishedTails reconciles historical progress rows with the tail
// window rule: positions inside the final 3% of a known duration count
// as finished.
func markFinishedTails(database *gorm.DB) error {
	return database.Exec(
		"UPDATE watch_progresses SET finished = ? WHERE finished = ? AND duration_seconds > 0 AND position_seconds >= duration_seconds * 0.97",
		true, false,
	).Error
}

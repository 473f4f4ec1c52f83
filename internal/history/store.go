/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package history persists watch progress and session records. The
// progress side backs resume-on-open; the session side backs the
// recently-watched views in the API.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/grimnir_vision/internal/models"
)

// Store provides database access for playback history.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStore creates a history store.
func NewStore(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// Resume returns the saved position for a user and stream. Finished
// entries are skipped so the next open starts from the top.
func (s *Store) Resume(ctx context.Context, userID, streamURL string) (float64, bool, error) {
	var p models.WatchProgress
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND stream_url = ?", userID, streamURL).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resume lookup: %w", err)
	}
	if p.Finished || p.PositionSeconds <= 0 {
		return 0, false, nil
	}
	return p.PositionSeconds, true, nil
}

// Save upserts the progress row keyed by (user, stream). A position at
// or past the duration marks the entry finished.
func (s *Store) Save(ctx context.Context, userID, streamURL, title string, positionSeconds, durationSeconds float64) error {
	now := time.Now().UTC()
	row := models.WatchProgress{
		ID:              uuid.NewString(),
		UserID:          userID,
		StreamURL:       streamURL,
		Title:           title,
		PositionSeconds: positionSeconds,
		DurationSeconds: durationSeconds,
		Finished:        durationSeconds > 0 && positionSeconds >= durationSeconds,
		WatchedAt:       now,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "stream_url"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "position_seconds", "duration_seconds", "finished", "watched_at", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("progress upsert: %w", err)
	}
	return nil
}

// Recent lists the user's progress entries, most recently watched first.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]models.WatchProgress, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.WatchProgress
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("watched_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent progress: %w", err)
	}
	return rows, nil
}

// ContinueWatching lists unfinished entries with a usable resume point.
func (s *Store) ContinueWatching(ctx context.Context, userID string, limit int) ([]models.WatchProgress, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.WatchProgress
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND finished = ? AND position_seconds > 0", userID, false).
		Order("watched_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("continue watching: %w", err)
	}
	return rows, nil
}

// DeleteProgress removes one progress entry.
func (s *Store) DeleteProgress(ctx context.Context, userID, streamURL string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND stream_url = ?", userID, streamURL).
		Delete(&models.WatchProgress{}).Error
}

// RecordSessionStart persists the opening of a playback session.
// Missing ID and StartedAt fields are filled in.
func (s *Store) RecordSessionStart(ctx context.Context, rec *models.SessionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("record session start: %w", err)
	}
	return nil
}

// UpdateSessionStream records which stream a session most recently
// opened.
func (s *Store) UpdateSessionStream(ctx context.Context, recordID, streamURL, title, mediaKind, projection string) error {
	err := s.db.WithContext(ctx).
		Model(&models.SessionRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]any{
			"stream_url": streamURL,
			"title":      title,
			"media_kind": mediaKind,
			"projection": projection,
		}).Error
	if err != nil {
		return fmt.Errorf("update session stream: %w", err)
	}
	return nil
}

// RecordSessionEnd stamps the session record's end time.
func (s *Store) RecordSessionEnd(ctx context.Context, recordID string) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).
		Model(&models.SessionRecord{}).
		Where("id = ? AND ended_at IS NULL", recordID).
		Update("ended_at", now).Error
	if err != nil {
		return fmt.Errorf("record session end: %w", err)
	}
	return nil
}

// RecentSessions lists the user's session records, newest first.
func (s *Store) RecentSessions(ctx context.Context, userID string, limit int) ([]models.SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.SessionRecord
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", userID).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent sessions: %w", err)
	}
	return rows, nil
}

// TrimSessions deletes session records older than the retention window.
// Returns the number of rows removed.
func (s *Store) TrimSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res := s.db.WithContext(ctx).
		Where("started_at < ?", cutoff).
		Delete(&models.SessionRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("trim sessions: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info().Int64("rows", res.RowsAffected).Msg("trimmed old session records")
	}
	return res.RowsAffected, nil
}

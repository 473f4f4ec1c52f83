/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package migration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	// SQLite driver for reading legacy player databases.
	_ "github.com/mattn/go-sqlite3"

	"github.com/friendsincode/grimnir_vision/internal/media"
	"github.com/friendsincode/grimnir_vision/internal/models"
)

// LegacySQLiteImporter imports projection profiles and watch history
// from the single-user desktop player's SQLite file. The legacy player
// had no accounts, so everything lands on the importing user.
type LegacySQLiteImporter struct {
	db     *gorm.DB
	media  *media.Service
	logger zerolog.Logger
}

// NewLegacySQLiteImporter creates a legacy importer writing into db.
func NewLegacySQLiteImporter(db *gorm.DB, mediaSvc *media.Service, logger zerolog.Logger) *LegacySQLiteImporter {
	return &LegacySQLiteImporter{
		db:     db,
		media:  mediaSvc,
		logger: logger.With().Str("component", "legacy_import").Logger(),
	}
}

// Validate checks the database file before a job is accepted.
func (l *LegacySQLiteImporter) Validate(ctx context.Context, options Options) error {
	if options.SQLitePath == "" {
		return ValidationError{Field: "sqlite_path", Message: "database path is required"}
	}
	if options.ImportingUserID == "" {
		return ValidationError{Field: "importing_user_id", Message: "target user is required"}
	}

	info, err := os.Stat(options.SQLitePath)
	if err != nil {
		return ValidationError{Field: "sqlite_path", Message: fmt.Sprintf("cannot access file: %v", err)}
	}
	if info.IsDir() {
		return ValidationError{Field: "sqlite_path", Message: "path is a directory"}
	}

	src, err := l.open(options.SQLitePath)
	if err != nil {
		return ValidationError{Field: "sqlite_path", Message: err.Error()}
	}
	defer src.Close()

	if err := src.PingContext(ctx); err != nil {
		return ValidationError{Field: "sqlite_path", Message: fmt.Sprintf("cannot open database: %v", err)}
	}
	return nil
}

// Analyze counts importable rows without changing anything.
func (l *LegacySQLiteImporter) Analyze(ctx context.Context, options Options) (*Result, error) {
	src, err := l.open(options.SQLitePath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	result := &Result{Skipped: map[string]int{}}

	if !options.SkipProfiles {
		if err := src.QueryRowContext(ctx, "SELECT COUNT(*) FROM view_profiles").Scan(&result.ProfilesCreated); err != nil {
			return nil, fmt.Errorf("count view profiles: %w", err)
		}
	}
	if !options.SkipProgress {
		if err := src.QueryRowContext(ctx, "SELECT COUNT(*) FROM watch_history").Scan(&result.ProgressEntriesImported); err != nil {
			return nil, fmt.Errorf("count watch history: %w", err)
		}
	}

	return result, nil
}

// Import copies profiles and watch history onto the importing user.
func (l *LegacySQLiteImporter) Import(ctx context.Context, options Options, cb ProgressCallback) (*Result, error) {
	src, err := l.open(options.SQLitePath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	result := &Result{Skipped: map[string]int{}}
	progress := Progress{
		Phase:      "profiles",
		TotalSteps: 2,
		StartTime:  time.Now(),
	}
	report := func(step string, pct float64) {
		progress.CurrentStep = step
		progress.Percentage = pct
		if cb != nil {
			cb(progress)
		}
	}
	report("Importing projection profiles", 5)

	if !options.SkipProfiles {
		if err := l.importProfiles(ctx, src, options, result, &progress); err != nil {
			return nil, err
		}
	}

	progress.Phase = "watch_history"
	progress.CompletedSteps = 1
	report("Importing watch history", 50)

	if !options.SkipProgress {
		if err := l.importHistory(ctx, src, options, result, &progress); err != nil {
			return nil, err
		}
	}

	progress.Phase = "done"
	progress.CompletedSteps = 2
	report("Finished", 100)

	return result, nil
}

func (l *LegacySQLiteImporter) open(path string) (*sql.DB, error) {
	// mode=ro keeps the importer from ever writing the source file.
	src, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open legacy db: %w", err)
	}
	return src, nil
}

func (l *LegacySQLiteImporter) importProfiles(ctx context.Context, src *sql.DB, options Options, result *Result, progress *Progress) error {
	rows, err := src.QueryContext(ctx, `
		SELECT name, projection, horizontal_fov, aspect_ratio, radius, slices, vertical_slices
		FROM view_profiles ORDER BY name`)
	if err != nil {
		return fmt.Errorf("query view profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name, projection    string
			fov, aspect, radius float64
			slices, vertical    int
		)
		if err := rows.Scan(&name, &projection, &fov, &aspect, &radius, &slices, &vertical); err != nil {
			return fmt.Errorf("scan view profile: %w", err)
		}
		progress.ProfilesTotal++

		projection = normalizeLegacyProjection(projection)
		if !models.IsValidProjection(projection) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("profile %q has unknown projection %q, skipped", name, projection))
			result.Skipped["profiles"]++
			continue
		}

		var existing models.ProjectionProfile
		err := l.db.WithContext(ctx).
			First(&existing, "owner_id = ? AND name = ?", options.ImportingUserID, name).Error
		if err == nil {
			result.Skipped["profiles"]++
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		if !options.DryRun {
			profile := models.ProjectionProfile{
				ID:                 uuid.NewString(),
				OwnerID:            options.ImportingUserID,
				Name:               name,
				Projection:         projection,
				HorizontalFovDeg:   float32(fov),
				AspectRatio:        float32(aspect),
				RadiusMeters:       float32(radius),
				SliceCount:         slices,
				VerticalSliceCount: vertical,
			}
			if err := l.db.WithContext(ctx).Create(&profile).Error; err != nil {
				return fmt.Errorf("create profile %q: %w", name, err)
			}
		}

		result.ProfilesCreated++
		progress.ProfilesImported++
	}
	return rows.Err()
}

func (l *LegacySQLiteImporter) importHistory(ctx context.Context, src *sql.DB, options Options, result *Result, progress *Progress) error {
	rows, err := src.QueryContext(ctx, `
		SELECT path, title, position, duration, finished, last_watched
		FROM watch_history ORDER BY last_watched`)
	if err != nil {
		return fmt.Errorf("query watch history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			path, title        string
			position, duration float64
			finished           int
			lastWatched        int64
		)
		if err := rows.Scan(&path, &title, &position, &duration, &finished, &lastWatched); err != nil {
			return fmt.Errorf("scan watch history: %w", err)
		}
		progress.ProgressTotal++

		if path == "" {
			result.Skipped["progress"]++
			continue
		}

		if !options.DryRun {
			entry := models.WatchProgress{
				ID:              uuid.NewString(),
				UserID:          options.ImportingUserID,
				StreamURL:       l.rewriteURL(path, options),
				Title:           title,
				PositionSeconds: position,
				DurationSeconds: duration,
				Finished:        finished != 0,
				WatchedAt:       time.Unix(lastWatched, 0),
			}
			err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "user_id"}, {Name: "stream_url"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"title", "position_seconds", "duration_seconds", "finished", "watched_at",
				}),
			}).Create(&entry).Error
			if err != nil {
				return fmt.Errorf("create progress for %q: %w", path, err)
			}
		}

		result.ProgressEntriesImported++
		progress.ProgressImported++
	}
	return rows.Err()
}

// rewriteURL maps a legacy absolute path onto a locally playable URL.
// Legacy paths were absolute on the player machine; only the filename
// tail is stable across machines.
func (l *LegacySQLiteImporter) rewriteURL(path string, options Options) string {
	rel := strings.TrimLeft(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		rel = path[i+1:]
	}
	if options.StreamURLPrefix != "" {
		return strings.TrimRight(options.StreamURLPrefix, "/") + "/" + rel
	}
	if l.media != nil {
		return l.media.URL(rel)
	}
	return path
}

// normalizeLegacyProjection maps legacy projection spellings onto the
// canonical set.
func normalizeLegacyProjection(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "half", "halfsphere", "half-sphere", "half_sphere", "hemisphere", "vr180":
		return "half_sphere"
	case "full", "fullsphere", "full-sphere", "360", "equirect", "sphere":
		return "sphere"
	case "flat", "fov", "plane":
		return "fov"
	}
	return strings.ToLower(strings.TrimSpace(p))
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package migration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	// Postgres driver for reading Viewra databases.
	_ "github.com/lib/pq"

	"github.com/friendsincode/grimnir_vision/internal/auth"
	"github.com/friendsincode/grimnir_vision/internal/media"
	"github.com/friendsincode/grimnir_vision/internal/models"
)

// ViewraImporter imports accounts and watch history from a Viewra media
// server's PostgreSQL database. Viewra stores bcrypt password hashes, so
// accounts come across with working credentials; anything else gets a
// random placeholder and a warning.
type ViewraImporter struct {
	db     *gorm.DB
	media  *media.Service
	logger zerolog.Logger

	// openDB is swappable for tests.
	openDB func(dsn string) (*sql.DB, error)
}

// NewViewraImporter creates a Viewra importer writing into db.
func NewViewraImporter(db *gorm.DB, mediaSvc *media.Service, logger zerolog.Logger) *ViewraImporter {
	return &ViewraImporter{
		db:     db,
		media:  mediaSvc,
		logger: logger.With().Str("component", "viewra_import").Logger(),
		openDB: func(dsn string) (*sql.DB, error) {
			return sql.Open("postgres", dsn)
		},
	}
}

// viewraUser mirrors the columns read from Viewra's users table.
type viewraUser struct {
	ID           int64
	Email        string
	PasswordHash sql.NullString
	IsAdmin      bool
}

// viewraProgress mirrors the columns read from Viewra's playback_progress table.
type viewraProgress struct {
	UserID          int64
	MediaPath       string
	Title           sql.NullString
	PositionSeconds float64
	DurationSeconds float64
	Finished        bool
	UpdatedAt       time.Time
}

// Validate checks connectivity before a job is accepted.
func (v *ViewraImporter) Validate(ctx context.Context, options Options) error {
	if options.ViewraDSN == "" {
		return ValidationError{Field: "viewra_dsn", Message: "connection string is required"}
	}

	db, err := v.openDB(options.ViewraDSN)
	if err != nil {
		return ValidationError{Field: "viewra_dsn", Message: err.Error()}
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return ValidationError{Field: "viewra_dsn", Message: fmt.Sprintf("cannot reach database: %v", err)}
	}
	return nil
}

// Analyze counts importable rows without changing anything.
func (v *ViewraImporter) Analyze(ctx context.Context, options Options) (*Result, error) {
	db, err := v.openDB(options.ViewraDSN)
	if err != nil {
		return nil, fmt.Errorf("open viewra db: %w", err)
	}
	defer db.Close()

	result := &Result{Skipped: map[string]int{}}

	if !options.SkipUsers {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&result.UsersCreated); err != nil {
			return nil, fmt.Errorf("count users: %w", err)
		}
	}
	if !options.SkipProgress {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM playback_progress").Scan(&result.ProgressEntriesImported); err != nil {
			return nil, fmt.Errorf("count playback progress: %w", err)
		}
	}

	return result, nil
}

// Import copies users and watch history into the local database.
func (v *ViewraImporter) Import(ctx context.Context, options Options, cb ProgressCallback) (*Result, error) {
	src, err := v.openDB(options.ViewraDSN)
	if err != nil {
		return nil, fmt.Errorf("open viewra db: %w", err)
	}
	defer src.Close()

	result := &Result{Skipped: map[string]int{}}
	progress := Progress{
		Phase:      "connecting",
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

	users, err := v.readUsers(ctx, src)
	if err != nil {
		return nil, err
	}
	entries, err := v.readProgress(ctx, src)
	if err != nil {
		return nil, err
	}
	progress.UsersTotal = len(users)
	progress.ProgressTotal = len(entries)

	// Maps Viewra numeric IDs onto local UUIDs so history rows can follow
	// their owners.
	userIDs := make(map[int64]string, len(users))

	progress.Phase = "users"
	report("Importing accounts", 5)

	for i, u := range users {
		if options.SkipUsers {
			result.Skipped["users"] = len(users)
			break
		}
		if u.Email == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("viewra user %d has no email, skipped", u.ID))
			result.Skipped["users"]++
			continue
		}

		localID, created, err := v.importUser(ctx, u, options)
		if err != nil {
			return nil, fmt.Errorf("import user %s: %w", u.Email, err)
		}
		userIDs[u.ID] = localID
		if created {
			result.UsersCreated++
		} else {
			result.Skipped["users"]++
		}

		progress.UsersImported = i + 1
		if len(users) > 0 && i%25 == 0 {
			report("Importing accounts", 5+45*float64(i)/float64(len(users)))
		}
	}

	progress.Phase = "watch_history"
	progress.CompletedSteps = 1
	report("Importing watch history", 50)

	if options.SkipProgress {
		result.Skipped["progress"] = len(entries)
	} else {
		for i, e := range entries {
			ownerID, ok := userIDs[e.UserID]
			if !ok {
				// Owner was skipped or belongs to no imported account.
				if options.ImportingUserID != "" {
					ownerID = options.ImportingUserID
				} else {
					result.Skipped["progress"]++
					continue
				}
			}

			if err := v.importProgress(ctx, ownerID, e, options); err != nil {
				return nil, fmt.Errorf("import progress for %s: %w", e.MediaPath, err)
			}
			result.ProgressEntriesImported++

			progress.ProgressImported = i + 1
			if len(entries) > 0 && i%100 == 0 {
				report("Importing watch history", 50+45*float64(i)/float64(len(entries)))
			}
		}
	}

	progress.Phase = "done"
	progress.CompletedSteps = 2
	report("Finished", 100)

	return result, nil
}

func (v *ViewraImporter) readUsers(ctx context.Context, src *sql.DB) ([]viewraUser, error) {
	rows, err := src.QueryContext(ctx, `SELECT id, email, password_hash, is_admin FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []viewraUser
	for rows.Next() {
		var u viewraUser
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsAdmin); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (v *ViewraImporter) readProgress(ctx context.Context, src *sql.DB) ([]viewraProgress, error) {
	rows, err := src.QueryContext(ctx, `
		SELECT user_id, media_path, title, position_seconds, duration_seconds, finished, updated_at
		FROM playback_progress ORDER BY user_id, updated_at`)
	if err != nil {
		return nil, fmt.Errorf("query playback progress: %w", err)
	}
	defer rows.Close()

	var entries []viewraProgress
	for rows.Next() {
		var e viewraProgress
		if err := rows.Scan(&e.UserID, &e.MediaPath, &e.Title, &e.PositionSeconds, &e.DurationSeconds, &e.Finished, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan playback progress: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// importUser creates a local account for a Viewra user. Existing emails
// are left untouched. Returns the local user ID either way.
func (v *ViewraImporter) importUser(ctx context.Context, u viewraUser, options Options) (string, bool, error) {
	var existing models.User
	err := v.db.WithContext(ctx).First(&existing, "email = ?", u.Email).Error
	if err == nil {
		return existing.ID, false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return "", false, err
	}

	if options.DryRun {
		return uuid.NewString(), true, nil
	}

	role := models.RoleName(options.DefaultRole)
	if role == "" {
		role = models.RoleViewer
	}
	if u.IsAdmin {
		role = models.RoleOperator
	}

	// Viewra uses bcrypt; anything else gets an unusable placeholder so
	// the account exists but needs a password reset.
	hash := u.PasswordHash.String
	if !strings.HasPrefix(hash, "$2a$") && !strings.HasPrefix(hash, "$2b$") && !strings.HasPrefix(hash, "$2y$") {
		var err error
		hash, err = auth.HashPassword(uuid.NewString())
		if err != nil {
			return "", false, fmt.Errorf("placeholder password: %w", err)
		}
	}

	user := models.User{
		ID:       uuid.NewString(),
		Email:    u.Email,
		Password: hash,
		Role:     role,
	}
	if err := v.db.WithContext(ctx).Create(&user).Error; err != nil {
		return "", false, err
	}

	v.logger.Debug().Str("email", u.Email).Str("role", string(role)).Msg("imported viewra account")
	return user.ID, true, nil
}

// importProgress upserts one watch history row for its mapped owner.
func (v *ViewraImporter) importProgress(ctx context.Context, ownerID string, e viewraProgress, options Options) error {
	if options.DryRun {
		return nil
	}

	entry := models.WatchProgress{
		ID:              uuid.NewString(),
		UserID:          ownerID,
		StreamURL:       v.rewriteURL(e.MediaPath, options),
		Title:           e.Title.String,
		PositionSeconds: e.PositionSeconds,
		DurationSeconds: e.DurationSeconds,
		Finished:        e.Finished,
		WatchedAt:       e.UpdatedAt,
	}

	return v.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "stream_url"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "position_seconds", "duration_seconds", "finished", "watched_at",
		}),
	}).Create(&entry).Error
}

// rewriteURL maps a Viewra media path onto a locally playable URL.
func (v *ViewraImporter) rewriteURL(mediaPath string, options Options) string {
	rel := strings.TrimLeft(mediaPath, "/")
	if options.StreamURLPrefix != "" {
		return strings.TrimRight(options.StreamURLPrefix, "/") + "/" + rel
	}
	if v.media != nil {
		return v.media.URL(rel)
	}
	return mediaPath
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_vision/internal/db"
	"github.com/friendsincode/grimnir_vision/internal/migration"
	"github.com/friendsincode/grimnir_vision/internal/models"
)

var (
	resetForce       bool
	resetDeleteMedia bool
	resetKeepUsers   int
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop all data and re-create an empty schema",
	Long: `Reset drops every table (watch history, session records, projection
profiles, device keys, audit log, settings, users) and re-creates the
schema empty.

With --keep-users the oldest admin accounts survive the wipe. With
--delete-media the uploaded files under the media root are removed too.
The confirmation prompt is skipped with --force.`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip the confirmation prompt")
	resetCmd.Flags().BoolVar(&resetDeleteMedia, "delete-media", false, "Also delete uploaded media files")
	resetCmd.Flags().IntVar(&resetKeepUsers, "keep-users", 0, "Admin accounts to preserve (0 = none)")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	if !resetForce && !confirmReset() {
		fmt.Println("reset cancelled")
		return nil
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	defer sqlDB.Close()

	kept := usersToKeep(database)

	logger.Info().
		Int("kept_users", len(kept)).
		Bool("delete_media", resetDeleteMedia).
		Msg("resetting database")

	dropAllTables(database)

	if resetDeleteMedia && cfg.MediaRoot != "" {
		wipeMediaRoot(cfg.MediaRoot)
	}

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("recreate schema: %w", err)
	}

	restoreUsers(database, kept)

	logger.Info().Msg("reset complete")
	fmt.Println("Reset complete. Start the server with `grimnirvision serve` and sign in")
	fmt.Println("with a preserved admin account, or create one with `grimnirvision user create`.")
	return nil
}

func confirmReset() bool {
	fmt.Println("This permanently deletes ALL Grimnir Vision data:")
	fmt.Println("  watch history, session records, projection profiles,")
	fmt.Println("  device keys, audit log, system settings, and users.")
	if resetKeepUsers > 0 {
		fmt.Printf("  (keeping the %d oldest admin account(s))\n", resetKeepUsers)
	}
	if resetDeleteMedia {
		fmt.Println("  Uploaded media files are deleted as well.")
	}
	fmt.Print("Type 'yes' to continue: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(strings.ToLower(line)) == "yes"
}

// usersToKeep selects the oldest admins first, padding with other
// accounts when there are not enough admins.
func usersToKeep(database *gorm.DB) []models.User {
	if resetKeepUsers <= 0 {
		return nil
	}

	var kept []models.User
	database.Where("role = ?", models.RoleAdmin).
		Order("created_at ASC").
		Limit(resetKeepUsers).
		Find(&kept)

	if missing := resetKeepUsers - len(kept); missing > 0 {
		ids := make([]string, 0, len(kept))
		for _, u := range kept {
			ids = append(ids, u.ID)
		}

		q := database.Order("created_at ASC").Limit(missing)
		if len(ids) > 0 {
			q = q.Where("id NOT IN ?", ids)
		}
		var extra []models.User
		q.Find(&extra)
		kept = append(kept, extra...)
	}

	for _, u := range kept {
		logger.Info().Str("email", u.Email).Str("role", string(u.Role)).Msg("keeping user")
	}
	return kept
}

func dropAllTables(database *gorm.DB) {
	// Children before parents so foreign keys never block a drop.
	tables := []any{
		&migration.Job{},
		&models.SessionRecord{},
		&models.WatchProgress{},
		&models.ProjectionProfile{},
		&models.AuditLog{},
		&models.DeviceKey{},
		&models.SystemSettings{},
		&models.User{},
	}
	for _, table := range tables {
		if err := database.Migrator().DropTable(table); err != nil {
			logger.Debug().Err(err).Msg("drop table")
		}
	}
}

func wipeMediaRoot(root string) {
	logger.Info().Str("path", root).Msg("deleting media files")

	entries, err := os.ReadDir(root)
	if err != nil {
		logger.Warn().Err(err).Msg("read media root")
		return
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(root, entry.Name())); err != nil {
			logger.Warn().Err(err).Str("name", entry.Name()).Msg("delete media entry")
		}
	}
}

func restoreUsers(database *gorm.DB, kept []models.User) {
	for _, u := range kept {
		u.UpdatedAt = u.CreatedAt
		if err := database.Create(&u).Error; err != nil {
			logger.Error().Err(err).Str("email", u.Email).Msg("restore user failed")
		}
	}
}

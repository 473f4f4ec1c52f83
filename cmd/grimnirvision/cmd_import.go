/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_vision/internal/eventbus"
	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/media"
	"github.com/friendsincode/grimnir_vision/internal/migration"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import data from other media server systems",
	Long:  "Import user accounts, projection profiles, and watch history from Viewra and the legacy desktop player",
}

var importViewraCmd = &cobra.Command{
	Use:   "viewra",
	Short: "Import from a Viewra database",
	Long:  "Import users, profiles, and watch history from a Viewra media server's PostgreSQL database",
	RunE:  runImportViewra,
}

var importSQLiteCmd = &cobra.Command{
	Use:   "legacy-sqlite",
	Short: "Import from a legacy desktop player database",
	Long:  "Import projection profiles and watch history from the single-user desktop player's SQLite file",
	RunE:  runImportSQLite,
}

// Viewra import flags
var (
	viewraDSN          string
	viewraSkipUsers    bool
	viewraSkipProfiles bool
	viewraSkipProgress bool
	viewraDefaultRole  string
	viewraURLPrefix    string
	viewraDryRun       bool
)

// Legacy SQLite import flags
var (
	sqlitePath         string
	sqliteOwnerID      string
	sqliteSkipProfiles bool
	sqliteSkipProgress bool
	sqliteURLPrefix    string
	sqliteDryRun       bool
)

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importViewraCmd)
	importCmd.AddCommand(importSQLiteCmd)

	// Viewra flags
	importViewraCmd.Flags().StringVar(&viewraDSN, "dsn", "", "Viewra PostgreSQL DSN (required)")
	importViewraCmd.Flags().BoolVar(&viewraSkipUsers, "skip-users", false, "Skip user account import")
	importViewraCmd.Flags().BoolVar(&viewraSkipProfiles, "skip-profiles", false, "Skip projection profile import")
	importViewraCmd.Flags().BoolVar(&viewraSkipProgress, "skip-progress", false, "Skip watch history import")
	importViewraCmd.Flags().StringVar(&viewraDefaultRole, "default-role", "viewer", "Role given to imported accounts without one")
	importViewraCmd.Flags().StringVar(&viewraURLPrefix, "url-prefix", "", "Rewrite imported stream URLs onto this prefix")
	importViewraCmd.Flags().BoolVar(&viewraDryRun, "dry-run", false, "Analyze database without importing")
	importViewraCmd.MarkFlagRequired("dsn")

	// Legacy SQLite flags
	importSQLiteCmd.Flags().StringVar(&sqlitePath, "file", "", "Path to the desktop player SQLite database (required)")
	importSQLiteCmd.Flags().StringVar(&sqliteOwnerID, "owner", "", "User ID that receives the imported profiles and history (required)")
	importSQLiteCmd.Flags().BoolVar(&sqliteSkipProfiles, "skip-profiles", false, "Skip projection profile import")
	importSQLiteCmd.Flags().BoolVar(&sqliteSkipProgress, "skip-progress", false, "Skip watch history import")
	importSQLiteCmd.Flags().StringVar(&sqliteURLPrefix, "url-prefix", "", "Rewrite imported stream URLs onto this prefix")
	importSQLiteCmd.Flags().BoolVar(&sqliteDryRun, "dry-run", false, "Analyze database without importing")
	importSQLiteCmd.MarkFlagRequired("file")
	importSQLiteCmd.MarkFlagRequired("owner")
}

func runImportViewra(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().
		Bool("dry_run", viewraDryRun).
		Msg("starting Viewra import")

	// Initialize database
	db, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	// Initialize media service
	mediaService, err := media.NewService(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize media service: %w", err)
	}

	// Create event relay (in-process, no cross-node fanout needed here)
	bus := eventbus.NewMemory(events.NewBus())

	// Create migration service
	migrationSvc := migration.NewService(db, bus, logger)
	migrationSvc.RegisterImporter(migration.SourceTypeViewra, migration.NewViewraImporter(db, mediaService, logger))

	// Create job options
	options := migration.Options{
		ViewraDSN:       viewraDSN,
		SkipUsers:       viewraSkipUsers,
		SkipProfiles:    viewraSkipProfiles,
		SkipProgress:    viewraSkipProgress,
		DefaultRole:     viewraDefaultRole,
		StreamURLPrefix: viewraURLPrefix,
	}

	ctx := context.Background()
	importer := migration.NewViewraImporter(db, mediaService, logger)

	// Dry run: just analyze
	if viewraDryRun {
		logger.Info().Msg("performing dry run analysis...")

		if err := importer.Validate(ctx, options); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		result, err := importer.Analyze(ctx, options)
		if err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}

		logger.Info().Msg("dry run analysis complete")
		fmt.Printf("\nImport Preview:\n")
		fmt.Printf("  Users:    %d\n", result.UsersCreated)
		fmt.Printf("  Profiles: %d\n", result.ProfilesCreated)
		fmt.Printf("  Progress: %d\n", result.ProgressEntriesImported)

		printImportWarnings(result)

		fmt.Printf("\nRun without --dry-run to perform the import.\n")
		return nil
	}

	// Create and start import job
	job, err := migrationSvc.CreateJob(ctx, migration.SourceTypeViewra, options)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	logger.Info().Str("job_id", job.ID).Msg("import job created")

	// Run import directly (not via service to show progress)
	result, err := importer.Import(ctx, options, printImportProgress)
	if err != nil {
		logger.Error().Err(err).Msg("import failed")
		return fmt.Errorf("import failed: %w", err)
	}

	printImportResult(result)

	logger.Info().Msg("Viewra import completed successfully")
	return nil
}

func runImportSQLite(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().
		Str("file", sqlitePath).
		Bool("dry_run", sqliteDryRun).
		Msg("starting legacy SQLite import")

	// Initialize database
	db, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	// Initialize media service
	mediaService, err := media.NewService(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize media service: %w", err)
	}

	// Create event relay (in-process, no cross-node fanout needed here)
	bus := eventbus.NewMemory(events.NewBus())

	// Create migration service
	migrationSvc := migration.NewService(db, bus, logger)
	migrationSvc.RegisterImporter(migration.SourceTypeLegacySQLite, migration.NewLegacySQLiteImporter(db, mediaService, logger))

	// Create job options
	options := migration.Options{
		SQLitePath:      sqlitePath,
		ImportingUserID: sqliteOwnerID,
		SkipProfiles:    sqliteSkipProfiles,
		SkipProgress:    sqliteSkipProgress,
		StreamURLPrefix: sqliteURLPrefix,
	}

	ctx := context.Background()
	importer := migration.NewLegacySQLiteImporter(db, mediaService, logger)

	// Dry run: just analyze
	if sqliteDryRun {
		logger.Info().Msg("performing dry run analysis...")

		if err := importer.Validate(ctx, options); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		result, err := importer.Analyze(ctx, options)
		if err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}

		logger.Info().Msg("dry run analysis complete")
		fmt.Printf("\nImport Preview:\n")
		fmt.Printf("  Profiles: %d\n", result.ProfilesCreated)
		fmt.Printf("  Progress: %d\n", result.ProgressEntriesImported)

		printImportWarnings(result)

		fmt.Printf("\nRun without --dry-run to perform the import.\n")
		return nil
	}

	// Create and start import job
	job, err := migrationSvc.CreateJob(ctx, migration.SourceTypeLegacySQLite, options)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	logger.Info().Str("job_id", job.ID).Msg("import job created")

	// Run import directly (not via service to show progress)
	result, err := importer.Import(ctx, options, printImportProgress)
	if err != nil {
		logger.Error().Err(err).Msg("import failed")
		return fmt.Errorf("import failed: %w", err)
	}

	printImportResult(result)

	logger.Info().Msg("legacy SQLite import completed successfully")
	return nil
}

// printImportProgress renders one progress callback line, overwriting the
// previous one.
func printImportProgress(progress migration.Progress) {
	status := fmt.Sprintf("%s [%.0f%%] %s", progress.Phase, progress.Percentage, progress.CurrentStep)

	// Add detailed counts if available
	if progress.ProgressImported > 0 {
		status += fmt.Sprintf(" (%d/%d history rows)", progress.ProgressImported, progress.ProgressTotal)
	} else if progress.ProfilesImported > 0 {
		status += fmt.Sprintf(" (%d/%d profiles)", progress.ProfilesImported, progress.ProfilesTotal)
	}

	fmt.Printf("\r%-100s", status)
	if progress.Phase == "completed" {
		fmt.Println()
	}
}

func printImportResult(result *migration.Result) {
	fmt.Printf("\n\nImport Complete!\n")
	fmt.Printf("  Users:    %d created\n", result.UsersCreated)
	fmt.Printf("  Profiles: %d created\n", result.ProfilesCreated)
	fmt.Printf("  Progress: %d entries imported\n", result.ProgressEntriesImported)
	fmt.Printf("  Duration: %.1f seconds\n", result.DurationSeconds)

	printImportWarnings(result)

	if len(result.Skipped) > 0 {
		fmt.Printf("\nSkipped:\n")
		for key, count := range result.Skipped {
			fmt.Printf("  - %s: %d\n", key, count)
		}
	}
}

func printImportWarnings(result *migration.Result) {
	if len(result.Warnings) == 0 {
		return
	}
	fmt.Printf("\nWarnings:\n")
	for _, warning := range result.Warnings {
		fmt.Printf("  - %s\n", warning)
	}
}

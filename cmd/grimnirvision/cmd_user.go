/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_vision/internal/auth"
	"github.com/friendsincode/grimnir_vision/internal/db"
	"github.com/friendsincode/grimnir_vision/internal/models"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
	Long:  "Create and update user accounts directly in the database, bypassing the API",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user account",
	Long:  "Create a user account. The first account on a fresh install should be an admin, since the API requires an admin login for user management.",
	RunE:  runUserCreate,
}

var (
	userEmail    string
	userPassword string
	userRole     string
)

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd)

	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "Account email (required)")
	userCreateCmd.Flags().StringVar(&userPassword, "password", "", "Account password (required)")
	userCreateCmd.Flags().StringVar(&userRole, "role", "admin", "Account role: admin, operator, or viewer")
	userCreateCmd.MarkFlagRequired("email")
	userCreateCmd.MarkFlagRequired("password")
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	role := models.RoleName(userRole)
	switch role {
	case models.RoleAdmin, models.RoleOperator, models.RoleViewer:
	default:
		return fmt.Errorf("invalid role %q: must be admin, operator, or viewer", userRole)
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	var existing models.User
	err = database.First(&existing, "email = ?", userEmail).Error
	if err == nil {
		return fmt.Errorf("account %s already exists", userEmail)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("check existing account: %w", err)
	}

	hash, err := auth.HashPassword(userPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		ID:       uuid.NewString(),
		Email:    userEmail,
		Password: hash,
		Role:     role,
	}
	if err := database.Create(&user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	logger.Info().
		Str("user_id", user.ID).
		Str("email", user.Email).
		Str("role", string(user.Role)).
		Msg("user created")

	fmt.Printf("Created %s account %s (%s)\n", user.Role, user.Email, user.ID)
	return nil
}

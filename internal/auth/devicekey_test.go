/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_vision/internal/models"
)

func newTestKeyService(t *testing.T) (*DeviceKeyService, *models.User) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.DeviceKey{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	owner := &models.User{
		ID:       uuid.NewString(),
		Email:    "owner@example.com",
		Password: "hash",
		Role:     models.RoleOperator,
	}
	if err := db.Create(owner).Error; err != nil {
		t.Fatalf("create owner: %v", err)
	}

	return NewDeviceKeyService(db, zerolog.Nop()), owner
}

func TestDeviceKeyLifecycle(t *testing.T) {
	svc, owner := newTestKeyService(t)
	ctx := context.Background()

	raw, rec, err := svc.Generate(ctx, owner.ID, "lobby kiosk", models.RoleViewer, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(raw, DeviceKeyPrefix) {
		t.Errorf("raw key %q missing prefix %q", raw, DeviceKeyPrefix)
	}
	if rec.KeyPrefix != raw[:11] {
		t.Errorf("KeyPrefix = %q, want %q", rec.KeyPrefix, raw[:11])
	}
	if rec.KeyHash == raw {
		t.Error("raw key must not be stored verbatim")
	}

	claims, err := svc.ValidateDeviceKey(ctx, raw)
	if err != nil {
		t.Fatalf("ValidateDeviceKey: %v", err)
	}
	if claims.UserID != owner.ID {
		t.Errorf("UserID = %q, want %q", claims.UserID, owner.ID)
	}
	if !claims.HasRole("viewer") {
		t.Errorf("Roles = %v, want viewer", claims.Roles)
	}

	keys, err := svc.ListForOwner(ctx, owner.ID)
	if err != nil {
		t.Fatalf("ListForOwner: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("ListForOwner returned %d keys, want 1", len(keys))
	}

	if err := svc.Revoke(ctx, rec.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.ValidateDeviceKey(ctx, raw); !errors.Is(err, ErrDeviceKeyRevoked) {
		t.Fatalf("ValidateDeviceKey after revoke: %v, want ErrDeviceKeyRevoked", err)
	}
	if err := svc.Revoke(ctx, rec.ID); !errors.Is(err, ErrDeviceKeyNotFound) {
		t.Fatalf("second Revoke: %v, want ErrDeviceKeyNotFound", err)
	}

	if err := svc.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.ValidateDeviceKey(ctx, raw); !errors.Is(err, ErrDeviceKeyNotFound) {
		t.Fatalf("ValidateDeviceKey after delete: %v, want ErrDeviceKeyNotFound", err)
	}
}

func TestValidateDeviceKeyExpired(t *testing.T) {
	svc, owner := newTestKeyService(t)
	ctx := context.Background()

	raw, _, err := svc.Generate(ctx, owner.ID, "stale", models.RoleViewer, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if _, err := svc.ValidateDeviceKey(ctx, raw); !errors.Is(err, ErrDeviceKeyExpired) {
		t.Fatalf("ValidateDeviceKey: %v, want ErrDeviceKeyExpired", err)
	}
}

func TestValidateDeviceKeySuspendedOwner(t *testing.T) {
	svc, owner := newTestKeyService(t)
	ctx := context.Background()

	raw, _, err := svc.Generate(ctx, owner.ID, "kiosk", models.RoleViewer, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if err := svc.db.Model(&models.User{}).Where("id = ?", owner.ID).Update("suspended", true).Error; err != nil {
		t.Fatalf("suspend owner: %v", err)
	}

	if _, err := svc.ValidateDeviceKey(ctx, raw); !errors.Is(err, ErrOwnerUnavailable) {
		t.Fatalf("ValidateDeviceKey: %v, want ErrOwnerUnavailable", err)
	}
}

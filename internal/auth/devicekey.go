/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_vision/internal/models"
)

// DeviceKeyPrefix marks raw device keys so they can be recognized in logs
// and support tickets without exposing the secret portion.
const DeviceKeyPrefix = "gv_"

var (
	ErrDeviceKeyNotFound = errors.New("device key not found")
	ErrDeviceKeyExpired  = errors.New("device key expired")
	ErrDeviceKeyRevoked  = errors.New("device key revoked")
	ErrOwnerUnavailable  = errors.New("device key owner unavailable")
)

// DeviceKeyService issues and validates long-lived keys for headless
// players and kiosk installations that cannot run a login flow.
type DeviceKeyService struct {
	db     *gorm.DB
	logger zerolog.Logger
}

func NewDeviceKeyService(db *gorm.DB, logger zerolog.Logger) *DeviceKeyService {
	return &DeviceKeyService{
		db:     db,
		logger: logger.With().Str("component", "devicekeys").Logger(),
	}
}

// Generate creates a new device key. The raw key is returned exactly once;
// only its SHA-256 hash is stored.
func (s *DeviceKeyService) Generate(ctx context.Context, ownerID, name string, role models.RoleName, expiresAt time.Time) (string, *models.DeviceKey, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate device key: %w", err)
	}

	key := DeviceKeyPrefix + hex.EncodeToString(raw)
	hash := sha256.Sum256([]byte(key))

	rec := &models.DeviceKey{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		KeyHash:   hex.EncodeToString(hash[:]),
		KeyPrefix: key[:11],
		Role:      role,
		ExpiresAt: expiresAt,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return "", nil, fmt.Errorf("store device key: %w", err)
	}

	s.logger.Info().
		Str("key_id", rec.ID).
		Str("owner_id", ownerID).
		Str("role", string(role)).
		Msg("device key created")

	return key, rec, nil
}

// ValidateDeviceKey resolves a raw key to claims. Revoked and expired keys
// are rejected, as are keys whose owner is suspended or gone.
func (s *DeviceKeyService) ValidateDeviceKey(ctx context.Context, key string) (*Claims, error) {
	hash := sha256.Sum256([]byte(key))

	var rec models.DeviceKey
	err := s.db.WithContext(ctx).
		Where("key_hash = ?", hex.EncodeToString(hash[:])).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDeviceKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("look up device key: %w", err)
	}

	if rec.IsRevoked() {
		return nil, ErrDeviceKeyRevoked
	}
	if rec.IsExpired() {
		return nil, ErrDeviceKeyExpired
	}

	var owner models.User
	err = s.db.WithContext(ctx).Where("id = ?", rec.OwnerID).First(&owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOwnerUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("look up device key owner: %w", err)
	}
	if owner.Suspended {
		return nil, ErrOwnerUnavailable
	}

	// Touch last_used_at without holding up the request.
	keyID := rec.ID
	go func() {
		if err := s.db.Model(&models.DeviceKey{}).
			Where("id = ?", keyID).
			Update("last_used_at", time.Now().UTC()).Error; err != nil {
			s.logger.Warn().Err(err).Str("key_id", keyID).Msg("failed to update device key last_used_at")
		}
	}()

	return &Claims{
		UserID: owner.ID,
		Roles:  []string{string(rec.Role)},
	}, nil
}

// Revoke marks a key unusable without deleting its audit trail.
func (s *DeviceKeyService) Revoke(ctx context.Context, keyID string) error {
	res := s.db.WithContext(ctx).Model(&models.DeviceKey{}).
		Where("id = ? AND revoked_at IS NULL", keyID).
		Update("revoked_at", time.Now().UTC())
	if res.Error != nil {
		return fmt.Errorf("revoke device key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDeviceKeyNotFound
	}
	return nil
}

// ListForOwner returns all keys belonging to a user, newest first.
func (s *DeviceKeyService) ListForOwner(ctx context.Context, ownerID string) ([]models.DeviceKey, error) {
	var keys []models.DeviceKey
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&keys).Error
	if err != nil {
		return nil, fmt.Errorf("list device keys: %w", err)
	}
	return keys, nil
}

// Delete removes a key permanently.
func (s *DeviceKeyService) Delete(ctx context.Context, keyID string) error {
	res := s.db.WithContext(ctx).Where("id = ?", keyID).Delete(&models.DeviceKey{})
	if res.Error != nil {
		return fmt.Errorf("delete device key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDeviceKeyNotFound
	}
	return nil
}

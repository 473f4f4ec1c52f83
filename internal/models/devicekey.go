/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// DeviceKey represents a long-lived credential for headless rendering
// clients that cannot run an interactive login flow.
type DeviceKey struct {
	ID         string     `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID    string     `gorm:"type:uuid;index;not null" json:"owner_id"`
	Owner      User       `gorm:"foreignKey:OwnerID" json:"-"`
	Name       string     `gorm:"not null" json:"name"`
	KeyHash    string     `gorm:"not null" json:"-"`
	KeyPrefix  string     `gorm:"size:11" json:"key_prefix"`
	Role       RoleName   `gorm:"type:varchar(16);default:'operator'" json:"role"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  time.Time  `gorm:"not null" json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsExpired returns true if the device key has expired.
func (k *DeviceKey) IsExpired() bool {
	return time.Now().After(k.ExpiresAt)
}

// IsRevoked returns true if the device key has been revoked.
func (k *DeviceKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// IsValid returns true if the device key is neither expired nor revoked.
func (k *DeviceKey) IsValid() bool {
	return !k.IsExpired() && !k.IsRevoked()
}

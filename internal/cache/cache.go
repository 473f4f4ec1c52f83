/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for frequently accessed data.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_vision/internal/manifest"
	"github.com/friendsincode/grimnir_vision/internal/telemetry"
)

// Default TTL values for different cache types
const (
	DefaultVariantTTL  = 15 * time.Minute
	DefaultProfileTTL  = 1 * time.Hour
	DefaultUserTTL     = 5 * time.Minute
	DefaultProgressTTL = 2 * time.Minute
)

// Key prefixes for Redis cache
const (
	KeyVariants      = "grimnir_vision:cache:variants:"       // + manifest URL hash
	KeyProfile       = "grimnir_vision:cache:profile:"        // + profile_id
	KeyOwnerProfiles = "grimnir_vision:cache:owner_profiles:" // + owner_id
	KeyUser          = "grimnir_vision:cache:user:"           // + user_id
	KeyProgress      = "grimnir_vision:cache:progress:"       // + user_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	VariantTTL  time.Duration
	ProfileTTL  time.Duration
	UserTTL     time.Duration
	ProgressTTL time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		VariantTTL:     DefaultVariantTTL,
		ProfileTTL:     DefaultProfileTTL,
		UserTTL:        DefaultUserTTL,
		ProgressTTL:    DefaultProgressTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// Use SCAN to find keys (safer than KEYS for production)
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Variant list caching methods

// variantKey hashes the manifest URL into the keyspace. URLs can carry
// signed query tokens; hashing keeps them out of key listings.
func variantKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return KeyVariants + hex.EncodeToString(sum[:16])
}

// GetVariants retrieves the cached variant list for a manifest URL.
func (c *Cache) GetVariants(ctx context.Context, url string) ([]manifest.ResolutionVariant, bool) {
	var variants []manifest.ResolutionVariant
	found, err := c.get(ctx, variantKey(url), &variants)
	if err != nil || !found {
		telemetry.CacheOperationsTotal.WithLabelValues("variants", "miss").Inc()
		return nil, false
	}
	telemetry.CacheOperationsTotal.WithLabelValues("variants", "hit").Inc()
	c.logger.Debug().Int("count", len(variants)).Msg("variant list cache hit")
	return variants, true
}

// SetVariants caches the variant list for a manifest URL.
func (c *Cache) SetVariants(ctx context.Context, url string, variants []manifest.ResolutionVariant) {
	telemetry.CacheOperationsTotal.WithLabelValues("variants", "set").Inc()
	if err := c.set(ctx, variantKey(url), variants, c.config.VariantTTL); err != nil {
		c.logger.Debug().Err(err).Msg("variant list cache set failed")
	}
}

// InvalidateVariants removes the cached variant list for a manifest URL.
func (c *Cache) InvalidateVariants(ctx context.Context, url string) error {
	telemetry.CacheOperationsTotal.WithLabelValues("variants", "invalidate").Inc()
	return c.delete(ctx, variantKey(url))
}

// Projection profile caching methods

// CachedProfile represents a cached projection profile record.
type CachedProfile struct {
	ID                 string  `json:"id"`
	OwnerID            string  `json:"owner_id"`
	Name               string  `json:"name"`
	Projection         string  `json:"projection"`
	HorizontalFovDeg   float32 `json:"horizontal_fov_deg"`
	AspectRatio        float32 `json:"aspect_ratio"`
	RadiusMeters       float32 `json:"radius_meters"`
	SliceCount         int     `json:"slice_count"`
	VerticalSliceCount int     `json:"vertical_slice_count"`
	Shared             bool    `json:"shared"`
}

// GetProfile retrieves a cached projection profile by ID.
func (c *Cache) GetProfile(ctx context.Context, profileID string) (*CachedProfile, bool) {
	var profile CachedProfile
	found, err := c.get(ctx, KeyProfile+profileID, &profile)
	if err != nil || !found {
		telemetry.CacheOperationsTotal.WithLabelValues("profile", "miss").Inc()
		return nil, false
	}
	telemetry.CacheOperationsTotal.WithLabelValues("profile", "hit").Inc()
	c.logger.Debug().Str("profile_id", profileID).Msg("profile cache hit")
	return &profile, true
}

// SetProfile caches a projection profile.
func (c *Cache) SetProfile(ctx context.Context, profile *CachedProfile) error {
	telemetry.CacheOperationsTotal.WithLabelValues("profile", "set").Inc()
	c.logger.Debug().Str("profile_id", profile.ID).Msg("caching profile")
	return c.set(ctx, KeyProfile+profile.ID, profile, c.config.ProfileTTL)
}

// GetOwnerProfiles retrieves the cached profile list for an owner.
func (c *Cache) GetOwnerProfiles(ctx context.Context, ownerID string) ([]CachedProfile, bool) {
	var profiles []CachedProfile
	found, err := c.get(ctx, KeyOwnerProfiles+ownerID, &profiles)
	if err != nil || !found {
		telemetry.CacheOperationsTotal.WithLabelValues("owner_profiles", "miss").Inc()
		return nil, false
	}
	telemetry.CacheOperationsTotal.WithLabelValues("owner_profiles", "hit").Inc()
	c.logger.Debug().Str("owner_id", ownerID).Int("count", len(profiles)).Msg("owner profiles cache hit")
	return profiles, true
}

// SetOwnerProfiles caches the profile list for an owner.
func (c *Cache) SetOwnerProfiles(ctx context.Context, ownerID string, profiles []CachedProfile) error {
	telemetry.CacheOperationsTotal.WithLabelValues("owner_profiles", "set").Inc()
	c.logger.Debug().Str("owner_id", ownerID).Int("count", len(profiles)).Msg("caching owner profiles")
	return c.set(ctx, KeyOwnerProfiles+ownerID, profiles, c.config.ProfileTTL)
}

// InvalidateProfile removes a profile and its owner's list from cache.
func (c *Cache) InvalidateProfile(ctx context.Context, profileID, ownerID string) error {
	telemetry.CacheOperationsTotal.WithLabelValues("profile", "invalidate").Inc()
	c.logger.Debug().Str("profile_id", profileID).Str("owner_id", ownerID).Msg("invalidating profile cache")

	if err := c.delete(ctx, KeyProfile+profileID); err != nil {
		return err
	}
	return c.delete(ctx, KeyOwnerProfiles+ownerID)
}

// User caching methods

// CachedUser represents a cached user record for auth lookups.
type CachedUser struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Suspended bool   `json:"suspended"`
}

// GetUser retrieves a cached user by ID.
func (c *Cache) GetUser(ctx context.Context, userID string) (*CachedUser, bool) {
	var user CachedUser
	found, err := c.get(ctx, KeyUser+userID, &user)
	if err != nil || !found {
		telemetry.CacheOperationsTotal.WithLabelValues("user", "miss").Inc()
		return nil, false
	}
	telemetry.CacheOperationsTotal.WithLabelValues("user", "hit").Inc()
	c.logger.Debug().Str("user_id", userID).Msg("user cache hit")
	return &user, true
}

// SetUser caches a user record.
func (c *Cache) SetUser(ctx context.Context, user *CachedUser) error {
	telemetry.CacheOperationsTotal.WithLabelValues("user", "set").Inc()
	c.logger.Debug().Str("user_id", user.ID).Msg("caching user")
	return c.set(ctx, KeyUser+user.ID, user, c.config.UserTTL)
}

// InvalidateUser removes a user from cache.
func (c *Cache) InvalidateUser(ctx context.Context, userID string) error {
	telemetry.CacheOperationsTotal.WithLabelValues("user", "invalidate").Inc()
	c.logger.Debug().Str("user_id", userID).Msg("invalidating user cache")
	return c.delete(ctx, KeyUser+userID)
}

// Watch progress caching methods

// CachedProgress represents one cached continue-watching entry.
type CachedProgress struct {
	StreamURL       string    `json:"stream_url"`
	Title           string    `json:"title"`
	PositionSeconds float64   `json:"position_seconds"`
	DurationSeconds float64   `json:"duration_seconds"`
	Finished        bool      `json:"finished"`
	WatchedAt       time.Time `json:"watched_at"`
}

// GetRecentProgress retrieves the cached continue-watching list for a user.
func (c *Cache) GetRecentProgress(ctx context.Context, userID string) ([]CachedProgress, bool) {
	var entries []CachedProgress
	found, err := c.get(ctx, KeyProgress+userID, &entries)
	if err != nil || !found {
		telemetry.CacheOperationsTotal.WithLabelValues("progress", "miss").Inc()
		return nil, false
	}
	telemetry.CacheOperationsTotal.WithLabelValues("progress", "hit").Inc()
	c.logger.Debug().Str("user_id", userID).Int("count", len(entries)).Msg("progress cache hit")
	return entries, true
}

// SetRecentProgress caches the continue-watching list for a user.
func (c *Cache) SetRecentProgress(ctx context.Context, userID string, entries []CachedProgress) error {
	telemetry.CacheOperationsTotal.WithLabelValues("progress", "set").Inc()
	c.logger.Debug().Str("user_id", userID).Int("count", len(entries)).Msg("caching progress list")
	return c.set(ctx, KeyProgress+userID, entries, c.config.ProgressTTL)
}

// InvalidateProgress removes a user's continue-watching list from cache.
func (c *Cache) InvalidateProgress(ctx context.Context, userID string) error {
	telemetry.CacheOperationsTotal.WithLabelValues("progress", "invalidate").Inc()
	c.logger.Debug().Str("user_id", userID).Msg("invalidating progress cache")
	return c.delete(ctx, KeyProgress+userID)
}

// Bulk invalidation methods

// InvalidateUserScope removes all caches tied to one user.
func (c *Cache) InvalidateUserScope(ctx context.Context, userID string) error {
	c.logger.Debug().Str("user_id", userID).Msg("invalidating all user caches")

	if err := c.InvalidateUser(ctx, userID); err != nil {
		return err
	}
	if err := c.delete(ctx, KeyOwnerProfiles+userID); err != nil {
		return err
	}
	return c.InvalidateProgress(ctx, userID)
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, "grimnir_vision:cache:*")
}

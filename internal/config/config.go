/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Event relay backend selection.
type RelayBackend string

const (
	RelayNone  RelayBackend = "none"
	RelayRedis RelayBackend = "redis"
	RelayNATS  RelayBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment     string
	HTTPBind        string
	HTTPPort        int
	BaseURL         string // Public base URL (e.g., http://192.168.195.6:8080)
	DBBackend       DatabaseBackend
	DBDSN           string
	MediaRoot       string
	ProfileFile     string // Optional YAML file of shared projection profiles seeded at startup
	JWTSigningKey   string
	MetricsBind     string
	MaxUploadSizeMB int // Optional global multipart upload limit override for media handlers (MB)

	// Playback engine configuration
	MPVBinary    string   // mpv binary path
	MPVExtraArgs []string // extra args appended to every engine launch

	// Session configuration
	MaxSessions       int
	VideoAutoHideSecs int
	PhotoAutoHideSecs int
	SamplerIntervalMs int // Engine position poll cadence in milliseconds
	ProgressFlushSecs int
	ResumeEnabled     bool
	SessionRetainDays int
	SessionIdleMins   int // Paused sessions idle this long are closed; 0 disables the reaper

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3PublicBaseURL   string // Optional CDN/CloudFront URL
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	EventRelay    RelayBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	NATSSubject   string
	InstanceID    string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:     getEnvAny([]string{"GRIMNIR_VISION_ENV", "GV_ENV"}, "development"),
		HTTPBind:        getEnvAny([]string{"GRIMNIR_VISION_HTTP_BIND", "GV_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:        getEnvIntAny([]string{"GRIMNIR_VISION_HTTP_PORT", "GV_HTTP_PORT"}, 8080),
		BaseURL:         getEnvAny([]string{"GRIMNIR_VISION_BASE_URL", "GV_BASE_URL"}, ""),
		DBBackend:       DatabaseBackend(getEnvAny([]string{"GRIMNIR_VISION_DB_BACKEND", "GV_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:           getEnvAny([]string{"GRIMNIR_VISION_DB_DSN", "GV_DB_DSN"}, ""),
		MediaRoot:       getEnvAny([]string{"GRIMNIR_VISION_MEDIA_ROOT", "GV_MEDIA_ROOT"}, "./media"),
		ProfileFile:     getEnvAny([]string{"GRIMNIR_VISION_PROFILE_FILE", "GV_PROFILE_FILE"}, ""),
		JWTSigningKey:   getEnvAny([]string{"GRIMNIR_VISION_JWT_SIGNING_KEY", "GV_JWT_SIGNING_KEY"}, ""),
		MetricsBind:     getEnvAny([]string{"GRIMNIR_VISION_METRICS_BIND", "GV_METRICS_BIND"}, "127.0.0.1:9000"),
		MaxUploadSizeMB: getEnvIntAny([]string{"GRIMNIR_VISION_MAX_UPLOAD_SIZE_MB", "GV_MAX_UPLOAD_SIZE_MB"}, 0),

		// Playback engine configuration
		MPVBinary:    getEnvAny([]string{"GRIMNIR_VISION_MPV_BINARY", "GV_MPV_BINARY"}, "mpv"),
		MPVExtraArgs: splitArgs(getEnvAny([]string{"GRIMNIR_VISION_MPV_EXTRA_ARGS", "GV_MPV_EXTRA_ARGS"}, "")),

		// Session configuration
		MaxSessions:       getEnvIntAny([]string{"GRIMNIR_VISION_MAX_SESSIONS", "GV_MAX_SESSIONS"}, 8),
		VideoAutoHideSecs: getEnvIntAny([]string{"GRIMNIR_VISION_VIDEO_AUTOHIDE_SECONDS", "GV_VIDEO_AUTOHIDE_SECONDS"}, 10),
		PhotoAutoHideSecs: getEnvIntAny([]string{"GRIMNIR_VISION_PHOTO_AUTOHIDE_SECONDS", "GV_PHOTO_AUTOHIDE_SECONDS"}, 5),
		SamplerIntervalMs: getEnvIntAny([]string{"GRIMNIR_VISION_SAMPLER_INTERVAL_MS", "GV_SAMPLER_INTERVAL_MS"}, 100),
		ProgressFlushSecs: getEnvIntAny([]string{"GRIMNIR_VISION_PROGRESS_FLUSH_SECONDS", "GV_PROGRESS_FLUSH_SECONDS"}, 10),
		ResumeEnabled:     getEnvBoolAny([]string{"GRIMNIR_VISION_RESUME_ENABLED", "GV_RESUME_ENABLED"}, true),
		SessionRetainDays: getEnvIntAny([]string{"GRIMNIR_VISION_SESSION_RETAIN_DAYS", "GV_SESSION_RETAIN_DAYS"}, 90),
		SessionIdleMins:   getEnvIntAny([]string{"GRIMNIR_VISION_SESSION_IDLE_MINUTES", "GV_SESSION_IDLE_MINUTES"}, 240),

		// S3 Object Storage configuration
		S3AccessKeyID:     getEnvAny([]string{"GRIMNIR_VISION_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"GRIMNIR_VISION_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"GRIMNIR_VISION_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"GRIMNIR_VISION_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"GRIMNIR_VISION_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3PublicBaseURL:   getEnvAny([]string{"GRIMNIR_VISION_S3_PUBLIC_BASE_URL", "S3_PUBLIC_BASE_URL"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"GRIMNIR_VISION_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"GRIMNIR_VISION_TRACING_ENABLED", "GV_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"GRIMNIR_VISION_OTLP_ENDPOINT", "GV_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"GRIMNIR_VISION_TRACING_SAMPLE_RATE", "GV_TRACING_SAMPLE_RATE"}, 1.0),

		// Multi-instance configuration
		EventRelay:    RelayBackend(getEnvAny([]string{"GRIMNIR_VISION_EVENT_RELAY", "GV_EVENT_RELAY"}, string(RelayNone))),
		RedisAddr:     getEnvAny([]string{"GRIMNIR_VISION_REDIS_ADDR", "GV_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"GRIMNIR_VISION_REDIS_PASSWORD", "GV_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"GRIMNIR_VISION_REDIS_DB", "GV_REDIS_DB"}, 0),
		NATSURL:       getEnvAny([]string{"GRIMNIR_VISION_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),
		NATSSubject:   getEnvAny([]string{"GRIMNIR_VISION_NATS_SUBJECT", "GV_NATS_SUBJECT"}, "grimnir.vision.events"),
		InstanceID:    getEnvAny([]string{"GRIMNIR_VISION_INSTANCE_ID", "GV_INSTANCE_ID"}, ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("GRIMNIR_VISION_DB_DSN or GV_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("GRIMNIR_VISION_JWT_SIGNING_KEY or GV_JWT_SIGNING_KEY must be provided")
	}

	switch cfg.EventRelay {
	case RelayNone, RelayRedis, RelayNATS:
	default:
		return nil, fmt.Errorf("unsupported event relay backend %q", cfg.EventRelay)
	}

	if cfg.MaxSessions < 1 {
		return nil, fmt.Errorf("GRIMNIR_VISION_MAX_SESSIONS must be at least 1, got %d", cfg.MaxSessions)
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if len(cfg.JWTSigningKey) < 32 || strings.EqualFold(cfg.JWTSigningKey, "changeme") {
			return nil, fmt.Errorf("GRIMNIR_VISION_JWT_SIGNING_KEY must be at least 32 characters and non-default in production")
		}

		if cfg.EventRelay == RelayRedis && cfg.RedisAddr == "" {
			return nil, fmt.Errorf("GRIMNIR_VISION_REDIS_ADDR is required when the redis event relay is enabled in production")
		}
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":         "use GRIMNIR_VISION_ENV (or GV_ENV)",
		"JWT_SIGNING_KEY":     "use GRIMNIR_VISION_JWT_SIGNING_KEY (or GV_JWT_SIGNING_KEY)",
		"TRACING_ENABLED":     "use GRIMNIR_VISION_TRACING_ENABLED (or GV_TRACING_ENABLED)",
		"OTLP_ENDPOINT":       "use GRIMNIR_VISION_OTLP_ENDPOINT (or GV_OTLP_ENDPOINT)",
		"REDIS_ADDR":          "use GRIMNIR_VISION_REDIS_ADDR (or GV_REDIS_ADDR)",
		"MPV_BINARY":          "use GRIMNIR_VISION_MPV_BINARY (or GV_MPV_BINARY)",
		"TRACING_SAMPLE_RATE": "use GRIMNIR_VISION_TRACING_SAMPLE_RATE (or GV_TRACING_SAMPLE_RATE)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// MaxUploadSizeBytes returns the configured upload limit in bytes.
// A value of 0 means "not configured" and callers should use endpoint defaults.
func (c *Config) MaxUploadSizeBytes() int64 {
	if c == nil || c.MaxUploadSizeMB <= 0 {
		return 0
	}
	return int64(c.MaxUploadSizeMB) * 1024 * 1024
}

// splitArgs turns a comma separated env value into an argument list.
func splitArgs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	args := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			args = append(args, p)
		}
	}
	return args
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

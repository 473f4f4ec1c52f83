/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_vision/internal/config"
)

// storageProbeTimeout bounds the health check against a remote backend.
const storageProbeTimeout = 5 * time.Second

// Storage abstracts texture and media object storage.
type Storage interface {
	Store(ctx context.Context, kind, mediaID, extension string, file io.Reader) (string, error)
	Delete(ctx context.Context, storagePath string) error
	URL(storagePath string) string
	CheckAccess(ctx context.Context) error
}

// Service fronts the configured storage backend and owns the media
// path layout.
type Service struct {
	storage Storage
	logger  zerolog.Logger
}

// NewService selects the storage backend from config: S3 when a bucket
// is named, the local media root otherwise.
func NewService(cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	backend, err := newStorageBackend(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Service{
		storage: backend,
		logger:  logger.With().Str("component", "media").Logger(),
	}, nil
}

func newStorageBackend(cfg *config.Config, logger zerolog.Logger) (Storage, error) {
	if cfg.S3Bucket == "" {
		return NewFilesystemStorage(cfg.MediaRoot, logger), nil
	}

	s3cfg := S3Config{
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		Region:          cfg.S3Region,
		Bucket:          cfg.S3Bucket,
		Endpoint:        cfg.S3Endpoint,
		PublicBaseURL:   cfg.S3PublicBaseURL,
		UsePathStyle:    cfg.S3UsePathStyle,
	}
	if s3cfg.AccessKeyID == "" || s3cfg.SecretAccessKey == "" {
		logger.Warn().Msg("S3 credentials not configured, falling back to ambient AWS credentials")
	}

	backend, err := NewS3Storage(context.Background(), s3cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize S3 storage: %w", err)
	}
	return backend, nil
}

// Store writes an uploaded object and returns its storage path.
func (s *Service) Store(ctx context.Context, kind, mediaID, extension string, file io.Reader) (string, error) {
	storagePath, err := s.storage.Store(ctx, kind, mediaID, extension, file)
	if err != nil {
		return "", fmt.Errorf("store media: %w", err)
	}

	s.logger.Info().
		Str("kind", kind).
		Str("media_id", mediaID).
		Str("path", storagePath).
		Msg("media stored")

	return storagePath, nil
}

// Delete removes an object from storage.
func (s *Service) Delete(ctx context.Context, storagePath string) error {
	if err := s.storage.Delete(ctx, storagePath); err != nil {
		return fmt.Errorf("delete media: %w", err)
	}

	s.logger.Info().Str("path", storagePath).Msg("media deleted")
	return nil
}

// URL returns the accessible URL for a stored object.
func (s *Service) URL(storagePath string) string {
	return s.storage.URL(storagePath)
}

// CheckStorageAccess verifies the storage backend is reachable.
func (s *Service) CheckStorageAccess() error {
	ctx, cancel := context.WithTimeout(context.Background(), storageProbeTimeout)
	defer cancel()
	return s.storage.CheckAccess(ctx)
}

// buildMediaPath constructs a hierarchical storage path for a media file.
// Structure: kind/media_id[0:2]/media_id[2:4]/media_id.ext, fanning files
// out so no single directory grows unbounded. Forward slashes throughout;
// the filesystem backend converts on non-Unix hosts.
func buildMediaPath(kind, mediaID, extension string) string {
	if len(mediaID) < 4 {
		return path.Join(kind, mediaID+extension)
	}
	return path.Join(kind, mediaID[0:2], mediaID[2:4], mediaID+extension)
}

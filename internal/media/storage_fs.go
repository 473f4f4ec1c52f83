/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FilesystemStorage keeps media objects under a local root directory.
type FilesystemStorage struct {
	rootDir string
	logger  zerolog.Logger
}

// NewFilesystemStorage returns storage rooted at rootDir.
func NewFilesystemStorage(rootDir string, logger zerolog.Logger) *FilesystemStorage {
	return &FilesystemStorage{rootDir: rootDir, logger: logger}
}

// Store writes the object and returns its slash-separated path relative
// to the media root. The write goes through a temp file in the target
// directory so a failed copy never leaves a truncated object at the
// final path.
func (s *FilesystemStorage) Store(ctx context.Context, kind, mediaID, extension string, file io.Reader) (string, error) {
	relPath := buildMediaPath(kind, mediaID, extension)
	dest := filepath.Join(s.rootDir, filepath.FromSlash(relPath))

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create media directories: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func(stage string, cause error) (string, error) {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("%s: %w", stage, cause)
	}

	if _, err := io.Copy(tmp, file); err != nil {
		return cleanup("write media object", err)
	}
	// CreateTemp opens 0600; media objects should stay readable for
	// external scanners.
	if err := tmp.Chmod(0o644); err != nil {
		return cleanup("chmod media object", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("flush media object: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("finalize media object: %w", err)
	}

	s.logger.Debug().
		Str("kind", kind).
		Str("media_id", mediaID).
		Str("path", relPath).
		Msg("media object stored")

	return relPath, nil
}

// Delete removes the object. Missing objects are not an error.
func (s *FilesystemStorage) Delete(ctx context.Context, storagePath string) error {
	full := filepath.Join(s.rootDir, filepath.FromSlash(storagePath))
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove media object: %w", err)
	}

	s.logger.Debug().Str("path", storagePath).Msg("media object deleted")
	return nil
}

// URL returns the absolute filesystem path. The playback engine opens
// local textures directly, so the URL must be resolvable by the process
// rather than by a browser.
func (s *FilesystemStorage) URL(storagePath string) string {
	full := filepath.Join(s.rootDir, filepath.FromSlash(storagePath))
	if abs, err := filepath.Abs(full); err == nil {
		return abs
	}
	return full
}

// CheckAccess verifies the media root exists and is a directory.
func (s *FilesystemStorage) CheckAccess(ctx context.Context) error {
	info, err := os.Stat(s.rootDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("media root %s does not exist", s.rootDir)
	case err != nil:
		return fmt.Errorf("stat media root: %w", err)
	case !info.IsDir():
		return fmt.Errorf("media root %s is not a directory", s.rootDir)
	}
	return nil
}

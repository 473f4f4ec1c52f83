/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind classifies a library entry by how the projection surface consumes it.
type Kind string

const (
	KindVideo Kind = "video"
	KindPhoto Kind = "photo"
)

// Entry is one playable file found under the media root. Path is
// relative to the media root and always uses forward slashes.
type Entry struct {
	Path    string    `json:"path"`
	Kind    Kind      `json:"kind"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// ScanResult summarizes one library scan.
type ScanResult struct {
	Found    int
	Skipped  int
	Errors   int
	Duration time.Duration
}

// Library catalogs playable files under the media root so the API can
// offer local media without callers typing filesystem paths.
type Library struct {
	mediaRoot string
	logger    zerolog.Logger

	mu      sync.RWMutex
	entries []Entry
	scanned time.Time
}

// NewLibrary creates a library over the given media root.
func NewLibrary(mediaRoot string, logger zerolog.Logger) *Library {
	return &Library{
		mediaRoot: mediaRoot,
		logger:    logger.With().Str("component", "library").Logger(),
	}
}

// Scan walks the media root and rebuilds the catalog. Unreadable files
// are counted and skipped rather than aborting the walk.
func (l *Library) Scan(ctx context.Context) (*ScanResult, error) {
	startTime := time.Now()
	result := &ScanResult{}
	var entries []Entry

	l.logger.Info().Str("media_root", l.mediaRoot).Msg("starting library scan")

	err := filepath.Walk(l.mediaRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("error accessing path")
			result.Errors++
			return nil // Continue walking
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if info.IsDir() {
			return nil
		}

		kind, ok := KindForPath(info.Name())
		if !ok {
			result.Skipped++
			return nil
		}

		relPath, err := filepath.Rel(l.mediaRoot, path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("failed to get relative path")
			result.Errors++
			return nil
		}

		entries = append(entries, Entry{
			Path:    filepath.ToSlash(relPath),
			Kind:    kind,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		result.Found++

		return nil
	})
	if err != nil && err != context.Canceled {
		return nil, fmt.Errorf("walk media root: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	l.mu.Lock()
	l.entries = entries
	l.scanned = time.Now()
	l.mu.Unlock()

	result.Duration = time.Since(startTime)

	l.logger.Info().
		Int("found", result.Found).
		Int("skipped", result.Skipped).
		Int("errors", result.Errors).
		Dur("duration", result.Duration).
		Msg("library scan complete")

	return result, nil
}

// Entries returns a copy of the current catalog.
func (l *Library) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// LastScanned reports when the catalog was last rebuilt. Zero means never.
func (l *Library) LastScanned() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.scanned
}

// Resolve maps a catalog-relative path to an absolute filesystem path.
// Paths that escape the media root are rejected.
func (l *Library) Resolve(relPath string) (string, error) {
	full := filepath.Join(l.mediaRoot, filepath.FromSlash(relPath))
	rel, err := filepath.Rel(l.mediaRoot, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes media root: %s", relPath)
	}
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", relPath, err)
	}
	return abs, nil
}

// KindForPath classifies a filename by extension. The second return is
// false for files the projection surface cannot play.
func KindForPath(name string) (Kind, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".mkv", ".webm", ".mov", ".m4v", ".avi", ".ts":
		return KindVideo, true
	case ".jpg", ".jpeg", ".png":
		return KindPhoto, true
	default:
		return "", false
	}
}

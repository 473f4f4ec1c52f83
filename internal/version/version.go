/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries build identity and the release update check.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Build identity, stamped via ldflags:
//
//	-X github.com/friendsincode/grimnir_vision/internal/version.Version=X.Y.Z
//	-X github.com/friendsincode/grimnir_vision/internal/version.Commit=<sha>
var (
	Version = "1.2.0"
	Commit  = ""
)

const defaultReleasesURL = "https://api.github.com/repos/friendsincode/grimnir_vision/releases/latest"

// UpdateInfo is the result of the most recent release check.
type UpdateInfo struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version,omitempty"`
	UpdateAvailable bool      `json:"update_available"`
	ReleaseURL      string    `json:"release_url,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// Checker polls the release feed and remembers whether a newer version
// exists. A failed check is logged at debug and leaves the last result
// standing.
type Checker struct {
	logger   zerolog.Logger
	client   *http.Client
	url      string
	interval time.Duration

	mu     sync.RWMutex
	info   UpdateInfo
	cancel context.CancelFunc
}

func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		logger:   logger.With().Str("component", "update_checker").Logger(),
		client:   &http.Client{Timeout: 10 * time.Second},
		url:      defaultReleasesURL,
		interval: 6 * time.Hour,
		info:     UpdateInfo{CurrentVersion: Version},
	}
}

// Start launches the poll loop. The first check runs inside the loop
// goroutine so startup never waits on the network.
func (c *Checker) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go func() {
		c.check(ctx)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.check(ctx)
			}
		}
	}()
}

func (c *Checker) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Info returns a copy of the last check result.
func (c *Checker) Info() UpdateInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

type release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

func (c *Checker) check(ctx context.Context) {
	latest, err := c.fetchLatest(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("release check failed")
		return
	}

	tag := strings.TrimPrefix(latest.TagName, "v")
	info := UpdateInfo{
		CurrentVersion:  Version,
		LatestVersion:   tag,
		UpdateAvailable: Compare(Version, tag) < 0,
		ReleaseURL:      latest.HTMLURL,
		CheckedAt:       time.Now().UTC(),
	}

	c.mu.Lock()
	c.info = info
	c.mu.Unlock()

	if info.UpdateAvailable {
		c.logger.Info().
			Str("current", Version).
			Str("latest", tag).
			Str("url", info.ReleaseURL).
			Msg("newer release available")
	}
}

func (c *Checker) fetchLatest(ctx context.Context) (*release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "grimnirvision/"+Version)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release feed returned %d", resp.StatusCode)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}
	return &rel, nil
}

// Compare orders two dotted version strings; negative means a is older
// than b. A leading "v" and anything after a hyphen are ignored.
func Compare(a, b string) int {
	av, bv := versionFields(a), versionFields(b)
	for i := range av {
		if av[i] != bv[i] {
			if av[i] < bv[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func versionFields(v string) [3]int {
	v = strings.TrimPrefix(v, "v")
	if base, _, found := strings.Cut(v, "-"); found {
		v = base
	}

	var out [3]int
	for i, part := range strings.SplitN(v, ".", 3) {
		n, err := strconv.Atoi(part)
		if err != nil {
			break
		}
		out[i] = n
	}
	return out
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package manifest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/friendsincode/grimnir_vision/internal/telemetry"
)

const (
	fetchTimeout   = 15 * time.Second
	maxBodyBytes   = 4 << 20
	fetchUserAgent = "Grimnir-Vision/1.0"
)

// VariantCache stores parsed variant lists keyed by manifest URL. A nil
// cache is valid and disables caching.
type VariantCache interface {
	GetVariants(ctx context.Context, url string) ([]ResolutionVariant, bool)
	SetVariants(ctx context.Context, url string, variants []ResolutionVariant)
}

// Fetcher retrieves variant manifests over HTTP. Only transport failures
// and error statuses are fatal; body content that parses to zero variants
// is a valid (empty) result.
type Fetcher struct {
	client *http.Client
	cache  VariantCache
	logger zerolog.Logger
}

func NewFetcher(cache VariantCache, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout:   fetchTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cache:  cache,
		logger: logger.With().Str("component", "manifest_fetcher").Logger(),
	}
}

// Fetch downloads the raw manifest body.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		telemetry.ManifestFetchesTotal.WithLabelValues("transport_error").Inc()
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		telemetry.ManifestFetchesTotal.WithLabelValues("http_error").Inc()
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		telemetry.ManifestFetchesTotal.WithLabelValues("read_error").Inc()
		return "", fmt.Errorf("read body: %w", err)
	}

	telemetry.ManifestFetchesTotal.WithLabelValues("ok").Inc()
	return string(body), nil
}

// FetchVariants downloads and parses a manifest, consulting the cache
// first. Cache writes are best effort.
func (f *Fetcher) FetchVariants(ctx context.Context, url string) ([]ResolutionVariant, error) {
	if f.cache != nil {
		if variants, ok := f.cache.GetVariants(ctx, url); ok {
			telemetry.ManifestCacheHitsTotal.Inc()
			return variants, nil
		}
		telemetry.ManifestCacheMissesTotal.Inc()
	}

	body, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	variants := Parse(body)
	f.logger.Debug().Str("url", url).Int("variants", len(variants)).Msg("manifest parsed")

	if f.cache != nil {
		f.cache.SetVariants(ctx, url, variants)
	}
	return variants, nil
}

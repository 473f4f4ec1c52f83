/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"fmt"
	"image"
	"io"
	"os"

	// Registered for image.DecodeConfig header sniffing only.
	_ "image/jpeg"
	_ "image/png"

	"github.com/friendsincode/grimnir_vision/internal/telemetry"
)

// ProbeResult describes a still-image texture.
type ProbeResult struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Format      string  `json:"format"`
	AspectRatio float32 `json:"aspect_ratio"`
}

// Probe reads just enough of an image stream to determine its pixel
// dimensions. Pixels are never decoded, so probing a large panorama
// costs a few hundred bytes of reads.
func Probe(r io.Reader) (*ProbeResult, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		telemetry.MediaProbesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("decode image config: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		telemetry.MediaProbesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("image reports invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}

	telemetry.MediaProbesTotal.WithLabelValues("ok").Inc()
	return &ProbeResult{
		Width:       cfg.Width,
		Height:      cfg.Height,
		Format:      format,
		AspectRatio: float32(cfg.Width) / float32(cfg.Height),
	}, nil
}

// ProbeFile probes an image on disk.
func ProbeFile(path string) (*ProbeResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Probe(f)
}

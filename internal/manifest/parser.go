/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package manifest parses variant playlists: text indexes listing multiple
// encoded renditions of the same media by resolution, each followed by its
// sub-resource URL.
package manifest

import (
	"sort"
	"strconv"
	"strings"
)

// ResolutionVariant is one rendition advertised by a variant manifest.
type ResolutionVariant struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Label  string `json:"label"`
	URL    string `json:"url"`
}

// Parse scans manifest text for RESOLUTION= attributes. The line
// immediately following an attribute line is taken as that variant's URL,
// whatever it contains; manifests that interleave blank lines or extra
// attributes between the two will misattribute, which matches the
// documented format. Malformed records are skipped, never fatal. Variants
// whose height maps to no known label are dropped. The result is sorted
// descending by width; order among equal widths is unspecified.
func Parse(text string) []ResolutionVariant {
	lines := strings.Split(text, "\n")
	variants := make([]ResolutionVariant, 0, 4)

	for i, line := range lines {
		if !strings.Contains(line, "RESOLUTION=") {
			continue
		}
		if i+1 >= len(lines) {
			break
		}

		width, height, ok := parseResolution(line)
		if !ok {
			continue
		}

		label := heightLabel(height)
		if label == "" {
			continue
		}

		variants = append(variants, ResolutionVariant{
			Width:  width,
			Height: height,
			Label:  label,
			URL:    strings.TrimSpace(lines[i+1]),
		})
	}

	sort.Slice(variants, func(a, b int) bool {
		return variants[a].Width > variants[b].Width
	})

	return variants
}

// parseResolution extracts WIDTHxHEIGHT from an attribute line.
func parseResolution(line string) (width, height int, ok bool) {
	idx := strings.Index(line, "RESOLUTION=")
	value := line[idx+len("RESOLUTION="):]
	if comma := strings.Index(value, ","); comma != -1 {
		value = value[:comma]
	}
	value = strings.TrimSpace(value)

	parts := strings.Split(value, "x")
	if len(parts) != 2 {
		return 0, 0, false
	}

	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	height, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}

	return width, height, true
}

// heightLabel maps a pixel height onto its marketing label. Heights outside
// every band produce an empty label and the variant is excluded.
func heightLabel(height int) string {
	switch {
	case height == 720:
		return "720p"
	case height == 1080:
		return "1080p"
	case height >= 8192:
		return "16K"
	case height >= 7168:
		return "14K"
	case height >= 6144:
		return "12K"
	case height >= 5120:
		return "10K"
	case height >= 3840:
		return "8K"
	case height >= 3072:
		return "6K"
	case height >= 2048:
		return "4K"
	default:
		return ""
	}
}

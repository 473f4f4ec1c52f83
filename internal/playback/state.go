/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playback owns the authoritative playback state machine: pause
// and buffering flags, the control panel visibility countdown, scrub
// gestures, and time/duration telemetry sampled from the media engine.
package playback

import (
	"errors"

	"github.com/friendsincode/grimnir_vision/internal/manifest"
)

var (
	// ErrNoStream is returned by commands that require an open stream.
	ErrNoStream = errors.New("no stream open")
	// ErrUnknownVariant is returned when a variant label is not offered
	// by the current stream.
	ErrUnknownVariant = errors.New("unknown variant label")
)

// MediaKind distinguishes moving video from still photos. The panel
// auto-hide delay differs between the two.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaPhoto MediaKind = "photo"
)

// ScrubState tracks the panel scrub gesture. A gesture moves
// NotScrubbing -> ScrubStarted -> ScrubEnded and returns to NotScrubbing
// once the single deferred seek lands.
type ScrubState string

const (
	NotScrubbing ScrubState = "not_scrubbing"
	ScrubStarted ScrubState = "scrub_started"
	ScrubEnded   ScrubState = "scrub_ended"
)

// StreamDescriptor identifies what to open and how to project it.
// Identity is the URL string.
type StreamDescriptor struct {
	URL       string    `json:"url"`
	MediaKind MediaKind `json:"media_kind"`
	Title     string    `json:"title,omitempty"`
	Details   string    `json:"details,omitempty"`

	// IsSecurityScoped marks URLs obtained through a scoped access grant;
	// the opener is responsible for keeping the scope alive while the
	// stream is open.
	IsSecurityScoped bool `json:"is_security_scoped,omitempty"`

	// Projection selects the surface shape; interpreted by the surface
	// coordinator, not here. ForceFovDeg overrides whatever FOV the media
	// implies; FallbackFovDeg applies when nothing forces one.
	Projection     string   `json:"projection,omitempty"`
	ForceFovDeg    *float32 `json:"force_fov_deg,omitempty"`
	FallbackFovDeg float32  `json:"fallback_fov_deg,omitempty"`
	AspectRatio    float32  `json:"aspect_ratio,omitempty"`
}

// FovDeg resolves the effective horizontal field of view.
func (d StreamDescriptor) FovDeg() float32 {
	if d.ForceFovDeg != nil {
		return *d.ForceFovDeg
	}
	return d.FallbackFovDeg
}

// State is a snapshot of the controller. Time values are float seconds,
// matching the engine's native unit; DurationSeconds is zero until the
// engine reports one.
type State struct {
	StreamURL     string    `json:"stream_url"`
	MediaKind     MediaKind `json:"media_kind"`
	Title         string    `json:"title,omitempty"`
	Details       string    `json:"details,omitempty"`
	Paused        bool      `json:"paused"`
	Buffering     bool      `json:"buffering"`
	HasReachedEnd bool      `json:"has_reached_end"`
	PanelVisible  bool      `json:"panel_visible"`

	CurrentTimeSeconds float64 `json:"current_time_seconds"`
	DurationSeconds    float64 `json:"duration_seconds"`
	BitrateBps         int64   `json:"bitrate_bps"`

	Scrub              ScrubState `json:"scrub_state"`
	ScrubTargetSeconds float64    `json:"scrub_target_seconds"`

	Variants      []manifest.ResolutionVariant `json:"variants,omitempty"`
	ActiveVariant string                       `json:"active_variant,omitempty"`
	LastError     string                       `json:"last_error,omitempty"`
}

// Open reports whether a stream is loaded.
func (s State) Open() bool {
	return s.StreamURL != ""
}

// Scrubbing reports whether a scrub gesture is in flight; the telemetry
// sampler must not move the playhead while it is.
func (s State) Scrubbing() bool {
	return s.Scrub != NotScrubbing
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mediaengine abstracts the external playback engine that decodes
// media and renders onto projection surfaces. The service drives it over a
// command boundary; position and duration travel as float seconds because
// that is the engine's native unit, and duration may legitimately arrive as
// NaN while the engine has nothing loaded.
package mediaengine

import (
	"context"
	"errors"
)

// ErrPropertyUnavailable is returned when the engine has no value for a
// queried property, typically because nothing is loaded yet. Callers poll
// through it rather than treating it as a failure.
var ErrPropertyUnavailable = errors.New("engine property unavailable")

// EventKind identifies an asynchronous engine notification.
type EventKind string

const (
	EventDurationChanged  EventKind = "duration_changed"
	EventBufferingChanged EventKind = "buffering_changed"
	EventEndOfStream      EventKind = "end_of_stream"
	EventError            EventKind = "error"
)

// Event is an asynchronous notification from the engine.
type Event struct {
	Kind            EventKind
	DurationSeconds float64
	Buffering       bool
	Message         string
}

// Engine is the playback engine boundary. Implementations must be safe for
// concurrent use; command methods may block on engine I/O and honor ctx.
type Engine interface {
	// Load replaces the current media with the given URL or path.
	Load(ctx context.Context, target string) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	// SeekTo moves to an absolute position in seconds.
	SeekTo(ctx context.Context, seconds float64) error
	Position(ctx context.Context) (float64, error)
	Duration(ctx context.Context) (float64, error)
	// BitrateBps reports the current media bitrate, when the engine knows it.
	BitrateBps(ctx context.Context) (int64, error)
	// Events delivers engine notifications until Close.
	Events() <-chan Event
	Close() error
}

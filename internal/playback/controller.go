/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/manifest"
	"github.com/friendsincode/grimnir_vision/internal/mediaengine"
	"github.com/friendsincode/grimnir_vision/internal/telemetry"
)

// Options tunes controller timing.
type Options struct {
	// AutoHideVideoDelay is how long the panel stays up over video
	// before hiding itself.
	AutoHideVideoDelay time.Duration
	// AutoHidePhotoDelay is the same countdown over still photos.
	AutoHidePhotoDelay time.Duration
	// SampleInterval is the engine position polling period.
	SampleInterval time.Duration
}

// DefaultOptions returns production timing: 10s/5s auto-hide, 10Hz sampling.
func DefaultOptions() Options {
	return Options{
		AutoHideVideoDelay: 10 * time.Second,
		AutoHidePhotoDelay: 5 * time.Second,
		SampleInterval:     100 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.AutoHideVideoDelay <= 0 {
		o.AutoHideVideoDelay = d.AutoHideVideoDelay
	}
	if o.AutoHidePhotoDelay <= 0 {
		o.AutoHidePhotoDelay = d.AutoHidePhotoDelay
	}
	if o.SampleInterval <= 0 {
		o.SampleInterval = d.SampleInterval
	}
	return o
}

// Controller serializes all playback mutations behind one mutex. Engine
// I/O happens outside the lock; every command captures the stream epoch
// first and re-checks it before applying effects, so completions landing
// after the stream was replaced become no-ops instead of corrupting the
// new stream's state.
type Controller struct {
	logger    zerolog.Logger
	engine    mediaengine.Engine
	bus       *events.Bus
	opts      Options
	heartbeat func()

	mu    sync.Mutex
	st    State
	desc  StreamDescriptor
	epoch uint64

	hideGen   uint64
	hideTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates a playback controller. heartbeat is called on
// every successful engine poll and may be nil.
func NewController(engine mediaengine.Engine, bus *events.Bus, opts Options, heartbeat func(), logger zerolog.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		logger:    logger.With().Str("component", "playback_controller").Logger(),
		engine:    engine,
		bus:       bus,
		opts:      opts.withDefaults(),
		heartbeat: heartbeat,
		st:        State{Scrub: NotScrubbing, Paused: true, PanelVisible: true},
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the engine event watcher and the telemetry sampler.
func (c *Controller) Start() {
	c.wg.Add(2)
	go c.eventLoop()
	go c.sampleLoop()
}

// Stop halts background loops and cancels any pending panel countdown.
// It does not close the engine; the engine outlives its controllers.
func (c *Controller) Stop() {
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	c.cancelAutoHideLocked()
	c.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.st
	st.Variants = append([]manifest.ResolutionVariant(nil), c.st.Variants...)
	return st
}

// Descriptor returns the currently open stream descriptor.
func (c *Controller) Descriptor() StreamDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desc
}

// OpenStream replaces the current stream. Any effect still in flight for
// the previous stream is invalidated by the epoch bump.
func (c *Controller) OpenStream(ctx context.Context, desc StreamDescriptor) error {
	if desc.URL == "" {
		return ErrNoStream
	}
	if desc.MediaKind == "" {
		desc.MediaKind = MediaVideo
	}

	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.cancelAutoHideLocked()
	c.desc = desc
	c.st = State{
		StreamURL:    desc.URL,
		MediaKind:    desc.MediaKind,
		Title:        desc.Title,
		Details:      desc.Details,
		PanelVisible: true,
		Scrub:        NotScrubbing,
	}
	c.publishStateLocked()
	c.mu.Unlock()

	if err := c.engine.Load(ctx, desc.URL); err != nil {
		c.failVisible(epoch, "load failed", err)
		return err
	}
	if err := c.engine.Play(ctx); err != nil {
		c.failVisible(epoch, "autoplay failed", err)
		return err
	}

	c.mu.Lock()
	if epoch == c.epoch {
		c.st.Paused = false
		c.scheduleAutoHideLocked()
		c.publishStateLocked()
	}
	c.mu.Unlock()

	telemetry.StreamsOpenedTotal.WithLabelValues(string(desc.MediaKind)).Inc()
	c.logger.Info().Str("url", desc.URL).Str("kind", string(desc.MediaKind)).Msg("stream opened")
	return nil
}

// Play resumes playback and restarts the panel countdown. Playing from a
// finished stream restarts it: the playhead rewinds to zero before the
// engine resumes.
func (c *Controller) Play(ctx context.Context) error {
	c.mu.Lock()
	if !c.st.Open() {
		c.mu.Unlock()
		return ErrNoStream
	}
	epoch := c.epoch
	fromEnd := c.st.HasReachedEnd
	c.mu.Unlock()

	if fromEnd {
		if err := c.engine.SeekTo(ctx, 0); err != nil {
			c.failVisible(epoch, "restart seek failed", err)
			return err
		}
	}
	if err := c.engine.Play(ctx); err != nil {
		c.failVisible(epoch, "play failed", err)
		return err
	}

	c.mu.Lock()
	if epoch == c.epoch {
		c.st.Paused = false
		c.st.HasReachedEnd = false
		if fromEnd {
			c.st.CurrentTimeSeconds = 0
		}
		c.st.PanelVisible = true
		c.scheduleAutoHideLocked()
		c.publishStateLocked()
	}
	c.mu.Unlock()
	return nil
}

// Pause halts playback. The panel stays up; the auto-hide countdown only
// dismisses over actively playing media.
func (c *Controller) Pause(ctx context.Context) error {
	c.mu.Lock()
	if !c.st.Open() {
		c.mu.Unlock()
		return ErrNoStream
	}
	epoch := c.epoch
	c.mu.Unlock()

	if err := c.engine.Pause(ctx); err != nil {
		c.failVisible(epoch, "pause failed", err)
		return err
	}

	c.mu.Lock()
	if epoch == c.epoch {
		c.st.Paused = true
		c.st.PanelVisible = true
		c.cancelAutoHideLocked()
		c.publishStateLocked()
	}
	c.mu.Unlock()
	return nil
}

// TogglePlay flips between Play and Pause.
func (c *Controller) TogglePlay(ctx context.Context) error {
	c.mu.Lock()
	paused := c.st.Paused
	open := c.st.Open()
	c.mu.Unlock()
	if !open {
		return ErrNoStream
	}
	if paused {
		return c.Play(ctx)
	}
	return c.Pause(ctx)
}

// SeekRelative jumps the playhead by delta seconds, clamped to the known
// media window. Landing anywhere clears the end-of-stream latch.
func (c *Controller) SeekRelative(ctx context.Context, delta float64) error {
	c.mu.Lock()
	if !c.st.Open() {
		c.mu.Unlock()
		return ErrNoStream
	}
	target := c.st.CurrentTimeSeconds + delta
	if target < 0 {
		target = 0
	}
	if c.st.DurationSeconds > 0 && target > c.st.DurationSeconds {
		target = c.st.DurationSeconds
	}
	epoch := c.epoch
	c.st.PanelVisible = true
	c.publishStateLocked()
	c.mu.Unlock()

	return c.applySeek(ctx, epoch, target)
}

// SeekTo jumps the playhead to an absolute position, clamped to the known
// duration. Restores use this so the target does not drift with whatever
// the sampler has read since open.
func (c *Controller) SeekTo(ctx context.Context, seconds float64) error {
	c.mu.Lock()
	if !c.st.Open() {
		c.mu.Unlock()
		return ErrNoStream
	}
	target := seconds
	if target < 0 {
		target = 0
	}
	if c.st.DurationSeconds > 0 && target > c.st.DurationSeconds {
		target = c.st.DurationSeconds
	}
	epoch := c.epoch
	c.st.PanelVisible = true
	c.publishStateLocked()
	c.mu.Unlock()

	return c.applySeek(ctx, epoch, target)
}

// ClearStream stops playback and forgets the descriptor. The engine
// pauses but stays alive for the next OpenStream.
func (c *Controller) ClearStream(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	c.cancelAutoHideLocked()
	c.desc = StreamDescriptor{}
	c.st = State{Scrub: NotScrubbing, Paused: true, PanelVisible: true}
	c.publishStateLocked()
	c.mu.Unlock()

	if err := c.engine.Pause(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("engine pause on stop failed")
	}
	return nil
}

// ShowPanel raises the control panel and restarts the countdown.
func (c *Controller) ShowPanel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.PanelVisible = true
	c.scheduleAutoHideLocked()
	c.publishPanelLocked()
}

// HidePanel dismisses the panel immediately and cancels the countdown.
func (c *Controller) HidePanel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.PanelVisible = false
	c.cancelAutoHideLocked()
	c.publishPanelLocked()
}

// TogglePanel flips panel visibility.
func (c *Controller) TogglePanel() {
	c.mu.Lock()
	visible := c.st.PanelVisible
	c.mu.Unlock()
	if visible {
		c.HidePanel()
	} else {
		c.ShowPanel()
	}
}

// BeginScrub freezes the displayed playhead and pins the panel up for the
// duration of the gesture. Repeat calls while scrubbing are no-ops.
func (c *Controller) BeginScrub() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.st.Open() {
		return ErrNoStream
	}
	if c.st.Scrub != NotScrubbing {
		return nil
	}
	c.st.Scrub = ScrubStarted
	c.st.ScrubTargetSeconds = c.st.CurrentTimeSeconds
	c.st.PanelVisible = true
	c.cancelAutoHideLocked()
	c.bus.Publish(events.EventScrubStarted, events.Payload{
		"position_seconds": c.st.ScrubTargetSeconds,
	})
	c.publishStateLocked()
	return nil
}

// SetScrubTime moves the scrub target. No engine traffic happens until
// EndScrub; a gesture produces exactly one seek.
func (c *Controller) SetScrubTime(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.Scrub != ScrubStarted {
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	if c.st.DurationSeconds > 0 && seconds > c.st.DurationSeconds {
		seconds = c.st.DurationSeconds
	}
	c.st.ScrubTargetSeconds = seconds
	c.publishStateLocked()
}

// EndScrub commits the gesture: one seek to the final target. On landing,
// the end-of-stream latch clears and the panel countdown restarts.
func (c *Controller) EndScrub(ctx context.Context) error {
	c.mu.Lock()
	if c.st.Scrub != ScrubStarted {
		c.mu.Unlock()
		return nil
	}
	c.st.Scrub = ScrubEnded
	target := c.st.ScrubTargetSeconds
	epoch := c.epoch
	c.bus.Publish(events.EventScrubEnded, events.Payload{
		"target_seconds": target,
	})
	c.mu.Unlock()

	telemetry.ScrubGesturesTotal.Inc()
	return c.applySeek(ctx, epoch, target)
}

// SetAspectRatio records the aspect ratio reported for the loaded texture
// and notifies geometry subscribers so the projection follows it.
func (c *Controller) SetAspectRatio(aspect float32) {
	if aspect <= 0 {
		return
	}
	c.mu.Lock()
	if c.desc.AspectRatio == aspect {
		c.mu.Unlock()
		return
	}
	c.desc.AspectRatio = aspect
	c.mu.Unlock()

	c.bus.Publish(events.EventGeometryChanged, events.Payload{
		"aspect_ratio": aspect,
	})
}

// SetFieldOfView forces the horizontal FOV and notifies geometry
// subscribers. Zero or negative values clear the override, falling back to
// the descriptor's fallback FOV.
func (c *Controller) SetFieldOfView(fovDeg float32) {
	c.mu.Lock()
	if fovDeg > 0 {
		fov := fovDeg
		c.desc.ForceFovDeg = &fov
	} else {
		c.desc.ForceFovDeg = nil
	}
	effective := c.desc.FovDeg()
	c.mu.Unlock()

	c.bus.Publish(events.EventGeometryChanged, events.Payload{
		"horizontal_fov_deg": effective,
	})
}

// SetVariants attaches the variant list resolved for the open stream.
func (c *Controller) SetVariants(variants []manifest.ResolutionVariant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.Variants = append([]manifest.ResolutionVariant(nil), variants...)
	if len(variants) > 0 && c.st.ActiveVariant == "" {
		c.st.ActiveVariant = variants[0].Label
	}
	c.publishStateLocked()
}

// SelectVariant switches to the rendition with the given label,
// preserving position and pause state across the reload.
func (c *Controller) SelectVariant(ctx context.Context, label string) error {
	c.mu.Lock()
	if !c.st.Open() {
		c.mu.Unlock()
		return ErrNoStream
	}
	var url string
	for _, v := range c.st.Variants {
		if v.Label == label {
			url = v.URL
			break
		}
	}
	if url == "" {
		c.mu.Unlock()
		return ErrUnknownVariant
	}
	position := c.st.CurrentTimeSeconds
	paused := c.st.Paused
	epoch := c.epoch
	c.mu.Unlock()

	if err := c.engine.Load(ctx, url); err != nil {
		c.failVisible(epoch, "variant load failed", err)
		return err
	}
	if err := c.engine.SeekTo(ctx, position); err != nil {
		c.logger.Warn().Err(err).Str("label", label).Msg("variant position restore failed")
	}
	if !paused {
		if err := c.engine.Play(ctx); err != nil {
			c.failVisible(epoch, "variant resume failed", err)
			return err
		}
	}

	c.mu.Lock()
	if epoch == c.epoch {
		c.st.ActiveVariant = label
		c.bus.Publish(events.EventVariantSelected, events.Payload{
			"label": label,
			"url":   url,
		})
		c.publishStateLocked()
	}
	c.mu.Unlock()

	c.logger.Info().Str("label", label).Msg("variant selected")
	return nil
}

// applySeek performs the engine seek and applies its effects only if the
// stream epoch is unchanged when it lands.
func (c *Controller) applySeek(ctx context.Context, epoch uint64, target float64) error {
	err := c.engine.SeekTo(ctx, target)

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return nil
	}
	if err != nil {
		c.st.Scrub = NotScrubbing
		c.st.PanelVisible = true
		c.st.LastError = err.Error()
		c.cancelAutoHideLocked()
		c.publishStateLocked()
		return err
	}
	c.st.Scrub = NotScrubbing
	c.st.CurrentTimeSeconds = target
	c.st.HasReachedEnd = false
	c.scheduleAutoHideLocked()
	c.publishStateLocked()
	return nil
}

// failVisible applies command failure under the epoch guard: playback is
// considered paused, the panel stays up, and the title/details surface the
// failure so it is never silent.
func (c *Controller) failVisible(epoch uint64, what string, err error) {
	c.logger.Error().Err(err).Msg(what)
	telemetry.PlaybackErrorsTotal.WithLabelValues(what).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return
	}
	c.st.Paused = true
	c.st.PanelVisible = true
	c.st.Title = what
	c.st.Details = err.Error()
	c.st.LastError = err.Error()
	c.cancelAutoHideLocked()
	c.bus.Publish(events.EventPlaybackError, events.Payload{
		"what":  what,
		"error": err.Error(),
	})
	c.publishStateLocked()
}

func (c *Controller) publishStateLocked() {
	c.bus.Publish(events.EventPlaybackState, events.Payload{
		"stream_url":      c.st.StreamURL,
		"media_kind":      string(c.st.MediaKind),
		"paused":          c.st.Paused,
		"buffering":       c.st.Buffering,
		"has_reached_end": c.st.HasReachedEnd,
		"panel_visible":   c.st.PanelVisible,
		"current_time":    c.st.CurrentTimeSeconds,
		"duration":        c.st.DurationSeconds,
		"scrub_state":     string(c.st.Scrub),
	})
}

func (c *Controller) publishPanelLocked() {
	c.bus.Publish(events.EventPanelVisibility, events.Payload{
		"visible": c.st.PanelVisible,
	})
}

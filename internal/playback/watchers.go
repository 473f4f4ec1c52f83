/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/mediaengine"
	"github.com/friendsincode/grimnir_vision/internal/telemetry"
)

const (
	samplePollTimeout = time.Second
	bitrateEveryNth   = 10
)

// eventLoop applies engine notifications until shutdown or engine close.
func (c *Controller) eventLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-c.engine.Events():
			if !ok {
				return
			}
			c.handleEngineEvent(ev)
		}
	}
}

func (c *Controller) handleEngineEvent(ev mediaengine.Event) {
	switch ev.Kind {
	case mediaengine.EventDurationChanged:
		// NaN means the engine has nothing loaded; the last known
		// duration stays authoritative.
		if math.IsNaN(ev.DurationSeconds) {
			return
		}
		c.mu.Lock()
		c.st.DurationSeconds = ev.DurationSeconds
		c.bus.Publish(events.EventPlaybackDuration, events.Payload{
			"duration_seconds": ev.DurationSeconds,
		})
		c.publishStateLocked()
		c.mu.Unlock()

	case mediaengine.EventBufferingChanged:
		c.mu.Lock()
		was := c.st.Buffering
		c.st.Buffering = ev.Buffering
		if was && !ev.Buffering {
			// Stall recovered; the panel countdown starts over so a
			// dismissal does not land mid-rebuffer.
			c.scheduleAutoHideLocked()
		}
		c.bus.Publish(events.EventPlaybackBuffering, events.Payload{
			"buffering": ev.Buffering,
		})
		c.publishStateLocked()
		c.mu.Unlock()
		if ev.Buffering {
			telemetry.BufferingEpisodesTotal.Inc()
		}

	case mediaengine.EventEndOfStream:
		c.mu.Lock()
		c.st.HasReachedEnd = true
		c.st.Paused = true
		c.st.PanelVisible = true
		if c.st.DurationSeconds > 0 {
			c.st.CurrentTimeSeconds = c.st.DurationSeconds
		}
		c.cancelAutoHideLocked()
		c.bus.Publish(events.EventPlaybackEnded, events.Payload{
			"stream_url": c.st.StreamURL,
		})
		c.publishStateLocked()
		c.mu.Unlock()
		c.logger.Info().Msg("end of stream")

	case mediaengine.EventError:
		c.mu.Lock()
		c.st.Paused = true
		c.st.PanelVisible = true
		c.st.Title = "Playback error"
		c.st.Details = ev.Message
		c.st.LastError = ev.Message
		c.cancelAutoHideLocked()
		c.bus.Publish(events.EventPlaybackError, events.Payload{
			"what":  "engine error",
			"error": ev.Message,
		})
		c.publishStateLocked()
		c.mu.Unlock()
		telemetry.PlaybackErrorsTotal.WithLabelValues("engine").Inc()
		c.logger.Error().Str("error", ev.Message).Msg("engine reported failure")
	}
}

// sampleLoop polls the engine playhead at the configured rate and the
// bitrate once per bitrateEveryNth ticks.
func (c *Controller) sampleLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.SampleInterval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.samplePosition()
			tick++
			if tick >= bitrateEveryNth {
				tick = 0
				c.sampleBitrate()
			}
		}
	}
}

func (c *Controller) samplePosition() {
	c.mu.Lock()
	if !c.st.Open() {
		c.mu.Unlock()
		return
	}
	epoch := c.epoch
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, samplePollTimeout)
	pos, err := c.engine.Position(ctx)
	cancel()
	if err != nil {
		// An unavailable property is still a response; the engine lives.
		if errors.Is(err, mediaengine.ErrPropertyUnavailable) && c.heartbeat != nil {
			c.heartbeat()
		}
		return
	}
	if c.heartbeat != nil {
		c.heartbeat()
	}

	c.mu.Lock()
	// The playhead freezes for the whole scrub gesture; the engine keeps
	// moving underneath but the displayed time must not fight the thumb.
	if epoch == c.epoch && !c.st.Scrubbing() {
		c.st.CurrentTimeSeconds = pos
		c.bus.Publish(events.EventPlaybackTime, events.Payload{
			"seconds": pos,
		})
	}
	c.mu.Unlock()
}

func (c *Controller) sampleBitrate() {
	c.mu.Lock()
	if !c.st.Open() {
		c.mu.Unlock()
		return
	}
	epoch := c.epoch
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, samplePollTimeout)
	bps, err := c.engine.BitrateBps(ctx)
	if err != nil {
		// No sample means no bitrate; a stale figure must not linger.
		bps = 0
	}
	cancel()

	c.mu.Lock()
	if epoch == c.epoch {
		c.st.BitrateBps = bps
	}
	c.mu.Unlock()
}

// scheduleAutoHideLocked arms the panel countdown, superseding any pending
// one. Callers hold c.mu.
func (c *Controller) scheduleAutoHideLocked() {
	c.hideGen++
	gen := c.hideGen

	delay := c.opts.AutoHideVideoDelay
	if c.st.MediaKind == MediaPhoto {
		delay = c.opts.AutoHidePhotoDelay
	}

	if c.hideTimer != nil {
		c.hideTimer.Stop()
	}
	c.hideTimer = time.AfterFunc(delay, func() { c.autoHide(gen) })
}

// cancelAutoHideLocked invalidates any pending countdown. Callers hold c.mu.
func (c *Controller) cancelAutoHideLocked() {
	c.hideGen++
	if c.hideTimer != nil {
		c.hideTimer.Stop()
		c.hideTimer = nil
	}
}

// autoHide fires when a countdown expires. Superseded countdowns no-op on
// the generation check; live ones only dismiss over actively playing media.
func (c *Controller) autoHide(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.hideGen {
		return
	}
	if !c.st.PanelVisible {
		return
	}
	if c.st.Paused || c.st.HasReachedEnd || c.st.Buffering || c.st.Scrubbing() {
		return
	}
	c.st.PanelVisible = false
	c.publishPanelLocked()
	c.publishStateLocked()
}

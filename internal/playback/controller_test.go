/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/manifest"
	"github.com/friendsincode/grimnir_vision/internal/mediaengine"
)

func newTestController(t *testing.T, opts Options) (*Controller, *mediaengine.FakeEngine) {
	t.Helper()
	engine := mediaengine.NewFakeEngine()
	c := NewController(engine, events.NewBus(), opts, nil, zerolog.Nop())
	t.Cleanup(func() {
		c.Stop()
		engine.Close()
	})
	return c, engine
}

func openVideo(t *testing.T, c *Controller) {
	t.Helper()
	err := c.OpenStream(context.Background(), StreamDescriptor{
		URL:       "https://cdn.example.com/v/main.m3u8",
		MediaKind: MediaVideo,
	})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
}

func setState(c *Controller, mutate func(st *State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mutate(&c.st)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestOpenStreamAutoplays(t *testing.T) {
	c, engine := newTestController(t, DefaultOptions())
	openVideo(t, c)

	st := c.Snapshot()
	if st.Paused {
		t.Error("expected playing after open")
	}
	if !st.PanelVisible {
		t.Error("expected panel visible after open")
	}
	if engine.Target() != "https://cdn.example.com/v/main.m3u8" {
		t.Errorf("engine target = %q", engine.Target())
	}
	if engine.Paused() {
		t.Error("engine should be playing")
	}
}

func TestCommandsRequireOpenStream(t *testing.T) {
	c, _ := newTestController(t, DefaultOptions())
	ctx := context.Background()

	if err := c.Play(ctx); !errors.Is(err, ErrNoStream) {
		t.Errorf("Play err = %v, want ErrNoStream", err)
	}
	if err := c.Pause(ctx); !errors.Is(err, ErrNoStream) {
		t.Errorf("Pause err = %v, want ErrNoStream", err)
	}
	if err := c.SeekRelative(ctx, 15); !errors.Is(err, ErrNoStream) {
		t.Errorf("SeekRelative err = %v, want ErrNoStream", err)
	}
	if err := c.BeginScrub(); !errors.Is(err, ErrNoStream) {
		t.Errorf("BeginScrub err = %v, want ErrNoStream", err)
	}
}

// A scrub gesture defers all engine traffic to EndScrub: many thumb moves,
// exactly one seek, landing on the final target.
func TestScrubGestureSingleSeek(t *testing.T) {
	c, engine := newTestController(t, DefaultOptions())
	openVideo(t, c)
	setState(c, func(st *State) {
		st.DurationSeconds = 300
		st.CurrentTimeSeconds = 40
		st.HasReachedEnd = true
	})

	if err := c.BeginScrub(); err != nil {
		t.Fatalf("BeginScrub: %v", err)
	}
	for _, target := range []float64{50, 90, 130, 170, 210.5} {
		c.SetScrubTime(target)
	}
	if err := c.EndScrub(context.Background()); err != nil {
		t.Fatalf("EndScrub: %v", err)
	}

	if len(engine.SeekCalls) != 1 {
		t.Fatalf("SeekCalls = %v, want exactly one", engine.SeekCalls)
	}
	if engine.SeekCalls[0] != 210.5 {
		t.Errorf("seek target = %v, want 210.5", engine.SeekCalls[0])
	}

	st := c.Snapshot()
	if st.Scrub != NotScrubbing {
		t.Errorf("scrub state = %v, want NotScrubbing", st.Scrub)
	}
	if st.HasReachedEnd {
		t.Error("scrub landing must clear the end-of-stream latch")
	}
	if st.CurrentTimeSeconds != 210.5 {
		t.Errorf("current time = %v, want 210.5", st.CurrentTimeSeconds)
	}
}

func TestScrubTargetClampedToDuration(t *testing.T) {
	c, _ := newTestController(t, DefaultOptions())
	openVideo(t, c)
	setState(c, func(st *State) { st.DurationSeconds = 100 })

	c.BeginScrub()
	c.SetScrubTime(500)
	if st := c.Snapshot(); st.ScrubTargetSeconds != 100 {
		t.Errorf("scrub target = %v, want clamped to 100", st.ScrubTargetSeconds)
	}
	c.SetScrubTime(-3)
	if st := c.Snapshot(); st.ScrubTargetSeconds != 0 {
		t.Errorf("scrub target = %v, want clamped to 0", st.ScrubTargetSeconds)
	}
}

// SeekTo lands on the absolute target regardless of where the sampler
// has moved the playhead since open.
func TestSeekToIgnoresCurrentPlayhead(t *testing.T) {
	c, engine := newTestController(t, DefaultOptions())
	openVideo(t, c)
	setState(c, func(st *State) { st.CurrentTimeSeconds = 30 })

	if err := c.SeekTo(context.Background(), 120); err != nil {
		t.Fatalf("SeekTo: %v", err)
	}
	if len(engine.SeekCalls) != 1 || engine.SeekCalls[0] != 120 {
		t.Errorf("SeekCalls = %v, want [120]", engine.SeekCalls)
	}

	setState(c, func(st *State) { st.DurationSeconds = 200 })
	if err := c.SeekTo(context.Background(), 500); err != nil {
		t.Fatalf("SeekTo past end: %v", err)
	}
	if engine.SeekCalls[1] != 200 {
		t.Errorf("seek target = %v, want clamped to 200", engine.SeekCalls[1])
	}
}

func TestScrubIgnoresStrayTransitions(t *testing.T) {
	c, engine := newTestController(t, DefaultOptions())
	openVideo(t, c)

	// EndScrub without a gesture is a no-op.
	if err := c.EndScrub(context.Background()); err != nil {
		t.Fatalf("EndScrub: %v", err)
	}
	if len(engine.SeekCalls) != 0 {
		t.Errorf("SeekCalls = %v, want none", engine.SeekCalls)
	}

	// SetScrubTime outside a gesture changes nothing.
	c.SetScrubTime(77)
	if st := c.Snapshot(); st.ScrubTargetSeconds != 0 {
		t.Errorf("scrub target = %v, want 0", st.ScrubTargetSeconds)
	}

	// BeginScrub twice stays in ScrubStarted.
	c.BeginScrub()
	c.BeginScrub()
	if st := c.Snapshot(); st.Scrub != ScrubStarted {
		t.Errorf("scrub state = %v, want ScrubStarted", st.Scrub)
	}
}

// The sampler keeps polling during a gesture but must not move the
// displayed playhead until the seek lands.
func TestScrubFreezesSampledTime(t *testing.T) {
	opts := DefaultOptions()
	opts.SampleInterval = 10 * time.Millisecond
	c, engine := newTestController(t, opts)
	openVideo(t, c)
	engine.SetPosition(50)
	c.Start()

	waitFor(t, 2*time.Second, func() bool {
		return c.Snapshot().CurrentTimeSeconds == 50
	}, "sampler never picked up position")

	c.BeginScrub()
	engine.SetPosition(60)
	time.Sleep(100 * time.Millisecond)
	if got := c.Snapshot().CurrentTimeSeconds; got != 50 {
		t.Errorf("playhead moved to %v during scrub, want frozen at 50", got)
	}
}

// The bitrate sampler reports the most recent reading and drops to zero
// when the property goes away, never holding a stale figure.
func TestBitrateSampleClearsWhenUnavailable(t *testing.T) {
	c, engine := newTestController(t, DefaultOptions())
	openVideo(t, c)

	engine.SetBitrate(4_500_000)
	c.sampleBitrate()
	if got := c.Snapshot().BitrateBps; got != 4_500_000 {
		t.Fatalf("BitrateBps = %d, want 4500000", got)
	}

	engine.SetBitrate(0)
	c.sampleBitrate()
	if got := c.Snapshot().BitrateBps; got != 0 {
		t.Errorf("BitrateBps = %d after property became unavailable, want 0", got)
	}
}

// Repeated panel shows restart the countdown; only the newest timer may
// dismiss, and only once.
func TestAutoHideRestartsOnShow(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoHideVideoDelay = 100 * time.Millisecond
	c, _ := newTestController(t, opts)
	openVideo(t, c)

	for i := 0; i < 3; i++ {
		c.ShowPanel()
		time.Sleep(30 * time.Millisecond)
	}
	// 90ms after the first show: its timer would have fired by now if the
	// later shows had not superseded it.
	if !c.Snapshot().PanelVisible {
		t.Fatal("panel hidden by a superseded countdown")
	}

	waitFor(t, 2*time.Second, func() bool {
		return !c.Snapshot().PanelVisible
	}, "panel never auto-hid")
}

func TestAutoHideHoldsWhilePausedOrEnded(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoHideVideoDelay = 40 * time.Millisecond
	c, _ := newTestController(t, opts)
	openVideo(t, c)

	if err := c.Pause(context.Background()); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	c.ShowPanel()
	time.Sleep(120 * time.Millisecond)
	if !c.Snapshot().PanelVisible {
		t.Error("panel must stay up while paused")
	}

	if err := c.Play(context.Background()); err != nil {
		t.Fatalf("Play: %v", err)
	}
	setState(c, func(st *State) { st.HasReachedEnd = true })
	c.ShowPanel()
	time.Sleep(120 * time.Millisecond)
	if !c.Snapshot().PanelVisible {
		t.Error("panel must stay up at end of stream")
	}
}

func TestPhotoUsesShorterCountdown(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoHidePhotoDelay = 40 * time.Millisecond
	opts.AutoHideVideoDelay = 5 * time.Second
	c, _ := newTestController(t, opts)

	err := c.OpenStream(context.Background(), StreamDescriptor{
		URL:       "https://cdn.example.com/p/still.jpg",
		MediaKind: MediaPhoto,
	})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		return !c.Snapshot().PanelVisible
	}, "photo panel never hid on the photo countdown")
}

func TestDurationWatcherIgnoresNaN(t *testing.T) {
	c, engine := newTestController(t, DefaultOptions())
	openVideo(t, c)
	c.Start()

	engine.Emit(mediaengine.Event{Kind: mediaengine.EventDurationChanged, DurationSeconds: 480})
	waitFor(t, 2*time.Second, func() bool {
		return c.Snapshot().DurationSeconds == 480
	}, "duration never applied")

	engine.Emit(mediaengine.Event{Kind: mediaengine.EventDurationChanged, DurationSeconds: math.NaN()})
	time.Sleep(50 * time.Millisecond)
	if got := c.Snapshot().DurationSeconds; got != 480 {
		t.Errorf("duration = %v after NaN, want 480 retained", got)
	}
}

func TestEndOfStreamLatchesVisiblePause(t *testing.T) {
	c, engine := newTestController(t, DefaultOptions())
	openVideo(t, c)
	setState(c, func(st *State) {
		st.DurationSeconds = 200
		st.PanelVisible = false
	})
	c.Start()

	engine.Emit(mediaengine.Event{Kind: mediaengine.EventEndOfStream})
	waitFor(t, 2*time.Second, func() bool {
		return c.Snapshot().HasReachedEnd
	}, "end of stream never latched")

	st := c.Snapshot()
	if !st.Paused {
		t.Error("expected paused at end of stream")
	}
	if !st.PanelVisible {
		t.Error("expected panel visible at end of stream")
	}
	if st.CurrentTimeSeconds != 200 {
		t.Errorf("playhead = %v, want parked at duration", st.CurrentTimeSeconds)
	}
}

func TestBufferingBlocksAndRestartsCountdown(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoHideVideoDelay = 60 * time.Millisecond
	c, engine := newTestController(t, opts)
	openVideo(t, c)
	c.Start()

	engine.Emit(mediaengine.Event{Kind: mediaengine.EventBufferingChanged, Buffering: true})
	waitFor(t, 2*time.Second, func() bool {
		return c.Snapshot().Buffering
	}, "buffering flag never set")

	time.Sleep(150 * time.Millisecond)
	if !c.Snapshot().PanelVisible {
		t.Fatal("panel hidden during a stall")
	}

	engine.Emit(mediaengine.Event{Kind: mediaengine.EventBufferingChanged, Buffering: false})
	waitFor(t, 2*time.Second, func() bool {
		return !c.Snapshot().PanelVisible
	}, "countdown never restarted after stall recovery")
}

func TestEngineErrorFailsIntoVisibleState(t *testing.T) {
	c, engine := newTestController(t, DefaultOptions())
	openVideo(t, c)
	setState(c, func(st *State) { st.PanelVisible = false })
	c.Start()

	engine.Emit(mediaengine.Event{Kind: mediaengine.EventError, Message: "decode failed"})
	waitFor(t, 2*time.Second, func() bool {
		return c.Snapshot().LastError == "decode failed"
	}, "engine error never applied")

	st := c.Snapshot()
	if !st.Paused || !st.PanelVisible {
		t.Errorf("error state paused=%v visible=%v, want both true", st.Paused, st.PanelVisible)
	}
	if st.Details != "decode failed" {
		t.Errorf("details = %q, want the error surfaced on the panel", st.Details)
	}
}

// A completion captured under an old epoch must not touch the replacement
// stream's state.
func TestStaleSeekCompletionIsNoOp(t *testing.T) {
	c, _ := newTestController(t, DefaultOptions())
	openVideo(t, c)

	c.mu.Lock()
	staleEpoch := c.epoch
	c.mu.Unlock()

	// Replacing the stream bumps the epoch.
	err := c.OpenStream(context.Background(), StreamDescriptor{
		URL:       "https://cdn.example.com/v/other.m3u8",
		MediaKind: MediaVideo,
	})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	if err := c.applySeek(context.Background(), staleEpoch, 99); err != nil {
		t.Fatalf("applySeek: %v", err)
	}
	if got := c.Snapshot().CurrentTimeSeconds; got != 0 {
		t.Errorf("stale completion moved playhead to %v", got)
	}
}

// Play on a finished stream restarts it from zero instead of resuming a
// playhead parked at the end.
func TestPlayFromEndRestartsAtZero(t *testing.T) {
	c, engine := newTestController(t, DefaultOptions())
	openVideo(t, c)
	setState(c, func(st *State) {
		st.DurationSeconds = 200
		st.CurrentTimeSeconds = 200
		st.HasReachedEnd = true
		st.Paused = true
	})

	if err := c.Play(context.Background()); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if len(engine.SeekCalls) != 1 || engine.SeekCalls[0] != 0 {
		t.Fatalf("SeekCalls = %v, want rewind to [0]", engine.SeekCalls)
	}

	st := c.Snapshot()
	if st.Paused || st.HasReachedEnd {
		t.Errorf("paused=%v reachedEnd=%v after restart, want both false", st.Paused, st.HasReachedEnd)
	}
	if st.CurrentTimeSeconds != 0 {
		t.Errorf("playhead = %v, want 0", st.CurrentTimeSeconds)
	}
}

func TestSeekRelativeClampsAndClearsEnd(t *testing.T) {
	c, engine := newTestController(t, DefaultOptions())
	openVideo(t, c)
	setState(c, func(st *State) {
		st.DurationSeconds = 100
		st.CurrentTimeSeconds = 95
		st.HasReachedEnd = true
	})

	if err := c.SeekRelative(context.Background(), 15); err != nil {
		t.Fatalf("SeekRelative: %v", err)
	}
	if len(engine.SeekCalls) != 1 || engine.SeekCalls[0] != 100 {
		t.Errorf("SeekCalls = %v, want [100]", engine.SeekCalls)
	}

	if err := c.SeekRelative(context.Background(), -150); err != nil {
		t.Fatalf("SeekRelative: %v", err)
	}
	if engine.SeekCalls[1] != 0 {
		t.Errorf("backward seek = %v, want clamped to 0", engine.SeekCalls[1])
	}
	if c.Snapshot().HasReachedEnd {
		t.Error("seek must clear the end-of-stream latch")
	}
}

func TestSelectVariantPreservesPlayhead(t *testing.T) {
	c, engine := newTestController(t, DefaultOptions())
	openVideo(t, c)
	c.SetVariants([]manifest.ResolutionVariant{
		{Width: 7680, Height: 3840, Label: "8K", URL: "https://cdn.example.com/v/8k.m3u8"},
		{Width: 3840, Height: 2160, Label: "4K", URL: "https://cdn.example.com/v/4k.m3u8"},
	})
	setState(c, func(st *State) { st.CurrentTimeSeconds = 42 })

	if err := c.SelectVariant(context.Background(), "4K"); err != nil {
		t.Fatalf("SelectVariant: %v", err)
	}
	if engine.Target() != "https://cdn.example.com/v/4k.m3u8" {
		t.Errorf("engine target = %q", engine.Target())
	}
	if len(engine.SeekCalls) != 1 || engine.SeekCalls[0] != 42 {
		t.Errorf("SeekCalls = %v, want position restored to 42", engine.SeekCalls)
	}
	if got := c.Snapshot().ActiveVariant; got != "4K" {
		t.Errorf("active variant = %q, want 4K", got)
	}

	if err := c.SelectVariant(context.Background(), "99K"); !errors.Is(err, ErrUnknownVariant) {
		t.Errorf("err = %v, want ErrUnknownVariant", err)
	}
}

// Aspect ratio and FOV writes notify geometry subscribers; repeated writes
// of the same aspect do not re-fire.
func TestGeometryChangeNotifications(t *testing.T) {
	engine := mediaengine.NewFakeEngine()
	bus := events.NewBus()
	c := NewController(engine, bus, DefaultOptions(), nil, zerolog.Nop())
	t.Cleanup(func() {
		c.Stop()
		engine.Close()
	})

	sub := bus.Subscribe(events.EventGeometryChanged)
	defer bus.Unsubscribe(events.EventGeometryChanged, sub)

	err := c.OpenStream(context.Background(), StreamDescriptor{
		URL:       "https://cdn.example.com/p/still.jpg",
		MediaKind: MediaPhoto,
	})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	c.SetAspectRatio(2)
	c.SetAspectRatio(2) // unchanged, must not re-fire
	c.SetFieldOfView(100)

	var fired int
	for {
		select {
		case <-sub:
			fired++
			continue
		default:
		}
		break
	}
	if fired != 2 {
		t.Errorf("geometry notifications = %d, want 2", fired)
	}

	if got := c.Descriptor().FovDeg(); got != 100 {
		t.Errorf("effective fov = %v, want forced 100", got)
	}
	if got := c.Descriptor().AspectRatio; got != 2 {
		t.Errorf("aspect ratio = %v, want 2", got)
	}
}

func TestClearStreamResetsState(t *testing.T) {
	c, _ := newTestController(t, DefaultOptions())
	openVideo(t, c)
	setState(c, func(st *State) { st.CurrentTimeSeconds = 30 })

	if err := c.ClearStream(context.Background()); err != nil {
		t.Fatalf("ClearStream: %v", err)
	}
	st := c.Snapshot()
	if st.Open() {
		t.Error("expected no open stream after ClearStream")
	}
	if !st.Paused || !st.PanelVisible {
		t.Errorf("stop state paused=%v visible=%v, want both true", st.Paused, st.PanelVisible)
	}
	if st.CurrentTimeSeconds != 0 {
		t.Errorf("playhead = %v, want reset", st.CurrentTimeSeconds)
	}
}

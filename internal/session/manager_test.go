/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/manifest"
	"github.com/friendsincode/grimnir_vision/internal/mediaengine"
	"github.com/friendsincode/grimnir_vision/internal/playback"
)

type fakeEngineFactory struct {
	mu      sync.Mutex
	engines []*mediaengine.FakeEngine
}

func (f *fakeEngineFactory) build(context.Context) (mediaengine.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	engine := mediaengine.NewFakeEngine()
	f.engines = append(f.engines, engine)
	return engine, nil
}

func (f *fakeEngineFactory) engine(i int) *mediaengine.FakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[i]
}

func (f *fakeEngineFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

type fakeProgress struct {
	mu     sync.Mutex
	resume map[string]float64
	saves  int
}

func (p *fakeProgress) Resume(_ context.Context, userID, url string) (float64, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.resume[userID+"|"+url]
	return pos, ok, nil
}

func (p *fakeProgress) Save(_ context.Context, userID, url, _ string, pos, dur float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resume == nil {
		p.resume = make(map[string]float64)
	}
	p.resume[userID+"|"+url] = pos
	p.saves++
	return nil
}

// setControllerTime drives the controller to a known playhead and duration
// through its public surface: a duration event plus one scrub gesture.
func setControllerTime(t *testing.T, engine *mediaengine.FakeEngine, c *playback.Controller, pos, dur float64) {
	t.Helper()
	engine.Emit(mediaengine.Event{Kind: mediaengine.EventDurationChanged, DurationSeconds: dur})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Snapshot().DurationSeconds == dur {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if c.Snapshot().DurationSeconds != dur {
		t.Fatal("duration event never applied")
	}
	if err := c.BeginScrub(); err != nil {
		t.Fatalf("BeginScrub: %v", err)
	}
	c.SetScrubTime(pos)
	if err := c.EndScrub(context.Background()); err != nil {
		t.Fatalf("EndScrub: %v", err)
	}
}

func newTestManager(t *testing.T, mutate func(*ManagerOptions)) (*Manager, *fakeEngineFactory) {
	t.Helper()
	factory := &fakeEngineFactory{}
	opts := ManagerOptions{
		Factory:     factory.build,
		MaxSessions: 4,
	}
	if mutate != nil {
		mutate(&opts)
	}
	m := NewManager(opts, zerolog.Nop())
	t.Cleanup(m.CloseAll)
	return m, factory
}

func TestManagerCreateAndCap(t *testing.T) {
	m, _ := newTestManager(t, func(o *ManagerOptions) { o.MaxSessions = 2 })
	ctx := context.Background()

	first, err := m.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create(ctx, "user-2"); err != nil {
		t.Fatalf("Create second: %v", err)
	}
	if _, err := m.Create(ctx, "user-3"); !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("err = %v, want ErrTooManySessions", err)
	}

	if err := m.Close(first.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := m.Create(ctx, "user-3"); err != nil {
		t.Fatalf("Create after close: %v", err)
	}
	if m.Count() != 2 {
		t.Errorf("Count = %d, want 2", m.Count())
	}
}

func TestManagerGetAndList(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, ok := m.Get(sess.ID)
	if !ok || got.ID != sess.ID {
		t.Fatalf("Get returned ok=%v", ok)
	}
	if _, ok := m.Get("nope"); ok {
		t.Error("Get of unknown ID returned ok")
	}
	if list := m.List(); len(list) != 1 || list[0].ID != sess.ID {
		t.Errorf("List = %v", list)
	}
	if err := m.Close("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Close err = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerPublishesLifecycleEvents(t *testing.T) {
	serverBus := events.NewBus()
	created := serverBus.Subscribe(events.EventSessionCreated)
	closed := serverBus.Subscribe(events.EventSessionClosed)

	m, _ := newTestManager(t, func(o *ManagerOptions) { o.ServerBus = serverBus })

	sess, err := m.Create(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	select {
	case payload := <-created:
		if payload["session_id"] != sess.ID {
			t.Errorf("created payload = %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no session.created event")
	}

	if err := m.Close(sess.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("no session.closed event")
	}
}

func TestManagerOpenStreamResolvesVariants(t *testing.T) {
	manifestBody := "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=16000000,RESOLUTION=3840x2160\n" +
		"/v/4k.m3u8\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(manifestBody))
	}))
	defer server.Close()

	m, factory := newTestManager(t, func(o *ManagerOptions) {
		o.Fetcher = manifest.NewFetcher(nil, zerolog.Nop())
	})
	sess, err := m.Create(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	desc := playback.StreamDescriptor{
		URL:        server.URL + "/master.m3u8",
		MediaKind:  playback.MediaVideo,
		Projection: "sphere",
	}
	if err := m.OpenStream(context.Background(), sess.ID, desc); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	st := sess.Controller().Snapshot()
	if len(st.Variants) != 1 || st.Variants[0].Label != "4K" {
		t.Errorf("variants = %+v, want one 4K entry", st.Variants)
	}
	if st.Paused {
		t.Error("expected playing after open")
	}
	if got := sess.Coordinator().CurrentSpec().ClipHorizontalFovDeg; got != 360 {
		t.Errorf("surface clip fov = %v, want 360 for sphere", got)
	}
	if factory.engine(0).Target() == "" {
		t.Error("engine never loaded the stream")
	}
}

func TestManagerResumesSavedProgress(t *testing.T) {
	url := "https://cdn.example.com/v/film.mp4"
	progress := &fakeProgress{resume: map[string]float64{"user-1|" + url: 120}}

	m, factory := newTestManager(t, func(o *ManagerOptions) { o.Progress = progress })
	sess, err := m.Create(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	desc := playback.StreamDescriptor{URL: url, MediaKind: playback.MediaVideo}
	if err := m.OpenStream(context.Background(), sess.ID, desc); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	engine := factory.engine(0)
	if len(engine.SeekCalls) != 1 || engine.SeekCalls[0] != 120 {
		t.Errorf("SeekCalls = %v, want [120]", engine.SeekCalls)
	}

	// Photos never resume.
	photo := playback.StreamDescriptor{URL: url, MediaKind: playback.MediaPhoto}
	if err := m.OpenStream(context.Background(), sess.ID, photo); err != nil {
		t.Fatalf("OpenStream photo: %v", err)
	}
	if len(engine.SeekCalls) != 1 {
		t.Errorf("SeekCalls = %v, photo open must not seek", engine.SeekCalls)
	}
}

func TestManagerRestartEngineReopensStream(t *testing.T) {
	m, factory := newTestManager(t, nil)
	sess, err := m.Create(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	url := "https://cdn.example.com/v/live.mp4"
	desc := playback.StreamDescriptor{URL: url, MediaKind: playback.MediaVideo}
	if err := m.OpenStream(context.Background(), sess.ID, desc); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	oldController := sess.Controller()

	m.RestartEngine(sess.ID, "heartbeat timeout")

	if factory.count() != 2 {
		t.Fatalf("engines spawned = %d, want 2", factory.count())
	}
	if sess.Controller() == oldController {
		t.Error("controller was not replaced")
	}
	if got := factory.engine(1).Target(); got != url {
		t.Errorf("replacement engine target = %q, want %q", got, url)
	}
	if st := sess.Controller().Snapshot(); st.StreamURL != url {
		t.Errorf("reopened stream url = %q", st.StreamURL)
	}

	// Unknown sessions are ignored.
	m.RestartEngine("nope", "whatever")
}

func TestManagerSavesProgressOnClose(t *testing.T) {
	progress := &fakeProgress{}
	m, factory := newTestManager(t, func(o *ManagerOptions) { o.Progress = progress })
	sess, err := m.Create(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	url := "https://cdn.example.com/v/film.mp4"
	desc := playback.StreamDescriptor{URL: url, MediaKind: playback.MediaVideo}
	if err := m.OpenStream(context.Background(), sess.ID, desc); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	setControllerTime(t, factory.engine(0), sess.Controller(), 42, 300)

	if err := m.Close(sess.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}

	progress.mu.Lock()
	defer progress.mu.Unlock()
	if progress.saves == 0 {
		t.Fatal("no progress saved on close")
	}
	if got := progress.resume["user-1|"+url]; got != 42 {
		t.Errorf("saved position = %v, want 42", got)
	}
}

func TestManagerReapIdle(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	stale, err := m.Create(ctx, "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	playing, err := m.Create(ctx, "user-2")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	fresh, err := m.Create(ctx, "user-3")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	desc := playback.StreamDescriptor{URL: "https://cdn.example.com/v/live.mp4", MediaKind: playback.MediaVideo}
	if err := m.OpenStream(ctx, playing.ID, desc); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	backdated := time.Now().Add(-time.Hour).UnixNano()
	stale.lastActive.Store(backdated)
	playing.lastActive.Store(backdated)

	reaped := m.ReapIdle(30 * time.Minute)
	if len(reaped) != 1 || reaped[0] != stale.ID {
		t.Fatalf("reaped = %v, want just the stale session", reaped)
	}
	if _, ok := m.Get(stale.ID); ok {
		t.Error("stale session still registered")
	}
	if _, ok := m.Get(playing.ID); !ok {
		t.Error("actively playing session was reaped")
	}
	if _, ok := m.Get(fresh.ID); !ok {
		t.Error("fresh session was reaped")
	}

	// Once paused, a backdated session is fair game.
	if err := playing.Controller().Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	playing.lastActive.Store(backdated)

	if got := m.ReapIdle(0); got != nil {
		t.Errorf("ReapIdle(0) = %v, want nil", got)
	}
	reaped = m.ReapIdle(30 * time.Minute)
	if len(reaped) != 1 || reaped[0] != playing.ID {
		t.Fatalf("reaped = %v, want the paused session", reaped)
	}
}

func TestManagerMarksTailAsFinished(t *testing.T) {
	progress := &fakeProgress{}
	m, factory := newTestManager(t, func(o *ManagerOptions) { o.Progress = progress })
	sess, err := m.Create(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	url := "https://cdn.example.com/v/film.mp4"
	desc := playback.StreamDescriptor{URL: url, MediaKind: playback.MediaVideo}
	if err := m.OpenStream(context.Background(), sess.ID, desc); err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	// 295 of 300 seconds is inside the tail window.
	setControllerTime(t, factory.engine(0), sess.Controller(), 295, 300)

	if err := m.Close(sess.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}

	progress.mu.Lock()
	defer progress.mu.Unlock()
	if got := progress.resume["user-1|"+url]; got != 300 {
		t.Errorf("saved position = %v, want full duration for tail window", got)
	}
}

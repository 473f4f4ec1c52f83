package mediaengine

import (
	"context"
	"sync"
)

// FakeEngine is an in-memory Engine for development mode and tests. It
// records every command and lets callers inject events.
type FakeEngine struct {
	mu sync.Mutex

	target   string
	paused   bool
	position float64
	duration float64
	bitrate  int64

	LoadCalls []string
	SeekCalls []float64

	events chan Event
	closed bool
}

func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		paused: true,
		events: make(chan Event, 16),
	}
}

func (f *FakeEngine) Load(_ context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = target
	f.position = 0
	f.LoadCalls = append(f.LoadCalls, target)
	return nil
}

func (f *FakeEngine) Play(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
	return nil
}

func (f *FakeEngine) Pause(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
	return nil
}

func (f *FakeEngine) SeekTo(_ context.Context, seconds float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position = seconds
	f.SeekCalls = append(f.SeekCalls, seconds)
	return nil
}

func (f *FakeEngine) Position(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.target == "" {
		return 0, ErrPropertyUnavailable
	}
	return f.position, nil
}

func (f *FakeEngine) Duration(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.duration == 0 {
		return 0, ErrPropertyUnavailable
	}
	return f.duration, nil
}

func (f *FakeEngine) BitrateBps(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bitrate == 0 {
		return 0, ErrPropertyUnavailable
	}
	return f.bitrate, nil
}

func (f *FakeEngine) Events() <-chan Event {
	return f.events
}

func (f *FakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

// Paused reports the fake's pause state.
func (f *FakeEngine) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

// Target reports the last loaded media target.
func (f *FakeEngine) Target() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.target
}

// SetPosition moves the fake playhead without recording a seek.
func (f *FakeEngine) SetPosition(seconds float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position = seconds
}

// SetDuration primes the duration property.
func (f *FakeEngine) SetDuration(seconds float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.duration = seconds
}

// SetBitrate primes the bitrate property.
func (f *FakeEngine) SetBitrate(bps int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bitrate = bps
}

// Emit injects an event as if the engine produced it.
func (f *FakeEngine) Emit(ev Event) {
	f.events <- ev
}

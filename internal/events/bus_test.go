/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"sync"
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventPlaybackState)

	bus.Publish(EventPlaybackState, Payload{"paused": true})

	select {
	case payload := <-sub:
		if payload["paused"] != true {
			t.Errorf("payload = %+v, want paused=true", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no payload delivered")
	}
}

func TestBusPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(EventPlaybackTime)

	done := make(chan struct{})
	go func() {
		// More publishes than the channel buffers; extras must drop.
		for i := 0; i < 64; i++ {
			bus.Publish(EventPlaybackTime, Payload{"seq": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on full subscriber")
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventSessionClosed)
	bus.Unsubscribe(EventSessionClosed, sub)

	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(EventSessionClosed, Payload{})
}

func TestBusConcurrentPublishUnsubscribe(t *testing.T) {
	bus := NewBus()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					bus.Publish(EventPlaybackTime, Payload{})
				}
			}
		}()
	}

	// Subscriber churn while publishers run; a send must never land on a
	// channel that Unsubscribe already closed.
	for i := 0; i < 500; i++ {
		sub := bus.Subscribe(EventPlaybackTime)
		for drained := false; !drained; {
			select {
			case <-sub:
			default:
				drained = true
			}
		}
		bus.Unsubscribe(EventPlaybackTime, sub)
	}

	close(stop)
	wg.Wait()
}

func TestBusIsolatesEventTypes(t *testing.T) {
	bus := NewBus()
	stateSub := bus.Subscribe(EventPlaybackState)
	timeSub := bus.Subscribe(EventPlaybackTime)

	bus.Publish(EventPlaybackState, Payload{"v": 1})

	select {
	case <-stateSub:
	case <-time.After(time.Second):
		t.Fatal("state subscriber missed event")
	}
	select {
	case <-timeSub:
		t.Fatal("time subscriber received state event")
	default:
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventPlaybackState     EventType = "playback.state"
	EventPlaybackTime      EventType = "playback.time"
	EventPlaybackDuration  EventType = "playback.duration"
	EventPlaybackBuffering EventType = "playback.buffering"
	EventPlaybackEnded     EventType = "playback.ended"
	EventPlaybackError     EventType = "playback.error"
	EventPanelVisibility   EventType = "panel.visibility"
	EventScrubStarted      EventType = "scrub.started"
	EventScrubEnded        EventType = "scrub.ended"
	EventGeometryChanged   EventType = "geometry.changed"
	EventMeshRegenerated   EventType = "mesh.regenerated"
	EventMeshFailed        EventType = "mesh.failed"
	EventManifestFetched   EventType = "manifest.fetched"
	EventVariantSelected   EventType = "variant.selected"
	EventSessionCreated    EventType = "session.created"
	EventSessionClosed     EventType = "session.closed"
	EventMigration         EventType = "migration"

	// Cache invalidation events
	EventProfileUpdated  EventType = "cache.profile_updated"
	EventProfileCreated  EventType = "cache.profile_created"
	EventProfileDeleted  EventType = "cache.profile_deleted"
	EventUserUpdated     EventType = "cache.user_updated"
	EventUserDeleted     EventType = "cache.user_deleted"
	EventProgressUpdated EventType = "cache.progress_updated"

	// Audit events (for operations that need explicit audit logging)
	EventAuditSessionCreate   EventType = "audit.session.create"
	EventAuditSessionClose    EventType = "audit.session.close"
	EventAuditProfileCreate   EventType = "audit.profile.create"
	EventAuditProfileUpdate   EventType = "audit.profile.update"
	EventAuditProfileDelete   EventType = "audit.profile.delete"
	EventAuditUserCreate      EventType = "audit.user.create"
	EventAuditUserRoleChange  EventType = "audit.user.role_change"
	EventAuditUserSuspend     EventType = "audit.user.suspend"
	EventAuditUserDelete      EventType = "audit.user.delete"
	EventAuditDeviceKeyCreate EventType = "audit.devicekey.create"
	EventAuditDeviceKeyRevoke EventType = "audit.devicekey.revoke"
	EventAuditSettingsUpdate  EventType = "audit.settings.update"
	EventAuditImportRun       EventType = "audit.import.run"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers drop; state
// consumers must re-read authoritative state rather than rely on every
// notification arriving. The read lock is held across the sends so that
// Unsubscribe cannot close a channel mid-publish.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}

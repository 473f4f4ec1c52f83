/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/models"
	"github.com/friendsincode/grimnir_vision/internal/session"
	"github.com/friendsincode/grimnir_vision/internal/telemetry"
)

// eventSource is satisfied by both the per-session bus and the
// cross-node relay.
type eventSource interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
}

// sessionFeedDefaults is the event set a rendering client needs to
// mirror playback state without polling.
var sessionFeedDefaults = []events.EventType{
	events.EventPlaybackState,
	events.EventPlaybackTime,
	events.EventPlaybackBuffering,
	events.EventPlaybackEnded,
	events.EventPlaybackError,
	events.EventPanelVisibility,
	events.EventGeometryChanged,
	events.EventMeshRegenerated,
	events.EventVariantSelected,
}

// handleSessionSocket streams one session's state feed over a websocket.
// Clients receive a full snapshot on connect, then event frames as the
// controller publishes them.
func (a *API) handleSessionSocket(w http.ResponseWriter, r *http.Request) {
	if !a.websocketsEnabled(r.Context()) {
		writeError(w, http.StatusForbidden, "websockets_disabled")
		return
	}

	sess := a.resolveSession(w, r)
	if sess == nil {
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Str("session_id", sess.ID).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	ctx := r.Context()

	// Snapshot first so the client never renders from a blank state.
	snapshot := map[string]any{
		"type":  "snapshot",
		"state": sess.Controller().Snapshot(),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		a.logger.Error().Err(err).Msg("snapshot marshal failed")
		return
	}
	if err := conn.Write(ctx, ws.MessageText, data); err != nil {
		return
	}

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = sessionFeedDefaults
	}

	a.runSessionSocket(ctx, conn, sess, eventTypes)
}

// sessionCommand is the client→server frame on a session socket. One
// envelope covers every playback gesture so renderers need a single writer.
type sessionCommand struct {
	Action        string  `json:"action"`
	DeltaSeconds  float64 `json:"delta_seconds,omitempty"`
	TargetSeconds float64 `json:"target_seconds,omitempty"`
	Value         float64 `json:"value,omitempty"`
	Label         string  `json:"label,omitempty"`
}

// runSessionSocket pumps bus events out and client commands in until the
// client goes away.
func (a *API) runSessionSocket(ctx context.Context, conn *ws.Conn, sess *session.Session, eventTypes []events.EventType) {
	bus := sess.Bus()
	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		subscribers = append(subscribers, bus.Subscribe(eventType))
	}
	defer func() {
		for i, eventType := range eventTypes {
			bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	done := make(chan struct{})
	commands := make(chan sessionCommand, 16)

	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ws.CloseStatus(err) == ws.StatusNormalClosure {
					return
				}
				a.logger.Debug().Err(err).Msg("websocket read error")
				return
			}
			var cmd sessionCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				a.logger.Warn().Err(err).Msg("invalid websocket command")
				continue
			}
			select {
			case commands <- cmd:
			default:
				a.logger.Warn().Msg("command channel full, dropping message")
			}
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-done:
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		case cmd := <-commands:
			if err := a.applySessionCommand(ctx, sess, cmd); err != nil {
				a.logger.Warn().Err(err).Str("action", cmd.Action).Msg("socket command failed")
				frame, merr := json.Marshal(map[string]any{
					"type":   "error",
					"action": cmd.Action,
					"error":  err.Error(),
				})
				if merr == nil {
					_ = conn.Write(ctx, ws.MessageText, frame)
				}
			}
		default:
			sent := false
			for i, sub := range subscribers {
				select {
				case payload := <-sub:
					if err := writeEvent(ctx, conn, eventTypes[i], payload); err != nil {
						a.logger.Debug().Err(err).Msg("websocket write failed")
						conn.Close(ws.StatusInternalError, "write failed")
						return
					}
					sent = true
				default:
				}
			}
			if !sent {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

// applySessionCommand multiplexes one socket command onto the controller.
func (a *API) applySessionCommand(ctx context.Context, sess *session.Session, cmd sessionCommand) error {
	controller := sess.Controller()
	switch cmd.Action {
	case "play":
		return controller.Play(ctx)
	case "pause":
		return controller.Pause(ctx)
	case "toggle":
		return controller.TogglePlay(ctx)
	case "seek":
		return controller.SeekRelative(ctx, cmd.DeltaSeconds)
	case "scrub_begin":
		return controller.BeginScrub()
	case "scrub_move":
		controller.SetScrubTime(cmd.TargetSeconds)
		return nil
	case "scrub_end":
		return controller.EndScrub(ctx)
	case "panel_show":
		controller.ShowPanel()
		return nil
	case "panel_hide":
		controller.HidePanel()
		return nil
	case "panel_toggle":
		controller.TogglePanel()
		return nil
	case "aspect_ratio":
		controller.SetAspectRatio(float32(cmd.Value))
		return nil
	case "fov":
		controller.SetFieldOfView(float32(cmd.Value))
		return nil
	case "variant":
		return controller.SelectVariant(ctx, cmd.Label)
	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
}

// handleEvents streams server-wide events: session lifecycle, import
// jobs, and whatever else the caller asks for via ?types=.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !a.websocketsEnabled(r.Context()) {
		writeError(w, http.StatusForbidden, "websockets_disabled")
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = []events.EventType{
			events.EventSessionCreated,
			events.EventSessionClosed,
			events.EventMigration,
		}
	}

	a.streamEvents(r.Context(), conn, a.bus, eventTypes)
}

// websocketsEnabled reads the live toggle from system settings on every
// upgrade so operators can cut the feeds off without a restart. Lookup
// failures count as enabled.
func (a *API) websocketsEnabled(ctx context.Context) bool {
	if a.db == nil {
		return true
	}
	settings, err := models.GetSystemSettings(a.db.WithContext(ctx))
	if err != nil {
		return true
	}
	return settings.WebsocketEnabled
}

// streamEvents pumps bus events to the socket until the client goes
// away. A 15s ping keeps idle connections alive through proxies.
func (a *API) streamEvents(ctx context.Context, conn *ws.Conn, src eventSource, eventTypes []events.EventType) {
	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		subscribers = append(subscribers, src.Subscribe(eventType))
	}
	defer func() {
		for i, eventType := range eventTypes {
			src.Unsubscribe(eventType, subscribers[i])
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		default:
			sent := false
			for i, sub := range subscribers {
				select {
				case payload := <-sub:
					if err := writeEvent(ctx, conn, eventTypes[i], payload); err != nil {
						a.logger.Debug().Err(err).Msg("websocket write failed")
						conn.Close(ws.StatusInternalError, "write failed")
						return
					}
					sent = true
				default:
				}
			}
			if !sent {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, data)
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, events.EventType(part))
	}
	return out
}

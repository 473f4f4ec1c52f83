/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	ipcMaxRetries   = 3
	ipcRetryDelay   = 100 * time.Millisecond
	ipcReadDeadline = 1 * time.Second

	socketWaitRetries = 10
	socketWaitDelay   = 300 * time.Millisecond

	quitGracePeriod = 3 * time.Second
)

// ipcCommand is the JSON structure written to the engine's IPC socket.
type ipcCommand struct {
	Command []any `json:"command"`
}

// ipcResponse is the JSON structure read back for a command.
type ipcResponse struct {
	Data  any    `json:"data"`
	Error string `json:"error"`
}

// MPVEngine drives an mpv process over its newline-delimited JSON IPC
// socket. Command traffic uses short-lived connections; property change
// notifications arrive on one persistent connection feeding Events.
type MPVEngine struct {
	socketPath string
	binary     string
	extraArgs  []string
	logger     zerolog.Logger

	mu     sync.Mutex // protects command socket writes
	cmd    *exec.Cmd
	exited chan struct{}

	eventConn net.Conn
	events    chan Event
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// MPVOptions configures engine process startup.
type MPVOptions struct {
	// Binary is the engine executable, "mpv" when empty.
	Binary string
	// SocketPath overrides the generated IPC socket location.
	SocketPath string
	// ExtraArgs are appended to the engine command line.
	ExtraArgs []string
}

// NewMPVEngine spawns the engine process idle and connects the event
// listener. The returned engine is ready for Load.
func NewMPVEngine(ctx context.Context, opts MPVOptions, logger zerolog.Logger) (*MPVEngine, error) {
	m := &MPVEngine{
		socketPath: opts.SocketPath,
		binary:     opts.Binary,
		extraArgs:  opts.ExtraArgs,
		logger:     logger.With().Str("component", "mpv_engine").Logger(),
		exited:     make(chan struct{}),
		events:     make(chan Event, 16),
		stopCh:     make(chan struct{}),
	}
	if m.binary == "" {
		m.binary = "mpv"
	}
	if m.socketPath == "" {
		suffix := make([]byte, 4)
		if _, err := rand.Read(suffix); err != nil {
			return nil, fmt.Errorf("generate socket name: %w", err)
		}
		m.socketPath = filepath.Join(os.TempDir(), fmt.Sprintf("grimnir-vision-%x.sock", suffix))
	}

	if err := m.start(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MPVEngine) start(ctx context.Context) error {
	args := []string{
		"--no-terminal",
		"--really-quiet",
		fmt.Sprintf("--input-ipc-server=%s", m.socketPath),
		"--idle=yes",
		"--force-window=yes",
		"--keep-open=yes",
	}
	args = append(args, m.extraArgs...)

	m.cmd = exec.Command(m.binary, args...)
	m.cmd.Stdout = nil
	m.cmd.Stderr = nil
	m.cmd.Stdin = nil

	if err := m.cmd.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	go func() {
		_ = m.cmd.Wait()
		close(m.exited)
	}()

	if err := m.waitForSocket(ctx); err != nil {
		select {
		case <-m.exited:
		default:
			m.logger.Warn().Msg("killing engine: socket never became ready")
			_ = m.cmd.Process.Kill()
		}
		return fmt.Errorf("engine socket not ready: %w", err)
	}

	if err := m.startEventListener(ctx); err != nil {
		_ = m.Close()
		return err
	}

	m.logger.Info().Str("socket", m.socketPath).Msg("engine started")
	return nil
}

// waitForSocket polls until the IPC socket accepts connections.
func (m *MPVEngine) waitForSocket(ctx context.Context) error {
	for i := 0; i < socketWaitRetries; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.exited:
			return fmt.Errorf("engine exited before socket was ready")
		case <-time.After(socketWaitDelay):
		}

		conn, err := net.Dial("unix", m.socketPath)
		if err == nil {
			conn.Close()
			return nil
		}
	}
	return fmt.Errorf("socket %s not ready after %d attempts", m.socketPath, socketWaitRetries)
}

func (m *MPVEngine) startEventListener(ctx context.Context) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "unix", m.socketPath)
	if err != nil {
		return fmt.Errorf("event listener connect: %w", err)
	}
	m.eventConn = conn

	// Notifications only reach the connection that registered the
	// observer, so these must go over the persistent connection.
	observed := []struct {
		id   int
		name string
	}{
		{1, "duration"},
		{2, "paused-for-cache"},
		{3, "eof-reached"},
	}
	for _, prop := range observed {
		payload, err := json.Marshal(ipcCommand{Command: []any{"observe_property", prop.id, prop.name}})
		if err != nil {
			conn.Close()
			return fmt.Errorf("observe %s: %w", prop.name, err)
		}
		if _, err := conn.Write(append(payload, '\n')); err != nil {
			conn.Close()
			return fmt.Errorf("observe %s: %w", prop.name, err)
		}
	}

	go m.readLoop()
	return nil
}

// readLoop consumes newline-delimited JSON notifications until the
// connection closes.
func (m *MPVEngine) readLoop() {
	scanner := bufio.NewScanner(m.eventConn)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m.processEvent(line)
	}
	select {
	case <-m.stopCh:
	default:
		m.logger.Warn().Err(scanner.Err()).Msg("engine event stream ended")
	}
}

func (m *MPVEngine) processEvent(line string) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return
	}
	kind, _ := raw["event"].(string)

	switch kind {
	case "property-change":
		name, _ := raw["name"].(string)
		switch name {
		case "duration":
			seconds, ok := raw["data"].(float64)
			if !ok {
				// Engine reports no duration while unloading; surface it
				// as NaN so consumers can discard it uniformly.
				seconds = math.NaN()
			}
			m.emit(Event{Kind: EventDurationChanged, DurationSeconds: seconds})
		case "paused-for-cache":
			buffering, _ := raw["data"].(bool)
			m.emit(Event{Kind: EventBufferingChanged, Buffering: buffering})
		case "eof-reached":
			if reached, _ := raw["data"].(bool); reached {
				m.emit(Event{Kind: EventEndOfStream})
			}
		}
	case "end-file":
		if reason, _ := raw["reason"].(string); reason == "error" {
			msg, _ := raw["file_error"].(string)
			m.emit(Event{Kind: EventError, Message: msg})
		}
	}
}

func (m *MPVEngine) emit(ev Event) {
	select {
	case m.events <- ev:
	case <-m.stopCh:
	}
}

// roundTrip performs one command request/response over a fresh connection.
func (m *MPVEngine) roundTrip(ctx context.Context, command []any) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < ipcMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(ipcRetryDelay):
			}
		}

		result, err := sendIPC(ctx, m.socketPath, command)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrPropertyUnavailable) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("ipc command failed after %d attempts: %w", ipcMaxRetries, lastErr)
}

func sendIPC(ctx context.Context, socketPath string, command []any) (any, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	payload, err := json.Marshal(ipcCommand{Command: command})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	deadline := time.Now().Add(ipcReadDeadline)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	// The socket also carries observe_property notifications on other
	// connections, but a fresh connection only sees command replies.
	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	var resp ipcResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if resp.Error != "" && resp.Error != "success" {
		if strings.Contains(resp.Error, "property unavailable") {
			return nil, ErrPropertyUnavailable
		}
		return nil, fmt.Errorf("engine error: %s", resp.Error)
	}
	return resp.Data, nil
}

// Load replaces the current media. The target is validated to keep engine
// flags out of attacker-controlled URLs.
func (m *MPVEngine) Load(ctx context.Context, target string) error {
	safe, err := sanitizeMediaTarget(target)
	if err != nil {
		return fmt.Errorf("invalid media target: %w", err)
	}
	_, err = m.roundTrip(ctx, []any{"loadfile", safe, "replace"})
	return err
}

func (m *MPVEngine) Play(ctx context.Context) error {
	_, err := m.roundTrip(ctx, []any{"set_property", "pause", false})
	return err
}

func (m *MPVEngine) Pause(ctx context.Context) error {
	_, err := m.roundTrip(ctx, []any{"set_property", "pause", true})
	return err
}

func (m *MPVEngine) SeekTo(ctx context.Context, seconds float64) error {
	_, err := m.roundTrip(ctx, []any{"seek", seconds, "absolute"})
	return err
}

func (m *MPVEngine) Position(ctx context.Context) (float64, error) {
	return m.floatProperty(ctx, "time-pos")
}

func (m *MPVEngine) Duration(ctx context.Context) (float64, error) {
	return m.floatProperty(ctx, "duration")
}

func (m *MPVEngine) BitrateBps(ctx context.Context) (int64, error) {
	v, err := m.floatProperty(ctx, "video-bitrate")
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

func (m *MPVEngine) Events() <-chan Event {
	return m.events
}

// Close quits the engine gracefully, killing it after a grace period.
func (m *MPVEngine) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	if m.eventConn != nil {
		_ = m.eventConn.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), quitGracePeriod)
	defer cancel()
	_, _ = m.roundTrip(ctx, []any{"quit"})

	select {
	case <-m.exited:
	case <-time.After(quitGracePeriod):
		if m.cmd != nil && m.cmd.Process != nil {
			_ = m.cmd.Process.Kill()
		}
	}

	_ = os.Remove(m.socketPath)
	return nil
}

func (m *MPVEngine) floatProperty(ctx context.Context, name string) (float64, error) {
	data, err := m.roundTrip(ctx, []any{"get_property", name})
	if err != nil {
		return 0, err
	}
	v, ok := data.(float64)
	if !ok {
		return 0, fmt.Errorf("property %s: expected float64, got %T", name, data)
	}
	return v, nil
}

// sanitizeMediaTarget rejects targets that could be misread as engine flags
// and restricts remote schemes to HTTP(S).
func sanitizeMediaTarget(target string) (string, error) {
	t := strings.TrimSpace(target)
	if t == "" {
		return "", fmt.Errorf("empty target")
	}
	if strings.ContainsAny(t, "\x00\n\r") {
		return "", fmt.Errorf("control characters in target")
	}
	if strings.HasPrefix(t, "-") {
		return "", fmt.Errorf("target must not start with '-'")
	}
	if strings.Contains(t, "://") {
		u, err := url.Parse(t)
		if err != nil {
			return "", fmt.Errorf("invalid URL: %w", err)
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return t, nil
		default:
			return "", fmt.Errorf("unsupported URL scheme: %s", u.Scheme)
		}
	}
	return filepath.Clean(t), nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer retains recent log lines in memory so the admin API
// can serve them without a log shipper.
package logbuffer

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// LogEntry is one parsed log line.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Raw       string                 `json:"raw,omitempty"`
}

func (e LogEntry) sessionID() string {
	s, _ := e.Fields["session_id"].(string)
	return s
}

// Buffer is a fixed-capacity ring of log entries. All methods are safe
// for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	capacity int
	head     int // next write position
	count    int
}

// New returns a buffer holding up to capacity entries; non-positive
// capacity falls back to 10000.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Buffer{entries: make([]LogEntry, capacity), capacity: capacity}
}

// Add appends an entry, evicting the oldest once full.
func (b *Buffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// snapshot copies the retained entries oldest-first.
func (b *Buffer) snapshot() []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]LogEntry, b.count)
	start := 0
	if b.count == b.capacity {
		start = b.head
	}
	for i := range out {
		out[i] = b.entries[(start+i)%b.capacity]
	}
	return out
}

// GetAll returns every retained entry in chronological order.
func (b *Buffer) GetAll() []LogEntry {
	return b.snapshot()
}

// QueryParams filter retained entries.
type QueryParams struct {
	Level      string
	Component  string
	SessionID  string // matches the session_id field
	Search     string // case-insensitive match on message, component, or string fields
	Since      time.Time
	Limit      int  // 0 = unlimited
	Descending bool // newest first
}

func (p QueryParams) matches(e LogEntry) bool {
	if p.Level != "" && e.Level != p.Level {
		return false
	}
	if p.Component != "" && e.Component != p.Component {
		return false
	}
	if p.SessionID != "" && e.sessionID() != p.SessionID {
		return false
	}
	if !p.Since.IsZero() && e.Timestamp.Before(p.Since) {
		return false
	}
	if p.Search != "" && !searchEntry(e, p.Search) {
		return false
	}
	return true
}

func searchEntry(e LogEntry, term string) bool {
	term = strings.ToLower(term)
	if strings.Contains(strings.ToLower(e.Message), term) {
		return true
	}
	if strings.Contains(strings.ToLower(e.Component), term) {
		return true
	}
	for _, v := range e.Fields {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), term) {
			return true
		}
	}
	return false
}

// Query returns entries matching params, oldest first unless Descending.
func (b *Buffer) Query(params QueryParams) []LogEntry {
	var out []LogEntry
	for _, e := range b.snapshot() {
		if params.matches(e) {
			out = append(out, e)
		}
	}

	if params.Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out
}

// GetComponents lists the distinct component names seen in the buffer.
func (b *Buffer) GetComponents() []string {
	seen := make(map[string]struct{})
	for _, e := range b.snapshot() {
		if e.Component != "" {
			seen[e.Component] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out
}

// Stats summarizes retained entries by level.
type Stats struct {
	Capacity   int            `json:"capacity"`
	Count      int            `json:"count"`
	LevelCount map[string]int `json:"level_count"`
}

func (b *Buffer) Stats() Stats {
	return b.StatsForSession("")
}

// StatsForSession restricts the summary to one session's entries; the
// empty session covers everything.
func (b *Buffer) StatsForSession(sessionID string) Stats {
	stats := Stats{Capacity: b.capacity, LevelCount: make(map[string]int)}
	for _, e := range b.snapshot() {
		if sessionID != "" && e.sessionID() != sessionID {
			continue
		}
		stats.Count++
		stats.LevelCount[e.Level]++
	}
	return stats
}

// Clear drops every retained entry.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
}

// Writer feeds zerolog output lines into a Buffer. Lines that do not
// parse as JSON pass through to the fallback untouched.
type Writer struct {
	buffer   *Buffer
	fallback io.Writer
}

func NewWriter(buffer *Buffer, fallback io.Writer) *Writer {
	return &Writer{buffer: buffer, fallback: fallback}
}

func (w *Writer) Write(p []byte) (int, error) {
	if entry, ok := parseLine(p); ok {
		w.buffer.Add(entry)
	}
	if w.fallback != nil {
		return w.fallback.Write(p)
	}
	return len(p), nil
}

// parseLine lifts zerolog's well-known keys out of a JSON log line and
// keeps the rest as loose fields.
func parseLine(p []byte) (LogEntry, bool) {
	var raw map[string]interface{}
	if err := json.Unmarshal(p, &raw); err != nil {
		return LogEntry{}, false
	}

	entry := LogEntry{Timestamp: time.Now(), Fields: raw, Raw: string(p)}
	if lvl, ok := raw["level"].(string); ok {
		entry.Level = lvl
		delete(raw, "level")
	}
	if msg, ok := raw["message"].(string); ok {
		entry.Message = msg
		delete(raw, "message")
	}
	if comp, ok := raw["component"].(string); ok {
		entry.Component = comp
		delete(raw, "component")
	}

	// zerolog emits "time" as unix seconds under TimeFormatUnix; accept
	// RFC3339 too in case the format changes.
	switch ts := raw["time"].(type) {
	case float64:
		entry.Timestamp = time.Unix(int64(ts), 0)
		delete(raw, "time")
	case string:
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			entry.Timestamp = t
		}
		delete(raw, "time")
	}

	return entry, true
}

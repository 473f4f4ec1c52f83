/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package e2e exercises the assembled HTTP API through a real chi router,
// covering routing, auth middleware, and role guards end to end.
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_vision/internal/api"
	"github.com/friendsincode/grimnir_vision/internal/audit"
	"github.com/friendsincode/grimnir_vision/internal/auth"
	"github.com/friendsincode/grimnir_vision/internal/config"
	"github.com/friendsincode/grimnir_vision/internal/db"
	"github.com/friendsincode/grimnir_vision/internal/eventbus"
	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/history"
	"github.com/friendsincode/grimnir_vision/internal/logbuffer"
	"github.com/friendsincode/grimnir_vision/internal/manifest"
	"github.com/friendsincode/grimnir_vision/internal/media"
	"github.com/friendsincode/grimnir_vision/internal/mediaengine"
	"github.com/friendsincode/grimnir_vision/internal/models"
	"github.com/friendsincode/grimnir_vision/internal/session"
)

type harness struct {
	server *httptest.Server
	db     *gorm.DB
	client *http.Client
}

// newHarness assembles the full API against an in-memory database and
// fake playback engines, then serves it over a real HTTP listener.
func newHarness(t *testing.T) *harness {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := &config.Config{
		JWTSigningKey: "e2e-test-secret",
		MediaRoot:     t.TempDir(),
		MaxSessions:   4,
	}
	logger := zerolog.Nop()

	manager := session.NewManager(session.ManagerOptions{
		Factory: func(context.Context) (mediaengine.Engine, error) {
			return mediaengine.NewFakeEngine(), nil
		},
		MaxSessions: cfg.MaxSessions,
	}, logger)
	t.Cleanup(manager.CloseAll)

	mediaSvc, err := media.NewService(cfg, logger)
	if err != nil {
		t.Fatalf("media service: %v", err)
	}

	localBus := events.NewBus()
	handler := api.New(
		gdb,
		cfg,
		manager,
		manifest.NewFetcher(nil, logger),
		mediaSvc,
		media.NewLibrary(cfg.MediaRoot, logger),
		history.NewStore(gdb, logger),
		nil,
		mediaengine.NewSupervisor(logger, func(string, string) {}),
		auth.NewDeviceKeyService(gdb, logger),
		audit.NewService(gdb, localBus, logger),
		eventbus.NewMemory(localBus),
		logbuffer.New(256),
		logger,
	)

	r := chi.NewRouter()
	handler.Routes(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &harness{
		server: server,
		db:     gdb,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *harness) seedUser(t *testing.T, email, password string, role models.RoleName) models.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := models.User{
		ID:       "user-" + strings.ReplaceAll(email, "@", "-"),
		Email:    email,
		Password: hash,
		Role:     role,
	}
	if err := h.db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// login authenticates through the real endpoint and returns the token.
func (h *harness) login(t *testing.T, email, password string) string {
	t.Helper()
	body := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	resp, err := h.client.Post(h.server.URL+"/api/v1/auth/login", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("login status = %d body=%s", resp.StatusCode, raw)
	}
	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if parsed.Token == "" {
		t.Fatal("login returned empty token")
	}
	return parsed.Token
}

// do issues a request with an optional bearer token and JSON body.
func (h *harness) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// TestRouteAccess walks the route map with each role and verifies the
// auth middleware and role guards resolve as mounted.
func TestRouteAccess(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "admin@example.com", "pw-admin", models.RoleAdmin)
	h.seedUser(t, "op@example.com", "pw-op", models.RoleOperator)
	h.seedUser(t, "viewer@example.com", "pw-viewer", models.RoleViewer)

	tokens := map[string]string{
		"admin":    h.login(t, "admin@example.com", "pw-admin"),
		"operator": h.login(t, "op@example.com", "pw-op"),
		"viewer":   h.login(t, "viewer@example.com", "pw-viewer"),
	}

	tests := []struct {
		name       string
		method     string
		path       string
		role       string // empty means unauthenticated
		body       string
		wantStatus int
	}{
		// Public surface.
		{name: "health is public", method: http.MethodGet, path: "/api/v1/health", wantStatus: http.StatusOK},

		// Everything else requires a token.
		{name: "sessions list unauthenticated", method: http.MethodGet, path: "/api/v1/sessions", wantStatus: http.StatusUnauthorized},
		{name: "profiles unauthenticated", method: http.MethodGet, path: "/api/v1/profiles", wantStatus: http.StatusUnauthorized},
		{name: "system status unauthenticated", method: http.MethodGet, path: "/api/v1/system/status", wantStatus: http.StatusUnauthorized},

		// Viewer-readable surface.
		{name: "auth me", method: http.MethodGet, path: "/api/v1/auth/me", role: "viewer", wantStatus: http.StatusOK},
		{name: "sessions list", method: http.MethodGet, path: "/api/v1/sessions", role: "viewer", wantStatus: http.StatusOK},
		{name: "profiles list", method: http.MethodGet, path: "/api/v1/profiles", role: "viewer", wantStatus: http.StatusOK},
		{name: "history recent", method: http.MethodGet, path: "/api/v1/history/recent", role: "viewer", wantStatus: http.StatusOK},
		{name: "history continue", method: http.MethodGet, path: "/api/v1/history/continue", role: "viewer", wantStatus: http.StatusOK},
		{name: "history sessions", method: http.MethodGet, path: "/api/v1/history/sessions", role: "viewer", wantStatus: http.StatusOK},
		{name: "history resume requires url", method: http.MethodGet, path: "/api/v1/history/resume", role: "viewer", wantStatus: http.StatusBadRequest},
		{name: "history resume", method: http.MethodGet, path: "/api/v1/history/resume?url=https%3A%2F%2Fcdn.example.com%2Fv%2Ffilm.mp4", role: "viewer", wantStatus: http.StatusOK},
		{name: "media list", method: http.MethodGet, path: "/api/v1/media", role: "viewer", wantStatus: http.StatusOK},
		{name: "device keys list", method: http.MethodGet, path: "/api/v1/devicekeys", role: "viewer", wantStatus: http.StatusOK},
		{name: "variants probe requires url", method: http.MethodGet, path: "/api/v1/variants", role: "viewer", wantStatus: http.StatusBadRequest},

		// Operator-gated writes.
		{name: "viewer cannot create session", method: http.MethodPost, path: "/api/v1/sessions", role: "viewer", wantStatus: http.StatusForbidden},
		{name: "operator creates session", method: http.MethodPost, path: "/api/v1/sessions", role: "operator", wantStatus: http.StatusCreated},
		{name: "viewer cannot trigger scan", method: http.MethodPost, path: "/api/v1/media/scan", role: "viewer", wantStatus: http.StatusForbidden},
		{name: "operator triggers scan", method: http.MethodPost, path: "/api/v1/media/scan", role: "operator", wantStatus: http.StatusOK},

		// Admin-only surface.
		{name: "viewer cannot list users", method: http.MethodGet, path: "/api/v1/users", role: "viewer", wantStatus: http.StatusForbidden},
		{name: "operator cannot list users", method: http.MethodGet, path: "/api/v1/users", role: "operator", wantStatus: http.StatusForbidden},
		{name: "admin lists users", method: http.MethodGet, path: "/api/v1/users", role: "admin", wantStatus: http.StatusOK},
		{name: "viewer cannot read system status", method: http.MethodGet, path: "/api/v1/system/status", role: "viewer", wantStatus: http.StatusForbidden},
		{name: "admin reads system status", method: http.MethodGet, path: "/api/v1/system/status", role: "admin", wantStatus: http.StatusOK},
		{name: "admin reads settings", method: http.MethodGet, path: "/api/v1/system/settings", role: "admin", wantStatus: http.StatusOK},
		{name: "admin reads logs", method: http.MethodGet, path: "/api/v1/system/logs", role: "admin", wantStatus: http.StatusOK},
		{name: "admin reads log components", method: http.MethodGet, path: "/api/v1/system/logs/components", role: "admin", wantStatus: http.StatusOK},
		{name: "admin reads log stats", method: http.MethodGet, path: "/api/v1/system/logs/stats", role: "admin", wantStatus: http.StatusOK},
		{name: "viewer cannot read audit log", method: http.MethodGet, path: "/api/v1/audit", role: "viewer", wantStatus: http.StatusForbidden},
		{name: "admin reads audit log", method: http.MethodGet, path: "/api/v1/audit", role: "admin", wantStatus: http.StatusOK},
		{name: "viewer cannot list import jobs", method: http.MethodGet, path: "/api/v1/migrations", role: "viewer", wantStatus: http.StatusForbidden},
		{name: "admin lists import jobs", method: http.MethodGet, path: "/api/v1/migrations", role: "admin", wantStatus: http.StatusOK},
		{name: "viewer cannot mint device key", method: http.MethodPost, path: "/api/v1/devicekeys", role: "viewer", body: `{"name":"kiosk"}`, wantStatus: http.StatusForbidden},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.do(t, tc.method, tc.path, tokens[tc.role], tc.body)
			defer resp.Body.Close()

			if resp.StatusCode != tc.wantStatus {
				raw, _ := io.ReadAll(resp.Body)
				t.Errorf("%s %s status = %d, want %d body=%s", tc.method, tc.path, resp.StatusCode, tc.wantStatus, raw)
			}
		})
	}
}

// TestSessionLifecycle drives a session from login to teardown through
// the router rather than calling handlers directly.
func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "op@example.com", "pw-op", models.RoleOperator)
	token := h.login(t, "op@example.com", "pw-op")

	// Create a session.
	resp := h.do(t, http.MethodPost, "/api/v1/sessions", token, "")
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("create status = %d body=%s", resp.StatusCode, raw)
	}
	var created struct {
		ID      string `json:"id"`
		OwnerID string `json:"owner_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	resp.Body.Close()
	if created.ID == "" {
		t.Fatal("session id missing")
	}

	base := "/api/v1/sessions/" + created.ID

	// Open a stream on it.
	open := `{"url":"https://cdn.example.com/v/film.mp4","media_kind":"video","projection":"sphere"}`
	resp = h.do(t, http.MethodPost, base+"/open", token, open)
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("open status = %d body=%s", resp.StatusCode, raw)
	}
	var st struct {
		StreamURL string `json:"stream_url"`
		Paused    bool   `json:"paused"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode open: %v", err)
	}
	resp.Body.Close()
	if st.StreamURL != "https://cdn.example.com/v/film.mp4" {
		t.Errorf("stream url = %q", st.StreamURL)
	}

	// Pause, then confirm via the state endpoint.
	resp = h.do(t, http.MethodPost, base+"/pause", token, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pause status = %d", resp.StatusCode)
	}

	resp = h.do(t, http.MethodGet, base+"/state", token, "")
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	resp.Body.Close()
	if !st.Paused {
		t.Error("state endpoint lost the pause")
	}

	// The open stream produced a projection mesh.
	resp = h.do(t, http.MethodGet, base+"/mesh", token, "")
	meshBytes, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mesh status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("mesh content type = %q", ct)
	}
	if len(meshBytes) == 0 {
		t.Error("empty mesh body")
	}

	// Close and verify it is gone.
	resp = h.do(t, http.MethodDelete, base, token, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close status = %d", resp.StatusCode)
	}

	resp = h.do(t, http.MethodGet, base, token, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("closed session status = %d, want 404", resp.StatusCode)
	}
}

// TestLoginFlow covers credential rejection and token round trips.
func TestLoginFlow(t *testing.T) {
	h := newHarness(t)
	h.seedUser(t, "viewer@example.com", "hunter2", models.RoleViewer)

	t.Run("wrong password rejected", func(t *testing.T) {
		body := `{"email":"viewer@example.com","password":"wrong"}`
		resp, err := h.client.Post(h.server.URL+"/api/v1/auth/login", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("issued token authenticates", func(t *testing.T) {
		token := h.login(t, "viewer@example.com", "hunter2")
		resp := h.do(t, http.MethodGet, "/api/v1/auth/me", token, "")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("me status = %d", resp.StatusCode)
		}
		var me models.User
		if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
			t.Fatalf("decode me: %v", err)
		}
		if me.Email != "viewer@example.com" {
			t.Errorf("email = %q", me.Email)
		}
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		resp := h.do(t, http.MethodGet, "/api/v1/auth/me", "not-a-jwt", "")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})
}

// TestRouteNotFound verifies unknown paths fall through to 404.
func TestRouteNotFound(t *testing.T) {
	h := newHarness(t)

	resp, err := h.client.Get(h.server.URL + "/nonexistent-route-12345")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// TestResponsesAreJSON spot-checks the content type on the public route.
func TestResponsesAreJSON(t *testing.T) {
	h := newHarness(t)

	resp, err := h.client.Get(h.server.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Errorf("content type = %q, want JSON", ct)
	}
}

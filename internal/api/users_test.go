package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_vision/internal/auth"
	"github.com/friendsincode/grimnir_vision/internal/eventbus"
	"github.com/friendsincode/grimnir_vision/internal/events"
	"github.com/friendsincode/grimnir_vision/internal/models"
)

func newUsersAPI(t *testing.T) (*API, models.User) {
	t.Helper()
	db := newTestDB(t, &models.User{})
	admin := seedUser(t, db, "admin@example.com", "pw", models.RoleAdmin)
	return &API{
		db:     db,
		bus:    eventbus.NewMemory(events.NewBus()),
		logger: zerolog.Nop(),
	}, admin
}

func adminRequest(req *http.Request, admin models.User, targetUserID string) *http.Request {
	if targetUserID != "" {
		routeCtx := chi.NewRouteContext()
		routeCtx.URLParams.Add("userID", targetUserID)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	}
	return req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
		UserID: admin.ID,
		Roles:  []string{string(models.RoleAdmin)},
	}))
}

func TestHandleUsersCreate(t *testing.T) {
	a, admin := newUsersAPI(t)

	t.Run("defaults to viewer role", func(t *testing.T) {
		body := `{"email":"new@example.com","password":"secret"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(body))
		req = adminRequest(req, admin, "")
		rr := httptest.NewRecorder()

		a.handleUsersCreate(rr, req)

		if rr.Code != http.StatusCreated {
			t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
		}
		var created models.User
		if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if created.Role != models.RoleViewer {
			t.Errorf("role = %q, want viewer", created.Role)
		}
		if created.ID == "" {
			t.Error("no ID assigned")
		}
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		body := `{"email":"admin@example.com","password":"secret"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(body))
		req = adminRequest(req, admin, "")
		rr := httptest.NewRecorder()

		a.handleUsersCreate(rr, req)

		if rr.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409 body=%s", rr.Code, rr.Body.String())
		}
	})

	t.Run("rejects bogus role", func(t *testing.T) {
		body := `{"email":"x@example.com","password":"secret","role":"overlord"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(body))
		req = adminRequest(req, admin, "")
		rr := httptest.NewRecorder()

		a.handleUsersCreate(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "invalid_role") {
			t.Errorf("body = %s", rr.Body.String())
		}
	})
}

func TestHandleUserUpdate(t *testing.T) {
	a, admin := newUsersAPI(t)
	viewer := seedUser(t, a.db, "viewer@example.com", "pw", models.RoleViewer)

	t.Run("promotes role and suspends", func(t *testing.T) {
		body := `{"role":"operator","suspended":true}`
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/users/"+viewer.ID, strings.NewReader(body))
		req = adminRequest(req, admin, viewer.ID)
		rr := httptest.NewRecorder()

		a.handleUserUpdate(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
		}
		var got models.User
		if err := a.db.First(&got, "id = ?", viewer.ID).Error; err != nil {
			t.Fatalf("reload: %v", err)
		}
		if got.Role != models.RoleOperator {
			t.Errorf("role = %q", got.Role)
		}
		if !got.Suspended {
			t.Error("suspension not persisted")
		}
	})

	t.Run("self role change refused", func(t *testing.T) {
		body := `{"role":"viewer"}`
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/users/"+admin.ID, strings.NewReader(body))
		req = adminRequest(req, admin, admin.ID)
		rr := httptest.NewRecorder()

		a.handleUserUpdate(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400 body=%s", rr.Code, rr.Body.String())
		}
		if !strings.Contains(rr.Body.String(), "cannot_modify_self") {
			t.Errorf("body = %s", rr.Body.String())
		}
	})

	t.Run("self email change allowed", func(t *testing.T) {
		body := `{"email":"root@example.com"}`
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/users/"+admin.ID, strings.NewReader(body))
		req = adminRequest(req, admin, admin.ID)
		rr := httptest.NewRecorder()

		a.handleUserUpdate(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
		}
	})

	t.Run("unknown user 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/users/ghost", strings.NewReader(`{}`))
		req = adminRequest(req, admin, "ghost")
		rr := httptest.NewRecorder()

		a.handleUserUpdate(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rr.Code)
		}
	})
}

func TestHandleUserDelete(t *testing.T) {
	a, admin := newUsersAPI(t)
	victim := seedUser(t, a.db, "bye@example.com", "pw", models.RoleViewer)

	t.Run("self delete refused", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/"+admin.ID, nil)
		req = adminRequest(req, admin, admin.ID)
		rr := httptest.NewRecorder()

		a.handleUserDelete(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400 body=%s", rr.Code, rr.Body.String())
		}
		if !strings.Contains(rr.Body.String(), "cannot_delete_self") {
			t.Errorf("body = %s", rr.Body.String())
		}
	})

	t.Run("delete removes user and publishes invalidation", func(t *testing.T) {
		local := events.NewBus()
		deleted := local.Subscribe(events.EventUserDeleted)
		a.bus = eventbus.NewMemory(local)

		req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/"+victim.ID, nil)
		req = adminRequest(req, admin, victim.ID)
		rr := httptest.NewRecorder()

		a.handleUserDelete(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
		}
		var count int64
		a.db.Model(&models.User{}).Where("id = ?", victim.ID).Count(&count)
		if count != 0 {
			t.Error("user row still present")
		}

		select {
		case payload := <-deleted:
			if payload["user_id"] != victim.ID {
				t.Errorf("payload = %+v", payload)
			}
		default:
			t.Error("no cache.user_deleted event published")
		}
	})
}

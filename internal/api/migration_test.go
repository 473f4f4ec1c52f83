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
	"github.com/friendsincode/grimnir_vision/internal/migration"
	"github.com/friendsincode/grimnir_vision/internal/models"
)

type stubImporter struct{}

func (stubImporter) Validate(context.Context, migration.Options) error { return nil }

func (stubImporter) Analyze(context.Context, migration.Options) (*migration.Result, error) {
	return &migration.Result{}, nil
}

func (stubImporter) Import(context.Context, migration.Options, migration.ProgressCallback) (*migration.Result, error) {
	return &migration.Result{}, nil
}

func newMigrationTestHandler(t *testing.T) *MigrationHandler {
	t.Helper()
	db := newTestDB(t, &migration.Job{})
	service := migration.NewService(db, eventbus.NewMemory(events.NewBus()), zerolog.Nop())
	service.RegisterImporter("stub", stubImporter{})
	return &MigrationHandler{service: service, logger: zerolog.Nop()}
}

func migrationRequest(method, target, body string, jobID string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	if jobID != "" {
		routeCtx := chi.NewRouteContext()
		routeCtx.URLParams.Add("id", jobID)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	}
	return req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
		UserID: "u-admin",
		Roles:  []string{string(models.RoleAdmin)},
	}))
}

func TestHandleCreateMigrationJob(t *testing.T) {
	h := newMigrationTestHandler(t)

	body := `{"source_type":"stub","options":{"dry_run":true}}`
	rr := httptest.NewRecorder()
	h.handleCreateJob(rr, migrationRequest(http.MethodPost, "/migrations", body, ""))

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}

	var resp jobEnvelope
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Job == nil {
		t.Fatal("no job in response")
	}
	if resp.Job.Status != migration.JobStatusPending {
		t.Errorf("status = %q", resp.Job.Status)
	}
	if !resp.Job.DryRun {
		t.Error("dry run flag lost")
	}
	// The creating user becomes the import target when none is named.
	if resp.Job.Options.ImportingUserID != "u-admin" {
		t.Errorf("importing user = %q", resp.Job.Options.ImportingUserID)
	}
	if resp.Job.Options.JobID != resp.Job.ID {
		t.Errorf("options job id = %q, job id = %q", resp.Job.Options.JobID, resp.Job.ID)
	}
}

func TestHandleCreateMigrationJob_UnknownSource(t *testing.T) {
	h := newMigrationTestHandler(t)

	body := `{"source_type":"tape_deck","options":{}}`
	rr := httptest.NewRecorder()
	h.handleCreateJob(rr, migrationRequest(http.MethodPost, "/migrations", body, ""))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 body=%s", rr.Code, rr.Body.String())
	}
}

func TestHandleGetMigrationJob_NotFound(t *testing.T) {
	h := newMigrationTestHandler(t)

	rr := httptest.NewRecorder()
	h.handleGetJob(rr, migrationRequest(http.MethodGet, "/migrations/ghost", "", "ghost"))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "job_not_found") {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestHandleListMigrationJobs(t *testing.T) {
	h := newMigrationTestHandler(t)

	for i := 0; i < 2; i++ {
		body := `{"source_type":"stub","options":{}}`
		rr := httptest.NewRecorder()
		h.handleCreateJob(rr, migrationRequest(http.MethodPost, "/migrations", body, ""))
		if rr.Code != http.StatusCreated {
			t.Fatalf("create %d: status = %d", i, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	h.handleListJobs(rr, migrationRequest(http.MethodGet, "/migrations", "", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Jobs  []*migration.Job `json:"jobs"`
		Count int              `json:"count"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Jobs) != 2 || resp.Count != 2 {
		t.Errorf("jobs = %d count = %d, want 2", len(resp.Jobs), resp.Count)
	}
}

func TestHandleCancelMigrationJob_PendingRefused(t *testing.T) {
	h := newMigrationTestHandler(t)

	body := `{"source_type":"stub","options":{}}`
	rr := httptest.NewRecorder()
	h.handleCreateJob(rr, migrationRequest(http.MethodPost, "/migrations", body, ""))
	var created jobEnvelope
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode create: %v", err)
	}

	rr = httptest.NewRecorder()
	h.handleCancelJob(rr, migrationRequest(http.MethodPost, "/migrations/x/cancel", "", created.Job.ID))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 body=%s", rr.Code, rr.Body.String())
	}
}

package migration

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_vision/internal/eventbus"
	"github.com/friendsincode/grimnir_vision/internal/events"
)

type fakeImporter struct {
	validateErr error
	importErr   error
	result      *Result

	// block, when non-nil, makes Import wait for ctx cancellation.
	block chan struct{}

	started chan struct{}
}

func (f *fakeImporter) Validate(context.Context, Options) error { return f.validateErr }

func (f *fakeImporter) Analyze(context.Context, Options) (*Result, error) {
	return &Result{}, nil
}

func (f *fakeImporter) Import(ctx context.Context, _ Options, cb ProgressCallback) (*Result, error) {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if cb != nil {
		cb(Progress{Phase: "users", Percentage: 40})
	}
	if f.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.block:
		}
	}
	if f.importErr != nil {
		return nil, f.importErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return &Result{UsersCreated: 2, ProgressEntriesImported: 5}, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&Job{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(db, eventbus.NewMemory(events.NewBus()), zerolog.Nop())
}

func waitForStatus(t *testing.T, svc *Service, jobID string, want JobStatus) *Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := svc.GetJob(context.Background(), jobID)
	t.Fatalf("job never reached %s, last status %s", want, job.Status)
	return nil
}

func TestCreateJobRequiresRegisteredImporter(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.CreateJob(context.Background(), SourceTypeViewra, Options{}); err == nil {
		t.Fatal("expected error for unregistered source type")
	}
}

func TestCreateJobRunsValidation(t *testing.T) {
	svc := newTestService(t)
	svc.RegisterImporter(SourceTypeViewra, &fakeImporter{
		validateErr: ValidationError{Field: "viewra_dsn", Message: "required"},
	})

	if _, err := svc.CreateJob(context.Background(), SourceTypeViewra, Options{}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestJobLifecycleCompletes(t *testing.T) {
	svc := newTestService(t)
	svc.RegisterImporter(SourceTypeViewra, &fakeImporter{
		result: &Result{UsersCreated: 3, ProfilesCreated: 1, ProgressEntriesImported: 7},
	})

	job, err := svc.CreateJob(context.Background(), SourceTypeViewra, Options{ViewraDSN: "postgres://test"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.Status != JobStatusPending {
		t.Fatalf("new job status = %s, want pending", job.Status)
	}
	if job.Options.JobID != job.ID {
		t.Fatalf("options job id = %q, want %q", job.Options.JobID, job.ID)
	}

	if err := svc.StartJob(context.Background(), job.ID); err != nil {
		t.Fatalf("start job: %v", err)
	}

	done := waitForStatus(t, svc, job.ID, JobStatusCompleted)
	if done.Result == nil {
		t.Fatal("completed job has no result")
	}
	if done.Result.UsersCreated != 3 || done.Result.ProgressEntriesImported != 7 {
		t.Fatalf("unexpected result %+v", done.Result)
	}
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Fatal("expected started/completed timestamps")
	}
	if done.Result.DurationSeconds < 0 {
		t.Fatalf("negative duration %f", done.Result.DurationSeconds)
	}
}

func TestStartJobRejectsNonPending(t *testing.T) {
	svc := newTestService(t)
	svc.RegisterImporter(SourceTypeViewra, &fakeImporter{})

	job, err := svc.CreateJob(context.Background(), SourceTypeViewra, Options{})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := svc.StartJob(context.Background(), job.ID); err != nil {
		t.Fatalf("start job: %v", err)
	}
	waitForStatus(t, svc, job.ID, JobStatusCompleted)

	if err := svc.StartJob(context.Background(), job.ID); err == nil {
		t.Fatal("expected error starting a completed job")
	}
}

func TestCancelJobStopsRunningImport(t *testing.T) {
	svc := newTestService(t)
	imp := &fakeImporter{
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	svc.RegisterImporter(SourceTypeLegacySQLite, imp)

	job, err := svc.CreateJob(context.Background(), SourceTypeLegacySQLite, Options{SQLitePath: "/tmp/x.db", ImportingUserID: "u1"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := svc.StartJob(context.Background(), job.ID); err != nil {
		t.Fatalf("start job: %v", err)
	}

	select {
	case <-imp.started:
	case <-time.After(5 * time.Second):
		t.Fatal("import never started")
	}
	// Let the running status land before cancelling.
	waitForStatus(t, svc, job.ID, JobStatusRunning)

	if err := svc.CancelJob(context.Background(), job.ID); err != nil {
		t.Fatalf("cancel job: %v", err)
	}

	got := waitForStatus(t, svc, job.ID, JobStatusCancelled)
	if got.Error != "" {
		t.Fatalf("cancelled job carries error %q", got.Error)
	}
}

func TestDeleteJobRefusesRunning(t *testing.T) {
	svc := newTestService(t)
	imp := &fakeImporter{
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	svc.RegisterImporter(SourceTypeViewra, imp)

	job, err := svc.CreateJob(context.Background(), SourceTypeViewra, Options{})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := svc.StartJob(context.Background(), job.ID); err != nil {
		t.Fatalf("start job: %v", err)
	}
	<-imp.started
	waitForStatus(t, svc, job.ID, JobStatusRunning)

	if err := svc.DeleteJob(context.Background(), job.ID); err == nil {
		t.Fatal("expected delete of running job to fail")
	}

	close(imp.block)
	waitForStatus(t, svc, job.ID, JobStatusCompleted)

	if err := svc.DeleteJob(context.Background(), job.ID); err != nil {
		t.Fatalf("delete completed job: %v", err)
	}
	if _, err := svc.GetJob(context.Background(), job.ID); err == nil {
		t.Fatal("expected job to be gone")
	}
}

func TestRecoverStaleJobs(t *testing.T) {
	svc := newTestService(t)

	stale := &Job{
		ID:         "stale-1",
		SourceType: SourceTypeViewra,
		Status:     JobStatusRunning,
	}
	if err := svc.db.Create(stale).Error; err != nil {
		t.Fatalf("seed stale job: %v", err)
	}

	if err := svc.RecoverStaleJobs(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}

	got, err := svc.GetJob(context.Background(), "stale-1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != JobStatusFailed {
		t.Fatalf("stale job status = %s, want failed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("stale job has no completion time")
	}
}

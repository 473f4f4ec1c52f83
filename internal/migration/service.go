/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_vision/internal/eventbus"
	"github.com/friendsincode/grimnir_vision/internal/events"
)

// Service manages import jobs.
type Service struct {
	db        *gorm.DB
	bus       eventbus.Relay
	logger    zerolog.Logger
	importers map[SourceType]Importer

	mu      sync.RWMutex
	jobs    map[string]*Job
	cancels map[string]context.CancelFunc
}

// NewService creates a new migration service.
func NewService(db *gorm.DB, bus eventbus.Relay, logger zerolog.Logger) *Service {
	return &Service{
		db:        db,
		bus:       bus,
		logger:    logger.With().Str("component", "migration").Logger(),
		importers: make(map[SourceType]Importer),
		jobs:      make(map[string]*Job),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// RecoverStaleJobs marks any jobs stuck in "running" status as failed.
// Called on server startup to handle jobs interrupted by a restart.
func (s *Service) RecoverStaleJobs(ctx context.Context) error {
	var staleJobs []*Job
	if err := s.db.WithContext(ctx).Where("status = ?", JobStatusRunning).Find(&staleJobs).Error; err != nil {
		return fmt.Errorf("find stale jobs: %w", err)
	}

	if len(staleJobs) == 0 {
		return nil
	}

	s.logger.Warn().Int("count", len(staleJobs)).Msg("found stale import jobs from previous run")

	now := time.Now()
	for _, job := range staleJobs {
		job.Status = JobStatusFailed
		job.Error = "import interrupted by server restart"
		job.CompletedAt = &now

		if err := s.db.WithContext(ctx).Save(job).Error; err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to mark stale job as failed")
			continue
		}

		s.logger.Info().
			Str("job_id", job.ID).
			Str("source_type", string(job.SourceType)).
			Msg("marked stale job as failed")
	}

	return nil
}

// RegisterImporter registers an importer for a source type.
func (s *Service) RegisterImporter(sourceType SourceType, importer Importer) {
	s.importers[sourceType] = importer
	s.logger.Info().Str("source_type", string(sourceType)).Msg("registered importer")
}

// CreateJob creates a new import job.
func (s *Service) CreateJob(ctx context.Context, sourceType SourceType, options Options) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	importer, ok := s.importers[sourceType]
	if !ok {
		return nil, fmt.Errorf("no importer registered for source type: %s", sourceType)
	}

	if err := importer.Validate(ctx, options); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	job := &Job{
		ID:         uuid.NewString(),
		SourceType: sourceType,
		Status:     JobStatusPending,
		DryRun:     options.DryRun,
		Options:    options,
		Progress: Progress{
			Phase:     "created",
			StartTime: time.Now(),
		},
		CreatedAt: time.Now(),
	}
	job.Options.JobID = job.ID

	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	s.jobs[job.ID] = job

	s.logger.Info().
		Str("job_id", job.ID).
		Str("source_type", string(sourceType)).
		Bool("dry_run", job.DryRun).
		Msg("import job created")

	s.bus.Publish(events.EventMigration, events.Payload{
		"job_id":      job.ID,
		"source_type": string(sourceType),
		"status":      string(JobStatusPending),
	})

	return job, nil
}

// StartJob starts an import job.
func (s *Service) StartJob(parentCtx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		job = &Job{}
		if err := s.db.WithContext(parentCtx).First(job, "id = ?", jobID).Error; err != nil {
			return fmt.Errorf("job not found: %w", err)
		}
		s.jobs[jobID] = job
	}

	if job.Status != JobStatusPending {
		return fmt.Errorf("job is not in pending state: %s", job.Status)
	}

	importer, ok := s.importers[job.SourceType]
	if !ok {
		return fmt.Errorf("no importer registered for source type: %s", job.SourceType)
	}

	// The job must outlive the HTTP request that started it.
	ctx, cancel := context.WithCancel(context.WithoutCancel(parentCtx))
	s.cancels[jobID] = cancel

	go func() {
		defer cancel()
		s.runJob(ctx, job, importer)
	}()

	s.logger.Info().Str("job_id", jobID).Msg("import job started")
	return nil
}

// runJob executes an import job. Job mutations happen under s.mu since
// CancelJob writes the same struct from another goroutine.
func (s *Service) runJob(ctx context.Context, job *Job, importer Importer) {
	startTime := time.Now()

	s.mu.Lock()
	now := startTime
	job.StartedAt = &now
	job.Status = JobStatusRunning
	err := s.updateJob(ctx, job)
	s.mu.Unlock()
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to update job status")
		return
	}

	progressCallback := func(progress Progress) {
		s.mu.Lock()
		job.Progress = progress
		err := s.updateJob(ctx, job)
		status := job.Status
		s.mu.Unlock()
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to update progress")
		}

		s.bus.Publish(events.EventMigration, events.Payload{
			"job_id":     job.ID,
			"status":     string(status),
			"progress":   progress,
			"percentage": progress.Percentage,
		})
	}

	result, err := importer.Import(ctx, job.Options, progressCallback)
	duration := time.Since(startTime)

	s.mu.Lock()
	if errors.Is(err, context.Canceled) {
		// CancelJob already recorded the status; don't overwrite it.
		s.logger.Info().Str("job_id", job.ID).Msg("import cancelled")
		job.Status = JobStatusCancelled
	} else if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("import failed")
		job.Status = JobStatusFailed
		job.Error = err.Error()
	} else {
		s.logger.Info().
			Str("job_id", job.ID).
			Dur("duration", duration).
			Int("users", result.UsersCreated).
			Int("profiles", result.ProfilesCreated).
			Int("progress_entries", result.ProgressEntriesImported).
			Msg("import completed")

		job.Status = JobStatusCompleted
		result.DurationSeconds = duration.Seconds()
		job.Result = result
	}

	now = time.Now()
	job.CompletedAt = &now

	if err := s.updateJob(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to update final job status")
	}

	finalStatus := job.Status
	finalError := job.Error
	delete(s.cancels, job.ID)
	s.mu.Unlock()

	s.bus.Publish(events.EventMigration, events.Payload{
		"job_id": job.ID,
		"status": string(finalStatus),
		"result": result,
		"error":  finalError,
	})

	s.bus.Publish(events.EventAuditImportRun, events.Payload{
		"user_id":       job.Options.ImportingUserID,
		"resource_type": "import_job",
		"resource_id":   job.ID,
		"source_type":   string(job.SourceType),
		"status":        string(finalStatus),
		"dry_run":       job.DryRun,
	})
}

// GetJob retrieves an import job by ID. The returned struct is a
// snapshot; the running job keeps mutating its own copy.
func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	s.mu.RLock()
	if job, ok := s.jobs[jobID]; ok {
		snapshot := *job
		s.mu.RUnlock()
		return &snapshot, nil
	}
	s.mu.RUnlock()

	job := &Job{}
	if err := s.db.WithContext(ctx).First(job, "id = ?", jobID).Error; err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.jobs[jobID] = job
	s.mu.Unlock()

	return job, nil
}

// ListJobs lists all import jobs, newest first.
func (s *Service) ListJobs(ctx context.Context) ([]*Job, error) {
	var jobs []*Job
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// CancelJob cancels a running import job.
func (s *Service) CancelJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if job.Status != JobStatusRunning {
		return fmt.Errorf("job is not running: %s", job.Status)
	}

	if cancel, ok := s.cancels[jobID]; ok {
		cancel()
	}

	job.Status = JobStatusCancelled
	if err := s.updateJob(ctx, job); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}

	s.logger.Info().Str("job_id", jobID).Msg("import job cancelled")

	s.bus.Publish(events.EventMigration, events.Payload{
		"job_id": jobID,
		"status": string(JobStatusCancelled),
	})

	return nil
}

// DeleteJob deletes an import job.
func (s *Service) DeleteJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		job = &Job{}
		if err := s.db.WithContext(ctx).First(job, "id = ?", jobID).Error; err != nil {
			return err
		}
	}

	if job.Status == JobStatusRunning {
		return fmt.Errorf("cannot delete running job")
	}

	if err := s.db.WithContext(ctx).Delete(&Job{}, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("delete job: %w", err)
	}

	delete(s.jobs, jobID)

	s.logger.Info().Str("job_id", jobID).Msg("import job deleted")
	return nil
}

// updateJob updates a job in the database.
func (s *Service) updateJob(ctx context.Context, job *Job) error {
	return s.db.WithContext(ctx).Save(job).Error
}

// ResetImportedData clears imported history and profiles from the
// database. Accounts are preserved. Destructive and cannot be undone.
func (s *Service) ResetImportedData(ctx context.Context) error {
	s.logger.Warn().Msg("resetting imported data")

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM watch_progresses").Error; err != nil {
			return fmt.Errorf("clear watch_progresses: %w", err)
		}
		s.logger.Info().Msg("cleared watch progress")

		if err := tx.Exec("DELETE FROM session_records").Error; err != nil {
			return fmt.Errorf("clear session_records: %w", err)
		}
		s.logger.Info().Msg("cleared session records")

		if err := tx.Exec("DELETE FROM projection_profiles").Error; err != nil {
			return fmt.Errorf("clear projection_profiles: %w", err)
		}
		s.logger.Info().Msg("cleared projection profiles")

		if err := tx.Exec("DELETE FROM jobs").Error; err != nil {
			return fmt.Errorf("clear jobs: %w", err)
		}
		s.logger.Info().Msg("cleared import jobs")

		return nil
	})
}

// Package jobs owns the asynchronous job lifecycle:
// pending -> processing -> done | error. Terminal states never transition
// again, and processing is never skipped.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clothseg/internal/models"
	"clothseg/internal/storage"
)

type Service struct {
	store storage.Store
}

func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// Enqueue creates a pending job for an existing image. A dangling image
// reference fails with models.ErrNotFound before anything is written.
func (s *Service) Enqueue(ctx context.Context, imageID uuid.UUID) (uuid.UUID, error) {
	const op = "jobs.Enqueue"

	if _, err := s.store.GetImage(ctx, imageID); err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	job := &models.Job{
		ID:        uuid.New(),
		ImageID:   imageID,
		Status:    models.JobPending,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}
	return job.ID, nil
}

// Claim attempts the pending -> processing transition. The store performs a
// conditional update, so when several workers race on the same job exactly
// one sees true; everyone else gets a false no-op.
func (s *Service) Claim(ctx context.Context, jobID uuid.UUID) (bool, error) {
	const op = "jobs.Claim"
	ok, err := s.store.ClaimJob(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ok, nil
}

// Complete moves a processing job to done.
func (s *Service) Complete(ctx context.Context, jobID uuid.UUID) error {
	const op = "jobs.Complete"
	if err := s.store.CompleteJob(ctx, jobID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Fail moves a processing job to error and records the message.
func (s *Service) Fail(ctx context.Context, jobID uuid.UUID, msg string) error {
	const op = "jobs.Fail"
	if err := s.store.FailJob(ctx, jobID, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Poll reads the current status. Once the job is done the detections
// produced for its image ride along; on error the stored message does.
func (s *Service) Poll(ctx context.Context, jobID uuid.UUID) (*models.JobView, error) {
	const op = "jobs.Poll"

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	view := &models.JobView{Job: *job}
	if job.Status == models.JobDone {
		dets, err := s.store.ImageDetections(ctx, job.ImageID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		view.Detections = dets
	}
	return view, nil
}

// NextPending returns the oldest pending job id, if any.
func (s *Service) NextPending(ctx context.Context) (uuid.UUID, bool, error) {
	const op = "jobs.NextPending"
	id, ok, err := s.store.NextPendingJobID(ctx)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return id, ok, nil
}

// ReclaimStale flips jobs abandoned mid-processing (a crashed worker) back
// to pending. Callers gate this behind configuration.
func (s *Service) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	const op = "jobs.ReclaimStale"
	n, err := s.store.ReclaimStaleJobs(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// Package worker is the long-lived consumer of pending jobs: discover
// oldest-first, claim, run the pipeline, record done or error. Any single
// job failure is written to that job and the loop keeps going.
package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"clothseg/internal/jobs"
	"clothseg/internal/pipeline"
	"clothseg/internal/storage"
)

type Worker struct {
	store storage.Store
	jobs  *jobs.Service
	pipe  *pipeline.Pipeline

	interval     time.Duration
	reclaimAfter time.Duration // 0 disables stale-job reclaiming
	wake         <-chan struct{}
}

func New(store storage.Store, jobSvc *jobs.Service, pipe *pipeline.Pipeline, interval time.Duration, reclaimAfter time.Duration, wake <-chan struct{}) *Worker {
	return &Worker{
		store:        store,
		jobs:         jobSvc,
		pipe:         pipe,
		interval:     interval,
		reclaimAfter: reclaimAfter,
		wake:         wake,
	}
}

// Run polls until ctx is canceled. After draining the pending queue it
// sleeps until the next tick or a queue notification.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	log.Println("worker started, polling for jobs")
	for {
		w.drain(ctx)

		select {
		case <-ctx.Done():
			log.Println("worker stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// drain processes pending jobs until none are left.
func (w *Worker) drain(ctx context.Context) {
	if w.reclaimAfter > 0 {
		if n, err := w.jobs.ReclaimStale(ctx, w.reclaimAfter); err != nil {
			log.Printf("worker: reclaim stale jobs: %v", err)
		} else if n > 0 {
			log.Printf("worker: reclaimed %d stale job(s)", n)
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := w.RunOnce(ctx)
		if err != nil {
			log.Printf("worker: %v", err)
			return
		}
		if !processed {
			return
		}
	}
}

// RunOnce claims and processes at most one job. It reports whether a job
// was claimed; a claim lost to another worker counts as no job.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	const op = "worker.RunOnce"

	id, ok, err := w.jobs.NextPending(ctx)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return false, nil
	}

	claimed, err := w.jobs.Claim(ctx, id)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if !claimed {
		return false, nil
	}

	w.process(ctx, id)
	return true, nil
}

// process runs the pipeline for a claimed job and settles it. Every failure
// path ends in Fail so the job cannot stay processing while this worker
// lives.
func (w *Worker) process(ctx context.Context, jobID uuid.UUID) {
	log.Printf("worker: processing job %s", jobID)

	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		w.fail(ctx, jobID, fmt.Sprintf("load job: %v", err))
		return
	}

	img, err := w.store.GetImage(ctx, job.ImageID)
	if err != nil {
		w.fail(ctx, jobID, fmt.Sprintf("load image %s: %v", job.ImageID, err))
		return
	}

	result, err := w.pipe.ProcessStored(ctx, img)
	if err != nil {
		w.fail(ctx, jobID, err.Error())
		return
	}

	if err := w.jobs.Complete(ctx, jobID); err != nil {
		log.Printf("worker: complete job %s: %v", jobID, err)
		return
	}
	log.Printf("worker: job %s done, %d detection(s)", jobID, len(result.Detections))
}

func (w *Worker) fail(ctx context.Context, jobID uuid.UUID, msg string) {
	log.Printf("worker: job %s failed: %s", jobID, msg)
	if err := w.jobs.Fail(ctx, jobID, msg); err != nil {
		log.Printf("worker: record failure for job %s: %v", jobID, err)
	}
}

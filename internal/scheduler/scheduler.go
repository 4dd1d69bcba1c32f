// Package scheduler claims pending jobs and dispatches them to the pipeline,
// either once or in a polling daemon loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"stitch/internal/config"
	"stitch/internal/jobstore"
	"stitch/internal/logging"
	"stitch/internal/pipeline"
)

// Scheduler feeds claimed jobs into orchestrator runs.
type Scheduler struct {
	cfg          *config.Config
	store        *jobstore.Store
	orchestrator *pipeline.Orchestrator
	logger       *slog.Logger

	lockPath string
	lock     *flock.Flock
}

// New builds a scheduler over the given store and orchestrator.
func New(cfg *config.Config, store *jobstore.Store, orchestrator *pipeline.Orchestrator, logger *slog.Logger) *Scheduler {
	lockPath := filepath.Join(cfg.Paths.LogDir, "stitch.lock")
	return &Scheduler{
		cfg:          cfg,
		store:        store,
		orchestrator: orchestrator,
		logger:       logging.NewComponentLogger(logger, "scheduler"),
		lockPath:     lockPath,
		lock:         flock.New(lockPath),
	}
}

// RunJob claims one named job and processes it to a terminal state.
func (s *Scheduler) RunJob(ctx context.Context, id int64) error {
	job, err := s.store.ClaimByID(ctx, id)
	if err != nil {
		return err
	}
	return s.orchestrator.Process(ctx, job)
}

// RunOnce performs a single poll pass: claim up to the batch size of pending
// jobs, run each on its own worker, and wait for all of them. Individual job
// failures are already persisted; the pass itself only fails on claim errors.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	batch := s.cfg.Workflow.ClaimBatchSize
	if batch <= 0 {
		batch = 1
	}
	jobs, err := s.store.ClaimPending(ctx, batch)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job *jobstore.Job) {
			defer wg.Done()
			if err := s.orchestrator.Process(ctx, job); err != nil {
				s.logger.WarnContext(ctx, "job run failed",
					logging.Int64(logging.FieldJobID, job.ID),
					logging.Error(err))
			}
		}(job)
	}
	wg.Wait()
	return len(jobs), nil
}

// RunDaemon polls until the context is cancelled. A file lock in the log
// directory keeps a second daemon instance from double-processing the queue.
func (s *Scheduler) RunDaemon(ctx context.Context) error {
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another stitch daemon instance is already running")
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	pollInterval := time.Duration(s.cfg.Workflow.PollInterval) * time.Second
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	errorRetry := time.Duration(s.cfg.Workflow.ErrorRetryInterval) * time.Second
	if errorRetry <= 0 {
		errorRetry = pollInterval
	}

	s.logger.InfoContext(ctx, "daemon started",
		logging.String("lock", s.lockPath),
		logging.Duration("poll_interval", pollInterval))

	for {
		processed, err := s.RunOnce(ctx)
		wait := pollInterval
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "poll pass failed", logging.Error(err))
			wait = errorRetry
		case processed > 0:
			s.logger.InfoContext(ctx, "poll pass finished", logging.Int("jobs", processed))
		}

		if err := sleepContext(ctx, wait); err != nil {
			s.logger.InfoContext(ctx, "daemon stopping")
			return nil
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package jobstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"stitch/internal/jobstore"
	"stitch/internal/services"
	"stitch/internal/testsupport"
)

func TestClaimPendingIsExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		testsupport.NewJob(t, store, "person", "cloth")
	}

	const claimers = 4
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[int64]int)
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs, err := store.ClaimPending(ctx, 3)
			if err != nil {
				t.Errorf("ClaimPending failed: %v", err)
				return
			}
			mu.Lock()
			for _, job := range jobs {
				claimed[job.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(claimed) != 6 {
		t.Fatalf("expected all 6 jobs claimed, got %d", len(claimed))
	}
	for id, count := range claimed {
		if count != 1 {
			t.Fatalf("job %d claimed %d times", id, count)
		}
	}
}

func TestConcurrentWorkersShareTheStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	jobs := make([]*jobstore.Job, 8)
	for i := range jobs {
		jobs[i] = testsupport.NewJob(t, store, "person", "cloth")
	}

	// Each worker writes through its own pooled connection; none of the
	// transitions may fail on lock contention.
	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job *jobstore.Job) {
			defer wg.Done()
			if err := store.MarkProcessing(ctx, job.ID); err != nil {
				t.Errorf("MarkProcessing job %d: %v", job.ID, err)
				return
			}
			if err := store.SetStageStatus(ctx, job.ID, jobstore.StageRemoveBackground, jobstore.StatusProcessing); err != nil {
				t.Errorf("SetStageStatus job %d: %v", job.ID, err)
				return
			}
			if err := store.SetStageStatus(ctx, job.ID, jobstore.StageRemoveBackground, jobstore.StatusCompleted); err != nil {
				t.Errorf("SetStageStatus job %d: %v", job.ID, err)
			}
		}(job)
	}
	wg.Wait()

	for _, job := range jobs {
		fetched, err := store.GetByID(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if fetched.Status != jobstore.StatusProcessing {
			t.Fatalf("job %d: expected processing, got %s", job.ID, fetched.Status)
		}
	}
}

func TestClaimPendingOrdersOldestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := testsupport.NewJob(t, store, "p1", "c1")
	second := testsupport.NewJob(t, store, "p2", "c2")

	jobs, err := store.ClaimPending(ctx, 1)
	if err != nil {
		t.Fatalf("ClaimPending failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != first.ID {
		t.Fatalf("expected job %d first, got %#v", first.ID, jobs)
	}
	if jobs[0].ClaimedAt == nil {
		t.Fatal("expected claim timestamp on claimed job")
	}
	if jobs[0].Status != jobstore.StatusPending {
		t.Fatalf("claim must not change status, got %s", jobs[0].Status)
	}

	jobs, err = store.ClaimPending(ctx, 5)
	if err != nil {
		t.Fatalf("ClaimPending failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != second.ID {
		t.Fatalf("expected remaining job %d, got %#v", second.ID, jobs)
	}
}

func TestTerminalMarksAreIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "person", "cloth")
	if err := store.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	if err := store.MarkCompleted(ctx, job.ID, "https://bucket.example.com/results/try_on_result_1.jpg"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	err := store.MarkFailed(ctx, job.ID, "late failure")
	if !errors.Is(err, services.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
	err = store.MarkCompleted(ctx, job.ID, "other")
	if !errors.Is(err, services.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Status != jobstore.StatusCompleted {
		t.Fatalf("terminal state must be preserved, got %s", fetched.Status)
	}
	if fetched.ResultRef != "https://bucket.example.com/results/try_on_result_1.jpg" {
		t.Fatalf("result reference overwritten: %q", fetched.ResultRef)
	}
	if fetched.ClaimedAt != nil {
		t.Fatal("expected claim released on completion")
	}
}

func TestMarkFailedPersistsMessage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "person", "cloth")
	if err := store.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	if err := store.MarkFailed(ctx, job.ID, "segmentation timed out after 600s"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.ErrorMessage != "segmentation timed out after 600s" {
		t.Fatalf("unexpected error message: %q", fetched.ErrorMessage)
	}
}

func TestSetStageStatusRejectsUnknownStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job := testsupport.NewJob(t, store, "person", "cloth")
	err := store.SetStageStatus(context.Background(), job.ID, "color_grading", jobstore.StatusProcessing)
	if !errors.Is(err, services.ErrUnknownStage) {
		t.Fatalf("expected ErrUnknownStage, got %v", err)
	}
}

func TestSetStageStatusIsMonotonic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "person", "cloth")
	stage := jobstore.StageRemoveBackground

	if err := store.SetStageStatus(ctx, job.ID, stage, jobstore.StatusProcessing); err != nil {
		t.Fatalf("pending -> processing failed: %v", err)
	}
	if err := store.SetStageStatus(ctx, job.ID, stage, jobstore.StatusCompleted); err != nil {
		t.Fatalf("processing -> completed failed: %v", err)
	}
	if err := store.SetStageStatus(ctx, job.ID, stage, jobstore.StatusPending); err == nil {
		t.Fatal("expected completed -> pending to be rejected")
	}
	if err := store.SetStageStatus(ctx, job.ID, stage, jobstore.StatusProcessing); err == nil {
		t.Fatal("expected completed -> processing to be rejected")
	}

	snapshot, err := store.Snapshot(ctx, job.ID)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	state := snapshot.Stages.State(stage)
	if state.Status != jobstore.StatusCompleted {
		t.Fatalf("expected stage completed, got %s", state.Status)
	}
	if state.Timestamp == nil {
		t.Fatal("expected stage timestamp recorded")
	}
}

func TestSetStageStatusSkipsProcessingRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job := testsupport.NewJob(t, store, "person", "cloth")
	err := store.SetStageStatus(context.Background(), job.ID, jobstore.StageClothMask, jobstore.StatusCompleted)
	if err == nil {
		t.Fatal("expected pending -> completed to be rejected")
	}
}

func TestResubmitCreatesFreshJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "person-ref", "cloth-ref")
	if err := store.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	if err := store.SetStageStatus(ctx, job.ID, jobstore.StageRemoveBackground, jobstore.StatusProcessing); err != nil {
		t.Fatalf("SetStageStatus failed: %v", err)
	}
	if err := store.SetStageStatus(ctx, job.ID, jobstore.StageRemoveBackground, jobstore.StatusFailed); err != nil {
		t.Fatalf("SetStageStatus failed: %v", err)
	}
	if err := store.MarkFailed(ctx, job.ID, "remove_background exited 1"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	fresh, err := store.Resubmit(ctx, job.ID)
	if err != nil {
		t.Fatalf("Resubmit failed: %v", err)
	}
	if fresh.ID == job.ID {
		t.Fatal("expected resubmission to create a new job")
	}
	if fresh.PersonImageRef != "person-ref" || fresh.ClothImageRef != "cloth-ref" {
		t.Fatalf("input references not carried over: %#v", fresh)
	}
	if fresh.Status != jobstore.StatusPending {
		t.Fatalf("expected pending, got %s", fresh.Status)
	}

	snapshot, err := store.Snapshot(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snapshot.Stages.State(jobstore.StageRemoveBackground).Status != jobstore.StatusPending {
		t.Fatal("expected fresh stage record on resubmission")
	}

	original, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if original.Status != jobstore.StatusFailed {
		t.Fatalf("original job must stay failed, got %s", original.Status)
	}
}

func TestResubmitRejectsNonFailedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job := testsupport.NewJob(t, store, "person", "cloth")
	if _, err := store.Resubmit(context.Background(), job.ID); err == nil {
		t.Fatal("expected resubmit of pending job to be rejected")
	}
}

func TestReclaimStaleResetsProcessingJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	stuck := testsupport.NewJob(t, store, "person", "cloth")
	if err := store.MarkProcessing(ctx, stuck.ID); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	if err := store.SetStageStatus(ctx, stuck.ID, jobstore.StageRemoveBackground, jobstore.StatusProcessing); err != nil {
		t.Fatalf("SetStageStatus failed: %v", err)
	}
	healthy := testsupport.NewJob(t, store, "person", "cloth")

	time.Sleep(20 * time.Millisecond)
	count, err := store.ReclaimStale(ctx, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("ReclaimStale failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", count)
	}

	reset, err := store.Snapshot(ctx, stuck.ID)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if reset.Job.Status != jobstore.StatusPending {
		t.Fatalf("expected stuck job reset to pending, got %s", reset.Job.Status)
	}
	if reset.Job.ClaimedAt != nil {
		t.Fatal("expected claim released on reclaim")
	}
	if reset.Stages.State(jobstore.StageRemoveBackground).Status != jobstore.StatusPending {
		t.Fatal("expected stage record reset to pending")
	}

	untouched, err := store.GetByID(ctx, healthy.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if untouched.Status != jobstore.StatusPending {
		t.Fatalf("healthy job must be untouched, got %s", untouched.Status)
	}
}

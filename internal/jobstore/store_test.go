package jobstore_test

import (
	"context"
	"errors"
	"testing"

	"stitch/internal/jobstore"
	"stitch/internal/services"
	"stitch/internal/testsupport"
)

func TestCreateSeedsPendingStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job, err := store.Create(ctx, "https://bucket.example.com/person.jpg", "https://bucket.example.com/cloth.jpg")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if job.ID == 0 {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Status != jobstore.StatusPending {
		t.Fatalf("expected pending status, got %s", job.Status)
	}
	if job.ClaimedAt != nil {
		t.Fatal("expected new job to be unclaimed")
	}

	snapshot, err := store.Snapshot(ctx, job.ID)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	for _, stage := range jobstore.Stages {
		state := snapshot.Stages.State(stage)
		if state.Status != jobstore.StatusPending {
			t.Fatalf("stage %s: expected pending, got %s", stage, state.Status)
		}
		if state.Timestamp != nil {
			t.Fatalf("stage %s: expected no timestamp on creation", stage)
		}
	}
}

func TestCreateRequiresBothReferences(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if _, err := store.Create(ctx, "", "https://bucket.example.com/cloth.jpg"); err == nil {
		t.Fatal("expected error when person reference missing")
	}
	if _, err := store.Create(ctx, "https://bucket.example.com/person.jpg", ""); err == nil {
		t.Fatal("expected error when cloth reference missing")
	}
}

func TestGetByIDMissingJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	_, err := store.GetByID(context.Background(), 9999)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := testsupport.NewJob(t, store, "p1", "c1")
	second := testsupport.NewJob(t, store, "p2", "c2")

	if err := store.MarkProcessing(ctx, second.ID); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	if err := store.MarkFailed(ctx, second.ID, "stage failed"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	pending, err := store.List(ctx, jobstore.StatusPending)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != first.ID {
		t.Fatalf("expected only job %d pending, got %#v", first.ID, pending)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(all))
	}

	failed, err := store.List(ctx, jobstore.StatusFailed)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "stage failed" {
		t.Fatalf("expected failure message preserved, got %#v", failed)
	}
}

func TestHealthAggregatesCounts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewJob(t, store, "p1", "c1")
	done := testsupport.NewJob(t, store, "p2", "c2")
	if err := store.MarkProcessing(ctx, done.ID); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	if err := store.MarkCompleted(ctx, done.ID, "https://bucket.example.com/results/try_on_result_2.jpg"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 2 || health.Pending != 1 || health.Completed != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}
}

package services_test

import (
	"context"
	"testing"

	"stitch/internal/services"
)

func TestJobIDRoundTrip(t *testing.T) {
	ctx := services.WithJobID(context.Background(), 42)
	id, ok := services.JobIDFromContext(ctx)
	if !ok || id != 42 {
		t.Fatalf("expected job id 42, got %d (ok=%v)", id, ok)
	}

	if _, ok := services.JobIDFromContext(context.Background()); ok {
		t.Fatal("expected no job id on empty context")
	}
}

func TestStageAndRunIDIgnoreEmptyValues(t *testing.T) {
	ctx := services.WithStage(context.Background(), "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("empty stage must not be stored")
	}

	ctx = services.WithStage(ctx, "segmentation")
	stage, ok := services.StageFromContext(ctx)
	if !ok || stage != "segmentation" {
		t.Fatalf("expected stage segmentation, got %q (ok=%v)", stage, ok)
	}

	ctx = services.WithRunID(ctx, "a1b2c3d4")
	run, ok := services.RunIDFromContext(ctx)
	if !ok || run != "a1b2c3d4" {
		t.Fatalf("expected run id, got %q (ok=%v)", run, ok)
	}
}

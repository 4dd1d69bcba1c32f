package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stitch/internal/logging"
	"stitch/internal/services"
)

func TestConsoleFormatIncludesComponentAndFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "stitch.log")
	logger, err := logging.New(logging.Options{
		Level:       "info",
		Format:      "console",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	component := logging.NewComponentLogger(logger, "pipeline")
	component.Info("stage completed",
		logging.String(logging.FieldStage, "cloth_mask"),
		logging.Int64(logging.FieldJobID, 9))

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, "INFO pipeline: stage completed") {
		t.Fatalf("unexpected console line: %q", line)
	}
	if !strings.Contains(line, "stage=cloth_mask") || !strings.Contains(line, "job_id=9") {
		t.Fatalf("expected structured fields in console line: %q", line)
	}
}

func TestJSONFormatEmitsLowercaseLevel(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "stitch.log")
	logger, err := logging.New(logging.Options{
		Level:       "debug",
		Format:      "json",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Warn("upload slow", logging.String("key", "results/try_on_result_1.jpg"))

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, data)
	}
	if payload["level"] != "warn" {
		t.Fatalf("expected lowercase level, got %v", payload["level"])
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatal("expected ts field")
	}
	if payload["key"] != "results/try_on_result_1.jpg" {
		t.Fatalf("expected attribute preserved, got %v", payload["key"])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected unknown format to be rejected")
	}
}

func TestWithContextAddsJobFields(t *testing.T) {
	ctx := services.WithJobID(context.Background(), 4)
	ctx = services.WithStage(ctx, "pose_generation")
	ctx = services.WithRunID(ctx, "deadbeef")

	fields := logging.ContextFields(ctx)
	if len(fields) != 3 {
		t.Fatalf("expected 3 context fields, got %d", len(fields))
	}

	keys := map[string]bool{}
	for _, field := range fields {
		keys[field.Key] = true
	}
	for _, want := range []string{logging.FieldJobID, logging.FieldStage, logging.FieldRunID} {
		if !keys[want] {
			t.Fatalf("missing context field %s", want)
		}
	}
}

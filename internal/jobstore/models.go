package jobstore

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a job or a single stage.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether a status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage identifies one of the five fixed pipeline stages.
type Stage string

const (
	StageRemoveBackground Stage = "remove_background"
	StageClothMask        Stage = "cloth_mask"
	StageSegmentation     Stage = "segmentation"
	StagePoseGeneration   Stage = "pose_generation"
	StageFinalProcessing  Stage = "final_processing"
)

// Stages lists the fixed stages in execution order.
var Stages = []Stage{
	StageRemoveBackground,
	StageClothMask,
	StageSegmentation,
	StagePoseGeneration,
	StageFinalProcessing,
}

// KnownStage reports whether the identifier is one of the five fixed stages.
func KnownStage(stage Stage) bool {
	for _, known := range Stages {
		if stage == known {
			return true
		}
	}
	return false
}

// Job represents one end-to-end try-on request persisted in SQLite.
type Job struct {
	ID             int64
	PersonImageRef string
	ClothImageRef  string
	Status         Status
	ResultRef      string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ClaimedAt      *time.Time
}

// IsTerminal reports whether the job reached a final state.
func (j *Job) IsTerminal() bool {
	return j != nil && j.Status.IsTerminal()
}

// StageState is the persisted status and last-transition timestamp of one stage.
type StageState struct {
	Status    Status
	Timestamp *time.Time
}

// StageRecord holds the per-stage state of one job.
type StageRecord struct {
	JobID  int64
	States map[Stage]StageState
}

// State returns the recorded state for a stage, defaulting to pending.
func (r *StageRecord) State(stage Stage) StageState {
	if r == nil || r.States == nil {
		return StageState{Status: StatusPending}
	}
	state, ok := r.States[stage]
	if !ok {
		return StageState{Status: StatusPending}
	}
	return state
}

// Snapshot pairs a job with its stage record.
type Snapshot struct {
	Job    Job
	Stages StageRecord
}

// HealthSummary describes aggregated job counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

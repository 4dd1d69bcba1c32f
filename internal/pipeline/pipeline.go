// Package pipeline drives one claimed job through the fixed stage sequence:
// fetch and validate both inputs, run the four preprocessing stages, build
// the synthesis dataset, run the synthesis stage, and publish the result.
// Every state transition is persisted immediately so observers and crash
// recovery always see what was actually produced.
package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"stitch/internal/config"
	"stitch/internal/fetch"
	"stitch/internal/fileutil"
	"stitch/internal/jobstore"
	"stitch/internal/logging"
	"stitch/internal/objectstore"
	"stitch/internal/services"
	"stitch/internal/stageexec"
	"stitch/internal/workspace"
)

// Orchestrator runs the per-job state machine.
type Orchestrator struct {
	cfg        *config.Config
	store      *jobstore.Store
	objects    *objectstore.Client
	fetcher    *fetch.Fetcher
	workspaces *workspace.Manager
	executor   *stageexec.Executor
	logger     *slog.Logger
}

// New wires an orchestrator from its collaborators.
func New(
	cfg *config.Config,
	store *jobstore.Store,
	objects *objectstore.Client,
	fetcher *fetch.Fetcher,
	workspaces *workspace.Manager,
	executor *stageexec.Executor,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		objects:    objects,
		fetcher:    fetcher,
		workspaces: workspaces,
		executor:   executor,
		logger:     logging.NewComponentLogger(logger, "pipeline"),
	}
}

// stagePlan carries the local artifact paths produced while a job runs.
type stagePlan struct {
	personSource string
	clothSource  string
	personNoBg   string
	clothMask    string
	parseMap     string
	poseImage    string
	poseJSON     string
}

// Process runs one claimed job to a terminal state. The run workspace is
// removed on every exit path; removal failures are logged, never fatal.
func (o *Orchestrator) Process(ctx context.Context, job *jobstore.Job) error {
	runID := uuid.NewString()[:8]
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, o.logger)

	if err := o.store.MarkProcessing(ctx, job.ID); err != nil {
		return err
	}
	logger.InfoContext(ctx, "job processing started")

	ws, err := o.workspaces.Create(job.ID, runID)
	if err != nil {
		return o.fail(ctx, logger, job.ID, "", fmt.Errorf("create workspace: %w", err))
	}
	defer func() {
		if removeErr := o.workspaces.Remove(ws); removeErr != nil {
			logger.Warn("workspace removal failed", logging.Error(removeErr))
		}
	}()

	plan := &stagePlan{
		personSource: filepath.Join(ws.Root, "person_src.jpg"),
		clothSource:  filepath.Join(ws.Root, "cloth_src.jpg"),
		personNoBg:   filepath.Join(ws.Root, "person_nobg.png"),
		clothMask:    filepath.Join(ws.Root, "cloth_mask.png"),
		parseMap:     filepath.Join(ws.Root, "parse_map.png"),
		poseImage:    filepath.Join(ws.Root, "pose_rendered.png"),
		poseJSON:     filepath.Join(ws.Root, "pose_keypoints.json"),
	}

	// Input fetch failures mark the job failed without touching any stage
	// status: no stage ran.
	if err := o.fetcher.Download(ctx, job.PersonImageRef, plan.personSource); err != nil {
		return o.fail(ctx, logger, job.ID, "", fmt.Errorf("fetch person image: %w", err))
	}
	if err := o.fetcher.Download(ctx, job.ClothImageRef, plan.clothSource); err != nil {
		return o.fail(ctx, logger, job.ID, "", fmt.Errorf("fetch cloth image: %w", err))
	}

	for _, stage := range preprocessingStages {
		if err := o.runStage(ctx, logger, job.ID, stage, plan); err != nil {
			return err
		}
	}

	if err := o.runSynthesis(ctx, logger, job.ID, ws, plan); err != nil {
		return err
	}

	logger.InfoContext(ctx, "job completed")
	return nil
}

var preprocessingStages = []jobstore.Stage{
	jobstore.StageRemoveBackground,
	jobstore.StageClothMask,
	jobstore.StageSegmentation,
	jobstore.StagePoseGeneration,
}

func (o *Orchestrator) runStage(ctx context.Context, logger *slog.Logger, jobID int64, stage jobstore.Stage, plan *stagePlan) error {
	binding, ok := o.cfg.Binding(string(stage))
	if !ok {
		// The stage never started; only the job is marked failed.
		return o.fail(ctx, logger, jobID, stage,
			services.Wrap(services.ErrUnknownStage, string(stage), "run", "no executor binding configured", nil))
	}

	if err := o.store.SetStageStatus(ctx, jobID, stage, jobstore.StatusProcessing); err != nil {
		return err
	}

	inv := invocationFor(stage, plan)
	outcome := o.executor.Run(services.WithStage(ctx, string(stage)), binding, inv)
	if !outcome.Success {
		return o.failStage(ctx, logger, jobID, stage, outcome.Err(string(stage)))
	}

	// The pose stage emits a keypoints file next to its rendered image; an
	// empty one poisons the synthesis dataset, so treat it as missing output.
	if stage == jobstore.StagePoseGeneration && !fileutil.NonEmptyFile(plan.poseJSON) {
		return o.failStage(ctx, logger, jobID, stage,
			services.Wrap(services.ErrMissingOutput, string(stage), "run", "keypoints file absent or empty", nil))
	}

	if err := o.store.SetStageStatus(ctx, jobID, stage, jobstore.StatusCompleted); err != nil {
		return err
	}
	logger.InfoContext(ctx, "stage completed", logging.String(logging.FieldStage, string(stage)))
	return nil
}

func invocationFor(stage jobstore.Stage, plan *stagePlan) stageexec.Invocation {
	inv := stageexec.Invocation{Stage: string(stage)}
	switch stage {
	case jobstore.StageRemoveBackground:
		inv.InputPath = plan.personSource
		inv.OutputPath = plan.personNoBg
	case jobstore.StageClothMask:
		inv.InputPath = plan.clothSource
		inv.OutputPath = plan.clothMask
	case jobstore.StageSegmentation:
		inv.InputPath = plan.personNoBg
		inv.OutputPath = plan.parseMap
	case jobstore.StagePoseGeneration:
		inv.InputPath = plan.personNoBg
		inv.OutputPath = plan.poseImage
		inv.ExtraArgs = []string{"--write-json", plan.poseJSON}
	}
	return inv
}

func (o *Orchestrator) runSynthesis(ctx context.Context, logger *slog.Logger, jobID int64, ws *workspace.Workspace, plan *stagePlan) error {
	stage := jobstore.StageFinalProcessing
	ctx = services.WithStage(ctx, string(stage))

	staged := map[workspace.Role]string{
		workspace.RoleCloth:     plan.clothSource,
		workspace.RolePerson:    plan.personNoBg,
		workspace.RoleParse:     plan.parseMap,
		workspace.RolePoseImage: plan.poseImage,
		workspace.RolePoseJSON:  plan.poseJSON,
		workspace.RoleClothMask: plan.clothMask,
	}
	for _, role := range workspace.Roles {
		if _, err := o.workspaces.Stage(ws, role, staged[role]); err != nil {
			return o.fail(ctx, logger, jobID, stage, err)
		}
	}
	manifest, err := o.workspaces.WriteManifest(ws)
	if err != nil {
		return o.fail(ctx, logger, jobID, stage, err)
	}

	binding, ok := o.cfg.Binding(string(stage))
	if !ok {
		return o.fail(ctx, logger, jobID, stage,
			services.Wrap(services.ErrUnknownStage, string(stage), "run", "no executor binding configured", nil))
	}

	if err := o.store.SetStageStatus(ctx, jobID, stage, jobstore.StatusProcessing); err != nil {
		return err
	}

	outcome := o.executor.Run(ctx, binding, stageexec.Invocation{
		Stage: string(stage),
		ExtraArgs: []string{
			"--name", ws.DatasetName(),
			"--dataset_dir", ws.Root,
			"--dataset_list", manifest,
			"--save_dir", ws.ResultsDir(),
			"--batch_size", "1",
			"--workers", "1",
			"--load_height", "1024",
			"--load_width", "768",
		},
	})
	if !outcome.Success {
		return o.failStage(ctx, logger, jobID, stage, outcome.Err(string(stage)))
	}

	resultPath, err := locateResult(ws.ResultsDir())
	if err != nil {
		return o.failStage(ctx, logger, jobID, stage, err)
	}

	resultRef, err := o.objects.Put(ctx, resultPath, objectstore.ResultKey(jobID))
	if err != nil {
		return o.failStage(ctx, logger, jobID, stage, err)
	}

	if err := o.store.SetStageStatus(ctx, jobID, stage, jobstore.StatusCompleted); err != nil {
		return err
	}
	if err := o.store.MarkCompleted(ctx, jobID, resultRef); err != nil {
		return err
	}
	logger.InfoContext(ctx, "result published", logging.String("result_ref", resultRef))
	return nil
}

// locateResult finds the single non-empty file the synthesis stage wrote.
func locateResult(resultsDir string) (string, error) {
	var found string
	err := filepath.WalkDir(resultsDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return walkErr
		}
		if fileutil.NonEmptyFile(path) {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", services.Wrap(services.ErrMissingOutput, string(jobstore.StageFinalProcessing), "locate result", resultsDir, err)
	}
	if found == "" {
		return "", services.Wrap(services.ErrMissingOutput, string(jobstore.StageFinalProcessing), "locate result",
			"no result file produced", nil)
	}
	return found, nil
}

// failStage records a stage failure, then the job failure, and returns the
// cause. Store write errors during failure handling are logged so the
// original cause is never masked.
func (o *Orchestrator) failStage(ctx context.Context, logger *slog.Logger, jobID int64, stage jobstore.Stage, cause error) error {
	if err := o.store.SetStageStatus(ctx, jobID, stage, jobstore.StatusFailed); err != nil {
		logger.Warn("failed to persist stage failure",
			logging.String(logging.FieldStage, string(stage)),
			logging.Error(err))
	}
	return o.fail(ctx, logger, jobID, stage, cause)
}

func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, jobID int64, stage jobstore.Stage, cause error) error {
	message := cause.Error()
	if err := o.store.MarkFailed(ctx, jobID, message); err != nil {
		logger.Warn("failed to persist job failure", logging.Error(err))
	}
	logger.WarnContext(ctx, "job failed",
		logging.String(logging.FieldStage, string(stage)),
		logging.Error(cause))
	return cause
}

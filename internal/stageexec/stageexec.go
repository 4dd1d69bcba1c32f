// Package stageexec runs the external processing programs behind each
// pipeline stage under a uniform contract: bounded runtime, augmented
// environment, and verified output.
package stageexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"stitch/internal/config"
	"stitch/internal/fileutil"
	"stitch/internal/logging"
	"stitch/internal/services"
)

var commandContext = exec.CommandContext

// FailureReason classifies why a stage invocation did not produce output.
type FailureReason string

const (
	ReasonTimeout       FailureReason = "timeout"
	ReasonNonZeroExit   FailureReason = "non_zero_exit"
	ReasonMissingOutput FailureReason = "missing_output"
	ReasonStartFailure  FailureReason = "start_failure"
)

// Outcome reports one stage invocation.
type Outcome struct {
	Success  bool
	Reason   FailureReason
	ExitCode int
	Duration time.Duration
	Stdout   string
	Stderr   string
}

// Err converts a failed outcome into a wrapped sentinel error.
func (o Outcome) Err(stage string) error {
	if o.Success {
		return nil
	}
	switch o.Reason {
	case ReasonTimeout:
		return services.Wrap(services.ErrTimeout, stage, "execute",
			fmt.Sprintf("killed after %s", o.Duration.Round(time.Second)), nil)
	case ReasonMissingOutput:
		return services.Wrap(services.ErrMissingOutput, stage, "execute",
			"process exited cleanly without writing its output", nil)
	default:
		detail := fmt.Sprintf("exit code %d", o.ExitCode)
		if tail := tailOf(o.Stderr); tail != "" {
			detail += ": " + tail
		}
		return services.Wrap(services.ErrNonZeroExit, stage, "execute", detail, nil)
	}
}

// Invocation describes one stage run.
type Invocation struct {
	Stage     string
	InputPath string
	// OutputPath is verified non-empty after the process exits, except in
	// workspace mode where the caller locates results itself.
	OutputPath string
	ExtraArgs  []string
}

// Executor launches stage processes according to their bindings.
type Executor struct {
	logger *slog.Logger
}

// New constructs an executor.
func New(logger *slog.Logger) *Executor {
	return &Executor{logger: logging.NewComponentLogger(logger, "stageexec")}
}

// Run invokes the bound program for a stage and waits for it to finish or
// exceed its timeout. Standard streams are captured for diagnostics.
func (e *Executor) Run(ctx context.Context, binding config.StageBinding, inv Invocation) Outcome {
	timeout := binding.TimeoutDuration()
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx = services.WithStage(ctx, inv.Stage)
	logger := logging.WithContext(ctx, e.logger)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, args := buildCommand(binding, inv)
	cmd := commandContext(runCtx, name, args...) //nolint:gosec
	cmd.Env = augmentedEnv(binding)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	logger.InfoContext(ctx, "stage process starting",
		logging.String("command", name),
		logging.Duration("timeout", timeout))

	runErr := cmd.Run()
	outcome := Outcome{
		Duration: time.Since(start),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		outcome.Reason = ReasonTimeout
		outcome.ExitCode = -1
	case runErr != nil:
		outcome.Reason = ReasonNonZeroExit
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			outcome.ExitCode = exitErr.ExitCode()
		} else {
			outcome.Reason = ReasonStartFailure
			outcome.ExitCode = -1
			outcome.Stderr = runErr.Error()
		}
	case inv.OutputPath != "" && !fileutil.NonEmptyFile(inv.OutputPath):
		outcome.Reason = ReasonMissingOutput
	default:
		outcome.Success = true
	}

	level := slog.LevelInfo
	if !outcome.Success {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "stage process finished",
		logging.Bool("success", outcome.Success),
		logging.String("reason", string(outcome.Reason)),
		logging.Int("exit_code", outcome.ExitCode),
		logging.Duration("duration", outcome.Duration))
	return outcome
}

func buildCommand(binding config.StageBinding, inv Invocation) (string, []string) {
	args := make([]string, 0, len(binding.Args)+len(inv.ExtraArgs)+5)
	if binding.Script != "" {
		args = append(args, binding.Script)
	}
	args = append(args, binding.Args...)
	if !binding.WorkspaceMode {
		if inv.InputPath != "" {
			args = append(args, "--input", inv.InputPath)
		}
		if inv.OutputPath != "" {
			args = append(args, "--output", inv.OutputPath)
		}
	}
	args = append(args, inv.ExtraArgs...)
	return binding.Command, args
}

// augmentedEnv extends the parent environment with the binding's runtime
// directory: bin/ joins PATH and python/ joins PYTHONPATH, matching how the
// pose toolchain expects to be launched.
func augmentedEnv(binding config.StageBinding) []string {
	env := os.Environ()
	if binding.RuntimeDir == "" {
		return env
	}

	binDir := filepath.Join(binding.RuntimeDir, "bin")
	pythonDir := filepath.Join(binding.RuntimeDir, "python")

	out := make([]string, 0, len(env)+2)
	seenPath := false
	seenPython := false
	for _, entry := range env {
		switch {
		case strings.HasPrefix(entry, "PATH="):
			out = append(out, "PATH="+binDir+string(os.PathListSeparator)+strings.TrimPrefix(entry, "PATH="))
			seenPath = true
		case strings.HasPrefix(entry, "PYTHONPATH="):
			out = append(out, "PYTHONPATH="+pythonDir+string(os.PathListSeparator)+strings.TrimPrefix(entry, "PYTHONPATH="))
			seenPython = true
		default:
			out = append(out, entry)
		}
	}
	if !seenPath {
		out = append(out, "PATH="+binDir)
	}
	if !seenPython {
		out = append(out, "PYTHONPATH="+pythonDir)
	}
	return out
}

func tailOf(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	lines := strings.Split(trimmed, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

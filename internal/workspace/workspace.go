// Package workspace manages the per-run scratch directories the pipeline
// stages read from and write into, including the dataset layout the
// synthesis stage expects.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stitch/internal/config"
	"stitch/internal/fileutil"
	"stitch/internal/logging"
	"stitch/internal/services"
)

// Role names one artifact slot in the synthesis dataset.
type Role string

const (
	RoleCloth     Role = "cloth"
	RolePerson    Role = "image"
	RoleParse     Role = "image-parse"
	RolePoseImage Role = "openpose-img"
	RolePoseJSON  Role = "openpose-json"
	RoleClothMask Role = "cloth-mask"
)

// Roles lists every dataset slot the synthesis stage requires.
var Roles = []Role{
	RoleCloth,
	RolePerson,
	RoleParse,
	RolePoseImage,
	RolePoseJSON,
	RoleClothMask,
}

const resultsDir = "results"

// Workspace is one job run's isolated scratch directory.
type Workspace struct {
	JobID int64
	RunID string
	Root  string
}

// Dir returns the subdirectory for a dataset role.
func (w *Workspace) Dir(role Role) string {
	return filepath.Join(w.Root, string(role))
}

// ResultsDir returns where the synthesis stage drops its output.
func (w *Workspace) ResultsDir() string {
	return filepath.Join(w.Root, resultsDir)
}

// DatasetName returns the synthesis invocation name for the job.
func (w *Workspace) DatasetName() string {
	return fmt.Sprintf("job_%d", w.JobID)
}

// CanonicalFilename returns the fixed name an artifact takes inside the
// dataset: person-derived roles use person_<id>.<ext>, cloth-derived roles
// use cloth_<id>.<ext>.
func (w *Workspace) CanonicalFilename(role Role) string {
	switch role {
	case RoleCloth, RoleClothMask:
		return fmt.Sprintf("cloth_%d.jpg", w.JobID)
	case RolePoseJSON:
		return fmt.Sprintf("person_%d_keypoints.json", w.JobID)
	default:
		return fmt.Sprintf("person_%d.jpg", w.JobID)
	}
}

// Manager creates, stages, and reclaims workspaces under the configured
// work directory.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager builds a manager rooted at the configured work directory.
func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	return &Manager{
		root:   cfg.Paths.WorkDir,
		logger: logging.NewComponentLogger(logger, "workspace"),
	}
}

// Create makes an isolated directory tree for one job run. Run identifiers
// keep retried jobs from trampling each other's scratch space.
func (m *Manager) Create(jobID int64, runID string) (*Workspace, error) {
	root := filepath.Join(m.root, fmt.Sprintf("job-%d-%s", jobID, runID))
	ws := &Workspace{JobID: jobID, RunID: runID, Root: root}

	dirs := make([]string, 0, len(Roles)+1)
	for _, role := range Roles {
		dirs = append(dirs, ws.Dir(role))
	}
	dirs = append(dirs, ws.ResultsDir())
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace dir %q: %w", dir, err)
		}
	}
	return ws, nil
}

// Stage copies an artifact into its dataset slot under the canonical name.
func (m *Manager) Stage(ws *Workspace, role Role, sourcePath string) (string, error) {
	if !fileutil.NonEmptyFile(sourcePath) {
		return "", services.Wrap(services.ErrMissingInput, "", "stage dataset",
			fmt.Sprintf("role %s has no artifact at %s", role, sourcePath), nil)
	}
	dest := filepath.Join(ws.Dir(role), ws.CanonicalFilename(role))
	if err := fileutil.CopyFile(sourcePath, dest); err != nil {
		return "", fmt.Errorf("stage %s artifact: %w", role, err)
	}
	return dest, nil
}

// WriteManifest emits the single-pair dataset manifest the synthesis stage
// reads to match the person image with the cloth image.
func (m *Manager) WriteManifest(ws *Workspace) (string, error) {
	for _, role := range Roles {
		slot := filepath.Join(ws.Dir(role), ws.CanonicalFilename(role))
		if !fileutil.NonEmptyFile(slot) {
			return "", services.Wrap(services.ErrMissingInput, "", "write manifest",
				fmt.Sprintf("role %s is not staged", role), nil)
		}
	}

	manifest := filepath.Join(ws.Root, "test_pairs.txt")
	line := fmt.Sprintf("person_%d.jpg cloth_%d.jpg\n", ws.JobID, ws.JobID)
	if err := os.WriteFile(manifest, []byte(line), 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return manifest, nil
}

// Remove deletes a workspace tree. Removal is idempotent.
func (m *Manager) Remove(ws *Workspace) error {
	if ws == nil || ws.Root == "" {
		return nil
	}
	if err := os.RemoveAll(ws.Root); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}

// ReclaimStale deletes job workspaces whose last modification is older than
// the cutoff. Errors on individual trees are logged and skipped so one
// stubborn directory cannot block the sweep.
func (m *Manager) ReclaimStale(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read work dir: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "job-") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		target := filepath.Join(m.root, entry.Name())
		if err := os.RemoveAll(target); err != nil {
			m.logger.Warn("failed to reclaim workspace",
				logging.String("path", target),
				logging.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

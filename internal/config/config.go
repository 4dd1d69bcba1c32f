package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	WorkDir string `toml:"work_dir"`
	LogDir  string `toml:"log_dir"`
}

// Store contains job database configuration.
type Store struct {
	Path string `toml:"path"`
}

// ObjectStore contains configuration for the blob store holding input images
// and result artifacts.
type ObjectStore struct {
	Bucket         string `toml:"bucket"`
	Host           string `toml:"host"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Fetch contains configuration for input artifact downloads.
type Fetch struct {
	MaxAttempts int `toml:"max_attempts"`
	RetryDelay  int `toml:"retry_delay"`
}

// Workflow contains configuration for scheduler timing and batching.
type Workflow struct {
	PollInterval       int `toml:"poll_interval"`
	ClaimBatchSize     int `toml:"claim_batch_size"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	StaleAfter         int `toml:"stale_after"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// StageBinding describes how to invoke one stage's external processing
// program. Bindings are loaded once at startup and never mutated.
type StageBinding struct {
	Command       string   `toml:"command"`
	Script        string   `toml:"script"`
	Args          []string `toml:"args"`
	Timeout       int      `toml:"timeout"`
	RuntimeDir    string   `toml:"runtime_dir"`
	WorkspaceMode bool     `toml:"workspace_mode"`
}

// TimeoutDuration returns the binding timeout as a duration.
func (b StageBinding) TimeoutDuration() time.Duration {
	return time.Duration(b.Timeout) * time.Second
}

// Config encapsulates all configuration values for stitch.
type Config struct {
	Paths       Paths                   `toml:"paths"`
	Store       Store                   `toml:"store"`
	ObjectStore ObjectStore             `toml:"object_store"`
	Fetch       Fetch                   `toml:"fetch"`
	Workflow    Workflow                `toml:"workflow"`
	Logging     Logging                 `toml:"logging"`
	Stages      map[string]StageBinding `toml:"stages"`
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/stitch/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("stitch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Store.Path, err = expandPath(c.Store.Path); err != nil {
		return err
	}
	for name, binding := range c.Stages {
		if binding.Script, err = expandPath(binding.Script); err != nil {
			return err
		}
		if binding.RuntimeDir, err = expandPath(binding.RuntimeDir); err != nil {
			return err
		}
		c.Stages[name] = binding
	}
	c.ObjectStore.Bucket = strings.TrimSpace(c.ObjectStore.Bucket)
	c.ObjectStore.Host = strings.TrimSpace(c.ObjectStore.Host)
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the job database location.
func (c *Config) DatabasePath() string {
	if strings.TrimSpace(c.Store.Path) != "" {
		return c.Store.Path
	}
	return filepath.Join(c.Paths.LogDir, "jobs.db")
}

// Binding returns the executor binding for a stage name.
func (c *Config) Binding(stage string) (StageBinding, bool) {
	binding, ok := c.Stages[stage]
	return binding, ok
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

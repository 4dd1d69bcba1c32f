package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"stitch/internal/config"
	"stitch/internal/fetch"
	"stitch/internal/jobstore"
	"stitch/internal/logging"
	"stitch/internal/objectstore"
	"stitch/internal/pipeline"
	"stitch/internal/scheduler"
	"stitch/internal/stageexec"
	"stitch/internal/workspace"
)

// commandContext lazily loads configuration and shares it across commands.
type commandContext struct {
	configFlag *string

	cfg        *config.Config
	configPath string
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	path := ""
	if c.configFlag != nil {
		path = *c.configFlag
	}
	cfg, resolvedPath, _, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	c.configPath = resolvedPath
	return cfg, nil
}

func (c *commandContext) newLogger(toFile bool) (*slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	outputs := []string{"stdout"}
	if toFile {
		outputs = append(outputs, filepath.Join(cfg.Paths.LogDir, "stitch.log"))
	}
	return logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
	})
}

func (c *commandContext) withStore(fn func(*config.Config, *jobstore.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := jobstore.Open(cfg)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()
	return fn(cfg, store)
}

func (c *commandContext) newScheduler(cfg *config.Config, store *jobstore.Store, logger *slog.Logger) *scheduler.Scheduler {
	objects := objectstore.NewClient(cfg)
	orchestrator := pipeline.New(
		cfg,
		store,
		objects,
		fetch.New(cfg, objects, logger),
		workspace.NewManager(cfg, logger),
		stageexec.New(logger),
		logger,
	)
	return scheduler.New(cfg, store, orchestrator, logger)
}

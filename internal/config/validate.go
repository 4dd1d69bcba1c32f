package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate reports configuration problems that would prevent the pipeline
// from operating.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		problems = append(problems, "paths.work_dir is required")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir is required")
	}
	if c.ObjectStore.Bucket == "" {
		problems = append(problems, "object_store.bucket is required")
	}
	if c.ObjectStore.Host == "" {
		problems = append(problems, "object_store.host is required")
	}
	if c.ObjectStore.RequestTimeout <= 0 {
		problems = append(problems, "object_store.request_timeout must be positive")
	}
	if c.Fetch.MaxAttempts <= 0 {
		problems = append(problems, "fetch.max_attempts must be positive")
	}
	if c.Fetch.RetryDelay < 0 {
		problems = append(problems, "fetch.retry_delay must not be negative")
	}
	if c.Workflow.PollInterval <= 0 {
		problems = append(problems, "workflow.poll_interval must be positive")
	}
	if c.Workflow.ClaimBatchSize <= 0 {
		problems = append(problems, "workflow.claim_batch_size must be positive")
	}

	for _, name := range StageNames {
		binding, ok := c.Stages[name]
		if !ok {
			problems = append(problems, fmt.Sprintf("stages.%s is not configured", name))
			continue
		}
		if strings.TrimSpace(binding.Command) == "" {
			problems = append(problems, fmt.Sprintf("stages.%s.command is required", name))
		}
		if binding.Timeout <= 0 {
			problems = append(problems, fmt.Sprintf("stages.%s.timeout must be positive", name))
		}
	}
	for name := range c.Stages {
		if !knownStage(name) {
			problems = append(problems, fmt.Sprintf("stages.%s is not a known stage", name))
		}
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

func knownStage(name string) bool {
	for _, known := range StageNames {
		if name == known {
			return true
		}
	}
	return false
}

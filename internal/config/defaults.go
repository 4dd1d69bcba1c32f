package config

const (
	defaultWorkDir            = "~/.local/share/stitch/work"
	defaultLogDir             = "~/.local/share/stitch/logs"
	defaultBucket             = "virtual-dressing-room"
	defaultObjectHost         = "s3.ap-south-1.amazonaws.com"
	defaultRequestTimeout     = 60
	defaultFetchMaxAttempts   = 3
	defaultFetchRetryDelay    = 5
	defaultPollInterval       = 60
	defaultClaimBatchSize     = 5
	defaultErrorRetryInterval = 10
	defaultStaleAfter         = 3600
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultStageCommand       = "python3"
)

// StageNames is the fixed ordered set of pipeline stages.
var StageNames = []string{
	"remove_background",
	"cloth_mask",
	"segmentation",
	"pose_generation",
	"final_processing",
}

var defaultStageTimeouts = map[string]int{
	"remove_background": 300,
	"cloth_mask":        300,
	"segmentation":      600,
	"pose_generation":   900,
	"final_processing":  1800,
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	stages := make(map[string]StageBinding, len(StageNames))
	for _, name := range StageNames {
		stages[name] = StageBinding{
			Command: defaultStageCommand,
			Timeout: defaultStageTimeouts[name],
		}
	}
	final := stages["final_processing"]
	final.WorkspaceMode = true
	stages["final_processing"] = final

	return Config{
		Paths: Paths{
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
		},
		ObjectStore: ObjectStore{
			Bucket:         defaultBucket,
			Host:           defaultObjectHost,
			RequestTimeout: defaultRequestTimeout,
		},
		Fetch: Fetch{
			MaxAttempts: defaultFetchMaxAttempts,
			RetryDelay:  defaultFetchRetryDelay,
		},
		Workflow: Workflow{
			PollInterval:       defaultPollInterval,
			ClaimBatchSize:     defaultClaimBatchSize,
			ErrorRetryInterval: defaultErrorRetryInterval,
			StaleAfter:         defaultStaleAfter,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Stages: stages,
	}
}

package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"stitch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Store.Path = filepath.Join(base, "jobs.db")
	cfgVal.Fetch.RetryDelay = 0
	cfgVal.Workflow.PollInterval = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithObjectStore points the object store section at a test endpoint.
func WithObjectStore(bucket, host string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.ObjectStore.Bucket = bucket
		b.cfg.ObjectStore.Host = host
	}
}

// WithStage overrides a single stage binding on the test config.
func WithStage(name string, binding config.StageBinding) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Stages[name] = binding
	}
}

// WithStubbedStages replaces every stage binding with a shell stub that
// copies its input to its output, so pipeline runs complete without the
// real processing programs installed.
func WithStubbedStages() ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, "stage-stub")
		script := "#!/bin/sh\n" +
			"out=\"\"\n" +
			"in=\"\"\n" +
			"while [ $# -gt 0 ]; do\n" +
			"  case \"$1\" in\n" +
			"    --input) in=\"$2\"; shift 2 ;;\n" +
			"    --output) out=\"$2\"; shift 2 ;;\n" +
			"    *) shift ;;\n" +
			"  esac\n" +
			"done\n" +
			"if [ -n \"$out\" ]; then cp \"$in\" \"$out\"; fi\n" +
			"exit 0\n"
		if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
			b.t.Fatalf("write stage stub: %v", err)
		}
		for name, binding := range b.cfg.Stages {
			binding.Command = target
			binding.Script = ""
			binding.RuntimeDir = ""
			b.cfg.Stages[name] = binding
		}
	}
}

// StubScript writes an executable shell script into the test's temp space and
// returns its path.
func StubScript(t testing.TB, name, body string) string {
	t.Helper()

	dir := t.TempDir()
	target := filepath.Join(dir, name)
	if err := os.WriteFile(target, []byte(fmt.Sprintf("#!/bin/sh\n%s\n", body)), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return target
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.WorkDir)
}

package testsupport

import (
	"path/filepath"
	"testing"

	"derbyflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a normalized config backed by local stores under a
// unique temp directory. Options run before normalization.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.DocumentStore.Backend = config.DocumentStoreSQLite
	cfgVal.DocumentStore.SQLitePath = filepath.Join(base, "documents.db")
	cfgVal.Queue.Backend = config.QueueSQLite
	cfgVal.Queue.SQLitePath = filepath.Join(base, "queue.db")
	cfgVal.Queue.WaitSeconds = 1
	cfgVal.ObjectStore.Backend = config.ObjectStoreFilesystem
	cfgVal.ObjectStore.Root = filepath.Join(base, "objects")
	cfgVal.Worker.ScratchDir = filepath.Join(base, "scratch")
	cfgVal.Logging.Dir = filepath.Join(base, "logs")
	cfgVal.Split.OutputBucket = "derby"
	cfgVal.Worker.HealthBind = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Normalize(); err != nil {
		t.Fatalf("normalize test config: %v", err)
	}
	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("validate test config: %v", err)
	}
	return builder.cfg
}

// WithPipeline replaces the stage list and stage to queue mapping.
func WithPipeline(stages []string, queues map[string]string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.Stages = stages
		b.cfg.Pipeline.Queues = queues
	}
}

// WithAnalysis sets the analysis section for stage.
func WithAnalysis(stage string, analysis config.Analysis) ConfigOption {
	return func(b *configBuilder) {
		if b.cfg.Analysis == nil {
			b.cfg.Analysis = make(map[string]config.Analysis)
		}
		b.cfg.Analysis[stage] = analysis
	}
}

// WithSelfRoute enables worker-side routing.
func WithSelfRoute() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.SelfRoute = true
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Worker.ScratchDir)
}

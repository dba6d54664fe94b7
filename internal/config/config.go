package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"derbyflow/internal/services"
)

//go:embed sample_config.toml
var sampleConfig string

// Pipeline describes the ordered stage list and where each stage receives work.
type Pipeline struct {
	Stages []string `toml:"stages"`
	// Queues maps a stage name to the queue its workers consume.
	Queues     map[string]string `toml:"queues"`
	RootPrefix string            `toml:"root_prefix"`
}

// AWS holds shared SDK settings. Endpoint and static credentials are only
// needed for local emulators.
type AWS struct {
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	SessionToken    string `toml:"session_token"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// DocumentStore selects and configures the asset document backend.
type DocumentStore struct {
	Backend         string `toml:"backend"`
	Region          string `toml:"region"`
	Table           string `toml:"table"`
	SQLitePath      string `toml:"sqlite_path"`
	MongoURI        string `toml:"mongo_uri"`
	MongoDatabase   string `toml:"mongo_database"`
	MongoCollection string `toml:"mongo_collection"`
}

// Queue selects and configures the work queue backend.
type Queue struct {
	Backend       string `toml:"backend"`
	WaitSeconds   int    `toml:"wait_seconds"`
	SQLitePath    string `toml:"sqlite_path"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// ObjectStore selects where media payloads and result artifacts live.
// The filesystem backend maps bucket/key to Root/bucket/key.
type ObjectStore struct {
	Backend string `toml:"backend"`
	Root    string `toml:"root"`
}

// Detector configures one detector instance for an analysis stage. Zero
// values fall back to the detector's built-in defaults.
type Detector struct {
	ID             string  `toml:"id"`
	Endpoint       string  `toml:"endpoint"`
	MinScore       float64 `toml:"min_score"`
	BatchMaxSize   int     `toml:"batch_max_size"`
	InputWidth     int     `toml:"input_width"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// Analysis configures frame sampling and detectors for one analysis stage.
type Analysis struct {
	FrameRatio float64    `toml:"frame_ratio"`
	Detectors  []Detector `toml:"detectors"`
}

// Split configures the ingestion stage that cuts uploads into segments.
type Split struct {
	// Stage is the name recorded on each segment document.
	Stage        string `toml:"stage"`
	UploadStage  string `toml:"upload_stage"`
	OutputBucket string `toml:"output_bucket"`
	// OutputKeyPrefix may contain {video_name}.
	OutputKeyPrefix string `toml:"output_key_prefix"`
	SegmentSeconds  int    `toml:"segment_seconds"`
}

// Worker contains consumer loop settings.
type Worker struct {
	ScratchDir         string `toml:"scratch_dir"`
	ErrorRetryInterval int    `toml:"error_retry_interval"`
	HealthBind         string `toml:"health_bind"`
	// SelfRoute makes workers dispatch the next stage themselves instead of
	// relying on a document change stream.
	SelfRoute bool `toml:"self_route"`
}

// Events configures MQTT stage notifications. An empty broker disables them.
type Events struct {
	Broker      string `toml:"broker"`
	TopicPrefix string `toml:"topic_prefix"`
	ClientID    string `toml:"client_id"`
	QoS         int    `toml:"qos"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	Dir           string `toml:"dir"`
	MaxSizeMB     int    `toml:"max_size_mb"`
	MaxBackups    int    `toml:"max_backups"`
	RetentionDays int    `toml:"retention_days"`
	Compress      bool   `toml:"compress"`
}

// Media names the external tools used for probing, decoding, and cutting.
type Media struct {
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
}

// Config encapsulates all configuration values for derbyflow.
//
// Configuration sections by subsystem:
//   - Pipeline: ordered stages, stage to queue mapping, eligible key prefix
//   - AWS: shared SDK region, endpoint, and credentials
//   - DocumentStore: asset document backend (dynamodb, sqlite, mongo)
//   - Queue: work queue backend (sqs, sqlite, redis)
//   - ObjectStore: payload storage (s3, filesystem)
//   - Analysis: per-stage frame ratio and detectors
//   - Split: segment duration and output location for ingestion
//   - Worker: scratch space, retry pacing, health endpoint
//   - Events: MQTT stage notifications
//   - Logging: log format, level, and rotation
//   - Media: ffmpeg and ffprobe binaries
type Config struct {
	Pipeline      Pipeline            `toml:"pipeline"`
	AWS           AWS                 `toml:"aws"`
	DocumentStore DocumentStore       `toml:"document_store"`
	Queue         Queue               `toml:"queue"`
	ObjectStore   ObjectStore         `toml:"object_store"`
	Analysis      map[string]Analysis `toml:"analysis"`
	Split         Split               `toml:"split"`
	Worker        Worker              `toml:"worker"`
	Events        Events              `toml:"events"`
	Logging       Logging             `toml:"logging"`
	Media         Media               `toml:"media"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. Validation failures carry services.ErrConfiguration.
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
			return nil, "", false, services.Wrap(services.ErrConfiguration, "config", "parse", "Invalid TOML in "+resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, services.Wrap(services.ErrConfiguration, "config", "normalize", "Config normalization failed", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, services.Wrap(services.ErrConfiguration, "config", "validate", "Config validation failed", err)
	}

	return &cfg, resolvedPath, exists, nil
}

// LoadEnv reads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat env file: %w", err)
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("derbyflow.toml")
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

// EnsureDirectories creates the local directories the worker writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Worker.ScratchDir}
	if c.Logging.Dir != "" {
		dirs = append(dirs, c.Logging.Dir)
	}
	if c.ObjectStore.Backend == ObjectStoreFilesystem {
		dirs = append(dirs, c.ObjectStore.Root)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// AnalysisFor returns the analysis settings for stage.
func (c *Config) AnalysisFor(stage string) (Analysis, bool) {
	analysis, ok := c.Analysis[stage]
	return analysis, ok
}

// StageQueue returns the case-normalized queue name for stage.
func (c *Config) StageQueue(stage string) (string, bool) {
	name, ok := c.Pipeline.Queues[stage]
	if !ok {
		return "", false
	}
	return NormalizeQueueName(name), true
}

// QueueNames returns every configured queue name, normalized and deduplicated,
// in pipeline order.
func (c *Config) QueueNames() []string {
	seen := make(map[string]struct{}, len(c.Pipeline.Queues))
	names := make([]string, 0, len(c.Pipeline.Queues))
	for _, stage := range c.Pipeline.Stages {
		name, ok := c.StageQueue(stage)
		if !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// NormalizeQueueName lower-cases and trims a queue name.
func NormalizeQueueName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
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

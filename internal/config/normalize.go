package config

import (
	"fmt"
	"os"
	"strings"
)

// Normalize fills defaults, expands paths, and applies environment
// overrides. Load calls it; tests building a Config by hand call it too.
func (c *Config) Normalize() error {
	return c.normalize()
}

func (c *Config) normalize() error {
	c.normalizePipeline()
	c.normalizeAWS()
	if err := c.normalizeStores(); err != nil {
		return err
	}
	c.normalizeAnalysis()
	c.normalizeSplit()
	if err := c.normalizeWorker(); err != nil {
		return err
	}
	if err := c.normalizeLogging(); err != nil {
		return err
	}
	c.normalizeMedia()
	return nil
}

func (c *Config) normalizePipeline() {
	if len(c.Pipeline.Stages) == 0 {
		c.Pipeline.Stages = defaultStages()
	}
	for i, stage := range c.Pipeline.Stages {
		c.Pipeline.Stages[i] = strings.TrimSpace(stage)
	}
	if len(c.Pipeline.Queues) == 0 {
		c.Pipeline.Queues = defaultQueues()
	}
	queues := make(map[string]string, len(c.Pipeline.Queues))
	for stage, queue := range c.Pipeline.Queues {
		queues[strings.TrimSpace(stage)] = strings.ToLower(strings.TrimSpace(queue))
	}
	c.Pipeline.Queues = queues
	c.Pipeline.RootPrefix = strings.TrimSpace(c.Pipeline.RootPrefix)
	if c.Pipeline.RootPrefix == "" {
		c.Pipeline.RootPrefix = defaultRootPrefix
	}
}

func (c *Config) normalizeAWS() {
	if value, ok := os.LookupEnv("DERBYFLOW_AWS_REGION"); ok && strings.TrimSpace(value) != "" {
		c.AWS.Region = value
	}
	if c.AWS.Endpoint == "" {
		if value, ok := os.LookupEnv("AWS_ENDPOINT_URL"); ok {
			c.AWS.Endpoint = value
		}
	}
	if c.AWS.AccessKeyID == "" {
		c.AWS.AccessKeyID = os.Getenv("DERBYFLOW_AWS_ACCESS_KEY_ID")
	}
	if c.AWS.SecretAccessKey == "" {
		c.AWS.SecretAccessKey = os.Getenv("DERBYFLOW_AWS_SECRET_ACCESS_KEY")
	}
	c.AWS.Region = strings.TrimSpace(c.AWS.Region)
	c.AWS.Endpoint = strings.TrimSpace(c.AWS.Endpoint)
}

func (c *Config) normalizeStores() error {
	if value, ok := os.LookupEnv("DERBYFLOW_DOCUMENT_TABLE"); ok && strings.TrimSpace(value) != "" {
		c.DocumentStore.Table = value
	}
	if value, ok := os.LookupEnv("DERBYFLOW_DOCUMENT_BACKEND"); ok && strings.TrimSpace(value) != "" {
		c.DocumentStore.Backend = value
	}
	if value, ok := os.LookupEnv("DERBYFLOW_QUEUE_BACKEND"); ok && strings.TrimSpace(value) != "" {
		c.Queue.Backend = value
	}
	if value, ok := os.LookupEnv("DERBYFLOW_MONGO_URI"); ok && c.DocumentStore.MongoURI == "" {
		c.DocumentStore.MongoURI = value
	}

	c.DocumentStore.Backend = strings.ToLower(strings.TrimSpace(c.DocumentStore.Backend))
	c.DocumentStore.Table = strings.TrimSpace(c.DocumentStore.Table)
	c.DocumentStore.Region = strings.TrimSpace(c.DocumentStore.Region)
	if c.DocumentStore.Region == "" {
		c.DocumentStore.Region = c.AWS.Region
	}
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	if c.Queue.WaitSeconds <= 0 {
		c.Queue.WaitSeconds = defaultQueueWaitSeconds
	}
	c.ObjectStore.Backend = strings.ToLower(strings.TrimSpace(c.ObjectStore.Backend))

	var err error
	if c.DocumentStore.SQLitePath, err = expandPath(c.DocumentStore.SQLitePath); err != nil {
		return fmt.Errorf("document_store.sqlite_path: %w", err)
	}
	if c.Queue.SQLitePath, err = expandPath(c.Queue.SQLitePath); err != nil {
		return fmt.Errorf("queue.sqlite_path: %w", err)
	}
	if c.ObjectStore.Root, err = expandPath(c.ObjectStore.Root); err != nil {
		return fmt.Errorf("object_store.root: %w", err)
	}
	return nil
}

func (c *Config) normalizeAnalysis() {
	if len(c.Analysis) == 0 {
		c.Analysis = defaultAnalysis()
	}
	for stage, analysis := range c.Analysis {
		if analysis.FrameRatio == 0 {
			analysis.FrameRatio = defaultFrameRatio
		}
		for i := range analysis.Detectors {
			analysis.Detectors[i].ID = strings.ToLower(strings.TrimSpace(analysis.Detectors[i].ID))
			analysis.Detectors[i].Endpoint = strings.TrimSpace(analysis.Detectors[i].Endpoint)
		}
		c.Analysis[stage] = analysis
	}
}

func (c *Config) normalizeSplit() {
	c.Split.Stage = strings.TrimSpace(c.Split.Stage)
	if c.Split.Stage == "" {
		c.Split.Stage = defaultSplitStage
	}
	c.Split.UploadStage = strings.TrimSpace(c.Split.UploadStage)
	if c.Split.UploadStage == "" {
		c.Split.UploadStage = defaultUploadStage
	}
	c.Split.OutputBucket = strings.TrimSpace(c.Split.OutputBucket)
	c.Split.OutputKeyPrefix = strings.Trim(strings.TrimSpace(c.Split.OutputKeyPrefix), "/")
	if c.Split.OutputKeyPrefix == "" {
		c.Split.OutputKeyPrefix = defaultSplitKeyPrefix
	}
	if c.Split.SegmentSeconds <= 0 {
		c.Split.SegmentSeconds = defaultSplitSegmentSecs
	}
}

func (c *Config) normalizeWorker() error {
	var err error
	if c.Worker.ScratchDir, err = expandPath(c.Worker.ScratchDir); err != nil {
		return fmt.Errorf("worker.scratch_dir: %w", err)
	}
	if c.Worker.ErrorRetryInterval <= 0 {
		c.Worker.ErrorRetryInterval = defaultErrorRetryInterval
	}
	c.Worker.HealthBind = strings.TrimSpace(c.Worker.HealthBind)
	c.Events.Broker = strings.TrimSpace(c.Events.Broker)
	c.Events.TopicPrefix = strings.Trim(strings.TrimSpace(c.Events.TopicPrefix), "/")
	if c.Events.TopicPrefix == "" {
		c.Events.TopicPrefix = defaultEventsTopicPrefix
	}
	if c.Events.ClientID == "" {
		c.Events.ClientID = defaultEventsClientID
	}
	return nil
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays <= 0 {
		c.Logging.RetentionDays = defaultLogRetentionDays
	}
	var err error
	if c.Logging.Dir, err = expandPath(c.Logging.Dir); err != nil {
		return fmt.Errorf("logging.dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeMedia() {
	c.Media.FFmpeg = strings.TrimSpace(c.Media.FFmpeg)
	if c.Media.FFmpeg == "" {
		c.Media.FFmpeg = defaultFFmpegBinary
	}
	c.Media.FFprobe = strings.TrimSpace(c.Media.FFprobe)
	if c.Media.FFprobe == "" {
		c.Media.FFprobe = defaultFFprobeBinary
	}
}

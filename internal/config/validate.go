package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateStores(); err != nil {
		return err
	}
	if err := c.validateAnalysis(); err != nil {
		return err
	}
	if err := c.validateSplit(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if len(c.Pipeline.Stages) == 0 {
		return errors.New("pipeline.stages must list at least one stage")
	}
	seen := make(map[string]struct{}, len(c.Pipeline.Stages))
	for _, stage := range c.Pipeline.Stages {
		if stage == "" {
			return errors.New("pipeline.stages must not contain empty names")
		}
		if _, dup := seen[stage]; dup {
			return fmt.Errorf("pipeline.stages lists %q more than once", stage)
		}
		seen[stage] = struct{}{}
	}
	for stage, queue := range c.Pipeline.Queues {
		if _, ok := seen[stage]; !ok {
			return fmt.Errorf("pipeline.queues references unknown stage %q", stage)
		}
		if queue == "" {
			return fmt.Errorf("pipeline.queues.%s must not be empty", stage)
		}
	}
	// Every stage after the first is reached through its queue.
	for _, stage := range c.Pipeline.Stages[1:] {
		if _, ok := c.Pipeline.Queues[stage]; !ok && stage != c.Split.Stage {
			return fmt.Errorf("pipeline.queues has no queue for stage %q", stage)
		}
	}
	return nil
}

func (c *Config) validateStores() error {
	switch c.DocumentStore.Backend {
	case DocumentStoreDynamo:
		if c.DocumentStore.Table == "" {
			return errors.New("document_store.table must be set for the dynamodb backend")
		}
	case DocumentStoreSQLite:
		if c.DocumentStore.SQLitePath == "" {
			return errors.New("document_store.sqlite_path must be set for the sqlite backend")
		}
	case DocumentStoreMongo:
		if c.DocumentStore.MongoURI == "" {
			return errors.New("document_store.mongo_uri must be set for the mongo backend")
		}
	default:
		return fmt.Errorf("document_store.backend: unsupported value %q", c.DocumentStore.Backend)
	}

	switch c.Queue.Backend {
	case QueueSQS:
	case QueueSQLite:
		if c.Queue.SQLitePath == "" {
			return errors.New("queue.sqlite_path must be set for the sqlite backend")
		}
	case QueueRedis:
		if c.Queue.RedisAddr == "" {
			return errors.New("queue.redis_addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("queue.backend: unsupported value %q", c.Queue.Backend)
	}
	if c.Queue.WaitSeconds > 20 && c.Queue.Backend == QueueSQS {
		return errors.New("queue.wait_seconds must be at most 20 for the sqs backend")
	}

	switch c.ObjectStore.Backend {
	case ObjectStoreS3:
	case ObjectStoreFilesystem:
		if c.ObjectStore.Root == "" {
			return errors.New("object_store.root must be set for the filesystem backend")
		}
	default:
		return fmt.Errorf("object_store.backend: unsupported value %q", c.ObjectStore.Backend)
	}
	return nil
}

func (c *Config) validateAnalysis() error {
	for stage, analysis := range c.Analysis {
		if analysis.FrameRatio <= 0 || analysis.FrameRatio > 1 {
			return fmt.Errorf("analysis.%s.frame_ratio must be in (0, 1]", stage)
		}
		if len(analysis.Detectors) == 0 {
			return fmt.Errorf("analysis.%s.detectors must list at least one detector", stage)
		}
		for i, detector := range analysis.Detectors {
			if detector.ID == "" {
				return fmt.Errorf("analysis.%s.detectors[%d].id must be set", stage, i)
			}
			if detector.MinScore < 0 || detector.MinScore > 1 {
				return fmt.Errorf("analysis.%s.detectors[%d].min_score must be between 0 and 1", stage, i)
			}
			if detector.BatchMaxSize < 0 {
				return fmt.Errorf("analysis.%s.detectors[%d].batch_max_size must be positive", stage, i)
			}
		}
	}
	return nil
}

func (c *Config) validateSplit() error {
	if c.Split.Stage == c.Split.UploadStage {
		return errors.New("split.stage and split.upload_stage must differ")
	}
	if strings.Count(c.Split.OutputKeyPrefix, "{") != strings.Count(c.Split.OutputKeyPrefix, "}") {
		return errors.New("split.output_key_prefix has unbalanced placeholders")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.QoS < 0 || c.Events.QoS > 2 {
		return errors.New("events.qos must be 0, 1, or 2")
	}
	return nil
}

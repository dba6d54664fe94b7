package config

const (
	defaultConfigPath         = "~/.config/derbyflow/config.toml"
	defaultRootPrefix         = "project"
	defaultAWSRegion          = "eu-west-1"
	defaultDocumentTable      = "derby-videos"
	defaultSQLiteDocPath      = "~/.local/share/derbyflow/documents.db"
	defaultSQLiteQueuePath    = "~/.local/share/derbyflow/queue.db"
	defaultMongoDatabase      = "derbyflow"
	defaultMongoCollection    = "assets"
	defaultRedisAddr          = "127.0.0.1:6379"
	defaultQueueWaitSeconds   = 10
	defaultObjectStoreRoot    = "~/.local/share/derbyflow/objects"
	defaultFrameRatio         = 0.2
	defaultUploadStage        = "upload"
	defaultSplitStage         = "timesplit"
	defaultSplitKeyPrefix     = "project/{video_name}/split"
	defaultSplitSegmentSecs   = 30
	defaultScratchDir         = "~/.local/share/derbyflow/scratch"
	defaultErrorRetryInterval = 10
	defaultEventsTopicPrefix  = "derbyflow/stages"
	defaultEventsClientID     = "derbyflow"
	defaultLogFormat          = "auto"
	defaultLogLevel           = "info"
	defaultLogMaxSizeMB       = 50
	defaultLogMaxBackups      = 5
	defaultLogRetentionDays   = 30
	defaultFFmpegBinary       = "ffmpeg"
	defaultFFprobeBinary      = "ffprobe"
)

// Backend identifiers accepted by the store sections.
const (
	DocumentStoreDynamo   = "dynamodb"
	DocumentStoreSQLite   = "sqlite"
	DocumentStoreMongo    = "mongo"
	QueueSQS              = "sqs"
	QueueSQLite           = "sqlite"
	QueueRedis            = "redis"
	ObjectStoreS3         = "s3"
	ObjectStoreFilesystem = "filesystem"
)

func defaultStages() []string {
	return []string{defaultUploadStage, defaultSplitStage, "human_detection", "face_detection"}
}

func defaultQueues() map[string]string {
	return map[string]string{
		"human_detection": "derby-human-detection",
		"face_detection":  "derby-face-detection",
	}
}

func defaultAnalysis() map[string]Analysis {
	return map[string]Analysis{
		"human_detection": {FrameRatio: defaultFrameRatio, Detectors: []Detector{{ID: "human"}}},
		"face_detection":  {FrameRatio: defaultFrameRatio, Detectors: []Detector{{ID: "face"}}},
	}
}

// Default returns a Config populated with repository defaults. Pipeline
// stages, queues, and analysis sections are filled during normalization so
// a config file replaces them instead of merging into them.
func Default() Config {
	return Config{
		Pipeline: Pipeline{
			RootPrefix: defaultRootPrefix,
		},
		AWS: AWS{
			Region: defaultAWSRegion,
		},
		DocumentStore: DocumentStore{
			Backend:         DocumentStoreDynamo,
			Table:           defaultDocumentTable,
			SQLitePath:      defaultSQLiteDocPath,
			MongoDatabase:   defaultMongoDatabase,
			MongoCollection: defaultMongoCollection,
		},
		Queue: Queue{
			Backend:     QueueSQS,
			WaitSeconds: defaultQueueWaitSeconds,
			SQLitePath:  defaultSQLiteQueuePath,
			RedisAddr:   defaultRedisAddr,
		},
		ObjectStore: ObjectStore{
			Backend: ObjectStoreS3,
			Root:    defaultObjectStoreRoot,
		},
		Split: Split{
			Stage:           defaultSplitStage,
			UploadStage:     defaultUploadStage,
			OutputKeyPrefix: defaultSplitKeyPrefix,
			SegmentSeconds:  defaultSplitSegmentSecs,
		},
		Worker: Worker{
			ScratchDir:         defaultScratchDir,
			ErrorRetryInterval: defaultErrorRetryInterval,
		},
		Events: Events{
			TopicPrefix: defaultEventsTopicPrefix,
			ClientID:    defaultEventsClientID,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			MaxSizeMB:     defaultLogMaxSizeMB,
			MaxBackups:    defaultLogMaxBackups,
			RetentionDays: defaultLogRetentionDays,
		},
		Media: Media{
			FFmpeg:  defaultFFmpegBinary,
			FFprobe: defaultFFprobeBinary,
		},
	}
}

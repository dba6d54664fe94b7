// Package app assembles the document store, queue, object store, and stage
// components described by a Config. Commands and the router function share
// it so every entry point wires the same backends.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"derbyflow/internal/analysis"
	"derbyflow/internal/asset"
	"derbyflow/internal/awsclient"
	"derbyflow/internal/config"
	"derbyflow/internal/detector"
	"derbyflow/internal/docstore"
	"derbyflow/internal/events"
	"derbyflow/internal/logging"
	"derbyflow/internal/media/frames"
	"derbyflow/internal/objectstore"
	"derbyflow/internal/pipeline"
	"derbyflow/internal/queue"
	"derbyflow/internal/queue/redisqueue"
	"derbyflow/internal/queue/sqlitequeue"
	"derbyflow/internal/queue/sqsqueue"
	"derbyflow/internal/services"
	"derbyflow/internal/split"
	"derbyflow/internal/stage"
	"derbyflow/internal/worker"
)

// App holds the opened backends for one process.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Documents docstore.Store
	Queue     queue.Queue
	Objects   objectstore.Store
	Events    events.Publisher
	Router    *pipeline.Router
	// Registry resolves detector ids for analysis stages.
	Registry *detector.Registry
}

// Open connects every backend selected by cfg. Backends opened before a
// failure are closed again.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, Registry: detector.DefaultRegistry()}

	docs, err := docstore.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Documents = docs

	q, err := OpenQueue(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Queue = q

	objects, err := objectstore.New(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Objects = objects

	publisher, err := events.New(cfg.Events, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Events = publisher

	a.Router = pipeline.NewRouter(pipeline.FromConfig(cfg), a.Queue, logger)
	return a, nil
}

// OpenQueue constructs the queue backend selected by cfg.Queue.Backend.
func OpenQueue(ctx context.Context, cfg *config.Config) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case config.QueueSQS:
		awsCfg, err := awsclient.Load(ctx, cfg.AWS, "")
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "queue", "aws config", "Unable to load AWS configuration", err)
		}
		return sqsqueue.New(sqsqueue.NewClient(awsCfg, awsclient.Endpoint(cfg.AWS))), nil
	case config.QueueSQLite:
		q, err := sqlitequeue.Open(cfg.Queue.SQLitePath)
		if err != nil {
			return nil, err
		}
		return q, nil
	case config.QueueRedis:
		q, err := redisqueue.Open(ctx, redisqueue.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "queue", "open", fmt.Sprintf("Unsupported backend %q", cfg.Queue.Backend), nil)
	}
}

// Ensure provisions the document table where the backend supports it and
// creates every configured queue.
func (a *App) Ensure(ctx context.Context) error {
	if ensurer, ok := a.Documents.(docstore.Ensurer); ok {
		if err := ensurer.Ensure(ctx); err != nil {
			return err
		}
	}
	return a.Router.EnsureQueues(ctx)
}

// SelfRouter returns the router stages call after finishing, or nil when a
// change stream does the routing.
func (a *App) SelfRouter() stage.Router {
	if !a.Config.Worker.SelfRoute {
		return nil
	}
	return stage.RouterFunc(func(ctx context.Context, doc *asset.Document) error {
		_, err := a.Router.Route(ctx, doc)
		return err
	})
}

// Runner builds the stage runner over the opened stores.
func (a *App) Runner() (*stage.Runner, error) {
	return stage.NewRunner(stage.Options{
		Documents:   a.Documents,
		Objects:     a.Objects,
		Events:      a.Events,
		ScratchRoot: a.Config.Worker.ScratchDir,
		Logger:      a.Logger,
		Router:      a.SelfRouter(),
	})
}

// Ingester builds the upload splitter.
func (a *App) Ingester() (*split.Ingester, error) {
	return split.New(split.Options{
		Documents:   a.Documents,
		Objects:     a.Objects,
		Split:       a.Config.Split,
		Media:       a.Config.Media,
		ScratchRoot: a.Config.Worker.ScratchDir,
		Logger:      a.Logger,
		Router:      a.SelfRouter(),
	})
}

// FrameOpener decodes media with the configured ffmpeg tools.
func (a *App) FrameOpener() analysis.Opener {
	media := a.Config.Media
	return func(ctx context.Context, path string) (analysis.FrameSource, error) {
		reader, err := frames.Open(ctx, media.FFmpeg, media.FFprobe, path)
		if err != nil {
			return nil, err
		}
		return reader, nil
	}
}

// AnalysisWork builds the detectors configured for stageName. A nil open
// uses FrameOpener. The caller closes the returned analyzer.
func (a *App) AnalysisWork(stageName string, deps detector.Deps, open analysis.Opener) (stage.AnalysisWork, error) {
	settings, ok := a.Config.AnalysisFor(stageName)
	if !ok {
		return stage.AnalysisWork{}, services.Wrap(services.ErrConfiguration, stageName, "build analysis",
			fmt.Sprintf("No analysis section for stage %q", stageName), nil)
	}
	if deps.Logger == nil {
		deps.Logger = a.Logger
	}
	detectors, err := a.Registry.BuildAll(settings.Detectors, deps)
	if err != nil {
		return stage.AnalysisWork{}, err
	}
	analyzer, err := analysis.New(detectors, settings.FrameRatio, a.Logger)
	if err != nil {
		_ = detector.ReleaseAll(detectors)
		return stage.AnalysisWork{}, err
	}
	if open == nil {
		open = a.FrameOpener()
	}
	return stage.AnalysisWork{Analyzer: analyzer, Open: open}, nil
}

// Worker builds the consumer loop for stageName.
func (a *App) Worker(stageName string, work stage.Work) (*worker.Worker, error) {
	queueName, ok := a.Router.Definition().Queue(stageName)
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "build worker",
			fmt.Sprintf("Stage %q has no queue", stageName), nil)
	}
	runner, err := a.Runner()
	if err != nil {
		return nil, err
	}
	return worker.New(worker.Options{
		Stage:         stageName,
		QueueName:     queueName,
		Queue:         a.Queue,
		Runner:        runner,
		Work:          work,
		Wait:          time.Duration(a.Config.Queue.WaitSeconds) * time.Second,
		RetryInterval: time.Duration(a.Config.Worker.ErrorRetryInterval) * time.Second,
		LockPath:      filepath.Join(a.Config.Worker.ScratchDir, "."+stageName+".lock"),
		ScratchRoot:   a.Config.Worker.ScratchDir,
		Logger:        a.Logger,
	})
}

// Close releases every opened backend.
func (a *App) Close() error {
	var errs []error
	if a.Events != nil {
		a.Events.Close()
	}
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.Documents != nil {
		errs = append(errs, a.Documents.Close())
	}
	return errors.Join(errs...)
}

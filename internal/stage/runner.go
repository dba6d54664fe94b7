package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"derbyflow/internal/asset"
	"derbyflow/internal/docstore"
	"derbyflow/internal/events"
	"derbyflow/internal/fileutil"
	"derbyflow/internal/logging"
	"derbyflow/internal/objectstore"
	"derbyflow/internal/services"
)

const maxWriteAttempts = 3

// Router dispatches a finished document to the next stage.
type Router interface {
	Route(ctx context.Context, doc *asset.Document) error
}

// RouterFunc adapts a function to Router.
type RouterFunc func(ctx context.Context, doc *asset.Document) error

func (f RouterFunc) Route(ctx context.Context, doc *asset.Document) error { return f(ctx, doc) }

// Options wires a Runner.
type Options struct {
	Documents   docstore.Store
	Objects     objectstore.Store
	Events      events.Publisher
	ScratchRoot string
	Logger      *slog.Logger
	// Router is called after a successful run when workers route for
	// themselves. Routing failures are logged and do not fail the run.
	Router Router
}

// Runner executes stages against the document and object stores.
type Runner struct {
	docs        docstore.Store
	objects     objectstore.Store
	events      events.Publisher
	scratchRoot string
	logger      *slog.Logger
	router      Router
	now         func() time.Time
}

// NewRunner validates opts and builds a runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Documents == nil {
		return nil, errors.New("stage runner: document store is required")
	}
	if opts.Objects == nil {
		return nil, errors.New("stage runner: object store is required")
	}
	publisher := opts.Events
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Runner{
		docs:        opts.Documents,
		objects:     opts.Objects,
		events:      publisher,
		scratchRoot: opts.ScratchRoot,
		logger:      logging.NewComponentLogger(opts.Logger, "stage"),
		router:      opts.Router,
		now:         time.Now,
	}, nil
}

// Run executes work as stage for the asset id. The stage record is left
// done or error, never running, unless recording the outcome itself fails.
// Work failures are returned after they are recorded.
func (r *Runner) Run(ctx context.Context, stageName string, id int64, work Work) error {
	ctx = services.WithStage(services.WithAssetID(ctx, id), stageName)
	logger := logging.WithContext(ctx, r.logger)

	doc, err := r.docs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return services.Wrap(services.ErrNotFound, stageName, "load document", fmt.Sprintf("Asset %d does not exist", id), err)
		}
		return services.Wrap(services.ErrTransient, stageName, "load document", fmt.Sprintf("Unable to load asset %d", id), err)
	}

	doc, err = r.update(ctx, doc, func(d *asset.Document) error {
		d.BeginStage(stageName)
		return nil
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, stageName, "mark running", "Unable to record stage start", err)
	}

	started := r.now()
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String(logging.FieldBucket, doc.Location.Bucket),
		logging.String(logging.FieldKey, doc.Location.Key),
	)

	result, workErr := r.execute(ctx, logger, stageName, doc, work)
	if workErr != nil {
		return r.fail(ctx, logger, stageName, doc, workErr)
	}

	doc, err = r.update(ctx, doc, func(d *asset.Document) error {
		return d.CompleteStage(stageName, result)
	})
	if err != nil {
		return services.Wrap(services.ErrTransient, stageName, "mark done", "Unable to record stage completion", err)
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("result", result.String()),
		logging.Duration("stage_duration", r.now().Sub(started)),
	)
	r.publish(ctx, logger, events.StageEvent{AssetID: id, Stage: stageName, State: asset.StateDone, ResultLocation: &result})

	if r.router != nil {
		if err := r.router.Route(ctx, doc); err != nil {
			logging.WarnWithContext(logger, "next stage dispatch failed", "route_failed",
				append(logging.ErrorAttrs(err), logging.String(logging.FieldErrorHint, "rerun the stage or enqueue the asset manually"))...)
		}
	}
	return nil
}

// execute owns the scratch directory for one run.
func (r *Runner) execute(ctx context.Context, logger *slog.Logger, stageName string, doc *asset.Document, work Work) (asset.Location, error) {
	scratch, err := fileutil.NewScratch(r.scratchRoot, "derbyflow-"+stageName+"-*")
	if err != nil {
		return asset.Location{}, services.Wrap(services.ErrTransient, stageName, "scratch", "Unable to create scratch directory", err)
	}
	defer func() {
		if err := scratch.Remove(); err != nil {
			logger.Warn("scratch cleanup failed", logging.String("dir", scratch.Dir()), logging.Error(err))
		}
	}()

	input := scratch.Path(baseName(doc.Location.Key))
	if err := objectstore.Download(ctx, r.objects, doc.Location, input); err != nil {
		return asset.Location{}, services.Wrap(services.ErrTransient, stageName, "download", fmt.Sprintf("Unable to fetch %s", doc.Location), err)
	}

	artifact, err := runWork(ctx, stageName, work, Job{
		Stage:     stageName,
		Document:  doc.Clone(),
		InputPath: input,
		Scratch:   scratch,
		Logger:    logger,
	})
	if err != nil {
		return asset.Location{}, err
	}

	result := asset.Location{
		Bucket: doc.Location.Bucket,
		Key:    asset.ResultKey(doc.Location.Key, stageName, artifact.Extension),
	}
	if err := r.objects.Upload(ctx, artifact.Path, result); err != nil {
		return asset.Location{}, services.Wrap(services.ErrTransient, stageName, "upload", fmt.Sprintf("Unable to store result at %s", result), err)
	}
	return result, nil
}

// runWork returns a panic in work as an error so the record still reaches
// error.
func runWork(ctx context.Context, stageName string, work Work, job Job) (artifact Artifact, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = services.Wrap(services.ErrExternalTool, stageName, "execute",
				fmt.Sprintf("Stage work panicked: %v", p), nil)
		}
	}()
	return work.Execute(ctx, job)
}

// fail records workErr on the stage record and returns it, joined with the
// persistence error if recording failed.
func (r *Runner) fail(ctx context.Context, logger *slog.Logger, stageName string, doc *asset.Document, workErr error) error {
	message := strings.TrimSpace(services.Details(workErr).Message)
	if message == "" {
		message = strings.TrimSpace(workErr.Error())
	}
	attrs := append(logging.ErrorAttrs(workErr),
		logging.String("error_message", message),
		logging.String(logging.FieldEventType, "stage_failure"),
	)
	logger.Error("stage failed", logging.Args(attrs...)...)

	if _, err := r.update(ctx, doc, func(d *asset.Document) error {
		return d.FailStage(stageName, workErr)
	}); err != nil {
		logger.Error("failed to persist stage failure", logging.Error(err))
		return errors.Join(workErr, services.Wrap(services.ErrTransient, stageName, "mark error", "Unable to record stage failure", err))
	}
	r.publish(ctx, logger, events.StageEvent{AssetID: doc.ID, Stage: stageName, State: asset.StateError, Error: workErr.Error()})
	return workErr
}

// update applies mutate and writes the document. On a version conflict the
// document is reloaded and mutate is applied again.
func (r *Runner) update(ctx context.Context, doc *asset.Document, mutate func(*asset.Document) error) (*asset.Document, error) {
	current := doc.Clone()
	for attempt := 1; ; attempt++ {
		if err := mutate(current); err != nil {
			return nil, err
		}
		err := r.docs.Put(ctx, current)
		if err == nil {
			return current, nil
		}
		if !errors.Is(err, services.ErrConflict) || attempt == maxWriteAttempts {
			return nil, err
		}
		logging.WithContext(ctx, r.logger).Debug("document write conflict, reloading", logging.Int("attempt", attempt))
		if current, err = r.docs.Get(ctx, doc.ID); err != nil {
			return nil, err
		}
	}
}

func (r *Runner) publish(ctx context.Context, logger *slog.Logger, event events.StageEvent) {
	event.Timestamp = r.now().UTC()
	if err := r.events.Publish(ctx, event); err != nil {
		logger.Warn("stage event publish failed", logging.Error(err))
	}
}

func baseName(key string) string {
	name, ext := asset.SplitName(key)
	if ext == "" {
		return name
	}
	return name + "." + ext
}

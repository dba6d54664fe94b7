package split

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"derbyflow/internal/asset"
	"derbyflow/internal/config"
	"derbyflow/internal/docstore"
	"derbyflow/internal/fileutil"
	"derbyflow/internal/logging"
	"derbyflow/internal/media/ffprobe"
	"derbyflow/internal/media/segment"
	"derbyflow/internal/objectstore"
	"derbyflow/internal/services"
	"derbyflow/internal/stage"
)

// Prober inspects a local media file.
type Prober func(ctx context.Context, path string) (ffprobe.Result, error)

// Segmenter cuts a local media file into pieces.
type Segmenter func(ctx context.Context, req segment.Request) ([]string, error)

// Options wires an Ingester.
type Options struct {
	Documents   docstore.Store
	Objects     objectstore.Store
	Split       config.Split
	Media       config.Media
	ScratchRoot string
	Logger      *slog.Logger
	// Router dispatches each child when workers route for themselves.
	Router stage.Router
	Probe  Prober
	Cut    Segmenter
	NewID  func() int64
	Now    func() time.Time
}

// Ingester turns uploads into parent and child asset documents.
type Ingester struct {
	docs        docstore.Store
	objects     objectstore.Store
	cfg         config.Split
	scratchRoot string
	logger      *slog.Logger
	router      stage.Router
	probe       Prober
	cut         Segmenter
	newID       func() int64
	now         func() time.Time
	ffmpeg      string
}

// Result lists the documents written by one ingestion.
type Result struct {
	Parent   *asset.Document
	Children []*asset.Document
}

// New validates opts and fills tool defaults.
func New(opts Options) (*Ingester, error) {
	if opts.Documents == nil || opts.Objects == nil {
		return nil, errors.New("split: document and object stores are required")
	}
	in := &Ingester{
		docs:        opts.Documents,
		objects:     opts.Objects,
		cfg:         opts.Split,
		scratchRoot: opts.ScratchRoot,
		logger:      logging.NewComponentLogger(opts.Logger, "split"),
		router:      opts.Router,
		probe:       opts.Probe,
		cut:         opts.Cut,
		newID:       opts.NewID,
		now:         opts.Now,
		ffmpeg:      opts.Media.FFmpeg,
	}
	if in.probe == nil {
		binary := opts.Media.FFprobe
		in.probe = func(ctx context.Context, path string) (ffprobe.Result, error) {
			return ffprobe.Inspect(ctx, binary, path)
		}
	}
	if in.cut == nil {
		in.cut = segment.Split
	}
	if in.newID == nil {
		in.newID = asset.NewID
	}
	if in.now == nil {
		in.now = time.Now
	}
	return in, nil
}

// Ingest processes the uploaded object at upload.
func (in *Ingester) Ingest(ctx context.Context, upload asset.Location) (*Result, error) {
	ctx = services.WithStage(ctx, in.cfg.Stage)
	logger := logging.WithContext(ctx, in.logger).With(
		logging.String(logging.FieldBucket, upload.Bucket),
		logging.String(logging.FieldKey, upload.Key),
	)
	scratch, err := fileutil.NewScratch(in.scratchRoot, "derbyflow-split-*")
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, in.cfg.Stage, "scratch", "Unable to create scratch directory", err)
	}
	defer func() {
		if err := scratch.Remove(); err != nil {
			logger.Warn("scratch cleanup failed", logging.String("dir", scratch.Dir()), logging.Error(err))
		}
	}()

	name, ext := asset.SplitName(upload.Key)
	input := scratch.Path(baseName(name, ext))
	if err := objectstore.Download(ctx, in.objects, upload, input); err != nil {
		return nil, services.Wrap(services.ErrTransient, in.cfg.Stage, "download", fmt.Sprintf("Unable to fetch %s", upload), err)
	}
	probe, err := in.probe(ctx, input)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, in.cfg.Stage, "probe", "ffprobe failed on upload", err)
	}

	parent := in.describe(in.newID(), upload, name, ext, probe)
	parent.AppendDone(in.cfg.UploadStage)
	if err := in.docs.Put(ctx, parent); err != nil {
		return nil, services.Wrap(services.ErrTransient, in.cfg.Stage, "record upload", "Unable to store parent document", err)
	}
	logger = logger.With(logging.Int64(logging.FieldAssetID, parent.ID))
	logger.Info("upload recorded",
		logging.String(logging.FieldEventType, "upload_recorded"),
		logging.Float64("duration", parent.Duration),
	)

	segments, err := in.cut(ctx, segment.Request{
		Binary:    in.ffmpeg,
		Input:     input,
		OutputDir: scratch.Path("segments"),
		Name:      name,
		Extension: ext,
		Seconds:   in.cfg.SegmentSeconds,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, in.cfg.Stage, "segment", "ffmpeg failed to split upload", err)
	}

	result := &Result{Parent: parent}
	bucket := in.cfg.OutputBucket
	if bucket == "" {
		bucket = upload.Bucket
	}
	for i, segPath := range segments {
		child, err := in.ingestSegment(ctx, parent, segPath, bucket, name, ext, i)
		if err != nil {
			return result, err
		}
		result.Children = append(result.Children, child)
		parent.AddChild(child.ID)
	}
	if err := in.docs.Put(ctx, parent); err != nil {
		return result, services.Wrap(services.ErrTransient, in.cfg.Stage, "record children", "Unable to link segments to parent", err)
	}
	logger.Info("split finished",
		logging.String(logging.FieldEventType, "split_complete"),
		logging.Int("segments", len(result.Children)),
	)

	if in.router != nil {
		for _, child := range result.Children {
			if err := in.router.Route(ctx, child); err != nil {
				logging.WarnWithContext(logger, "segment dispatch failed", "route_failed",
					append(logging.ErrorAttrs(err), logging.Int64("child_id", child.ID))...)
			}
		}
	}
	return result, nil
}

func (in *Ingester) ingestSegment(ctx context.Context, parent *asset.Document, path, bucket, name, ext string, index int) (*asset.Document, error) {
	loc := asset.Location{Bucket: bucket, Key: asset.SegmentKey(in.cfg.OutputKeyPrefix, name, index, ext)}
	if err := in.objects.Upload(ctx, path, loc); err != nil {
		return nil, services.Wrap(services.ErrTransient, in.cfg.Stage, "upload segment", fmt.Sprintf("Unable to store %s", loc), err)
	}
	probe, err := in.probe(ctx, path)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, in.cfg.Stage, "probe segment", fmt.Sprintf("ffprobe failed on segment %d", index), err)
	}
	segName, _ := asset.SplitName(loc.Key)
	child := in.describe(in.newID(), loc, segName, ext, probe)
	parentID := parent.ID
	child.ParentID = &parentID
	child.AppendDone(in.cfg.Stage)
	if err := in.docs.Put(ctx, child); err != nil {
		return nil, services.Wrap(services.ErrTransient, in.cfg.Stage, "record segment", fmt.Sprintf("Unable to store segment %d", index), err)
	}
	return child, nil
}

func (in *Ingester) describe(id int64, loc asset.Location, name, ext string, probe ffprobe.Result) *asset.Document {
	width, height := probe.Dimensions()
	created := in.now().UTC()
	if ts, ok := probe.CreationTime(); ok {
		created = ts
	}
	return &asset.Document{
		ID:           id,
		Location:     loc,
		Name:         name,
		Extension:    ext,
		Size:         []int{width, height},
		FPS:          probe.FPS(),
		Duration:     probe.DurationSeconds(),
		HasAudio:     probe.HasAudio(),
		CreationTime: created.Format(time.RFC3339Nano),
	}
}

// HandleS3Event ingests every object in an S3 notification.
func (in *Ingester) HandleS3Event(ctx context.Context, event events.S3Event) error {
	var errs []error
	for _, record := range event.Records {
		key := record.S3.Object.URLDecodedKey
		if key == "" {
			key = record.S3.Object.Key
		}
		loc := asset.Location{Bucket: record.S3.Bucket.Name, Key: key}
		if _, err := in.Ingest(ctx, loc); err != nil {
			logging.ErrorWithContext(in.logger, "ingest failed", "ingest_failed",
				append(logging.ErrorAttrs(err), logging.String(logging.FieldKey, key))...)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func baseName(name, ext string) string {
	if ext == "" {
		return name
	}
	return name + "." + ext
}

package stage

import (
	"context"
	"log/slog"

	"derbyflow/internal/asset"
	"derbyflow/internal/fileutil"
)

// Job is the input handed to a stage's work.
type Job struct {
	Stage     string
	Document  *asset.Document
	InputPath string
	Scratch   *fileutil.Scratch
	Logger    *slog.Logger
}

// Artifact is the file a stage produced. Extension names the stored object's
// extension without a dot.
type Artifact struct {
	Path      string
	Extension string
}

// Work performs the stage-specific part of a run.
type Work interface {
	Execute(ctx context.Context, job Job) (Artifact, error)
}

// WorkFunc adapts a function to Work.
type WorkFunc func(ctx context.Context, job Job) (Artifact, error)

func (f WorkFunc) Execute(ctx context.Context, job Job) (Artifact, error) {
	return f(ctx, job)
}

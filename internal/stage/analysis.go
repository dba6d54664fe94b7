package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"derbyflow/internal/analysis"
	"derbyflow/internal/asset"
	"derbyflow/internal/fileutil"
	"derbyflow/internal/services"
)

// AnalysisWork runs the frame analyzer over the staged media and stores the
// merged detections as JSON.
type AnalysisWork struct {
	Analyzer *analysis.Analyzer
	Open     analysis.Opener
}

func (w AnalysisWork) Execute(ctx context.Context, job Job) (Artifact, error) {
	src, err := w.Open(ctx, job.InputPath)
	if err != nil {
		return Artifact{}, services.Wrap(services.ErrExternalTool, job.Stage, "open media", "Unable to decode media", err)
	}
	result, err := w.Analyzer.Analyze(ctx, src)
	if err != nil {
		return Artifact{}, err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return Artifact{}, fmt.Errorf("encode analysis result: %w", err)
	}
	name, _ := asset.SplitName(job.Document.Location.Key)
	out := job.Scratch.Path(name + ".json")
	if err := fileutil.WriteFileAtomic(out, payload, 0o644); err != nil {
		return Artifact{}, services.Wrap(services.ErrTransient, job.Stage, "write result", "Unable to write analysis result", err)
	}
	return Artifact{Path: out, Extension: "json"}, nil
}

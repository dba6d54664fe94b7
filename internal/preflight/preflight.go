package preflight

import (
	"context"

	"derbyflow/internal/config"
	"derbyflow/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the checks that apply to stage. An empty stage checks
// everything shared by all commands.
func RunAll(ctx context.Context, cfg *config.Config, stage string) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("Scratch directory", cfg.Worker.ScratchDir))
	if cfg.ObjectStore.Backend == config.ObjectStoreFilesystem {
		results = append(results, CheckDirectoryAccess("Object store root", cfg.ObjectStore.Root))
	}
	for _, status := range deps.CheckBinaries(deps.MediaRequirements(cfg.Media)) {
		results = append(results, fromStatus(status))
	}
	if analysis, ok := cfg.AnalysisFor(stage); ok {
		for _, det := range analysis.Detectors {
			results = append(results, CheckEndpoint(ctx, "Detector "+det.ID, det.Endpoint))
		}
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

func fromStatus(status deps.Status) Result {
	if status.Available {
		return Result{Name: status.Name, Passed: true, Detail: status.Command}
	}
	if status.Optional {
		return Result{Name: status.Name, Passed: true, Detail: status.Detail + " (optional)"}
	}
	return Result{Name: status.Name, Detail: status.Detail}
}

package analysis

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"time"

	"derbyflow/internal/detector"
	"derbyflow/internal/logging"
	"derbyflow/internal/services"
)

// FrameSource yields decoded frames in order and reports stream metadata.
type FrameSource interface {
	FPS() float64
	CodecCode() int64
	// Next returns io.EOF after the last frame.
	Next() (image.Image, error)
	Close() error
}

// Opener opens a frame source for a local media file.
type Opener func(ctx context.Context, path string) (FrameSource, error)

// Analyzer owns a set of detectors for the life of a worker.
type Analyzer struct {
	detectors []detector.Detector
	keepEvery int
	capacity  int
	logger    *slog.Logger
}

// New validates the detector set and frame ratio.
func New(detectors []detector.Detector, frameRatio float64, logger *slog.Logger) (*Analyzer, error) {
	if len(detectors) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "analysis", "init", "At least one detector is required", nil)
	}
	if frameRatio <= 0 || frameRatio > 1 || math.IsNaN(frameRatio) {
		return nil, services.Wrap(services.ErrConfiguration, "analysis", "init", fmt.Sprintf("frame_ratio %v outside (0, 1]", frameRatio), nil)
	}
	seen := make(map[string]struct{}, len(detectors))
	capacity := math.MaxInt
	for _, det := range detectors {
		category := det.Category()
		if _, dup := seen[category]; dup {
			return nil, services.Wrap(services.ErrConfiguration, "analysis", "init", fmt.Sprintf("Duplicate detector category %q", category), nil)
		}
		seen[category] = struct{}{}
		if det.BatchMaxSize() <= 0 {
			return nil, services.Wrap(services.ErrConfiguration, "analysis", "init", fmt.Sprintf("Detector %q has no batch capacity", category), nil)
		}
		capacity = min(capacity, det.BatchMaxSize())
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Analyzer{
		detectors: detectors,
		keepEvery: KeepEvery(frameRatio),
		capacity:  capacity,
		logger:    logger,
	}, nil
}

// KeepEvery converts a frame ratio to a sampling stride of at least one.
func KeepEvery(frameRatio float64) int {
	if frameRatio <= 0 {
		return 1
	}
	return max(1, int(math.Round(1/frameRatio)))
}

// BatchCapacity is the smallest batch size across the detectors.
func (a *Analyzer) BatchCapacity() int { return a.capacity }

// Close releases every detector.
func (a *Analyzer) Close() error {
	return detector.ReleaseAll(a.detectors)
}

type pendingFrame struct {
	index     int
	timestamp float64
	img       image.Image
}

// Analyze consumes src to the end and returns the merged per-frame results.
// The source is closed before returning.
func (a *Analyzer) Analyze(ctx context.Context, src FrameSource) (result Result, err error) {
	defer func() {
		if closeErr := src.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	started := time.Now()
	fps := src.FPS()
	result = Result{FPS: fps, CodecCode: src.CodecCode(), Frames: []FrameRecord{}}

	batch := make([]pendingFrame, 0, a.capacity)
	counter := 0
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		img, nextErr := src.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}
		if nextErr != nil {
			return Result{}, services.Wrap(services.ErrExternalTool, "analysis", "decode", fmt.Sprintf("Decoding frame %d failed", counter+1), nextErr)
		}
		counter++
		if (counter-1)%a.keepEvery != 0 {
			continue
		}
		batch = append(batch, pendingFrame{index: counter, timestamp: frameTimestamp(counter, fps), img: img})
		if len(batch) == a.capacity {
			records, err := a.dispatch(ctx, batch)
			if err != nil {
				return Result{}, err
			}
			result.Frames = append(result.Frames, records...)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		records, err := a.dispatch(ctx, batch)
		if err != nil {
			return Result{}, err
		}
		result.Frames = append(result.Frames, records...)
	}
	a.logger.Info("analysis complete",
		logging.String(logging.FieldEventType, "analysis_complete"),
		logging.Int("frames_decoded", counter),
		logging.Int("frames_analyzed", len(result.Frames)),
		logging.Int("keep_every", a.keepEvery),
		logging.Int("batch_capacity", a.capacity),
		logging.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

// dispatch runs every detector over the batch and zips their outputs.
func (a *Analyzer) dispatch(ctx context.Context, batch []pendingFrame) ([]FrameRecord, error) {
	imgs := make([]image.Image, len(batch))
	records := make([]FrameRecord, len(batch))
	for i, frame := range batch {
		imgs[i] = frame.img
		records[i] = FrameRecord{
			Index:      frame.index,
			Timestamp:  frame.timestamp,
			Detections: make(map[string]detector.Result, len(a.detectors)),
		}
	}
	for _, det := range a.detectors {
		results, err := det.AnalyzeMany(ctx, imgs)
		if err != nil {
			return nil, err
		}
		if len(results) != len(batch) {
			return nil, services.Wrap(services.ErrExternalTool, "analysis", "dispatch",
				fmt.Sprintf("Detector %q returned %d results for %d frames", det.Category(), len(results), len(batch)), nil)
		}
		for i, res := range results {
			records[i].Detections[det.Category()] = res
		}
	}
	return records, nil
}

// frameTimestamp returns the presentation time of a 1-based frame in
// milliseconds.
func frameTimestamp(index int, fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	return float64(index-1) * 1000 / fps
}

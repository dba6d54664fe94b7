package detector

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"golang.org/x/image/draw"

	"derbyflow/internal/config"
	"derbyflow/internal/logging"
	"derbyflow/internal/services"
)

// Built-in detector identifiers.
const (
	HumanID = "human"
	FaceID  = "face"
)

// modelSpec fixes the parts of a detector that are properties of the model.
type modelSpec struct {
	category     string
	classID      int
	minScore     float64
	batchMaxSize int
	inputWidth   int
}

var (
	// COCO class 1 is "person".
	humanModel = modelSpec{category: "Human", classID: 1, minScore: 0.300000011921, batchMaxSize: 5, inputWidth: 1024}
	// WIDER FACE has a single class.
	faceModel = modelSpec{category: "Face", classID: 1, minScore: 0.5, batchMaxSize: 5, inputWidth: 1024}
)

// NewHuman builds the person detector.
func NewHuman(spec config.Detector, deps Deps) (Detector, error) {
	return newModelDetector(humanModel, spec, deps)
}

// NewFace builds the face detector.
func NewFace(spec config.Detector, deps Deps) (Detector, error) {
	return newModelDetector(faceModel, spec, deps)
}

// modelDetector runs an object-detection model through a Backend and keeps
// the detections of one class above a score threshold.
type modelDetector struct {
	model   modelSpec
	backend Backend
	logger  *slog.Logger

	releaseOnce sync.Once
	releaseErr  error
}

func newModelDetector(model modelSpec, spec config.Detector, deps Deps) (*modelDetector, error) {
	if spec.MinScore > 0 {
		model.minScore = spec.MinScore
	}
	if spec.BatchMaxSize > 0 {
		model.batchMaxSize = spec.BatchMaxSize
	}
	if spec.InputWidth > 0 {
		model.inputWidth = spec.InputWidth
	}
	backend := deps.Backend
	if backend == nil {
		var err error
		backend, err = NewHTTPBackend(spec, deps.HTTPClient)
		if err != nil {
			return nil, err
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &modelDetector{
		model:   model,
		backend: backend,
		logger:  logger.With(logging.String("detector", model.category)),
	}, nil
}

func (d *modelDetector) Category() string { return d.model.category }

func (d *modelDetector) BatchMaxSize() int { return d.model.batchMaxSize }

func (d *modelDetector) AnalyzeOne(ctx context.Context, img image.Image) (Result, error) {
	results, err := d.AnalyzeMany(ctx, []image.Image{img})
	if err != nil {
		return Result{}, err
	}
	if len(results) == 0 {
		return Result{}, nil
	}
	return results[0], nil
}

func (d *modelDetector) AnalyzeMany(ctx context.Context, imgs []image.Image) ([]Result, error) {
	if len(imgs) == 0 {
		return nil, nil
	}
	if len(imgs) > d.model.batchMaxSize {
		logging.WarnWithContext(d.logger, "batch truncated to detector capacity", "detector_batch_truncated",
			logging.Int("received", len(imgs)),
			logging.Int("batch_max_size", d.model.batchMaxSize),
		)
		imgs = imgs[:d.model.batchMaxSize]
	}
	prepared := make([]image.Image, len(imgs))
	for i, img := range imgs {
		prepared[i] = resizeToWidth(img, d.model.inputWidth)
	}
	predictions, err := d.backend.Infer(ctx, prepared)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "detector", "infer", d.model.category+" inference failed", err)
	}
	if len(predictions) != len(prepared) {
		return nil, services.Wrap(services.ErrExternalTool, "detector", "infer",
			fmt.Sprintf("%s backend returned %d predictions for %d images", d.model.category, len(predictions), len(prepared)), nil)
	}
	results := make([]Result, len(predictions))
	for i, pred := range predictions {
		results[i] = d.filter(pred)
	}
	return results, nil
}

// filter keeps detections of the model's class that meet the score threshold.
func (d *modelDetector) filter(pred Prediction) Result {
	pred = pred.truncated()
	res := Result{Boxes: []Box{}, Scores: []float64{}}
	for i := range pred.Scores {
		if int(pred.Classes[i]) != d.model.classID || pred.Scores[i] < d.model.minScore {
			continue
		}
		res.Boxes = append(res.Boxes, pred.Boxes[i])
		res.Scores = append(res.Scores, pred.Scores[i])
	}
	return res
}

func (d *modelDetector) Release() error {
	d.releaseOnce.Do(func() {
		d.releaseErr = d.backend.Close()
	})
	return d.releaseErr
}

// resizeToWidth scales img to width pixels wide keeping its aspect ratio.
func resizeToWidth(img image.Image, width int) image.Image {
	bounds := img.Bounds()
	if width <= 0 || bounds.Dx() == 0 || bounds.Dx() == width {
		return img
	}
	height := max(1, bounds.Dy()*width/bounds.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}

package detector

import (
	"context"
	"image"
)

// Box is [top, left, bottom, right] in fractions of the image size.
type Box [4]float64

// Result holds the detections kept for one image.
type Result struct {
	Boxes  []Box     `json:"boxes"`
	Scores []float64 `json:"scores"`
}

// Len returns the number of detections.
func (r Result) Len() int { return len(r.Scores) }

// Detector analyzes images for one category of object.
type Detector interface {
	// Category is the stable key under which results are merged.
	Category() string
	// BatchMaxSize is the most images AnalyzeMany processes per call.
	BatchMaxSize() int
	AnalyzeOne(ctx context.Context, img image.Image) (Result, error)
	// AnalyzeMany analyzes at most BatchMaxSize images, dropping the rest
	// with a warning. It returns one Result per analyzed image.
	AnalyzeMany(ctx context.Context, imgs []image.Image) ([]Result, error)
	// Release frees backing resources. Calling it again is a no-op.
	Release() error
}

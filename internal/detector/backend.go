package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"

	"derbyflow/internal/config"
	"derbyflow/internal/services"
)

// Prediction is the raw output of an object-detection model for one image.
// Only the first NumDetections entries of each slice are meaningful.
type Prediction struct {
	NumDetections int       `json:"num_detections"`
	Classes       []float64 `json:"detection_classes"`
	Boxes         []Box     `json:"detection_boxes"`
	Scores        []float64 `json:"detection_scores"`
}

func (p Prediction) truncated() Prediction {
	n := p.NumDetections
	n = min(n, len(p.Classes), len(p.Boxes), len(p.Scores))
	if n < 0 {
		n = 0
	}
	return Prediction{
		NumDetections: n,
		Classes:       p.Classes[:n],
		Boxes:         p.Boxes[:n],
		Scores:        p.Scores[:n],
	}
}

// Backend runs model inference on a batch of images.
type Backend interface {
	Infer(ctx context.Context, imgs []image.Image) ([]Prediction, error)
	Close() error
}

const defaultInferenceTimeout = 60 * time.Second

// HTTPBackend calls a TensorFlow Serving style REST predict endpoint.
type HTTPBackend struct {
	endpoint string
	client   *http.Client
	quality  int
}

// NewHTTPBackend builds a backend for spec.Endpoint.
func NewHTTPBackend(spec config.Detector, client *http.Client) (*HTTPBackend, error) {
	endpoint := strings.TrimSpace(spec.Endpoint)
	if endpoint == "" {
		return nil, services.Wrap(services.ErrConfiguration, "detector", "backend",
			fmt.Sprintf("Detector %q has no inference endpoint", spec.ID), nil)
	}
	if client == nil {
		timeout := defaultInferenceTimeout
		if spec.TimeoutSeconds > 0 {
			timeout = time.Duration(spec.TimeoutSeconds) * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPBackend{endpoint: endpoint, client: client, quality: 90}, nil
}

type predictRequest struct {
	Instances []predictInstance `json:"instances"`
}

type predictInstance struct {
	B64 string `json:"b64"`
}

type predictResponse struct {
	Predictions []Prediction `json:"predictions"`
	Error       string       `json:"error,omitempty"`
}

// Infer sends every image as a base64 JPEG instance.
func (b *HTTPBackend) Infer(ctx context.Context, imgs []image.Image) ([]Prediction, error) {
	req := predictRequest{Instances: make([]predictInstance, len(imgs))}
	var buf bytes.Buffer
	for i, img := range imgs {
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: b.quality}); err != nil {
			return nil, fmt.Errorf("encode image %d: %w", i, err)
		}
		req.Instances[i].B64 = base64.StdEncoding.EncodeToString(buf.Bytes())
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var decoded predictResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || decoded.Error != "" {
		return nil, fmt.Errorf("predict status %d: %s", resp.StatusCode, decoded.Error)
	}
	return decoded.Predictions, nil
}

// Close releases idle connections.
func (b *HTTPBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

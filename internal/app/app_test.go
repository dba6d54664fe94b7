package app_test

import (
	"context"
	"errors"
	"image"
	"io"
	"testing"
	"time"

	"derbyflow/internal/analysis"
	"derbyflow/internal/app"
	"derbyflow/internal/asset"
	"derbyflow/internal/config"
	"derbyflow/internal/detector"
	"derbyflow/internal/pipeline"
	"derbyflow/internal/services"
	"derbyflow/internal/testsupport"
)

type stubSource struct {
	frames int
	served int
}

func (s *stubSource) FPS() float64     { return 25 }
func (s *stubSource) CodecCode() int64 { return 0x34363268 }
func (s *stubSource) Close() error     { return nil }

func (s *stubSource) Next() (image.Image, error) {
	if s.served == s.frames {
		return nil, io.EOF
	}
	s.served++
	return image.NewRGBA(image.Rect(0, 0, 8, 8)), nil
}

type oneHumanBackend struct{}

func (oneHumanBackend) Infer(_ context.Context, imgs []image.Image) ([]detector.Prediction, error) {
	out := make([]detector.Prediction, len(imgs))
	for i := range out {
		out[i] = detector.Prediction{
			NumDetections: 1,
			Classes:       []float64{1},
			Boxes:         []detector.Box{{0.1, 0.1, 0.5, 0.5}},
			Scores:        []float64{0.8},
		}
	}
	return out, nil
}

func (oneHumanBackend) Close() error { return nil }

func openApp(t *testing.T, opts ...testsupport.ConfigOption) *app.App {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	a, err := app.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestSegmentFlowsThroughDetectionStage(t *testing.T) {
	ctx := context.Background()
	a := openApp(t, testsupport.WithSelfRoute())
	if err := a.Ensure(ctx); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	loc := asset.Location{Bucket: "derby", Key: "project/race/split/race_0.mp4"}
	testsupport.PutObject(t, a.Config, loc, 2048)
	doc := &asset.Document{ID: 42, Location: loc, Name: "race_0", Extension: "mp4"}
	doc.AppendDone("upload")
	doc.AppendDone("timesplit")
	if err := a.Documents.Put(ctx, doc); err != nil {
		t.Fatalf("seed: %v", err)
	}

	decision, err := a.Router.Route(ctx, doc)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if decision.Outcome != pipeline.OutcomeDispatched || decision.Queue != "derby-human-detection" {
		t.Fatalf("decision = %+v", decision)
	}
	if _, err := a.Router.SendStop(ctx, "human_detection"); err != nil {
		t.Fatalf("SendStop: %v", err)
	}

	work, err := a.AnalysisWork("human_detection", detector.Deps{Backend: oneHumanBackend{}},
		func(context.Context, string) (analysis.FrameSource, error) {
			return &stubSource{frames: 10}, nil
		})
	if err != nil {
		t.Fatalf("AnalysisWork: %v", err)
	}
	t.Cleanup(func() { _ = work.Analyzer.Close() })

	w, err := a.Worker("human_detection", work)
	if err != nil {
		t.Fatalf("Worker: %v", err)
	}
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := w.Run(runCtx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if status := w.Status(); status.Processed != 1 || status.Failed != 0 {
		t.Fatalf("worker status = %+v", status)
	}

	stored, err := a.Documents.Get(ctx, 42)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	record, ok := stored.LastStage()
	if !ok || record.Stage != "human_detection" || record.State != asset.StateDone {
		t.Fatalf("last stage = %+v", record)
	}
	wantKey := asset.ResultKey(loc.Key, "human_detection", "json")
	if record.ResultLocation == nil || record.ResultLocation.Key != wantKey {
		t.Fatalf("result location = %+v, want key %s", record.ResultLocation, wantKey)
	}

	msgs, err := a.Queue.Receive(ctx, "derby-face-detection", time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected self-routed face detection message, got %d", len(msgs))
	}
	next, err := pipeline.DecodeWorkMessage(msgs[0].Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if next.VideoID != 42 || next.Location == nil || *next.Location != loc {
		t.Fatalf("next message = %+v", next)
	}
}

func TestSelfRouterDisabledByDefault(t *testing.T) {
	a := openApp(t)
	if a.SelfRouter() != nil {
		t.Fatal("expected no self router without worker.self_route")
	}
}

func TestAnalysisWorkRequiresStageSection(t *testing.T) {
	a := openApp(t)
	_, err := a.AnalysisWork("upload", detector.Deps{Backend: oneHumanBackend{}}, nil)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestWorkerRequiresStageQueue(t *testing.T) {
	a := openApp(t)
	_, err := a.Worker("upload", nil)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestOpenQueueRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Queue.Backend = "carrier-pigeon"
	if _, err := app.OpenQueue(context.Background(), &cfg); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

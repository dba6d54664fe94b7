package stage

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"derbyflow/internal/analysis"
	"derbyflow/internal/asset"
	"derbyflow/internal/config"
	"derbyflow/internal/detector"
	"derbyflow/internal/docstore/sqlitestore"
	"derbyflow/internal/events"
	"derbyflow/internal/services"
	"derbyflow/internal/testsupport"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.StageEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event events.StageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() {}

type runnerEnv struct {
	runner    *Runner
	docs      *sqlitestore.Store
	publisher *recordingPublisher
	scratch   string
	objects   string
	routed    []int64
}

func newRunnerEnv(t *testing.T) *runnerEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	env := &runnerEnv{
		docs:      testsupport.MustOpenDocStore(t, cfg),
		publisher: &recordingPublisher{},
		scratch:   cfg.Worker.ScratchDir,
		objects:   cfg.ObjectStore.Root,
	}
	runner, err := NewRunner(Options{
		Documents:   env.docs,
		Objects:     testsupport.NewObjectStore(cfg),
		Events:      env.publisher,
		ScratchRoot: cfg.Worker.ScratchDir,
		Router: RouterFunc(func(_ context.Context, doc *asset.Document) error {
			env.routed = append(env.routed, doc.ID)
			return nil
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	env.runner = runner

	loc := asset.Location{Bucket: "b", Key: "project/x/split/x_0.mp4"}
	testsupport.PutObject(t, cfg, loc, 128)
	testsupport.SeedDocument(t, env.docs, &asset.Document{
		ID:           42,
		Location:     loc,
		ProcessSteps: []asset.StageRecord{{Stage: "timesplit", State: asset.StateDone}},
	})
	return env
}

func (e *runnerEnv) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.scratch)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected scratch to be empty, found %d entries", len(entries))
	}
}

func TestRunRecordsDoneWithResultLocation(t *testing.T) {
	env := newRunnerEnv(t)
	var sawRunning bool
	work := WorkFunc(func(ctx context.Context, job Job) (Artifact, error) {
		current, err := env.docs.Get(ctx, 42)
		if err != nil {
			return Artifact{}, err
		}
		last, _ := current.LastStage()
		sawRunning = last.Stage == "detect" && last.State == asset.StateRunning
		if _, err := os.Stat(job.InputPath); err != nil {
			return Artifact{}, err
		}
		out := job.Scratch.Path("out.json")
		return Artifact{Path: out, Extension: "json"}, os.WriteFile(out, []byte(`{"ok":true}`), 0o644)
	})

	if err := env.runner.Run(context.Background(), "detect", 42, work); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sawRunning {
		t.Fatalf("expected stage to be recorded as running during work")
	}
	doc, err := env.docs.Get(context.Background(), 42)
	if err != nil {
		t.Fatal(err)
	}
	last, _ := doc.LastStage()
	want := asset.Location{Bucket: "b", Key: "project/x/detect/x_0.json"}
	if last.Stage != "detect" || last.State != asset.StateDone || last.ResultLocation == nil || *last.ResultLocation != want {
		t.Fatalf("unexpected stage record %+v", last)
	}
	if len(doc.ProcessSteps) != 2 || doc.ProcessSteps[0].Stage != "timesplit" {
		t.Fatalf("history not preserved: %+v", doc.ProcessSteps)
	}
	if _, err := os.Stat(filepath.Join(env.objects, "b", "project", "x", "detect", "x_0.json")); err != nil {
		t.Fatalf("result not uploaded: %v", err)
	}
	if len(env.publisher.events) != 1 || env.publisher.events[0].State != asset.StateDone {
		t.Fatalf("unexpected events %+v", env.publisher.events)
	}
	if len(env.routed) != 1 || env.routed[0] != 42 {
		t.Fatalf("expected self-route of asset 42, got %v", env.routed)
	}
	env.assertScratchEmpty(t)
}

func TestRunFailureMarksErrorAndCleansScratch(t *testing.T) {
	env := newRunnerEnv(t)
	boom := errors.New("inference server unreachable")
	work := WorkFunc(func(_ context.Context, job Job) (Artifact, error) {
		if err := os.WriteFile(job.Scratch.Path("partial.bin"), []byte("x"), 0o644); err != nil {
			return Artifact{}, err
		}
		return Artifact{}, boom
	})

	err := env.runner.Run(context.Background(), "detect", 42, work)
	if !errors.Is(err, boom) {
		t.Fatalf("expected work error, got %v", err)
	}
	doc, getErr := env.docs.Get(context.Background(), 42)
	if getErr != nil {
		t.Fatal(getErr)
	}
	rec, ok := doc.Stage("detect")
	if !ok || rec.State != asset.StateError || rec.ResultLocation != nil || rec.Error == "" {
		t.Fatalf("unexpected stage record %+v", rec)
	}
	if len(env.publisher.events) != 1 || env.publisher.events[0].State != asset.StateError {
		t.Fatalf("unexpected events %+v", env.publisher.events)
	}
	if len(env.routed) != 0 {
		t.Fatalf("failed stage must not be routed")
	}
	env.assertScratchEmpty(t)
}

func TestRunWorkPanicMarksError(t *testing.T) {
	env := newRunnerEnv(t)
	work := WorkFunc(func(_ context.Context, job Job) (Artifact, error) {
		if err := os.WriteFile(job.Scratch.Path("frame.raw"), []byte("x"), 0o644); err != nil {
			return Artifact{}, err
		}
		panic("decoder crashed")
	})

	err := env.runner.Run(context.Background(), "detect", 42, work)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	doc, getErr := env.docs.Get(context.Background(), 42)
	if getErr != nil {
		t.Fatal(getErr)
	}
	rec, ok := doc.Stage("detect")
	if !ok || rec.State != asset.StateError {
		t.Fatalf("expected error record after panic, got %+v", rec)
	}
	if !strings.Contains(rec.Error, "decoder crashed") {
		t.Fatalf("record error = %q, want panic text", rec.Error)
	}
	if len(env.publisher.events) != 1 || env.publisher.events[0].State != asset.StateError {
		t.Fatalf("unexpected events %+v", env.publisher.events)
	}
	env.assertScratchEmpty(t)
}

func TestRunMissingDocumentIsNotFound(t *testing.T) {
	env := newRunnerEnv(t)
	called := false
	err := env.runner.Run(context.Background(), "detect", 7, WorkFunc(func(context.Context, Job) (Artifact, error) {
		called = true
		return Artifact{}, nil
	}))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if called {
		t.Fatalf("work must not run for a missing document")
	}
}

func TestRunMissingMediaRecordsError(t *testing.T) {
	env := newRunnerEnv(t)
	doc, err := env.docs.Get(context.Background(), 42)
	if err != nil {
		t.Fatal(err)
	}
	doc.Location.Key = "project/x/split/missing.mp4"
	if err := env.docs.Put(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	err = env.runner.Run(context.Background(), "detect", 42, WorkFunc(func(context.Context, Job) (Artifact, error) {
		t.Fatal("work should not run without media")
		return Artifact{}, nil
	}))
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	doc, _ = env.docs.Get(context.Background(), 42)
	if rec, _ := doc.Stage("detect"); rec.State != asset.StateError {
		t.Fatalf("expected error state, got %+v", rec)
	}
	env.assertScratchEmpty(t)
}

func TestRunRerunReplacesStageRecord(t *testing.T) {
	env := newRunnerEnv(t)
	fail := WorkFunc(func(context.Context, Job) (Artifact, error) { return Artifact{}, errors.New("first try") })
	_ = env.runner.Run(context.Background(), "detect", 42, fail)

	ok := WorkFunc(func(_ context.Context, job Job) (Artifact, error) {
		out := job.Scratch.Path("out.json")
		return Artifact{Path: out, Extension: "json"}, os.WriteFile(out, []byte(`{}`), 0o644)
	})
	if err := env.runner.Run(context.Background(), "detect", 42, ok); err != nil {
		t.Fatal(err)
	}
	doc, _ := env.docs.Get(context.Background(), 42)
	count := 0
	for _, rec := range doc.ProcessSteps {
		if rec.Stage == "detect" {
			count++
		}
	}
	last, _ := doc.LastStage()
	if count != 1 || last.State != asset.StateDone || last.Error != "" {
		t.Fatalf("expected single done record, got %+v", doc.ProcessSteps)
	}
}

func TestRunReappliesChangeAfterConcurrentWrite(t *testing.T) {
	env := newRunnerEnv(t)
	work := WorkFunc(func(ctx context.Context, job Job) (Artifact, error) {
		// Another writer touches the document while the stage works.
		other, err := env.docs.Get(ctx, 42)
		if err != nil {
			return Artifact{}, err
		}
		other.AddChild(99)
		if err := env.docs.Put(ctx, other); err != nil {
			return Artifact{}, err
		}
		out := job.Scratch.Path("out.json")
		return Artifact{Path: out, Extension: "json"}, os.WriteFile(out, []byte(`{}`), 0o644)
	})
	if err := env.runner.Run(context.Background(), "detect", 42, work); err != nil {
		t.Fatalf("Run: %v", err)
	}
	doc, _ := env.docs.Get(context.Background(), 42)
	last, _ := doc.LastStage()
	if last.State != asset.StateDone || len(doc.ChildIDs) != 1 || doc.ChildIDs[0] != 99 {
		t.Fatalf("expected both writes to survive, got %+v", doc)
	}
}

type stubSource struct {
	frames int
	served int
}

func (s *stubSource) FPS() float64     { return 10 }
func (s *stubSource) CodecCode() int64 { return 1 }
func (s *stubSource) Close() error     { return nil }

func (s *stubSource) Next() (image.Image, error) {
	if s.served == s.frames {
		return nil, io.EOF
	}
	s.served++
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

type constantBackend struct{}

func (constantBackend) Infer(_ context.Context, imgs []image.Image) ([]detector.Prediction, error) {
	out := make([]detector.Prediction, len(imgs))
	for i := range out {
		out[i] = detector.Prediction{
			NumDetections: 1,
			Classes:       []float64{1},
			Boxes:         []detector.Box{{0, 0, 1, 1}},
			Scores:        []float64{0.9},
		}
	}
	return out, nil
}

func (constantBackend) Close() error { return nil }

func TestAnalysisWorkStoresMergedResult(t *testing.T) {
	env := newRunnerEnv(t)
	reg := detector.DefaultRegistry()
	human, err := reg.Build(config.Detector{ID: detector.HumanID}, detector.Deps{Backend: constantBackend{}})
	if err != nil {
		t.Fatal(err)
	}
	analyzer, err := analysis.New([]detector.Detector{human}, 0.5, nil)
	if err != nil {
		t.Fatal(err)
	}
	work := AnalysisWork{
		Analyzer: analyzer,
		Open: func(context.Context, string) (analysis.FrameSource, error) {
			return &stubSource{frames: 5}, nil
		},
	}
	if err := env.runner.Run(context.Background(), "detect", 42, work); err != nil {
		t.Fatalf("Run: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(env.objects, "b", "project", "x", "detect", "x_0.json"))
	if err != nil {
		t.Fatal(err)
	}
	var decoded analysis.Result
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded.Frames) != 3 || decoded.Frames[2].Index != 5 || decoded.Frames[0].Detections["Human"].Len() != 1 {
		t.Fatalf("unexpected result %+v", decoded)
	}
}

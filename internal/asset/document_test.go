package asset_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"derbyflow/internal/asset"
)

func TestBeginStageKeepsOneRecordPerStage(t *testing.T) {
	doc := &asset.Document{ID: 7}
	doc.AppendDone("timesplit")
	doc.BeginStage("human_detection")
	if err := doc.FailStage("human_detection", errors.New("boom")); err != nil {
		t.Fatalf("FailStage: %v", err)
	}
	doc.BeginStage("face_detection")
	doc.BeginStage("human_detection")

	if len(doc.ProcessSteps) != 3 {
		t.Fatalf("expected 3 records, got %+v", doc.ProcessSteps)
	}
	last, ok := doc.LastStage()
	if !ok || last.Stage != "human_detection" || last.State != asset.StateRunning {
		t.Fatalf("unexpected last record: %+v", last)
	}
	if last.Error != "" {
		t.Fatalf("expected reset record to drop previous error, got %q", last.Error)
	}
}

func TestCompleteAndFailStage(t *testing.T) {
	doc := &asset.Document{ID: 9}
	doc.BeginStage("detect")

	result := asset.Location{Bucket: "b", Key: "project/x/detect/x_0.json"}
	if err := doc.CompleteStage("detect", result); err != nil {
		t.Fatalf("CompleteStage: %v", err)
	}
	rec, _ := doc.Stage("detect")
	if rec.State != asset.StateDone || rec.ResultLocation == nil || *rec.ResultLocation != result {
		t.Fatalf("unexpected done record: %+v", rec)
	}

	if err := doc.FailStage("detect", errors.New("late failure")); err != nil {
		t.Fatalf("FailStage: %v", err)
	}
	rec, _ = doc.Stage("detect")
	if rec.State != asset.StateError || rec.ResultLocation != nil || rec.Error != "late failure" {
		t.Fatalf("unexpected error record: %+v", rec)
	}

	if err := doc.CompleteStage("missing", result); err == nil {
		t.Fatal("expected error for unknown stage")
	}
}

func TestCloneIsDeep(t *testing.T) {
	parent := int64(1)
	doc := &asset.Document{ID: 2, ParentID: &parent, ChildIDs: []int64{3}}
	doc.BeginStage("detect")
	_ = doc.CompleteStage("detect", asset.Location{Bucket: "b", Key: "k"})

	clone := doc.Clone()
	*clone.ParentID = 99
	clone.ChildIDs[0] = 42
	clone.ProcessSteps[0].ResultLocation.Key = "changed"

	if *doc.ParentID != 1 || doc.ChildIDs[0] != 3 || doc.ProcessSteps[0].ResultLocation.Key != "k" {
		t.Fatalf("clone shares state with original: %+v", doc)
	}
}

func TestDocumentJSONShape(t *testing.T) {
	doc := asset.Document{
		ID:       42,
		Location: asset.Location{Bucket: "b", Key: "project/x/split/x_0.mp4"},
		FPS:      25,
		ProcessSteps: []asset.StageRecord{
			{Stage: "timesplit", State: asset.StateDone},
		},
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["AssetId"] != float64(42) {
		t.Fatalf("expected AssetId key, got %v", raw)
	}
	steps := raw["process_steps"].([]any)
	step := steps[0].(map[string]any)
	if step["stage"] != "timesplit" || step["state"] != "done" {
		t.Fatalf("unexpected step shape: %v", step)
	}
	if _, ok := step["result_location"]; ok {
		t.Fatalf("expected result_location omitted for record without result: %v", step)
	}
}

func TestParseState(t *testing.T) {
	if s, ok := asset.ParseState(" DONE "); !ok || s != asset.StateDone {
		t.Fatalf("ParseState(DONE) = %q, %v", s, ok)
	}
	if _, ok := asset.ParseState("pending"); ok {
		t.Fatal("expected pending to be rejected")
	}
}

func TestIDAt(t *testing.T) {
	now := time.UnixMilli(asset.CustomEpochMillis + 1000)
	id := asset.IDAt(now, 5)
	if want := int64(1000<<6)*512 + 5; id != want {
		t.Fatalf("IDAt = %d, want %d", id, want)
	}
	if asset.IDAt(now, 517) != id {
		t.Fatal("expected jitter reduced modulo 512")
	}
	a, b := asset.IDAt(now, 0), asset.IDAt(now.Add(time.Millisecond), 0)
	if b <= a {
		t.Fatalf("expected ids to grow with time: %d then %d", a, b)
	}
	if asset.NewID() <= 0 {
		t.Fatal("expected positive id")
	}
}

package segment

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestSplitCollectsSegmentsInOrder(t *testing.T) {
	dir := t.TempDir()
	var gotArgs []string
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		gotArgs = args
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "SEGMENT_HELPER_DIR="+dir)
		return cmd
	}
	t.Cleanup(func() { commandContext = original })

	paths, err := Split(context.Background(), Request{Input: "in.mp4", OutputDir: dir, Name: "race", Extension: ".mp4", Seconds: 30})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	want := []string{"race_0.mp4", "race_1.mp4", "race_10.mp4"}
	if len(paths) != len(want) {
		t.Fatalf("expected %d segments, got %v", len(want), paths)
	}
	for i, name := range want {
		if paths[i] != filepath.Join(dir, name) {
			t.Fatalf("segment %d: got %s", i, paths[i])
		}
	}
	if gotArgs[len(gotArgs)-1] != filepath.Join(dir, "race_%d.mp4") {
		t.Fatalf("unexpected output pattern in %v", gotArgs)
	}
}

func TestSplitValidatesRequest(t *testing.T) {
	if _, err := Split(context.Background(), Request{OutputDir: "x", Seconds: 1}); err == nil {
		t.Fatal("expected error for missing input")
	}
	if _, err := Split(context.Background(), Request{Input: "x", OutputDir: "y"}); err == nil {
		t.Fatal("expected error for zero segment length")
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	dir := os.Getenv("SEGMENT_HELPER_DIR")
	for _, name := range []string{"race_10.mp4", "race_0.mp4", "race_1.mp4", "other.txt"} {
		_ = os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644)
	}
	os.Exit(0)
}

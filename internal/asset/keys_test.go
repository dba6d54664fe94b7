package asset_test

import (
	"testing"

	"derbyflow/internal/asset"
)

func TestResultKey(t *testing.T) {
	tests := []struct {
		key, stage, ext, want string
	}{
		{"project/x/split/x_0.mp4", "human_detection", "json", "project/x/human_detection/x_0.json"},
		{"project/a/b/split/clip.final.mov", "detect", ".json", "project/a/b/detect/clip.final.json"},
		{"split/clip.mp4", "detect", "json", "detect/clip.json"},
		{"clip.mp4", "detect", "json", "detect/clip.json"},
	}
	for _, tt := range tests {
		if got := asset.ResultKey(tt.key, tt.stage, tt.ext); got != tt.want {
			t.Errorf("ResultKey(%q, %q) = %q, want %q", tt.key, tt.stage, got, tt.want)
		}
	}
}

func TestSegmentKey(t *testing.T) {
	got := asset.SegmentKey("project/{video_name}/split", "game1", 3, "mp4")
	if got != "project/game1/split/game1_3.mp4" {
		t.Fatalf("SegmentKey = %q", got)
	}
}

func TestSplitName(t *testing.T) {
	name, ext := asset.SplitName("upload/game.one.mp4")
	if name != "game.one" || ext != "mp4" {
		t.Fatalf("SplitName = %q, %q", name, ext)
	}
	name, ext = asset.SplitName("upload/noext")
	if name != "noext" || ext != "" {
		t.Fatalf("SplitName = %q, %q", name, ext)
	}
}

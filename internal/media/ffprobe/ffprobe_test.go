package ffprobe

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"testing"
	"time"
)

const sampleJSON = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "codec_tag": "0x31637661", "codec_tag_string": "avc1",
     "width": 1920, "height": 1080, "r_frame_rate": "30000/1001", "avg_frame_rate": "25/1"},
    {"index": 1, "codec_name": "aac", "codec_type": "audio", "channels": 2}
  ],
  "format": {"duration": "61.5", "size": "1000", "bit_rate": "32000",
             "tags": {"creation_time": "2019-06-02T14:03:11.000000Z"}}
}`

func TestResultHelpers(t *testing.T) {
	result, err := Parse([]byte(sampleJSON))
	if err != nil {
		t.Fatal(err)
	}
	if result.VideoStreamCount() != 1 || result.AudioStreamCount() != 1 || !result.HasAudio() {
		t.Fatalf("unexpected stream counts")
	}
	if result.FPS() != 25 {
		t.Fatalf("expected avg frame rate 25, got %v", result.FPS())
	}
	if w, h := result.Dimensions(); w != 1920 || h != 1080 {
		t.Fatalf("unexpected dimensions %dx%d", w, h)
	}
	if result.DurationSeconds() != 61.5 || result.SizeBytes() != 1000 || result.BitRate() != 32000 {
		t.Fatalf("unexpected format helpers")
	}
	// 'a' | 'v'<<8 | 'c'<<16 | '1'<<24
	if result.CodecCode() != 0x31637661 {
		t.Fatalf("unexpected codec code %#x", result.CodecCode())
	}
	created, ok := result.CreationTime()
	if !ok || !created.Equal(time.Date(2019, 6, 2, 14, 3, 11, 0, time.UTC)) {
		t.Fatalf("unexpected creation time %v %v", created, ok)
	}
}

func TestCodecCodeFromTagString(t *testing.T) {
	result := Result{Streams: []Stream{{CodecType: "video", CodecTagName: "avc1"}}}
	if result.CodecCode() != 0x31637661 {
		t.Fatalf("unexpected codec code %#x", result.CodecCode())
	}
	result.Streams[0].CodecTagName = "[0][0][0][0]"
	if result.CodecCode() != 0 {
		t.Fatalf("expected unknown codec to be 0")
	}
}

func TestFPSFallsBackToRealRate(t *testing.T) {
	result := Result{Streams: []Stream{{CodecType: "video", AvgFrameRate: "0/0", RFrameRate: "30000/1001"}}}
	if math.Abs(result.FPS()-29.97) > 0.01 {
		t.Fatalf("unexpected fps %v", result.FPS())
	}
}

func TestResultHelpersHandleInvalidNumbers(t *testing.T) {
	result := Result{
		Format: Format{
			Duration: "bad",
			Size:     "-1",
			BitRate:  "nope",
		},
	}
	if !math.IsNaN(result.DurationSeconds()) {
		t.Fatalf("expected duration NaN, got %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 0 {
		t.Fatalf("expected size 0, got %d", result.SizeBytes())
	}
	if result.BitRate() != 0 {
		t.Fatalf("expected bitrate 0, got %d", result.BitRate())
	}
	if result.FPS() != 0 {
		t.Fatalf("expected fps 0 without video")
	}
	if _, ok := result.CreationTime(); ok {
		t.Fatalf("expected no creation time")
	}
}

func TestInspectRunsBinary(t *testing.T) {
	var gotArgs []string
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		gotArgs = args
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
		return cmd
	}
	t.Cleanup(func() { commandContext = original })

	result, err := Inspect(context.Background(), "", "/media/clip.mp4")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if gotArgs[len(gotArgs)-1] != "/media/clip.mp4" {
		t.Fatalf("expected path as last argument, got %v", gotArgs)
	}
	if result.FPS() != 25 || len(result.RawJSON()) == 0 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestInspectRequiresPath(t *testing.T) {
	if _, err := Inspect(context.Background(), "ffprobe", " "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	fmt.Fprint(os.Stdout, sampleJSON)
	os.Exit(0)
}

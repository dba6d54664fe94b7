// Package frames decodes video frames through an ffmpeg subprocess that
// writes raw RGB24 pixels to a pipe.
package frames

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
	"sync"

	"derbyflow/internal/media/ffprobe"
)

var commandContext = exec.CommandContext

// Reader yields decoded frames in presentation order.
type Reader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	buf    *bufio.Reader
	stderr *bytes.Buffer

	width     int
	height    int
	fps       float64
	codecCode int64

	eof       bool
	closeOnce sync.Once
	closeErr  error
}

// Open probes path and starts decoding it.
func Open(ctx context.Context, ffmpegBinary, ffprobeBinary, path string) (*Reader, error) {
	probe, err := ffprobe.Inspect(ctx, ffprobeBinary, path)
	if err != nil {
		return nil, err
	}
	width, height := probe.Dimensions()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("frames: %s has no decodable video stream", path)
	}
	return Start(ctx, ffmpegBinary, path, width, height, probe.FPS(), probe.CodecCode())
}

// Start launches the decoder for a stream whose geometry is already known.
func Start(ctx context.Context, ffmpegBinary, path string, width, height int, fps float64, codecCode int64) (*Reader, error) {
	ffmpegBinary = strings.TrimSpace(ffmpegBinary)
	if ffmpegBinary == "" {
		ffmpegBinary = "ffmpeg"
	}
	args := []string{"-nostdin", "-v", "error", "-i", path, "-map", "0:v:0", "-f", "rawvideo", "-pix_fmt", "rgb24", "-"}
	cmd := commandContext(ctx, ffmpegBinary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("frames: stdout pipe: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("frames: start %s: %w", ffmpegBinary, err)
	}
	return &Reader{
		cmd:       cmd,
		stdout:    stdout,
		buf:       bufio.NewReaderSize(stdout, width*height*3),
		stderr:    stderr,
		width:     width,
		height:    height,
		fps:       fps,
		codecCode: codecCode,
	}, nil
}

// FPS returns the native frame rate.
func (r *Reader) FPS() float64 { return r.fps }

// CodecCode returns the codec FOURCC as an integer.
func (r *Reader) CodecCode() int64 { return r.codecCode }

// Next returns the next frame, or io.EOF once the stream is exhausted.
func (r *Reader) Next() (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	row := make([]byte, r.width*3)
	for y := 0; y < r.height; y++ {
		if _, err := io.ReadFull(r.buf, row); err != nil {
			if y == 0 && errors.Is(err, io.EOF) {
				return nil, r.finish()
			}
			return nil, fmt.Errorf("frames: truncated frame: %w", err)
		}
		offset := y * img.Stride
		for x := 0; x < r.width; x++ {
			img.Pix[offset+x*4] = row[x*3]
			img.Pix[offset+x*4+1] = row[x*3+1]
			img.Pix[offset+x*4+2] = row[x*3+2]
			img.Pix[offset+x*4+3] = 0xff
		}
	}
	return img, nil
}

// finish waits for the decoder and returns io.EOF on a clean exit.
func (r *Reader) finish() error {
	r.eof = true
	if err := r.Close(); err != nil {
		return err
	}
	return io.EOF
}

// Close stops the decoder and reaps the process. A decoder still running
// when Close is called is killed and its exit status is not reported.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		if !r.eof {
			_ = r.cmd.Process.Kill()
			_ = r.cmd.Wait()
			return
		}
		if err := r.cmd.Wait(); err != nil {
			r.closeErr = fmt.Errorf("frames: decoder: %w: %s", err, strings.TrimSpace(r.stderr.String()))
		}
	})
	return r.closeErr
}

// Package segment cuts a video into fixed-length pieces with ffmpeg's
// segment muxer without re-encoding.
package segment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

var commandContext = exec.CommandContext

// Request describes one split operation.
type Request struct {
	Binary    string
	Input     string
	OutputDir string
	// Name and Extension form segment file names: <Name>_<i>.<Extension>.
	Name      string
	Extension string
	Seconds   int
}

// Split writes the segments into OutputDir and returns their paths ordered
// by index.
func Split(ctx context.Context, req Request) ([]string, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, errors.New("segment: input path required")
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		return nil, errors.New("segment: output directory required")
	}
	if req.Seconds <= 0 {
		return nil, fmt.Errorf("segment: invalid segment length %d", req.Seconds)
	}
	binary := strings.TrimSpace(req.Binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	ext := strings.TrimPrefix(req.Extension, ".")
	pattern := filepath.Join(req.OutputDir, req.Name+"_%d."+ext)
	args := []string{
		"-nostdin", "-v", "error", "-y",
		"-i", req.Input,
		"-map", "0",
		"-c", "copy",
		"-f", "segment",
		"-segment_time", strconv.Itoa(req.Seconds),
		"-reset_timestamps", "1",
		pattern,
	}
	cmd := commandContext(ctx, binary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("segment: %s: %w: %s", binary, err, strings.TrimSpace(string(output)))
	}
	return collect(req.OutputDir, req.Name, ext)
}

func collect(dir, name, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("segment: read output: %w", err)
	}
	type indexed struct {
		index int
		path  string
	}
	var found []indexed
	prefix := name + "_"
	suffix := "." + ext
	for _, entry := range entries {
		fileName := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(fileName, prefix) || !strings.HasSuffix(fileName, suffix) {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(fileName, prefix), suffix))
		if err != nil {
			continue
		}
		found = append(found, indexed{index: index, path: filepath.Join(dir, fileName)})
	}
	if len(found) == 0 {
		return nil, errors.New("segment: ffmpeg produced no segments")
	}
	slices.SortFunc(found, func(a, b indexed) int { return a.index - b.index })
	paths := make([]string, len(found))
	for i, f := range found {
		paths[i] = f.path
	}
	return paths, nil
}

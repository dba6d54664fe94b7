package asset

import (
	"path"
	"strconv"
	"strings"
)

// SplitName returns the base name of key without its extension and the
// extension without its dot.
func SplitName(key string) (name, ext string) {
	base := path.Base(key)
	if idx := strings.LastIndexByte(base, '.'); idx > 0 {
		return base[:idx], base[idx+1:]
	}
	return base, ""
}

// ResultKey derives where a stage stores its artifact for the media at key:
// two directory levels up from the media, under a directory named after the
// stage. "project/x/split/x_0.mp4" becomes "project/x/<stage>/x_0.<ext>".
func ResultKey(key, stage, ext string) string {
	name, _ := SplitName(key)
	root := path.Dir(path.Dir(key))
	file := name
	if ext != "" {
		file += "." + strings.TrimPrefix(ext, ".")
	}
	if root == "." || root == "/" {
		return path.Join(stage, file)
	}
	return path.Join(root, stage, file)
}

// SegmentKey renders the key for the index-th segment of video name, using
// prefix with its {video_name} placeholder filled.
func SegmentKey(prefix, name string, index int, ext string) string {
	dir := strings.ReplaceAll(prefix, "{video_name}", name)
	file := name + "_" + strconv.Itoa(index)
	if ext != "" {
		file += "." + ext
	}
	return path.Join(dir, file)
}

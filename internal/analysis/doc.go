// Package analysis runs a set of detectors over a subsampled video stream in
// batches and merges their per-frame output.
//
// Frames are kept when (index-1) mod keepEvery == 0, with 1-based indices and
// keepEvery = round(1/frameRatio). Batches hold at most the smallest
// BatchMaxSize of the configured detectors. Output records are ordered by
// frame index.
package analysis

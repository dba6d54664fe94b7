// Package split ingests an uploaded video: it records the upload as a parent
// asset, cuts it into fixed-length segments, stores each segment under the
// split prefix, and records every segment as a child asset whose time split
// stage is already done. Children live under the pipeline root prefix so the
// router picks them up.
package split

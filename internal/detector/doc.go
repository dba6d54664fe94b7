// Package detector defines the Detector capability used by frame analysis,
// the registry that maps configured identifiers to constructors, and the
// built-in human and face detectors backed by an HTTP inference server.
//
// Boxes are [top, left, bottom, right] in image-fraction coordinates with the
// origin at the top-left corner. Each detector filters its own output by a
// minimum score before returning it.
package detector

// Package stage runs one pipeline stage for one asset: it marks the stage
// running on the asset document, stages the media into a scratch directory,
// invokes the stage's work, stores the artifact next to the media, and
// records the outcome. Scratch space is removed on every exit path.
//
// Document writes use the store's version check. When a write loses a race
// the runner reloads the document and reapplies its change.
package stage

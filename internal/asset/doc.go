// Package asset defines the per-asset progress document shared by every
// pipeline stage, its stage history records, and the helpers that derive
// identifiers and result keys from it.
//
// A Document is created once at ingestion, mutated by each stage runner
// that processes it, and never deleted. Its process steps hold at most one
// record per stage name, ordered by most recent execution.
package asset

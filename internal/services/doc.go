// Package services defines shared utilities consumed by the stage runner,
// router, and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp asset IDs, stage names, queue names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     (configuration, not found, transient, conflict) consistently.
//
// Use these helpers when wiring new stage logic so failure reporting stays
// uniform across the pipeline.
package services

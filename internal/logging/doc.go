// Package logging assembles structured slog loggers and formatting helpers used
// across derbyflow workers and tools.
//
// It owns the console and JSON handlers, rotating file output, and exposes
// context-aware helpers so stage code can automatically tag log lines with
// asset IDs, stages, queues, and correlation IDs. The package also provides a
// no-op logger for tests and wiring code that cannot fail.
package logging

// Package logging assembles structured slog loggers and formatting helpers used
// across relay services.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so coordinator and upload code can tag log
// lines with session, segment and upload identifiers. The package also provides
// a no-op logger for tests and wiring code that cannot fail.
package logging

// Package daemon runs the long-lived relayd process.
//
// It holds the single-instance flock for a data directory, opens the segment
// store, and owns the upload coordinator, the retention loop, and the port
// server for their whole lifetime. The IPC layer calls into the daemon for
// queue maintenance, segment ingestion, replay lookups, and garbage collection.
//
// Keep orchestration here. Upload, replay, and retention semantics live in
// their own packages; the daemon only decides when they start and stop.
package daemon

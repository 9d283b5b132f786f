// Package main hosts the relay CLI entrypoint and command graph.
//
// Most commands are thin IPC calls against relayd: pending-record inspection,
// segment intake, drain triggers, replay window lookups and retention sweeps.
// `watch` attaches to the coordinator over the port socket instead, and
// `build upload` runs the build upload state machine in-process because it
// only needs the remote build API and object storage.
//
// Keep this package lean: new behaviour belongs in the internal packages and
// is surfaced here through commands or flags.
package main

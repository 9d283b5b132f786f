// Package ipc exposes the daemon over JSON-RPC on a Unix domain socket and
// ships the matching client used by the CLI.
//
// It owns the socket lifecycle and the request/response DTOs. Segment bytes
// travel by path: the CLI resolves the file and the daemon reads it, so large
// blobs never cross the RPC codec.
package ipc

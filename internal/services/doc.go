// Package services defines shared utilities consumed by the coordinator, the
// build upload pipeline and the remote API clients.
//
// Key responsibilities:
//   - Context helpers that stamp session, segment and upload identifiers plus
//     correlation IDs for logging.
//   - Structured error markers and the Wrap helper that let callers decide
//     whether a failure is worth retrying.
package services

// Package preflight provides readiness checks for the filesystem paths and
// remote services relay depends on.
//
// These checks run in three contexts:
//   - blobstore.Select checks the segment directory once at startup to pick
//     the primary tier.
//   - The daemon includes RunAll results in its status snapshot.
//   - The CLI "relay status" command renders the results as a table.
package preflight

// Package blobstore persists raw segment bytes in tiered local backends.
//
// The filesystem backend is the primary tier and lays blobs out as
// <root>/<session>/<segment>.bin, written atomically. The bbolt backend is the
// fallback tier used when the segment directory is unusable or short on space.
// Select checks the platform once and returns a Tiered backend; callers depend
// only on the Backend interface.
package blobstore

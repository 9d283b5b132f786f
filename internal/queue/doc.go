// Package queue persists pending upload records and segment metadata in SQLite.
//
// Pending records are the durable work list the coordinator drains; they are
// deleted only when a segment's upload pipeline fully succeeds. Segment meta
// rows outlive them and carry the upload outcome, remote identifiers and the
// eviction stamp written by retention.
//
// Schema changes bump the version in schema.go; users clear the database to
// adopt the new schema.
package queue

// Package models defines the trait-level data-store contracts the broker
// core consumes: one interface per entity (Unit, Application, Network,
// Device, DeviceRoute, NetworkRoute, DlDataBuffer) mirroring
// sylvia-iot-broker's Rust model traits field-for-field. Only
// broker/models/memory implements them in this repository; a SQL or
// document-store implementation is an external collaborator.
package models

import "time"

// Info is the free-form per-entity metadata bag (Rust's bson::Document /
// serde_json::Value equivalent).
type Info map[string]any

// SortOrder selects ascending or descending order for one SortCond.
type SortOrder int

const (
	Asc SortOrder = iota
	Desc
)

// Cursor is an opaque pagination token returned by List and accepted back in
// a later call. The memory implementation encodes it as a decimal offset;
// a real store is free to use its own cursor encoding as long as it
// round-trips through this string.
type Cursor string

// ListOptions bounds one page of a List call.
type ListOptions struct {
	// Limit caps the number of items returned. Zero means the
	// implementation's own default page size.
	Limit int
	// Cursor resumes a previous List call. Nil starts from the beginning.
	Cursor *Cursor
}

// truncateToMillis mirrors the Rust models' millisecond-resolution
// timestamps so round-tripping through a real store (which only keeps
// millisecond precision) never produces a spurious diff.
func truncateToMillis(t time.Time) time.Time {
	return t.Truncate(time.Millisecond)
}

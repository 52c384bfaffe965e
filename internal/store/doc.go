// Package store persists file and group state in SQLite and exposes the
// operations the planner drives: due-entry leasing, transactional result
// application, terminal marking, group recomputation, and retention GC.
//
// The database is the single source of truth for scheduling. Every observable
// state change goes through Apply in one transaction, so a crash between an
// adapter call and its Apply leaves the record exactly as it was. Timestamps
// are stored as Unix seconds; NeverTimestamp is the far-future sentinel that
// keeps terminal records out of due queries.
//
// Schema changes bump schemaVersion in schema.go.
package store

// Package machine holds the pure transition function over the two status
// axes (integrity, processed). Step never performs I/O: it maps the current
// entry and one observed event onto an updated entry plus side-effect flags
// (group recomputation, companion creation) the planner persists atomically.
//
// Illegal transitions return ErrIllegalTransition; callers must not persist
// the decision in that case.
package machine

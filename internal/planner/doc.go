// Package planner drives the state core. One loop picks due entries under a
// lease, dispatches each to a handler that makes at most one adapter call,
// feeds the observed event through the state machine, and persists the
// decision transactionally. Between ticks with nothing due it sleeps until
// the earliest scheduled wake or an external wake signal; it never busy-polls.
package planner

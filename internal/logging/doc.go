// Package logging wires log/slog for the stereowatch daemon and CLI.
//
// Two handler formats are supported: a compact console format
// (timestamp LEVEL component: message key=value ...) and standard slog JSON.
// Context carriers attach the current file path and planner handler name so
// adapter code logs consistent fields without threading them explicitly.
package logging

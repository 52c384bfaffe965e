package planner

import (
	"context"

	"stereowatch/internal/media"
	"stereowatch/internal/media/convert"
	"stereowatch/internal/media/integrity"
	"stereowatch/internal/store"
)

// IntegrityChecker is the decode-probe contract. Implementations must be
// idempotent per path and safe for concurrent use on different paths.
type IntegrityChecker interface {
	Check(ctx context.Context, path string, mode store.IntegrityMode) (integrity.Result, error)
}

// AudioProbe returns the audio track descriptors for a file. Read-only.
type AudioProbe interface {
	Tracks(ctx context.Context, path string) ([]media.Track, error)
}

// Converter produces the stereo companion. Must tolerate re-invocation on the
// same input; the planner retries after a timeout.
type Converter interface {
	Convert(ctx context.Context, path string) (convert.Result, error)
}

// Adapters bundles the pluggable workers the planner dispatches to.
type Adapters struct {
	Integrity IntegrityChecker
	Probe     AudioProbe
	Converter Converter
}

// Package integrity implements the reference decode-probe adapter. A quick
// check reads metadata and decodes the head of the file; the full check
// decodes end to end. Quick mode escalates a failed head decode to a full
// decode before reporting. A file whose container metadata ffprobe cannot
// read is reported INCOMPLETE in either mode without any decode attempt.
package integrity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"stereowatch/internal/media/ffprobe"
	"stereowatch/internal/store"
)

// Outcome is the verdict kind reported to the planner.
type Outcome string

const (
	OutcomeComplete   Outcome = "complete"
	OutcomeIncomplete Outcome = "incomplete"
	OutcomeError      Outcome = "error"
)

// Result is one integrity verdict with its readability score.
type Result struct {
	Outcome Outcome
	// Score is a 0..1 readability score: 1.0 for a clean decode, 0.5 for a
	// failed decode of a file with a known duration, 0.0 when the metadata is
	// unreadable, and nil otherwise. It is not a measured duration ratio.
	Score *float64
	// RetryAfter lets the adapter suggest a wait before the next attempt;
	// zero defers to the caller's backoff policy.
	RetryAfter time.Duration
	Detail     string
}

// Checker probes whether a media file decodes cleanly. Idempotent at the
// path level and safe to call concurrently on different paths.
type Checker struct {
	FFprobeBinary string
	FFmpegBinary  string
}

// headProbeSeconds bounds the quick-mode decode window.
const headProbeSeconds = "10"

// Check verifies path in the given mode.
func (c Checker) Check(ctx context.Context, path string, mode store.IntegrityMode) (Result, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{Outcome: OutcomeError, Detail: "file does not exist"}, nil
		}
		return Result{}, fmt.Errorf("stat %q: %w", path, err)
	}

	meta, err := ffprobe.Inspect(ctx, c.FFprobeBinary, path)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		score := 0.0
		return Result{Outcome: OutcomeIncomplete, Score: &score, Detail: "container metadata unreadable"}, nil
	}
	if !meta.HasVideoStream() {
		return Result{Outcome: OutcomeError, Detail: "no video stream"}, nil
	}
	expected := meta.DurationSeconds()

	if mode == store.ModeQuick {
		ok, detail, err := c.decode(ctx, path, true)
		if err != nil {
			return Result{}, err
		}
		if ok {
			score := 1.0
			return Result{Outcome: OutcomeComplete, Score: &score}, nil
		}
		// Escalate: confirm the quick failure with a full decode before
		// reporting a negative.
		return c.fullDecodeResult(ctx, path, expected, detail)
	}

	return c.fullDecodeResult(ctx, path, expected, "")
}

func (c Checker) fullDecodeResult(ctx context.Context, path string, expected float64, quickDetail string) (Result, error) {
	ok, detail, err := c.decode(ctx, path, false)
	if err != nil {
		return Result{}, err
	}
	if ok {
		score := 1.0
		return Result{Outcome: OutcomeComplete, Score: &score}, nil
	}
	if quickDetail != "" {
		detail = quickDetail + "; " + detail
	}
	var score *float64
	if expected > 0 {
		// A failed decode gives no precise readable duration; report the
		// conservative midpoint the way partial reads are scored.
		v := 0.5
		score = &v
	}
	return Result{Outcome: OutcomeIncomplete, Score: score, Detail: detail}, nil
}

// decode runs ffmpeg into the null muxer. head limits the window to the first
// few seconds for the quick path.
func (c Checker) decode(ctx context.Context, path string, head bool) (bool, string, error) {
	binary := strings.TrimSpace(c.FFmpegBinary)
	if binary == "" {
		binary = "ffmpeg"
	}
	args := []string{"-v", "error", "-i", path}
	if head {
		args = append(args, "-t", headProbeSeconds)
	}
	args = append(args, "-f", "null", "-")

	cmd := exec.CommandContext(ctx, binary, args...)
	output, err := cmd.CombinedOutput()
	if err == nil && len(strings.TrimSpace(string(output))) == 0 {
		return true, "", nil
	}
	if ctx.Err() != nil {
		return false, "", ctx.Err()
	}
	detail := strings.TrimSpace(string(output))
	if detail == "" && err != nil {
		detail = err.Error()
	}
	if len(detail) > 200 {
		detail = detail[:200]
	}
	return false, detail, nil
}

// Package convert implements the stereo-companion converter adapter around
// ffmpeg. The downmix keeps the video and subtitle streams untouched and adds
// a two-channel mix of the chosen surround track.
package convert

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"stereowatch/internal/fileutil"
	"stereowatch/internal/media"
	"stereowatch/internal/media/ffprobe"
)

// Center-weighted downmix recommended for dialogue-heavy surround sources.
const downmixFormula = "pan=stereo|FL=1.414*FC+0.707*FL+0.5*BL+0.5*SL+0.25*LFE+0.125*BR|FR=1.414*FC+0.707*FR+0.5*BR+0.5*SR+0.25*LFE+0.125*BL"

// Outcome is the converter's result kind.
type Outcome string

const (
	OutcomeConverted Outcome = "converted"
	OutcomeFailed    Outcome = "failed"
)

// Result reports one conversion attempt.
type Result struct {
	Outcome       Outcome
	CompanionPath string
	Detail        string
}

// Converter produces a stereo companion file next to the original. Re-invoking
// on the same input is safe: output goes to a temp name and an existing
// finished companion short-circuits the call.
type Converter struct {
	FFmpegBinary  string
	FFprobeBinary string
	Bitrate       string
	Languages     []string
}

// Convert downmixes the best surround track of path into a stereo companion.
func (c Converter) Convert(ctx context.Context, path string) (Result, error) {
	companion := fileutil.CompanionPath(path)

	if _, err := os.Stat(companion); err == nil {
		// A previous attempt finished after its lease expired.
		return Result{Outcome: OutcomeConverted, CompanionPath: companion}, nil
	}

	probed, err := ffprobe.Inspect(ctx, c.FFprobeBinary, path)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{Outcome: OutcomeFailed, Detail: "probe source tracks: " + err.Error()}, nil
	}

	source, ok := pickSurroundTrack(probed.AudioTracks(), c.Languages)
	if !ok {
		return Result{Outcome: OutcomeFailed, Detail: "no surround track to downmix"}, nil
	}

	binary := strings.TrimSpace(c.FFmpegBinary)
	if binary == "" {
		binary = "ffmpeg"
	}
	bitrate := strings.TrimSpace(c.Bitrate)
	if bitrate == "" {
		bitrate = "192k"
	}

	tmp := companion + ".tmp"
	args := []string{
		"-y",
		"-v", "error",
		"-i", path,
		"-map", "0:v",
		"-c:v", "copy",
		"-map", "0:" + strconv.Itoa(source.Index),
		"-c:a:0", "aac",
		"-ac:a:0", "2",
		"-b:a:0", bitrate,
		"-filter:a:0", downmixFormula,
		"-map", "0:s?",
		"-c:s", "copy",
		"-map_metadata", "0",
		"-metadata:s:a:0", "language=" + source.Language,
		"-metadata:s:a:0", "title=Stereo",
		"-f", "matroska",
		tmp,
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(tmp)
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		detail := strings.TrimSpace(string(output))
		if detail == "" {
			detail = err.Error()
		}
		if len(detail) > 200 {
			detail = detail[:200]
		}
		return Result{Outcome: OutcomeFailed, Detail: detail}, nil
	}

	if err := os.Rename(tmp, companion); err != nil {
		_ = os.Remove(tmp)
		return Result{}, fmt.Errorf("finalize companion: %w", err)
	}
	return Result{Outcome: OutcomeConverted, CompanionPath: companion}, nil
}

// pickSurroundTrack chooses the surround source: most channels wins, default
// disposition breaks ties.
func pickSurroundTrack(tracks []media.Track, languages []string) (media.Track, bool) {
	_, surround := media.SelectTracks(tracks, languages)
	if len(surround) == 0 {
		return media.Track{}, false
	}
	sort.SliceStable(surround, func(i, j int) bool {
		if surround[i].Channels != surround[j].Channels {
			return surround[i].Channels > surround[j].Channels
		}
		return surround[i].IsDefault && !surround[j].IsDefault
	})
	return surround[0], true
}

// Package ffprobe shells out to ffprobe and parses its JSON output. It backs
// both the audio-track probe and the metadata half of the integrity checker.
package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"stereowatch/internal/media"
)

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index       int               `json:"index"`
	CodecName   string            `json:"codec_name"`
	CodecType   string            `json:"codec_type"`
	Duration    string            `json:"duration"`
	Channels    int               `json:"channels"`
	Tags        map[string]string `json:"tags"`
	Disposition struct {
		Default int `json:"default"`
	} `json:"disposition"`
}

// Format captures container-level metadata.
type Format struct {
	Filename   string `json:"filename"`
	NBStreams  int    `json:"nb_streams"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	FormatName string `json:"format_name"`
}

// Inspect executes ffprobe against path and decodes the JSON response.
func Inspect(ctx context.Context, binary, path string) (Result, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner",
		"-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("ffprobe inspect: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Result{}, fmt.Errorf("ffprobe inspect: %w", err)
	}

	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// DurationSeconds returns the container duration in seconds, or 0 when
// unavailable.
func (r Result) DurationSeconds() float64 {
	if v, err := strconv.ParseFloat(strings.TrimSpace(r.Format.Duration), 64); err == nil && v > 0 {
		return v
	}
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "video") {
			if v, err := strconv.ParseFloat(strings.TrimSpace(stream.Duration), 64); err == nil && v > 0 {
				return v
			}
		}
	}
	return 0
}

// HasVideoStream reports whether the container holds at least one video stream.
func (r Result) HasVideoStream() bool {
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "video") {
			return true
		}
	}
	return false
}

// AudioTracks converts the audio streams into the shared track model.
func (r Result) AudioTracks() []media.Track {
	var tracks []media.Track
	for _, stream := range r.Streams {
		if !strings.EqualFold(stream.CodecType, "audio") {
			continue
		}
		track := media.Track{
			Index:     stream.Index,
			Codec:     stream.CodecName,
			Channels:  stream.Channels,
			IsDefault: stream.Disposition.Default != 0,
		}
		if stream.Tags != nil {
			track.Language = stream.Tags["language"]
			track.Title = stream.Tags["title"]
		}
		tracks = append(tracks, track)
	}
	return tracks
}

// Probe is the audio-probe adapter: it returns the audio track descriptors
// for a file. Read-only and safe to call concurrently on different paths.
type Probe struct {
	Binary string
}

// Tracks inspects path and returns its audio tracks.
func (p Probe) Tracks(ctx context.Context, path string) ([]media.Track, error) {
	result, err := Inspect(ctx, p.Binary, path)
	if err != nil {
		return nil, err
	}
	return result.AudioTracks(), nil
}

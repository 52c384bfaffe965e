package testsupport

import (
	"context"
	"sync"

	"stereowatch/internal/fileutil"
	"stereowatch/internal/media"
	"stereowatch/internal/media/convert"
	"stereowatch/internal/media/integrity"
	"stereowatch/internal/store"
)

// StubIntegrity returns scripted verdicts per path and records invocations.
type StubIntegrity struct {
	mu      sync.Mutex
	results map[string][]integrity.Result
	Default integrity.Result
	calls   map[string]int
}

// NewStubIntegrity builds a stub whose default verdict is Complete.
func NewStubIntegrity() *StubIntegrity {
	score := 1.0
	return &StubIntegrity{
		results: make(map[string][]integrity.Result),
		calls:   make(map[string]int),
		Default: integrity.Result{Outcome: integrity.OutcomeComplete, Score: &score},
	}
}

// Script queues verdicts for a path; once drained the Default applies.
func (s *StubIntegrity) Script(path string, results ...integrity.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[path] = append(s.results[path], results...)
}

// Check implements the IntegrityChecker contract.
func (s *StubIntegrity) Check(ctx context.Context, path string, mode store.IntegrityMode) (integrity.Result, error) {
	if err := ctx.Err(); err != nil {
		return integrity.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[path]++
	queue := s.results[path]
	if len(queue) == 0 {
		return s.Default, nil
	}
	next := queue[0]
	s.results[path] = queue[1:]
	return next, nil
}

// Calls reports how many times Check ran for path.
func (s *StubIntegrity) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// StubProbe returns scripted audio tracks per path.
type StubProbe struct {
	mu     sync.Mutex
	tracks map[string][]media.Track
	errs   map[string]error
}

// NewStubProbe builds an empty probe stub.
func NewStubProbe() *StubProbe {
	return &StubProbe{
		tracks: make(map[string][]media.Track),
		errs:   make(map[string]error),
	}
}

// SetTracks scripts the track list for path.
func (s *StubProbe) SetTracks(path string, tracks ...media.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks[path] = tracks
}

// SetError scripts a probe failure for path.
func (s *StubProbe) SetError(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[path] = err
}

// Tracks implements the AudioProbe contract.
func (s *StubProbe) Tracks(ctx context.Context, path string) ([]media.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[path]; err != nil {
		return nil, err
	}
	return s.tracks[path], nil
}

// EnglishStereoTrack is a ready-made EN 2.0 descriptor.
func EnglishStereoTrack() media.Track {
	return media.Track{Index: 1, Codec: "aac", Language: "eng", Channels: 2}
}

// EnglishSurroundTrack is a ready-made EN 5.1 descriptor.
func EnglishSurroundTrack() media.Track {
	return media.Track{Index: 1, Codec: "dts", Language: "eng", Channels: 6, IsDefault: true}
}

// StubConverter produces companions without running ffmpeg.
type StubConverter struct {
	mu sync.Mutex
	// FailuresBeforeSuccess makes the first N calls per path fail.
	FailuresBeforeSuccess int
	// WriteCompanion creates the companion file on disk when true.
	WriteCompanion bool
	CompanionSize  int64
	calls          map[string]int
}

// NewStubConverter builds a converter stub that succeeds immediately and
// writes a small companion file.
func NewStubConverter() *StubConverter {
	return &StubConverter{WriteCompanion: true, CompanionSize: 512, calls: make(map[string]int)}
}

// Convert implements the Converter contract.
func (s *StubConverter) Convert(ctx context.Context, path string) (convert.Result, error) {
	if err := ctx.Err(); err != nil {
		return convert.Result{}, err
	}
	s.mu.Lock()
	s.calls[path]++
	count := s.calls[path]
	s.mu.Unlock()

	if count <= s.FailuresBeforeSuccess {
		return convert.Result{Outcome: convert.OutcomeFailed, Detail: "scripted failure"}, nil
	}

	companion := fileutil.CompanionPath(path)
	if s.WriteCompanion {
		if err := writeBytes(companion, s.CompanionSize); err != nil {
			return convert.Result{}, err
		}
	}
	return convert.Result{Outcome: convert.OutcomeConverted, CompanionPath: companion}, nil
}

// Calls reports how many times Convert ran for path.
func (s *StubConverter) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

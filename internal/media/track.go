// Package media holds the audio track model and language matching shared by
// the probe, converter, and planner.
package media

import (
	"strings"

	"golang.org/x/text/language"
)

// Track describes one audio stream in a container.
type Track struct {
	Index     int
	Codec     string
	Language  string
	Title     string
	Channels  int
	IsDefault bool
}

// IsStereo reports whether the track is a two-channel mix.
func (t Track) IsStereo() bool { return t.Channels == 2 }

// IsSurround reports whether the track carries more than two channels.
func (t Track) IsSurround() bool { return t.Channels > 2 }

// MatchesLanguage reports whether the track's language tag or title matches
// any of the wanted languages. Tags are canonicalized so "eng", "en", and
// "en-US" all match a wanted "en"; container tags that fail to parse fall
// back to a title substring match the way release naming usually encodes it.
func (t Track) MatchesLanguage(wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	trackBase, trackOK := baseLanguage(t.Language)
	title := strings.ToLower(t.Title)

	for _, want := range wanted {
		wantBase, wantOK := baseLanguage(want)
		if trackOK && wantOK && trackBase == wantBase {
			return true
		}
		if !trackOK && want != "" && title != "" {
			if strings.Contains(title, strings.ToLower(want)) || strings.Contains(title, languageName(want)) {
				return true
			}
		}
	}
	return false
}

func baseLanguage(tag string) (string, bool) {
	tag = strings.TrimSpace(tag)
	if tag == "" || strings.EqualFold(tag, "und") {
		return "", false
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return "", false
	}
	base, _ := parsed.Base()
	return base.String(), true
}

func languageName(code string) string {
	// Titles rarely carry tags; the common case worth matching by name.
	if base, ok := baseLanguage(code); ok && base == "en" {
		return "english"
	}
	return strings.ToLower(code)
}

// SelectTracks partitions tracks into the wanted-language stereo and surround
// candidates used by the conversion decision.
func SelectTracks(tracks []Track, wanted []string) (stereo, surround []Track) {
	for _, track := range tracks {
		if !track.MatchesLanguage(wanted) {
			continue
		}
		switch {
		case track.IsStereo():
			stereo = append(stereo, track)
		case track.IsSurround():
			surround = append(surround, track)
		}
	}
	return stereo, surround
}

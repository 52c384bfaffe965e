package fileutil

import "testing"

func TestGroupIDPairsOriginalWithCompanion(t *testing.T) {
	originalID, originalStereo := GroupID("/media/show/movie.mkv")
	companionID, companionStereo := GroupID("/media/show/movie.stereo.mkv")

	if originalStereo {
		t.Error("original flagged as stereo")
	}
	if !companionStereo {
		t.Error("companion not flagged as stereo")
	}
	if originalID != companionID {
		t.Errorf("ids differ: %q != %q", originalID, companionID)
	}
}

func TestGroupIDDisambiguatesDirectories(t *testing.T) {
	a, _ := GroupID("/media/a/movie.mkv")
	b, _ := GroupID("/media/b/movie.mkv")
	if a == b {
		t.Error("same basename in different directories must not collide")
	}
}

func TestCompanionPath(t *testing.T) {
	got := CompanionPath("/media/show/movie.mkv")
	want := "/media/show/movie.stereo.mkv"
	if got != want {
		t.Errorf("CompanionPath = %q, want %q", got, want)
	}
}

func TestIsVideoFile(t *testing.T) {
	exts := []string{".mkv", ".mp4"}
	tests := []struct {
		path string
		want bool
	}{
		{"/m/a.mkv", true},
		{"/m/a.MKV", true},
		{"/m/a.mp4", true},
		{"/m/a.part", false},
		{"/m/a.srt", false},
	}
	for _, tc := range tests {
		if got := IsVideoFile(tc.path, exts); got != tc.want {
			t.Errorf("IsVideoFile(%q) = %v", tc.path, got)
		}
	}
}

func TestIsStereoCompanion(t *testing.T) {
	if !IsStereoCompanion("/m/a.stereo.mkv") {
		t.Error("companion not detected")
	}
	if IsStereoCompanion("/m/a.mkv") {
		t.Error("original detected as companion")
	}
}

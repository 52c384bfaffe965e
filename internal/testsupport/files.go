package testsupport

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WriteVideoFile creates a file of the given size under dir and returns its
// path. The mtime is left as written; Backdate rewinds it when a test needs
// an older one.
func WriteVideoFile(t testing.TB, dir, name string, size int64) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// GrowFile appends bytes to an existing fixture file.
func GrowFile(t testing.TB, path string, extra int64) {
	t.Helper()

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer file.Close()
	if _, err := file.Write(make([]byte, extra)); err != nil {
		t.Fatalf("grow %s: %v", path, err)
	}
}

func writeBytes(path string, size int64) error {
	return os.WriteFile(path, make([]byte, size), 0o644)
}

// Backdate rewinds a file's mtime by the given duration.
func Backdate(t testing.TB, path string, by time.Duration) {
	t.Helper()

	past := time.Now().Add(-by)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

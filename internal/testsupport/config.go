// Package testsupport provides shared fixtures: temp-dir configs, store
// helpers, media file fakes, and scripted adapter stubs.
package testsupport

import (
	"path/filepath"
	"testing"

	"stereowatch/internal/config"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DBPath = filepath.Join(base, "state.db")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.WatchDirs = []string{filepath.Join(base, "watch")}
	cfg.Scheduler.MaintenanceSec = 0
	cfg.Stability.StableWaitSec = 10
	cfg.Stability.SizePollSec = 5

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithDeleteOriginal flips the group completion policy.
func WithDeleteOriginal(enabled bool) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Convert.DeleteOriginal = enabled
	}
}

// WithStableWait overrides the stability window in seconds.
func WithStableWait(seconds int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Stability.StableWaitSec = seconds
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DBPath)
}

package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if c.Paths.DBPath, err = expandPath(c.Paths.DBPath); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	for i, dir := range c.Paths.WatchDirs {
		if c.Paths.WatchDirs[i], err = expandPath(dir); err != nil {
			return err
		}
	}

	exts := make([]string, 0, len(c.Discovery.VideoExtensions))
	for _, ext := range c.Discovery.VideoExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	c.Discovery.VideoExtensions = exts

	langs := make([]string, 0, len(c.Audio.Languages))
	for _, lang := range c.Audio.Languages {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if lang != "" {
			langs = append(langs, lang)
		}
	}
	c.Audio.Languages = langs
	return nil
}

// Validate checks ranges and required fields after normalization.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.DBPath) == "" {
		return fmt.Errorf("paths.db_path is required")
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be positive, got %d", c.Scheduler.BatchSize)
	}
	if c.Scheduler.Parallelism <= 0 {
		return fmt.Errorf("scheduler.parallelism must be positive, got %d", c.Scheduler.Parallelism)
	}
	if c.Scheduler.LeaseTTLSec <= 0 {
		return fmt.Errorf("scheduler.lease_ttl_sec must be positive, got %d", c.Scheduler.LeaseTTLSec)
	}
	if c.Stability.StableWaitSec < 0 {
		return fmt.Errorf("stability.stable_wait_sec must be non-negative, got %d", c.Stability.StableWaitSec)
	}
	if c.Stability.SizePollSec <= 0 {
		return fmt.Errorf("stability.size_poll_sec must be positive, got %d", c.Stability.SizePollSec)
	}
	if c.Integrity.BackoffStepSec <= 0 {
		return fmt.Errorf("integrity.backoff_step_sec must be positive, got %d", c.Integrity.BackoffStepSec)
	}
	if c.Integrity.BackoffMaxSec < c.Integrity.BackoffStepSec {
		return fmt.Errorf("integrity.backoff_max_sec (%d) must be >= backoff_step_sec (%d)",
			c.Integrity.BackoffMaxSec, c.Integrity.BackoffStepSec)
	}
	if c.Integrity.MaxAttempts <= 0 {
		return fmt.Errorf("integrity.max_attempts must be positive, got %d", c.Integrity.MaxAttempts)
	}
	if c.Retention.KeepProcessedDays < 0 {
		return fmt.Errorf("retention.keep_processed_days must be non-negative, got %d", c.Retention.KeepProcessedDays)
	}
	if len(c.Discovery.VideoExtensions) == 0 {
		return fmt.Errorf("discovery.video_extensions must not be empty")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains filesystem locations used by the daemon.
type Paths struct {
	DBPath    string   `toml:"db_path"`
	LogDir    string   `toml:"log_dir"`
	WatchDirs []string `toml:"watch_dirs"`
}

// Scheduler contains planner batching and concurrency settings.
type Scheduler struct {
	BatchSize        int `toml:"batch_size"`
	Parallelism      int `toml:"parallelism"`
	MinSleepSec      int `toml:"min_sleep_sec"`
	LeaseTTLSec      int `toml:"lease_ttl_sec"`
	MaintenanceSec   int `toml:"maintenance_interval_sec"`
	ShutdownGraceSec int `toml:"shutdown_grace_sec"`
}

// Stability controls the size-stabilization gate before integrity checks.
type Stability struct {
	SizePollSec   int `toml:"size_poll_sec"`
	StableWaitSec int `toml:"stable_wait_sec"`
}

// Integrity configures the decode-probe adapter.
type Integrity struct {
	QuickMode      bool   `toml:"quick_mode"`
	TimeoutSec     int    `toml:"timeout_sec"`
	MaxAttempts    int    `toml:"max_attempts"`
	BackoffStepSec int    `toml:"backoff_step_sec"`
	BackoffMaxSec  int    `toml:"backoff_max_sec"`
	FFprobeBinary  string `toml:"ffprobe_binary"`
	FFmpegBinary   string `toml:"ffmpeg_binary"`
}

// Audio configures the audio-track probe.
type Audio struct {
	ProbeTimeoutSec int      `toml:"probe_timeout_sec"`
	Languages       []string `toml:"languages"`
}

// Convert configures stereo companion production.
type Convert struct {
	TimeoutSec     int    `toml:"timeout_sec"`
	DeleteOriginal bool   `toml:"delete_original"`
	FFmpegBinary   string `toml:"ffmpeg_binary"`
	StereoBitrate  string `toml:"stereo_bitrate"`
}

// Retention bounds the state database size.
type Retention struct {
	KeepProcessedDays int `toml:"keep_processed_days"`
	MaxEntries        int `toml:"max_entries"`
}

// Discovery controls directory scanning.
type Discovery struct {
	Recursive       bool     `toml:"recursive"`
	MaxDepth        int      `toml:"max_depth"`
	VideoExtensions []string `toml:"video_extensions"`
}

// Logging contains log output settings.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration for stereowatch.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Scheduler Scheduler `toml:"scheduler"`
	Stability Stability `toml:"stability"`
	Integrity Integrity `toml:"integrity"`
	Audio     Audio     `toml:"audio"`
	Convert   Convert   `toml:"convert"`
	Retention Retention `toml:"retention"`
	Discovery Discovery `toml:"discovery"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/stereowatch/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and environment overrides applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func (c *Config) applyEnvOverrides() {
	if dbURL := strings.TrimSpace(os.Getenv("STATE_DB_URL")); dbURL != "" {
		c.Paths.DBPath = dbURL
	}
	if level := strings.TrimSpace(os.Getenv("STATE_LOG_LEVEL")); level != "" {
		c.Logging.Level = level
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("stereowatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon needs at runtime.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.LogDir, filepath.Dir(c.Paths.DBPath)}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SampleConfig returns the embedded sample configuration text.
func SampleConfig() string {
	return sampleConfig
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

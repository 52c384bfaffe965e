// Package config loads, normalizes, and validates stereowatch configuration.
//
// Configuration is TOML with one section per subsystem. Defaults come from
// Default(); a config file overlays them; STATE_DB_URL and STATE_LOG_LEVEL
// environment variables overlay the file; CLI flags overlay everything.
package config

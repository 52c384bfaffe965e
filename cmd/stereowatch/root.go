package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"stereowatch/internal/config"
	"stereowatch/internal/logging"
	"stereowatch/internal/manager"
	"stereowatch/internal/store"
)

// errFatalStore wraps store-open failures so main can map them to exit code 2.
var errFatalStore = errors.New("state store unavailable")

type commandContext struct {
	configFlag    *string
	dbFlag        *string
	batchSizeFlag *int
	debugFlag     *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newRootCommand() *cobra.Command {
	var (
		configFlag    string
		dbFlag        string
		batchSizeFlag int
		debugFlag     bool
	)

	ctx := &commandContext{
		configFlag:    &configFlag,
		dbFlag:        &dbFlag,
		batchSizeFlag: &batchSizeFlag,
		debugFlag:     &debugFlag,
	}

	rootCmd := &cobra.Command{
		Use:           "stereowatch",
		Short:         "Track downloaded videos and produce stereo companions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "State database path")
	rootCmd.PersistentFlags().IntVar(&batchSizeFlag, "batch-size", 0, "Planner batch size override")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newScanCommand(ctx))
	rootCmd.AddCommand(newMonitorCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newMaintenanceCommand(ctx))
	rootCmd.AddCommand(newResetCommand(ctx))

	return rootCmd
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.dbFlag != nil && strings.TrimSpace(*c.dbFlag) != "" {
			if abs, err := filepath.Abs(strings.TrimSpace(*c.dbFlag)); err == nil {
				cfg.Paths.DBPath = abs
			}
		}
		if c.batchSizeFlag != nil && *c.batchSizeFlag > 0 {
			cfg.Scheduler.BatchSize = *c.batchSizeFlag
		}
		if c.debugFlag != nil && *c.debugFlag {
			cfg.Logging.Level = "debug"
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) newLogger(cfg *config.Config) (*slog.Logger, error) {
	outputs := []string{"stdout"}
	if cfg.Paths.LogDir != "" {
		outputs = append(outputs, filepath.Join(cfg.Paths.LogDir, "stereowatch.log"))
	}
	return logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
	})
}

func (c *commandContext) newManager() (*manager.Manager, *config.Config, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := c.newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	mgr, err := manager.New(cfg, logger)
	if err != nil {
		if errors.Is(err, store.ErrSchemaMismatch) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: %v", errFatalStore, err)
	}
	return mgr, cfg, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"stereowatch/internal/manager"
)

func newMonitorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run the planner until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cfg, err := ctx.newManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			// One monitor per database. The lock lives next to the db file so
			// a second instance fails fast instead of fighting over leases.
			lock := flock.New(cfg.Paths.DBPath + ".lock")
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire instance lock: %w", err)
			}
			if !locked {
				return fmt.Errorf("another monitor is already running against %s", cfg.Paths.DBPath)
			}
			defer lock.Unlock()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Seed the scheduler from the watch dirs before the first tick.
			for _, dir := range cfg.Paths.WatchDirs {
				if _, err := mgr.DiscoverDirectory(runCtx, dir, manager.DiscoverOptions{
					Recursive: cfg.Discovery.Recursive,
					MaxDepth:  cfg.Discovery.MaxDepth,
				}); err != nil {
					return fmt.Errorf("initial scan %q: %w", dir, err)
				}
			}

			// StartMonitoring returns once in-flight handlers have drained;
			// they get shutdown_grace_sec past the signal before their
			// contexts cancel.
			err = mgr.StartMonitoring(runCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

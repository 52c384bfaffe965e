package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"stereowatch/internal/manager"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var flat bool

	cmd := &cobra.Command{
		Use:   "scan [dir...]",
		Short: "Discover video files in directories (defaults to configured watch dirs)",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cfg, err := ctx.newManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			dirs := args
			if len(dirs) == 0 {
				dirs = cfg.Paths.WatchDirs
			}
			if len(dirs) == 0 {
				return fmt.Errorf("no directories given and paths.watch_dirs is empty")
			}

			opts := manager.DiscoverOptions{
				Recursive: cfg.Discovery.Recursive && !flat,
				MaxDepth:  cfg.Discovery.MaxDepth,
			}
			var added, existing int
			for _, dir := range dirs {
				result, err := mgr.DiscoverDirectory(cmd.Context(), dir, opts)
				if err != nil {
					return fmt.Errorf("scan %q: %w", dir, err)
				}
				added += result.FilesAdded
				existing += result.FilesExisting
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Discovered %d new files (%d already tracked)\n", added, existing)
			return nil
		},
	}

	cmd.Flags().BoolVar(&flat, "flat", false, "Do not recurse into subdirectories")
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMaintenanceCommand(ctx *commandContext) *cobra.Command {
	var backupPath string

	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Run retention GC and database compaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := ctx.newManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			result, err := mgr.Maintenance(cmd.Context())
			if err != nil {
				return err
			}
			if !result.VacuumPerformed {
				if err := mgr.Store().Vacuum(cmd.Context()); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d files, %d groups; database compacted\n",
				result.FilesDeleted, result.GroupsDeleted)

			if backupPath != "" {
				if err := mgr.Store().Backup(cmd.Context(), backupPath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", backupPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&backupPath, "backup", "", "Also copy the database to this path")
	return cmd
}

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
)

func newResetCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop all tracked state after confirmation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			if !force {
				fmt.Fprintf(cmd.OutOrStdout(), "This deletes all tracked state in %s. Type 'yes' to continue: ", cfg.Paths.DBPath)
				reader := bufio.NewReader(cmd.InOrStdin())
				answer, err := reader.ReadString('\n')
				if err != nil {
					return fmt.Errorf("read confirmation: %w", err)
				}
				if strings.TrimSpace(strings.ToLower(answer)) != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
					return nil
				}
			}

			lock := flock.New(cfg.Paths.DBPath + ".lock")
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire instance lock: %w", err)
			}
			if !locked {
				return fmt.Errorf("a monitor is running against %s; stop it first", cfg.Paths.DBPath)
			}
			defer lock.Unlock()

			mgr, _, err := ctx.newManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			if err := mgr.Store().Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "State cleared")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip the confirmation prompt")
	return cmd
}

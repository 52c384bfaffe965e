package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print tracked file counts and scheduler state",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, _, err := ctx.newManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			status, err := mgr.GetStatus(cmd.Context())
			if err != nil {
				return err
			}
			health, err := mgr.GetHealth(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON || !isatty.IsTerminal(os.Stdout.Fd()) {
				payload := struct {
					Status any `json:"status"`
					Health any `json:"health"`
				}{status, health}
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(payload)
			}

			writer := table.NewWriter()
			writer.SetOutputMirror(cmd.OutOrStdout())
			writer.SetStyle(table.StyleLight)
			writer.AppendHeader(table.Row{"Metric", "Value"})
			writer.AppendRows([]table.Row{
				{"Tracked files", status.TotalFiles},
				{"Tracked groups", status.TotalGroups},
				{"Due now", status.DueFiles},
				{"Database", fmt.Sprintf("%s (%d bytes)", status.DBPath, status.DBSizeBytes)},
				{"Cycles run", status.CyclesRun},
				{"Entries picked", status.DuePickedTotal},
				{"Backoffs applied", status.BackoffApplied},
			})
			if status.EarliestNextAt > 0 {
				writer.AppendRow(table.Row{
					"Next wake", time.Unix(status.EarliestNextAt, 0).Local().Format(time.RFC3339),
				})
			}
			writer.Render()

			renderCountTable(cmd, "Integrity", status.ByIntegrity)
			renderCountTable(cmd, "Processed", status.ByProcessed)

			if health.Healthy {
				fmt.Fprintln(cmd.OutOrStdout(), "Health: ok")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Health: issues found")
				for _, issue := range health.Issues {
					fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", issue)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON regardless of terminal")
	return cmd
}

func renderCountTable(cmd *cobra.Command, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	writer := table.NewWriter()
	writer.SetOutputMirror(cmd.OutOrStdout())
	writer.SetStyle(table.StyleLight)
	writer.AppendHeader(table.Row{title, "Count"})
	for _, key := range keys {
		writer.AppendRow(table.Row{key, counts[key]})
	}
	writer.Render()
}

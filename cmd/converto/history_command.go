package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"converto/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently finished conversions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Paths.HistoryDB == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "History is disabled (history_db is empty).")
				return nil
			}
			ledger, err := history.Open(cfg.Paths.HistoryDB)
			if err != nil {
				return err
			}
			defer ledger.Close()

			entries, err := ledger.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversions recorded yet.")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				detail := entry.OutputPath
				if entry.Error != "" {
					detail = entry.Error
				}
				rows = append(rows, []string{
					entry.FinishedAt.Local().Format("2006-01-02 15:04:05"),
					entry.InputName,
					entry.TargetExt,
					entry.State,
					entry.Backend,
					detail,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Finished", "Input", "Target", "Result", "Backend", "Detail"}, rows))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries to show")
	return cmd
}

package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"converto/internal/deps"
)

func newBackendsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "Report converter backend and external tool availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := ctx.buildCore()
			if err != nil {
				return err
			}
			defer core.Close()

			out := cmd.OutOrStdout()

			ids := core.dispatcher.Backends()
			sort.Strings(ids)
			backendRows := make([][]string, 0, len(ids))
			for _, id := range ids {
				state := "available"
				detail := ""
				if err := core.dispatcher.Availability(id); err != nil {
					state = "unavailable"
					detail = err.Error()
				}
				backendRows = append(backendRows, []string{id, state, detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Backend", "Status", "Detail"}, backendRows))

			statuses := deps.CheckBinaries(deps.Requirements(core.cfg))
			toolRows := make([][]string, 0, len(statuses))
			for _, status := range statuses {
				state := "found"
				if !status.Available {
					state = status.Detail
				}
				toolRows = append(toolRows, []string{status.Name, status.Command, status.Description, state})
			}
			fmt.Fprintln(out, renderTable([]string{"Tool", "Command", "Used for", "Status"}, toolRows))
			return nil
		},
	}
}

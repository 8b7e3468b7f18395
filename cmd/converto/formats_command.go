package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"converto/internal/formats"
)

func newFormatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List supported formats per category",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([][]string, 0, len(formats.Categories()))
			for _, category := range formats.Categories() {
				rows = append(rows, []string{
					string(category),
					strings.Join(formats.InputExtensions(category), ", "),
					strings.Join(formats.OutputExtensions(category), ", "),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Category", "Inputs", "Outputs"}, rows))
			return nil
		},
	}
}

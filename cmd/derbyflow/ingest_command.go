package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"derbyflow/internal/app"
	"derbyflow/internal/asset"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "ingest <bucket> <key>",
		Short: "Split an uploaded video into segments and register them",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			upload := asset.Location{Bucket: args[0], Key: args[1]}
			return ctx.withApp(cmd.Context(), nil, func(a *app.App) error {
				ingester, err := a.Ingester()
				if err != nil {
					return err
				}
				result, err := ingester.Ingest(cmd.Context(), upload)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, result)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Parent %d: %s (%d segments)\n", result.Parent.ID, result.Parent.Location, len(result.Children))
				rows := make([][]string, 0, len(result.Children))
				for _, child := range result.Children {
					rows = append(rows, []string{
						strconv.FormatInt(child.ID, 10),
						child.Location.String(),
						formatSeconds(child.Duration),
					})
				}
				if len(rows) > 0 {
					fmt.Fprintln(out, renderTable([]string{"ID", "Location", "Duration"}, rows, []columnAlignment{alignRight, alignLeft, alignRight}))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the created documents as JSON")
	return cmd
}

func formatSeconds(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64) + "s"
}

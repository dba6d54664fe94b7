package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"derbyflow/internal/app"
	"derbyflow/internal/pipeline"
)

func newRouteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "route <asset-id>",
		Short: "Dispatch a document to its next stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAssetID(args[0])
			if err != nil {
				return err
			}
			return ctx.withApp(cmd.Context(), nil, func(a *app.App) error {
				doc, err := a.Documents.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				decision, err := a.Router.Route(cmd.Context(), doc)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if decision.Outcome == pipeline.OutcomeDispatched {
					fmt.Fprintf(out, "Asset %d sent to %s (queue %s)\n", id, decision.NextStage, decision.Queue)
					return nil
				}
				fmt.Fprintf(out, "Asset %d not dispatched: %s\n", id, decision.Outcome)
				return nil
			})
		},
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"derbyflow/internal/app"
)

func newStopCommand(ctx *commandContext) *cobra.Command {
	var stageName string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask the workers of a stage to exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), nil, func(a *app.App) error {
				queueName, err := a.Router.SendStop(cmd.Context(), stageName)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stop command sent to %s\n", queueName)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&stageName, "stage", "s", "", "Pipeline stage whose workers should stop")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

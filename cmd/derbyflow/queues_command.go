package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"derbyflow/internal/app"
	"derbyflow/internal/pipeline"
)

func newQueuesCommand(ctx *commandContext) *cobra.Command {
	queuesCmd := &cobra.Command{
		Use:   "queues",
		Short: "Inspect and provision stage queues",
	}
	queuesCmd.AddCommand(newQueuesListCommand(ctx))
	queuesCmd.AddCommand(newQueuesEnsureCommand(ctx))
	return queuesCmd
}

func newQueuesListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the stage to queue mapping",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			def := pipeline.FromConfig(cfg)
			rows := make([][]string, 0, len(def.Stages()))
			for i, stageName := range def.Stages() {
				queueName, ok := def.Queue(stageName)
				if !ok {
					queueName = "-"
				}
				rows = append(rows, []string{fmt.Sprint(i + 1), stageName, queueName})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"#", "Stage", "Queue"}, rows, []columnAlignment{alignRight}))
			return nil
		},
	}
}

func newQueuesEnsureCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure",
		Short: "Create the document table and every configured queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd.Context(), nil, func(a *app.App) error {
				if err := a.Ensure(cmd.Context()); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, name := range a.Router.Definition().QueueNames() {
					fmt.Fprintf(out, "Queue ready: %s\n", name)
				}
				return nil
			})
		},
	}
}

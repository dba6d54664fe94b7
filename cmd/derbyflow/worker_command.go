package main

import (
	"fmt"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"derbyflow/internal/app"
	"derbyflow/internal/detector"
	"derbyflow/internal/logging"
	"derbyflow/internal/preflight"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var stageName string
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume a stage queue until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			signalCtx, cancel := signal.NotifyContext(cmd.Context(), unix.SIGINT, unix.SIGTERM)
			defer cancel()

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			if !skipPreflight {
				failed := preflight.Failed(preflight.RunAll(signalCtx, cfg, stageName))
				if len(failed) > 0 {
					names := make([]string, 0, len(failed))
					for _, result := range failed {
						logging.ErrorWithContext(logger, "preflight check failed", "preflight_failed",
							logging.String("check", result.Name),
							logging.String("detail", result.Detail),
							logging.String(logging.FieldErrorHint, "run derbyflow doctor"),
						)
						names = append(names, result.Name)
					}
					return fmt.Errorf("preflight failed: %s", strings.Join(names, ", "))
				}
			}

			return ctx.withApp(signalCtx, logger, func(a *app.App) error {
				work, err := a.AnalysisWork(stageName, detector.Deps{}, nil)
				if err != nil {
					return err
				}
				defer work.Analyzer.Close()

				w, err := a.Worker(stageName, work)
				if err != nil {
					return err
				}
				if err := w.ServeHealth(signalCtx, cfg.Worker.HealthBind); err != nil {
					return err
				}
				return w.Run(signalCtx)
			})
		},
	}

	cmd.Flags().StringVarP(&stageName, "stage", "s", "", "Pipeline stage to consume")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Start without checking binaries and detector endpoints")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

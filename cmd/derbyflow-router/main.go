// Command derbyflow-router is the Lambda entry point for the pipeline.
//
// In stream mode (the default) it consumes DynamoDB stream batches from the
// asset table and dispatches finished stages to the next queue. In ingest
// mode it consumes S3 upload notifications and splits each upload into
// segments. The mode is read from DERBYFLOW_ROUTER_MODE and the config path
// from DERBYFLOW_CONFIG.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"

	"derbyflow/internal/app"
	"derbyflow/internal/config"
	"derbyflow/internal/logging"
	"derbyflow/internal/services"
)

const (
	modeStream = "stream"
	modeIngest = "ingest"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, _, _, err := config.Load(os.Getenv("DERBYFLOW_CONFIG"))
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      "json",
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	handler, err := newHandler(os.Getenv("DERBYFLOW_ROUTER_MODE"), a)
	if err != nil {
		return err
	}
	logger.Info("router function starting", logging.String("mode", modeOrDefault(os.Getenv("DERBYFLOW_ROUTER_MODE"))))
	lambda.Start(handler)
	return nil
}

// newHandler selects the Lambda handler for mode.
func newHandler(mode string, a *app.App) (any, error) {
	switch modeOrDefault(mode) {
	case modeStream:
		return a.Router.HandleStream, nil
	case modeIngest:
		ingester, err := a.Ingester()
		if err != nil {
			return nil, err
		}
		return ingester.HandleS3Event, nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "router", "select handler",
			fmt.Sprintf("Unsupported DERBYFLOW_ROUTER_MODE %q", mode), nil)
	}
}

func modeOrDefault(mode string) string {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		return modeStream
	}
	return mode
}

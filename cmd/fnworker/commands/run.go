package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fnworks/fnworker/pkg/config"
	"github.com/fnworks/fnworker/pkg/dispatch"
	"github.com/fnworks/fnworker/pkg/durable"
	"github.com/fnworks/fnworker/pkg/functions"
	"github.com/fnworks/fnworker/pkg/invoke"
	"github.com/fnworks/fnworker/pkg/rpc"
	"github.com/fnworks/fnworker/pkg/session"
	"github.com/fnworks/fnworker/pkg/telemetry"
)

func newRunCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the functions host and serve invocations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), version)
		},
	}
}

func runWorker(ctx context.Context, version string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if hostAddress != "" {
		cfg.Worker.HostAddress = hostAddress
	}
	if workerID != "" {
		cfg.Worker.WorkerID = workerID
	}

	logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	metrics, err := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}
	if cfg.Telemetry.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(); err != nil {
				logger.WithError(err).Error("metrics endpoint stopped")
			}
		}()
	}

	sess, err := session.Dial(ctx, session.Config{
		Address:           cfg.Worker.HostAddress,
		WorkerID:          cfg.Worker.WorkerID,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		DrainTimeout:      cfg.Worker.DrainTimeout,
		MaxFrameSize:      cfg.Worker.MaxFrameSize,
	}, logger)
	if err != nil {
		return err
	}

	registry := functions.NewRegistry()
	executor := invoke.NewExecutor(registry, sess, logger, metrics)
	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		WorkerVersion:   version,
		ProtocolVersion: cfg.Worker.ProtocolVersion,
		Capabilities:    cfg.Worker.Capabilities,
	}, registry, builtinCatalog(logger, metrics), executor, sess, logger, metrics)

	logger.WithField("host", cfg.Worker.HostAddress).Info("worker starting")
	return sess.Run(ctx, dispatcher, executor)
}

// builtinCatalog holds the handlers compiled into this worker binary. A real
// deployment generates this registration from the user's function app.
func builtinCatalog(logger *telemetry.Logger, metrics *telemetry.Metrics) *functions.Catalog {
	engine := durable.NewEngine(logger, metrics)

	return functions.NewCatalog().
		AddFunc("Echo", func(ctx context.Context, inv *functions.Invocation) (*functions.Result, error) {
			ret := inv.Input("input")
			return &functions.Result{Return: &ret}, nil
		}).
		Add("EchoWorkflow", durable.NewOrchestratorHandler(engine, func(octx *durable.Context) (interface{}, error) {
			result, err := octx.CallActivity("Echo", octx.Input()).Await()
			if err != nil {
				return nil, err
			}
			return result, nil
		}))
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Printf("configuration ok: host=%s protocol=%s frame_cap=%d\n",
				cfg.Worker.HostAddress, cfg.Worker.ProtocolVersion, frameCap(cfg.Worker.MaxFrameSize))
			return nil
		},
	}
}

func frameCap(configured int) int {
	if configured > 0 {
		return configured
	}
	return rpc.DefaultMaxFrameSize
}

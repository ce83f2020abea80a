package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/eddielth/turbine-fleet/app"
	"github.com/eddielth/turbine-fleet/config"
	"github.com/eddielth/turbine-fleet/logger"
	"github.com/eddielth/turbine-fleet/telemetry"
)

const serveShortDescription = `Run scheduled ingestion and serve queries`
const serveLongDescription = `Command "serve"

Provisions the fleet, then runs one ingestion cycle per schedule.interval until
interrupted. With mqtt.enabled, threshold queries and manual ingestion are served on
{topic_prefix}/query/request and {topic_prefix}/ingest/trigger. With metrics.enabled,
Prometheus metrics and a health check are served on metrics.addr.

Changes to the config file reload transformer scripts, query defaults and the log level.
`

func serveCommand(root *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: serveShortDescription,
		Long:  serveLongDescription,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg := root.config

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				err = multierr.Append(err, shutdownTracing(flushCtx))
			}()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Append(err, a.Close())
			}()

			if root.configPath != "" {
				watchErr := config.WatchConfig(root.configPath, a.ApplyConfig)
				if watchErr != nil {
					// not fatal, the service runs with the loaded configuration
					logger.Warn("failed to watch config file changes: %v", watchErr)
				} else {
					logger.Info("watching %s for changes", root.configPath)
				}
			}

			logger.Info("turbine fleet started with %d assets, interval %s", a.Fleet().Len(), cfg.Schedule.Interval)
			err = a.Serve(ctx)
			logger.Info("turbine fleet stopped")
			return err
		},
	}
}

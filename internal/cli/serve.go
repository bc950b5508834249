package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/connector/internal/telemetry"
	"github.com/roach88/connector/internal/transport"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the connector endpoint",
		Long: `Serve the connector message endpoint until interrupted.

Inbound messages are dispatched to their handlers, artifact data whose
retention ended is deleted periodically and traces are exported when
OTEL_EXPORTER_OTLP_ENDPOINT is set.

Example:
  connector serve --config connector.yaml
  CONNECTOR_LISTEN=:9090 connector serve -v`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *RootOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	shutdown, err := telemetry.Init(ctx, a.cfg.ServiceName)
	if err != nil {
		return codedError(ExitCommandError, ErrCodeConfig, "failed to init telemetry", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	d, err := a.dispatcher()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build routes", err)
	}
	srv := transport.NewServer(a.cfg.Listen, transport.NewRouter(d, a.cfg.ServiceName))

	go a.sweepLoop(ctx)

	slog.Info("connector starting", "id", a.cfg.ConnectorID, "listen", a.cfg.Listen, "db", a.cfg.Database)
	fmt.Fprintf(cmd.OutOrStdout(), "Connector %s serving on %s\n", a.cfg.ConnectorID, a.cfg.Listen)

	if err := srv.ListenAndServe(ctx); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	slog.Info("connector stopped gracefully")
	return nil
}

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
	"go.uber.org/multierr"

	"github.com/roach88/cfgsync/internal/httpapi"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string

	// ready, if set, receives the server once it is constructed (for testing).
	ready func(*httpapi.Server)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sync HTTP server",
		Long: `Start the sync HTTP server.

The server opens the configured database (creating the SQLite schema if
needed), wires the audit sink and serves /sync/config, /sync/version and
/health until interrupted.

Example:
  cfgsync serve --db ./cfgsync.db --listen :8080
  cfgsync serve --config ./cfgsync.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.ListenAddr = opts.Listen
	}
	if len(cfg.Tokens) == 0 {
		slog.Warn("no bearer tokens configured; every /sync request will be rejected")
	}

	be, err := openBackend(cfg)
	if err != nil {
		return err
	}
	logger := slog.Default()

	rec, closeAudit, err := buildAuditRecorder(cfg, be, logger)
	if err != nil {
		be.Close()
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if closeErr := multierr.Combine(closeAudit(ctx), be.Close()); closeErr != nil {
			slog.Error("error closing resources", "error", closeErr)
		}
	}()
	slog.Info("database ready", "driver", cfg.Database.Driver, "audit_sink", cfg.Audit.Sink)

	eng := newEngine(cfg, be, rec, logger)
	srv, err := httpapi.NewServer(httpapi.Config{
		Addr:   cfg.ListenAddr,
		Engine: eng,
		Tokens: httpapi.StaticTokens(cfg.Tokens),
		Logger: logger,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create server", err)
	}
	if opts.ready != nil {
		opts.ready(srv)
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "cfgsync listening on %s\n", srv.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := srv.ListenAndServe(ctx); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contraverify/internal/chains/evm"
	"github.com/pendergraft/contraverify/internal/compiler"
	"github.com/pendergraft/contraverify/internal/config"
	"github.com/pendergraft/contraverify/internal/observability/metrics"
	"github.com/pendergraft/contraverify/internal/server"
	"github.com/pendergraft/contraverify/internal/sources"
	"github.com/pendergraft/contraverify/internal/storage"
	"github.com/pendergraft/contraverify/internal/verification/domain"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "contraverify-server",
		Short:   "Contraverify server - smart contract bytecode verification",
		Version: version,
	}

	// Default behavior (no subcommand) is to serve
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe()
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newChainsCmd())

	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			store, err := storage.New(cfg.Storage, quietLogger())
			if err != nil {
				return fmt.Errorf("initializing storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			fmt.Println("✅ Migrations applied")
			return nil
		},
	}
}

func newChainsCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "chains",
		Short: "List the chains configured in CHAINS_FILE",
		Long: `List the chains configured in CHAINS_FILE.

With --check every provider is asked for its chain id, which catches
providers pointed at the wrong network.

EXAMPLES:
  CHAINS_FILE=./chains.yaml contraverify-server chains --check
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChains(cmd.Context(), check)
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "query every provider for its chain id")
	return cmd
}

func runChains(ctx context.Context, check bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfgs, err := evm.LoadChainsFile(cfg.Verification.ChainsFile)
	if err != nil {
		return err
	}
	if len(cfgs) == 0 {
		fmt.Println("No chains configured in", cfg.Verification.ChainsFile)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROVIDERS\tSTATUS")
	var failed int
	for _, c := range cfgs {
		status := "-"
		if check {
			status = "ok"
			if err := checkChain(ctx, c, cfg.Verification.RPCTimeout); err != nil {
				status = err.Error()
				failed++
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", c.ID, c.Name, len(c.Providers), status)
	}
	w.Flush()

	if failed > 0 {
		return fmt.Errorf("%d chain(s) failed the check", failed)
	}
	return nil
}

func checkChain(ctx context.Context, c evm.Config, timeout time.Duration) error {
	chain, err := evm.Dial(ctx, c, timeout, quietLogger())
	if err != nil {
		return err
	}
	defer chain.Close()
	return chain.CheckChainID(ctx)
}

// Server command

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg)
	logger.Info("starting contraverify-server", "version", version)

	metrics.Init(cfg.Metrics.Enabled, "contraverify")

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	chainCfgs, err := evm.LoadChainsFile(cfg.Verification.ChainsFile)
	if err != nil {
		return err
	}
	registry, err := evm.NewRegistry(context.Background(), chainCfgs, cfg.Verification.RPCTimeout, logger)
	if err != nil {
		return fmt.Errorf("initializing chains: %w", err)
	}

	solc, err := compiler.New(compiler.Config{
		SolcDir:    cfg.Verification.SolcDir,
		SolcAltDir: cfg.Verification.SolcAltDir,
		VyperDir:   cfg.Verification.VyperDir,
		Timeout:    cfg.Verification.CompileTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing compiler: %w", err)
	}

	opts := []domain.Option{
		domain.WithLogger(logger),
		domain.WithTimeout(cfg.Verification.VerifyTimeout),
	}
	if cfg.Verification.IPFSGateway != "" {
		gateway := sources.NewGateway(cfg.Verification.IPFSGateway, cfg.Verification.RPCTimeout)
		opts = append(opts, domain.WithMetadataRecoverer(sources.NewRecoverer(gateway, logger)))
	} else {
		logger.Info("metadata recovery disabled")
	}

	svc := domain.LoggingMiddleware(logger)(domain.NewService(store, registry, solc, opts...))

	srv := server.New(cfg, svc, logger)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errChan := make(chan error, 2)
	go func() {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled && cfg.Metrics.Port != 0 {
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Metrics.Port),
			Handler: srv.MetricsHandler(),
		}
		go func() {
			logger.Info("metrics listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		_ = metricsServer.Shutdown(ctx)
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

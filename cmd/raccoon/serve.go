package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openraccoon/raccoon/internal/agent"
	"github.com/openraccoon/raccoon/internal/audit"
	"github.com/openraccoon/raccoon/internal/config"
	"github.com/openraccoon/raccoon/internal/gateway"
	"github.com/openraccoon/raccoon/internal/mcp"
	"github.com/openraccoon/raccoon/internal/observability"
	"github.com/openraccoon/raccoon/internal/sandbox"
)

// buildServeCmd creates the "serve" command that starts the runtime server.
// This is the primary command for running raccoon in production.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Raccoon runtime server",
		Long: `Start the gRPC server that executes agent turns.

The server will:
1. Load configuration from the optional config file plus RACCOON_* env
2. Set up logging, metrics, tracing and the audit trail
3. Build the provider cache, tool registry and approval broker
4. Connect configured remote tool servers
5. Start the sandbox manager and its idle reaper
6. Serve the agent and sandbox gRPC services, plus /metrics and /healthz

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with environment-only configuration
  raccoon serve

  # Start with a config file
  raccoon serve --config /etc/raccoon/production.yaml

  # Start with debug logging
  raccoon serve --debug`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to configuration file (YAML or JSON5)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// runServe implements the serve command logic.
// It handles configuration loading, service initialization, and graceful shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()
	tracer, stopTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "raccoon",
		ServiceVersion: version,
		Endpoint:       cfg.Observability.OTELEndpoint,
	})
	auditLog, err := audit.NewLogger(audit.Config{
		Enabled: cfg.Audit.Enabled,
		Format:  audit.OutputFormat(cfg.Audit.Format),
		Output:  cfg.Audit.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to open audit trail: %w", err)
	}

	logger.Info(ctx, "starting raccoon runtime",
		"version", version,
		"commit", commit,
		"grpc_port", cfg.Server.GRPCPort,
		"default_model", cfg.Providers.DefaultModel,
	)

	providers := agent.NewProviderCache(cfg.Providers, logger)
	registry := agent.NewToolRegistry()
	approvals := agent.NewApprovalBroker()

	toolClient := mcp.NewClient(mcp.ClientOptions{
		Logger:      logger,
		Tracer:      tracer,
		CallTimeout: cfg.ToolCallDeadline(),
	})
	for _, ts := range cfg.ToolServers {
		if err := toolClient.Connect(ts.Name, ts.URL, mcp.ServerAuth{Token: ts.Token}); err != nil {
			logger.Warn(ctx, "tool server connection failed", "server", ts.Name, "error", err)
			continue
		}
		tools, err := toolClient.Discover(ctx, ts.Name)
		if err != nil {
			logger.Warn(ctx, "tool discovery failed", "server", ts.Name, "error", err)
			continue
		}
		logger.Info(ctx, "tool server connected", "server", ts.Name, "tools", len(tools))
	}

	orchestrator := agent.NewOrchestrator(providers, registry, approvals, agent.Options{
		DefaultModel: cfg.Providers.DefaultModel,
		TurnDeadline: cfg.TurnDeadline(),
		ToolDeadline: cfg.ToolCallDeadline(),
		Remote:       toolClient.Router(),
		Logger:       logger,
		Metrics:      metrics,
		Tracer:       tracer,
		Audit:        auditLog,
	})

	backend := sandbox.NewE2BBackend(sandbox.E2BConfig{
		APIKey: cfg.Sandbox.E2BAPIKey,
		Logger: logger,
	})
	sandboxes := sandbox.NewManager(backend, cfg.Sandbox, sandbox.ManagerOptions{
		Logger:  logger,
		Metrics: metrics,
		Tracer:  tracer,
		Audit:   auditLog,
	})
	reaper := sandbox.NewReaper(sandboxes, logger)
	if err := reaper.Start(); err != nil {
		return fmt.Errorf("failed to start sandbox reaper: %w", err)
	}

	agentSvc := gateway.NewAgentService(orchestrator, cfg, logger)
	sandboxSvc := gateway.NewSandboxService(sandboxes, cfg, logger)
	server := gateway.NewServer(cfg, agentSvc, sandboxSvc, logger)

	// Create a context that cancels on shutdown signals.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	logger.Info(ctx, "shutdown signal received, initiating graceful shutdown")

	// Create a timeout context for graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	server.Stop(shutdownCtx)
	reaper.Stop()
	sandboxes.DestroyAll(shutdownCtx)
	toolClient.DisconnectAll()
	if err := auditLog.Close(); err != nil {
		logger.Warn(shutdownCtx, "audit trail close failed", "error", err)
	}
	if err := stopTracer(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "trace exporter shutdown failed", "error", err)
	}

	logger.Info(shutdownCtx, "raccoon runtime stopped")
	return nil
}

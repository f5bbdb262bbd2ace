// Package main provides the CLI entry point for the Raccoon agent runtime.
//
// Raccoon executes single agent turns over gRPC: provider streaming
// (Anthropic, OpenAI), fenced code-block extraction, approval-gated tool
// execution with remote tool servers, and sandboxed code execution.
//
// # Basic Usage
//
// Start the server:
//
//	raccoon serve --config raccoon.yaml
//
// Print the config file schema:
//
//	raccoon config schema
//
// # Environment Variables
//
// Configuration can be provided via RACCOON_* environment variables,
// which take precedence over the config file:
//
//   - RACCOON_GRPC_PORT: gRPC listen port (default: 50051)
//   - RACCOON_ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - RACCOON_OPENAI_API_KEY: OpenAI API key for GPT models
//   - RACCOON_E2B_API_KEY: E2B API key for sandboxed code execution
//   - RACCOON_DEFAULT_MODEL: model used when a request omits one
//   - RACCOON_METRICS_PORT: Prometheus /metrics port (default: 9090)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/openraccoon/raccoon/internal/config"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	// Pull in a local .env for development; variables already present in
	// the environment are never overwritten.
	_ = godotenv.Load()

	// Configure structured logging with JSON output for production parsing.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "raccoon",
		Short: "Raccoon - streaming agent execution runtime",
		Long: `Raccoon runs agent turns to completion and streams every step back
over gRPC: provider tokens, detected code blocks, tool approvals and
results, and sandboxed code execution events.

Supported providers: Anthropic (Claude), OpenAI (GPT)`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	cmd.AddCommand(buildConfigSchemaCmd())
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for the config file",
		Long: `Print a JSON Schema describing the raccoon config file format.

Useful for editor integration and CI validation of config files.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return fmt.Errorf("failed to generate schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	}
}

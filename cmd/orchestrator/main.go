// Package main provides the CLI entry point for the orchestrator service.
//
// The orchestrator runs a ReAct agent loop over pluggable LLM providers
// (Anthropic, OpenAI), dispatching both plain tools and long-lived
// Agent-Tools that can park mid-conversation waiting for user input or
// approval.
//
// Start the server:
//
//	orchestrator serve --config orchestrator.yaml
//
// Check configuration and defaults:
//
//	orchestrator status
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "orchestrator",
		Short:   "Conversational agent orchestrator",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Long: `orchestrator runs a Reason-Act loop over an LLM function-calling interface,
dispatching plain tools and long-lived Agent-Tools that may pause mid-run
waiting for user input or approval.`,
		SilenceUsage: true,
	}

	root.AddCommand(buildServeCmd(), buildStatusCmd(), buildMigrateConfigCmd())
	return root
}

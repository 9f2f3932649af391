package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexusagents/orchestrator/internal/config"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator HTTP/SSE server",
		Long: `Start the orchestrator server.

The server will:
1. Load configuration from the specified file (or orchestrator.yaml)
2. Construct the LLM provider, agent pool, and tool catalog
3. Serve message and approval endpoints over HTTP, streaming via SSE
4. Expose Prometheus metrics at /metrics

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "orchestrator.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "server address:        %s\n", cfg.Server.Addr)
			fmt.Fprintf(out, "llm provider:           %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
			fmt.Fprintf(out, "react loop max turns:   %d\n", cfg.ReactLoop.MaxTurns)
			fmt.Fprintf(out, "context token limit:    %d\n", cfg.ReactLoop.ContextTokenLimit)
			fmt.Fprintf(out, "pool max per tenant:    %d\n", cfg.Pool.MaxAgentsPerTenant)
			fmt.Fprintf(out, "pool session ttl:       %s\n", cfg.Pool.SessionTTL)
			fmt.Fprintf(out, "agent persona:          %s\n", cfg.Agent.Persona)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "orchestrator.yaml", "Path to YAML configuration file")
	return cmd
}

func buildMigrateConfigCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate-config",
		Short: "Validate a configuration file and print its resolved LLM settings",
		Long: `migrate-config loads a configuration file (applying defaults to unset
fields), checks that the current JSON schema can be built, and prints the
resolved LLM provider and model. It does not write the file back.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			schema, err := config.JSONSchema()
			if err != nil {
				return fmt.Errorf("build schema: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config at %s is valid against the current schema (%d bytes)\n", configPath, len(schema))
			fmt.Fprintf(out, "resolved llm provider: %s, model: %s\n", cfg.LLM.Provider, cfg.LLM.Model)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "orchestrator.yaml", "Path to YAML configuration file")
	return cmd
}

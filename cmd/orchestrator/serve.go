package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexusagents/orchestrator/internal/agentpool"
	"github.com/nexusagents/orchestrator/internal/approval"
	"github.com/nexusagents/orchestrator/internal/config"
	"github.com/nexusagents/orchestrator/internal/contextmgr"
	"github.com/nexusagents/orchestrator/internal/credentials"
	"github.com/nexusagents/orchestrator/internal/llmprovider"
	"github.com/nexusagents/orchestrator/internal/llmprovider/anthropic"
	"github.com/nexusagents/orchestrator/internal/llmprovider/openai"
	"github.com/nexusagents/orchestrator/internal/memoryprovider"
	"github.com/nexusagents/orchestrator/internal/orchestrator"
	"github.com/nexusagents/orchestrator/internal/reactloop"
	"github.com/nexusagents/orchestrator/internal/telemetry"
	"github.com/nexusagents/orchestrator/internal/toolcatalog"
	"github.com/nexusagents/orchestrator/internal/toolinvoker"
	"github.com/nexusagents/orchestrator/internal/triggers"
)

// runServe loads configuration, wires every component, and serves HTTP
// until a shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("configuration loaded",
		"addr", cfg.Server.Addr,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
	)

	provider, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("build llm provider: %w", err)
	}

	metrics := telemetry.New(prometheus.DefaultRegisterer)
	orc, err := buildOrchestrator(cfg, provider)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool := orc.Pool()
	pool.Start(time.Minute, 30*time.Second)
	defer pool.Stop()

	stopApprovalSweep := startApprovalSweep(ctx, orc, time.Minute)
	defer close(stopApprovalSweep)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/v1/messages", handleMessage(orc, metrics))
	mux.HandleFunc("/v1/messages/stream", handleStreamMessage(orc))
	mux.HandleFunc("/v1/approvals/", handleApproval(orc))

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("orchestrator server started", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	slog.Info("shutdown signal received, draining connections")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("orchestrator server stopped gracefully")
	return nil
}

func buildProvider(cfg *config.Config) (llmprovider.Provider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return openai.New(openai.Config{
			APIKey:       cfg.LLM.OpenAI.APIKey,
			BaseURL:      cfg.LLM.OpenAI.BaseURL,
			DefaultModel: cfg.LLM.Model,
			MaxRetries:   cfg.ReactLoop.LLMMaxRetries,
			RetryDelay:   cfg.ReactLoop.LLMRetryBaseDelay,
			Logger:       slog.Default(),
		})
	case "anthropic", "":
		return anthropic.New(anthropic.Config{
			APIKey:       cfg.LLM.Anthropic.APIKey,
			BaseURL:      cfg.LLM.Anthropic.BaseURL,
			DefaultModel: cfg.LLM.Model,
			MaxRetries:   cfg.ReactLoop.LLMMaxRetries,
			RetryDelay:   cfg.ReactLoop.LLMRetryBaseDelay,
			Logger:       slog.Default(),
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// buildPoolBackend selects the agent-pool's durable store per
// cfg.Pool.Backend: "postgres" opens a connection pool against
// cfg.Pool.PostgresDSN (see internal/agentpool.PostgresBackend, grounded on
// the original source's PostgresPoolBackend); anything else, including the
// default "memory", uses the in-process reference backend.
func buildPoolBackend(cfg *config.Config) (agentpool.Backend, error) {
	switch cfg.Pool.Backend {
	case "postgres":
		backend, err := agentpool.NewPostgresBackendFromDSN(cfg.Pool.PostgresDSN, nil)
		if err != nil {
			return nil, fmt.Errorf("open postgres pool backend: %w", err)
		}
		return backend, nil
	case "", "memory":
		return agentpool.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown pool backend %q", cfg.Pool.Backend)
	}
}

// buildOrchestrator wires the full dependency graph (every collaborator
// orchestrator.New takes), translating static YAML config into the constructor
// calls each package expects. Agent-Tool registration (which concrete
// Agent types this deployment exposes) is left to an operator-supplied
// registration hook in a real deployment; none are registered here since
// the set of agents is domain-specific to whoever embeds this binary.
func buildOrchestrator(cfg *config.Config, provider llmprovider.Provider) (*orchestrator.Orchestrator, error) {
	registry := agentpool.NewRegistry()
	backend, err := buildPoolBackend(cfg)
	if err != nil {
		return nil, err
	}
	pool := agentpool.New(backend, agentpool.Config{
		SessionTTL:         cfg.Pool.SessionTTL,
		WaitingTimeout:     cfg.Pool.WaitingTimeout,
		MaxAgentsPerTenant: cfg.Pool.MaxAgentsPerTenant,
		Logger:             slog.Default(),
	})
	policy := toolcatalog.NewPolicyFilter(slog.Default())
	approvals := approval.New(approval.NewMemoryStore(), slog.Default())
	memory := memoryprovider.New()
	credStore := credentials.NewMemoryStore()
	triggerEngine := triggers.NewMemoryEngine()
	tools := toolinvoker.NewRegistry()

	ctxmgr := contextmgr.New(contextmgr.Settings{
		ContextTokenLimit:    cfg.ReactLoop.ContextTokenLimit,
		ContextTrimThreshold: cfg.ReactLoop.ContextTrimThreshold,
		MaxToolResultShare:   cfg.ReactLoop.MaxToolResultShare,
		MaxToolResultChars:   cfg.ReactLoop.MaxToolResultChars,
		MaxHistoryMessages:   cfg.ReactLoop.MaxHistoryMessages,
		Logger:               slog.Default(),
	})

	return orchestrator.New(
		registry, pool, policy, approvals, memory, credStore, triggerEngine, tools,
		provider,
		toolinvoker.Config{
			Concurrency:    8,
			PerCallTimeout: cfg.ReactLoop.ToolExecutionTimeout,
			AgentTimeout:   cfg.ReactLoop.AgentToolExecutionTimeout,
		},
		reactloop.Config{
			MaxTurns: cfg.ReactLoop.MaxTurns,
			Model:    cfg.LLM.Model,
		},
		ctxmgr,
		orchestrator.Config{
			Persona:                cfg.Agent.Persona,
			HistoryLimit:           cfg.Agent.HistoryLimit,
			RecalledFactLimit:      cfg.Agent.RecalledFactLimit,
			ApprovalTimeoutMinutes: cfg.ReactLoop.ApprovalTimeoutMinutes,
			Logger:                 slog.Default(),
		},
	), nil
}

// startApprovalSweep runs Orchestrator.SweepExpiredApprovals on a ticker
// until ctx is cancelled or the returned channel is closed. Closing the
// channel from the caller stops the goroutine even if ctx never cancels.
func startApprovalSweep(ctx context.Context, orc *orchestrator.Orchestrator, interval time.Duration) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := orc.SweepExpiredApprovals(ctx); err != nil {
					slog.Warn("approval expiry sweep failed", "error", err)
				}
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()
	return stop
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type messageRequest struct {
	Tenant   string         `json:"tenant"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func handleMessage(orc *orchestrator.Orchestrator, metrics *telemetry.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req messageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}

		start := time.Now()
		result, routing, err := orc.HandleMessage(r.Context(), req.Tenant, req.Text, req.Metadata)
		outcome := "completed"
		if err != nil {
			outcome = "error"
		}
		metrics.ObserveLoop(outcome, result.Turns, time.Since(start))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"result":  result,
			"routing": routing,
		})
	}
}

func handleStreamMessage(orc *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req messageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		events, err := orc.StreamMessage(r.Context(), req.Tenant, req.Text, req.Metadata)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		for event := range events {
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

type approvalRequestBody struct {
	Tenant       string         `json:"tenant"`
	Action       string         `json:"action"`
	EditedFields map[string]any `json:"edited_fields,omitempty"`
}

func handleApproval(orc *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		approvalID := r.URL.Path[len("/v1/approvals/"):]
		if approvalID == "" {
			http.Error(w, "approval id required", http.StatusBadRequest)
			return
		}

		var body approvalRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
			return
		}

		result, err := orc.ResolveApproval(r.Context(), body.Tenant, approvalID, approvalActionFromString(body.Action), body.EditedFields)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func approvalActionFromString(s string) approval.Action {
	switch s {
	case string(approval.ActionApprove):
		return approval.ActionApprove
	case string(approval.ActionEdit):
		return approval.ActionEdit
	default:
		return approval.ActionCancel
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

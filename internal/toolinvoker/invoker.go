// Package toolinvoker dispatches a batch of tool calls produced by one LLM
// turn, running them concurrently with per-call timeouts and assembling
// results back into the original call order (§4.2, §5).
package toolinvoker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	orcherrors "github.com/nexusagents/orchestrator/internal/errors"
	"github.com/nexusagents/orchestrator/pkg/models"
)

// Tool is a plain, synchronously-executable tool.
type Tool interface {
	Name() string
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry resolves a tool call's name to an executable Tool. Agent-Tools
// are dispatched separately through AgentDispatcher so this package has no
// dependency on internal/agentpool or internal/orchestrator.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, keyed by its own name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Lookup returns the tool registered under name, if any.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool's name, in no particular order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// AgentDispatchResult is an Agent-Tool call's outcome (§4.2), distinguishing
// a completed run from one that parked waiting for more input or approval.
type AgentDispatchResult struct {
	Status   models.ResultStatus
	Content  string
	IsError  bool
	Approval *models.ApprovalRequest // set only when Status == ResultWaitingForApproval
}

// AgentDispatcher routes a tool call whose name matches a registered
// Agent-Tool (§4.2) instead of a plain tool. Implemented by
// internal/orchestrator, which owns the agent pool.
type AgentDispatcher interface {
	IsAgentTool(name string) bool
	DispatchAgentTool(ctx context.Context, call models.ToolCall) (AgentDispatchResult, error)
}

// Config controls concurrency and per-call timeouts. AgentTimeout applies
// to Agent-Tool calls; PerCallTimeout applies to plain tool calls (§4.1 step
// 4 distinguishes tool_execution_timeout from agent_tool_execution_timeout).
type Config struct {
	Concurrency    int
	PerCallTimeout time.Duration
	AgentTimeout   time.Duration
	Logger         *slog.Logger
}

// Invoker executes tool call batches against a Registry and, optionally, an
// AgentDispatcher for Agent-Tool calls.
type Invoker struct {
	registry   *Registry
	dispatcher AgentDispatcher
	config     Config
	logger     *slog.Logger
}

// New builds an Invoker. dispatcher may be nil if no Agent-Tools are
// registered.
func New(registry *Registry, dispatcher AgentDispatcher, config Config) *Invoker {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PerCallTimeout <= 0 {
		config.PerCallTimeout = 30 * time.Second
	}
	if config.AgentTimeout <= 0 {
		config.AgentTimeout = 120 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		registry: registry, dispatcher: dispatcher, config: config,
		logger: logger.With("component", "toolinvoker"),
	}
}

// Result is one tool call's outcome, order-preserving with the input batch.
type Result struct {
	Index        int
	ToolCallID   string
	ToolName     string
	Content      string
	IsError      bool
	Duration     time.Duration
	ResultStatus models.ResultStatus      // COMPLETED or ERROR for plain tools; an Agent-Tool's own status otherwise
	Approval     *models.ApprovalRequest // set only when ResultStatus == ResultWaitingForApproval
}

// InvokeAll executes every call in calls concurrently (bounded by
// Config.Concurrency), each under its own timeout (AgentTimeout for
// Agent-Tool calls, PerCallTimeout for plain tools), and returns
// results in the same order as calls regardless of completion order.
// Grounded on the teacher's ExecuteConcurrently, reimplemented on
// errgroup.Group with SetLimit instead of a hand-rolled semaphore +
// sync.WaitGroup.
func (inv *Invoker) InvokeAll(ctx context.Context, calls []models.ToolCall) []Result {
	results := make([]Result, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inv.config.Concurrency)

	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			results[i] = inv.invokeOne(gctx, i, call)
			return nil
		})
	}

	// Errors from individual tool calls are carried in Result, not
	// propagated as errgroup failures — one tool failing must never cancel
	// its siblings (§4.2 edge case).
	_ = g.Wait()
	return results
}

func (inv *Invoker) invokeOne(ctx context.Context, index int, call models.ToolCall) Result {
	start := time.Now()

	if inv.dispatcher != nil && inv.dispatcher.IsAgentTool(call.Name) {
		callCtx, cancel := context.WithTimeout(ctx, inv.config.AgentTimeout)
		defer cancel()
		return inv.invokeAgentTool(callCtx, index, call, start)
	}

	callCtx, cancel := context.WithTimeout(ctx, inv.config.PerCallTimeout)
	defer cancel()

	content, isError := inv.executePlain(callCtx, call)
	status := models.ResultCompleted
	if isError {
		status = models.ResultError
	}
	return Result{
		Index:        index,
		ToolCallID:   call.ID,
		ToolName:     call.Name,
		Content:      content,
		IsError:      isError,
		Duration:     time.Since(start),
		ResultStatus: status,
	}
}

func (inv *Invoker) invokeAgentTool(ctx context.Context, index int, call models.ToolCall, start time.Time) Result {
	dispatched, err := inv.dispatcher.DispatchAgentTool(ctx, call)
	if err != nil {
		inv.logger.Warn("agent-tool dispatch failed", "tool", call.Name, "tool_call_id", call.ID, "error", err)
		return Result{
			Index:        index,
			ToolCallID:   call.ID,
			ToolName:     call.Name,
			Content:      classifyAndRender(call.Name, call.ID, err),
			IsError:      true,
			Duration:     time.Since(start),
			ResultStatus: models.ResultError,
		}
	}
	return Result{
		Index:        index,
		ToolCallID:   call.ID,
		ToolName:     call.Name,
		Content:      dispatched.Content,
		IsError:      dispatched.IsError,
		Duration:     time.Since(start),
		ResultStatus: dispatched.Status,
		Approval:     dispatched.Approval,
	}
}

func (inv *Invoker) executePlain(ctx context.Context, call models.ToolCall) (string, bool) {
	tool, ok := inv.registry.Lookup(call.Name)
	if !ok {
		inv.logger.Warn("tool not found", "tool", call.Name, "tool_call_id", call.ID)
		err := orcherrors.NewToolCallError(call.Name, orcherrors.ErrToolNotFound).WithToolCallID(call.ID)
		return err.Error(), true
	}

	out, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		inv.logger.Warn("tool call failed", "tool", call.Name, "tool_call_id", call.ID, "error", err)
		return classifyAndRender(call.Name, call.ID, err), true
	}
	return out, false
}

func classifyAndRender(toolName, toolCallID string, err error) string {
	wrapped := orcherrors.NewToolCallError(toolName, err).WithToolCallID(toolCallID)
	return wrapped.Error()
}

// ToMessages converts ordered Results into tool-role Messages ready to be
// appended to conversation history.
func ToMessages(results []Result) []models.Message {
	messages := make([]models.Message, len(results))
	for i, r := range results {
		messages[i] = models.Message{
			Role:       models.RoleTool,
			Content:    r.Content,
			ToolCallID: r.ToolCallID,
			IsError:    r.IsError,
			CreatedAt:  time.Now(),
		}
	}
	return messages
}

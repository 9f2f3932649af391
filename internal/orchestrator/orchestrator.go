// Package orchestrator implements the per-message lifecycle described in
// §4.6: prepare_context, should_process, check_pending_agents, react_loop,
// post_process. It owns the agent pool, the tool-policy filter, and the
// approval coordinator, and satisfies toolinvoker.AgentDispatcher so its
// own ReactLoop can dispatch Agent-Tool calls back into itself. Grounded on
// internal/agent/runtime.go's Runtime (the teacher's analogous top-level
// coordinator) and tool_registry.go's per-session locking idiom.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nexusagents/orchestrator/internal/agentpool"
	"github.com/nexusagents/orchestrator/internal/approval"
	"github.com/nexusagents/orchestrator/internal/credentials"
	orcherrors "github.com/nexusagents/orchestrator/internal/errors"
	"github.com/nexusagents/orchestrator/internal/llmprovider"
	"github.com/nexusagents/orchestrator/internal/memoryprovider"
	"github.com/nexusagents/orchestrator/internal/reactloop"
	"github.com/nexusagents/orchestrator/internal/toolcatalog"
	"github.com/nexusagents/orchestrator/internal/toolinvoker"
	"github.com/nexusagents/orchestrator/internal/triggers"
	"github.com/nexusagents/orchestrator/pkg/models"
)

// ctxKey namespaces context values this package injects, so DispatchAgentTool
// (invoked from inside toolinvoker, several layers removed from HandleMessage)
// can recover the tenant the in-flight turn belongs to.
type ctxKey string

const tenantCtxKey ctxKey = "orchestrator_tenant"

func withTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantCtxKey, tenant)
}

func tenantFromContext(ctx context.Context) string {
	tenant, _ := ctx.Value(tenantCtxKey).(string)
	return tenant
}

// Config controls Orchestrator behavior not already owned by its
// collaborators.
type Config struct {
	Persona                string
	HistoryLimit           int
	RecalledFactLimit      int
	ApprovalTimeoutMinutes int
	Logger                 *slog.Logger
}

// Orchestrator is the top-level per-message coordinator.
type Orchestrator struct {
	registry    *agentpool.Registry
	pool        *agentpool.Pool
	policy      *toolcatalog.PolicyFilter
	approvals   *approval.Coordinator
	memory      memoryprovider.Provider
	credentials credentials.Store
	triggers    triggers.Engine
	tools       *toolinvoker.Registry
	loop        *reactloop.Loop
	config      Config
	logger      *slog.Logger

	tenantLocksMu sync.Mutex
	tenantLocks   map[string]*tenantLock
}

type tenantLock struct {
	mu   sync.Mutex
	refs int
}

// New wires an Orchestrator together. provider/invokerConfig/ctxmgrConfig
// build the embedded ReactLoop; the invoker's AgentDispatcher is this
// Orchestrator itself, so loop is constructed after o exists.
func New(
	registry *agentpool.Registry,
	pool *agentpool.Pool,
	policy *toolcatalog.PolicyFilter,
	approvals *approval.Coordinator,
	memory memoryprovider.Provider,
	credentialStore credentials.Store,
	triggerEngine triggers.Engine,
	tools *toolinvoker.Registry,
	provider llmprovider.Provider,
	invokerConfig toolinvoker.Config,
	loopConfig reactloop.Config,
	ctxmgr reactloop.ContextManager,
	config Config,
) *Orchestrator {
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 50
	}
	if config.RecalledFactLimit <= 0 {
		config.RecalledFactLimit = 5
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "orchestrator")

	if invokerConfig.Logger == nil {
		invokerConfig.Logger = logger
	}
	if loopConfig.Logger == nil {
		loopConfig.Logger = logger
	}

	o := &Orchestrator{
		registry:    registry,
		pool:        pool,
		policy:      policy,
		approvals:   approvals,
		memory:      memory,
		credentials: credentialStore,
		triggers:    triggerEngine,
		tools:       tools,
		config:      config,
		logger:      logger,
		tenantLocks: make(map[string]*tenantLock),
	}

	invoker := toolinvoker.New(tools, o, invokerConfig)
	o.loop = reactloop.New(provider, invoker, ctxmgr, loopConfig)
	return o
}

func (o *Orchestrator) lockTenant(tenant string) func() {
	if strings.TrimSpace(tenant) == "" {
		return func() {}
	}

	o.tenantLocksMu.Lock()
	lock := o.tenantLocks[tenant]
	if lock == nil {
		lock = &tenantLock{}
		o.tenantLocks[tenant] = lock
	}
	lock.refs++
	o.tenantLocksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		o.tenantLocksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(o.tenantLocks, tenant)
		}
		o.tenantLocksMu.Unlock()
	}
}

// HandleMessage runs the full per-message lifecycle (§4.6) for one incoming
// user (or trigger-synthesized) message and returns the resulting
// ReactLoopResult alongside the RoutingDecision that explains how the
// message was handled.
func (o *Orchestrator) HandleMessage(ctx context.Context, tenant, text string, metadata map[string]any) (models.ReactLoopResult, models.RoutingDecision, error) {
	unlock := o.lockTenant(tenant)
	defer unlock()

	ctx = withTenant(ctx, tenant)

	// 1. prepare_context
	history, err := o.memory.GetHistory(ctx, tenant, tenant, o.config.HistoryLimit)
	if err != nil {
		return models.ReactLoopResult{}, models.RoutingDecision{}, fmt.Errorf("load history: %w", err)
	}
	history = repairTranscript(history)

	facts, err := o.memory.Search(ctx, tenant, text, o.config.RecalledFactLimit)
	if err != nil {
		facts = nil
	}
	system := o.buildSystemPrompt(facts)

	// 2. should_process
	if !o.shouldProcess(text, metadata) {
		return models.ReactLoopResult{Response: "This message could not be processed."}, models.RoutingDecision{Reason: models.ReasonDefaultFallback}, nil
	}

	// 3. check_pending_agents
	if entry, ok := o.pool.GetWaitingForTenant(ctx, tenant); ok {
		result, routing, err := o.resumePendingAgent(ctx, tenant, entry, text, history, system)
		if err != nil {
			return models.ReactLoopResult{}, routing, err
		}
		return result, routing, nil
	}

	// 4. react_loop (default routing)
	history = append(history, models.Message{Role: models.RoleUser, Content: text, CreatedAt: time.Now()})
	tools := o.buildToolCatalog("")

	result, err := o.loop.RunWithSystem(ctx, history, tools, system)
	if err != nil {
		return models.ReactLoopResult{}, models.RoutingDecision{}, err
	}

	// 5. post_process
	o.persistTurn(ctx, tenant, history, text, result.Response)

	return result, models.RoutingDecision{Action: models.ActionRouteToDefault, Reason: models.ReasonDefaultFallback, Confidence: 1}, nil
}

// resumePendingAgent drives a parked Agent-Tool with the user's reply
// (§4.6 step 3).
func (o *Orchestrator) resumePendingAgent(ctx context.Context, tenant string, entry *models.AgentPoolEntry, text string, history []models.Message, system string) (models.ReactLoopResult, models.RoutingDecision, error) {
	routing := models.RoutingDecision{
		Action:    models.ActionRouteToExisting,
		AgentID:   entry.AgentID,
		AgentType: entry.AgentType,
		Reason:    models.ReasonActiveAgentFound,
		Confidence: 1,
	}

	agent, ok := o.registry.New(entry.AgentType)
	if !ok {
		o.logger.Error("parked agent type no longer registered", "agent_id", entry.AgentID, "agent_type", entry.AgentType)
		_ = o.pool.Remove(ctx, entry.AgentID)
		return models.ReactLoopResult{}, routing, orcherrors.ErrAgentNotFound
	}
	seedFields(agent, entry.CollectedFields)

	agentResult, err := agent.Reply(ctx, text)
	if err != nil {
		o.logger.Warn("parked agent reply failed", "agent_id", entry.AgentID, "agent_type", entry.AgentType, "error", err)
		_ = o.pool.Remove(ctx, entry.AgentID)
		return models.ReactLoopResult{}, routing, err
	}

	switch agentResult.Status {
	case models.ResultWaitingForInput, models.ResultWaitingForApproval:
		entry.CollectedFields = agent.Fields()
		entry.Status = statusFor(agentResult.Status)
		entry.LastActivity = time.Now()
		if agentResult.Status == models.ResultWaitingForInput {
			entry.AgentPrompt = agentResult.Text
		} else {
			entry.ApprovalPrompt = agentResult.Text
		}
		if err := o.pool.Put(ctx, entry); err != nil {
			return models.ReactLoopResult{}, routing, err
		}
		return models.ReactLoopResult{Response: agentResult.Text}, routing, nil
	default:
		_ = o.pool.Remove(ctx, entry.AgentID)
		history = appendAgentTurn(history, entry.AgentID, entry.AgentType, agentResult)

		tools := o.buildToolCatalog("")
		result, err := o.loop.RunWithSystem(ctx, history, tools, system)
		if err != nil {
			return models.ReactLoopResult{}, routing, err
		}
		o.persistTurn(ctx, tenant, history, text, result.Response)
		return result, routing, nil
	}
}

// appendAgentTurn splices a terminal agent-pool entry's result into the
// message list as an assistant/tool pair, so the planner sees the Agent-
// Tool's outcome as though it had just been called (§4.6 step 3).
func appendAgentTurn(history []models.Message, agentID, agentType string, result agentpool.AgentResult) []models.Message {
	now := time.Now()
	history = append(history, models.Message{
		Role:      models.RoleAssistant,
		ToolCalls: []models.ToolCall{{ID: agentID, Name: agentType}},
		CreatedAt: now,
	})
	return append(history, models.Message{
		Role:       models.RoleTool,
		Content:    result.Text,
		ToolCallID: agentID,
		IsError:    result.Status == models.ResultError,
		CreatedAt:  now,
	})
}

func statusFor(status models.ResultStatus) models.AgentStatus {
	if status == models.ResultWaitingForApproval {
		return models.StatusWaitingForApproval
	}
	return models.StatusWaitingForInput
}

// ResolveApproval applies a user's approve/edit/cancel decision to a
// pending approval and resumes (or discards) the correlated agent (§4.5).
func (o *Orchestrator) ResolveApproval(ctx context.Context, tenant, approvalID string, action approval.Action, editedFields map[string]any) (models.ReactLoopResult, error) {
	unlock := o.lockTenant(tenant)
	defer unlock()
	ctx = withTenant(ctx, tenant)

	pending, err := o.approvals.Resolve(ctx, approvalID, action, editedFields)
	if err != nil {
		return models.ReactLoopResult{}, err
	}

	entry, ok := o.pool.Get(ctx, pending.AgentID)
	if !ok {
		return models.ReactLoopResult{}, orcherrors.ErrAgentNotFound
	}

	var agentResult agentpool.AgentResult
	switch action {
	case approval.ActionCancel:
		_ = o.pool.Remove(ctx, entry.AgentID)
		agentResult = agentpool.AgentResult{Status: models.ResultError, Text: "User cancelled this action."}
	default:
		agent, ok := o.registry.New(entry.AgentType)
		if !ok {
			_ = o.pool.Remove(ctx, entry.AgentID)
			return models.ReactLoopResult{}, orcherrors.ErrAgentNotFound
		}
		seedFields(agent, entry.CollectedFields)
		if action == approval.ActionEdit {
			seedFields(agent, editedFields)
		}
		result, err := agent.Reply(ctx, string(action))
		if err != nil {
			_ = o.pool.Remove(ctx, entry.AgentID)
			return models.ReactLoopResult{}, err
		}
		agentResult = result
		if agentResult.Status == models.ResultWaitingForInput || agentResult.Status == models.ResultWaitingForApproval {
			entry.CollectedFields = agent.Fields()
			entry.Status = statusFor(agentResult.Status)
			entry.LastActivity = time.Now()
			if agentResult.Status == models.ResultWaitingForInput {
				entry.AgentPrompt = agentResult.Text
			} else {
				entry.ApprovalPrompt = agentResult.Text
			}
			if err := o.pool.Put(ctx, entry); err != nil {
				return models.ReactLoopResult{}, err
			}
			return models.ReactLoopResult{Response: agentResult.Text}, nil
		}
		_ = o.pool.Remove(ctx, entry.AgentID)
	}

	history, err := o.memory.GetHistory(ctx, tenant, tenant, o.config.HistoryLimit)
	if err != nil {
		history = nil
	}
	history = repairTranscript(history)
	history = appendAgentTurn(history, entry.AgentID, entry.AgentType, agentResult)

	facts, _ := o.memory.Search(ctx, tenant, "", o.config.RecalledFactLimit)
	system := o.buildSystemPrompt(facts)
	tools := o.buildToolCatalog("")

	result, err := o.loop.RunWithSystem(ctx, history, tools, system)
	if err != nil {
		return models.ReactLoopResult{}, err
	}
	o.persistTurn(ctx, tenant, history, "", result.Response)
	return result, nil
}

// SweepExpiredApprovals implements §4.5's timeout path: for every approval
// whose timeout_minutes lapsed without user action, the parked agent-pool
// entry is removed and, when the request's Source is non-empty, the
// trigger-engine's record of it is cleared too. Requests parked by
// DispatchAgentTool carry an empty Source, so for them only the pool entry
// is removed. Intended to be called on a
// ticker from the process entry point, alongside the pool's own TTL sweep.
func (o *Orchestrator) SweepExpiredApprovals(ctx context.Context) error {
	expired, err := o.approvals.ExpireOverdue(ctx)
	if err != nil {
		return err
	}
	for _, pending := range expired {
		entry, ok := o.pool.Get(ctx, pending.AgentID)
		if !ok {
			continue
		}
		o.logger.Info("approval expired, discarding parked agent", "agent_id", entry.AgentID, "tenant_id", entry.TenantID)
		_ = o.pool.Remove(ctx, entry.AgentID)
		if pending.Request.Source != "" {
			_ = o.triggers.ResolvePendingApproval(ctx, entry.TenantID, entry.AgentID)
		}
	}
	return nil
}

func seedFields(agent agentpool.Agent, fields map[string]any) {
	for name, value := range fields {
		_ = agent.SetField(name, value)
	}
}

func (o *Orchestrator) shouldProcess(text string, metadata map[string]any) bool {
	if strings.TrimSpace(text) != "" {
		return true
	}
	_, fromTrigger := metadata["source"]
	return fromTrigger
}

func (o *Orchestrator) buildSystemPrompt(facts []memoryprovider.Fact) string {
	var b strings.Builder
	if o.config.Persona != "" {
		b.WriteString(o.config.Persona)
	} else {
		b.WriteString("You are a helpful assistant.")
	}
	b.WriteString(fmt.Sprintf("\nCurrent time: %s", time.Now().UTC().Format(time.RFC3339)))
	if len(facts) > 0 {
		b.WriteString("\nRecalled facts:")
		for _, f := range facts {
			b.WriteString("\n- " + f.Content)
		}
	}
	return b.String()
}

// buildToolCatalog unions plain tools with Agent-Tool schemas
// (expose_as_tool=true), filtered through the two-layer tool policy
// (§3.1, §4.6 step 4), and converts the result into llmprovider.ToolDef.
func (o *Orchestrator) buildToolCatalog(agentType string) []llmprovider.ToolDef {
	var schemas []toolcatalog.ToolSchema
	for _, spec := range o.registry.ExposedAsTools() {
		schemas = append(schemas, toolcatalog.ToolSchemaForAgent(spec))
	}
	for _, name := range o.tools.Names() {
		tool, ok := o.tools.Lookup(name)
		if !ok {
			continue
		}
		if t, ok := tool.(toolcatalog.Tool); ok {
			schemas = append(schemas, toolcatalog.FromTool(t))
		}
	}

	filtered := o.policy.FilterTools(schemas, agentType)
	defs := make([]llmprovider.ToolDef, len(filtered))
	for i, s := range filtered {
		defs[i] = llmprovider.ToolDef{Name: s.Name, Description: s.Description, Parameters: s.Parameters}
	}
	return defs
}

func (o *Orchestrator) persistTurn(ctx context.Context, tenant string, history []models.Message, userText, assistantText string) {
	now := time.Now()
	if assistantText != "" {
		history = append(history, models.Message{Role: models.RoleAssistant, Content: assistantText, CreatedAt: now})
	}
	_ = o.memory.SaveHistory(ctx, tenant, tenant, history)

	var batch []models.Message
	if userText != "" {
		batch = append(batch, models.Message{Role: models.RoleUser, Content: userText, CreatedAt: now})
	}
	if assistantText != "" {
		batch = append(batch, models.Message{Role: models.RoleAssistant, Content: assistantText, CreatedAt: now})
	}
	if len(batch) > 0 {
		_ = o.memory.Add(ctx, tenant, batch, true)
	}
}

// HandleTriggeredTask synthesizes the virtual user message a triggered
// task hands to HandleMessage (§6.4) and runs it through the same
// lifecycle as a user-originated message.
func (o *Orchestrator) HandleTriggeredTask(ctx context.Context, tenant, content, source, taskID string) (models.ReactLoopResult, models.RoutingDecision, error) {
	t, c, metadata := triggers.VirtualMessage(tenant, content, source, taskID)
	return o.HandleMessage(ctx, t, c, metadata)
}

// PendingApprovals surfaces tenant's trigger-originated pending approvals
// (§6.4's outbound direction), so an external scheduler can notify a human
// without polling the approval store directly.
func (o *Orchestrator) PendingApprovals(ctx context.Context, tenant string) ([]triggers.PendingApproval, error) {
	return o.triggers.ListPendingApprovals(ctx, tenant)
}

// Credentials exposes the credential-store collaborator (§6.2) to callers
// building plain tools that need tenant-scoped secrets (e.g. an OAuth
// token for an outbound API call) without giving every tool direct
// construction access to the store.
func (o *Orchestrator) Credentials() credentials.Store {
	return o.credentials
}

// Pool exposes the agent pool so a process entry point can start its TTL
// and waiting-timeout sweepers once, at startup.
func (o *Orchestrator) Pool() *agentpool.Pool {
	return o.pool
}

// Registry exposes the Agent-Tool registry so a process entry point can
// register concrete Agent types before serving traffic.
func (o *Orchestrator) Registry() *agentpool.Registry {
	return o.registry
}

// IsAgentTool reports whether name is a registered Agent-Tool, satisfying
// toolinvoker.AgentDispatcher.
func (o *Orchestrator) IsAgentTool(name string) bool {
	_, ok := o.registry.Spec(name)
	return ok
}

// DispatchAgentTool instantiates and drives one Agent-Tool call to its
// first pause or completion (§4.2's Agent-Tool path), satisfying
// toolinvoker.AgentDispatcher.
func (o *Orchestrator) DispatchAgentTool(ctx context.Context, call models.ToolCall) (toolinvoker.AgentDispatchResult, error) {
	spec, ok := o.registry.Spec(call.Name)
	if !ok {
		return toolinvoker.AgentDispatchResult{IsError: true, Content: fmt.Sprintf("unknown agent %q", call.Name), Status: models.ResultError}, nil
	}

	var args map[string]any
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return toolinvoker.AgentDispatchResult{IsError: true, Content: fmt.Sprintf("arguments for %q are not a valid JSON object", call.Name), Status: models.ResultError}, nil
		}
	}

	taskInstruction, _ := args["task_instruction"].(string)

	validFields := make(map[string]bool, len(spec.InputFields))
	for _, f := range spec.InputFields {
		validFields[f.Name] = true
	}

	agent, ok := o.registry.New(call.Name)
	if !ok {
		return toolinvoker.AgentDispatchResult{IsError: true, Content: fmt.Sprintf("unknown agent %q", call.Name), Status: models.ResultError}, nil
	}
	for name, value := range args {
		if name == "task_instruction" || !validFields[name] {
			continue
		}
		// An invalid value is treated as missing, not as an error: the
		// agent's own prompt for that field will surface on the next turn.
		_ = agent.SetField(name, value)
	}

	agentResult, err := agent.Reply(ctx, taskInstruction)
	if err != nil {
		return toolinvoker.AgentDispatchResult{IsError: true, Content: err.Error(), Status: models.ResultError}, nil
	}

	tenant := tenantFromContext(ctx)
	now := time.Now()

	switch agentResult.Status {
	case models.ResultCompleted:
		return toolinvoker.AgentDispatchResult{Status: models.ResultCompleted, Content: agentResult.Text}, nil

	case models.ResultWaitingForInput:
		entry := &models.AgentPoolEntry{
			AgentID:         call.ID,
			AgentType:       call.Name,
			TenantID:        tenant,
			Status:          models.StatusWaitingForInput,
			SchemaVersion:   spec.SchemaVersion,
			CollectedFields: agent.Fields(),
			CreatedAt:       now,
			LastActivity:    now,
			AgentPrompt:     agentResult.Text,
		}
		if err := o.pool.Put(ctx, entry); err != nil {
			return toolinvoker.AgentDispatchResult{}, err
		}
		return toolinvoker.AgentDispatchResult{Status: models.ResultWaitingForInput, Content: agentResult.Text}, nil

	case models.ResultWaitingForApproval:
		entry := &models.AgentPoolEntry{
			AgentID:         call.ID,
			AgentType:       call.Name,
			TenantID:        tenant,
			Status:          models.StatusWaitingForApproval,
			SchemaVersion:   spec.SchemaVersion,
			CollectedFields: agent.Fields(),
			CreatedAt:       now,
			LastActivity:    now,
			ApprovalPrompt:  agentResult.Text,
		}
		if err := o.pool.Put(ctx, entry); err != nil {
			return toolinvoker.AgentDispatchResult{}, err
		}
		req := models.ApprovalRequest{
			AgentID:        call.ID,
			AgentName:      call.Name,
			ActionSummary:  agentResult.Text,
			Details:        agent.Fields(),
			Options:        models.DefaultApprovalOptions,
			TimeoutMinutes: o.config.ApprovalTimeoutMinutes,
		}
		if _, err := o.approvals.Build(ctx, call.ID, req); err != nil {
			return toolinvoker.AgentDispatchResult{}, err
		}
		return toolinvoker.AgentDispatchResult{Status: models.ResultWaitingForApproval, Content: agentResult.Text, Approval: &req}, nil

	default:
		return toolinvoker.AgentDispatchResult{IsError: true, Content: agentResult.ErrorMessage, Status: models.ResultError}, nil
	}
}

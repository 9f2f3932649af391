// Package reactloop implements the core Reason-Act loop (§4.1): an
// iterative LLM call, followed by concurrent tool execution, followed by
// another LLM call, until the assistant stops requesting tools or max_turns
// is reached. Grounded on internal/agent/loop.go's AgenticLoop state
// machine (Init → Stream → ExecuteTools → Continue/Complete), reworked
// around the orchestrator's ReactLoopResult value type instead of a
// streamed-chunk channel.
package reactloop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	orcherrors "github.com/nexusagents/orchestrator/internal/errors"
	"github.com/nexusagents/orchestrator/internal/llmprovider"
	"github.com/nexusagents/orchestrator/internal/toolinvoker"
	"github.com/nexusagents/orchestrator/pkg/models"
)

// terminalInstruction is appended to the message list for the forced final
// call once max_turns is reached (§4.1 step 7).
const terminalInstruction = "You have executed enough steps. Provide a final answer from the information gathered so far."

const tooLongResponse = "This conversation has grown too long to continue. Please start a new conversation."

// Config controls one Loop's behavior.
type Config struct {
	MaxTurns int
	Model    string
	System   string
	Logger   *slog.Logger
}

// ContextManager is the subset of internal/contextmgr.Manager the loop
// needs, named as an interface here so this package does not force a
// dependency on contextmgr's concrete type onto every caller that already
// holds one.
type ContextManager interface {
	PreemptiveTrim([]models.Message) []models.Message
	TruncateToolResult(string) string
	TrimToHistoryLimit([]models.Message) []models.Message
	TruncateAllToolResults([]models.Message) []models.Message
	ForceTrim([]models.Message) []models.Message
}

// Loop runs the ReAct algorithm over a provider, tool invoker, and context
// manager.
type Loop struct {
	provider llmprovider.Provider
	invoker  *toolinvoker.Invoker
	ctxmgr   ContextManager
	config   Config
	logger   *slog.Logger
}

// New builds a Loop. config.MaxTurns <= 0 defaults to 10.
func New(provider llmprovider.Provider, invoker *toolinvoker.Invoker, ctxmgr ContextManager, config Config) *Loop {
	if config.MaxTurns <= 0 {
		config.MaxTurns = 10
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		provider: provider, invoker: invoker, ctxmgr: ctxmgr, config: config,
		logger: logger.With("component", "reactloop"),
	}
}

// Run executes the loop against an initial message list and tool catalog,
// returning a ReactLoopResult. A context-overflow error is recovered through
// the trim chain (§7); every other provider error, including a retryable one
// whose provider-level retries are exhausted, is returned to the caller.
func (l *Loop) Run(ctx context.Context, messages []models.Message, tools []llmprovider.ToolDef) (models.ReactLoopResult, error) {
	return l.run(ctx, messages, tools, l.config.System)
}

// RunWithSystem is Run with the Loop's configured system prompt replaced
// for this call only, used by internal/orchestrator to build a per-message
// system prompt (persona + time + recalled facts, §4.6 step 1) without
// rebuilding a Loop per message.
func (l *Loop) RunWithSystem(ctx context.Context, messages []models.Message, tools []llmprovider.ToolDef, system string) (models.ReactLoopResult, error) {
	return l.run(ctx, messages, tools, system)
}

func (l *Loop) run(ctx context.Context, messages []models.Message, tools []llmprovider.ToolDef, system string) (models.ReactLoopResult, error) {
	start := time.Now()
	msgs := append([]models.Message(nil), messages...)

	var result models.ReactLoopResult

	for turn := 0; ; turn++ {
		msgs = l.ctxmgr.PreemptiveTrim(msgs)

		useTools := tools
		if turn >= l.config.MaxTurns {
			msgs = append(msgs, models.Message{Role: models.RoleUser, Content: terminalInstruction, CreatedAt: time.Now()})
			useTools = nil
		}

		chat, usedMsgs, err := l.callWithRecovery(ctx, msgs, useTools, system)
		msgs = usedMsgs
		if err != nil {
			if err.Error() == tooLongResponse {
				result.Response = tooLongResponse
				result.Turns = turn + 1
				result.DurationMS = time.Since(start).Milliseconds()
				return result, nil
			}
			return result, err
		}
		result.TokenUsage.Add(chat.Usage)

		if turn >= l.config.MaxTurns {
			result.Response = chat.Message.Content
			result.Turns = turn + 1
			result.DurationMS = time.Since(start).Milliseconds()
			return result, nil
		}

		if len(chat.Message.ToolCalls) == 0 {
			result.Response = chat.Message.Content
			result.Turns = turn + 1
			result.DurationMS = time.Since(start).Milliseconds()
			return result, nil
		}

		msgs = append(msgs, chat.Message)

		toolResults := l.invoker.InvokeAll(ctx, chat.Message.ToolCalls)
		parked := false
		for _, r := range toolResults {
			content := r.Content
			if !r.IsError {
				content = l.ctxmgr.TruncateToolResult(content)
			}
			msgs = append(msgs, models.Message{
				Role:       models.RoleTool,
				Content:    content,
				ToolCallID: r.ToolCallID,
				IsError:    r.IsError,
				CreatedAt:  time.Now(),
			})

			result.ToolCallRecords = append(result.ToolCallRecords, models.ToolCallRecord{
				Name:         r.ToolName,
				DurationMS:   r.Duration.Milliseconds(),
				Success:      !r.IsError,
				ResultStatus: r.ResultStatus,
				ResultChars:  len(r.Content),
			})

			if r.ResultStatus == models.ResultWaitingForInput || r.ResultStatus == models.ResultWaitingForApproval {
				parked = true
				if r.ResultStatus == models.ResultWaitingForApproval && r.Approval != nil {
					result.PendingApprovals = append(result.PendingApprovals, *r.Approval)
				}
			}
		}

		if parked {
			result.Response = lastToolContent(toolResults)
			result.Turns = turn + 1
			result.DurationMS = time.Since(start).Milliseconds()
			return result, nil
		}
	}
}

// lastToolContent returns the prompt content of the last parked result, so
// a turn that parks exactly one agent surfaces that agent's prompt as the
// loop's response (§4.1 step 5).
func lastToolContent(results []toolinvoker.Result) string {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].ResultStatus == models.ResultWaitingForInput || results[i].ResultStatus == models.ResultWaitingForApproval {
			return results[i].Content
		}
	}
	return ""
}

// callWithRecovery performs one Chat call, running the §7 context-overflow
// recovery chain (trim_if_needed → truncate_all_tool_results → force_trim)
// when the provider classifies the failure as requiring a context trim.
// Any other error is returned unwrapped for the caller to classify.
func (l *Loop) callWithRecovery(ctx context.Context, msgs []models.Message, tools []llmprovider.ToolDef, system string) (llmprovider.ChatResult, []models.Message, error) {
	opts := llmprovider.ChatOptions{Model: l.config.Model, System: system}

	chat, err := l.provider.Chat(ctx, msgs, tools, opts)
	if err == nil {
		return chat, msgs, nil
	}
	if !requiresContextTrim(err) {
		return llmprovider.ChatResult{}, msgs, err
	}
	l.logger.Warn("context overflow, entering recovery chain", "error", err)

	steps := []struct {
		name string
		fn   func([]models.Message) []models.Message
	}{
		{"trim_if_needed", l.ctxmgr.TrimToHistoryLimit},
		{"truncate_all_tool_results", l.ctxmgr.TruncateAllToolResults},
		{"force_trim", l.ctxmgr.ForceTrim},
	}
	for _, step := range steps {
		msgs = step.fn(msgs)
		chat, err = l.provider.Chat(ctx, msgs, tools, opts)
		if err == nil {
			l.logger.Info("context overflow recovered", "step", step.name)
			return chat, msgs, nil
		}
		if !requiresContextTrim(err) {
			return llmprovider.ChatResult{}, msgs, err
		}
	}

	l.logger.Error("context overflow recovery chain exhausted")
	return llmprovider.ChatResult{}, msgs, fmt.Errorf(tooLongResponse)
}

func requiresContextTrim(err error) bool {
	llmErr, ok := orcherrors.GetLLMError(err)
	return ok && llmErr.Class.RequiresContextTrim()
}

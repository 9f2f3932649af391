// Package contextmgr implements the three-tier context-size management
// described in SPEC_FULL.md §4.4: per-tool-result truncation, preemptive
// trimming before each LLM call, and a more aggressive force-trim used
// during context-overflow recovery (§7).
package contextmgr

import (
	"log/slog"
	"strings"

	"github.com/nexusagents/orchestrator/pkg/models"
)

// Settings configures a Manager. Field names match internal/config's
// ReactLoopConfig so a Manager can be built directly from loaded config.
type Settings struct {
	ContextTokenLimit    int
	ContextTrimThreshold float64
	MaxToolResultShare   float64
	MaxToolResultChars   int
	MaxHistoryMessages   int
	Logger               *slog.Logger
}

// Manager applies the three trim tiers to a conversation history.
type Manager struct {
	settings Settings
	logger   *slog.Logger
}

// New builds a Manager from settings.
func New(settings Settings) *Manager {
	logger := settings.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{settings: settings, logger: logger.With("component", "contextmgr")}
}

// TruncateToolResult applies tier 1: shrinking a single tool result before
// it is appended to history. max_chars is derived from the token budget,
// converting tokens to a character estimate at a 4 chars/token ratio, and
// capped by MaxToolResultChars. When a cut is required, the manager prefers
// to break at a newline in the second half of the content so the truncation
// doesn't land mid-line.
func (m *Manager) TruncateToolResult(content string) string {
	maxChars := m.maxToolResultChars()
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}

	cut := maxChars
	half := maxChars / 2
	if idx := strings.LastIndexByte(content[half:cut], '\n'); idx >= 0 {
		cut = half + idx
	}
	return content[:cut] + "\n[...truncated]"
}

func (m *Manager) maxToolResultChars() int {
	fromBudget := int(float64(m.settings.ContextTokenLimit) * m.settings.MaxToolResultShare * 4)
	if fromBudget <= 0 || fromBudget > m.settings.MaxToolResultChars {
		return m.settings.MaxToolResultChars
	}
	return fromBudget
}

// EstimateTokens approximates token count at 4 characters per token over
// every message's content, the rule §4.4 specifies in place of exact
// tokenization.
func (m *Manager) EstimateTokens(messages []models.Message) int {
	chars := 0
	for _, msg := range messages {
		chars += len(msg.Content)
	}
	return chars / 4
}

// PreemptiveTrim applies tier 2, run before every LLM call: if the estimated
// token count exceeds ContextTokenLimit × ContextTrimThreshold, keep all
// system messages plus the last MaxHistoryMessages non-system messages,
// preserving the tool_call/tool_result pairing invariant (a tool-role
// message is never kept without the assistant message that issued its
// tool_call staying in the window, and vice versa). Below the threshold,
// messages pass through unchanged.
func (m *Manager) PreemptiveTrim(messages []models.Message) []models.Message {
	threshold := float64(m.settings.ContextTokenLimit) * m.settings.ContextTrimThreshold
	estimated := m.EstimateTokens(messages)
	if threshold <= 0 || float64(estimated) <= threshold {
		return messages
	}
	m.logger.Debug("preemptive trim triggered", "estimated_tokens", estimated, "threshold", threshold)
	return trimKeepingLast(messages, m.settings.MaxHistoryMessages, false)
}

// TrimToHistoryLimit applies the same window as PreemptiveTrim but
// unconditionally, ignoring the token threshold. This is the "trim_if_needed"
// retry step of the §7 context-overflow recovery chain, where the caller
// already knows it must shrink the history rather than merely estimating
// whether it should. Like ForceTrim, it also drops a trailing assistant turn
// left with unsatisfied tool_calls (§8 invariant 3 binds both).
func (m *Manager) TrimToHistoryLimit(messages []models.Message) []models.Message {
	return trimKeepingLast(messages, m.settings.MaxHistoryMessages, true)
}

// ForceTrim applies tier 3, used only during context-overflow recovery
// (§7): keep system messages plus the last 5 non-system messages. Same
// pairing-preservation rule as PreemptiveTrim, applied unconditionally. If
// the most recent assistant turn still has unsatisfied tool_calls after that
// window is applied, that turn is dropped too.
func (m *Manager) ForceTrim(messages []models.Message) []models.Message {
	return trimKeepingLast(messages, 5, true)
}

// TruncateAllToolResults rewrites every tool-role message in place using
// tier 1's cap, a step in the §7 context-overflow recovery chain between
// PreemptiveTrim and ForceTrim.
func (m *Manager) TruncateAllToolResults(messages []models.Message) []models.Message {
	out := make([]models.Message, len(messages))
	for i, msg := range messages {
		out[i] = msg
		if msg.Role == models.RoleTool {
			out[i].Content = m.TruncateToolResult(msg.Content)
		}
	}
	return out
}

// trimKeepingLast keeps all system messages plus the last keep non-system
// messages, extended backward to a tool_call/tool_result pair boundary. When
// dropTrailingOrphan is set, it additionally drops a trailing assistant turn
// left with unsatisfied tool_calls after that window is applied — the
// force_trim/trim_if_needed contract of §8 invariant 3, which binds even
// when the caller's input already fit inside keep without any trimming.
func trimKeepingLast(messages []models.Message, keep int, dropTrailingOrphan bool) []models.Message {
	result := messages
	if keep > 0 && len(messages) > 0 {
		var system []models.Message
		var rest []models.Message
		for _, msg := range messages {
			if msg.Role == models.RoleSystem {
				system = append(system, msg)
			} else {
				rest = append(rest, msg)
			}
		}
		if len(rest) > keep {
			start := extendToPairBoundary(rest, len(rest)-keep)
			trimmed := make([]models.Message, 0, len(system)+len(rest)-start)
			trimmed = append(trimmed, system...)
			trimmed = append(trimmed, rest[start:]...)
			result = trimmed
		}
	}
	if dropTrailingOrphan {
		result = dropTrailingUnresolvedToolCall(result)
	}
	return result
}

// dropTrailingUnresolvedToolCall removes the final message when it is an
// assistant turn carrying tool_calls, since by construction nothing after
// the last message in the slice can satisfy them.
func dropTrailingUnresolvedToolCall(messages []models.Message) []models.Message {
	if len(messages) == 0 {
		return messages
	}
	last := messages[len(messages)-1]
	if last.Role == models.RoleAssistant && len(last.ToolCalls) > 0 {
		return messages[:len(messages)-1]
	}
	return messages
}

// extendToPairBoundary walks start backward while doing so is required to
// avoid splitting an assistant tool_call from its tool result message: a
// tool-role message at index i must never be kept unless the assistant
// message that issued the matching tool_call is also kept.
func extendToPairBoundary(messages []models.Message, start int) int {
	for start > 0 && start < len(messages) && messages[start].Role == models.RoleTool {
		start--
	}
	return start
}

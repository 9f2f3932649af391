package contextmgr

import (
	"strings"
	"testing"

	"github.com/nexusagents/orchestrator/pkg/models"
)

func TestTruncateToolResultNoop(t *testing.T) {
	m := New(Settings{ContextTokenLimit: 1000, MaxToolResultShare: 0.5, MaxToolResultChars: 4000})
	short := "hello world"
	if got := m.TruncateToolResult(short); got != short {
		t.Fatalf("expected unchanged content, got %q", got)
	}
}

func TestTruncateToolResultCutsAtNewline(t *testing.T) {
	m := New(Settings{ContextTokenLimit: 100, MaxToolResultShare: 1.0, MaxToolResultChars: 40})
	content := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 40)
	got := m.TruncateToolResult(content)
	if !strings.HasSuffix(got, "[...truncated]") {
		t.Fatalf("expected truncation marker, got %q", got)
	}
	if len(got) >= len(content) {
		t.Fatalf("expected shorter content, got len=%d", len(got))
	}
	if want := strings.Repeat("a", 30) + "\n[...truncated]"; got != want {
		t.Fatalf("expected cut at the newline, got %q", got)
	}
}

func TestPreemptiveTrimNoopUnderThreshold(t *testing.T) {
	m := New(Settings{MaxHistoryMessages: 1, ContextTokenLimit: 1_000_000, ContextTrimThreshold: 0.8})
	messages := []models.Message{
		{Role: models.RoleUser, Content: "u1"},
		{Role: models.RoleUser, Content: "u2"},
	}
	trimmed := m.PreemptiveTrim(messages)
	if len(trimmed) != len(messages) {
		t.Fatalf("expected no trim below threshold, got %d messages", len(trimmed))
	}
}

func TestPreemptiveTrimKeepsSystemAndPairing(t *testing.T) {
	m := New(Settings{MaxHistoryMessages: 2, ContextTokenLimit: 1, ContextTrimThreshold: 1})
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "u1"},
		{Role: models.RoleAssistant, Content: "", ToolCalls: []models.ToolCall{{ID: "1", Name: "x"}}},
		{Role: models.RoleTool, ToolCallID: "1", Content: "result"},
		{Role: models.RoleUser, Content: "u2"},
	}

	trimmed := m.PreemptiveTrim(messages)

	if trimmed[0].Role != models.RoleSystem {
		t.Fatalf("expected system message retained first, got %v", trimmed[0])
	}
	for i, msg := range trimmed {
		if msg.Role == models.RoleTool {
			if i == 0 || trimmed[i-1].Role != models.RoleAssistant {
				t.Fatalf("tool message at %d has no preceding assistant message: %+v", i, trimmed)
			}
		}
	}
}

func TestTruncateAllToolResultsOnlyAffectsToolMessages(t *testing.T) {
	m := New(Settings{ContextTokenLimit: 100, MaxToolResultShare: 1.0, MaxToolResultChars: 5})
	messages := []models.Message{
		{Role: models.RoleUser, Content: "this is a long user message"},
		{Role: models.RoleTool, ToolCallID: "1", Content: "this is a long tool result"},
	}
	out := m.TruncateAllToolResults(messages)
	if out[0].Content != messages[0].Content {
		t.Fatalf("expected non-tool message untouched, got %q", out[0].Content)
	}
	if out[1].Content == messages[1].Content {
		t.Fatalf("expected tool message truncated")
	}
}

func TestForceTrimKeepsLastFive(t *testing.T) {
	m := New(Settings{})
	var messages []models.Message
	for i := 0; i < 20; i++ {
		messages = append(messages, models.Message{Role: models.RoleUser, Content: "m"})
	}
	trimmed := m.ForceTrim(messages)
	if len(trimmed) != 5 {
		t.Fatalf("expected 5 messages kept, got %d", len(trimmed))
	}
}

func TestForceTrimDropsTrailingUnresolvedToolCall(t *testing.T) {
	m := New(Settings{})
	var messages []models.Message
	for i := 0; i < 18; i++ {
		messages = append(messages, models.Message{Role: models.RoleUser, Content: "m"})
	}
	messages = append(messages, models.Message{
		Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "1", Name: "x"}},
	})

	trimmed := m.ForceTrim(messages)

	for _, msg := range trimmed {
		if msg.Role == models.RoleAssistant && len(msg.ToolCalls) > 0 {
			t.Fatalf("expected orphaned trailing assistant tool_call turn dropped, got %+v", trimmed)
		}
	}
}

func TestForceTrimLeavesResolvedTrailingToolCallIntact(t *testing.T) {
	m := New(Settings{})
	var messages []models.Message
	for i := 0; i < 17; i++ {
		messages = append(messages, models.Message{Role: models.RoleUser, Content: "m"})
	}
	messages = append(messages,
		models.Message{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "1", Name: "x"}}},
		models.Message{Role: models.RoleTool, ToolCallID: "1", Content: "result"},
	)

	trimmed := m.ForceTrim(messages)

	last := trimmed[len(trimmed)-1]
	if last.Role != models.RoleTool {
		t.Fatalf("expected resolved tool_call pair left intact, got %+v", trimmed)
	}
}

func TestTrimToHistoryLimitDropsTrailingUnresolvedToolCallEvenWithinWindow(t *testing.T) {
	m := New(Settings{MaxHistoryMessages: 10})
	messages := []models.Message{
		{Role: models.RoleUser, Content: "u1"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "1", Name: "x"}}},
	}

	trimmed := m.TrimToHistoryLimit(messages)

	if len(trimmed) != 1 {
		t.Fatalf("expected the orphaned assistant turn dropped even though it fit inside the window, got %+v", trimmed)
	}
}

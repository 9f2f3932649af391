package openai

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexusagents/orchestrator/internal/llmprovider"
	"github.com/nexusagents/orchestrator/pkg/models"
)

func TestConvertMessagesInjectsSystemFirst(t *testing.T) {
	out, err := convertMessages([]models.Message{{Role: models.RoleUser, Content: "hi"}}, "be terse")
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(out) != 2 || out[0].Role != openai.ChatMessageRoleSystem || out[0].Content != "be terse" {
		t.Fatalf("expected leading system message, got %+v", out)
	}
}

func TestConvertMessagesToolResultUsesToolCallID(t *testing.T) {
	out, err := convertMessages([]models.Message{
		{Role: models.RoleTool, Content: "42 degrees", ToolCallID: "call-1"},
	}, "")
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(out) != 1 || out[0].Role != openai.ChatMessageRoleTool || out[0].ToolCallID != "call-1" {
		t.Fatalf("expected a tool message linked to call-1, got %+v", out)
	}
}

func TestConvertMessagesAssistantToolCalls(t *testing.T) {
	out, err := convertMessages([]models.Message{
		{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCall{
				{ID: "call-1", Name: "get_weather", Arguments: json.RawMessage(`{"city":"nyc"}`)},
			},
		},
	}, "")
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(out) != 1 || len(out[0].ToolCalls) != 1 || out[0].ToolCalls[0].Function.Name != "get_weather" {
		t.Fatalf("expected converted tool call, got %+v", out)
	}
}

func TestConvertToolsFallsBackToEmptySchemaOnInvalidJSON(t *testing.T) {
	tools := convertTools([]llmprovider.ToolDef{{Name: "broken", Parameters: []byte("not json")}})
	if len(tools) != 1 {
		t.Fatalf("expected one tool, got %d", len(tools))
	}
	schema, ok := tools[0].Function.Parameters.(map[string]any)
	if !ok || schema["type"] != "object" {
		t.Fatalf("expected empty-object schema fallback, got %+v", tools[0].Function.Parameters)
	}
}

func TestAccumulateAndFlushToolCalls(t *testing.T) {
	acc := make(map[int]*models.ToolCall)
	idx := 0
	accumulateToolCalls(acc, []openai.ToolCall{
		{Index: &idx, ID: "call-1", Function: openai.FunctionCall{Name: "get_weather"}},
	})
	accumulateToolCalls(acc, []openai.ToolCall{
		{Index: &idx, Function: openai.FunctionCall{Arguments: `{"city":`}},
	})
	accumulateToolCalls(acc, []openai.ToolCall{
		{Index: &idx, Function: openai.FunctionCall{Arguments: `"nyc"}`}},
	})

	var flushed []llmprovider.Chunk
	out := make(chan llmprovider.Chunk, 4)
	flushToolCalls(out, acc)
	close(out)
	for c := range out {
		flushed = append(flushed, c)
	}

	if len(flushed) != 1 || flushed[0].ToolCall == nil {
		t.Fatalf("expected one flushed tool call, got %+v", flushed)
	}
	if string(flushed[0].ToolCall.Arguments) != `{"city":"nyc"}` {
		t.Fatalf("expected accumulated arguments, got %q", flushed[0].ToolCall.Arguments)
	}
}

func TestFlushToolCallsSkipsIncomplete(t *testing.T) {
	acc := map[int]*models.ToolCall{0: {ID: "call-1"}} // missing Name
	out := make(chan llmprovider.Chunk, 1)
	flushToolCalls(out, acc)
	close(out)
	if _, ok := <-out; ok {
		t.Fatal("expected no chunk for an incomplete tool call")
	}
}

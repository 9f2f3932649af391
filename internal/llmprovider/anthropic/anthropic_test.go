package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/nexusagents/orchestrator/internal/llmprovider"
	"github.com/nexusagents/orchestrator/pkg/models"
)

func TestConvertMessagesSkipsSystemRole(t *testing.T) {
	out, err := convertMessages([]models.Message{
		{Role: models.RoleSystem, Content: "ignored"},
		{Role: models.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected system message dropped, got %d messages", len(out))
	}
}

func TestConvertMessagesToolResultBecomesUserTurn(t *testing.T) {
	out, err := convertMessages([]models.Message{
		{Role: models.RoleTool, Content: "42 degrees", ToolCallID: "call-1"},
	})
	if err != nil {
		t.Fatalf("convertMessages: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one message, got %d", len(out))
	}
}

func TestConvertMessagesInvalidToolArguments(t *testing.T) {
	_, err := convertMessages([]models.Message{
		{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCall{
				{ID: "call-1", Name: "broken", Arguments: json.RawMessage("not json")},
			},
		},
	})
	if err == nil {
		t.Fatal("expected an error for invalid tool call arguments")
	}
}

func TestConvertToolsRejectsInvalidSchema(t *testing.T) {
	_, err := convertTools([]llmprovider.ToolDef{{Name: "broken", Parameters: json.RawMessage("not json")}})
	if err == nil {
		t.Fatal("expected an error for an invalid tool schema")
	}
}

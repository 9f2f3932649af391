package models

import "time"

// StreamEventType discriminates the typed event sequence emitted by
// Orchestrator.StreamMessage (§5.3).
type StreamEventType string

const (
	EventMessageStart  StreamEventType = "MESSAGE_START"
	EventMessageChunk  StreamEventType = "MESSAGE_CHUNK"
	EventMessageEnd    StreamEventType = "MESSAGE_END"
	EventStateChange   StreamEventType = "STATE_CHANGE"
	EventFieldCollected StreamEventType = "FIELD_COLLECTED"
	EventFieldValidated StreamEventType = "FIELD_VALIDATED"
	EventToolCallStart  StreamEventType = "TOOL_CALL_START"
	EventToolCallEnd    StreamEventType = "TOOL_CALL_END"
	EventToolResult     StreamEventType = "TOOL_RESULT"
	EventError          StreamEventType = "ERROR"
	EventDone           StreamEventType = "DONE"
)

// StreamEvent is one item of the typed event sequence described in §5.3.
// Exactly the fields relevant to Type are populated; the rest are zero.
// Sequence is monotonic within a single StreamMessage call, grounded on the
// teacher's AgentEvent.Sequence ordering guarantee.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	Sequence  uint64          `json:"seq"`
	Time      time.Time       `json:"time"`

	// MESSAGE_CHUNK
	Delta string `json:"delta,omitempty"`

	// STATE_CHANGE
	AgentID   string      `json:"agent_id,omitempty"`
	AgentType string      `json:"agent_type,omitempty"`
	Status    AgentStatus `json:"status,omitempty"`

	// FIELD_COLLECTED / FIELD_VALIDATED
	FieldName  string `json:"field_name,omitempty"`
	FieldValid bool   `json:"field_valid,omitempty"`

	// TOOL_CALL_START / TOOL_CALL_END / TOOL_RESULT
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ToolOutput string `json:"tool_output,omitempty"`
	ToolError  bool   `json:"tool_error,omitempty"`

	// ERROR
	ErrorMessage string `json:"error_message,omitempty"`
}

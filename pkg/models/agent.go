package models

import "time"

// FieldType enumerates the primitive types an Agent-Tool input field may take.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldInt    FieldType = "int"
	FieldFloat  FieldType = "float"
	FieldBool   FieldType = "bool"
)

// InputField declares one parameter of an Agent-Tool, synthesized into the
// tool's JSON-schema parameters object by internal/toolcatalog.
type InputField struct {
	Name          string
	Type          FieldType
	Description   string
	Required      bool
	Default       any
	ValidatorHint string
}

// AgentSpec is the registry record for one Agent-Tool type (§3, §4.2).
// SchemaVersion is a stable deterministic hash over (name, type, required)
// tuples of InputFields, sorted by name — see internal/toolcatalog.SchemaVersion.
type AgentSpec struct {
	Name           string
	Description    string
	InputFields    []InputField
	NeedsApproval  bool
	ExposeAsTool   bool
	SchemaVersion  uint64
}

// AgentStatus is the non-terminal lifecycle state of an agent instance.
// Terminal states (completed, error, cancelled) never live in the pool.
type AgentStatus string

const (
	StatusWaitingForInput    AgentStatus = "WAITING_FOR_INPUT"
	StatusWaitingForApproval AgentStatus = "WAITING_FOR_APPROVAL"
	StatusPaused             AgentStatus = "PAUSED"
)

// AgentPoolEntry is a persisted, non-terminal agent instance (§3, §4.3).
type AgentPoolEntry struct {
	AgentID         string
	AgentType       string
	TenantID        string
	Status          AgentStatus
	SchemaVersion   uint64
	CollectedFields map[string]any
	CreatedAt       time.Time
	LastActivity    time.Time
	TTLDeadline     time.Time
	ApprovalPrompt  string
	AgentPrompt     string
}

// ResultStatus classifies how a single tool call resolved, recorded onto a
// ToolCallRecord for observability (§3).
type ResultStatus string

const (
	ResultCompleted         ResultStatus = "COMPLETED"
	ResultWaitingForInput   ResultStatus = "WAITING_FOR_INPUT"
	ResultWaitingForApproval ResultStatus = "WAITING_FOR_APPROVAL"
	ResultError             ResultStatus = "ERROR"
	ResultNull              ResultStatus = "NULL"
)

// ToolCallRecord is the per-call audit entry appended to a ReactLoopResult.
type ToolCallRecord struct {
	Name            string
	ArgsSummary     string
	DurationMS      int64
	Success         bool
	ResultStatus    ResultStatus
	ResultChars     int
	TokenAttribution int
}

// ApprovalRequest is surfaced to the caller when an Agent-Tool parks in
// WAITING_FOR_APPROVAL (§3, §4.5).
type ApprovalRequest struct {
	AgentID           string
	AgentName         string
	ActionSummary     string
	Details           map[string]any
	Options           []string
	TimeoutMinutes    int
	AllowModification bool

	// Source/TaskID identify a request that originates from the
	// trigger-engine contract (§6.4) rather than a live conversation turn.
	// Orchestrator.DispatchAgentTool does not set them; they are non-empty
	// only when a caller fills them in.
	Source string
	TaskID string
}

// DefaultApprovalOptions is the fixed option set from §3.
var DefaultApprovalOptions = []string{"approve", "edit", "cancel"}

// ReactLoopResult is the outcome of one ReactLoop.Run call (§3, §4.1).
type ReactLoopResult struct {
	Response         string
	Turns            int
	ToolCallRecords  []ToolCallRecord
	TokenUsage       TokenUsage
	DurationMS       int64
	PendingApprovals []ApprovalRequest
}

// Package llmprovider defines the LLM provider boundary (§6.1) and its two
// concrete implementations: internal/llmprovider/anthropic and
// internal/llmprovider/openai.
package llmprovider

import (
	"context"

	"github.com/nexusagents/orchestrator/pkg/models"
)

// ToolDef is one tool's function-calling definition, as synthesized by
// internal/toolcatalog.
type ToolDef struct {
	Name        string
	Description string
	Parameters  []byte
}

// ChatOptions controls a single Chat/Stream call.
type ChatOptions struct {
	Model       string
	System      string
	MaxTokens   int
	Temperature float64
}

// ChatResult is the outcome of a non-streaming completion call.
type ChatResult struct {
	Message   models.Message
	Usage     models.TokenUsage
	StopTool  bool // true when the model produced at least one tool call
}

// Chunk is one piece of a streamed completion.
type Chunk struct {
	TextDelta string
	ToolCall  *models.ToolCall
	Usage     *models.TokenUsage
	Done      bool
	Err       error
}

// Provider is the orchestrator's boundary to an LLM function-calling API
// (§6.1). Two reference implementations are provided: anthropic (backed by
// anthropic-sdk-go) and openai (backed by go-openai).
type Provider interface {
	Name() string
	Chat(ctx context.Context, messages []models.Message, tools []ToolDef, opts ChatOptions) (ChatResult, error)
	Stream(ctx context.Context, messages []models.Message, tools []ToolDef, opts ChatOptions) (<-chan Chunk, error)
}

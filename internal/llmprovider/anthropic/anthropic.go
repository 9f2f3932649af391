// Package anthropic implements llmprovider.Provider against Anthropic's
// Claude API via anthropic-sdk-go.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	orcherrors "github.com/nexusagents/orchestrator/internal/errors"
	"github.com/nexusagents/orchestrator/internal/llmprovider"
	"github.com/nexusagents/orchestrator/pkg/models"
)

// Config configures a Provider.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
	Logger       *slog.Logger
}

// Provider implements llmprovider.Provider for Anthropic.
type Provider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	logger       *slog.Logger
}

// New builds a Provider. config.APIKey is required.
func New(config Config) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &Provider{
		client:       anthropic.NewClient(opts...),
		defaultModel: config.DefaultModel,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		logger:       logger.With("component", "llmprovider.anthropic"),
	}, nil
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

func (p *Provider) buildParams(messages []models.Message, tools []llmprovider.ToolDef, opts llmprovider.ChatOptions) (anthropic.MessageNewParams, error) {
	converted, err := convertMessages(messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(opts.Model)),
		Messages:  converted,
		MaxTokens: int64(maxTokens),
	}
	if opts.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: opts.System}}
	}
	if len(tools) > 0 {
		converted, err := convertTools(tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = converted
	}
	return params, nil
}

// Chat performs one non-streaming completion call, retrying retryable
// failures with exponential backoff (grounded on the teacher's
// BaseProvider.Retry/Complete retry loop). A timeout is retried at most once.
func (p *Provider) Chat(ctx context.Context, messages []models.Message, tools []llmprovider.ToolDef, opts llmprovider.ChatOptions) (llmprovider.ChatResult, error) {
	params, err := p.buildParams(messages, tools, opts)
	if err != nil {
		return llmprovider.ChatResult{}, err
	}

	var msg *anthropic.Message
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		msg, err = p.client.Messages.New(ctx, params)
		if err == nil {
			break
		}
		classified := orcherrors.NewLLMError("anthropic", string(params.Model), err)
		if !classified.Class.Retryable() || attempt >= p.maxRetries || (classified.Class == orcherrors.LLMTimeout && attempt >= 1) {
			p.logger.Error("chat call failed", "model", string(params.Model), "attempt", attempt, "error", classified)
			return llmprovider.ChatResult{}, classified
		}
		backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
		p.logger.Warn("chat call failed, retrying", "model", string(params.Model), "attempt", attempt, "backoff", backoff, "error", classified)
		select {
		case <-ctx.Done():
			return llmprovider.ChatResult{}, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return toChatResult(msg), nil
}

// Stream performs a streaming completion call, emitting text chunks as they
// arrive and the accumulated tool-call and usage chunks once the stream ends.
func (p *Provider) Stream(ctx context.Context, messages []models.Message, tools []llmprovider.ToolDef, opts llmprovider.ChatOptions) (<-chan llmprovider.Chunk, error) {
	params, err := p.buildParams(messages, tools, opts)
	if err != nil {
		return nil, err
	}

	out := make(chan llmprovider.Chunk)
	go func() {
		defer close(out)

		stream := p.client.Messages.NewStreaming(ctx, params)
		acc := anthropic.Message{}

		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				out <- llmprovider.Chunk{Err: err}
				return
			}

			switch delta := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if text := delta.Delta.Text; text != "" {
					out <- llmprovider.Chunk{TextDelta: text}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- llmprovider.Chunk{Err: orcherrors.NewLLMError("anthropic", string(params.Model), err)}
			return
		}

		result := toChatResult(&acc)
		if result.Message.ToolCalls != nil {
			for _, tc := range result.Message.ToolCalls {
				tc := tc
				out <- llmprovider.Chunk{ToolCall: &tc}
			}
		}
		usage := result.Usage
		out <- llmprovider.Chunk{Usage: &usage, Done: true}
	}()
	return out, nil
}

func toChatResult(msg *anthropic.Message) llmprovider.ChatResult {
	message := models.Message{Role: models.RoleAssistant, CreatedAt: time.Now()}
	var text strings.Builder
	var toolCalls []models.ToolCall

	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			id := variant.ID
			if id == "" {
				id = uuid.NewString()
			}
			toolCalls = append(toolCalls, models.ToolCall{
				ID:        id,
				Name:      variant.Name,
				Arguments: json.RawMessage(variant.Input),
			})
		}
	}

	message.Content = text.String()
	message.ToolCalls = toolCalls

	return llmprovider.ChatResult{
		Message: message,
		Usage: models.TokenUsage{
			Input:  int(msg.Usage.InputTokens),
			Output: int(msg.Usage.OutputTokens),
			Total:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		StopTool: len(toolCalls) > 0,
	}
}

// convertMessages maps the orchestrator's role-tagged messages onto
// Anthropic's content-block message shape: tool-role messages become
// tool_result blocks on a user turn, assistant tool calls become
// tool_use blocks (§6.1, grounded on the teacher's convertMessages).
func convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}

		if msg.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError))
			result = append(result, anthropic.NewUserMessage(content...))
			continue
		}

		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					return nil, fmt.Errorf("anthropic: invalid tool call arguments for %s: %w", tc.Name, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func convertTools(tools []llmprovider.ToolDef) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid schema for tool %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid tool definition for %s", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		result = append(result, param)
	}
	return result, nil
}

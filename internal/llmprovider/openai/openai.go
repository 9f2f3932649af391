// Package openai implements llmprovider.Provider against OpenAI's chat
// completion API via go-openai.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

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

// Provider implements llmprovider.Provider for OpenAI.
type Provider struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	logger       *slog.Logger
}

// New builds a Provider. config.APIKey is required.
func New(config Config) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = openai.GPT4o
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &Provider{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: config.DefaultModel,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		logger:       logger.With("component", "llmprovider.openai"),
	}, nil
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

func (p *Provider) buildRequest(messages []models.Message, tools []llmprovider.ToolDef, opts llmprovider.ChatOptions, stream bool) (openai.ChatCompletionRequest, error) {
	converted, err := convertMessages(messages, opts.System)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	req := openai.ChatCompletionRequest{
		Model:    p.model(opts.Model),
		Messages: converted,
		Stream:   stream,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = float32(opts.Temperature)
	}
	if len(tools) > 0 {
		req.Tools = convertTools(tools)
	}
	return req, nil
}

// Chat performs one non-streaming completion call, retrying retryable
// failures with exponential backoff: the wait before retry n is
// retryDelay * 2^(n-1). A timeout is retried at most once.
func (p *Provider) Chat(ctx context.Context, messages []models.Message, tools []llmprovider.ToolDef, opts llmprovider.ChatOptions) (llmprovider.ChatResult, error) {
	req, err := p.buildRequest(messages, tools, opts, false)
	if err != nil {
		return llmprovider.ChatResult{}, err
	}

	var resp openai.ChatCompletionResponse
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return llmprovider.ChatResult{}, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(1<<(attempt-1))):
			}
		}
		resp, err = p.client.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}
		classified := orcherrors.NewLLMError("openai", req.Model, err)
		if !classified.Class.Retryable() || attempt >= p.maxRetries || (classified.Class == orcherrors.LLMTimeout && attempt >= 1) {
			p.logger.Error("chat call failed", "model", req.Model, "attempt", attempt, "error", classified)
			return llmprovider.ChatResult{}, classified
		}
		p.logger.Warn("chat call failed, retrying", "model", req.Model, "attempt", attempt, "error", classified)
	}
	if err != nil {
		return llmprovider.ChatResult{}, orcherrors.NewLLMError("openai", req.Model, err)
	}

	return toChatResult(&resp), nil
}

// Stream performs a streaming completion call, accumulating tool-call
// fragments across chunks by index before emitting them (grounded on the
// teacher's processStream).
func (p *Provider) Stream(ctx context.Context, messages []models.Message, tools []llmprovider.ToolDef, opts llmprovider.ChatOptions) (<-chan llmprovider.Chunk, error) {
	req, err := p.buildRequest(messages, tools, opts, true)
	if err != nil {
		return nil, err
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, orcherrors.NewLLMError("openai", req.Model, err)
	}

	out := make(chan llmprovider.Chunk)
	go func() {
		defer close(out)
		defer stream.Close()

		toolCalls := make(map[int]*models.ToolCall)
		var usage models.TokenUsage

		for {
			select {
			case <-ctx.Done():
				out <- llmprovider.Chunk{Err: ctx.Err(), Done: true}
				return
			default:
			}

			resp, err := stream.Recv()
			if err != nil {
				if err == io.EOF {
					flushToolCalls(out, toolCalls)
					out <- llmprovider.Chunk{Usage: &usage, Done: true}
					return
				}
				out <- llmprovider.Chunk{Err: orcherrors.NewLLMError("openai", req.Model, err), Done: true}
				return
			}
			if resp.Usage != nil {
				usage = models.TokenUsage{
					Input:  resp.Usage.PromptTokens,
					Output: resp.Usage.CompletionTokens,
					Total:  resp.Usage.TotalTokens,
				}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.Delta.Content != "" {
				out <- llmprovider.Chunk{TextDelta: choice.Delta.Content}
			}
			accumulateToolCalls(toolCalls, choice.Delta.ToolCalls)
			if choice.FinishReason == openai.FinishReasonToolCalls {
				flushToolCalls(out, toolCalls)
				toolCalls = make(map[int]*models.ToolCall)
			}
		}
	}()
	return out, nil
}

func accumulateToolCalls(acc map[int]*models.ToolCall, deltas []openai.ToolCall) {
	for _, tc := range deltas {
		index := 0
		if tc.Index != nil {
			index = *tc.Index
		}
		if acc[index] == nil {
			acc[index] = &models.ToolCall{}
		}
		if tc.ID != "" {
			acc[index].ID = tc.ID
		}
		if tc.Function.Name != "" {
			acc[index].Name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			acc[index].Arguments = append(acc[index].Arguments, []byte(tc.Function.Arguments)...)
		}
	}
}

func flushToolCalls(out chan<- llmprovider.Chunk, acc map[int]*models.ToolCall) {
	for _, tc := range acc {
		if tc.Name == "" {
			continue
		}
		if tc.ID == "" {
			tc.ID = uuid.NewString()
		}
		tc := tc
		out <- llmprovider.Chunk{ToolCall: tc}
	}
}

func toChatResult(resp *openai.ChatCompletionResponse) llmprovider.ChatResult {
	message := models.Message{Role: models.RoleAssistant, CreatedAt: time.Now()}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0].Message
		message.Content = choice.Content
		for _, tc := range choice.ToolCalls {
			id := tc.ID
			if id == "" {
				id = uuid.NewString()
			}
			message.ToolCalls = append(message.ToolCalls, models.ToolCall{
				ID:        id,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			})
		}
	}

	return llmprovider.ChatResult{
		Message: message,
		Usage: models.TokenUsage{
			Input:  resp.Usage.PromptTokens,
			Output: resp.Usage.CompletionTokens,
			Total:  resp.Usage.TotalTokens,
		},
		StopTool: len(message.ToolCalls) > 0,
	}
}

// convertMessages maps the orchestrator's role-tagged messages onto
// OpenAI's flat message list: the system prompt becomes a leading system
// message, tool-role messages become one openai.ChatMessageRoleTool message
// per tool_call_id, and assistant tool calls become ToolCalls entries
// (grounded on the teacher's convertToOpenAIMessages).
func convertMessages(messages []models.Message, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			continue
		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			result = append(result, oaiMsg)
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		}
	}

	return result, nil
}

func convertTools(tools []llmprovider.ToolDef) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

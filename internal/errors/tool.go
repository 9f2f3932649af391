package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for tool and agent-pool operations.
var (
	ErrMaxTurns         = errors.New("max turns exceeded")
	ErrContextCancelled = errors.New("context cancelled")
	ErrToolNotFound     = errors.New("tool not found")
	ErrToolTimeout      = errors.New("tool execution timed out")
	ErrToolPanic        = errors.New("tool panicked")
	ErrAgentNotFound    = errors.New("agent not found in pool")
	ErrSchemaStale      = errors.New("agent schema version stale")
)

// ToolErrorClass categorizes a tool-call failure (§4.2, §7).
type ToolErrorClass string

const (
	ToolErrorNotFound     ToolErrorClass = "not_found"
	ToolErrorInvalidArgs  ToolErrorClass = "invalid_args"
	ToolErrorTimeout      ToolErrorClass = "timeout"
	ToolErrorExecution    ToolErrorClass = "execution"
	ToolErrorPanic        ToolErrorClass = "panic"
	ToolErrorUnknown      ToolErrorClass = "unknown"
)

// Retryable reports whether retrying the same call may succeed. Per §7 no
// tool-call class is automatically retried by the loop itself (the caller's
// own tool may implement its own retry) — only timeout is worth a caller
// flagging to a human as transient.
func (c ToolErrorClass) Retryable() bool {
	return c == ToolErrorTimeout
}

// ToolCallError is a structured failure from executing one tool call.
type ToolCallError struct {
	Class      ToolErrorClass
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
}

func (e *ToolCallError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Class))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ToolCallError) Unwrap() error { return e.Cause }

// NewToolCallError classifies cause and wraps it for toolName.
func NewToolCallError(toolName string, cause error) *ToolCallError {
	e := &ToolCallError{ToolName: toolName, Cause: cause, Class: ToolErrorUnknown}
	if cause != nil {
		e.Message = cause.Error()
		e.Class = classifyToolCallError(cause)
	}
	return e
}

// WithToolCallID sets the originating tool_call id.
func (e *ToolCallError) WithToolCallID(id string) *ToolCallError {
	e.ToolCallID = id
	return e
}

func classifyToolCallError(err error) ToolErrorClass {
	if err == nil {
		return ToolErrorUnknown
	}
	if errors.Is(err, ErrToolNotFound) {
		return ToolErrorNotFound
	}
	if errors.Is(err, ErrToolTimeout) {
		return ToolErrorTimeout
	}
	if errors.Is(err, ErrToolPanic) {
		return ToolErrorPanic
	}

	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline exceeded"):
		return ToolErrorTimeout
	case strings.Contains(s, "invalid"), strings.Contains(s, "required"), strings.Contains(s, "missing"):
		return ToolErrorInvalidArgs
	case strings.Contains(s, "panic"):
		return ToolErrorPanic
	default:
		return ToolErrorExecution
	}
}

// IsToolCallError reports whether err is (or wraps) a *ToolCallError.
func IsToolCallError(err error) bool {
	var e *ToolCallError
	return errors.As(err, &e)
}

// GetToolCallError extracts a *ToolCallError from err's chain.
func GetToolCallError(err error) (*ToolCallError, bool) {
	var e *ToolCallError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

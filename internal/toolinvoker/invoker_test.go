package toolinvoker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nexusagents/orchestrator/pkg/models"
)

type fakeTool struct {
	name  string
	delay time.Duration
	err   error
	out   string
}

func (f *fakeTool) Name() string { return f.name }

func (f *fakeTool) Execute(ctx context.Context, _ json.RawMessage) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

func TestInvokeAllPreservesOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "slow", delay: 30 * time.Millisecond, out: "slow-done"})
	reg.Register(&fakeTool{name: "fast", out: "fast-done"})

	inv := New(reg, nil, Config{Concurrency: 4, PerCallTimeout: time.Second})

	calls := []models.ToolCall{
		{ID: "1", Name: "slow"},
		{ID: "2", Name: "fast"},
	}

	results := inv.InvokeAll(context.Background(), calls)

	if results[0].ToolCallID != "1" || results[0].Content != "slow-done" {
		t.Fatalf("expected result 0 to be the slow call in original position, got %+v", results[0])
	}
	if results[1].ToolCallID != "2" || results[1].Content != "fast-done" {
		t.Fatalf("expected result 1 to be the fast call in original position, got %+v", results[1])
	}
}

func TestInvokeAllUnknownTool(t *testing.T) {
	inv := New(NewRegistry(), nil, Config{})
	results := inv.InvokeAll(context.Background(), []models.ToolCall{{ID: "1", Name: "missing"}})
	if !results[0].IsError {
		t.Fatal("expected unknown tool to produce an error result")
	}
}

func TestInvokeAllPerCallTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "slow", delay: 50 * time.Millisecond})
	inv := New(reg, nil, Config{PerCallTimeout: 5 * time.Millisecond})

	results := inv.InvokeAll(context.Background(), []models.ToolCall{{ID: "1", Name: "slow"}})
	if !results[0].IsError {
		t.Fatal("expected timeout to produce an error result")
	}
}

func TestInvokeAllOneFailureDoesNotCancelSiblings(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "bad", err: context.Canceled})
	reg.Register(&fakeTool{name: "good", out: "ok"})
	inv := New(reg, nil, Config{})

	results := inv.InvokeAll(context.Background(), []models.ToolCall{
		{ID: "1", Name: "bad"},
		{ID: "2", Name: "good"},
	})

	if !results[0].IsError {
		t.Fatal("expected first call to fail")
	}
	if results[1].IsError || results[1].Content != "ok" {
		t.Fatalf("expected second call to succeed independently, got %+v", results[1])
	}
}

type fakeDispatcher struct{ agentTools map[string]bool }

func (d *fakeDispatcher) IsAgentTool(name string) bool { return d.agentTools[name] }
func (d *fakeDispatcher) DispatchAgentTool(_ context.Context, call models.ToolCall) (AgentDispatchResult, error) {
	return AgentDispatchResult{Status: models.ResultCompleted, Content: "agent:" + call.Name}, nil
}

func TestInvokeAllRoutesAgentTools(t *testing.T) {
	dispatcher := &fakeDispatcher{agentTools: map[string]bool{"book_restaurant": true}}
	inv := New(NewRegistry(), dispatcher, Config{})

	results := inv.InvokeAll(context.Background(), []models.ToolCall{{ID: "1", Name: "book_restaurant"}})
	if results[0].IsError || results[0].Content != "agent:book_restaurant" {
		t.Fatalf("expected agent-tool dispatch, got %+v", results[0])
	}
	if results[0].ResultStatus != models.ResultCompleted {
		t.Fatalf("expected completed result status, got %v", results[0].ResultStatus)
	}
}

func TestInvokeAllAgentToolWaitingForApprovalCarriesRequest(t *testing.T) {
	dispatcher := &parkingDispatcher{}
	inv := New(NewRegistry(), dispatcher, Config{})

	results := inv.InvokeAll(context.Background(), []models.ToolCall{{ID: "1", Name: "book_restaurant"}})
	if results[0].IsError {
		t.Fatalf("a parked wait is not an error result, got %+v", results[0])
	}
	if results[0].ResultStatus != models.ResultWaitingForApproval || results[0].Approval == nil {
		t.Fatalf("expected a waiting-for-approval result with an attached request, got %+v", results[0])
	}
}

type parkingDispatcher struct{}

func (d *parkingDispatcher) IsAgentTool(string) bool { return true }
func (d *parkingDispatcher) DispatchAgentTool(_ context.Context, call models.ToolCall) (AgentDispatchResult, error) {
	return AgentDispatchResult{
		Status:   models.ResultWaitingForApproval,
		Content:  "Shall I book this table?",
		Approval: &models.ApprovalRequest{AgentID: call.ID, AgentName: call.Name},
	}, nil
}

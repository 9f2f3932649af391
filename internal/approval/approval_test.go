package approval

import (
	"context"
	"testing"
	"time"

	"github.com/nexusagents/orchestrator/pkg/models"
)

func TestBuildAndResolveApprove(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), nil)

	pending, err := c.Build(ctx, "agent-1", models.ApprovalRequest{AgentName: "booker", ActionSummary: "book table"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	resolved, err := c.Resolve(ctx, pending.ID, ActionApprove, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Action != ActionApprove || !resolved.Resolved {
		t.Fatalf("expected resolved approval, got %+v", resolved)
	}
}

func TestResolveEditCarriesFields(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), nil)
	pending, _ := c.Build(ctx, "agent-1", models.ApprovalRequest{})

	edited := map[string]any{"party_size": 4}
	resolved, err := c.Resolve(ctx, pending.ID, ActionEdit, edited)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.EditedFields["party_size"] != 4 {
		t.Fatalf("expected edited fields carried through, got %+v", resolved.EditedFields)
	}
}

func TestResolveExpired(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), nil)
	pending, _ := c.Build(ctx, "agent-1", models.ApprovalRequest{TimeoutMinutes: 1})
	pending.ExpiresAt = time.Now().Add(-time.Minute)
	_ = c.store.Update(ctx, pending)

	if _, err := c.Resolve(ctx, pending.ID, ActionApprove, nil); err == nil {
		t.Fatal("expected error resolving an expired approval")
	}
}

func TestExpireOverdueMarksAndReturnsLapsedRequests(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), nil)

	overdue, _ := c.Build(ctx, "agent-1", models.ApprovalRequest{TimeoutMinutes: 1})
	overdue.ExpiresAt = time.Now().Add(-time.Minute)
	_ = c.store.Update(ctx, overdue)

	fresh, _ := c.Build(ctx, "agent-2", models.ApprovalRequest{TimeoutMinutes: 30})

	expired, err := c.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("expire overdue: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != overdue.ID {
		t.Fatalf("expected exactly the overdue request, got %+v", expired)
	}

	stored, ok, _ := c.store.Get(ctx, overdue.ID)
	if !ok || !stored.Resolved || stored.Action != ActionExpire {
		t.Fatalf("expected overdue request marked resolved with ActionExpire, got %+v", stored)
	}

	freshStored, _, _ := c.store.Get(ctx, fresh.ID)
	if freshStored.Resolved {
		t.Fatalf("expected the non-expired request to remain unresolved")
	}
}

func TestExpireOverdueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), nil)
	pending, _ := c.Build(ctx, "agent-1", models.ApprovalRequest{TimeoutMinutes: 1})
	pending.ExpiresAt = time.Now().Add(-time.Minute)
	_ = c.store.Update(ctx, pending)

	first, _ := c.ExpireOverdue(ctx)
	second, _ := c.ExpireOverdue(ctx)
	if len(first) != 1 {
		t.Fatalf("expected one expiry on first sweep, got %d", len(first))
	}
	if len(second) != 0 {
		t.Fatalf("expected no expiry on second sweep, got %d", len(second))
	}
}

func TestListForAgentExcludesResolved(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), nil)
	p1, _ := c.Build(ctx, "agent-1", models.ApprovalRequest{})
	_, _ = c.Build(ctx, "agent-1", models.ApprovalRequest{})
	_, _ = c.Resolve(ctx, p1.ID, ActionCancel, nil)

	pending, err := c.ListForAgent(ctx, "agent-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 unresolved approval, got %d", len(pending))
	}
}

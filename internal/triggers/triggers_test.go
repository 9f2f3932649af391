package triggers

import (
	"context"
	"testing"

	"github.com/nexusagents/orchestrator/pkg/models"
)

func TestRegisterAndListPendingApprovals(t *testing.T) {
	ctx := context.Background()
	e := NewMemoryEngine()
	err := e.RegisterPendingApproval(ctx, "tenant-1", PendingApproval{
		ApprovalRequest: models.ApprovalRequest{AgentID: "agent-1"},
		Source:          "scheduler",
		TaskID:          "task-1",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	pending, err := e.ListPendingApprovals(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].TaskID != "task-1" {
		t.Fatalf("expected one pending approval, got %+v", pending)
	}
}

func TestResolvePendingApprovalRemovesEntry(t *testing.T) {
	ctx := context.Background()
	e := NewMemoryEngine()
	_ = e.RegisterPendingApproval(ctx, "tenant-1", PendingApproval{ApprovalRequest: models.ApprovalRequest{AgentID: "agent-1"}})
	if err := e.ResolvePendingApproval(ctx, "tenant-1", "agent-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	pending, _ := e.ListPendingApprovals(ctx, "tenant-1")
	if len(pending) != 0 {
		t.Fatalf("expected no pending approvals after resolution, got %+v", pending)
	}
}

func TestVirtualMessageCarriesTriggerMetadata(t *testing.T) {
	tenant, content, metadata := VirtualMessage("tenant-1", "do the thing", "scheduler", "task-1")
	if tenant != "tenant-1" || content != "do the thing" {
		t.Fatalf("unexpected tenant/content: %q %q", tenant, content)
	}
	if metadata["source"] != "scheduler" || metadata["task_id"] != "task-1" {
		t.Fatalf("unexpected metadata: %+v", metadata)
	}
}

// Package triggers implements the trigger-engine contract (§6.4): outbound,
// it surfaces pending approvals per tenant so an external scheduler can
// notify a human; inbound, it synthesizes the virtual user message a
// triggered task hands to Orchestrator.HandleMessage. Grounded on
// internal/jobs/store.go's Store shape.
package triggers

import (
	"context"
	"sync"

	"github.com/nexusagents/orchestrator/pkg/models"
)

// PendingApproval is one ApprovalRequest augmented with the trigger source
// that created it, surfaced by ListPendingApprovals.
type PendingApproval struct {
	models.ApprovalRequest
	Source string
	TaskID string
}

// Engine is the Orchestrator's outbound view into the trigger system.
type Engine interface {
	ListPendingApprovals(ctx context.Context, tenant string) ([]PendingApproval, error)
	RegisterPendingApproval(ctx context.Context, tenant string, approval PendingApproval) error
	ResolvePendingApproval(ctx context.Context, tenant, agentID string) error
}

// MemoryEngine is an in-process reference Engine.
type MemoryEngine struct {
	mu      sync.Mutex
	pending map[string][]PendingApproval // key: tenant
}

// NewMemoryEngine returns an empty in-memory Engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{pending: make(map[string][]PendingApproval)}
}

func (e *MemoryEngine) ListPendingApprovals(_ context.Context, tenant string) ([]PendingApproval, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]PendingApproval(nil), e.pending[tenant]...), nil
}

func (e *MemoryEngine) RegisterPendingApproval(_ context.Context, tenant string, approval PendingApproval) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[tenant] = append(e.pending[tenant], approval)
	return nil
}

func (e *MemoryEngine) ResolvePendingApproval(_ context.Context, tenant, agentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	approvals := e.pending[tenant]
	for i, a := range approvals {
		if a.AgentID == agentID {
			e.pending[tenant] = append(approvals[:i], approvals[i+1:]...)
			return nil
		}
	}
	return nil
}

// VirtualMessage synthesizes the inbound message a triggered task hands to
// Orchestrator.HandleMessage (§6.4): metadata carries the trigger's source
// and task ID so downstream handling can distinguish it from a
// user-originated message without a separate code path.
func VirtualMessage(tenant, content, source, taskID string) (string, string, map[string]any) {
	return tenant, content, map[string]any{
		"source":  source,
		"task_id": taskID,
	}
}

// Package approval implements the approval subsystem described in §4.5:
// building ApprovalRequests tied to paused agent-pool entries and recording
// their approve/edit/cancel resolution. Batching the requests of one turn and
// resuming or discarding the underlying agent happen in the callers.
package approval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	orcherrors "github.com/nexusagents/orchestrator/internal/errors"
	"github.com/nexusagents/orchestrator/pkg/models"
)

// Action is the caller's resolution of a pending approval.
type Action string

const (
	ActionApprove Action = "approve"
	ActionEdit    Action = "edit"
	ActionCancel  Action = "cancel"
	// ActionExpire is recorded by Coordinator.ExpireOverdue on a pending
	// approval whose timeout_minutes lapsed without user action (§4.5); it
	// is never sent by a caller the way approve/edit/cancel are.
	ActionExpire Action = "expire"
)

// Pending is a stored approval request correlated to the agent-pool entry
// it will resume.
type Pending struct {
	ID        string
	AgentID   string
	Request   models.ApprovalRequest
	CreatedAt time.Time
	ExpiresAt time.Time
	Resolved  bool
	Action    Action
	// EditedFields carries the caller-supplied replacement field values when
	// Action is ActionEdit.
	EditedFields map[string]any
}

// Store persists Pending approval requests. Grounded on the teacher's
// ApprovalStore interface (Create/Get/Update/ListPending/Prune).
type Store interface {
	Create(ctx context.Context, p *Pending) error
	Get(ctx context.Context, id string) (*Pending, bool, error)
	Update(ctx context.Context, p *Pending) error
	ListPending(ctx context.Context, agentID string) ([]*Pending, error)
	ListExpired(ctx context.Context, asOf time.Time) ([]*Pending, error)
	Prune(ctx context.Context, olderThan time.Time) (int, error)
}

// MemoryStore is an in-process Store, the reference implementation booted
// when no external store is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*Pending
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*Pending)}
}

func (s *MemoryStore) Create(_ context.Context, p *Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *p
	s.requests[p.ID] = &copied
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Pending, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.requests[id]
	if !ok {
		return nil, false, nil
	}
	copied := *p
	return &copied, true, nil
}

func (s *MemoryStore) Update(_ context.Context, p *Pending) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *p
	s.requests[p.ID] = &copied
	return nil
}

func (s *MemoryStore) ListPending(_ context.Context, agentID string) ([]*Pending, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Pending
	now := time.Now()
	for _, p := range s.requests {
		if p.Resolved {
			continue
		}
		if !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt) {
			continue
		}
		if agentID != "" && p.AgentID != agentID {
			continue
		}
		copied := *p
		out = append(out, &copied)
	}
	return out, nil
}

// ListExpired returns unresolved requests whose ExpiresAt has passed asOf,
// the mirror image of ListPending's own expiry filter.
func (s *MemoryStore) ListExpired(_ context.Context, asOf time.Time) ([]*Pending, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Pending
	for _, p := range s.requests {
		if p.Resolved || p.ExpiresAt.IsZero() {
			continue
		}
		if asOf.After(p.ExpiresAt) {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *MemoryStore) Prune(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for id, p := range s.requests {
		if p.CreatedAt.Before(olderThan) {
			delete(s.requests, id)
			pruned++
		}
	}
	return pruned, nil
}

// Coordinator builds and resolves approval requests.
type Coordinator struct {
	store  Store
	logger *slog.Logger
}

// New builds a Coordinator backed by store, logging through logger (which
// may be nil, falling back to slog.Default()).
func New(store Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, logger: logger.With("component", "approval")}
}

// Build creates and persists a Pending approval for an agent-pool entry
// that parked in WAITING_FOR_APPROVAL. The trigger-engine contract (§6.4)
// supplies its own TTL via req.TimeoutMinutes; 0 means no expiry.
func (c *Coordinator) Build(ctx context.Context, agentID string, req models.ApprovalRequest) (*Pending, error) {
	now := time.Now()
	pending := &Pending{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Request:   req,
		CreatedAt: now,
	}
	if req.TimeoutMinutes > 0 {
		pending.ExpiresAt = now.Add(time.Duration(req.TimeoutMinutes) * time.Minute)
	}
	if err := c.store.Create(ctx, pending); err != nil {
		return nil, err
	}
	return pending, nil
}

// Resolve applies action to the pending approval identified by id. Editing
// requires non-nil editedFields; cancel and approve ignore it. The caller
// (internal/orchestrator) is responsible for actually resuming or
// discarding the correlated agent-pool entry once Resolve returns
// successfully — Resolve only updates the approval record itself.
func (c *Coordinator) Resolve(ctx context.Context, id string, action Action, editedFields map[string]any) (*Pending, error) {
	pending, ok, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, orcherrors.ErrAgentNotFound
	}
	if pending.Resolved {
		return pending, nil
	}
	if !pending.ExpiresAt.IsZero() && time.Now().After(pending.ExpiresAt) {
		return nil, orcherrors.ErrAgentNotFound
	}

	pending.Resolved = true
	pending.Action = action
	if action == ActionEdit {
		pending.EditedFields = editedFields
	}
	if err := c.store.Update(ctx, pending); err != nil {
		return nil, err
	}
	return pending, nil
}

// ListForAgent returns unresolved, unexpired approvals for agentID.
func (c *Coordinator) ListForAgent(ctx context.Context, agentID string) ([]*Pending, error) {
	return c.store.ListPending(ctx, agentID)
}

// Prune removes approval records older than olderThan, independent of
// resolution state, matching the teacher's periodic ApprovalStore.Prune.
func (c *Coordinator) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	return c.store.Prune(ctx, time.Now().Add(-olderThan))
}

// ExpireOverdue marks every unresolved request whose timeout_minutes has
// lapsed as resolved with ActionExpire and returns them, so a caller can
// clean up the agent-pool entry and trigger-engine state each one is tied
// to (§4.5). Safe to call repeatedly; once a request is marked resolved it
// is no longer returned by a later call.
func (c *Coordinator) ExpireOverdue(ctx context.Context) ([]*Pending, error) {
	expired, err := c.store.ListExpired(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	for _, p := range expired {
		p.Resolved = true
		p.Action = ActionExpire
		if err := c.store.Update(ctx, p); err != nil {
			return nil, err
		}
		c.logger.Info("approval request expired", "approval_id", p.ID, "agent_id", p.AgentID)
	}
	return expired, nil
}

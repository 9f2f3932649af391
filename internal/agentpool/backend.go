// Package agentpool implements the per-tenant store of paused agent
// instances described in §4.3: TTL eviction, per-tenant capacity eviction,
// a WAITING-state timeout sweep independent of TTL, and a schema-version
// guard that discards stale persisted entries after a redeploy.
package agentpool

import (
	"context"

	"github.com/nexusagents/orchestrator/pkg/models"
)

// Backend persists AgentPoolEntry records. The in-memory Pool always keeps
// a working copy; Backend exists so a caller can plug in durable storage
// (e.g. a database-backed implementation) without changing Pool's logic,
// the same separation the original source draws between PoolBackend and
// AgentPoolManager.
type Backend interface {
	Save(ctx context.Context, entry *models.AgentPoolEntry) error
	Get(ctx context.Context, agentID string) (*models.AgentPoolEntry, bool, error)
	List(ctx context.Context, tenantID string) ([]*models.AgentPoolEntry, error)
	Delete(ctx context.Context, agentID string) error
	ClearTenant(ctx context.Context, tenantID string) error
	ActiveTenants(ctx context.Context) ([]string, error)
	Close() error
}

// MemoryBackend is an in-process Backend. It is the reference
// implementation the orchestrator boots with when no external store is
// configured (§4.3).
type MemoryBackend struct {
	entries map[string]*models.AgentPoolEntry
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]*models.AgentPoolEntry)}
}

func (b *MemoryBackend) Save(_ context.Context, entry *models.AgentPoolEntry) error {
	copied := *entry
	b.entries[entry.AgentID] = &copied
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, agentID string) (*models.AgentPoolEntry, bool, error) {
	entry, ok := b.entries[agentID]
	if !ok {
		return nil, false, nil
	}
	copied := *entry
	return &copied, true, nil
}

func (b *MemoryBackend) List(_ context.Context, tenantID string) ([]*models.AgentPoolEntry, error) {
	var out []*models.AgentPoolEntry
	for _, entry := range b.entries {
		if entry.TenantID == tenantID {
			copied := *entry
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (b *MemoryBackend) Delete(_ context.Context, agentID string) error {
	delete(b.entries, agentID)
	return nil
}

func (b *MemoryBackend) ClearTenant(_ context.Context, tenantID string) error {
	for id, entry := range b.entries {
		if entry.TenantID == tenantID {
			delete(b.entries, id)
		}
	}
	return nil
}

func (b *MemoryBackend) ActiveTenants(_ context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var tenants []string
	for _, entry := range b.entries {
		if !seen[entry.TenantID] {
			seen[entry.TenantID] = true
			tenants = append(tenants, entry.TenantID)
		}
	}
	return tenants, nil
}

func (b *MemoryBackend) Close() error { return nil }

package agentpool

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	orcherrors "github.com/nexusagents/orchestrator/internal/errors"
	"github.com/nexusagents/orchestrator/pkg/models"
)

// Config mirrors internal/config.PoolConfig's fields relevant to Pool
// behavior, kept separate so this package has no dependency on
// internal/config.
type Config struct {
	SessionTTL         time.Duration
	WaitingTimeout     time.Duration
	MaxAgentsPerTenant int
	Logger             *slog.Logger
}

// Pool is the per-tenant store of paused agent instances (§3, §4.3). It
// caches entries in memory and mirrors writes to a Backend.
type Pool struct {
	mu       sync.Mutex
	backend  Backend
	config   Config
	entries  map[string]*models.AgentPoolEntry
	byTenant map[string]map[string]bool
	logger   *slog.Logger

	stopCh chan struct{}
	ttlTk  *time.Ticker
	waitTk *time.Ticker
}

// New builds a Pool backed by backend.
func New(backend Backend, config Config) *Pool {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		backend:  backend,
		config:   config,
		entries:  make(map[string]*models.AgentPoolEntry),
		byTenant: make(map[string]map[string]bool),
		logger:   logger.With("component", "agentpool"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the TTL sweep and WAITING-timeout sweep loops. The two
// sweeps run on independent tickers: eviction-by-capacity happens
// synchronously inside Put, the TTL sweep runs on its own schedule, and the
// WAITING timeout sweep runs on its own schedule distinct from TTL (§9).
// Remove is idempotent, so the two sweeps racing on the same entry never
// double-counts an eviction.
func (p *Pool) Start(ttlInterval, waitingInterval time.Duration) {
	if ttlInterval > 0 {
		p.ttlTk = time.NewTicker(ttlInterval)
		go p.loop(p.ttlTk, p.sweepTTL)
	}
	if waitingInterval > 0 {
		p.waitTk = time.NewTicker(waitingInterval)
		go p.loop(p.waitTk, p.sweepWaitingTimeout)
	}
}

// Stop halts the background sweep loops.
func (p *Pool) Stop() {
	close(p.stopCh)
	if p.ttlTk != nil {
		p.ttlTk.Stop()
	}
	if p.waitTk != nil {
		p.waitTk.Stop()
	}
}

func (p *Pool) loop(ticker *time.Ticker, fn func()) {
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Put inserts or updates an entry. If the tenant is now over
// MaxAgentsPerTenant, the oldest entry for that tenant (by CreatedAt) is
// evicted first, resolving the ambiguity the original source left open as
// "the oldest session" by using creation time, not last activity.
func (p *Pool) Put(ctx context.Context, entry *models.AgentPoolEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry.LastActivity.IsZero() {
		entry.LastActivity = time.Now()
	}
	if p.config.SessionTTL > 0 {
		entry.TTLDeadline = entry.LastActivity.Add(p.config.SessionTTL)
	}

	copied := *entry
	p.entries[entry.AgentID] = &copied
	if p.byTenant[entry.TenantID] == nil {
		p.byTenant[entry.TenantID] = make(map[string]bool)
	}
	p.byTenant[entry.TenantID][entry.AgentID] = true

	if err := p.backend.Save(ctx, &copied); err != nil {
		return err
	}

	return p.evictOverCapacityLocked(ctx, entry.TenantID)
}

func (p *Pool) evictOverCapacityLocked(ctx context.Context, tenantID string) error {
	if p.config.MaxAgentsPerTenant <= 0 {
		return nil
	}
	ids := p.byTenant[tenantID]
	if len(ids) <= p.config.MaxAgentsPerTenant {
		return nil
	}

	var entries []*models.AgentPoolEntry
	for id := range ids {
		entries = append(entries, p.entries[id])
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	overflow := len(entries) - p.config.MaxAgentsPerTenant
	for i := 0; i < overflow; i++ {
		p.logger.Info("evicting oldest agent pool entry over tenant capacity",
			"agent_id", entries[i].AgentID, "tenant_id", tenantID, "max_agents_per_tenant", p.config.MaxAgentsPerTenant,
		)
		if err := p.removeLocked(ctx, entries[i].AgentID); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the entry for agentID, if present. An entry whose TTL
// deadline has passed is removed on access and reported as absent.
func (p *Pool) Get(ctx context.Context, agentID string) (*models.AgentPoolEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[agentID]
	if !ok {
		return nil, false
	}
	if !entry.TTLDeadline.IsZero() && time.Now().After(entry.TTLDeadline) {
		_ = p.removeLocked(ctx, agentID)
		return nil, false
	}
	copied := *entry
	return &copied, true
}

// GetWaitingForTenant returns the oldest WAITING_FOR_INPUT or
// WAITING_FOR_APPROVAL entry for tenantID, used by the orchestrator's
// check_pending_agents routing step (§4.6). Map iteration order is
// randomized, so candidates are sorted by CreatedAt (the same tie-break
// evictOverCapacityLocked uses) rather than returned on first hit: with
// batched approvals (§4.5) more than one entry can be pending at once, and
// find_pending must resolve the oldest one first. Entries whose TTL deadline
// has passed are removed on access and never returned.
func (p *Pool) GetWaitingForTenant(ctx context.Context, tenantID string) (*models.AgentPoolEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var candidates []*models.AgentPoolEntry
	for id := range p.byTenant[tenantID] {
		entry := p.entries[id]
		if !entry.TTLDeadline.IsZero() && now.After(entry.TTLDeadline) {
			_ = p.removeLocked(ctx, id)
			continue
		}
		if entry.Status == models.StatusWaitingForInput || entry.Status == models.StatusWaitingForApproval {
			candidates = append(candidates, entry)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	copied := *candidates[0]
	return &copied, true
}

// Remove deletes an entry. Idempotent: removing an already-absent agentID
// is not an error.
func (p *Pool) Remove(ctx context.Context, agentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(ctx, agentID)
}

func (p *Pool) removeLocked(ctx context.Context, agentID string) error {
	entry, ok := p.entries[agentID]
	if !ok {
		return nil
	}
	delete(p.entries, agentID)
	if tenantSet := p.byTenant[entry.TenantID]; tenantSet != nil {
		delete(tenantSet, agentID)
		if len(tenantSet) == 0 {
			delete(p.byTenant, entry.TenantID)
		}
	}
	return p.backend.Delete(ctx, agentID)
}

// ClearTenant removes every entry belonging to tenantID.
func (p *Pool) ClearTenant(ctx context.Context, tenantID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.byTenant[tenantID] {
		if err := p.removeLocked(ctx, id); err != nil {
			return err
		}
	}
	return p.backend.ClearTenant(ctx, tenantID)
}

// sweepTTL evicts entries whose TTLDeadline has passed.
func (p *Pool) sweepTTL() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for id, entry := range p.entries {
		if !entry.TTLDeadline.IsZero() && now.After(entry.TTLDeadline) {
			_ = p.removeLocked(context.Background(), id)
		}
	}
}

// sweepWaitingTimeout evicts WAITING-state entries whose LastActivity is
// older than WaitingTimeout, independent of the TTL sweep (§9).
func (p *Pool) sweepWaitingTimeout() {
	if p.config.WaitingTimeout <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for id, entry := range p.entries {
		waiting := entry.Status == models.StatusWaitingForInput || entry.Status == models.StatusWaitingForApproval
		if waiting && now.Sub(entry.LastActivity) > p.config.WaitingTimeout {
			_ = p.removeLocked(context.Background(), id)
		}
	}
}

// RestoreTenant loads tenantID's entries from the backend into memory,
// discarding any whose SchemaVersion doesn't match currentSchemaVersion
// (§4.3's redeploy-safety guard).
func (p *Pool) RestoreTenant(ctx context.Context, tenantID string, currentSchemaVersion uint64) error {
	entries, err := p.backend.List(ctx, tenantID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, entry := range entries {
		if entry.SchemaVersion != currentSchemaVersion {
			p.logger.Warn("discarding agent pool entry with stale schema version",
				"agent_id", entry.AgentID, "tenant_id", entry.TenantID,
				"entry_schema_version", entry.SchemaVersion, "current_schema_version", currentSchemaVersion,
			)
			_ = p.backend.Delete(ctx, entry.AgentID)
			continue
		}
		copied := *entry
		p.entries[entry.AgentID] = &copied
		if p.byTenant[entry.TenantID] == nil {
			p.byTenant[entry.TenantID] = make(map[string]bool)
		}
		p.byTenant[entry.TenantID][entry.AgentID] = true
	}
	return nil
}

// ListTenant returns every in-memory entry for tenantID.
func (p *Pool) ListTenant(tenantID string) []*models.AgentPoolEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*models.AgentPoolEntry
	for id := range p.byTenant[tenantID] {
		copied := *p.entries[id]
		out = append(out, &copied)
	}
	return out
}

// MustGet returns the entry for agentID or a wrapped ErrAgentNotFound.
func (p *Pool) MustGet(ctx context.Context, agentID string) (*models.AgentPoolEntry, error) {
	entry, ok := p.Get(ctx, agentID)
	if !ok {
		return nil, orcherrors.ErrAgentNotFound
	}
	return entry, nil
}

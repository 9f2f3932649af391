package agentpool

import (
	"context"
	"testing"
	"time"

	"github.com/nexusagents/orchestrator/pkg/models"
)

func newTestPool(cfg Config) *Pool {
	return New(NewMemoryBackend(), cfg)
}

func TestPutAndGet(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(Config{})
	entry := &models.AgentPoolEntry{AgentID: "a1", TenantID: "t1", Status: models.StatusWaitingForInput}
	if err := p.Put(ctx, entry); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := p.Get(ctx, "a1")
	if !ok || got.TenantID != "t1" {
		t.Fatalf("expected entry retrievable, got %+v ok=%v", got, ok)
	}
}

func TestEvictOverCapacityOldestFirst(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(Config{MaxAgentsPerTenant: 2})

	base := time.Now()
	entries := []*models.AgentPoolEntry{
		{AgentID: "a1", TenantID: "t1", CreatedAt: base},
		{AgentID: "a2", TenantID: "t1", CreatedAt: base.Add(time.Minute)},
		{AgentID: "a3", TenantID: "t1", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := p.Put(ctx, e); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	if _, ok := p.Get(ctx, "a1"); ok {
		t.Fatal("expected oldest entry a1 to be evicted")
	}
	if _, ok := p.Get(ctx, "a3"); !ok {
		t.Fatal("expected newest entry a3 to remain")
	}
	if len(p.ListTenant("t1")) != 2 {
		t.Fatalf("expected exactly 2 entries remaining, got %d", len(p.ListTenant("t1")))
	}
}

func TestGetWaitingForTenantReturnsOldestPending(t *testing.T) {
	ctx := context.Background()
	base := time.Now()

	// Put several times so map iteration order (which Go randomizes per
	// run) gets a chance to disagree with CreatedAt order if the sort were
	// missing; a single run passing by luck isn't enough to catch this.
	for i := 0; i < 20; i++ {
		p := newTestPool(Config{})
		entries := []*models.AgentPoolEntry{
			{AgentID: "a3", TenantID: "t1", CreatedAt: base.Add(2 * time.Minute), Status: models.StatusWaitingForApproval},
			{AgentID: "a1", TenantID: "t1", CreatedAt: base, Status: models.StatusWaitingForInput},
			{AgentID: "a2", TenantID: "t1", CreatedAt: base.Add(time.Minute), Status: models.StatusWaitingForInput},
		}
		for _, e := range entries {
			if err := p.Put(ctx, e); err != nil {
				t.Fatalf("put: %v", err)
			}
		}

		got, ok := p.GetWaitingForTenant(ctx, "t1")
		if !ok {
			t.Fatal("expected a waiting entry")
		}
		if got.AgentID != "a1" {
			t.Fatalf("expected oldest pending entry a1, got %s", got.AgentID)
		}
	}
}

func TestGetWaitingForTenantSkipsNonWaitingStatus(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(Config{})
	base := time.Now()
	entries := []*models.AgentPoolEntry{
		{AgentID: "a1", TenantID: "t1", CreatedAt: base, Status: models.StatusPaused},
		{AgentID: "a2", TenantID: "t1", CreatedAt: base.Add(time.Minute), Status: models.StatusWaitingForApproval},
	}
	for _, e := range entries {
		if err := p.Put(ctx, e); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	got, ok := p.GetWaitingForTenant(ctx, "t1")
	if !ok || got.AgentID != "a2" {
		t.Fatalf("expected paused entry a1 to be skipped, got %+v ok=%v", got, ok)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(Config{})
	if err := p.Remove(ctx, "missing"); err != nil {
		t.Fatalf("expected no error removing absent entry, got %v", err)
	}
}

func TestSweepTTLEvictsExpired(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(Config{SessionTTL: time.Millisecond})
	entry := &models.AgentPoolEntry{AgentID: "a1", TenantID: "t1", LastActivity: time.Now().Add(-time.Hour)}
	if err := p.Put(ctx, entry); err != nil {
		t.Fatalf("put: %v", err)
	}
	p.sweepTTL()
	if _, ok := p.Get(ctx, "a1"); ok {
		t.Fatal("expected entry to be evicted by TTL sweep")
	}
}

func TestSweepWaitingTimeoutOnlyAffectsWaitingEntries(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(Config{WaitingTimeout: time.Millisecond})
	waiting := &models.AgentPoolEntry{AgentID: "a1", TenantID: "t1", Status: models.StatusWaitingForInput, LastActivity: time.Now().Add(-time.Hour)}
	paused := &models.AgentPoolEntry{AgentID: "a2", TenantID: "t1", Status: models.StatusPaused, LastActivity: time.Now().Add(-time.Hour)}
	if err := p.Put(ctx, waiting); err != nil {
		t.Fatal(err)
	}
	if err := p.Put(ctx, paused); err != nil {
		t.Fatal(err)
	}

	p.sweepWaitingTimeout()

	if _, ok := p.Get(ctx, "a1"); ok {
		t.Fatal("expected waiting entry to be evicted")
	}
	if _, ok := p.Get(ctx, "a2"); !ok {
		t.Fatal("expected paused entry to survive waiting-timeout sweep")
	}
}

func TestRestoreTenantDiscardsStaleSchema(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	_ = backend.Save(ctx, &models.AgentPoolEntry{AgentID: "a1", TenantID: "t1", SchemaVersion: 1})
	_ = backend.Save(ctx, &models.AgentPoolEntry{AgentID: "a2", TenantID: "t1", SchemaVersion: 2})

	p := New(backend, Config{})
	if err := p.RestoreTenant(ctx, "t1", 2); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if _, ok := p.Get(ctx, "a1"); ok {
		t.Fatal("expected stale-schema entry to be discarded")
	}
	if _, ok := p.Get(ctx, "a2"); !ok {
		t.Fatal("expected matching-schema entry to be restored")
	}
}

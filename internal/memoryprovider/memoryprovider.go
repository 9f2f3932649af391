// Package memoryprovider implements the memory provider contract (§6.3):
// per-tenant-session conversation history plus a long-term fact store that
// the Orchestrator's post_process step (§4.6 step 5) feeds turns into.
// Grounded on the teacher's mutex-guarded map-of-slice store shape
// (internal/jobs/store.go, internal/identity/store.go).
package memoryprovider

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nexusagents/orchestrator/pkg/models"
)

// Fact is one long-term memory surfaced by Search.
type Fact struct {
	TenantID  string
	Content   string
	CreatedAt time.Time
}

// Provider is the memory collaborator the Orchestrator calls during
// prepare_context (recall) and post_process (extraction).
type Provider interface {
	GetHistory(ctx context.Context, tenant, session string, limit int) ([]models.Message, error)
	SaveHistory(ctx context.Context, tenant, session string, messages []models.Message) error
	Search(ctx context.Context, tenant, query string, limit int) ([]Fact, error)
	Add(ctx context.Context, tenant string, messages []models.Message, infer bool) error
}

// MemoryProvider is an in-process reference Provider for tests and
// single-process deployments.
type MemoryProvider struct {
	mu       sync.RWMutex
	sessions map[string][]models.Message // key: tenant + "\x00" + session
	facts    map[string][]Fact           // key: tenant
}

// New returns an empty in-memory Provider.
func New() *MemoryProvider {
	return &MemoryProvider{
		sessions: make(map[string][]models.Message),
		facts:    make(map[string][]Fact),
	}
}

func sessionKey(tenant, session string) string {
	return tenant + "\x00" + session
}

func (p *MemoryProvider) GetHistory(_ context.Context, tenant, session string, limit int) ([]models.Message, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	history := p.sessions[sessionKey(tenant, session)]
	if limit <= 0 || len(history) <= limit {
		return append([]models.Message(nil), history...), nil
	}
	return append([]models.Message(nil), history[len(history)-limit:]...), nil
}

func (p *MemoryProvider) SaveHistory(_ context.Context, tenant, session string, messages []models.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[sessionKey(tenant, session)] = append([]models.Message(nil), messages...)
	return nil
}

// Search does a naive substring match over stored facts, a placeholder
// suitable for tests — a production deployment supplies a Provider backed
// by a real embedding/vector store behind this same interface.
func (p *MemoryProvider) Search(_ context.Context, tenant, query string, limit int) ([]Fact, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Fact
	query = strings.ToLower(query)
	for _, f := range p.facts[tenant] {
		if query == "" || strings.Contains(strings.ToLower(f.Content), query) {
			out = append(out, f)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Add extracts a fact per non-empty user message when infer is true. A real
// deployment would call an LLM for extraction; this reference
// implementation keeps the raw content so tests can assert on recall.
func (p *MemoryProvider) Add(_ context.Context, tenant string, messages []models.Message, infer bool) error {
	if !infer {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range messages {
		if msg.Role != models.RoleUser || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		p.facts[tenant] = append(p.facts[tenant], Fact{
			TenantID:  tenant,
			Content:   msg.Content,
			CreatedAt: time.Now(),
		})
	}
	return nil
}

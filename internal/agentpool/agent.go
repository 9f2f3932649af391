package agentpool

import (
	"context"
	"sync"

	"github.com/nexusagents/orchestrator/pkg/models"
)

// AgentResult is one turn's outcome from a live Agent instance (§4.2 step
// 4). Text carries raw_message when Status is ResultCompleted, the
// agent's user-facing prompt when parked WAITING_FOR_INPUT, or the
// approval prompt when parked WAITING_FOR_APPROVAL.
type AgentResult struct {
	Status          models.ResultStatus
	Text            string
	CollectedFields map[string]any
	ErrorMessage    string
}

// Agent is a live, in-process instance of an Agent-Tool (§3, §4.2). A
// factory produces one per tool call; when a turn parks, the orchestrator
// persists its CollectedFields via an AgentPoolEntry and reconstructs a
// fresh Agent from the registry's factory on resumption, seeding it back
// via SetField before calling Reply again.
type Agent interface {
	// SetField validates and stores one collected field. An invalid value
	// must return an error rather than being silently accepted (§4.2
	// step 2).
	SetField(name string, value any) error
	// Fields returns the agent's current collected-field snapshot, used to
	// populate AgentPoolEntry.CollectedFields when the agent parks.
	Fields() map[string]any
	// Reply advances the agent with one user-visible message (the initial
	// task_instruction, or a later resumption message) and returns its
	// next AgentResult.
	Reply(ctx context.Context, message string) (AgentResult, error)
}

// AgentFactory constructs a fresh Agent for one Agent-Tool type.
type AgentFactory func(spec models.AgentSpec) Agent

// Registry maps agent_type names to their AgentSpec and AgentFactory,
// mirroring SPEC_FULL.md §9's "builder/registration API" in place of the
// original source's decorator-based introspection.
type Registry struct {
	mu        sync.RWMutex
	specs     map[string]models.AgentSpec
	factories map[string]AgentFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		specs:     make(map[string]models.AgentSpec),
		factories: make(map[string]AgentFactory),
	}
}

// Register adds or replaces an agent type.
func (r *Registry) Register(spec models.AgentSpec, factory AgentFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Name] = spec
	r.factories[spec.Name] = factory
}

// Spec returns the registered AgentSpec for agentType.
func (r *Registry) Spec(agentType string) (models.AgentSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[agentType]
	return spec, ok
}

// New instantiates a fresh Agent for agentType via its registered factory.
func (r *Registry) New(agentType string) (Agent, bool) {
	r.mu.RLock()
	spec, ok := r.specs[agentType]
	factory := r.factories[agentType]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return factory(spec), true
}

// ExposedAsTools returns every registered AgentSpec with ExposeAsTool set,
// the set the Orchestrator unions into the plain-tool catalog (§4.6 step 4).
func (r *Registry) ExposedAsTools() []models.AgentSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.AgentSpec
	for _, spec := range r.specs {
		if spec.ExposeAsTool {
			out = append(out, spec)
		}
	}
	return out
}

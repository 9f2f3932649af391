package toolcatalog

import (
	"fmt"
	"log/slog"
)

// AgentToolPolicy is a per-agent-type tool policy override (§3.1, grounded
// on the original source's tool_policy.py).
type AgentToolPolicy struct {
	AgentType string
	// Allow is a whitelist: when non-nil, only these tool names are
	// permitted for this agent type regardless of the global allow-list.
	Allow map[string]bool
	Deny  map[string]bool
}

// PolicyFilter applies a two-layer allow/deny filter to a tool catalog:
// global deny -> global allow -> agent deny -> agent allow, in that order.
type PolicyFilter struct {
	globalDeny    map[string]bool
	globalAllow   map[string]bool // nil means unrestricted
	agentPolicies map[string]AgentToolPolicy
	logger        *slog.Logger
}

// NewPolicyFilter returns a filter with no restrictions configured. logger
// may be nil, falling back to slog.Default().
func NewPolicyFilter(logger *slog.Logger) *PolicyFilter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyFilter{
		globalDeny:    map[string]bool{},
		agentPolicies: map[string]AgentToolPolicy{},
		logger:        logger.With("component", "toolcatalog"),
	}
}

// SetGlobalDeny replaces the global deny-list.
func (p *PolicyFilter) SetGlobalDeny(names []string) {
	p.globalDeny = toSet(names)
}

// SetGlobalAllow replaces the global allow-list. Passing nil removes the
// restriction (all tools not otherwise denied become eligible again).
func (p *PolicyFilter) SetGlobalAllow(names []string) {
	if names == nil {
		p.globalAllow = nil
		return
	}
	p.globalAllow = toSet(names)
}

// SetAgentPolicy sets or replaces the per-agent-type override.
func (p *PolicyFilter) SetAgentPolicy(agentType string, allow []string, deny []string) {
	policy := AgentToolPolicy{AgentType: agentType, Deny: toSet(deny)}
	if allow != nil {
		policy.Allow = toSet(allow)
	}
	p.agentPolicies[agentType] = policy
}

// IsToolAllowed reports whether toolName is permitted for agentType (empty
// agentType skips the agent-level layer).
func (p *PolicyFilter) IsToolAllowed(toolName, agentType string) bool {
	if p.globalDeny[toolName] {
		return false
	}
	if p.globalAllow != nil && !p.globalAllow[toolName] {
		return false
	}
	if agentType == "" {
		return true
	}
	ap, ok := p.agentPolicies[agentType]
	if !ok {
		return true
	}
	if ap.Deny[toolName] {
		return false
	}
	if ap.Allow != nil && !ap.Allow[toolName] {
		return false
	}
	return true
}

// FilterTools filters a tool schema list through the configured policies,
// preserving order.
func (p *PolicyFilter) FilterTools(tools []ToolSchema, agentType string) []ToolSchema {
	filtered := make([]ToolSchema, 0, len(tools))
	for _, t := range tools {
		if p.IsToolAllowed(t.Name, agentType) {
			filtered = append(filtered, t)
			continue
		}
		p.logger.Debug("tool filtered from catalog", "tool", t.Name, "agent_type", agentType, "reason", p.FilterReason(t.Name, agentType))
	}
	return filtered
}

// FilterReason returns a human-readable explanation of why a tool was
// filtered, or "" if it is allowed.
func (p *PolicyFilter) FilterReason(toolName, agentType string) string {
	if p.globalDeny[toolName] {
		return fmt.Sprintf("tool %q is in the global deny list", toolName)
	}
	if p.globalAllow != nil && !p.globalAllow[toolName] {
		return fmt.Sprintf("tool %q is not in the global allow list", toolName)
	}
	if agentType != "" {
		if ap, ok := p.agentPolicies[agentType]; ok {
			if ap.Deny[toolName] {
				return fmt.Sprintf("tool %q is denied for agent %q", toolName, agentType)
			}
			if ap.Allow != nil && !ap.Allow[toolName] {
				return fmt.Sprintf("tool %q is not in the allow list for agent %q", toolName, agentType)
			}
		}
	}
	return ""
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

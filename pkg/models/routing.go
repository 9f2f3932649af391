package models

// RoutingReason is a supplement (§3.1) naming why the Orchestrator routed an
// incoming message the way it did, grounded on onevalet/orchestrator/models.py.
type RoutingReason string

const (
	ReasonActiveAgentFound RoutingReason = "active_agent_found"
	ReasonLLMRouting       RoutingReason = "llm_routing"
	ReasonDefaultFallback  RoutingReason = "default_fallback"
	ReasonNoRouter         RoutingReason = "no_router"
)

// RoutingAction is the action the Orchestrator took for a message.
type RoutingAction string

const (
	ActionRouteToExisting RoutingAction = "route_to_existing"
	ActionCreateNew       RoutingAction = "create_new"
	ActionRouteToDefault  RoutingAction = "route_to_default"
)

// RoutingDecision records why check_pending_agents (§4.6 step 3) routed a
// message the way it did, for logging and inspection. This repo only ever
// produces ActionRouteToExisting (ReasonActiveAgentFound) or
// ActionRouteToDefault (ReasonDefaultFallback), plus an empty Action with
// ReasonDefaultFallback when should_process rejects a message, since LLM-based routing to
// named agent types is outside the core's scope; the fuller enum is carried
// so a caller wiring in an LLM router later does not need a breaking change.
type RoutingDecision struct {
	Action       RoutingAction
	AgentID      string
	AgentType    string
	Confidence   float64
	Reason       RoutingReason
}

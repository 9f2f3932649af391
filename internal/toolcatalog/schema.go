// Package toolcatalog synthesizes JSON-schema tool definitions for both
// plain tools and Agent-Tools (§3, §4.2), computes the schema-version hash
// used by internal/agentpool to discard stale persisted entries after a
// redeploy, and applies the two-layer tool-policy filter (§3.1).
package toolcatalog

import (
	"encoding/json"
	"hash/fnv"
	"sort"
	"strconv"

	"github.com/nexusagents/orchestrator/pkg/models"
)

// ToolSchema is the wire shape handed to an LLM provider's function-calling
// interface: a name, a description, and a JSON-schema parameters object.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Tool is a plain (non-agent) tool that already knows its own schema.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
}

// FromTool converts a plain Tool into a ToolSchema.
func FromTool(t Tool) ToolSchema {
	return ToolSchema{Name: t.Name(), Description: t.Description(), Parameters: t.Schema()}
}

// jsonTypeFor maps a models.FieldType to its JSON-schema type keyword.
func jsonTypeFor(t models.FieldType) string {
	switch t {
	case models.FieldInt:
		return "integer"
	case models.FieldFloat:
		return "number"
	case models.FieldBool:
		return "boolean"
	default:
		return "string"
	}
}

// BuildAgentToolSchema synthesizes the JSON-schema parameters object for an
// Agent-Tool from its declared InputFields. Fields are registration-time
// dynamic (not compile-time Go struct fields), so this builds the schema by
// hand from a map rather than through struct-tag reflection, the same
// pattern the teacher uses for its handoff/list_agents tools. An optional
// free-form "task_instruction" string property is always added alongside
// the declared fields.
func BuildAgentToolSchema(spec models.AgentSpec) json.RawMessage {
	properties := map[string]any{
		"task_instruction": map[string]any{
			"type":        "string",
			"description": "Free-form instruction describing the task for the agent.",
		},
	}
	var required []string

	for _, f := range spec.InputFields {
		prop := map[string]any{
			"type":        jsonTypeFor(f.Type),
			"description": f.Description,
		}
		if f.Default != nil {
			prop["default"] = f.Default
		}
		properties[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	data, _ := json.Marshal(schema)
	return data
}

// ToolSchemaForAgent builds the full ToolSchema (name/description/parameters)
// for an AgentSpec exposed as a callable tool.
func ToolSchemaForAgent(spec models.AgentSpec) ToolSchema {
	return ToolSchema{
		Name:        spec.Name,
		Description: spec.Description,
		Parameters:  BuildAgentToolSchema(spec),
	}
}

// SchemaVersion computes a stable hash over an AgentSpec's InputFields,
// sorted by field name, over the (name, type, required) tuple of each. Two
// specs with identical (name, type, required) tuples hash identically even
// if descriptions or defaults changed — those don't affect wire
// compatibility with a pool entry's already-collected fields.
func SchemaVersion(fields []models.InputField) uint64 {
	sorted := append([]models.InputField(nil), fields...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h := fnv.New64a()
	for _, f := range sorted {
		h.Write([]byte(f.Name))
		h.Write([]byte{0})
		h.Write([]byte(f.Type))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatBool(f.Required)))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

package orchestrator

import (
	"time"

	"github.com/nexusagents/orchestrator/pkg/models"
)

// orphanedToolMessage is the content synthesized for a tool_call left
// unresolved across a crash or partial write.
const orphanedToolMessage = "interrupted before completion"

// repairTranscript restores invariant 1 (§8: every tool_call has exactly
// one matching tool-message) over history loaded from a persistence
// collaborator. Grounded on internal/agent/transcript_repair.go's
// repairTranscript, adapted from that teacher's ToolResults-slice-per-
// message shape to this repo's one-ToolCallID-per-message shape, and
// extended per SPEC_FULL.md §3.1's supplement: rather than silently
// dropping an orphaned tool_call, it synthesizes an is_error=true
// tool-message for it so the planner sees the interruption explicitly.
func repairTranscript(history []models.Message) []models.Message {
	if len(history) == 0 {
		return history
	}

	var pending []string
	repaired := make([]models.Message, 0, len(history))

	flushOrphaned := func() {
		for _, id := range pending {
			repaired = append(repaired, models.Message{
				Role:       models.RoleTool,
				Content:    orphanedToolMessage,
				ToolCallID: id,
				IsError:    true,
				CreatedAt:  time.Now(),
			})
		}
		pending = nil
	}

	for _, msg := range history {
		switch msg.Role {
		case models.RoleAssistant:
			flushOrphaned()
			repaired = append(repaired, msg)
			for _, call := range msg.ToolCalls {
				if call.ID != "" {
					pending = append(pending, call.ID)
				}
			}
		case models.RoleTool:
			if msg.ToolCallID != "" {
				pending = removeID(pending, msg.ToolCallID)
			}
			repaired = append(repaired, msg)
		default:
			flushOrphaned()
			repaired = append(repaired, msg)
		}
	}
	flushOrphaned()

	return repaired
}

func removeID(ids []string, target string) []string {
	for i, id := range ids {
		if id == target {
			copy(ids[i:], ids[i+1:])
			return ids[:len(ids)-1]
		}
	}
	return ids
}

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/nexusagents/orchestrator/pkg/models"
)

// StreamMessage runs the same per-message lifecycle as HandleMessage but
// emits a typed event sequence instead of a single ReactLoopResult (§5.3).
// This reference implementation replays HandleMessage's outcome onto the
// event channel rather than streaming individual LLM token deltas —
// llmprovider.Provider.Stream exists for a caller that wants token-level
// output, but wiring it through ReactLoop's tool-execution turns is left to
// a future iteration; what this method guarantees today is the event
// *ordering* contract (MESSAGE_START before any chunk, one TOOL_CALL_END or
// ERROR per TOOL_CALL_START, STATE_CHANGE before DONE), grounded on the
// teacher's internal/gateway/streaming.go channel-based event emission.
func (o *Orchestrator) StreamMessage(ctx context.Context, tenant, text string, metadata map[string]any) (<-chan models.StreamEvent, error) {
	ch := make(chan models.StreamEvent)

	go func() {
		defer close(ch)
		var seq uint64
		emit := func(e models.StreamEvent) {
			seq++
			e.Sequence = seq
			e.Time = time.Now()
			select {
			case ch <- e:
			case <-ctx.Done():
			}
		}

		emit(models.StreamEvent{Type: models.EventMessageStart})

		result, _, err := o.HandleMessage(ctx, tenant, text, metadata)
		if err != nil {
			emit(models.StreamEvent{Type: models.EventError, ErrorMessage: err.Error()})
			emit(models.StreamEvent{Type: models.EventDone})
			return
		}

		for _, rec := range result.ToolCallRecords {
			emit(models.StreamEvent{Type: models.EventToolCallStart, ToolName: rec.Name})
			if rec.Success {
				emit(models.StreamEvent{
					Type:       models.EventToolCallEnd,
					ToolName:   rec.Name,
					ToolOutput: fmt.Sprintf("%d chars", rec.ResultChars),
				})
			} else {
				emit(models.StreamEvent{Type: models.EventError, ToolName: rec.Name, ToolError: true})
			}
		}

		if result.Response != "" {
			emit(models.StreamEvent{Type: models.EventMessageChunk, Delta: result.Response})
		}

		for _, pa := range result.PendingApprovals {
			emit(models.StreamEvent{
				Type:      models.EventStateChange,
				AgentID:   pa.AgentID,
				AgentType: pa.AgentName,
				Status:    models.StatusWaitingForApproval,
			})
		}

		emit(models.StreamEvent{Type: models.EventMessageEnd})
		emit(models.StreamEvent{Type: models.EventDone})
	}()

	return ch, nil
}

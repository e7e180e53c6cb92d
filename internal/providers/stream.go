package providers

import (
	"sort"
	"strings"

	"github.com/cryptohousestar/iabuilder/internal/engine"
)

// toolCallDelta is one streamed tool-call fragment. Providers deliver these
// out of any schema: the id, type and name may appear only on the first
// fragment for a slot, while arguments arrive as string pieces.
type toolCallDelta struct {
	Index     int
	ID        string
	Type      string
	Name      string
	Arguments string
}

// streamAccumulator reassembles a streamed response from its deltas. It is
// a pure function of the delta sequence: feeding the same recorded chunks
// twice yields an identical ChatResponse.
//
// Tool-call fragments merge by index slot, never by id: ids may be present
// only on the first chunk. id/type/name are last-write-wins; arguments
// concatenate in arrival order.
type streamAccumulator struct {
	content strings.Builder
	slots   map[int]*toolCallSlot
	finish  engine.FinishReason
}

type toolCallSlot struct {
	id   string
	name string
	args strings.Builder
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{slots: make(map[int]*toolCallSlot)}
}

func (a *streamAccumulator) addContent(delta string) {
	a.content.WriteString(delta)
}

func (a *streamAccumulator) addToolCall(d toolCallDelta) {
	slot, ok := a.slots[d.Index]
	if !ok {
		slot = &toolCallSlot{}
		a.slots[d.Index] = slot
	}
	if d.ID != "" {
		slot.id = d.ID
	}
	if d.Name != "" {
		slot.name = d.Name
	}
	if d.Arguments != "" {
		slot.args.WriteString(d.Arguments)
	}
}

func (a *streamAccumulator) setFinish(reason engine.FinishReason) {
	if reason != "" {
		a.finish = reason
	}
}

// partialContent exposes the content gathered so far; used to commit the
// partial assistant text when the user aborts a stream.
func (a *streamAccumulator) partialContent() string {
	return a.content.String()
}

// response builds the final ChatResponse: full concatenated content, the
// fully-assembled tool calls in slot order, and the provider's finish
// reason, or "tool_calls" when calls are present and the provider did not
// say, else "stop".
func (a *streamAccumulator) response(usage engine.Usage) engine.ChatResponse {
	indices := make([]int, 0, len(a.slots))
	for idx, slot := range a.slots {
		if slot.name == "" {
			// A slot that never received a name is an aborted fragment.
			continue
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var calls []engine.ToolCall
	for _, idx := range indices {
		slot := a.slots[idx]
		args := slot.args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		calls = append(calls, engine.ToolCall{
			ID:        slot.id,
			Name:      slot.name,
			Arguments: args,
		})
	}

	finish := a.finish
	if finish == "" {
		if len(calls) > 0 {
			finish = engine.FinishToolCalls
		} else {
			finish = engine.FinishStop
		}
	}

	return engine.ChatResponse{
		Content:      a.content.String(),
		ToolCalls:    calls,
		FinishReason: finish,
		Usage:        usage,
	}
}

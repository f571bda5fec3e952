package orchestrator

import (
	"encoding/json"

	"github.com/scribe-notes/scribe/internal/tools"
)

// EventType tags the variants of the conversation event stream.
type EventType string

const (
	EventToken      EventType = "token"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventDomain     EventType = "domain"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
)

// ToolCall statuses.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusError   = "error"
)

// ToolCall tracks one model-requested tool invocation through its
// lifecycle. At most one execution and one result event exist per ID.
type ToolCall struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
	Status     string          `json:"status"`
}

// Event is one entry in a conversation's ordered stream. Exactly the
// fields relevant to its Type are set. Events are snapshots: the
// orchestrator never mutates an event after sending it, so consumers
// may read them at any pace.
type Event struct {
	Type EventType

	// Token is the text delta, for EventToken.
	Token string

	// ToolCall is set for EventToolCall and EventToolResult.
	ToolCall ToolCall
	// Result is set for EventToolResult.
	Result *tools.ResultPayload

	// Domain is set for EventDomain.
	Domain *tools.DomainEvent

	// Err is the terminal error message, for EventError.
	Err string
}

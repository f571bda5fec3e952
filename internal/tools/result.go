package tools

import (
	"encoding/json"

	"github.com/scribe-notes/scribe/internal/audit"
	"github.com/scribe-notes/scribe/internal/executor"
)

// ErrorKind classifies tool failures for the model and the wire.
type ErrorKind string

const (
	ErrKindNone             ErrorKind = ""
	ErrKindTimeout          ErrorKind = "timeout"
	ErrKindOutputTruncated  ErrorKind = "output_truncated"
	ErrKindMalformedOutput  ErrorKind = "malformed_output"
	ErrKindScriptNotAllowed ErrorKind = "script_not_allowed"
	ErrKindExecutionFailed  ErrorKind = "execution_failed"
	ErrKindSpawnError       ErrorKind = "spawn_error"
	ErrKindUnknownTool      ErrorKind = "unknown_tool"
	ErrKindInvalidParams    ErrorKind = "invalid_parameters"
	ErrKindPathRejected     ErrorKind = "path_rejected"
)

// ResultPayload is the tool result in the shape both the model's
// tool_result block and the wire's tool events consume.
type ResultPayload struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorKind    ErrorKind       `json:"error_kind,omitempty"`
	ErrorMessage string          `json:"error,omitempty"`
}

// FailurePayload builds a payload for errors raised before execution
// (unknown tool, invalid parameters, rejected path).
func FailurePayload(kind ErrorKind, message string) ResultPayload {
	return ResultPayload{OK: false, ErrorKind: kind, ErrorMessage: message}
}

// InterpretResult converts an execution result into a ResultPayload,
// mapping each outcome onto the error taxonomy.
func InterpretResult(res *executor.Result) ResultPayload {
	switch res.Outcome {
	case audit.OutcomeOK:
		payload := ResultPayload{OK: true}
		if res.Envelope != nil {
			payload.Data = res.Envelope.Data
		}
		return payload
	case audit.OutcomeTimeout:
		return FailurePayload(ErrKindTimeout, res.Err)
	case audit.OutcomeTruncated:
		return FailurePayload(ErrKindOutputTruncated, res.Err)
	case audit.OutcomeMalformed:
		return FailurePayload(ErrKindMalformedOutput, res.Err)
	case audit.OutcomeRejected:
		return FailurePayload(ErrKindScriptNotAllowed, res.Err)
	case audit.OutcomeSpawnError:
		return FailurePayload(ErrKindSpawnError, res.Err)
	default:
		return FailurePayload(ErrKindExecutionFailed, res.Err)
	}
}

// DomainEvent announces a side effect the tool had on stored content.
// Payload is the tool's result data (e.g. the created note's id and
// title), passed through untouched.
type DomainEvent struct {
	Type     string          `json:"type"`
	ToolName string          `json:"tool_name"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// domainEventTypes maps mutating tools to the event they emit on
// success. Read-only tools have no entry.
var domainEventTypes = map[string]string{
	"notes_create":      "note_created",
	"notes_update":      "note_updated",
	"notes_move":        "note_updated",
	"notes_pin":         "note_updated",
	"notes_delete":      "note_deleted",
	"scratchpad_update": "note_updated",
	"scratchpad_clear":  "note_updated",
	"website_save":      "website_saved",
	"website_delete":    "website_deleted",
	"website_pin":       "website_updated",
	"website_archive":   "website_updated",
}

// DomainEventFor derives the domain event for a completed tool call
// purely from the tool name and whether it succeeded.
func DomainEventFor(toolName string, payload ResultPayload) (DomainEvent, bool) {
	if !payload.OK {
		return DomainEvent{}, false
	}
	eventType, ok := domainEventTypes[toolName]
	if !ok {
		return DomainEvent{}, false
	}
	return DomainEvent{Type: eventType, ToolName: toolName, Payload: payload.Data}, true
}

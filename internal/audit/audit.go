// Package audit provides the append-only execution log for skill
// invocations. Every execution attempt, successful or not, produces
// exactly one Record; nothing mutates or deletes records after the fact.
package audit

import (
	"context"
	"time"
)

// Outcome classifies how a skill execution attempt ended.
type Outcome string

const (
	// OutcomeOK indicates the script ran and reported success.
	OutcomeOK Outcome = "ok"
	// OutcomeFailed indicates the script ran and reported failure.
	OutcomeFailed Outcome = "failed"
	// OutcomeTimeout indicates the script exceeded its wall-clock timeout.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeTruncated indicates captured output exceeded the size cap.
	OutcomeTruncated Outcome = "truncated"
	// OutcomeMalformed indicates the script's output envelope did not parse.
	OutcomeMalformed Outcome = "malformed"
	// OutcomeRejected indicates the executor refused to spawn the script.
	OutcomeRejected Outcome = "rejected"
	// OutcomeSpawnError indicates the subprocess could not be started.
	OutcomeSpawnError Outcome = "spawn_error"
)

// Record is one audit entry for a skill execution attempt.
// Records are immutable once created.
type Record struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id"`
	ToolCallID     string    `json:"tool_call_id"`
	SkillID        string    `json:"skill_id"`
	Script         string    `json:"script"`
	Argv           []string  `json:"argv"`
	ExitCode       int       `json:"exit_code"`
	DurationMs     int64     `json:"duration_ms"`
	Outcome        Outcome   `json:"outcome"`
	OutputBytes    int64     `json:"output_bytes_captured"`
}

// Store is the append-only audit sink. Implementations must support
// concurrent appends without interleaving partial records: one Append
// call writes one whole record atomically.
type Store interface {
	// Append persists a record. It returns once the record is durable.
	Append(ctx context.Context, rec Record) error
	// Close releases the underlying sink.
	Close() error
}

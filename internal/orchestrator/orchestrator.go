// Package orchestrator drives the conversation state machine: it
// streams model completions, dispatches requested tool calls through
// the mapper and executor, feeds results back to the model, and emits
// one strictly ordered event stream per conversation.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/scribe-notes/scribe/internal/claude"
	"github.com/scribe-notes/scribe/internal/executor"
	"github.com/scribe-notes/scribe/internal/skills"
	"github.com/scribe-notes/scribe/internal/tools"
	"github.com/scribe-notes/scribe/internal/workspace"
)

// Defaults for orchestration limits.
const (
	DefaultMaxTurns           = 25
	DefaultMaxConcurrentTools = 4
	DefaultRetryAttempts      = 3
	DefaultRetryBaseDelay     = 500 * time.Millisecond
)

// SkillRunner is the executor surface the orchestrator needs.
type SkillRunner interface {
	Execute(ctx context.Context, req executor.Request) (*executor.Result, error)
}

// Config assembles an Orchestrator's collaborators and limits.
type Config struct {
	Completer claude.Completer
	Mapper    *tools.Mapper
	Runner    SkillRunner
	Registry  *skills.Registry

	SystemPrompt   string
	ConversationID string

	MaxTurns           int
	MaxConcurrentTools int
	RetryAttempts      int
	RetryBaseDelay     time.Duration
}

// Orchestrator runs one conversation. Instances are not shared across
// conversations; the registry and mapper they reference are read-only.
type Orchestrator struct {
	completer claude.Completer
	mapper    *tools.Mapper
	runner    SkillRunner
	registry  *skills.Registry

	system         string
	conversationID string

	maxTurns      int
	maxConcurrent int
	retryAttempts int
	retryBase     time.Duration
}

// New creates an orchestrator for one conversation, applying defaults
// for any unset limit.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		completer:      cfg.Completer,
		mapper:         cfg.Mapper,
		runner:         cfg.Runner,
		registry:       cfg.Registry,
		system:         cfg.SystemPrompt,
		conversationID: cfg.ConversationID,
		maxTurns:       cfg.MaxTurns,
		maxConcurrent:  cfg.MaxConcurrentTools,
		retryAttempts:  cfg.RetryAttempts,
		retryBase:      cfg.RetryBaseDelay,
	}
	if o.conversationID == "" {
		o.conversationID = uuid.NewString()
	}
	if o.maxTurns <= 0 {
		o.maxTurns = DefaultMaxTurns
	}
	if o.maxConcurrent <= 0 {
		o.maxConcurrent = DefaultMaxConcurrentTools
	}
	if o.retryAttempts <= 0 {
		o.retryAttempts = DefaultRetryAttempts
	}
	if o.retryBase <= 0 {
		o.retryBase = DefaultRetryBaseDelay
	}
	return o
}

// ConversationID returns the conversation this orchestrator serves.
func (o *Orchestrator) ConversationID() string {
	return o.conversationID
}

// Run starts the conversation loop and returns its event stream. The
// channel is closed when the conversation ends, errors out, or ctx is
// canceled. Cancellation stops emission immediately; tool executions
// already dispatched run to completion detached so the audit trail
// matches what actually executed, but their results are discarded.
func (o *Orchestrator) Run(ctx context.Context, userMsg string, history []anthropic.MessageParam) <-chan Event {
	events := make(chan Event, 64)
	go o.run(ctx, userMsg, history, events)
	return events
}

func (o *Orchestrator) run(ctx context.Context, userMsg string, history []anthropic.MessageParam, events chan<- Event) {
	defer close(events)

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(userMsg)))

	for turn := 0; turn < o.maxTurns; turn++ {
		turnRes, err := o.completeWithRetry(ctx, messages, func(text string) {
			if text != "" {
				emit(Event{Type: EventToken, Token: text})
			}
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			emit(Event{Type: EventError, Err: err.Error()})
			return
		}

		if len(turnRes.ToolUses) == 0 {
			emit(Event{Type: EventComplete})
			return
		}

		// Events carry copies of the call so a buffered tool_call frame
		// still reads "pending" after the tool has finished.
		calls := make([]ToolCall, len(turnRes.ToolUses))
		for i, use := range turnRes.ToolUses {
			calls[i] = ToolCall{
				ID:         use.ID,
				Name:       use.Name,
				Parameters: use.Input,
				Status:     StatusPending,
			}
			if !emit(Event{Type: EventToolCall, ToolCall: calls[i]}) {
				return
			}
		}

		// All tool calls of a turn run before the next model request.
		// The exec context survives client cancel.
		execCtx := context.WithoutCancel(ctx)
		payloads := make([]tools.ResultPayload, len(calls))
		p := pool.New().WithMaxGoroutines(o.maxConcurrent)
		for i := range calls {
			i := i
			p.Go(func() {
				payloads[i] = o.executeTool(execCtx, calls[i])
			})
		}
		p.Wait()

		if ctx.Err() != nil {
			return
		}

		toolResults := make([]anthropic.ContentBlockParamUnion, 0, len(calls))
		for i, call := range calls {
			payload := payloads[i]
			if payload.OK {
				call.Status = StatusSuccess
			} else {
				call.Status = StatusError
			}
			if !emit(Event{Type: EventToolResult, ToolCall: call, Result: &payloads[i]}) {
				return
			}
			if domainEv, ok := tools.DomainEventFor(call.Name, payload); ok {
				if !emit(Event{Type: EventDomain, Domain: &domainEv}) {
					return
				}
			}

			content, err := json.Marshal(payload)
			if err != nil {
				content = []byte(`{"ok":false,"error":"result encoding failed"}`)
			}
			toolResults = append(toolResults, anthropic.NewToolResultBlock(call.ID, string(content), !payload.OK))
		}

		messages = append(messages, anthropic.NewAssistantMessage(turnRes.Blocks...))
		messages = append(messages, anthropic.NewUserMessage(toolResults...))
	}

	emit(Event{Type: EventError, Err: fmt.Sprintf("conversation exceeded %d turns", o.maxTurns)})
}

// completeWithRetry runs one streamed completion, retrying transient
// failures with exponential backoff and jitter. Fatal errors and
// cancellation return immediately.
func (o *Orchestrator) completeWithRetry(ctx context.Context, messages []anthropic.MessageParam, onToken func(string)) (*claude.Turn, error) {
	req := claude.Request{
		System:   o.system,
		Messages: messages,
		Tools:    o.mapper.AnthropicTools(),
	}

	// delivered counts text bytes already forwarded this turn. A retried
	// attempt streams its completion from the start, so tokens are
	// forwarded only past that offset to keep the client's stream free
	// of duplicates after a mid-stream transient failure.
	delivered := 0

	var lastErr error
	for attempt := 0; attempt < o.retryAttempts; attempt++ {
		if attempt > 0 {
			delay := o.retryBase << (attempt - 1)
			delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
			log.Printf("[orchestrator] conversation %s: transient model error, retry %d in %s: %v",
				o.conversationID, attempt, delay, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		seen := 0
		turn, err := o.completer.Stream(ctx, req, func(text string) {
			start := seen
			seen += len(text)
			if seen <= delivered {
				return
			}
			if start < delivered {
				text = text[delivered-start:]
			}
			delivered = seen
			onToken(text)
		})
		if err == nil {
			return turn, nil
		}
		if !errors.Is(err, claude.ErrModelTransient) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("model unavailable after %d attempts: %w", o.retryAttempts, lastErr)
}

// executeTool runs one tool call end to end: map, look up the skill,
// execute, interpret. Every failure mode becomes a ResultPayload; tool
// problems never end the conversation.
func (o *Orchestrator) executeTool(ctx context.Context, call ToolCall) tools.ResultPayload {
	inv, err := o.mapper.MapToolCall(call.Name, call.Parameters)
	if err != nil {
		return tools.FailurePayload(mapErrorKind(err), err.Error())
	}

	desc, err := o.registry.Lookup(inv.SkillID)
	if err != nil {
		return tools.FailurePayload(tools.ErrKindExecutionFailed, err.Error())
	}

	res, err := o.runner.Execute(ctx, executor.Request{
		Descriptor:     desc,
		Script:         inv.Script,
		Args:           inv.Args,
		AuditArgv:      inv.AuditArgs,
		ConversationID: o.conversationID,
		ToolCallID:     call.ID,
	})
	if err != nil && res == nil {
		return tools.FailurePayload(tools.ErrKindExecutionFailed, err.Error())
	}
	return tools.InterpretResult(res)
}

func mapErrorKind(err error) tools.ErrorKind {
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		return tools.ErrKindUnknownTool
	case errors.Is(err, tools.ErrInvalidParameters):
		return tools.ErrKindInvalidParams
	case errors.Is(err, workspace.ErrPathEscape), errors.Is(err, workspace.ErrInvalidPath):
		return tools.ErrKindPathRejected
	default:
		return tools.ErrKindExecutionFailed
	}
}

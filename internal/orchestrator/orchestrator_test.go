package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/scribe-notes/scribe/internal/audit"
	"github.com/scribe-notes/scribe/internal/claude"
	"github.com/scribe-notes/scribe/internal/executor"
	"github.com/scribe-notes/scribe/internal/skills"
	"github.com/scribe-notes/scribe/internal/tools"
	"github.com/scribe-notes/scribe/internal/workspace"
)

// scriptedTurn is one canned completer response.
type scriptedTurn struct {
	tokens []string
	turn   *claude.Turn
	err    error
	block  bool
}

type fakeCompleter struct {
	mu    sync.Mutex
	turns []scriptedTurn
	reqs  []claude.Request
}

func (f *fakeCompleter) Stream(ctx context.Context, req claude.Request, onToken func(string)) (*claude.Turn, error) {
	f.mu.Lock()
	idx := len(f.reqs)
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()

	if idx >= len(f.turns) {
		return nil, fmt.Errorf("unexpected completion call %d", idx)
	}
	t := f.turns[idx]
	if t.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	// Tokens stream before a scripted error, mimicking a transport
	// that dies mid-completion.
	for _, tok := range t.tokens {
		onToken(tok)
	}
	if t.err != nil {
		return nil, t.err
	}
	return t.turn, nil
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeRunner struct {
	mu      sync.Mutex
	results map[string]*executor.Result // keyed by tool call id
	reqs    []executor.Request
	delay   time.Duration
}

func (f *fakeRunner) Execute(_ context.Context, req executor.Request) (*executor.Result, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	res := f.results[req.ToolCallID]
	f.mu.Unlock()

	if res == nil {
		res = &executor.Result{Outcome: audit.OutcomeOK, Envelope: &executor.Envelope{Success: true}}
	}
	return res, nil
}

func (f *fakeRunner) requests() []executor.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]executor.Request(nil), f.reqs...)
}

// newTestRegistry installs notes and fs skills matching the tool table.
func newTestRegistry(t *testing.T) *skills.Registry {
	t.Helper()
	root := t.TempDir()
	install := func(id string, scripts ...string) {
		dir := filepath.Join(root, id)
		if err := os.MkdirAll(filepath.Join(dir, "scripts"), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		manifest := "id: " + id + "\nscripts:\n"
		for _, name := range scripts {
			path := filepath.Join(dir, "scripts", name)
			if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0755); err != nil {
				t.Fatalf("write script: %v", err)
			}
			manifest += "  " + name + ":\n    path: scripts/" + name + "\n    params:\n      type: object\n"
		}
		if err := os.WriteFile(filepath.Join(dir, skills.ManifestFilename), []byte(manifest), 0644); err != nil {
			t.Fatalf("write manifest: %v", err)
		}
	}
	install("notes", "save_markdown", "delete_note")
	install("fs", "read", "list")

	reg, err := skills.Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return reg
}

func newTestOrchestrator(t *testing.T, completer claude.Completer, runner SkillRunner) *Orchestrator {
	t.Helper()
	validator, err := workspace.NewValidator(t.TempDir())
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	mapper, err := tools.NewMapper(validator)
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}
	return New(Config{
		Completer:      completer,
		Mapper:         mapper,
		Runner:         runner,
		Registry:       newTestRegistry(t),
		ConversationID: "conv-test",
		RetryBaseDelay: time.Millisecond,
	})
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out draining events, got %d so far", len(out))
		}
	}
}

func endTurn(text string) *claude.Turn {
	return &claude.Turn{StopReason: anthropic.StopReasonEndTurn, Text: text}
}

func toolTurn(uses ...claude.ToolUse) *claude.Turn {
	return &claude.Turn{StopReason: anthropic.StopReasonToolUse, ToolUses: uses}
}

func TestRunSimpleCompletion(t *testing.T) {
	completer := &fakeCompleter{turns: []scriptedTurn{
		{tokens: []string{"Hello", " there"}, turn: endTurn("Hello there")},
	}}
	o := newTestOrchestrator(t, completer, &fakeRunner{})

	events := collect(t, o.Run(context.Background(), "hi", nil))

	want := []EventType{EventToken, EventToken, EventComplete}
	if got := eventTypes(events); !reflect.DeepEqual(got, want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	if events[0].Token != "Hello" || events[1].Token != " there" {
		t.Errorf("tokens = %q, %q", events[0].Token, events[1].Token)
	}
}

func TestRunToolCallFlow(t *testing.T) {
	input := json.RawMessage(`{"title":"Groceries","content":"milk, eggs"}`)
	completer := &fakeCompleter{turns: []scriptedTurn{
		{turn: toolTurn(claude.ToolUse{ID: "t1", Name: "notes_create", Input: input})},
		{tokens: []string{"Saved!"}, turn: endTurn("Saved!")},
	}}
	runner := &fakeRunner{results: map[string]*executor.Result{
		"t1": {Outcome: audit.OutcomeOK, Envelope: &executor.Envelope{
			Success: true,
			Data:    json.RawMessage(`{"id":"n1","title":"Groceries"}`),
		}},
	}}
	o := newTestOrchestrator(t, completer, runner)

	events := collect(t, o.Run(context.Background(), "save my groceries", nil))

	want := []EventType{EventToolCall, EventToolResult, EventDomain, EventToken, EventComplete}
	if got := eventTypes(events); !reflect.DeepEqual(got, want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}

	if events[0].ToolCall.Status != StatusPending {
		t.Errorf("tool_call status = %s, want pending", events[0].ToolCall.Status)
	}
	if events[1].ToolCall.Status != StatusSuccess || !events[1].Result.OK {
		t.Errorf("tool_result = %+v / %+v", events[1].ToolCall, events[1].Result)
	}
	if events[2].Domain.Type != "note_created" {
		t.Errorf("domain event = %s, want note_created", events[2].Domain.Type)
	}

	reqs := runner.requests()
	if len(reqs) != 1 {
		t.Fatalf("executor calls = %d, want 1", len(reqs))
	}
	wantArgs := []string{"Groceries", "--content", "milk, eggs", "--database", "--json"}
	if !reflect.DeepEqual(reqs[0].Args, wantArgs) {
		t.Errorf("argv = %q, want %q", reqs[0].Args, wantArgs)
	}
	if reqs[0].ConversationID != "conv-test" || reqs[0].ToolCallID != "t1" {
		t.Errorf("caller context = %s/%s", reqs[0].ConversationID, reqs[0].ToolCallID)
	}

	// Second completion sees user msg, assistant turn, and tool results.
	if completer.calls() != 2 {
		t.Fatalf("completions = %d, want 2", completer.calls())
	}
	if got := len(completer.reqs[1].Messages); got != 3 {
		t.Errorf("history length on turn 2 = %d, want 3", got)
	}
}

func TestRunToolFailureContinuesLoop(t *testing.T) {
	completer := &fakeCompleter{turns: []scriptedTurn{
		{turn: toolTurn(claude.ToolUse{ID: "t1", Name: "scratchpad_get", Input: json.RawMessage(`{}`)})},
		{tokens: []string{"That took too long, sorry."}, turn: endTurn("")},
	}}
	runner := &fakeRunner{results: map[string]*executor.Result{
		"t1": {Outcome: audit.OutcomeTimeout, Err: "timed out after 30s"},
	}}
	o := newTestOrchestrator(t, completer, runner)

	events := collect(t, o.Run(context.Background(), "what's on my scratchpad?", nil))

	want := []EventType{EventToolCall, EventToolResult, EventToken, EventComplete}
	if got := eventTypes(events); !reflect.DeepEqual(got, want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	if events[1].ToolCall.Status != StatusError {
		t.Errorf("tool_result status = %s, want error", events[1].ToolCall.Status)
	}
	if events[1].Result.ErrorKind != tools.ErrKindTimeout {
		t.Errorf("error kind = %s, want timeout", events[1].Result.ErrorKind)
	}
}

func TestRunMapperFailuresSkipExecutor(t *testing.T) {
	tests := []struct {
		name     string
		use      claude.ToolUse
		wantKind tools.ErrorKind
	}{
		{
			name:     "unknown tool",
			use:      claude.ToolUse{ID: "t1", Name: "set_ui_theme", Input: json.RawMessage(`{}`)},
			wantKind: tools.ErrKindUnknownTool,
		},
		{
			name:     "invalid parameters",
			use:      claude.ToolUse{ID: "t1", Name: "notes_create", Input: json.RawMessage(`{}`)},
			wantKind: tools.ErrKindInvalidParams,
		},
		{
			name:     "escaping path",
			use:      claude.ToolUse{ID: "t1", Name: "fs_read", Input: json.RawMessage(`{"path":"../../secret"}`)},
			wantKind: tools.ErrKindPathRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &fakeCompleter{turns: []scriptedTurn{
				{turn: toolTurn(tt.use)},
				{turn: endTurn("ok")},
			}}
			runner := &fakeRunner{}
			o := newTestOrchestrator(t, completer, runner)

			events := collect(t, o.Run(context.Background(), "go", nil))

			if len(runner.requests()) != 0 {
				t.Error("executor was called for a mapper-level failure")
			}
			result := findEvent(t, events, EventToolResult)
			if result.Result.ErrorKind != tt.wantKind {
				t.Errorf("error kind = %s, want %s", result.Result.ErrorKind, tt.wantKind)
			}
			if eventTypes(events)[len(events)-1] != EventComplete {
				t.Error("conversation did not continue to completion")
			}
		})
	}
}

func TestRunConcurrentToolsJoinBeforeNextTurn(t *testing.T) {
	uses := []claude.ToolUse{
		{ID: "t1", Name: "scratchpad_get", Input: json.RawMessage(`{}`)},
		{ID: "t2", Name: "notes_list", Input: json.RawMessage(`{}`)},
		{ID: "t3", Name: "fs_list", Input: json.RawMessage(`{}`)},
	}
	completer := &fakeCompleter{turns: []scriptedTurn{
		{turn: toolTurn(uses...)},
		{turn: endTurn("done")},
	}}
	runner := &fakeRunner{delay: 20 * time.Millisecond}
	o := newTestOrchestrator(t, completer, runner)

	events := collect(t, o.Run(context.Background(), "check everything", nil))

	if len(runner.requests()) != 3 {
		t.Fatalf("executor calls = %d, want 3", len(runner.requests()))
	}

	// Every tool_call precedes its tool_result, and each id gets
	// exactly one result.
	callSeen := map[string]bool{}
	resultCount := map[string]int{}
	for _, ev := range events {
		switch ev.Type {
		case EventToolCall:
			callSeen[ev.ToolCall.ID] = true
		case EventToolResult:
			if !callSeen[ev.ToolCall.ID] {
				t.Errorf("tool_result for %s before its tool_call", ev.ToolCall.ID)
			}
			resultCount[ev.ToolCall.ID]++
		}
	}
	for id, n := range resultCount {
		if n != 1 {
			t.Errorf("tool %s got %d results, want 1", id, n)
		}
	}
	if len(resultCount) != 3 {
		t.Errorf("results for %d tools, want 3", len(resultCount))
	}
}

// A slow consumer must see tool_call frames as they were emitted; the
// event buffer holds a whole short conversation, so drain only after
// the loop has moved past the tool execution.
func TestRunToolCallEventIsSnapshot(t *testing.T) {
	completer := &fakeCompleter{turns: []scriptedTurn{
		{turn: toolTurn(claude.ToolUse{ID: "t1", Name: "scratchpad_get", Input: json.RawMessage(`{}`)})},
		{turn: endTurn("done")},
	}}
	o := newTestOrchestrator(t, completer, &fakeRunner{})

	ch := o.Run(context.Background(), "hi", nil)

	// The second completion request only happens after the tool has
	// executed and its result event was emitted.
	deadline := time.Now().Add(5 * time.Second)
	for completer.calls() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the tool turn to finish")
		}
		time.Sleep(time.Millisecond)
	}

	events := collect(t, ch)
	call := findEvent(t, events, EventToolCall)
	if call.ToolCall.Status != StatusPending {
		t.Errorf("tool_call status = %s, want pending", call.ToolCall.Status)
	}
	result := findEvent(t, events, EventToolResult)
	if result.ToolCall.Status != StatusSuccess {
		t.Errorf("tool_result status = %s, want success", result.ToolCall.Status)
	}
}

func TestRunTransientErrorRetries(t *testing.T) {
	transient := fmt.Errorf("%w: HTTP 429", claude.ErrModelTransient)
	completer := &fakeCompleter{turns: []scriptedTurn{
		{err: transient},
		{err: transient},
		{tokens: []string{"ok"}, turn: endTurn("ok")},
	}}
	o := newTestOrchestrator(t, completer, &fakeRunner{})

	events := collect(t, o.Run(context.Background(), "hi", nil))

	if completer.calls() != 3 {
		t.Errorf("completions = %d, want 3 (two retries)", completer.calls())
	}
	if got := eventTypes(events); got[len(got)-1] != EventComplete {
		t.Errorf("final event = %v, want complete", got[len(got)-1])
	}
}

// A completion that dies mid-stream and is retried replays its text
// from the start; only the bytes past what the client already saw may
// go out again.
func TestRunRetryResumesTokenStream(t *testing.T) {
	transient := fmt.Errorf("%w: connection reset", claude.ErrModelTransient)
	completer := &fakeCompleter{turns: []scriptedTurn{
		{tokens: []string{"Hel"}, err: transient},
		{tokens: []string{"Hell", "o!"}, turn: endTurn("Hello!")},
	}}
	o := newTestOrchestrator(t, completer, &fakeRunner{})

	events := collect(t, o.Run(context.Background(), "hi", nil))

	var text string
	for _, ev := range events {
		if ev.Type == EventToken {
			text += ev.Token
		}
	}
	if text != "Hello!" {
		t.Errorf("streamed text = %q, want %q (no replayed prefix)", text, "Hello!")
	}
	if got := eventTypes(events); got[len(got)-1] != EventComplete {
		t.Errorf("final event = %v, want complete", got[len(got)-1])
	}
}

func TestRunTransientRetriesExhausted(t *testing.T) {
	transient := fmt.Errorf("%w: HTTP 529", claude.ErrModelTransient)
	completer := &fakeCompleter{turns: []scriptedTurn{
		{err: transient}, {err: transient}, {err: transient},
	}}
	o := newTestOrchestrator(t, completer, &fakeRunner{})

	events := collect(t, o.Run(context.Background(), "hi", nil))

	if completer.calls() != DefaultRetryAttempts {
		t.Errorf("completions = %d, want %d", completer.calls(), DefaultRetryAttempts)
	}
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %+v, want single error", events)
	}
}

func TestRunFatalErrorNoRetry(t *testing.T) {
	completer := &fakeCompleter{turns: []scriptedTurn{
		{err: fmt.Errorf("%w: HTTP 401", claude.ErrModelFatal)},
	}}
	o := newTestOrchestrator(t, completer, &fakeRunner{})

	events := collect(t, o.Run(context.Background(), "hi", nil))

	if completer.calls() != 1 {
		t.Errorf("completions = %d, want 1 (no retry)", completer.calls())
	}
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %+v, want single error", events)
	}
}

func TestRunMaxTurnGuard(t *testing.T) {
	// The model keeps asking for tools forever.
	var turns []scriptedTurn
	for i := 0; i < 10; i++ {
		turns = append(turns, scriptedTurn{
			turn: toolTurn(claude.ToolUse{ID: fmt.Sprintf("t%d", i), Name: "scratchpad_get", Input: json.RawMessage(`{}`)}),
		})
	}
	completer := &fakeCompleter{turns: turns}
	validator, _ := workspace.NewValidator(t.TempDir())
	mapper, err := tools.NewMapper(validator)
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}
	o := New(Config{
		Completer:      completer,
		Mapper:         mapper,
		Runner:         &fakeRunner{},
		Registry:       newTestRegistry(t),
		MaxTurns:       3,
		RetryBaseDelay: time.Millisecond,
	})

	events := collect(t, o.Run(context.Background(), "loop forever", nil))

	last := events[len(events)-1]
	if last.Type != EventError {
		t.Fatalf("final event = %s, want error", last.Type)
	}
	if completer.calls() != 3 {
		t.Errorf("completions = %d, want 3", completer.calls())
	}
}

func TestRunCancellationStopsEmission(t *testing.T) {
	completer := &fakeCompleter{turns: []scriptedTurn{{block: true}}}
	o := newTestOrchestrator(t, completer, &fakeRunner{})

	ctx, cancel := context.WithCancel(context.Background())
	ch := o.Run(ctx, "hi", nil)

	time.AfterFunc(20*time.Millisecond, cancel)
	events := collect(t, ch)

	for _, ev := range events {
		if ev.Type == EventError {
			t.Errorf("cancellation emitted an error event: %+v", ev)
		}
	}
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func findEvent(t *testing.T, events []Event, typ EventType) Event {
	t.Helper()
	for _, ev := range events {
		if ev.Type == typ {
			return ev
		}
	}
	t.Fatalf("no %s event in %v", typ, eventTypes(events))
	return Event{}
}

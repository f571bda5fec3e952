// Package executor runs registry skills as isolated, resource-bounded
// subprocesses. It owns the whole process lifecycle: spawn with a
// restricted environment, timeout-bound wait with process-group
// termination, capped output capture, and exactly one audit record per
// attempt on every exit path.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/scribe-notes/scribe/internal/audit"
	"github.com/scribe-notes/scribe/internal/skills"
)

// ErrScriptNotAllowed indicates a script name absent from the skill's
// manifest. The attempt is audited but nothing is spawned.
var ErrScriptNotAllowed = errors.New("script not allowed for skill")

// DefaultGracePeriod is how long a timed-out process group gets between
// SIGTERM and SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// envAllowList is the base set of environment variables a skill
// subprocess inherits. Nothing else leaks from the parent environment;
// manifests may extend the list per skill.
var envAllowList = []string{"PATH", "HOME", "LANG", "LC_ALL", "TZ", "TMPDIR"}

// Request describes one execution attempt.
type Request struct {
	Descriptor *skills.SkillDescriptor
	Script     string
	Args       []string
	// AuditArgv, when set, replaces Args in the audit record. The Tool
	// Mapper uses it to redact note and file content.
	AuditArgv      []string
	ConversationID string
	ToolCallID     string
}

// Envelope is the structured JSON result a skill script prints as the
// last line of stdout when invoked with --json.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Result is the outcome of one execution attempt. Exactly one is
// produced per Execute call, regardless of how the attempt ended.
type Result struct {
	Outcome  audit.Outcome
	Envelope *Envelope
	ExitCode int
	Duration time.Duration
	// OutputBytes is the combined stdout+stderr byte count captured.
	OutputBytes int64
	// Stdout holds the captured (possibly truncated) stdout for
	// diagnostics when the envelope cannot be parsed.
	Stdout    []byte
	Stderr    []byte
	Truncated bool
	// Err carries a human-readable failure description for outcomes
	// other than OutcomeOK.
	Err string
}

// Executor spawns skill scripts confined to the workspace root.
type Executor struct {
	workspaceRoot string
	store         audit.Store
	grace         time.Duration
}

// New creates an Executor. All subprocesses run with workspaceRoot as
// their working directory and every attempt is appended to store.
func New(workspaceRoot string, store audit.Store) *Executor {
	return &Executor{
		workspaceRoot: workspaceRoot,
		store:         store,
		grace:         DefaultGracePeriod,
	}
}

// SetGracePeriod overrides the SIGTERM-to-SIGKILL grace period.
func (e *Executor) SetGracePeriod(d time.Duration) {
	e.grace = d
}

// Execute runs the requested script and returns its Result. The context
// covers the audit write only: a subprocess already spawned runs to
// completion or timeout even if the caller goes away, so the audit
// trail stays consistent with what actually executed.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	script, ok := req.Descriptor.Script(req.Script)
	if !ok {
		res := &Result{
			Outcome:  audit.OutcomeRejected,
			ExitCode: -1,
			Duration: time.Since(start),
			Err:      fmt.Sprintf("script %q is not declared by skill %q", req.Script, req.Descriptor.ID),
		}
		e.record(ctx, req, res, start)
		return res, fmt.Errorf("%w: %s/%s", ErrScriptNotAllowed, req.Descriptor.ID, req.Script)
	}

	res := e.run(script, req.Descriptor, req.Args, start)
	e.record(ctx, req, res, start)
	return res, nil
}

// run spawns the script and waits for exit or timeout.
func (e *Executor) run(script skills.ScriptSpec, desc *skills.SkillDescriptor, args []string, start time.Time) *Result {
	budget := newCaptureBudget(desc.MaxOutputBytes)
	stdout := newCapturedStream(budget)
	stderr := newCapturedStream(budget)

	cmd := exec.Command(script.Path, args...)
	cmd.Dir = e.workspaceRoot
	cmd.Env = buildEnv(desc.Env)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Own process group so timeout termination reaches grandchildren too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return &Result{
			Outcome:  audit.OutcomeSpawnError,
			ExitCode: -1,
			Duration: time.Since(start),
			Err:      fmt.Sprintf("start %s: %v", script.Path, err),
		}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	timedOut := false

	timer := time.NewTimer(desc.Timeout)
	defer timer.Stop()

	select {
	case waitErr = <-done:
	case <-timer.C:
		timedOut = true
		waitErr = e.terminate(cmd, done)
	}

	duration := time.Since(start)
	exitCode := exitCodeOf(cmd, waitErr)

	res := &Result{
		ExitCode:    exitCode,
		Duration:    duration,
		OutputBytes: budget.captured(),
		Stdout:      stdout.bytes(),
		Stderr:      stderr.bytes(),
		Truncated:   budget.truncated(),
	}

	switch {
	case timedOut:
		res.Outcome = audit.OutcomeTimeout
		res.Err = fmt.Sprintf("timed out after %s", desc.Timeout)
	case res.Truncated:
		res.Outcome = audit.OutcomeTruncated
		res.Err = fmt.Sprintf("output exceeded %d bytes", desc.MaxOutputBytes)
	default:
		e.classify(res, waitErr)
	}

	return res
}

// classify parses the stdout envelope and sets the final outcome for a
// process that ran to completion within its limits.
func (e *Executor) classify(res *Result, waitErr error) {
	env, err := ParseEnvelope(res.Stdout)
	if err != nil {
		res.Outcome = audit.OutcomeMalformed
		if waitErr != nil {
			res.Err = fmt.Sprintf("exit code %d without valid result envelope", res.ExitCode)
		} else {
			res.Err = err.Error()
		}
		return
	}

	res.Envelope = env
	if env.Success {
		res.Outcome = audit.OutcomeOK
		return
	}
	res.Outcome = audit.OutcomeFailed
	res.Err = env.Error
	if res.Err == "" {
		res.Err = "skill reported failure without detail"
	}
}

// terminate sends SIGTERM to the process group, waits the grace period,
// then force-kills anything still running. It returns the wait error
// once the process has actually exited.
func (e *Executor) terminate(cmd *exec.Cmd, done <-chan error) error {
	pgid := cmd.Process.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		// Process group may already be gone; fall through to the wait.
		log.Printf("[executor] SIGTERM pgid %d: %v", pgid, err)
	}

	select {
	case err := <-done:
		return err
	case <-time.After(e.grace):
		syscall.Kill(-pgid, syscall.SIGKILL)
		return <-done
	}
}

// record emits the audit entry for this attempt. Audit failures are
// logged, not surfaced: the execution already happened and its result
// must still reach the caller.
func (e *Executor) record(ctx context.Context, req Request, res *Result, start time.Time) {
	argv := req.AuditArgv
	if argv == nil {
		argv = req.Args
	}
	rec := audit.Record{
		ID:             uuid.NewString(),
		Timestamp:      start,
		ConversationID: req.ConversationID,
		ToolCallID:     req.ToolCallID,
		SkillID:        req.Descriptor.ID,
		Script:         req.Script,
		Argv:           argv,
		ExitCode:       res.ExitCode,
		DurationMs:     res.Duration.Milliseconds(),
		Outcome:        res.Outcome,
		OutputBytes:    res.OutputBytes,
	}
	if err := e.store.Append(ctx, rec); err != nil {
		log.Printf("[executor] audit append failed for tool call %s: %v", req.ToolCallID, err)
	}
}

// ParseEnvelope extracts the JSON result envelope from the last
// non-empty line of a script's stdout.
func ParseEnvelope(stdout []byte) (*Envelope, error) {
	lines := bytes.Split(bytes.TrimSpace(stdout), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return nil, fmt.Errorf("last output line is not a result envelope: %w", err)
		}
		return &env, nil
	}
	return nil, errors.New("script produced no output")
}

// buildEnv assembles the restricted child environment from the
// allow-list plus the skill's declared extras.
func buildEnv(extra []string) []string {
	names := make([]string, 0, len(envAllowList)+len(extra))
	names = append(names, envAllowList...)
	names = append(names, extra...)

	env := make([]string, 0, len(names))
	for _, name := range names {
		if value, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+value)
		}
	}
	return env
}

func exitCodeOf(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

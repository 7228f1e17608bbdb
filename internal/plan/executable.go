package plan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chriserin/ftplan/internal/fixture"
	"github.com/chriserin/ftplan/internal/parser"
	"github.com/chriserin/ftplan/internal/scope"
)

// Disposition is what the plan decided to do with an executable.
type Disposition int

const (
	Run Disposition = iota
	Skip
	Pending
)

func (d Disposition) String() string {
	switch d {
	case Run:
		return "run"
	case Skip:
		return "skip"
	case Pending:
		return "pending"
	default:
		return fmt.Sprintf("Disposition(%d)", int(d))
	}
}

// Status is an executable's position in its lifecycle.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusPassed
	StatusFailed
	StatusSkipped
	StatusPending
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	case StatusPending:
		return "pending"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// IsTerminal reports whether s ends an attempt.
func IsTerminal(s Status) bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped, StatusPending:
		return true
	default:
		return false
	}
}

func isAllowedTransition(from, to Status) bool {
	switch from {
	case StatusIdle:
		return to == StatusRunning || to == StatusSkipped || to == StatusPending
	case StatusRunning:
		return IsTerminal(to)
	case StatusFailed:
		// retry
		return to == StatusRunning
	default:
		return false
	}
}

// ResolvedStep is a pickle step bound to its definition.
type ResolvedStep struct {
	Step parser.SimplePickleStep
	Def  *scope.StepDef
	Args []any
	// Err is the StepMatchError or AmbiguousStepError found while resolving.
	Err error
}

// Hooks are the hooks of an executable's ancestry in run order: Setup and
// Before outer to inner, After and Teardown inner to outer.
type Hooks struct {
	Setup    []*scope.Hook
	Before   []*scope.Hook
	After    []*scope.Hook
	Teardown []*scope.Hook
}

// StepResult records one step of one attempt.
type StepResult struct {
	Text     string
	Status   Status
	Err      error
	Duration time.Duration
}

// Result is the outcome of an executable's latest attempt.
type Result struct {
	Status Status
	Err    error
	// Reason explains a pending or skipped result.
	Reason     string
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Steps      []StepResult
}

// Executable is one pickle bound to handlers, hooks, timeout and disposition.
// Its result moves Idle -> Running -> terminal; a Failed executable may go back
// to Running while retries remain.
type Executable struct {
	ID          string
	Title       string
	Pickle      *parser.SimplePickle
	Steps       []ResolvedStep
	Hooks       Hooks
	Timeout     time.Duration
	Disposition Disposition
	// Reason explains a skip or pending disposition.
	Reason string

	// Chain is the registered scope nodes from global down to the most
	// specific node matching this pickle.
	Chain []*scope.Node
	// Leaves are the Scenario nodes of a plain scenario, outer first: the
	// registration shared by its name, then the one for its occurrence.
	Leaves []*scope.Node
	Suite  *Suite

	plan     *TestPlan
	buildErr error

	mu          sync.Mutex
	status      Status
	attempts    int
	maxAttempts int
	world       scope.World
	fixtures    *fixture.Scope
	err         error
	pending     string
	stepResults []StepResult
	startedAt   time.Time
	finishedAt  time.Time
	// inFlight holds the hook and step runs of this attempt that have not
	// returned yet.
	inFlight []*run
}

// run is one hook or step sequence working on an attempt. It keeps the
// attempt's world so a run the host abandoned never touches a later one.
type run struct {
	ctx      context.Context
	attempt  int
	world    scope.World
	fixtures *fixture.Scope
}

// enter registers a run of the current attempt; leave must be called when it
// returns.
func (e *Executable) enter(ctx context.Context) (r *run, leave func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r = &run{ctx: ctx, attempt: e.attempts, world: e.world, fixtures: e.fixtures}
	e.inFlight = append(e.inFlight, r)
	return r, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, cur := range e.inFlight {
			if cur == r {
				e.inFlight = append(e.inFlight[:i], e.inFlight[i+1:]...)
				break
			}
		}
	}
}

// within runs fn under e.mu while r's attempt is still in progress and
// reports whether it did.
func (e *Executable) within(r *run, fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attempts != r.attempt || e.status != StatusRunning {
		return false
	}
	fn()
	return true
}

// ScopePath renders the pickle's place in its feature for diagnostics.
func (e *Executable) ScopePath() string {
	path := e.Pickle.URI
	if e.Pickle.Path.Rule != "" {
		path += " > " + e.Pickle.Path.Rule
	}
	return path + " > " + e.Pickle.Name
}

// TitlePath is the suite titles followed by the executable's title, the name
// a host runner reports for the test.
func (e *Executable) TitlePath() []string {
	return append(e.Suite.TitlePath(), e.Title)
}

// BuildErr is the resolution error that will fail the executable when run.
func (e *Executable) BuildErr() error { return e.buildErr }

func (e *Executable) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// World returns the state of the latest attempt, nil if none started.
func (e *Executable) World() scope.World {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.world
}

// Err is the first failure of the latest attempt.
func (e *Executable) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Result snapshots the latest attempt.
func (e *Executable) Result() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := Result{
		Status:     e.status,
		Err:        e.err,
		Reason:     e.pending,
		Attempts:   e.attempts,
		StartedAt:  e.startedAt,
		FinishedAt: e.finishedAt,
		Steps:      append([]StepResult(nil), e.stepResults...),
	}
	if !e.finishedAt.IsZero() {
		r.Duration = e.finishedAt.Sub(e.startedAt)
	}
	return r
}

// SetRetries allows n re-runs after a failure.
func (e *Executable) SetRetries(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n < 0 {
		n = 0
	}
	e.maxAttempts = n + 1
}

// CanRetry reports whether a failed executable has attempts left.
func (e *Executable) CanRetry() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status == StatusFailed && e.attempts < e.maxAttempts
}

// transition must be called with e.mu held.
func (e *Executable) transition(to Status) error {
	if !isAllowedTransition(e.status, to) {
		return fmt.Errorf("executable %q: disallowed transition %s -> %s", e.Title, e.status, to)
	}
	if e.status == StatusFailed && to == StatusRunning && e.attempts >= e.maxAttempts {
		return fmt.Errorf("executable %q: no retries left after %d attempts", e.Title, e.attempts)
	}
	e.status = to
	return nil
}

// recordFailure keeps the first failure of the attempt.
func (e *Executable) recordFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail(err)
}

func (e *Executable) recordPending(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pend(reason)
}

// fail and pend must be called with e.mu held.
func (e *Executable) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *Executable) pend(reason string) {
	if e.pending == "" {
		e.pending = reason
	}
}

func (e *Executable) stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err != nil || e.pending != ""
}

func (e *Executable) running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status == StatusRunning
}

package plan

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/chriserin/ftplan/internal/domain"
	"github.com/chriserin/ftplan/internal/events"
	"github.com/chriserin/ftplan/internal/fixture"
	"github.com/chriserin/ftplan/internal/scope"
)

// Start begins an attempt: it creates a fresh world and fixture scope and
// moves the executable to Running. An unresolved step fails the attempt
// here, before any hook or step runs.
func (e *Executable) Start(ctx context.Context) error {
	if e.Disposition != Run {
		return fmt.Errorf("executable %q has disposition %s", e.Title, e.Disposition)
	}
	opts := e.plan.opts

	e.mu.Lock()
	if err := e.transition(StatusRunning); err != nil {
		e.mu.Unlock()
		return err
	}
	e.attempts++
	attempt := e.attempts
	e.world = scope.World{}
	if opts.NewWorld != nil {
		if w := opts.NewWorld(); w != nil {
			e.world = w
		}
	}
	if opts.Fixtures != nil {
		e.fixtures = opts.Fixtures.NewScope()
	}
	e.err = nil
	e.pending = ""
	e.stepResults = nil
	e.inFlight = nil
	e.startedAt = time.Now()
	e.finishedAt = time.Time{}
	e.mu.Unlock()

	e.publish(events.Event{Kind: events.ExecutableStarted, Attempt: attempt})
	e.plan.log.Debug("executable started",
		zap.String("scenario", e.Title),
		zap.String("uri", e.Pickle.URI),
		zap.Int("attempt", attempt))

	if e.buildErr != nil {
		e.recordFailure(e.buildErr)
		return e.buildErr
	}
	return nil
}

// Fail records err as the attempt's failure. Drivers use it when an
// enclosing Setup hook failed so the executable never reaches its steps.
func (e *Executable) Fail(err error) {
	e.recordFailure(err)
}

// RunHook runs one Before or After hook against the current attempt. Before
// hooks are skipped once the attempt has stopped; After hooks always run.
func (e *Executable) RunHook(ctx context.Context, h *scope.Hook) error {
	if !e.running() {
		return nil
	}
	if (h.Kind == scope.HookBefore || h.Kind == scope.HookSetup) && e.stopped() {
		return nil
	}
	r, leave := e.enter(ctx)
	defer leave()
	in := scope.HookInput{
		World:    r.world,
		Hook:     h,
		Scenario: e.Title,
		Err:      e.Err(),
		Fixtures: r.fixtures,
		Logger:   e.plan.log,
	}

	err := runHook(ctx, h, in)
	if err == nil {
		return nil
	}
	if domain.IsPending(err) {
		e.within(r, func() { e.pend(fmt.Sprintf("%s hook %q is pending", h.Kind, h.Name)) })
		return &domain.ScenarioPendingError{Scenario: e.Title, Reason: err.Error()}
	}
	if !e.within(r, func() { e.fail(err) }) {
		return err
	}
	e.plan.log.Error("hook failed",
		zap.String("scenario", e.Title),
		zap.String("phase", h.Kind.String()),
		zap.String("hook", h.Name),
		zap.Error(err))
	e.publish(events.Event{Kind: events.HookFailed, HookPhase: h.Kind.String(), HookName: h.Name, ScopePath: h.Node.Path(), Err: err})
	return err
}

// RunSteps runs the resolved steps in order. The first failure or pending
// step stops the sequence; the remaining steps are recorded as skipped.
// Once the attempt has been finished, a late step records nothing and the
// sequence stops.
func (e *Executable) RunSteps(ctx context.Context) error {
	if !e.running() {
		return fmt.Errorf("executable %q is not running", e.Title)
	}
	r, leave := e.enter(ctx)
	defer leave()
	for i, rs := range e.Steps {
		res := StepResult{Text: rs.Step.Text, Status: StatusSkipped}
		if !e.stopped() {
			start := time.Now()
			err := e.runStep(r, rs)
			res.Status, res.Duration = StatusPassed, time.Since(start)
			switch {
			case err == nil:
			case domain.IsPending(err):
				res.Status = StatusPending
			default:
				res.Status, res.Err = StatusFailed, err
			}
		}
		recorded := e.within(r, func() {
			switch res.Status {
			case StatusPending:
				e.pend(fmt.Sprintf("step %d %q is pending", i+1, rs.Step.Text))
			case StatusFailed:
				e.fail(res.Err)
			}
			e.stepResults = append(e.stepResults, res)
		})
		if !recorded {
			return fmt.Errorf("executable %q: attempt %d already finished", e.Title, r.attempt)
		}
	}

	e.mu.Lock()
	err, pending := e.err, e.pending
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if pending != "" {
		return &domain.ScenarioPendingError{Scenario: e.Title, Reason: pending}
	}
	return nil
}

func (e *Executable) runStep(r *run, rs ResolvedStep) error {
	ctx := r.ctx
	if rs.Err != nil {
		return rs.Err
	}
	if reason, ok := rs.Def.Pending(); ok {
		return &domain.ScenarioPendingError{Scenario: e.Title, Reason: reason}
	}
	if err := ctx.Err(); err != nil {
		return e.contextError(err)
	}

	in := scope.StepInput{
		Keyword: rs.Step.Keyword,
		Text:    rs.Step.Text,
		Args:    rs.Args,
		World:   r.world,
		Logger:  e.plan.log,
	}
	if rs.Step.DataTable != nil {
		in.Table = scope.NewTable(rs.Step.DataTable.Rows)
	}
	if rs.Def.Table != scope.TableNone {
		if err := in.Table.Validate(rs.Def.Table); err != nil {
			return e.stepError(rs, err)
		}
	}
	if rs.Step.DocString != nil {
		in.DocString = rs.Step.DocString.Content
	}
	in.Fixtures = r.fixtures

	err := invoke(func() error { return rs.Def.Handler(scope.NewStepContext(ctx, in)) })
	if ctxErr := ctx.Err(); ctxErr != nil {
		return e.contextError(ctxErr)
	}
	if err == nil {
		return nil
	}
	if domain.IsPending(err) {
		return err
	}
	return e.stepError(rs, err)
}

func (e *Executable) stepError(rs ResolvedStep, err error) error {
	return &domain.StepExecutionError{
		Keyword:   rs.Step.Keyword,
		Text:      rs.Step.Text,
		ScopePath: e.ScopePath(),
		Cause:     err,
	}
}

func (e *Executable) contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.TimeoutError{Scenario: e.Title, Timeout: e.Timeout}
	}
	return err
}

func (e *Executable) unfinished(r *run) error {
	if err := r.ctx.Err(); err != nil {
		return e.contextError(err)
	}
	return fmt.Errorf("executable %q: a hook or step was still running when the attempt finished", e.Title)
}

// Finish ends the attempt: it releases per-scenario fixtures and moves the
// executable to Failed, Pending or Passed. A hook or step the host abandoned
// and that is still running fails the attempt.
func (e *Executable) Finish() Result {
	e.mu.Lock()
	if e.status != StatusRunning {
		e.mu.Unlock()
		return e.Result()
	}
	if len(e.inFlight) > 0 {
		e.fail(e.unfinished(e.inFlight[0]))
		e.inFlight = nil
	}
	fixtures := e.fixtures
	e.fixtures = nil
	e.mu.Unlock()

	if fixtures != nil {
		if err := fixtures.Close(); err != nil {
			e.recordFailure(fmt.Errorf("closing fixtures: %w", err))
		}
	}

	e.mu.Lock()
	to := StatusPassed
	switch {
	case e.err != nil:
		to = StatusFailed
	case e.pending != "":
		to = StatusPending
	}
	_ = e.transition(to)
	e.finishedAt = time.Now()
	e.mu.Unlock()

	r := e.Result()
	e.publishResult(r)
	e.plan.log.Debug("executable finished",
		zap.String("scenario", e.Title),
		zap.String("status", r.Status.String()),
		zap.Duration("duration", r.Duration),
		zap.Error(r.Err))
	return r
}

// Finalize settles an executable the host never ran because of its skip or
// pending disposition. No world is created.
func (e *Executable) Finalize() Result {
	e.mu.Lock()
	if e.status != StatusIdle {
		e.mu.Unlock()
		return e.Result()
	}
	to := StatusSkipped
	if e.Disposition == Pending {
		to = StatusPending
	}
	e.pending = e.Reason
	_ = e.transition(to)
	now := time.Now()
	e.startedAt, e.finishedAt = now, now
	e.mu.Unlock()

	r := e.Result()
	e.publishResult(r)
	return r
}

// Execute runs the executable on its own: Setup and Before hooks outer to
// inner, the steps, then After and Teardown hooks inner to outer. Cleanup
// hooks run however far the attempt got. The executable's timeout bounds
// ctx. Failed attempts are retried while retries remain.
func (e *Executable) Execute(ctx context.Context) Result {
	if e.Disposition != Run {
		return e.Finalize()
	}
	for {
		r := e.executeOnce(ctx)
		if r.Status != StatusFailed || !e.CanRetry() {
			return r
		}
	}
}

func (e *Executable) executeOnce(parent context.Context) Result {
	ctx, cancel := context.WithTimeout(parent, e.Timeout)
	defer cancel()

	if err := e.Start(ctx); err != nil && !e.running() {
		return e.Result()
	}
	func() {
		for _, h := range e.Hooks.Setup {
			if e.RunHook(ctx, h) != nil {
				return
			}
		}
		for _, h := range e.Hooks.Before {
			if e.RunHook(ctx, h) != nil {
				return
			}
		}
		if !e.stopped() {
			_ = e.RunSteps(ctx)
		}
	}()

	// cleanup gets its own deadline so a timed-out scenario still releases
	// what it acquired
	cleanup, cancelCleanup := context.WithTimeout(context.WithoutCancel(parent), e.Timeout)
	defer cancelCleanup()
	for _, h := range e.Hooks.After {
		_ = e.RunHook(cleanup, h)
	}
	for _, h := range e.Hooks.Teardown {
		_ = e.RunHook(cleanup, h)
	}
	return e.Finish()
}

func (e *Executable) publish(ev events.Event) {
	bus := e.plan.opts.Events
	if bus == nil {
		return
	}
	ev.PickleID = e.ID
	ev.URI = e.Pickle.URI
	ev.Title = e.Title
	ev.Tags = e.Pickle.Tags
	bus.Publish(ev)
}

func (e *Executable) publishResult(r Result) {
	e.publish(events.Event{
		Kind:     events.ExecutableFinished,
		Status:   r.Status.String(),
		Attempt:  r.Attempts,
		Duration: r.Duration,
		Err:      r.Err,
	})
}

// RunSuiteHook runs a Setup or Teardown hook once for a whole suite. There is
// no world at suite level; hooks share the load's singleton fixtures.
func RunSuiteHook(ctx context.Context, p *TestPlan, h *scope.Hook) error {
	var scopeFixtures *fixture.Scope
	if p.opts.Fixtures != nil {
		scopeFixtures = p.opts.Fixtures.NewScope()
		defer func() { _ = scopeFixtures.Close() }()
	}
	err := runHook(ctx, h, scope.HookInput{Hook: h, Fixtures: scopeFixtures, Logger: p.log})
	if err != nil {
		p.log.Error("suite hook failed",
			zap.String("phase", h.Kind.String()),
			zap.String("hook", h.Name),
			zap.String("scope", h.Node.Path()),
			zap.Error(err))
		if bus := p.opts.Events; bus != nil {
			bus.Publish(events.Event{Kind: events.HookFailed, URI: p.Feature.URI, HookPhase: h.Kind.String(), HookName: h.Name, ScopePath: h.Node.Path(), Err: err})
		}
	}
	return err
}

func runHook(ctx context.Context, h *scope.Hook, in scope.HookInput) error {
	err := invoke(func() error { return h.Action(scope.NewHookContext(ctx, in)) })
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil || domain.IsPending(err) {
		return err
	}
	return &domain.HookExecutionError{
		Phase:     h.Kind.String(),
		ScopeKind: h.Node.Kind().String(),
		ScopeName: h.Node.Name(),
		HookName:  h.Name,
		Cause:     err,
	}
}

// invoke runs a handler, turning a panic into an error.
func invoke(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}

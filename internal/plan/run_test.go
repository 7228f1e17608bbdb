package plan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chriserin/ftplan/internal/domain"
	"github.com/chriserin/ftplan/internal/events"
	"github.com/chriserin/ftplan/internal/fixture"
	"github.com/chriserin/ftplan/internal/scope"
	"github.com/chriserin/ftplan/internal/tagexpr"
)

const calculatorFeature = `Feature: Calculator
  Scenario: Add two numbers
    Given two numbers 2 and 3
    When they are added
    Then the sum is 5
`

func calculatorTree(calls *int) *scope.Tree {
	tree := scope.NewTree(nil)
	tree.Given("two numbers {int} and {int}", func(c *scope.StepContext) error {
		*calls++
		c.World["numbers"] = []int{c.Int(0), c.Int(1)}
		return nil
	})
	tree.When("they are added", func(c *scope.StepContext) error {
		*calls++
		nums := c.World["numbers"].([]int)
		c.World["result"] = nums[0] + nums[1]
		return nil
	})
	tree.Then("the sum is {int}", func(c *scope.StepContext) error {
		*calls++
		if got := c.World["result"]; got != c.Int(0) {
			return fmt.Errorf("sum is %v, want %d", got, c.Int(0))
		}
		return nil
	})
	return tree
}

func TestExecute_AddsNumbersIntoWorld(t *testing.T) {
	calls := 0
	p := buildPlan(t, calculatorFeature, calculatorTree(&calls), Options{})
	e := p.ListExecutables()[0]

	r := e.Execute(context.Background())
	require.NoError(t, r.Err)
	assert.Equal(t, StatusPassed, r.Status)
	assert.Equal(t, 3, calls)
	assert.Equal(t, scope.World{"numbers": []int{2, 3}, "result": 5}, e.World())
	require.Len(t, r.Steps, 3)
	for _, s := range r.Steps {
		assert.Equal(t, StatusPassed, s.Status)
	}
	assert.Equal(t, 1, r.Attempts)
}

func TestExecute_FilteredOutNeverBuildsWorld(t *testing.T) {
	calls := 0
	src := "@skip-me\n" + calculatorFeature
	p := buildPlan(t, src, calculatorTree(&calls), Options{
		Filter:   tagexpr.MustParse("@run"),
		NewWorld: func() scope.World { panic("world must not be built") },
	})
	e := p.ListExecutables()[0]
	assert.Equal(t, Skip, e.Disposition)

	r := e.Execute(context.Background())
	assert.Equal(t, StatusSkipped, r.Status)
	assert.Nil(t, e.World())
	assert.Zero(t, calls)
	assert.Zero(t, r.Attempts)
	assert.Error(t, e.Start(context.Background()))
}

const nestedFeature = `Feature: Nested
  Rule: R
    Scenario: S
      Given a step
`

func tracingTree(trace *[]string, failAt string) *scope.Tree {
	tree := scope.NewTree(nil)
	hooks := func(level string) {
		for _, kind := range []string{"setup", "before", "after", "teardown"} {
			name := kind + ":" + level
			fn := func(*scope.HookContext) error {
				*trace = append(*trace, name)
				if name == failAt {
					return errors.New("boom")
				}
				return nil
			}
			switch kind {
			case "setup":
				tree.Setup(name, fn)
			case "before":
				tree.Before(name, fn)
			case "after":
				tree.After(name, fn)
			case "teardown":
				tree.Teardown(name, fn)
			}
		}
	}
	hooks("global")
	tree.Given("a step", func(*scope.StepContext) error {
		*trace = append(*trace, "step")
		return nil
	})
	tree.Feature("Nested", func() {
		hooks("feature")
		tree.Rule("R", func() {
			hooks("rule")
			tree.Scenario("S", func() {
				hooks("scenario")
			})
		})
	})
	return tree
}

func TestExecute_HookOrder(t *testing.T) {
	var trace []string
	p := buildPlan(t, nestedFeature, tracingTree(&trace, ""), Options{})

	r := p.ListExecutables()[0].Execute(context.Background())
	require.Equal(t, StatusPassed, r.Status)
	assert.Equal(t, []string{
		"setup:global", "setup:feature", "setup:rule", "setup:scenario",
		"before:global", "before:feature", "before:rule", "before:scenario",
		"step",
		"after:scenario", "after:rule", "after:feature", "after:global",
		"teardown:scenario", "teardown:rule", "teardown:feature", "teardown:global",
	}, trace)
}

func TestExecute_SetupFailureStillRunsCleanup(t *testing.T) {
	var trace []string
	p := buildPlan(t, nestedFeature, tracingTree(&trace, "setup:feature"), Options{})

	r := p.ListExecutables()[0].Execute(context.Background())
	assert.Equal(t, StatusFailed, r.Status)
	var hookErr *domain.HookExecutionError
	require.True(t, errors.As(r.Err, &hookErr))
	assert.Equal(t, "setup", hookErr.Phase)
	assert.Equal(t, "Nested", hookErr.ScopeName)
	assert.Equal(t, []string{
		"setup:global", "setup:feature",
		"after:scenario", "after:rule", "after:feature", "after:global",
		"teardown:scenario", "teardown:rule", "teardown:feature", "teardown:global",
	}, trace)
}

func TestExecute_BeforeFailureSkipsSteps(t *testing.T) {
	var trace []string
	p := buildPlan(t, nestedFeature, tracingTree(&trace, "before:rule"), Options{})

	r := p.ListExecutables()[0].Execute(context.Background())
	assert.Equal(t, StatusFailed, r.Status)
	assert.NotContains(t, trace, "step")
	assert.NotContains(t, trace, "before:scenario")
	assert.Contains(t, trace, "after:scenario")
	assert.Contains(t, trace, "teardown:global")
	assert.Empty(t, r.Steps)
}

func TestExecute_AfterHookSeesFailure(t *testing.T) {
	tree := scope.NewTree(nil)
	tree.Given("a step", func(*scope.StepContext) error { return errors.New("broken") })
	tree.Then("never", func(*scope.StepContext) error { return nil })
	var seen error
	tree.After("report", func(c *scope.HookContext) error {
		seen = c.Err
		return nil
	})
	p := buildPlan(t, `Feature: F
  Scenario: S
    Given a step
    Then never
`, tree, Options{})

	r := p.ListExecutables()[0].Execute(context.Background())
	assert.Equal(t, StatusFailed, r.Status)
	var stepErr *domain.StepExecutionError
	require.True(t, errors.As(r.Err, &stepErr))
	assert.Equal(t, "a step", stepErr.Text)
	assert.EqualError(t, stepErr.Cause, "broken")
	assert.Same(t, r.Err, seen)
	require.Len(t, r.Steps, 2)
	assert.Equal(t, StatusFailed, r.Steps[0].Status)
	assert.Equal(t, StatusSkipped, r.Steps[1].Status)
}

func TestExecute_UnresolvedStepFailsBeforeHooks(t *testing.T) {
	var trace []string
	tree := scope.NewTree(nil)
	tree.Before("before", func(*scope.HookContext) error {
		trace = append(trace, "before")
		return nil
	})
	tree.After("after", func(*scope.HookContext) error {
		trace = append(trace, "after")
		return nil
	})
	p := buildPlan(t, `Feature: F
  Scenario: S
    Given nothing matches
`, tree, Options{})

	r := p.ListExecutables()[0].Execute(context.Background())
	assert.Equal(t, StatusFailed, r.Status)
	var matchErr *domain.StepMatchError
	assert.True(t, errors.As(r.Err, &matchErr))
	assert.Equal(t, []string{"after"}, trace)
}

func TestExecute_PanicBecomesStepError(t *testing.T) {
	tree := scope.NewTree(nil)
	tree.Given("a step", func(*scope.StepContext) error { panic("kaboom") })
	p := buildPlan(t, "Feature: F\n  Scenario: S\n    Given a step\n", tree, Options{})

	r := p.ListExecutables()[0].Execute(context.Background())
	assert.Equal(t, StatusFailed, r.Status)
	assert.Contains(t, r.Err.Error(), "panic: kaboom")
}

func TestExecute_Timeout(t *testing.T) {
	var afterRan bool
	tree := scope.NewTree(nil)
	tree.Given("a slow step", func(c *scope.StepContext) error {
		<-c.Context().Done()
		return c.Context().Err()
	})
	tree.After("cleanup", func(c *scope.HookContext) error {
		afterRan = c.Context().Err() == nil
		return nil
	})
	tree.Feature("F", func() { tree.Timeout(20 * time.Millisecond) })
	p := buildPlan(t, "Feature: F\n  Scenario: S\n    Given a slow step\n", tree, Options{})

	r := p.ListExecutables()[0].Execute(context.Background())
	assert.Equal(t, StatusFailed, r.Status)
	var timeout *domain.TimeoutError
	require.True(t, errors.As(r.Err, &timeout))
	assert.Equal(t, 20*time.Millisecond, timeout.Timeout)
	assert.True(t, afterRan)
}

func TestFinish_StepStillRunningFailsAttempt(t *testing.T) {
	entered, release := make(chan struct{}), make(chan struct{})
	tree := scope.NewTree(nil)
	tree.Given("a stuck step", func(*scope.StepContext) error {
		close(entered)
		<-release
		return nil
	})
	tree.Feature("F", func() { tree.Timeout(time.Millisecond) })
	p := buildPlan(t, "Feature: F\n  Scenario: S\n    Given a stuck step\n", tree, Options{})
	e := p.ListExecutables()[0]

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	require.NoError(t, e.Start(ctx))
	done := make(chan error, 1)
	go func() { done <- e.RunSteps(ctx) }()
	<-entered
	<-ctx.Done()

	r := e.Finish()
	assert.Equal(t, StatusFailed, r.Status)
	var timeout *domain.TimeoutError
	assert.ErrorAs(t, r.Err, &timeout)

	close(release)
	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already finished")
	assert.Empty(t, e.Result().Steps, "a late step records nothing")
}

func TestExecute_PendingStep(t *testing.T) {
	tree := scope.NewTree(nil)
	tree.Given("a step", func(*scope.StepContext) error { return domain.ErrPending })
	tree.Then("later", func(*scope.StepContext) error { return nil })
	p := buildPlan(t, "Feature: F\n  Scenario: S\n    Given a step\n    Then later\n", tree, Options{})
	e := p.ListExecutables()[0]
	require.Equal(t, Run, e.Disposition)

	r := e.Execute(context.Background())
	assert.Equal(t, StatusPending, r.Status)
	assert.NoError(t, r.Err)
	assert.Contains(t, r.Reason, `"a step" is pending`)
	assert.Equal(t, StatusPending, r.Steps[0].Status)
	assert.Equal(t, StatusSkipped, r.Steps[1].Status)
}

func TestExecute_PendingDisposition(t *testing.T) {
	tree := scope.NewTree(nil)
	tree.Given("a step", ok)
	tree.Feature("F", func() { tree.Pending("not ready") })
	p := buildPlan(t, "Feature: F\n  Scenario: S\n    Given a step\n", tree, Options{})

	r := p.ListExecutables()[0].Execute(context.Background())
	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, "not ready", r.Reason)
	assert.Nil(t, p.ListExecutables()[0].World())
}

func TestExecute_RetriesWithFreshWorld(t *testing.T) {
	calls := 0
	tree := scope.NewTree(nil)
	tree.Given("a flaky step", func(c *scope.StepContext) error {
		if _, dirty := c.World["dirty"]; dirty {
			return errors.New("world leaked between attempts")
		}
		c.World["dirty"] = true
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	p := buildPlan(t, "Feature: F\n  Scenario: S\n    Given a flaky step\n", tree, Options{Retries: 2})

	r := p.ListExecutables()[0].Execute(context.Background())
	assert.Equal(t, StatusPassed, r.Status)
	assert.Equal(t, 3, r.Attempts)
	assert.Equal(t, 3, calls)
}

func TestExecute_RetriesExhausted(t *testing.T) {
	calls := 0
	tree := scope.NewTree(nil)
	tree.Given("a broken step", func(*scope.StepContext) error {
		calls++
		return errors.New("always")
	})
	p := buildPlan(t, "Feature: F\n  Scenario: S\n    Given a broken step\n", tree, Options{Retries: 1})
	e := p.ListExecutables()[0]

	r := e.Execute(context.Background())
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, 2, r.Attempts)
	assert.Equal(t, 2, calls)
	assert.False(t, e.CanRetry())
	assert.Error(t, e.Start(context.Background()))
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestExecute_FixturesPerScenario(t *testing.T) {
	type conn struct{ io.Closer }
	tok := fixture.NewToken[*conn]("conn")
	container := fixture.NewContainer()
	closed := 0
	require.NoError(t, fixture.Provide(container, tok, fixture.PerScenario, func(*fixture.Scope) (*conn, error) {
		return &conn{closerFunc(func() error { closed++; return nil })}, nil
	}))

	var got []*conn
	tree := scope.NewTree(nil)
	tree.Given("a connection", func(c *scope.StepContext) error {
		got = append(got, fixture.MustResolve(c.Fixtures, tok))
		got = append(got, fixture.MustResolve(c.Fixtures, tok))
		return nil
	})
	p := buildPlan(t, `Feature: F
  Scenario: One
    Given a connection

  Scenario: Two
    Given a connection
`, tree, Options{Fixtures: container})

	for _, e := range p.ListExecutables() {
		require.Equal(t, StatusPassed, e.Execute(context.Background()).Status)
	}
	require.Len(t, got, 4)
	assert.Same(t, got[0], got[1])
	assert.NotSame(t, got[1], got[2])
	assert.Equal(t, 2, closed)
}

func TestExecute_TableShapeIsValidated(t *testing.T) {
	tree := scope.NewTree(nil)
	tree.Given("the users", func(c *scope.StepContext) error { return nil }, scope.WithTable(scope.TableVertical))
	p := buildPlan(t, `Feature: F
  Scenario: S
    Given the users
      | name | role  | extra |
      | ann  | admin | x     |
`, tree, Options{})

	r := p.ListExecutables()[0].Execute(context.Background())
	assert.Equal(t, StatusFailed, r.Status)
	var stepErr *domain.StepExecutionError
	assert.True(t, errors.As(r.Err, &stepErr))
}

func TestExecute_PublishesEvents(t *testing.T) {
	bus := events.NewBus()
	var kinds []events.Kind
	var last events.Event
	bus.Subscribe(events.ListenerFunc(func(e events.Event) {
		kinds = append(kinds, e.Kind)
		last = e
	}))
	calls := 0
	p := buildPlan(t, calculatorFeature, calculatorTree(&calls), Options{Events: bus})

	p.ListExecutables()[0].Execute(context.Background())
	assert.Equal(t, []events.Kind{events.ExecutableStarted, events.ExecutableFinished}, kinds)
	assert.Equal(t, "passed", last.Status)
	assert.Equal(t, "Add two numbers", last.Title)
	assert.Equal(t, "features/calc.feature", last.URI)
}

func TestRunSuiteHook(t *testing.T) {
	bus := events.NewBus()
	var failed []events.Event
	bus.Subscribe(events.ListenerFunc(func(e events.Event) {
		if e.Kind == events.HookFailed {
			failed = append(failed, e)
		}
	}))
	tree := scope.NewTree(nil)
	var world scope.World = scope.World{}
	tree.Setup("seed", func(c *scope.HookContext) error {
		world = c.World
		return errors.New("no database")
	})
	p := buildPlan(t, calculatorFeature, tree, Options{Events: bus})

	err := RunSuiteHook(context.Background(), p, p.Global.Hooks(scope.HookSetup)[0])
	var hookErr *domain.HookExecutionError
	require.True(t, errors.As(err, &hookErr))
	assert.Equal(t, "global", hookErr.ScopeKind)
	assert.Nil(t, world)
	require.Len(t, failed, 1)
	assert.Equal(t, "seed", failed[0].HookName)
}

func TestTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusIdle, StatusRunning, true},
		{StatusIdle, StatusSkipped, true},
		{StatusIdle, StatusPassed, false},
		{StatusRunning, StatusPassed, true},
		{StatusRunning, StatusIdle, false},
		{StatusFailed, StatusRunning, true},
		{StatusPassed, StatusRunning, false},
		{StatusSkipped, StatusRunning, false},
	}
	for _, tc := range cases {
		t.Run(tc.from.String()+"->"+tc.to.String(), func(t *testing.T) {
			assert.Equal(t, tc.allowed, isAllowedTransition(tc.from, tc.to))
		})
	}
	assert.True(t, IsTerminal(StatusPending))
	assert.False(t, IsTerminal(StatusRunning))
}

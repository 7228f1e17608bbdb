package scope

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chriserin/ftplan/internal/fixture"
)

// World is the per-scenario state shared by the steps and hooks of one
// executable. It is never shared between executables.
type World map[string]any

// StepInput carries everything a handler receives for one step.
type StepInput struct {
	World     World
	Keyword   string
	Text      string
	Args      []any
	Table     *Table
	DocString string
	Fixtures  *fixture.Scope
	Logger    *zap.Logger
}

// StepContext is passed to step handlers.
type StepContext struct {
	StepInput
	ctx context.Context
}

func NewStepContext(ctx context.Context, in StepInput) *StepContext {
	if in.Logger == nil {
		in.Logger = zap.NewNop()
	}
	return &StepContext{StepInput: in, ctx: ctx}
}

// Context is cancelled when the scenario times out. Handlers that block
// should select on it; a handler that ignores it is abandoned by the host
// after a grace period and its attempt fails with a timeout.
func (c *StepContext) Context() context.Context { return c.ctx }

// Arg returns argument i, panicking when it is out of range.
func (c *StepContext) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		panic(fmt.Sprintf("step %q has %d arguments, asked for %d", c.Text, len(c.Args), i))
	}
	return c.Args[i]
}

func (c *StepContext) Int(i int) int {
	v, ok := c.Arg(i).(int)
	if !ok {
		panic(fmt.Sprintf("argument %d of %q is %T, not int", i, c.Text, c.Args[i]))
	}
	return v
}

func (c *StepContext) Float(i int) float64 {
	switch v := c.Arg(i).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		panic(fmt.Sprintf("argument %d of %q is %T, not float64", i, c.Text, v))
	}
}

func (c *StepContext) String(i int) string {
	v := c.Arg(i)
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// HookInput carries everything a hook receives.
type HookInput struct {
	// World is nil for Setup and Teardown hooks run once per suite.
	World    World
	Hook     *Hook
	Scenario string
	// Err is the first failure of the scenario so far, for After hooks.
	Err      error
	Fixtures *fixture.Scope
	Logger   *zap.Logger
}

// HookContext is passed to hook actions.
type HookContext struct {
	HookInput
	ctx context.Context
}

func NewHookContext(ctx context.Context, in HookInput) *HookContext {
	if in.Logger == nil {
		in.Logger = zap.NewNop()
	}
	return &HookContext{HookInput: in, ctx: ctx}
}

func (c *HookContext) Context() context.Context { return c.ctx }

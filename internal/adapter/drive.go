package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chriserin/ftplan/internal/plan"
	"github.com/chriserin/ftplan/internal/scope"
)

// OnlyTag focuses a pickle on hosts that support Only.
const OnlyTag = "@only"

type driver struct {
	host   Host
	global *scope.Node

	mu sync.Mutex
	// failed holds Setup failures by suite; the nil key is the global scope.
	failed map[*plan.Suite]error
	tests  map[string]*plan.Executable
}

// Drive registers plans on h. Plans must come from one scope tree. Each
// feature becomes a suite nesting its rules, outlines and example groups;
// each executable becomes a test.
//
// Setup and Teardown hooks run once per suite through BeforeAll and AfterAll.
// Before and After hooks run per test at the depth of the scope that
// registered them, so the host's own ordering applies them outer to inner and
// inner to outer. A failed Setup is never reported to the host directly: every
// test under it fails at start, skipping its Before hooks and steps while its
// After and Teardown hooks still run.
func Drive(h Host, plans ...*plan.TestPlan) {
	if len(plans) == 0 {
		return
	}
	first := plans[0]
	d := &driver{
		host:   h,
		global: first.Global,
		failed: make(map[*plan.Suite]error),
		tests:  make(map[string]*plan.Executable),
	}
	opts := first.Options()
	if opts.Retries > 0 {
		h.Retry(opts.Retries)
	}
	timeout := WithTimeout(opts.DefaultTimeout)

	if hooks := d.global.Hooks(scope.HookSetup); len(hooks) > 0 {
		h.BeforeAll(func(ctx context.Context) error {
			d.setup(ctx, first, nil, hooks)
			return nil
		}, timeout)
	}
	h.BeforeEach(d.begin, timeout)
	h.AfterEach(d.end, timeout)

	titles := make(map[string]int)
	for _, p := range plans {
		title := p.Root.Title
		titles[title]++
		if n := titles[title]; n > 1 {
			title = fmt.Sprintf("%s (%d)", title, n)
		}
		d.suite(p, p.Root, title, nil)
	}

	if hooks := d.global.Hooks(scope.HookTeardown); len(hooks) > 0 {
		h.AfterAll(func(ctx context.Context) error {
			return d.teardown(ctx, first, hooks)
		}, timeout)
	}
}

func (d *driver) suite(p *plan.TestPlan, s *plan.Suite, title string, path []string) {
	path = append(append([]string(nil), path...), title)
	timeout := WithTimeout(p.Options().DefaultTimeout)

	d.host.Suite(title, func() {
		if hooks := nodeHooks(s.Nodes, scope.HookSetup); len(hooks) > 0 {
			d.host.BeforeAll(func(ctx context.Context) error {
				d.setup(ctx, p, s, hooks)
				return nil
			}, timeout)
		}
		if hasEachHooks(s, scope.HookBefore) {
			d.host.BeforeEach(func(ctx context.Context) error {
				return d.each(ctx, s, scope.HookBefore)
			}, timeout)
		}
		if hasEachHooks(s, scope.HookAfter) {
			d.host.AfterEach(func(ctx context.Context) error {
				return d.each(ctx, s, scope.HookAfter)
			}, timeout)
		}

		for _, entry := range s.Entries {
			if entry.Suite != nil {
				d.suite(p, entry.Suite, entry.Suite.Title, path)
				continue
			}
			d.test(entry.Executable, path)
		}

		if hooks := nodeHooks(s.Nodes, scope.HookTeardown); len(hooks) > 0 {
			d.host.AfterAll(func(ctx context.Context) error {
				return d.teardown(ctx, p, hooks)
			}, timeout)
		}
	})
}

func (d *driver) test(e *plan.Executable, path []string) {
	name := strings.Join(append(append([]string(nil), path...), e.Title), " ")
	d.mu.Lock()
	d.tests[name] = e
	d.mu.Unlock()

	if err := e.BuildErr(); err != nil {
		d.host.Warn(err.Error())
	}
	opts := []Option{WithTimeout(e.Timeout)}
	switch {
	case e.Disposition != plan.Run:
		e.Finalize()
		opts = append(opts, Skip(e.Reason))
	case e.Pickle.HasTag(OnlyTag):
		opts = append(opts, Only())
	}
	d.host.Test(e.Title, func(ctx context.Context) error {
		return e.RunSteps(ctx)
	}, opts...)
}

// begin is the outermost BeforeEach: it starts the attempt, fails it when an
// enclosing Setup failed, then runs the scenario's own Setup hooks and the
// global Before hooks.
func (d *driver) begin(ctx context.Context) error {
	e := d.current()
	if e == nil || e.Disposition != plan.Run {
		return nil
	}
	if err := e.Start(ctx); err != nil {
		return err
	}
	if err := d.failure(e.Suite); err != nil {
		e.Fail(err)
		return err
	}
	for _, h := range filter(e.Hooks.Setup, e.Leaves...) {
		if err := e.RunHook(ctx, h); err != nil {
			return err
		}
	}
	for _, h := range filter(e.Hooks.Before, d.global) {
		if err := e.RunHook(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// end is the outermost AfterEach: global After hooks, the scenario's own
// Teardown hooks, then the attempt is finished.
func (d *driver) end(ctx context.Context) error {
	e := d.current()
	if e == nil || e.Disposition != plan.Run {
		return nil
	}
	var errs []error
	for _, h := range filter(e.Hooks.After, d.global) {
		if err := e.RunHook(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	for _, h := range filter(e.Hooks.Teardown, e.Leaves...) {
		if err := e.RunHook(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	e.Finish()
	return errors.Join(errs...)
}

// each runs the Before or After hooks registered on s, plus those of the
// scenario itself when s is the scenario's own suite.
func (d *driver) each(ctx context.Context, s *plan.Suite, kind scope.HookKind) error {
	e := d.current()
	if e == nil || e.Disposition != plan.Run || !inSuite(e, s) {
		return nil
	}
	hooks, nodes := e.Hooks.Before, s.Nodes
	if kind == scope.HookAfter {
		hooks = e.Hooks.After
	}
	if e.Suite == s {
		nodes = append(append([]*scope.Node(nil), nodes...), e.Leaves...)
	}

	var errs []error
	for _, h := range filter(hooks, nodes...) {
		err := e.RunHook(ctx, h)
		if err == nil {
			continue
		}
		if kind == scope.HookBefore {
			return err
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *driver) setup(ctx context.Context, p *plan.TestPlan, s *plan.Suite, hooks []*scope.Hook) {
	if d.failure(s) != nil {
		return
	}
	for _, h := range hooks {
		if err := plan.RunSuiteHook(ctx, p, h); err != nil {
			d.host.LogError(err)
			d.mu.Lock()
			d.failed[s] = err
			d.mu.Unlock()
			return
		}
	}
}

func (d *driver) teardown(ctx context.Context, p *plan.TestPlan, hooks []*scope.Hook) error {
	var errs []error
	for _, h := range hooks {
		if err := plan.RunSuiteHook(ctx, p, h); err != nil {
			d.host.LogError(err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// failure is the outermost Setup failure enclosing s.
func (d *driver) failure(s *plan.Suite) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failed[nil]; err != nil {
		return err
	}
	var chain []*plan.Suite
	for cur := s; cur != nil; cur = cur.Parent {
		chain = append(chain, cur)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		if err := d.failed[chain[i]]; err != nil {
			return err
		}
	}
	return nil
}

// current maps the host's running test back to its executable. Hosts that
// nest the driven suites inside their own containers report a longer name,
// so the longest registered suffix wins.
func (d *driver) current() *plan.Executable {
	name := d.host.CurrentTestName()
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.tests[name]; ok {
		return e
	}
	var best string
	var found *plan.Executable
	for key, e := range d.tests {
		if strings.HasSuffix(name, " "+key) && len(key) > len(best) {
			best, found = key, e
		}
	}
	return found
}

func hasEachHooks(s *plan.Suite, kind scope.HookKind) bool {
	if len(nodeHooks(s.Nodes, kind)) > 0 {
		return true
	}
	for _, entry := range s.Entries {
		if e := entry.Executable; e != nil && len(nodeHooks(e.Leaves, kind)) > 0 {
			return true
		}
	}
	return false
}

// nodeHooks lists the hooks of kind registered on nodes, outer first for
// Setup and inner first for Teardown.
func nodeHooks(nodes []*scope.Node, kind scope.HookKind) []*scope.Hook {
	var out []*scope.Hook
	if kind == scope.HookTeardown {
		for i := len(nodes) - 1; i >= 0; i-- {
			out = append(out, nodes[i].Hooks(kind)...)
		}
		return out
	}
	for _, n := range nodes {
		out = append(out, n.Hooks(kind)...)
	}
	return out
}

func inSuite(e *plan.Executable, s *plan.Suite) bool {
	for cur := e.Suite; cur != nil; cur = cur.Parent {
		if cur == s {
			return true
		}
	}
	return false
}

// filter keeps hooks registered on one of nodes, preserving order.
func filter(hooks []*scope.Hook, nodes ...*scope.Node) []*scope.Hook {
	var out []*scope.Hook
	for _, h := range hooks {
		for _, n := range nodes {
			if n != nil && h.Node == n {
				out = append(out, h)
				break
			}
		}
	}
	return out
}

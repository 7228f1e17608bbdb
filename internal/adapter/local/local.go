// Package local hosts a driven plan in-process. Run executes the registered
// suites directly and returns a Report; RunT maps them onto testing.T
// subtests so a plan can run under go test.
package local

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chriserin/ftplan/internal/adapter"
	"github.com/chriserin/ftplan/internal/domain"
)

type Status string

const (
	Passed  Status = "passed"
	Failed  Status = "failed"
	Skipped Status = "skipped"
	Pending Status = "pending"
)

type TestResult struct {
	// Name is the suite titles and the test title joined by spaces.
	Name     string
	Path     []string
	Status   Status
	Err      error
	Reason   string
	Attempts int
	Duration time.Duration
}

type Report struct {
	Tests []TestResult
	// HookErrors are failures of BeforeAll and AfterAll hooks.
	HookErrors []error
	Warnings   []string
}

func (r *Report) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, t := range r.Tests {
		counts[t.Status]++
	}
	return counts
}

// Failed reports whether any test or suite hook failed.
func (r *Report) Failed() bool {
	return r.Counts()[Failed] > 0 || len(r.HookErrors) > 0
}

// Test looks up a result by full name.
func (r *Report) Test(name string) (TestResult, bool) {
	for _, t := range r.Tests {
		if t.Name == name {
			return t, true
		}
	}
	return TestResult{}, false
}

type hook struct {
	fn   adapter.Func
	opts adapter.Options
}

type test struct {
	title string
	fn    adapter.Func
	opts  adapter.Options
}

type suite struct {
	title  string
	opts   adapter.Options
	parent *suite
	items  []item

	beforeAll, afterAll, beforeEach, afterEach []hook
}

// item is exactly one of a nested suite or a test.
type item struct {
	suite *suite
	test  *test
}

// DefaultGracePeriod is how long a cancelled node may keep running before
// the runner abandons it.
const DefaultGracePeriod = time.Second

// Runner implements adapter.Host. Tests run one at a time in registration
// order.
type Runner struct {
	// GracePeriod bounds the wait for a node after its context is done.
	GracePeriod time.Duration

	root    *suite
	cur     *suite
	retries int
	focused bool
	log     *zap.Logger

	mu       sync.Mutex
	current  string
	warnings []string
}

var _ adapter.Host = (*Runner)(nil)

func New(log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	root := &suite{}
	return &Runner{GracePeriod: DefaultGracePeriod, root: root, cur: root, log: log}
}

func (r *Runner) Suite(title string, fn func(), opts ...adapter.Option) {
	o := adapter.Apply(opts)
	child := &suite{title: title, opts: o, parent: r.cur}
	r.cur.items = append(r.cur.items, item{suite: child})
	if o.Only {
		r.focused = true
	}
	prev := r.cur
	r.cur = child
	defer func() { r.cur = prev }()
	fn()
}

func (r *Runner) Test(title string, fn adapter.Func, opts ...adapter.Option) {
	o := adapter.Apply(opts)
	r.cur.items = append(r.cur.items, item{test: &test{title: title, fn: fn, opts: o}})
	if o.Only {
		r.focused = true
	}
}

func (r *Runner) BeforeAll(fn adapter.Func, opts ...adapter.Option) {
	r.cur.beforeAll = append(r.cur.beforeAll, hook{fn, adapter.Apply(opts)})
}

func (r *Runner) AfterAll(fn adapter.Func, opts ...adapter.Option) {
	r.cur.afterAll = append(r.cur.afterAll, hook{fn, adapter.Apply(opts)})
}

func (r *Runner) BeforeEach(fn adapter.Func, opts ...adapter.Option) {
	r.cur.beforeEach = append(r.cur.beforeEach, hook{fn, adapter.Apply(opts)})
}

func (r *Runner) AfterEach(fn adapter.Func, opts ...adapter.Option) {
	r.cur.afterEach = append(r.cur.afterEach, hook{fn, adapter.Apply(opts)})
}

func (r *Runner) Retry(count int) {
	if count < 0 {
		count = 0
	}
	r.retries = count
}

func (r *Runner) CurrentTestName() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Runner) Warn(message string) {
	r.log.Warn(message)
	r.mu.Lock()
	r.warnings = append(r.warnings, message)
	r.mu.Unlock()
}

func (r *Runner) LogError(err error) {
	r.log.Error("hook failed", zap.Error(err))
}

func (r *Runner) setCurrent(name string) {
	r.mu.Lock()
	r.current = name
	r.mu.Unlock()
}

// Run executes everything registered so far.
func (r *Runner) Run(ctx context.Context) *Report {
	return r.execute(ctx, direct{})
}

// RunT executes everything registered so far as subtests of t. Failed tests
// fail their subtest; skipped and pending tests skip it.
func (r *Runner) RunT(t *testing.T) *Report {
	t.Helper()
	return r.execute(context.Background(), tFrame{t})
}

func (r *Runner) execute(ctx context.Context, fr frame) *Report {
	rep := &Report{}
	x := &execution{runner: r, report: rep}
	x.suiteItems(ctx, fr, r.root, []*suite{r.root}, nil)
	r.mu.Lock()
	rep.Warnings = append([]string(nil), r.warnings...)
	r.mu.Unlock()
	r.log.Info("local run finished",
		zap.Int("tests", len(rep.Tests)),
		zap.Int("failed", rep.Counts()[Failed]),
		zap.Int("hook_errors", len(rep.HookErrors)))
	return rep
}

// frame is where results surface: straight into the report, or as testing.T
// subtests.
type frame interface {
	nest(title string, fn func(frame))
	record(res TestResult)
}

type direct struct{}

func (direct) nest(_ string, fn func(frame)) { fn(direct{}) }
func (direct) record(TestResult)             {}

type tFrame struct{ t *testing.T }

func (f tFrame) nest(title string, fn func(frame)) {
	f.t.Run(title, func(t *testing.T) { fn(tFrame{t}) })
}

func (f tFrame) record(res TestResult) {
	switch res.Status {
	case Failed:
		f.t.Error(res.Err)
	case Skipped, Pending:
		f.t.Skip(res.Reason)
	}
}

type execution struct {
	runner *Runner
	report *Report
}

// suiteItems runs s's BeforeAll hooks, its items, then its AfterAll hooks.
// A suite with nothing left to run after skips and focus runs no hooks.
// setupErr is an enclosing BeforeAll failure; tests under it fail without
// running.
func (x *execution) suiteItems(ctx context.Context, fr frame, s *suite, chain []*suite, setupErr error) {
	if !x.runnable(s, chain) {
		x.skipAll(fr, s, chain)
		return
	}
	if setupErr == nil {
		for _, h := range s.beforeAll {
			if err := x.runner.call(ctx, h.fn, h.opts); err != nil {
				x.report.HookErrors = append(x.report.HookErrors, err)
				setupErr = err
				break
			}
		}
	}

	for _, it := range s.items {
		if it.suite != nil {
			child := it.suite
			fr.nest(child.title, func(inner frame) {
				x.suiteItems(ctx, inner, child, extend(chain, child), setupErr)
			})
			continue
		}
		t := it.test
		fr.nest(t.title, func(inner frame) {
			res := x.runTest(ctx, t, chain, setupErr)
			x.report.Tests = append(x.report.Tests, res)
			inner.record(res)
		})
	}

	for _, h := range s.afterAll {
		if err := x.runner.call(ctx, h.fn, h.opts); err != nil {
			x.report.HookErrors = append(x.report.HookErrors, err)
		}
	}
}

func (x *execution) runTest(ctx context.Context, t *test, chain []*suite, setupErr error) TestResult {
	path := titles(chain, t.title)
	res := TestResult{Name: strings.Join(path, " "), Path: path}
	if reason, skip := x.skipReason(t, chain); skip {
		res.Status, res.Reason = Skipped, reason
		return res
	}
	if setupErr != nil {
		res.Status, res.Err = Failed, fmt.Errorf("suite setup failed: %w", setupErr)
		return res
	}

	start := time.Now()
	for attempt := 1; attempt <= x.runner.retries+1; attempt++ {
		res.Attempts = attempt
		res.Err = x.attempt(ctx, t, chain, res.Name)
		if res.Err == nil || domain.IsPending(res.Err) {
			break
		}
	}
	res.Duration = time.Since(start)

	switch {
	case res.Err == nil:
		res.Status = Passed
	case domain.IsPending(res.Err):
		res.Status, res.Reason, res.Err = Pending, res.Err.Error(), nil
	default:
		res.Status = Failed
	}
	return res
}

// attempt runs BeforeEach hooks outer to inner, the test body, then every
// AfterEach hook inner to outer. The first error wins.
func (x *execution) attempt(ctx context.Context, t *test, chain []*suite, name string) error {
	x.runner.setCurrent(name)
	defer x.runner.setCurrent("")

	err := func() error {
		for _, s := range chain {
			for _, h := range s.beforeEach {
				if err := x.runner.call(ctx, h.fn, h.opts); err != nil {
					return err
				}
			}
		}
		return x.runner.call(ctx, t.fn, t.opts)
	}()
	for i := len(chain) - 1; i >= 0; i-- {
		for _, h := range chain[i].afterEach {
			if herr := x.runner.call(ctx, h.fn, h.opts); herr != nil && err == nil {
				err = herr
			}
		}
	}
	return err
}

func (x *execution) skipReason(t *test, chain []*suite) (string, bool) {
	if t.opts.Skip {
		return t.opts.Reason, true
	}
	for _, s := range chain {
		if s.opts.Skip {
			return s.opts.Reason, true
		}
	}
	if x.runner.focused && !focused(t, chain) {
		return "not focused", true
	}
	return "", false
}

func (x *execution) runnable(s *suite, chain []*suite) bool {
	for _, it := range s.items {
		if it.suite != nil {
			if x.runnable(it.suite, extend(chain, it.suite)) {
				return true
			}
			continue
		}
		if _, skip := x.skipReason(it.test, chain); !skip {
			return true
		}
	}
	return false
}

func (x *execution) skipAll(fr frame, s *suite, chain []*suite) {
	for _, it := range s.items {
		if it.suite != nil {
			child := it.suite
			fr.nest(child.title, func(inner frame) {
				x.skipAll(inner, child, extend(chain, child))
			})
			continue
		}
		t := it.test
		fr.nest(t.title, func(inner frame) {
			path := titles(chain, t.title)
			res := TestResult{Name: strings.Join(path, " "), Path: path, Status: Skipped}
			res.Reason, _ = x.skipReason(t, chain)
			x.report.Tests = append(x.report.Tests, res)
			inner.record(res)
		})
	}
}

func focused(t *test, chain []*suite) bool {
	if t.opts.Only {
		return true
	}
	for _, s := range chain {
		if s.opts.Only {
			return true
		}
	}
	return false
}

// titles skips the untitled root suite.
func titles(chain []*suite, leaf string) []string {
	var out []string
	for _, s := range chain {
		if s.title != "" {
			out = append(out, s.title)
		}
	}
	return append(out, leaf)
}

func extend(chain []*suite, s *suite) []*suite {
	return append(chain[:len(chain):len(chain)], s)
}

// call runs fn under the node's timeout, turning a panic into an error. Once
// the context is done fn gets the grace period to return; after that it is
// abandoned and left running, and the context error is reported.
func (r *Runner) call(ctx context.Context, fn adapter.Func, opts adapter.Options) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("panic: %v", rec)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}
	grace := time.NewTimer(r.GracePeriod)
	defer grace.Stop()
	select {
	case err := <-done:
		return err
	case <-grace.C:
		r.log.Warn("abandoned node still running after grace period",
			zap.String("test", r.CurrentTestName()),
			zap.Duration("grace", r.GracePeriod))
		return fmt.Errorf("abandoned after grace period: %w", ctx.Err())
	}
}

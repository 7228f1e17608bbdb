// Package adapter is the boundary between a test plan and the test runner
// that hosts it. A runner binding implements Host; Drive turns a plan into
// nested suites, tests and hooks on that host.
package adapter

import (
	"context"
	"time"
)

// Func is the body of a test or hook. The context carries the host's
// deadline for the node.
type Func func(ctx context.Context) error

// Options are the per-node variants a host supports.
type Options struct {
	Timeout time.Duration
	Skip    bool
	// Reason explains a skipped node.
	Reason string
	Only   bool
}

type Option func(*Options)

// WithTimeout asks the host to bound the node by d. Zero leaves the host's
// own default in place.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// Skip registers the node without running it.
func Skip(reason string) Option {
	return func(o *Options) {
		o.Skip = true
		o.Reason = reason
	}
}

// Only focuses the node: once any node is focused, unfocused tests are skipped.
func Only() Option {
	return func(o *Options) { o.Only = true }
}

// Apply folds opts into an Options value.
func Apply(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Host is what a test runner binding provides. Suite bodies run
// synchronously during registration. Hooks follow the host's own nesting
// rules: BeforeEach outer to inner, AfterEach inner to outer, and every
// AfterEach runs even when a BeforeEach or the test failed.
type Host interface {
	Suite(title string, fn func(), opts ...Option)
	Test(title string, fn Func, opts ...Option)
	BeforeAll(fn Func, opts ...Option)
	AfterAll(fn Func, opts ...Option)
	BeforeEach(fn Func, opts ...Option)
	AfterEach(fn Func, opts ...Option)
	// Retry allows each test count extra attempts after a failure.
	Retry(count int)
	// CurrentTestName is the full name of the running test: its suite titles
	// and its own title joined by single spaces.
	CurrentTestName() string
	Warn(message string)
	LogError(err error)
}

// Package ginkgoadapter hosts a driven plan inside a Ginkgo suite.
//
// Call Drive from a package-level var so registration happens while Ginkgo
// builds its tree:
//
//	var _ = ginkgoadapter.Drive(plans...)
//
// Top-level suites are Ordered containers with ContinueOnFailure, so
// scenarios keep declaration order, a failing scenario does not skip its
// siblings, and suite-level Setup hooks run once per container. The global
// BeforeAll and AfterAll become BeforeSuite and AfterSuite, which a Ginkgo
// suite allows only once.
package ginkgoadapter

import (
	"context"
	"fmt"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/chriserin/ftplan/internal/adapter"
	"github.com/chriserin/ftplan/internal/domain"
	"github.com/chriserin/ftplan/internal/plan"
)

type Host struct {
	depth    int
	attempts int
}

var _ adapter.Host = (*Host)(nil)

func New() *Host {
	return &Host{attempts: 1}
}

// Drive registers plans on a new Host. It returns true so it can initialize
// a package-level var.
func Drive(plans ...*plan.TestPlan) bool {
	adapter.Drive(New(), plans...)
	return true
}

func (h *Host) Suite(title string, fn func(), opts ...adapter.Option) {
	o := adapter.Apply(opts)
	var args []any
	if h.depth == 0 {
		args = append(args, ginkgo.Ordered, ginkgo.ContinueOnFailure)
	}
	args = append(args, decorators(o)...)
	args = append(args, func() {
		h.depth++
		defer func() { h.depth-- }()
		fn()
	})
	ginkgo.Describe(title, args...)
}

func (h *Host) Test(title string, fn adapter.Func, opts ...adapter.Option) {
	o := adapter.Apply(opts)
	args := decorators(o)
	if o.Timeout > 0 {
		args = append(args, ginkgo.NodeTimeout(o.Timeout))
	}
	if h.attempts > 1 {
		args = append(args, ginkgo.FlakeAttempts(h.attempts))
	}
	args = append(args, body(fn))
	ginkgo.It(title, args...)
}

func (h *Host) BeforeAll(fn adapter.Func, opts ...adapter.Option) {
	if h.depth == 0 {
		ginkgo.BeforeSuite(body(fn), hookArgs(opts)...)
		return
	}
	ginkgo.BeforeAll(append(hookArgs(opts), body(fn))...)
}

func (h *Host) AfterAll(fn adapter.Func, opts ...adapter.Option) {
	if h.depth == 0 {
		ginkgo.AfterSuite(body(fn), hookArgs(opts)...)
		return
	}
	ginkgo.AfterAll(append(hookArgs(opts), body(fn))...)
}

func (h *Host) BeforeEach(fn adapter.Func, opts ...adapter.Option) {
	ginkgo.BeforeEach(append(hookArgs(opts), body(fn))...)
}

func (h *Host) AfterEach(fn adapter.Func, opts ...adapter.Option) {
	ginkgo.AfterEach(append(hookArgs(opts), body(fn))...)
}

func (h *Host) Retry(count int) {
	h.attempts = count + 1
}

func (h *Host) CurrentTestName() string {
	return ginkgo.CurrentSpecReport().FullText()
}

func (h *Host) Warn(message string) {
	fmt.Fprintf(ginkgo.GinkgoWriter, "warning: %s\n", message)
}

func (h *Host) LogError(err error) {
	fmt.Fprintf(ginkgo.GinkgoWriter, "error: %v\n", err)
}

func decorators(o adapter.Options) []any {
	var args []any
	if o.Skip {
		args = append(args, ginkgo.Pending)
	}
	if o.Only {
		args = append(args, ginkgo.Focus)
	}
	return args
}

func hookArgs(opts []adapter.Option) []any {
	if o := adapter.Apply(opts); o.Timeout > 0 {
		return []any{ginkgo.NodeTimeout(o.Timeout)}
	}
	return nil
}

// body adapts fn to a Ginkgo node body: a pending error skips the test, any
// other error fails it.
func body(fn adapter.Func) func(ginkgo.SpecContext) {
	return func(ctx ginkgo.SpecContext) {
		err := fn(context.Context(ctx))
		if domain.IsPending(err) {
			ginkgo.Skip(err.Error())
		}
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
	}
}

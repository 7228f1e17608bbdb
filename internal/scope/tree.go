package scope

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/chriserin/ftplan/internal/expression"
)

// StepOption configures a step definition.
type StepOption func(*StepDef)

// WithTable declares the data table shape the handler expects.
func WithTable(shape TableShape) StepOption {
	return func(d *StepDef) { d.Table = shape }
}

// PendingStep marks the definition as a placeholder; scenarios using it are
// reported pending instead of run.
func PendingStep(reason string) StepOption {
	return func(d *StepDef) {
		if reason == "" {
			reason = "step pending"
		}
		d.pending = reason
	}
}

// Tree collects step definitions and hooks through nested DSL calls. Each
// structural call pushes a node for the duration of its callback, so
// registration is lexical:
//
//	tree.Feature("Login", func() {
//		tree.Given("a user", givenUser)
//		tree.Scenario("Locked out", func() {
//			tree.Before("lock account", lockAccount)
//		})
//	})
//
// A Tree belongs to one load and is not safe for concurrent registration.
type Tree struct {
	root   *Node
	stack  []*Node
	params *expression.Registry
	errs   []error
}

// NewTree returns an empty tree. A nil registry gets the built-in parameter
// types only.
func NewTree(params *expression.Registry) *Tree {
	if params == nil {
		params = expression.NewRegistry()
	}
	root := &Node{kind: KindGlobal}
	return &Tree{root: root, stack: []*Node{root}, params: params}
}

func (t *Tree) Root() *Node                     { return t.root }
func (t *Tree) Params() *expression.Registry    { return t.params }
func (t *Tree) current() *Node                  { return t.stack[len(t.stack)-1] }
func (t *Tree) fail(format string, args ...any) { t.errs = append(t.errs, fmt.Errorf(format, args...)) }

// Err returns every registration problem found so far.
func (t *Tree) Err() error {
	return errors.Join(t.errs...)
}

// ParameterType registers a custom {name} type for later patterns.
func (t *Tree) ParameterType(pt expression.ParameterType) {
	if err := t.params.Define(pt); err != nil {
		t.fail("%s: %w", t.current().Path(), err)
	}
}

// Feature scopes fn to the feature whose name is ref, or whose URI is ref or
// ends with /ref. Repeated calls with the same ref extend the same node.
func (t *Tree) Feature(ref string, fn func()) {
	t.nest(KindFeature, ref, fn, KindGlobal)
}

// Rule scopes fn to a Rule of the enclosing feature.
func (t *Tree) Rule(name string, fn func()) {
	t.nest(KindRule, name, fn, KindFeature)
}

// Scenario scopes fn to a plain Scenario.
func (t *Tree) Scenario(name string, fn func()) {
	t.nest(KindScenario, name, fn, KindFeature, KindRule)
}

// ScenarioOutline scopes fn to an outline, keyed by its unsubstituted name.
func (t *Tree) ScenarioOutline(name string, fn func()) {
	t.nest(KindOutline, name, fn, KindFeature, KindRule)
}

// ScenarioAt scopes fn to the nth (1-based) Scenario named name at the current
// level only. It sits below Scenario(name), so registrations made there still
// apply.
func (t *Tree) ScenarioAt(name string, n int, fn func()) {
	t.nestAt(KindScenario, name, n, fn)
}

// ScenarioOutlineAt is ScenarioAt for outlines.
func (t *Tree) ScenarioOutlineAt(name string, n int, fn func()) {
	t.nestAt(KindOutline, name, n, fn)
}

func (t *Tree) nestAt(kind Kind, name string, n int, fn func()) {
	if n < 1 {
		t.fail("%s: %s(%q) occurrence must be at least 1, got %d", t.current().Path(), kind, name, n)
		return
	}
	t.nest(kind, name, func() {
		shared := t.current()
		node := shared.At(n)
		if node == nil {
			node = shared.addChild(kind, name)
			node.occurrence = n
		}
		t.enter(node, fn)
	}, KindFeature, KindRule)
}

// Examples scopes fn to one Examples group of the enclosing outline. Unnamed
// groups are matched by position.
func (t *Tree) Examples(name string, fn func()) {
	parent := t.current()
	if parent.kind != KindOutline {
		t.fail("%s: Examples(%q) must be inside ScenarioOutline", parent.Path(), name)
		return
	}
	var node *Node
	if name != "" {
		node = parent.Child(KindExamples, name)
	}
	if node == nil {
		node = parent.addChild(KindExamples, name)
	}
	t.enter(node, fn)
}

// Background scopes fn to the background of the enclosing feature or rule.
// Definitions registered here only match background steps.
func (t *Tree) Background(name string, fn func()) {
	parent := t.current()
	if parent.kind != KindFeature && parent.kind != KindRule {
		t.fail("%s: Background must be inside Feature or Rule", parent.Path())
		return
	}
	node := parent.Background()
	if node == nil {
		node = parent.addChild(KindBackground, name)
	}
	t.enter(node, fn)
}

func (t *Tree) nest(kind Kind, name string, fn func(), allowed ...Kind) {
	parent := t.current()
	ok := false
	for _, k := range allowed {
		if parent.kind == k {
			ok = true
		}
	}
	if !ok {
		t.fail("%s: %s(%q) cannot be declared here", parent.Path(), kind, name)
		return
	}
	if name == "" {
		t.fail("%s: %s needs a name", parent.Path(), kind)
		return
	}
	node := parent.Child(kind, name)
	if node == nil {
		node = parent.addChild(kind, name)
	}
	t.enter(node, fn)
}

func (t *Tree) enter(node *Node, fn func()) {
	t.stack = append(t.stack, node)
	defer func() { t.stack = t.stack[:len(t.stack)-1] }()
	if fn != nil {
		fn()
	}
}

func (t *Tree) Given(pattern string, fn StepFunc, opts ...StepOption) {
	t.step(Given, pattern, fn, opts)
}

func (t *Tree) When(pattern string, fn StepFunc, opts ...StepOption) {
	t.step(When, pattern, fn, opts)
}

func (t *Tree) Then(pattern string, fn StepFunc, opts ...StepOption) {
	t.step(Then, pattern, fn, opts)
}

// And registers a definition matching steps of any keyword.
func (t *Tree) And(pattern string, fn StepFunc, opts ...StepOption) {
	t.step(AnyKeyword, pattern, fn, opts)
}

// But registers a definition matching steps of any keyword.
func (t *Tree) But(pattern string, fn StepFunc, opts ...StepOption) {
	t.step(AnyKeyword, pattern, fn, opts)
}

// Step registers a definition matching steps of any keyword.
func (t *Tree) Step(pattern string, fn StepFunc, opts ...StepOption) {
	t.step(AnyKeyword, pattern, fn, opts)
}

func (t *Tree) step(kw Keyword, pattern string, fn StepFunc, opts []StepOption) {
	node := t.current()
	if node.lookup(kw, pattern) != nil {
		t.fail("%s: %s %q is already registered at this level", node.Path(), kw, pattern)
		return
	}
	m, err := t.params.Compile(pattern)
	if err != nil {
		t.fail("%s: %w", node.Path(), err)
		return
	}
	def := &StepDef{
		Keyword:  kw,
		Pattern:  pattern,
		Matcher:  m,
		Handler:  fn,
		Node:     node,
		Location: callerLocation(),
	}
	for _, opt := range opts {
		opt(def)
	}
	node.addStep(def)
}

func (t *Tree) Setup(name string, fn HookFunc)    { t.hook(HookSetup, name, fn) }
func (t *Tree) Before(name string, fn HookFunc)   { t.hook(HookBefore, name, fn) }
func (t *Tree) After(name string, fn HookFunc)    { t.hook(HookAfter, name, fn) }
func (t *Tree) Teardown(name string, fn HookFunc) { t.hook(HookTeardown, name, fn) }

func (t *Tree) hook(kind HookKind, name string, fn HookFunc) {
	node := t.current()
	if node.kind == KindBackground {
		t.fail("%s: %s hook %q cannot be registered in a background", node.Path(), kind, name)
		return
	}
	if fn == nil {
		t.fail("%s: %s hook %q has no action", node.Path(), kind, name)
		return
	}
	node.addHook(&Hook{Kind: kind, Name: name, Action: fn, Node: node})
}

// Timeout sets the timeout for scenarios under the current node. Zero keeps
// the inherited value.
func (t *Tree) Timeout(d time.Duration) {
	if d < 0 {
		t.fail("%s: negative timeout %s", t.current().Path(), d)
		return
	}
	t.current().timeout = d
}

// Pending marks every scenario under the current node pending.
func (t *Tree) Pending(reason string) {
	if reason == "" {
		reason = "marked pending"
	}
	t.current().pending = reason
}

// callerLocation reports the file:line of the step registration call.
func callerLocation() string {
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

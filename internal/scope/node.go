// Package scope is the registration tree step libraries build to attach step
// definitions and hooks to Global, Feature, Rule, Scenario, Outline, Examples
// and Background levels.
package scope

import (
	"fmt"
	"strings"
	"time"

	"github.com/chriserin/ftplan/internal/expression"
)

// Kind is the level a node occupies in the tree.
type Kind int

const (
	KindGlobal Kind = iota
	KindFeature
	KindRule
	KindScenario
	KindOutline
	KindExamples
	KindBackground
)

func (k Kind) String() string {
	switch k {
	case KindGlobal:
		return "global"
	case KindFeature:
		return "feature"
	case KindRule:
		return "rule"
	case KindScenario:
		return "scenario"
	case KindOutline:
		return "outline"
	case KindExamples:
		return "examples"
	case KindBackground:
		return "background"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Keyword restricts which steps a definition can match. Given, When and Then
// definitions only match steps of the same type; AnyKeyword definitions
// (registered with And, But or Step) match every step.
type Keyword int

const (
	AnyKeyword Keyword = iota
	Given
	When
	Then
)

func (k Keyword) String() string {
	switch k {
	case Given:
		return "Given"
	case When:
		return "When"
	case Then:
		return "Then"
	default:
		return "Step"
	}
}

// HookKind is the lifecycle phase a hook runs in.
type HookKind int

const (
	HookSetup HookKind = iota
	HookBefore
	HookAfter
	HookTeardown
)

func (k HookKind) String() string {
	switch k {
	case HookSetup:
		return "setup"
	case HookBefore:
		return "before"
	case HookAfter:
		return "after"
	case HookTeardown:
		return "teardown"
	default:
		return fmt.Sprintf("HookKind(%d)", int(k))
	}
}

// StepFunc implements a step. Returning domain.ErrPending marks the scenario
// pending.
type StepFunc func(*StepContext) error

// HookFunc implements a lifecycle hook.
type HookFunc func(*HookContext) error

// StepDef is a step definition registered at one node.
type StepDef struct {
	Keyword  Keyword
	Pattern  string
	Matcher  expression.Matcher
	Handler  StepFunc
	Table    TableShape
	Node     *Node
	Location string

	pending string
}

// Pending reports whether the definition is a placeholder without an
// implementation, and why.
func (d *StepDef) Pending() (string, bool) {
	if d.Handler == nil {
		if d.pending == "" {
			return "step not implemented", true
		}
		return d.pending, true
	}
	return d.pending, d.pending != ""
}

// Hook is a lifecycle hook registered at one node.
type Hook struct {
	Kind   HookKind
	Name   string
	Action HookFunc
	Node   *Node
}

// StepProvider exposes registered step definitions.
type StepProvider interface {
	Steps() []*StepDef
}

// HookProvider exposes registered hooks of one kind in declaration order.
type HookProvider interface {
	Hooks(kind HookKind) []*Hook
}

type stepSet struct {
	defs []*StepDef
}

func (s *stepSet) Steps() []*StepDef { return s.defs }

func (s *stepSet) lookup(kw Keyword, pattern string) *StepDef {
	for _, d := range s.defs {
		if d.Keyword == kw && d.Pattern == pattern {
			return d
		}
	}
	return nil
}

func (s *stepSet) addStep(d *StepDef) { s.defs = append(s.defs, d) }

type hookSet struct {
	hooks []*Hook
}

func (h *hookSet) Hooks(kind HookKind) []*Hook {
	var out []*Hook
	for _, hk := range h.hooks {
		if hk.Kind == kind {
			out = append(out, hk)
		}
	}
	return out
}

func (h *hookSet) addHook(hk *Hook) { h.hooks = append(h.hooks, hk) }

// Node is one level of the registration tree. Nodes are only mutated while
// the Tree is being built.
type Node struct {
	stepSet
	hookSet

	kind       Kind
	name       string
	index      int
	occurrence int
	parent     *Node
	children []*Node
	timeout  time.Duration
	pending  string
}

var (
	_ StepProvider = (*Node)(nil)
	_ HookProvider = (*Node)(nil)
)

func (n *Node) Kind() Kind        { return n.kind }
func (n *Node) Name() string      { return n.name }
func (n *Node) Parent() *Node     { return n.parent }
func (n *Node) Children() []*Node { return n.children }

// Index is the node's position among siblings of the same kind.
func (n *Node) Index() int { return n.index }

// Occurrence is n for a node registered with ScenarioAt or ScenarioOutlineAt,
// zero for a node that applies to every scenario of its name.
func (n *Node) Occurrence() int { return n.occurrence }

// Timeout is the timeout set directly on this node, zero when unset.
func (n *Node) Timeout() time.Duration { return n.timeout }

// PendingReason reports an explicit pending marker set on this node.
func (n *Node) PendingReason() (string, bool) {
	return n.pending, n.pending != ""
}

// ChildrenOf returns children of kind in declaration order.
func (n *Node) ChildrenOf(kind Kind) []*Node {
	var out []*Node
	for _, c := range n.children {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Child returns the first child of kind named name.
func (n *Node) Child(kind Kind, name string) *Node {
	for _, c := range n.children {
		if c.kind == kind && c.name == name && c.occurrence == 0 {
			return c
		}
	}
	return nil
}

// At returns the child registered for the nth same-named scenario, nil when
// there is none.
func (n *Node) At(occurrence int) *Node {
	for _, c := range n.children {
		if c.occurrence > 0 && c.occurrence == occurrence {
			return c
		}
	}
	return nil
}

// Background returns the background child, if one was registered.
func (n *Node) Background() *Node {
	for _, c := range n.children {
		if c.kind == KindBackground {
			return c
		}
	}
	return nil
}

// Ancestry returns the nodes from the root down to n.
func (n *Node) Ancestry() []*Node {
	var chain []*Node
	for cur := n; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Path renders the node's ancestry for diagnostics, e.g.
// "global > feature:Login > scenario:User logs in".
func (n *Node) Path() string {
	var parts []string
	for _, a := range n.Ancestry() {
		if a.kind == KindGlobal {
			parts = append(parts, "global")
			continue
		}
		if a.occurrence > 0 {
			parts = append(parts, fmt.Sprintf("#%d", a.occurrence))
			continue
		}
		parts = append(parts, a.kind.String()+":"+a.name)
	}
	return strings.Join(parts, " > ")
}

func (n *Node) addChild(kind Kind, name string) *Node {
	child := &Node{kind: kind, name: name, parent: n, index: len(n.ChildrenOf(kind))}
	n.children = append(n.children, child)
	return child
}

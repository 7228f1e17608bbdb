// Package plan merges compiled pickles with a scope tree into executables:
// steps bound to definitions, hooks collected along the scope ancestry,
// timeouts and tag dispositions resolved, grouped into suites that mirror the
// feature's structure.
package plan

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chriserin/ftplan/internal/events"
	"github.com/chriserin/ftplan/internal/fixture"
	"github.com/chriserin/ftplan/internal/parser"
	"github.com/chriserin/ftplan/internal/scope"
	"github.com/chriserin/ftplan/internal/tagexpr"
)

// DefaultTimeout applies when neither the scope tree nor the options set one.
const DefaultTimeout = 30 * time.Second

// Options are the inputs the plan builder takes besides the feature and tree.
type Options struct {
	DefaultTimeout time.Duration
	Filter         *tagexpr.Filter
	Retries        int
	// NewWorld builds the per-scenario state; nil yields an empty World.
	NewWorld func() scope.World
	Fixtures *fixture.Container
	Logger   *zap.Logger
	Events   *events.Bus
}

// TestPlan is the plan for one feature.
type TestPlan struct {
	Feature *parser.SimpleFeature
	Root    *Suite
	// Global is the scope tree root; its Setup and Teardown hooks are shared
	// by every plan built from the same tree.
	Global *scope.Node

	executables []*Executable
	byID        map[string]*Executable
	opts        Options
	log         *zap.Logger
}

// Entry is one child of a suite: a nested suite or an executable.
type Entry struct {
	Suite      *Suite
	Executable *Executable
}

// Suite groups executables the way the feature nests them: Feature, Rule,
// Scenario Outline and Examples.
type Suite struct {
	Kind  scope.Kind
	Title string
	// Nodes are the scope nodes registered for this suite, outer first.
	Nodes   []*scope.Node
	Parent  *Suite
	Entries []Entry

	titles map[string]int
}

// TitlePath lists the suite titles from the feature down to s.
func (s *Suite) TitlePath() []string {
	var titles []string
	for cur := s; cur != nil; cur = cur.Parent {
		titles = append(titles, cur.Title)
	}
	for i, j := 0, len(titles)-1; i < j; i, j = i+1, j-1 {
		titles[i], titles[j] = titles[j], titles[i]
	}
	return titles
}

// Executables lists every executable under s in declaration order.
func (s *Suite) Executables() []*Executable {
	var out []*Executable
	for _, e := range s.Entries {
		if e.Suite != nil {
			out = append(out, e.Suite.Executables()...)
		} else {
			out = append(out, e.Executable)
		}
	}
	return out
}

// uniqueTitle keeps sibling titles distinct so a host runner's test name maps
// back to exactly one entry.
func (s *Suite) uniqueTitle(title string) string {
	if s.titles == nil {
		s.titles = make(map[string]int)
	}
	s.titles[title]++
	if n := s.titles[title]; n > 1 {
		return fmt.Sprintf("%s (%d)", title, n)
	}
	return title
}

func (s *Suite) addSuite(kind scope.Kind, title string, nodes []*scope.Node) *Suite {
	child := &Suite{Kind: kind, Title: s.uniqueTitle(title), Nodes: nodes, Parent: s}
	s.Entries = append(s.Entries, Entry{Suite: child})
	return child
}

// BuildPlan compiles feature's pickles against tree. Registration errors on
// the tree are fatal; step resolution errors only fail their executable.
func BuildPlan(feature *parser.SimpleFeature, tree *scope.Tree, opts Options) (*TestPlan, error) {
	if feature == nil {
		return nil, errors.New("building plan: nil feature")
	}
	if tree == nil {
		return nil, errors.New("building plan: nil scope tree")
	}
	if err := tree.Err(); err != nil {
		return nil, fmt.Errorf("building plan for %s: step registration failed: %w", feature.URI, err)
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	p := &TestPlan{
		Feature: feature,
		Global:  tree.Root(),
		byID:    make(map[string]*Executable),
		opts:    opts,
		log:     log,
	}
	featureNode := findFeature(tree.Root(), feature)
	p.Root = &Suite{Kind: scope.KindFeature, Title: featureTitle(feature), Nodes: nonNil(featureNode)}

	b := &builder{
		plan:     p,
		feature:  featureNode,
		rules:    make(map[int]*Suite),
		outlines: make(map[[2]int]*Suite),
		examples: make(map[[3]int]*Suite),
	}
	for _, pickle := range parser.GeneratePickles(feature) {
		b.add(pickle)
	}

	counts := map[Disposition]int{}
	failing := 0
	for _, e := range p.executables {
		counts[e.Disposition]++
		if e.buildErr != nil {
			failing++
		}
	}
	log.Info("plan built",
		zap.String("uri", feature.URI),
		zap.Int("executables", len(p.executables)),
		zap.Int("run", counts[Run]),
		zap.Int("skip", counts[Skip]),
		zap.Int("pending", counts[Pending]),
		zap.Int("unresolved", failing))
	return p, nil
}

// ListExecutables returns the executables in declaration order.
func (p *TestPlan) ListExecutables() []*Executable {
	return append([]*Executable(nil), p.executables...)
}

// Executable looks up an executable by pickle id.
func (p *TestPlan) Executable(id string) (*Executable, bool) {
	e, ok := p.byID[id]
	return e, ok
}

// Options returns the options the plan was built with, defaults applied.
func (p *TestPlan) Options() Options { return p.opts }

func (p *TestPlan) Logger() *zap.Logger { return p.log }

type builder struct {
	plan     *TestPlan
	feature  *scope.Node
	rules    map[int]*Suite
	outlines map[[2]int]*Suite
	examples map[[3]int]*Suite
}

func (b *builder) add(pickle parser.SimplePickle) {
	path := pickle.Path
	parent := b.plan.Root

	// level is the only node a scenario registration is looked up under: the
	// feature, or the rule when the pickle sits inside one.
	level := b.feature
	if path.RuleIndex >= 0 {
		level = child(b.feature, scope.KindRule, path.Rule)
		suite, ok := b.rules[path.RuleIndex]
		if !ok {
			suite = parent.addSuite(scope.KindRule, orDefault(path.Rule, "Rule", path.RuleIndex), nonNil(level))
			b.rules[path.RuleIndex] = suite
		}
		parent = suite
	}

	chain := nonNil(b.plan.Global, b.feature)
	if path.RuleIndex >= 0 {
		chain = append(chain, nonNil(level)...)
	}
	var leaves []*scope.Node
	if !path.Outline {
		leaves = scenarioNodes(level, scope.KindScenario, path.Scenario, path.Occurrence)
		chain = append(chain, leaves...)
	} else {
		outlines := scenarioNodes(level, scope.KindOutline, path.Scenario, path.Occurrence)
		key := [2]int{path.RuleIndex, path.ScenarioIndex}
		suite, ok := b.outlines[key]
		if !ok {
			suite = parent.addSuite(scope.KindOutline, orDefault(path.Scenario, "Scenario Outline", path.ScenarioIndex), outlines)
			b.outlines[key] = suite
		}
		parent = suite

		var examples []*scope.Node
		for _, o := range outlines {
			examples = append(examples, nonNil(findExamples(o, path.Examples, path.ExamplesIndex))...)
		}
		ekey := [3]int{path.RuleIndex, path.ScenarioIndex, path.ExamplesIndex}
		group, ok := b.examples[ekey]
		if !ok {
			group = parent.addSuite(scope.KindExamples, orDefault(path.Examples, "Examples", path.ExamplesIndex), examples)
			b.examples[ekey] = group
		}
		parent = group
		chain = append(chain, outlines...)
		chain = append(chain, examples...)
	}

	p := pickle
	e := &Executable{
		ID:          p.ID,
		Pickle:      &p,
		Chain:       chain,
		Leaves:      leaves,
		Suite:       parent,
		plan:        b.plan,
		maxAttempts: b.plan.opts.Retries + 1,
	}
	e.Title = parent.uniqueTitle(orDefault(p.Name, "Scenario", path.ScenarioIndex))
	e.Hooks = collectHooks(chain)
	e.Timeout = resolveTimeout(chain, b.plan.opts.DefaultTimeout)
	b.resolveSteps(e)
	b.decide(e)

	parent.Entries = append(parent.Entries, Entry{Executable: e})
	b.plan.executables = append(b.plan.executables, e)
	b.plan.byID[e.ID] = e
}

func (b *builder) resolveSteps(e *Executable) {
	e.Steps = make([]ResolvedStep, len(e.Pickle.Steps))
	for i, step := range e.Pickle.Steps {
		rs := resolveStep(e.Chain, step, e.ScopePath())
		e.Steps[i] = rs
		if rs.Err != nil {
			if e.buildErr == nil {
				e.buildErr = rs.Err
			}
			b.plan.log.Warn("step not resolved",
				zap.String("uri", e.Pickle.URI),
				zap.String("scenario", e.Pickle.Name),
				zap.String("step", step.Keyword+step.Text),
				zap.Error(rs.Err))
		}
	}
}

// decide sets the disposition: an explicit pending marker wins over the tag
// filter, and a pickle the filter rejects is skipped.
func (b *builder) decide(e *Executable) {
	for i := len(e.Chain) - 1; i >= 0; i-- {
		if reason, ok := e.Chain[i].PendingReason(); ok {
			e.Disposition, e.Reason = Pending, reason
			return
		}
	}
	for _, s := range e.Steps {
		if s.Def == nil {
			continue
		}
		if reason, ok := s.Def.Pending(); ok {
			e.Disposition, e.Reason = Pending, fmt.Sprintf("%s: %s", s.Def.Pattern, reason)
			return
		}
	}
	if f := b.plan.opts.Filter; !f.Match(e.Pickle.Tags) {
		e.Disposition, e.Reason = Skip, fmt.Sprintf("tags %v do not match %q", e.Pickle.Tags, f.String())
		return
	}
	e.Disposition = Run
}

func collectHooks(chain []*scope.Node) Hooks {
	var h Hooks
	for _, n := range chain {
		h.Setup = append(h.Setup, n.Hooks(scope.HookSetup)...)
		h.Before = append(h.Before, n.Hooks(scope.HookBefore)...)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		h.After = append(h.After, chain[i].Hooks(scope.HookAfter)...)
		h.Teardown = append(h.Teardown, chain[i].Hooks(scope.HookTeardown)...)
	}
	return h
}

// resolveTimeout takes the most specific non-zero node timeout.
func resolveTimeout(chain []*scope.Node, fallback time.Duration) time.Duration {
	for i := len(chain) - 1; i >= 0; i-- {
		if d := chain[i].Timeout(); d > 0 {
			return d
		}
	}
	return fallback
}

// findFeature matches a Feature registration by feature name, by URI, or by
// a path suffix of the URI.
func findFeature(root *scope.Node, feature *parser.SimpleFeature) *scope.Node {
	uri := filepath.ToSlash(feature.URI)
	for _, n := range root.ChildrenOf(scope.KindFeature) {
		ref := filepath.ToSlash(n.Name())
		switch {
		case ref == feature.Name, ref == uri, strings.HasSuffix(uri, "/"+ref):
			return n
		}
	}
	return nil
}

func findExamples(outline *scope.Node, name string, index int) *scope.Node {
	if outline == nil {
		return nil
	}
	groups := outline.ChildrenOf(scope.KindExamples)
	if name != "" {
		for _, g := range groups {
			if g.Name() == name {
				return g
			}
		}
	}
	if index >= 0 && index < len(groups) && groups[index].Name() == "" {
		return groups[index]
	}
	return nil
}

func child(parent *scope.Node, kind scope.Kind, name string) *scope.Node {
	if parent == nil {
		return nil
	}
	return parent.Child(kind, name)
}

// scenarioNodes returns the registration shared by every scenario named name
// under level, followed by the one registered for this occurrence alone.
func scenarioNodes(level *scope.Node, kind scope.Kind, name string, occurrence int) []*scope.Node {
	shared := child(level, kind, name)
	if shared == nil {
		return nil
	}
	return nonNil(shared, shared.At(occurrence))
}

func nonNil(nodes ...*scope.Node) []*scope.Node {
	out := make([]*scope.Node, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

func orDefault(name, keyword string, index int) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("%s %d", keyword, index+1)
}

func featureTitle(f *parser.SimpleFeature) string {
	if f.Name != "" {
		return f.Name
	}
	return f.URI
}

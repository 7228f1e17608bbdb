package plan

import (
	"fmt"

	"github.com/chriserin/ftplan/internal/domain"
	"github.com/chriserin/ftplan/internal/expression"
	"github.com/chriserin/ftplan/internal/parser"
	"github.com/chriserin/ftplan/internal/scope"
)

type candidate struct {
	def   *scope.StepDef
	match *expression.Match
	exact bool
}

// resolveStep searches the chain from the most specific node up, stopping at
// the first level where a definition matches. Within that level a definition
// registered for the step's own keyword outranks a keyword-agnostic one; two
// equally ranked matches are ambiguous.
func resolveStep(chain []*scope.Node, step parser.SimplePickleStep, scopePath string) ResolvedStep {
	rs := ResolvedStep{Step: step}
	background := step.Source != parser.SourceScenario

	for i := len(chain) - 1; i >= 0; i-- {
		matches, err := matchLevel(levelDefs(chain[i], background), step)
		if err != nil {
			rs.Err = &domain.StepMatchError{
				Keyword:   step.Keyword,
				Text:      step.Text,
				ScopePath: scopePath,
				Cause:     err,
			}
			return rs
		}
		if len(matches) == 0 {
			continue
		}
		best := rank(matches)
		if len(best) > 1 {
			patterns := make([]string, len(best))
			for j, c := range best {
				patterns[j] = describe(c.def)
			}
			rs.Err = &domain.AmbiguousStepError{Text: step.Text, ScopePath: scopePath, Patterns: patterns}
			return rs
		}
		rs.Def = best[0].def
		rs.Args = best[0].match.Values()
		return rs
	}

	s := suggest(chain, step, background)
	rs.Err = &domain.StepMatchError{
		Keyword:      step.Keyword,
		Text:         step.Text,
		ScopePath:    scopePath,
		SameKeyword:  s.SameKeyword,
		OtherKeyword: s.OtherKeyword,
	}
	return rs
}

// levelDefs is what one node exposes to a step: its own definitions, plus its
// background's definitions for steps that come from a background.
func levelDefs(n *scope.Node, background bool) []*scope.StepDef {
	defs := n.Steps()
	if !background {
		return defs
	}
	if bg := n.Background(); bg != nil {
		return append(append([]*scope.StepDef(nil), bg.Steps()...), defs...)
	}
	return defs
}

func matchLevel(defs []*scope.StepDef, step parser.SimplePickleStep) ([]candidate, error) {
	var out []candidate
	for _, d := range defs {
		if !keywordAccepts(d.Keyword, step.KeywordType) {
			continue
		}
		m, err := d.Matcher.Match(step.Text)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		out = append(out, candidate{def: d, match: m, exact: d.Keyword != scope.AnyKeyword})
	}
	return out, nil
}

func rank(matches []candidate) []candidate {
	var exact []candidate
	for _, c := range matches {
		if c.exact {
			exact = append(exact, c)
		}
	}
	if len(exact) > 0 {
		return exact
	}
	return matches
}

func keywordAccepts(kw scope.Keyword, kt parser.KeywordType) bool {
	switch kw {
	case scope.Given:
		return kt == parser.KeywordContext || kt == parser.KeywordUnknown
	case scope.When:
		return kt == parser.KeywordAction || kt == parser.KeywordUnknown
	case scope.Then:
		return kt == parser.KeywordOutcome || kt == parser.KeywordUnknown
	default:
		return true
	}
}

func keywordFor(kt parser.KeywordType) scope.Keyword {
	switch kt {
	case parser.KeywordContext:
		return scope.Given
	case parser.KeywordAction:
		return scope.When
	case parser.KeywordOutcome:
		return scope.Then
	default:
		return scope.AnyKeyword
	}
}

// suggest gathers every definition visible to the step across the chain and
// ranks near misses.
func suggest(chain []*scope.Node, step parser.SimplePickleStep, background bool) expression.Suggestions {
	want := keywordFor(step.KeywordType)
	var candidates []expression.Candidate
	for _, n := range chain {
		for _, d := range levelDefs(n, background) {
			candidates = append(candidates, expression.Candidate{
				Pattern:     d.Pattern,
				Literal:     d.Matcher.Literal(),
				SameKeyword: d.Keyword == want || d.Keyword == scope.AnyKeyword,
			})
		}
	}
	return expression.Suggest(step.Text, candidates)
}

func describe(d *scope.StepDef) string {
	s := fmt.Sprintf("%s %q", d.Keyword, d.Pattern)
	if d.Node != nil {
		s += " at " + d.Node.Path()
	}
	if d.Location != "" {
		s += " (" + d.Location + ")"
	}
	return s
}

// Package tagexpr evaluates boolean tag filters such as "@a and not @b"
// against the tag union of a pickle.
package tagexpr

import (
	"fmt"
	"strings"

	tagexpressions "github.com/cucumber/tag-expressions/go/v6"
)

// Filter is a parsed tag expression. The zero value and a filter parsed from
// an empty string match every tag set.
type Filter struct {
	source string
	expr   tagexpressions.Evaluatable
}

// Parse compiles a tag expression.
func Parse(expression string) (*Filter, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return &Filter{}, nil
	}
	expr, err := tagexpressions.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parsing tag expression %q: %w", expression, err)
	}
	return &Filter{source: expression, expr: expr}, nil
}

// MustParse is Parse for expressions known to be valid.
func MustParse(expression string) *Filter {
	f, err := Parse(expression)
	if err != nil {
		panic(err)
	}
	return f
}

// Match reports whether tags satisfy the filter.
func (f *Filter) Match(tags []string) bool {
	if f == nil || f.expr == nil {
		return true
	}
	return f.expr.Evaluate(tags)
}

// Empty reports whether the filter accepts everything.
func (f *Filter) Empty() bool {
	return f == nil || f.expr == nil
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}

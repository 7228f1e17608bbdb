package expression

import (
	"fmt"
	"regexp"
	"strings"
)

// Argument is one captured, transformed value of a successful match.
type Argument struct {
	Type   string
	Raw    string
	Value  any
	Offset int
}

// Match is the result of a successful match: one argument per parameter, in
// the order the parameters appear in the pattern.
type Match struct {
	Args []Argument
}

// Values returns the transformed argument values.
func (m *Match) Values() []any {
	out := make([]any, len(m.Args))
	for i, a := range m.Args {
		out[i] = a.Value
	}
	return out
}

// ArgumentError reports a transform that rejected its captured text.
type ArgumentError struct {
	Pattern string
	Type    string
	Raw     string
	Cause   error
}

func (e *ArgumentError) Error() string {
	name := e.Type
	if name == "" {
		name = "anonymous"
	}
	return fmt.Sprintf("cannot coerce %q to {%s} for %q: %v", e.Raw, name, e.Pattern, e.Cause)
}

func (e *ArgumentError) Unwrap() error { return e.Cause }

// Matcher binds step text to a compiled pattern.
type Matcher interface {
	// Match returns nil without error when text does not match. A transform
	// failure is reported as an *ArgumentError.
	Match(text string) (*Match, error)
	// Source is the pattern the matcher was compiled from.
	Source() string
	// Literal renders the pattern as plain text with parameters shown as
	// {name}, used for near-miss suggestions.
	Literal() string
}

// Compile builds a matcher. Patterns beginning with ^ or ending with $ are
// treated as regular expressions; everything else is a cucumber expression.
func (r *Registry) Compile(pattern string) (Matcher, error) {
	if strings.HasPrefix(pattern, "^") || strings.HasSuffix(pattern, "$") {
		return r.compileRegexp(pattern)
	}
	return r.compileExpression(pattern)
}

type compiled struct {
	source  string
	literal string
	re      *regexp.Regexp
	types   []*ParameterType
	// groups maps argument position to submatch index
	groups []int
}

func (c *compiled) Source() string  { return c.source }
func (c *compiled) Literal() string { return c.literal }

func (c *compiled) Match(text string) (*Match, error) {
	idx := c.re.FindStringSubmatchIndex(text)
	if idx == nil {
		return nil, nil
	}
	m := &Match{Args: make([]Argument, 0, len(c.types))}
	for i, pt := range c.types {
		g := c.groups[i]
		start, end := idx[2*g], idx[2*g+1]
		arg := Argument{Type: pt.Name, Offset: start}
		if start < 0 {
			m.Args = append(m.Args, arg)
			continue
		}
		arg.Raw = text[start:end]
		v, err := pt.Transform(arg.Raw)
		if err != nil {
			return nil, &ArgumentError{Pattern: c.source, Type: pt.Name, Raw: arg.Raw, Cause: err}
		}
		arg.Value = v
		m.Args = append(m.Args, arg)
	}
	return m, nil
}

func (r *Registry) compileExpression(expr string) (*compiled, error) {
	var re, lit strings.Builder
	var types []*ParameterType
	re.WriteString("^")

	chunks, err := splitChunks(expr)
	if err != nil {
		return nil, fmt.Errorf("compiling %q: %w", expr, err)
	}
	for _, c := range chunks {
		if c.space {
			re.WriteString(regexp.QuoteMeta(c.text))
			lit.WriteString(c.text)
			continue
		}
		alts := splitAlternation(c.text)
		if len(alts) == 1 {
			src, l, pts, err := r.renderText(c.text)
			if err != nil {
				return nil, fmt.Errorf("compiling %q: %w", expr, err)
			}
			re.WriteString(src)
			lit.WriteString(l)
			types = append(types, pts...)
			continue
		}
		parts := make([]string, 0, len(alts))
		for i, alt := range alts {
			if alt == "" {
				return nil, fmt.Errorf("compiling %q: empty alternative", expr)
			}
			src, l, pts, err := r.renderText(alt)
			if err != nil {
				return nil, fmt.Errorf("compiling %q: %w", expr, err)
			}
			if len(pts) > 0 {
				return nil, fmt.Errorf("compiling %q: parameters are not allowed in alternation", expr)
			}
			parts = append(parts, src)
			if i == 0 {
				lit.WriteString(l)
			}
		}
		re.WriteString("(?:" + strings.Join(parts, "|") + ")")
	}
	re.WriteString("$")

	compiledRe, err := regexp.Compile(re.String())
	if err != nil {
		return nil, fmt.Errorf("compiling %q: %w", expr, err)
	}
	groups := make([]int, len(types))
	for i := range groups {
		groups[i] = i + 1
	}
	return &compiled{source: expr, literal: lit.String(), re: compiledRe, types: types, groups: groups}, nil
}

type chunk struct {
	text  string
	space bool
}

// splitChunks separates an expression into whitespace and non-whitespace runs.
// Whitespace inside (optional) or {parameter} groups stays with its run.
func splitChunks(expr string) ([]chunk, error) {
	var out []chunk
	var cur strings.Builder
	curSpace := false
	depth := 0
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, chunk{text: cur.String(), space: curSpace})
			cur.Reset()
		}
	}
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		isSpace := depth == 0 && (c == ' ' || c == '\t')
		if cur.Len() > 0 && isSpace != curSpace {
			flush()
		}
		curSpace = isSpace
		cur.WriteByte(c)
		switch c {
		case '\\':
			if i+1 < len(expr) {
				i++
				cur.WriteByte(expr[i])
			}
		case '(', '{':
			depth++
		case ')', '}':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced %q at offset %d", c, i)
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unterminated group")
	}
	flush()
	return out, nil
}

// splitAlternation splits a non-whitespace run on unescaped / outside groups.
func splitAlternation(text string) []string {
	var out []string
	var cur strings.Builder
	depth := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '\\' && i+1 < len(text):
			cur.WriteByte(c)
			i++
			cur.WriteByte(text[i])
			continue
		case c == '(' || c == '{':
			depth++
		case c == ')' || c == '}':
			depth--
		case c == '/' && depth == 0:
			out = append(out, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	return append(out, cur.String())
}

// renderText turns one run of expression text into regexp source and literal
// text, returning the parameter types it references.
func (r *Registry) renderText(text string) (string, string, []*ParameterType, error) {
	var re, lit, pending strings.Builder
	var types []*ParameterType
	flush := func() {
		re.WriteString(regexp.QuoteMeta(pending.String()))
		pending.Reset()
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch c {
		case '\\':
			if i+1 < len(text) {
				i++
			}
			pending.WriteByte(text[i])
			lit.WriteByte(text[i])
		case '(':
			end, body, err := readGroup(text, i, ')')
			if err != nil {
				return "", "", nil, err
			}
			if body == "" {
				return "", "", nil, fmt.Errorf("empty optional text at offset %d", i)
			}
			if strings.ContainsAny(body, "{(") {
				return "", "", nil, fmt.Errorf("optional text %q cannot contain parameters or groups", body)
			}
			flush()
			re.WriteString("(?:" + regexp.QuoteMeta(body) + ")?")
			lit.WriteString(body)
			i = end
		case '{':
			end, name, err := readGroup(text, i, '}')
			if err != nil {
				return "", "", nil, err
			}
			pt, ok := r.Lookup(name)
			if !ok {
				return "", "", nil, fmt.Errorf("undefined parameter type {%s}", name)
			}
			flush()
			re.WriteString("(" + pt.source() + ")")
			lit.WriteString("{" + name + "}")
			types = append(types, pt)
			i = end
		default:
			pending.WriteByte(c)
			lit.WriteByte(c)
		}
	}
	flush()
	return re.String(), lit.String(), types, nil
}

// readGroup returns the index of the closing delimiter and the unescaped body.
func readGroup(text string, start int, closing byte) (int, string, error) {
	var body strings.Builder
	for i := start + 1; i < len(text); i++ {
		c := text[i]
		if c == '\\' && i+1 < len(text) {
			i++
			body.WriteByte(text[i])
			continue
		}
		if c == closing {
			return i, body.String(), nil
		}
		body.WriteByte(c)
	}
	return 0, "", fmt.Errorf("missing %q for group at offset %d", closing, start)
}

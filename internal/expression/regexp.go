package expression

import (
	"fmt"
	"regexp"
	"strings"
)

var identity = &ParameterType{Transform: func(raw string) (any, error) { return raw, nil }}

// compileRegexp builds a matcher from a raw regular expression. Each top-level
// capture group becomes one argument; a group whose source equals a registered
// parameter type's regexp uses that type's transform, any other group yields
// the captured string.
func (r *Registry) compileRegexp(pattern string) (*compiled, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling %q: %w", pattern, err)
	}
	groups := scanGroups(pattern)

	c := &compiled{source: pattern, re: re}
	var lit strings.Builder
	prev := 0
	for _, g := range groups {
		if !g.topLevel {
			continue
		}
		pt := r.bySource(g.source)
		if pt == nil {
			pt = identity
		}
		c.types = append(c.types, pt)
		c.groups = append(c.groups, g.index)

		lit.WriteString(pattern[prev:g.start])
		lit.WriteString("{" + pt.Name + "}")
		prev = g.end + 1
	}
	lit.WriteString(pattern[prev:])
	c.literal = regexpLiteral(lit.String())
	return c, nil
}

type group struct {
	index    int
	start    int
	end      int
	source   string
	topLevel bool
}

// scanGroups lists capturing groups in submatch order. Go numbers groups by
// the position of their opening parenthesis, so a left-to-right scan agrees
// with FindStringSubmatchIndex.
func scanGroups(pattern string) []group {
	type open struct {
		pos       int
		capturing bool
		bodyStart int
		slot      int
	}
	var stack []open
	var out []group
	inClass := false
	capturingDepth := 0
	next := 1
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\':
			i++
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
			if i+1 < len(pattern) && pattern[i+1] == '^' {
				i++
			}
			if i+1 < len(pattern) && pattern[i+1] == ']' {
				i++
			}
		case c == '(':
			o := open{pos: i, bodyStart: i + 1, slot: -1}
			rest := pattern[i+1:]
			switch {
			case strings.HasPrefix(rest, "?P<"), strings.HasPrefix(rest, "?<"):
				o.capturing = true
				o.bodyStart = i + 1 + strings.IndexByte(rest, '>') + 1
			case strings.HasPrefix(rest, "?"):
				o.capturing = false
			default:
				o.capturing = true
			}
			if o.capturing {
				out = append(out, group{index: next, start: i, topLevel: capturingDepth == 0})
				o.slot = len(out) - 1
				next++
				capturingDepth++
			}
			stack = append(stack, o)
		case c == ')':
			if len(stack) == 0 {
				continue
			}
			o := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if o.capturing {
				capturingDepth--
				out[o.slot].end = i
				out[o.slot].source = pattern[o.bodyStart:i]
			}
		}
	}
	return out
}

func regexpLiteral(s string) string {
	s = strings.TrimPrefix(s, "^")
	s = strings.TrimSuffix(s, "$")
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

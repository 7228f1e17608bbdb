// Package expression matches step text against step patterns written either as
// cucumber expressions ("I have {int} cukes") or as anchored regular
// expressions ("^I have (\d+) cukes$"), producing typed arguments.
package expression

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// TransformFunc coerces the captured text of a parameter. Returning an error
// turns the match into a match failure.
type TransformFunc func(raw string) (any, error)

// ParameterType is a named capture usable as {name} inside expressions.
type ParameterType struct {
	Name string
	// Regexps are alternatives tried in declaration order; the first that
	// matches wins.
	Regexps   []string
	Transform TransformFunc
}

func (p *ParameterType) source() string {
	parts := make([]string, len(p.Regexps))
	for i, re := range p.Regexps {
		parts[i] = "(?:" + nonCapturing(re) + ")"
	}
	return strings.Join(parts, "|")
}

// Registry holds the parameter types known to one load.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*ParameterType
	order []string
}

// NewRegistry returns a registry preloaded with int, float, word, string and
// the anonymous {} type.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]*ParameterType)}
	for _, pt := range builtinTypes() {
		r.types[pt.Name] = pt
		r.order = append(r.order, pt.Name)
	}
	return r
}

// Define registers a custom parameter type.
func (r *Registry) Define(pt ParameterType) error {
	if pt.Name == "" {
		return fmt.Errorf("parameter type needs a name")
	}
	if strings.ContainsAny(pt.Name, "{}()\\/ ") {
		return fmt.Errorf("parameter type name %q contains illegal characters", pt.Name)
	}
	if len(pt.Regexps) == 0 {
		return fmt.Errorf("parameter type %q needs at least one regexp", pt.Name)
	}
	for _, re := range pt.Regexps {
		if _, err := regexp.Compile(re); err != nil {
			return fmt.Errorf("parameter type %q: invalid regexp %q: %w", pt.Name, re, err)
		}
	}
	if pt.Transform == nil {
		pt.Transform = func(raw string) (any, error) { return raw, nil }
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[pt.Name]; exists {
		return fmt.Errorf("parameter type %q is already defined", pt.Name)
	}
	def := pt
	r.types[pt.Name] = &def
	r.order = append(r.order, pt.Name)
	return nil
}

// Lookup returns the parameter type registered under name.
func (r *Registry) Lookup(name string) (*ParameterType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pt, ok := r.types[name]
	return pt, ok
}

// bySource finds a parameter type one of whose regexps is exactly src. Regexp
// step patterns use it to give capture groups a typed transform.
func (r *Registry) bySource(src string) *ParameterType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		pt := r.types[name]
		if pt.Name == "" {
			continue
		}
		for _, re := range pt.Regexps {
			if re == src {
				return pt
			}
		}
	}
	return nil
}

func builtinTypes() []*ParameterType {
	return []*ParameterType{
		{
			Name:    "int",
			Regexps: []string{`-?\d+`, `\d+`},
			Transform: func(raw string) (any, error) {
				return strconv.Atoi(raw)
			},
		},
		{
			Name:    "float",
			Regexps: []string{`[-+]?(?:\d+\.\d*|\.\d+|\d+)(?:[eE][-+]?\d+)?`},
			Transform: func(raw string) (any, error) {
				return strconv.ParseFloat(raw, 64)
			},
		},
		{
			Name:      "word",
			Regexps:   []string{`[^\s]+`},
			Transform: func(raw string) (any, error) { return raw, nil },
		},
		{
			Name:    "string",
			Regexps: []string{`"(?:[^"\\]|\\.)*"`, `'(?:[^'\\]|\\.)*'`},
			Transform: func(raw string) (any, error) {
				return unquote(raw), nil
			},
		},
		{
			Name:      "",
			Regexps:   []string{`.*`},
			Transform: func(raw string) (any, error) { return raw, nil },
		},
	}
}

func unquote(raw string) string {
	if len(raw) < 2 {
		return raw
	}
	quote := raw[0]
	body := raw[1 : len(raw)-1]
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		if body[i] == '\\' && i+1 < len(body) && (body[i+1] == quote || body[i+1] == '\\') {
			i++
		}
		b.WriteByte(body[i])
	}
	return b.String()
}

// nonCapturing rewrites capture groups in re as non-capturing groups so that
// each parameter contributes exactly one group to the compiled expression.
func nonCapturing(re string) string {
	var b strings.Builder
	inClass := false
	for i := 0; i < len(re); i++ {
		c := re[i]
		switch {
		case c == '\\' && i+1 < len(re):
			b.WriteByte(c)
			b.WriteByte(re[i+1])
			i++
			continue
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
			// a leading ] or ^] is literal inside a class
			if i+1 < len(re) && re[i+1] == '^' {
				b.WriteString("[^")
				i++
			} else {
				b.WriteByte(c)
			}
			if i+1 < len(re) && re[i+1] == ']' {
				b.WriteByte(']')
				i++
			}
			continue
		case c == '(':
			if i+1 < len(re) && re[i+1] == '?' {
				// (?P<name>...) and (?<name>...) still capture
				rest := re[i+1:]
				if strings.HasPrefix(rest, "?P<") || strings.HasPrefix(rest, "?<") {
					end := strings.IndexByte(rest, '>')
					if end > 0 {
						b.WriteString("(?:")
						i += end + 1
						continue
					}
				}
				break
			}
			b.WriteString("(?:")
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

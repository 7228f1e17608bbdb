// Package fixture is a typed provider registry for values shared with step
// handlers. Providers are registered against tokens with an explicit lifetime
// on a Container owned by one load; each scenario resolves through its own
// Scope.
package fixture

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Lifetime controls how often a provider runs.
type Lifetime int

const (
	// Singleton values are built once per Container and shared read-mostly by
	// every scenario of the load.
	Singleton Lifetime = iota
	// PerScenario values are built once per Scope.
	PerScenario
	// Transient values are built on every resolve.
	Transient
)

func (l Lifetime) String() string {
	switch l {
	case Singleton:
		return "singleton"
	case PerScenario:
		return "per-scenario"
	case Transient:
		return "transient"
	default:
		return fmt.Sprintf("Lifetime(%d)", int(l))
	}
}

// ErrNotProvided is returned when resolving a token with no provider.
var ErrNotProvided = errors.New("no provider registered")

// Token identifies a provided value of type T.
type Token[T any] struct {
	name string
}

// NewToken returns a token named name. Names must be unique per Container.
func NewToken[T any](name string) Token[T] {
	return Token[T]{name: name}
}

func (t Token[T]) Name() string { return t.name }

type definition struct {
	name     string
	lifetime Lifetime
	build    func(*Scope) (any, error)
}

// Container holds provider definitions and singleton instances for one load.
type Container struct {
	mu         sync.Mutex
	defs       map[string]*definition
	singletons map[string]any
	closers    []io.Closer
}

func NewContainer() *Container {
	return &Container{
		defs:       make(map[string]*definition),
		singletons: make(map[string]any),
	}
}

// Provide registers build as the provider for tok.
func Provide[T any](c *Container, tok Token[T], lifetime Lifetime, build func(*Scope) (T, error)) error {
	if tok.name == "" {
		return fmt.Errorf("fixture token needs a name")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.defs[tok.name]; exists {
		return fmt.Errorf("fixture %q is already provided", tok.name)
	}
	c.defs[tok.name] = &definition{
		name:     tok.name,
		lifetime: lifetime,
		build: func(s *Scope) (any, error) {
			return build(s)
		},
	}
	return nil
}

// Value registers a constant singleton.
func Value[T any](c *Container, tok Token[T], v T) error {
	return Provide(c, tok, Singleton, func(*Scope) (T, error) { return v, nil })
}

// Has reports whether name has a provider.
func (c *Container) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.defs[name]
	return ok
}

// NewScope starts a resolution scope for one scenario.
func (c *Container) NewScope() *Scope {
	return &Scope{container: c, instances: make(map[string]any)}
}

// Close releases singleton instances implementing io.Closer in reverse
// creation order.
func (c *Container) Close() error {
	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	c.singletons = make(map[string]any)
	c.mu.Unlock()
	return closeAll(closers)
}

func (c *Container) definition(name string) (*definition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.defs[name]
	return d, ok
}

func (c *Container) singleton(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.singletons[name]
	return v, ok
}

// storeSingleton keeps the first instance built for name; a concurrently
// built duplicate is returned for the caller to discard.
func (c *Container) storeSingleton(name string, v any) (kept any, discarded any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.singletons[name]; ok {
		return existing, v
	}
	c.singletons[name] = v
	if closer, ok := v.(io.Closer); ok {
		c.closers = append(c.closers, closer)
	}
	return v, nil
}

// Scope resolves fixtures for one scenario. It is not safe for concurrent use;
// a scenario's steps run one at a time.
type Scope struct {
	container *Container
	instances map[string]any
	closers   []io.Closer
	resolving []string
	// inSingleton counts singleton builds on the resolve stack
	inSingleton int
}

// Resolve returns the value provided for tok.
func Resolve[T any](s *Scope, tok Token[T]) (T, error) {
	var zero T
	v, err := s.resolve(tok.name)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok && v != nil {
		return zero, fmt.Errorf("fixture %q: provided %T, want %T", tok.name, v, zero)
	}
	return typed, nil
}

// MustResolve is Resolve for fixtures whose absence is a programming error.
func MustResolve[T any](s *Scope, tok Token[T]) T {
	v, err := Resolve(s, tok)
	if err != nil {
		panic(err)
	}
	return v
}

func (s *Scope) resolve(name string) (any, error) {
	def, ok := s.container.definition(name)
	if !ok {
		return nil, fmt.Errorf("fixture %q: %w", name, ErrNotProvided)
	}
	for _, n := range s.resolving {
		if n == name {
			return nil, fmt.Errorf("fixture cycle: %s -> %s", strings.Join(s.resolving, " -> "), name)
		}
	}
	if s.inSingleton > 0 && def.lifetime != Singleton {
		return nil, fmt.Errorf("singleton fixture %q cannot depend on %s fixture %q",
			s.resolving[len(s.resolving)-1], def.lifetime, name)
	}

	switch def.lifetime {
	case Singleton:
		if v, ok := s.container.singleton(name); ok {
			return v, nil
		}
		s.inSingleton++
		v, err := s.build(def)
		s.inSingleton--
		if err != nil {
			return nil, err
		}
		kept, discarded := s.container.storeSingleton(name, v)
		if closer, ok := discarded.(io.Closer); ok {
			_ = closer.Close()
		}
		return kept, nil
	case PerScenario:
		if v, ok := s.instances[name]; ok {
			return v, nil
		}
		v, err := s.build(def)
		if err != nil {
			return nil, err
		}
		s.instances[name] = v
		s.track(v)
		return v, nil
	default:
		v, err := s.build(def)
		if err != nil {
			return nil, err
		}
		s.track(v)
		return v, nil
	}
}

func (s *Scope) build(def *definition) (any, error) {
	s.resolving = append(s.resolving, def.name)
	defer func() { s.resolving = s.resolving[:len(s.resolving)-1] }()
	v, err := def.build(s)
	if err != nil {
		return nil, fmt.Errorf("building fixture %q: %w", def.name, err)
	}
	return v, nil
}

func (s *Scope) track(v any) {
	if closer, ok := v.(io.Closer); ok {
		s.closers = append(s.closers, closer)
	}
}

// Close releases per-scenario and transient instances implementing io.Closer
// in reverse creation order. Singletons are left to the Container.
func (s *Scope) Close() error {
	closers := s.closers
	s.closers = nil
	s.instances = make(map[string]any)
	return closeAll(closers)
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package fixture

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type conn struct {
	id     int
	closed *[]int
}

func (c *conn) Close() error {
	*c.closed = append(*c.closed, c.id)
	return nil
}

func TestResolve_Lifetimes(t *testing.T) {
	c := NewContainer()
	builds := map[string]int{}
	single := NewToken[int]("single")
	perScenario := NewToken[int]("per")
	transient := NewToken[int]("transient")

	require.NoError(t, Provide(c, single, Singleton, func(*Scope) (int, error) {
		builds["single"]++
		return builds["single"], nil
	}))
	require.NoError(t, Provide(c, perScenario, PerScenario, func(*Scope) (int, error) {
		builds["per"]++
		return builds["per"], nil
	}))
	require.NoError(t, Provide(c, transient, Transient, func(*Scope) (int, error) {
		builds["transient"]++
		return builds["transient"], nil
	}))

	a, b := c.NewScope(), c.NewScope()
	for _, s := range []*Scope{a, a, b, b} {
		MustResolve(s, single)
		MustResolve(s, perScenario)
		MustResolve(s, transient)
	}

	assert.Equal(t, 1, builds["single"])
	assert.Equal(t, 2, builds["per"])
	assert.Equal(t, 4, builds["transient"])
}

func TestResolve_Dependencies(t *testing.T) {
	c := NewContainer()
	base := NewToken[string]("base-url")
	client := NewToken[string]("client")

	require.NoError(t, Value(c, base, "http://localhost"))
	require.NoError(t, Provide(c, client, PerScenario, func(s *Scope) (string, error) {
		url, err := Resolve(s, base)
		return "client(" + url + ")", err
	}))

	v, err := Resolve(c.NewScope(), client)
	require.NoError(t, err)
	assert.Equal(t, "client(http://localhost)", v)
}

func TestResolve_Errors(t *testing.T) {
	c := NewContainer()
	missing := NewToken[int]("missing")
	_, err := Resolve(c.NewScope(), missing)
	assert.True(t, errors.Is(err, ErrNotProvided))

	a := NewToken[int]("a")
	b := NewToken[int]("b")
	require.NoError(t, Provide(c, a, PerScenario, func(s *Scope) (int, error) { return Resolve(s, b) }))
	require.NoError(t, Provide(c, b, PerScenario, func(s *Scope) (int, error) { return Resolve(s, a) }))
	_, err = Resolve(c.NewScope(), a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fixture cycle: a -> b -> a")

	shared := NewToken[int]("shared")
	require.NoError(t, Provide(c, shared, Singleton, func(s *Scope) (int, error) { return Resolve(s, b) }))
	_, err = Resolve(c.NewScope(), shared)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot depend on per-scenario")

	assert.Error(t, Provide(c, a, Transient, func(*Scope) (int, error) { return 0, nil }))
	assert.Error(t, Provide(c, NewToken[int](""), Transient, func(*Scope) (int, error) { return 0, nil }))
}

func TestResolve_WrongType(t *testing.T) {
	c := NewContainer()
	require.NoError(t, Value(c, NewToken[int]("n"), 1))
	_, err := Resolve(c.NewScope(), NewToken[string]("n"))
	assert.Error(t, err)
}

func TestClose_ReverseOrder(t *testing.T) {
	var closed []int
	c := NewContainer()
	next := 0
	mk := func(*Scope) (*conn, error) {
		next++
		return &conn{id: next, closed: &closed}, nil
	}
	first := NewToken[*conn]("first")
	second := NewToken[*conn]("second")
	global := NewToken[*conn]("global")
	require.NoError(t, Provide(c, first, PerScenario, mk))
	require.NoError(t, Provide(c, second, Transient, mk))
	require.NoError(t, Provide(c, global, Singleton, mk))

	s := c.NewScope()
	MustResolve(s, global)
	MustResolve(s, first)
	MustResolve(s, second)

	require.NoError(t, s.Close())
	assert.Equal(t, []int{3, 2}, closed)

	require.NoError(t, c.Close())
	assert.Equal(t, []int{3, 2, 1}, closed)
	assert.True(t, c.Has("first"))
}

package expression

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggest_GroupsByKeyword(t *testing.T) {
	candidates := []Candidate{
		{Pattern: "I have {int} cukes", Literal: "I have {int} cukes", SameKeyword: true},
		{Pattern: "I have {int} cukes", Literal: "I have {int} cukes", SameKeyword: true},
		{Pattern: "I have {int} cucumbers", Literal: "I have {int} cucumbers"},
		{Pattern: "the sky is blue", Literal: "the sky is blue", SameKeyword: true},
	}

	s := Suggest("I have 3 cuke", candidates)
	assert.Equal(t, []string{"I have {int} cukes"}, s.SameKeyword)
	assert.Equal(t, []string{"I have {int} cucumbers"}, s.OtherKeyword)
	assert.False(t, s.Empty())
}

func TestSuggest_NothingClose(t *testing.T) {
	s := Suggest("completely unrelated text", []Candidate{{Pattern: "abc"}})
	assert.True(t, s.Empty())
}

func TestSuggest_LimitsAndOrders(t *testing.T) {
	var candidates []Candidate
	for i := 8; i >= 1; i-- {
		p := fmt.Sprintf("step %d", i)
		candidates = append(candidates, Candidate{Pattern: p, Literal: p, SameKeyword: true})
	}
	candidates = append(candidates, Candidate{Pattern: "stop", Literal: "stop", SameKeyword: true})

	s := Suggest("step", candidates)
	require.Len(t, s.SameKeyword, MaxSuggestions)
	assert.Equal(t, "stop", s.SameKeyword[0])
	assert.Equal(t, "step 1", s.SameKeyword[1])
}

func TestSuggest_UsesMatcherLiteral(t *testing.T) {
	m := mustCompile(t, NewRegistry(), `^the user "([^"]*)" exists$`)
	s := Suggest(`the user "alice" exist`, []Candidate{{Pattern: m.Source(), Literal: m.Literal()}})
	assert.Equal(t, []string{m.Source()}, s.OtherKeyword)
}

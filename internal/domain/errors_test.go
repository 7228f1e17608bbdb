package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGherkinParseError_Position(t *testing.T) {
	err := &GherkinParseError{URI: "features/a.feature", Line: 3, Column: 5, Message: "expected step"}
	assert.Equal(t, "[parse] features/a.feature:3:5: expected step", err.Error())

	err = &GherkinParseError{URI: "features/a.feature", Message: "empty"}
	assert.Equal(t, "[parse] features/a.feature: empty", err.Error())
}

func TestStepMatchError_Suggestions(t *testing.T) {
	err := &StepMatchError{
		Keyword:      "Given ",
		Text:         "a usr",
		ScopePath:    "Login > Valid",
		SameKeyword:  []string{"a user"},
		OtherKeyword: []string{"a users list"},
	}
	assert.Equal(t,
		`[match] Login > Valid: no step definition matches "Given a usr"; did you mean: a user; defined for another keyword: a users list`,
		err.Error())
}

func TestStepMatchError_CauseIsUnwrapped(t *testing.T) {
	cause := errors.New("not a number")
	err := fmt.Errorf("resolving: %w", &StepMatchError{Keyword: "Given ", Text: "x", ScopePath: "F", Cause: cause})

	assert.ErrorIs(t, err, cause)
	var sme *StepMatchError
	assert.ErrorAs(t, err, &sme)
	assert.Contains(t, err.Error(), `step "Given x": not a number`)
}

func TestHookExecutionError(t *testing.T) {
	cause := errors.New("db down")
	err := &HookExecutionError{Phase: "setup", ScopeKind: "feature", ScopeName: "Login", HookName: "seed", Cause: cause}

	assert.Equal(t, `[setup] feature "Login" hook "seed": db down`, err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestIsPending(t *testing.T) {
	assert.True(t, IsPending(ErrPending))
	assert.True(t, IsPending(fmt.Errorf("step: %w", ErrPending)))
	assert.True(t, IsPending(&ScenarioPendingError{Scenario: "Later"}))
	assert.True(t, IsPending(&StepExecutionError{Text: "x", Cause: ErrPending}))
	assert.False(t, IsPending(errors.New("boom")))
	assert.False(t, IsPending(nil))
}

func TestScenarioPendingError_Reason(t *testing.T) {
	assert.Equal(t, `scenario "Later" is pending`, (&ScenarioPendingError{Scenario: "Later"}).Error())
	assert.Equal(t, `scenario "Later" is pending: needs API`,
		(&ScenarioPendingError{Scenario: "Later", Reason: "needs API"}).Error())
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{Scenario: "Slow", Timeout: 2 * time.Second}
	assert.Equal(t, `scenario "Slow" timed out after 2s`, err.Error())
}

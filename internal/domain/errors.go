package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrPending is returned by step and hook handlers that are not implemented yet.
var ErrPending = errors.New("pending")

// GherkinParseError reports malformed feature source. It aborts the whole load.
type GherkinParseError struct {
	URI     string
	Line    int
	Column  int
	Message string
	Cause   error
}

func (e *GherkinParseError) Error() string {
	s := "[parse]"
	if e.URI != "" {
		s += " " + e.URI
	}
	if e.Line > 0 {
		s += fmt.Sprintf(":%d", e.Line)
		if e.Column > 0 {
			s += fmt.Sprintf(":%d", e.Column)
		}
	}
	return s + ": " + e.Message
}

func (e *GherkinParseError) Unwrap() error {
	return e.Cause
}

// StepMatchError reports a pickle step that no visible step definition matches,
// or whose matching definition could not coerce its arguments.
type StepMatchError struct {
	Keyword   string
	Text      string
	ScopePath string

	// SameKeyword and OtherKeyword hold near-miss patterns, closest first.
	SameKeyword  []string
	OtherKeyword []string

	Cause error
}

func (e *StepMatchError) Error() string {
	var b strings.Builder
	if e.Cause != nil {
		fmt.Fprintf(&b, "[match] %s: step %q: %v", e.ScopePath, e.Keyword+e.Text, e.Cause)
		return b.String()
	}
	fmt.Fprintf(&b, "[match] %s: no step definition matches %q", e.ScopePath, e.Keyword+e.Text)
	if len(e.SameKeyword) > 0 {
		fmt.Fprintf(&b, "; did you mean: %s", strings.Join(e.SameKeyword, ", "))
	}
	if len(e.OtherKeyword) > 0 {
		fmt.Fprintf(&b, "; defined for another keyword: %s", strings.Join(e.OtherKeyword, ", "))
	}
	return b.String()
}

func (e *StepMatchError) Unwrap() error {
	return e.Cause
}

// AmbiguousStepError reports a step matched by more than one definition at the
// same scope level.
type AmbiguousStepError struct {
	Text      string
	ScopePath string
	Patterns  []string
}

func (e *AmbiguousStepError) Error() string {
	return fmt.Sprintf("[match] %s: step %q is ambiguous between %s",
		e.ScopePath, e.Text, strings.Join(e.Patterns, ", "))
}

// HookExecutionError wraps a failing hook with the scope it was registered on.
type HookExecutionError struct {
	Phase     string // "setup", "before", "after", "teardown"
	ScopeKind string
	ScopeName string
	HookName  string
	Cause     error
}

func (e *HookExecutionError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Phase, e.ScopeKind)
	if e.ScopeName != "" {
		s += fmt.Sprintf(" %q", e.ScopeName)
	}
	if e.HookName != "" {
		s += fmt.Sprintf(" hook %q", e.HookName)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(": %v", e.Cause)
	}
	return s
}

func (e *HookExecutionError) Unwrap() error {
	return e.Cause
}

// StepExecutionError wraps an error returned or panicked by a step handler.
type StepExecutionError struct {
	Keyword   string
	Text      string
	ScopePath string
	Cause     error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("[step] %s: %q: %v", e.ScopePath, e.Keyword+e.Text, e.Cause)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Cause
}

// ScenarioPendingError marks a scenario stopped by an explicit pending marker.
// It is a terminal state distinct from failure.
type ScenarioPendingError struct {
	Scenario string
	Reason   string
}

func (e *ScenarioPendingError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("scenario %q is pending", e.Scenario)
	}
	return fmt.Sprintf("scenario %q is pending: %s", e.Scenario, e.Reason)
}

func (e *ScenarioPendingError) Is(target error) bool {
	return target == ErrPending
}

// TimeoutError is recorded when the host runner's deadline expires for a scenario.
type TimeoutError struct {
	Scenario string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("scenario %q timed out after %s", e.Scenario, e.Timeout)
}

// IsPending reports whether err carries a pending marker.
func IsPending(err error) bool {
	return errors.Is(err, ErrPending)
}

package action

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the error taxonomy surfaced from the orchestrator core, narrowed
// to the six kinds it actually produces.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindTimeout       Kind = "timeout"
	KindProviderError Kind = "provider_error"
	KindParseError    Kind = "parse_error"
	KindStopExhausted Kind = "stop_exhausted"
)

// Error is the structured error type returned across the action/executor
// boundary. Recoverable kinds (Validation, NotFound, ParseError, and
// per-call Timeout against a sub-action) are folded into tool-response
// messages inside a multi-turn loop rather than aborting it.
type Error struct {
	Kind       Kind
	Message    string
	Details    []string
	StepIndex  int
	ActionName string
	Cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Kind)
	if e.ActionName != "" {
		fmt.Fprintf(&b, " action=%s", e.ActionName)
	}
	if e.StepIndex >= 0 {
		fmt.Fprintf(&b, " step=%d", e.StepIndex)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	} else if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if len(e.Details) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Details, "; "))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// NewValidationError aggregates schema-mismatch reasons into one error.
func NewValidationError(actionName string, details []string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Details: details, StepIndex: -1, ActionName: actionName}
}

// NewNotFoundError reports a dangling action reference.
func NewNotFoundError(name string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("action %q not found in registry", name), StepIndex: -1, ActionName: name}
}

// NewTimeoutError reports a step or model call that exceeded its budget.
func NewTimeoutError(actionName string, stepIndex int, cause error) *Error {
	return &Error{Kind: KindTimeout, Message: "deadline exceeded", StepIndex: stepIndex, ActionName: actionName, Cause: cause}
}

// NewProviderError reports exhaustion of both cascade passes or a malformed response.
func NewProviderError(message string, cause error) *Error {
	return &Error{Kind: KindProviderError, Message: message, StepIndex: -1, Cause: cause}
}

// NewParseError reports a tool call whose arguments are not valid JSON.
func NewParseError(toolName string, cause error) *Error {
	return &Error{Kind: KindParseError, Message: fmt.Sprintf("malformed arguments for %q", toolName), StepIndex: -1, Cause: cause}
}

// NewStopExhaustedError marks iteration-budget exhaustion. Not itself
// propagated to the caller unless the synthetic stop call also fails.
func NewStopExhaustedError(maxIterations int) *Error {
	return &Error{Kind: KindStopExhausted, Message: fmt.Sprintf("exhausted %d iterations", maxIterations), StepIndex: -1}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// Recoverable reports whether this kind is fed back into the conversation
// as a tool-response message inside a multi-turn loop rather than aborting
// it.
func (k Kind) Recoverable() bool {
	switch k {
	case KindValidation, KindNotFound, KindParseError:
		return true
	default:
		return false
	}
}

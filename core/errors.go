package core

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can react without parsing messages.
type Kind string

const (
	KindInvalidProvider          Kind = "invalid_provider"
	KindProviderTimeout          Kind = "provider_timeout"
	KindProviderError            Kind = "provider_error"
	KindTemplateNotFound         Kind = "template_not_found"
	KindMissingField             Kind = "missing_field"
	KindSandboxUnavailable       Kind = "sandbox_unavailable"
	KindExecutionFailure         Kind = "execution_failure"
	KindSolverEnvironmentInvalid Kind = "solver_environment_invalid"
	KindOptimizationParseError   Kind = "optimization_parse_error"
	KindInvalidSolverPreference  Kind = "invalid_solver_preference"
	KindInvalidRequest           Kind = "invalid_request"
	KindInvalidConfig            Kind = "invalid_config"
)

// Transient reports whether retrying the same request later may succeed.
// Invalid input and invalid configuration are permanent.
func (k Kind) Transient() bool {
	switch k {
	case KindProviderTimeout, KindProviderError, KindSandboxUnavailable, KindSolverEnvironmentInvalid:
		return true
	}
	return false
}

// Sentinels for errors.Is comparisons. They match any *Error of the same Kind.
var (
	ErrInvalidProvider          = &Error{Kind: KindInvalidProvider}
	ErrProviderTimeout          = &Error{Kind: KindProviderTimeout}
	ErrProviderError            = &Error{Kind: KindProviderError}
	ErrTemplateNotFound         = &Error{Kind: KindTemplateNotFound}
	ErrMissingField             = &Error{Kind: KindMissingField}
	ErrSandboxUnavailable       = &Error{Kind: KindSandboxUnavailable}
	ErrExecutionFailure         = &Error{Kind: KindExecutionFailure}
	ErrSolverEnvironmentInvalid = &Error{Kind: KindSolverEnvironmentInvalid}
	ErrOptimizationParseError   = &Error{Kind: KindOptimizationParseError}
	ErrInvalidSolverPreference  = &Error{Kind: KindInvalidSolverPreference}
	ErrInvalidRequest           = &Error{Kind: KindInvalidRequest}
	ErrInvalidConfig            = &Error{Kind: KindInvalidConfig}
)

// Error is the structured failure surfaced by every simflow component.
// Stage is set by the orchestrator to the pipeline step that failed.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
	Stage   Stage  `json:"stage,omitempty"`
	// Permanent marks a failure of a usually transient kind that retrying
	// cannot fix, such as a provider rejecting the credentials.
	Permanent bool  `json:"permanent,omitempty"`
	Err       error `json:"-"`
}

// NewError creates an Error of the given kind.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Errorf creates an Error with a formatted message. A %w verb wraps the
// referenced error like fmt.Errorf does.
func Errorf(kind Kind, format string, args ...any) *Error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Message: wrapped.Error(), Err: errors.Unwrap(wrapped)}
}

// WithHint returns a copy of e carrying an actionable suggestion.
func (e *Error) WithHint(hint string) *Error {
	cp := *e
	cp.Hint = hint
	return &cp
}

// AsPermanent returns a copy of e that reports itself as not transient.
func (e *Error) AsPermanent() *Error {
	cp := *e
	cp.Permanent = true
	return &cp
}

// WithStage returns a copy of e attributed to a pipeline stage.
func (e *Error) WithStage(s Stage) *Error {
	cp := *e
	cp.Stage = s
	return &cp
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Stage != "" {
		msg = fmt.Sprintf("%s step failed: %s", e.Stage, msg)
	}
	return msg
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Transient reports whether the failure is worth retrying later.
func (e *Error) Transient() bool { return !e.Permanent && e.Kind.Transient() }

// IsTransient reports whether err is a structured error worth retrying.
// Unstructured errors are treated as permanent.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Transient()
}

// KindOf extracts the Kind of err, or "" when err is not a structured error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Package apperr defines the error taxonomy shared by the store, the CMS client,
// the orchestrator and the transport layers.
package apperr

import "errors"

// Kind is the machine-readable error classification returned to callers.
type Kind string

const (
	KindInternal                Kind = "internal_error"
	KindValidation              Kind = "validation_error"
	KindAuth                    Kind = "auth_error"
	KindNotFound                Kind = "not_found"
	KindConflict                Kind = "conflict"
	KindInvalidTransition       Kind = "invalid_transition"
	KindNotConfigured           Kind = "not_configured"
	KindRateLimited             Kind = "rate_limited"
	KindInvalidCredentials      Kind = "invalid_credentials"
	KindInsufficientPermissions Kind = "insufficient_permissions"
	KindSiteNotFound            Kind = "site_not_found"
	KindHostUnreachable         Kind = "host_unreachable"
	KindTimeout                 Kind = "timeout"
	KindRemote                  Kind = "remote_error"
)

// Error is a classified error with an optional remediation hint.
type Error struct {
	Kind    Kind
	Message string
	Hint    string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return string(e.Kind) + ": " + e.Cause.Error()
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict          = &Error{Kind: KindConflict, Message: "conflict"}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Message: "invalid transition"}
	ErrNotConfigured     = &Error{Kind: KindNotConfigured, Message: "not configured"}
	ErrValidation        = &Error{Kind: KindValidation, Message: "validation error"}
	ErrAuth              = &Error{Kind: KindAuth, Message: "unauthorized"}
	ErrTimeout           = &Error{Kind: KindTimeout, Message: "timeout"}
)

// New creates an error of the given kind with the default hint for that kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Hint: DefaultHint(kind)}
}

// Wrap creates an error of the given kind that wraps cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Hint: DefaultHint(kind), Cause: cause}
}

// WithHint returns a copy of e carrying hint.
func (e *Error) WithHint(hint string) *Error {
	cp := *e
	cp.Hint = hint
	return &cp
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HintOf returns the hint carried by err, falling back to the kind's default.
func HintOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Hint != "" {
			return e.Hint
		}
		return DefaultHint(e.Kind)
	}
	return ""
}

// DefaultHint returns the user-facing remediation text for kind.
func DefaultHint(kind Kind) string {
	switch kind {
	case KindValidation:
		return "check the request fields and try again"
	case KindAuth:
		return "sign in again and retry with a valid bearer token"
	case KindNotFound:
		return "check the article id; articles are only visible to their owner"
	case KindConflict:
		return "another publish of this article is in progress; retry shortly"
	case KindInvalidTransition:
		return "published articles cannot be published or scheduled again"
	case KindNotConfigured:
		return "set the CMS URL, username and application password in settings"
	case KindRateLimited:
		return "slow down and retry in a moment"
	case KindInvalidCredentials:
		return "check the username and that the application password has no stray spaces"
	case KindInsufficientPermissions:
		return "the CMS user needs a role that can create posts (author or above)"
	case KindSiteNotFound:
		return "check the site URL and that the REST API (/wp-json) is enabled"
	case KindHostUnreachable:
		return "check the URL includes the scheme (https://) and the host name resolves"
	case KindTimeout:
		return "the site is too slow or unreachable; try again later"
	case KindRemote:
		return "the CMS rejected the request; see the message for details"
	default:
		return ""
	}
}

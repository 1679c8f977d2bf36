package mcperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a gateway failure independently of the surface that
// reports it.
type Kind string

// Known failure kinds. The set is closed: code that produces a new class
// of failure must pick the closest existing kind rather than invent one,
// so that clients can rely on the code mapping staying stable.
const (
	// KindInvalidRequest indicates malformed input: missing or mistyped
	// parameters, a body that fails schema validation, or an unusable
	// pagination cursor.
	KindInvalidRequest Kind = "invalid_request"

	// KindMethodNotFound indicates an unknown MCP method, or a tool that
	// exists but is hidden from the calling session by virtual-server
	// scoping. Both cases are reported identically so scoping does not
	// leak catalog contents.
	KindMethodNotFound Kind = "method_not_found"

	// KindAuthRequired indicates missing or unverifiable credentials.
	KindAuthRequired Kind = "auth_required"

	// KindForbidden indicates valid credentials without sufficient
	// permission for the operation.
	KindForbidden Kind = "forbidden"

	// KindPolicyDenied indicates a plugin violation, an allowlist
	// rejection, or a passthrough-header restriction. Errors of this kind
	// should carry a stable reason Code.
	KindPolicyDenied Kind = "policy_denied"

	// KindNotFound indicates the entity does not exist or is not visible
	// to the caller. The two cases are deliberately indistinguishable.
	KindNotFound Kind = "not_found"

	// KindConflict indicates a uniqueness or dependency violation.
	KindConflict Kind = "conflict"

	// KindUpstream indicates a tool backend or peer gateway returned an
	// error the gateway did not cause.
	KindUpstream Kind = "upstream_error"

	// KindTimeout indicates a bounded wait was exceeded.
	KindTimeout Kind = "timeout"

	// KindCancelled indicates the client or an administrator cancelled
	// the operation before it completed.
	KindCancelled Kind = "cancelled"

	// KindRateLimited indicates the caller exceeded a rate limit or a
	// connection pool is saturated. RetryAfter may carry a hint.
	KindRateLimited Kind = "rate_limited"

	// KindInternal indicates an unexpected bug. Messages of this kind are
	// never echoed to clients verbatim.
	KindInternal Kind = "internal"

	// KindPluginError indicates a plugin failed while the hook was
	// configured to fail closed.
	KindPluginError Kind = "plugin_error"
)

// JSON-RPC error codes. The -32600 family follows JSON-RPC 2.0; the
// -32001..-32020 range carries gateway conditions.
const (
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeAuthRequired   = -32001
	CodeForbidden      = -32002
	CodePolicyDenied   = -32003
	CodeNotFound       = -32004
	CodeConflict       = -32005
	CodeUpstream       = -32010
	CodeTimeout        = -32011
	CodeCancelled      = -32012
	CodeRateLimited    = -32013
	CodePluginError    = -32020
)

// httpStatusClientClosedRequest is the nginx convention for a request the
// client abandoned. net/http has no constant for it.
const httpStatusClientClosedRequest = 499

// JSONRPCCode returns the JSON-RPC error code for the kind.
//
// KindInvalidRequest maps to -32602 (invalid params): framing-level
// -32600/-32700 conditions are rejected by the transport before gateway
// code runs, so every InvalidRequest the gateway itself produces is a
// parameter problem.
func (k Kind) JSONRPCCode() int {
	switch k {
	case KindInvalidRequest:
		return CodeInvalidParams
	case KindMethodNotFound:
		return CodeMethodNotFound
	case KindAuthRequired:
		return CodeAuthRequired
	case KindForbidden:
		return CodeForbidden
	case KindPolicyDenied:
		return CodePolicyDenied
	case KindNotFound:
		return CodeNotFound
	case KindConflict:
		return CodeConflict
	case KindUpstream:
		return CodeUpstream
	case KindTimeout:
		return CodeTimeout
	case KindCancelled:
		return CodeCancelled
	case KindRateLimited:
		return CodeRateLimited
	case KindPluginError:
		return CodePluginError
	default:
		return CodeInternal
	}
}

// HTTPStatus returns the HTTP status the admin API reports for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindMethodNotFound:
		return http.StatusNotFound
	case KindAuthRequired:
		return http.StatusUnauthorized
	case KindForbidden, KindPolicyDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCancelled:
		return httpStatusClientClosedRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return string(k)
}

// Error is the gateway's error envelope.
type Error struct {
	// Kind classifies the failure and fixes its wire codes.
	Kind Kind

	// Code is an optional stable reason identifier (for example
	// "FEDERATION_LOOP_DETECTED" or "PII_DETECTED") that clients can
	// branch on. Unlike Message it must never be localized or reworded.
	Code string

	// Message describes the failure for humans.
	Message string

	// Err is the underlying cause, if any.
	Err error

	// RetryAfter is a retry hint for KindRateLimited errors. Zero means
	// no hint.
	RetryAfter time.Duration
}

// New returns an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf returns an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of the given kind wrapping err. If err is already
// an *Error of the same kind, it is returned unchanged to avoid stacking
// identical envelopes.
func Wrap(kind Kind, message string, err error) *Error {
	var ge *Error
	if errors.As(err, &ge) && ge.Kind == kind {
		return ge
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithCode sets the stable reason code and returns the error for chaining.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithRetryAfter sets the retry hint and returns the error for chaining.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements custom error matching for errors.Is(). Two *Error values
// match when their kinds are equal and the target either carries no reason
// code or the same one. This supports sentinel-style comparisons such as
//
//	errors.Is(err, &mcperr.Error{Kind: mcperr.KindConflict})
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// UserFacingError returns a message safe to show to clients. Internal
// errors collapse to a generic message so stack details and backend
// addresses never leak.
func (e *Error) UserFacingError() string {
	if e.Kind == KindInternal || e.Kind == "" {
		return "internal error"
	}
	return e.Message
}

// KindOf classifies an arbitrary error. *Error values report their own
// kind; context cancellation and deadline errors map to the corresponding
// kinds; everything else is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether err classifies as the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ReasonCode returns the stable reason code attached to err, or "".
func ReasonCode(err error) string {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

// KindFromJSONRPC maps a JSON-RPC error code received from a peer gateway
// back to a Kind, so federated failures keep their classification across
// hops. Unknown codes map to KindUpstream: whatever the peer meant, from
// this gateway's perspective the upstream failed.
func KindFromJSONRPC(code int) Kind {
	switch code {
	case CodeInvalidRequest, CodeInvalidParams:
		return KindInvalidRequest
	case CodeMethodNotFound:
		return KindMethodNotFound
	case CodeAuthRequired:
		return KindAuthRequired
	case CodeForbidden:
		return KindForbidden
	case CodePolicyDenied:
		return KindPolicyDenied
	case CodeNotFound:
		return KindNotFound
	case CodeConflict:
		return KindConflict
	case CodeTimeout:
		return KindTimeout
	case CodeCancelled:
		return KindCancelled
	case CodeRateLimited:
		return KindRateLimited
	case CodePluginError:
		return KindPluginError
	default:
		return KindUpstream
	}
}

// KindFromHTTPStatus maps an admin-API or upstream HTTP status to a Kind.
// Statuses without a specific mapping collapse to KindUpstream for 5xx and
// KindInvalidRequest for 4xx.
func KindFromHTTPStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized:
		return KindAuthRequired
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	case http.StatusTooManyRequests:
		return KindRateLimited
	case http.StatusGatewayTimeout:
		return KindTimeout
	case httpStatusClientClosedRequest:
		return KindCancelled
	}
	if status >= 500 {
		return KindUpstream
	}
	return KindInvalidRequest
}

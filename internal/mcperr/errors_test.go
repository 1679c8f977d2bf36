package mcperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindCodes(t *testing.T) {
	tests := []struct {
		name         string
		kind         Kind
		expectedRPC  int
		expectedHTTP int
	}{
		{name: "invalid request", kind: KindInvalidRequest, expectedRPC: -32602, expectedHTTP: http.StatusBadRequest},
		{name: "method not found", kind: KindMethodNotFound, expectedRPC: -32601, expectedHTTP: http.StatusNotFound},
		{name: "auth required", kind: KindAuthRequired, expectedRPC: -32001, expectedHTTP: http.StatusUnauthorized},
		{name: "forbidden", kind: KindForbidden, expectedRPC: -32002, expectedHTTP: http.StatusForbidden},
		{name: "policy denied", kind: KindPolicyDenied, expectedRPC: -32003, expectedHTTP: http.StatusForbidden},
		{name: "not found", kind: KindNotFound, expectedRPC: -32004, expectedHTTP: http.StatusNotFound},
		{name: "conflict", kind: KindConflict, expectedRPC: -32005, expectedHTTP: http.StatusConflict},
		{name: "upstream", kind: KindUpstream, expectedRPC: -32010, expectedHTTP: http.StatusBadGateway},
		{name: "timeout", kind: KindTimeout, expectedRPC: -32011, expectedHTTP: http.StatusGatewayTimeout},
		{name: "cancelled", kind: KindCancelled, expectedRPC: -32012, expectedHTTP: 499},
		{name: "rate limited", kind: KindRateLimited, expectedRPC: -32013, expectedHTTP: http.StatusTooManyRequests},
		{name: "internal", kind: KindInternal, expectedRPC: -32603, expectedHTTP: http.StatusInternalServerError},
		{name: "plugin error", kind: KindPluginError, expectedRPC: -32020, expectedHTTP: http.StatusInternalServerError},
		{name: "unknown kind falls back to internal", kind: Kind("bogus"), expectedRPC: -32603, expectedHTTP: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedRPC, tt.kind.JSONRPCCode())
			assert.Equal(t, tt.expectedHTTP, tt.kind.HTTPStatus())
		})
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name           string
		err            *Error
		expectedString string
	}{
		{
			name:           "kind and message",
			err:            New(KindNotFound, "tool not found"),
			expectedString: "not_found: tool not found",
		},
		{
			name:           "with reason code",
			err:            New(KindPolicyDenied, "registration rejected").WithCode("PRODUCTION_REGISTRATION_DECLINED"),
			expectedString: "policy_denied: registration rejected [PRODUCTION_REGISTRATION_DECLINED]",
		},
		{
			name:           "with cause",
			err:            Wrap(KindUpstream, "backend call failed", fmt.Errorf("connection refused")),
			expectedString: "upstream_error: backend call failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedString, tt.err.Error())
		})
	}
}

func TestWrapDoesNotStackSameKind(t *testing.T) {
	inner := New(KindConflict, "duplicate name").WithCode("DUPLICATE_NAME")
	outer := Wrap(KindConflict, "create failed", inner)

	assert.Same(t, inner, outer)

	// A different kind wraps normally and still unwraps to the cause.
	wrapped := Wrap(KindInternal, "store failure", inner)
	require.NotSame(t, inner, wrapped)
	assert.ErrorIs(t, wrapped, inner)
}

func TestErrorIs(t *testing.T) {
	err := New(KindConflict, "loop detected").WithCode("FEDERATION_LOOP_DETECTED")

	assert.True(t, errors.Is(err, &Error{Kind: KindConflict}))
	assert.True(t, errors.Is(err, &Error{Kind: KindConflict, Code: "FEDERATION_LOOP_DETECTED"}))
	assert.False(t, errors.Is(err, &Error{Kind: KindConflict, Code: "DUPLICATE_NAME"}))
	assert.False(t, errors.Is(err, &Error{Kind: KindNotFound}))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{name: "nil", err: nil, expected: Kind("")},
		{name: "typed error", err: New(KindRateLimited, "slow down"), expected: KindRateLimited},
		{name: "wrapped typed error", err: fmt.Errorf("dispatch: %w", New(KindTimeout, "deadline")), expected: KindTimeout},
		{name: "context deadline", err: context.DeadlineExceeded, expected: KindTimeout},
		{name: "context canceled", err: context.Canceled, expected: KindCancelled},
		{name: "plain error", err: errors.New("boom"), expected: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}
}

func TestUserFacingError(t *testing.T) {
	internal := Wrap(KindInternal, "pq: duplicate key value violates unique constraint", errors.New("sql detail"))
	assert.Equal(t, "internal error", internal.UserFacingError())

	visible := New(KindForbidden, "tool belongs to another team")
	assert.Equal(t, "tool belongs to another team", visible.UserFacingError())
}

func TestRetryAfterHint(t *testing.T) {
	err := New(KindRateLimited, "too many requests").WithRetryAfter(30 * time.Second)
	assert.Equal(t, 30*time.Second, err.RetryAfter)

	var ge *Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, KindRateLimited, ge.Kind)
}

func TestReasonCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(KindPolicyDenied, "blocked").WithCode("PII_DETECTED"))
	assert.Equal(t, "PII_DETECTED", ReasonCode(err))
	assert.Equal(t, "", ReasonCode(errors.New("plain")))
}

func TestKindFromJSONRPC(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		expected Kind
	}{
		{name: "policy denied", code: -32003, expected: KindPolicyDenied},
		{name: "invalid params", code: -32602, expected: KindInvalidRequest},
		{name: "rate limited", code: -32013, expected: KindRateLimited},
		{name: "unknown server code becomes upstream", code: -32099, expected: KindUpstream},
		{name: "internal from peer becomes upstream", code: -32603, expected: KindUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindFromJSONRPC(tt.code))
		})
	}
}

func TestKindFromHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected Kind
	}{
		{name: "unauthorized", status: 401, expected: KindAuthRequired},
		{name: "too many requests", status: 429, expected: KindRateLimited},
		{name: "client closed request", status: 499, expected: KindCancelled},
		{name: "bad gateway", status: 502, expected: KindUpstream},
		{name: "teapot collapses to invalid request", status: 418, expected: KindInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindFromHTTPStatus(tt.status))
		})
	}
}

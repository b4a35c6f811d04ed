package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Code:    ErrCodeInvalidConfig,
				Message: "configuration is invalid",
			},
			expected: "INVALID_CONFIG: configuration is invalid",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeDatabaseQuery,
				Message: "failed to insert job",
				Cause:   errors.New("database is locked"),
			},
			expected: "DATABASE_QUERY: failed to insert job: database is locked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, ErrCodeInternalError, "something went wrong")

	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
}

func TestAppError_WithContext(t *testing.T) {
	err := New(ErrCodeValidationFailed, "validation failed")

	result := err.WithContext("field", "pair_id").WithContext("value", "abc")

	assert.Equal(t, err, result)
	assert.Len(t, err.Context, 2)
	assert.Equal(t, "pair_id", err.Context["field"])
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      Kind
		retryable bool
		permanent bool
	}{
		{"validation", NewValidationError("pair_id", "", "required"), KindValidation, false, false},
		{"plan limit", NewPlanLimitError("free", "forwarding pairs", 1), KindValidation, false, false},
		{"transient", NewTransientError(ErrCodeDisconnected, "session dropped", errors.New("eof")), KindTransient, true, false},
		{"rate limit", NewRateLimitError("telegram", time.Second), KindTransient, true, false},
		{"credential", NewCredentialError("discord", 7, errors.New("401")), KindPermanent, false, true},
		{"foreign error", errors.New("boom"), KindInternal, false, false},
		{"wrapped app error", fmt.Errorf("outer: %w", NewTimeoutError("send", "60s")), KindTransient, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.permanent, IsPermanent(tt.err))
		})
	}
}

func TestGetCodeAndRetryAfter(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", NewRateLimitError("discord", 3*time.Second))

	assert.Equal(t, ErrCodeRateLimit, GetCode(err))
	assert.Equal(t, 3*time.Second, GetRetryAfter(err))
	assert.Equal(t, ErrCodeInternalError, GetCode(errors.New("plain")))
	assert.Zero(t, GetRetryAfter(errors.New("plain")))
}

func TestGetUserMessage(t *testing.T) {
	assert.Equal(t, "Your free plan allows at most 1 forwarding pairs",
		GetUserMessage(NewPlanLimitError("free", "forwarding pairs", 1)))
	assert.Equal(t, "An internal error occurred", GetUserMessage(errors.New("x")))
}

func TestNewAPIError(t *testing.T) {
	cause := errors.New("api")
	tests := []struct {
		status int
		code   ErrorCode
		kind   Kind
	}{
		{401, ErrCodeInvalidCredential, KindPermanent},
		{403, ErrCodeBanned, KindPermanent},
		{429, ErrCodeRateLimit, KindTransient},
		{502, ErrCodePlatformAPI, KindTransient},
		{0, ErrCodePlatformAPI, KindTransient},
		{400, ErrCodePlatformAPI, KindPermanent},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			err := NewAPIError("telegram", tt.status, cause)
			require.NotNil(t, err)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, "telegram", err.Context["platform"])
		})
	}
}

func TestHTTPStatusCode(t *testing.T) {
	assert.Equal(t, 403, HTTPStatusCode(NewPlanLimitError("free", "pairs", 1)))
	assert.Equal(t, 404, HTTPStatusCode(NewNotFoundError("job", "x")))
	assert.Equal(t, 409, HTTPStatusCode(NewDuplicateError("pair", "a->b")))
	assert.Equal(t, 500, HTTPStatusCode(errors.New("x")))

	resp := ToHTTPResponse(NewNotFoundError("job", "abc"))
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	assert.Equal(t, KindValidation, resp.Error.Kind)
	assert.Equal(t, "job not found", resp.Error.Message)
}

func TestIsCredentialError(t *testing.T) {
	assert.True(t, IsCredentialError(NewCredentialError("telegram", 1, nil)))
	assert.True(t, IsCredentialError(NewAPIError("discord", 403, nil)))
	assert.False(t, IsCredentialError(NewAPIError("discord", 404, nil)))
	assert.False(t, IsCredentialError(NewAPIError("discord", 503, nil)))
	assert.False(t, IsCredentialError(fmt.Errorf("plain")))
}

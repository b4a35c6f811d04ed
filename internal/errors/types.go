package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents a categorized error type
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// Database errors
	ErrCodeDatabaseQuery     ErrorCode = "DATABASE_QUERY"
	ErrCodeDatabaseMigration ErrorCode = "DATABASE_MIGRATION"

	// Plan and validation errors
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodePlanLimit        ErrorCode = "PLAN_LIMIT"
	ErrCodeFeatureDisabled  ErrorCode = "FEATURE_NOT_IN_PLAN"
	ErrCodePlatformPair     ErrorCode = "PLATFORM_PAIR_NOT_ALLOWED"
	ErrCodeDuplicate        ErrorCode = "DUPLICATE"

	// Messaging platform errors
	ErrCodeDisconnected      ErrorCode = "SESSION_DISCONNECTED"
	ErrCodeRateLimit         ErrorCode = "RATE_LIMIT"
	ErrCodeInvalidCredential ErrorCode = "INVALID_CREDENTIAL"
	ErrCodeBanned            ErrorCode = "BANNED"
	ErrCodeTwoFactorRequired ErrorCode = "TWO_FACTOR_REQUIRED"
	ErrCodePlatformAPI       ErrorCode = "PLATFORM_API"

	// Queue errors
	ErrCodeBroker    ErrorCode = "BROKER"
	ErrCodeTimeLimit ErrorCode = "TIME_LIMIT"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeTimeout       ErrorCode = "TIMEOUT"
)

// Kind groups error codes by how the queue reacts to them.
type Kind string

const (
	KindValidation Kind = "validation"
	KindTransient  Kind = "transient"
	KindPermanent  Kind = "permanent"
	KindInternal   Kind = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Code        ErrorCode              `json:"code"`
	Kind        Kind                   `json:"kind"`
	Message     string                 `json:"message"`
	Cause       error                  `json:"-"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Retryable   bool                   `json:"retryable"`
	UserMessage string                 `json:"user_message,omitempty"`
	RetryAfter  time.Duration          `json:"retry_after,omitempty"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithUserMessage sets a user-friendly message
func (e *AppError) WithUserMessage(msg string) *AppError {
	e.UserMessage = msg
	return e
}

// WithRetryAfter records a server-provided wait before the next attempt.
func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	e.RetryAfter = d
	return e
}

// New creates a new AppError of kind internal
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Kind:    KindInternal,
		Message: message,
	}
}

// NewKind creates a new AppError of the given kind
func NewKind(kind Kind, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Kind:      kind,
		Message:   message,
		Retryable: kind == KindTransient,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Kind:    KindInternal,
		Message: message,
		Cause:   err,
	}
}

// WrapRetryable wraps an error and marks it as transient
func WrapRetryable(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Kind:      KindTransient,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// WrapPermanent wraps an error that no retry can fix
func WrapPermanent(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Kind:    KindPermanent,
		Message: message,
		Cause:   err,
	}
}

// As returns the first AppError in the chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if appErr, ok := As(err); ok {
		return appErr.Retryable
	}
	return false
}

// IsPermanent reports whether an error must not be retried
func IsPermanent(err error) bool {
	return KindOf(err) == KindPermanent
}

// IsCredentialError reports whether the platform rejected the identity itself,
// so the linked account needs to be verified again.
func IsCredentialError(err error) bool {
	if !IsPermanent(err) {
		return false
	}
	switch GetCode(err) {
	case ErrCodeInvalidCredential, ErrCodeBanned, ErrCodeTwoFactorRequired:
		return true
	default:
		return false
	}
}

// KindOf returns the kind of an error, internal for foreign errors
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ErrCodeInternalError
}

// GetRetryAfter extracts the server-provided wait, zero when absent
func GetRetryAfter(err error) time.Duration {
	if appErr, ok := As(err); ok {
		return appErr.RetryAfter
	}
	return 0
}

// GetUserMessage extracts a user-friendly message from an error
func GetUserMessage(err error) string {
	if appErr, ok := As(err); ok && appErr.UserMessage != "" {
		return appErr.UserMessage
	}
	return "An internal error occurred"
}

package errors

import (
	"fmt"
	"net/http"
	"time"
)

// Common error creators for frequent use cases

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return NewKind(KindValidation, ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewPlanLimitError reports a numeric plan limit that would be exceeded
func NewPlanLimitError(plan, limitName string, limit int) *AppError {
	return NewKind(KindValidation, ErrCodePlanLimit,
		fmt.Sprintf("plan %s allows at most %d %s", plan, limit, limitName)).
		WithContext("plan", plan).
		WithContext("limit_name", limitName).
		WithContext("limit", limit).
		WithUserMessage(fmt.Sprintf("Your %s plan allows at most %d %s", plan, limit, limitName))
}

// NewFeatureError reports a feature that is not part of the caller's plan
func NewFeatureError(plan, feature string) *AppError {
	return NewKind(KindValidation, ErrCodeFeatureDisabled,
		fmt.Sprintf("feature %s is not available on plan %s", feature, plan)).
		WithContext("plan", plan).
		WithContext("feature", feature).
		WithUserMessage(fmt.Sprintf("%s requires a higher plan", feature))
}

// NewPlatformPairError reports a platform combination the plan does not allow
func NewPlatformPairError(plan, pairType string) *AppError {
	return NewKind(KindValidation, ErrCodePlatformPair,
		fmt.Sprintf("pair type %s is not available on plan %s", pairType, plan)).
		WithContext("plan", plan).
		WithContext("pair_type", pairType)
}

// NewDuplicateError reports an entity that already exists
func NewDuplicateError(resource, identifier string) *AppError {
	return NewKind(KindValidation, ErrCodeDuplicate, fmt.Sprintf("%s already exists", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier)
}

// NewTransientError wraps an operational failure that a retry may fix
func NewTransientError(code ErrorCode, message string, err error) *AppError {
	return WrapRetryable(err, code, message)
}

// NewRateLimitError creates an external rate limit error
func NewRateLimitError(service string, retryAfter time.Duration) *AppError {
	return NewKind(KindTransient, ErrCodeRateLimit, fmt.Sprintf("%s rate limit exceeded", service)).
		WithContext("service", service).
		WithRetryAfter(retryAfter).
		WithUserMessage("Too many requests, please try again later")
}

// NewPermanentError wraps a failure that no retry can fix
func NewPermanentError(code ErrorCode, message string, err error) *AppError {
	return WrapPermanent(err, code, message)
}

// NewCredentialError reports a rejected credential for a linked account
func NewCredentialError(platform string, accountID int64, err error) *AppError {
	return WrapPermanent(err, ErrCodeInvalidCredential, fmt.Sprintf("%s credential rejected", platform)).
		WithContext("platform", platform).
		WithContext("account_id", accountID).
		WithUserMessage("The linked account must be verified again")
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return NewKind(KindTransient, ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return NewKind(KindValidation, ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewInternalError converts an unexpected failure into an AppError
func NewInternalError(message string, err error) *AppError {
	return Wrap(err, ErrCodeInternalError, message)
}

// NewAPIError classifies a failed platform API call by HTTP status
func NewAPIError(platform string, statusCode int, err error) *AppError {
	switch {
	case statusCode == http.StatusUnauthorized:
		return WrapPermanent(err, ErrCodeInvalidCredential, fmt.Sprintf("%s rejected the credential", platform)).
			WithContext("platform", platform).
			WithContext("status_code", statusCode)
	case statusCode == http.StatusForbidden:
		return WrapPermanent(err, ErrCodeBanned, fmt.Sprintf("%s refused access", platform)).
			WithContext("platform", platform).
			WithContext("status_code", statusCode)
	case statusCode == http.StatusTooManyRequests:
		return WrapRetryable(err, ErrCodeRateLimit, fmt.Sprintf("%s rate limit exceeded", platform)).
			WithContext("platform", platform).
			WithContext("status_code", statusCode)
	case statusCode >= 500 || statusCode == http.StatusRequestTimeout || statusCode == 0:
		return WrapRetryable(err, ErrCodePlatformAPI, fmt.Sprintf("%s API call failed", platform)).
			WithContext("platform", platform).
			WithContext("status_code", statusCode)
	default:
		return WrapPermanent(err, ErrCodePlatformAPI, fmt.Sprintf("%s API call rejected", platform)).
			WithContext("platform", platform).
			WithContext("status_code", statusCode)
	}
}

// HTTP helpers

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodePlanLimit, ErrCodeFeatureDisabled, ErrCodePlatformPair:
		return http.StatusForbidden
	case ErrCodeDuplicate:
		return http.StatusConflict
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeTimeout:
		return http.StatusRequestTimeout
	case ErrCodeBroker, ErrCodeDatabaseQuery:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the error body of the status server
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode `json:"code"`
		Kind    Kind      `json:"kind"`
		Message string    `json:"message"`
	} `json:"error"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error) HTTPErrorResponse {
	var response HTTPErrorResponse
	response.Error.Code = GetCode(err)
	response.Error.Kind = KindOf(err)
	response.Error.Message = GetUserMessage(err)
	return response
}

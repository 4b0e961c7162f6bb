package domain

import (
	"errors"
	"fmt"
	"time"
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeInvalidDrug      = "INVALID_DRUG"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeDatabaseError    = "DATABASE_ERROR"
	ErrCodeNotRecorded      = "NOT_RECORDED"
	ErrCodeModelUnavailable = "MODEL_UNAVAILABLE"
	ErrCodeExternalAPI      = "EXTERNAL_API_ERROR"
	ErrCodeInternalServer   = "INTERNAL_SERVER_ERROR"
	ErrCodeValidation       = "VALIDATION_ERROR"
)

// Sentinel errors shared across packages
var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidDrug           = errors.New("invalid drug name")
	ErrAuditWrite            = errors.New("audit write failed")
	ErrNotRecorded           = errors.New("case was not recorded in the audit log")
	ErrIndexUnavailable      = errors.New("similarity index unavailable")
	ErrClassifierUnavailable = errors.New("classifier unavailable")
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// IsValidationError reports whether err carries a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAPIError(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		message   string
		details   string
		requestID string
	}{
		{
			name:      "Invalid drug",
			code:      ErrCodeInvalidDrug,
			message:   "Invalid drug name 'xyzzy'",
			details:   "RxNorm and openFDA returned no match",
			requestID: "req-123",
		},
		{
			name:      "Not recorded",
			code:      ErrCodeNotRecorded,
			message:   "Case was not recorded",
			details:   "database is locked",
			requestID: "req-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewAPIError(tt.code, tt.message, tt.details, tt.requestID)

			if err.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, err.Code)
			}
			if err.Message != tt.message {
				t.Errorf("Expected message %s, got %s", tt.message, err.Message)
			}
			if err.Details != tt.details {
				t.Errorf("Expected details %s, got %s", tt.details, err.Details)
			}
			if err.RequestID != tt.requestID {
				t.Errorf("Expected requestID %s, got %s", tt.requestID, err.RequestID)
			}
			if time.Since(err.Timestamp) > time.Minute {
				t.Errorf("Timestamp should be recent, got %v", err.Timestamp)
			}

			expectedError := tt.code + ": " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("drugname", "must not be empty", "")

	if err.Field != "drugname" {
		t.Errorf("Expected field drugname, got %s", err.Field)
	}
	expected := "validation error for field 'drugname': must not be empty"
	if err.Error() != expected {
		t.Errorf("Expected error string %s, got %s", expected, err.Error())
	}

	wrapped := fmt.Errorf("processing report: %w", err)
	if !IsValidationError(wrapped) {
		t.Error("Expected wrapped validation error to be detected")
	}
	if IsValidationError(errors.New("plain")) {
		t.Error("Plain error must not be reported as validation error")
	}
}

func TestSentinelWrapping(t *testing.T) {
	err := fmt.Errorf("%w: %v", ErrAuditWrite, errors.New("disk I/O error"))
	if !errors.Is(err, ErrAuditWrite) {
		t.Error("Expected ErrAuditWrite to survive wrapping")
	}
}

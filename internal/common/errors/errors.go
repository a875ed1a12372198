// Package errors provides the error taxonomy shared by the capsule notifier.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Fatal errors abort the whole invocation.
const (
	ErrCodeCapsuleScanFailed  ErrorCode = "CAPSULE_SCAN_FAILED"
	ErrCodeTokenSigningFailed ErrorCode = "TOKEN_SIGNING_FAILED"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
)

// Per-capsule errors are counted and logged, never propagated.
const (
	ErrCodeProfileLookupFailed ErrorCode = "PROFILE_LOOKUP_FAILED"
	ErrCodeDeviceTokenMissing  ErrorCode = "DEVICE_TOKEN_MISSING"
	ErrCodePushRejected        ErrorCode = "PUSH_REJECTED"
	ErrCodePushTransportFailed ErrorCode = "PUSH_TRANSPORT_FAILED"
	ErrCodeMarkNotifiedFailed  ErrorCode = "MARK_NOTIFIED_FAILED"
	ErrCodeCapsuleClaimFailed  ErrorCode = "CAPSULE_CLAIM_FAILED"
)

const ErrCodeInternal ErrorCode = "INTERNAL_ERROR"

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata returns the error with an extra metadata entry.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newError(code ErrorCode, message string, retryable bool, cause error) *StandardError {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewCapsuleScanFailedError is returned when the due-capsule query cannot run.
func NewCapsuleScanFailedError(err error) *StandardError {
	return newError(ErrCodeCapsuleScanFailed, "Capsule query error", true, err)
}

// NewTokenSigningFailedError is returned when no provider token can be produced.
func NewTokenSigningFailedError(err error) *StandardError {
	return newError(ErrCodeTokenSigningFailed, "APNs token signing failed", false, err)
}

func NewInvalidInputError(details string) *StandardError {
	e := newError(ErrCodeInvalidInput, "Invalid invocation input", false, nil)
	e.Details = details
	return e
}

func NewProfileLookupFailedError(recipientID string, err error) *StandardError {
	return newError(ErrCodeProfileLookupFailed, "Recipient profile lookup failed", true, err).
		WithMetadata("recipientId", recipientID)
}

func NewDeviceTokenMissingError(recipientID string) *StandardError {
	e := newError(ErrCodeDeviceTokenMissing, "Recipient has no registered device token", false, nil)
	e.Details = fmt.Sprintf("recipientId: %s", recipientID)
	return e.WithMetadata("recipientId", recipientID)
}

// NewPushRejectedError records a non-success status returned by the push gateway.
func NewPushRejectedError(status int, reason, apnsID string) *StandardError {
	e := newError(ErrCodePushRejected, "Push gateway rejected notification", status >= 500, nil)
	e.Details = fmt.Sprintf("status: %d, reason: %s", status, reason)
	e.Metadata = map[string]interface{}{
		"status": status,
		"reason": reason,
		"apnsId": apnsID,
	}
	return e
}

func NewPushTransportFailedError(err error) *StandardError {
	return newError(ErrCodePushTransportFailed, "Push gateway request failed", true, err)
}

func NewMarkNotifiedFailedError(capsuleID string, err error) *StandardError {
	return newError(ErrCodeMarkNotifiedFailed, "Failed to mark capsule as notified", true, err).
		WithMetadata("capsuleId", capsuleID)
}

func NewCapsuleClaimFailedError(capsuleID string, err error) *StandardError {
	return newError(ErrCodeCapsuleClaimFailed, "Failed to claim capsule", true, err).
		WithMetadata("capsuleId", capsuleID)
}

// ==========================
// 4. Classification
// ==========================

var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeCapsuleScanFailed:  "CAPSULE_SCAN_FAILED",
	ErrCodeTokenSigningFailed: "TOKEN_SIGNING_FAILED",
	ErrCodeInvalidInput:       "INVALID_INPUT",
}

// CodeOf extracts the ErrorCode from anywhere in the error chain.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// IsFatal reports whether err must abort the invocation rather than a single capsule.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case ErrCodeCapsuleScanFailed, ErrCodeTokenSigningFailed, ErrCodeInvalidInput, ErrCodeInternal:
		return true
	default:
		return false
	}
}

// GetRetryCount returns how many times the workflow engine should retry a failed run.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeCapsuleScanFailed:
		return 3
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "PROFILE") || strings.Contains(codeStr, "DEVICE"):
		return "RECIPIENT"
	case strings.Contains(codeStr, "SCAN") || strings.Contains(codeStr, "MARK"):
		return "DATABASE"
	case strings.Contains(codeStr, "TOKEN"):
		return "AUTH"
	case strings.Contains(codeStr, "PUSH"):
		return "PUSH"
	case strings.Contains(codeStr, "CLAIM"):
		return "COORDINATION"
	case strings.Contains(codeStr, "INPUT"):
		return "VALIDATION"
	default:
		return "INTERNAL"
	}
}

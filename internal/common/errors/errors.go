// Package errors provides the standardized error values shared by the merge and
// ledger pipelines and their mapping onto BPMN job errors.
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

// ErrorCode identifies an error class. Codes are stable and appear in status cells,
// audit documents and BPMN error variables.
type ErrorCode string

const (
	// Run-fatal: bad rule/QR/log configuration or missing required columns.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"

	// Pair-fatal lookups.
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeTemplateNotFound ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeColumnNotFound   ErrorCode = "COLUMN_NOT_FOUND"
	ErrCodeTemplateInvalid  ErrorCode = "TEMPLATE_INVALID"

	// Collaborator failures: renderer, mail transport, ledger API, storage.
	ErrCodeExternalService   ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeStorageFailed     ErrorCode = "STORAGE_FAILED"
	ErrCodeDispatchFailed    ErrorCode = "DISPATCH_FAILED"
	ErrCodeLedgerFetchFailed ErrorCode = "LEDGER_FETCH_FAILED"
	ErrCodeTimeout           ErrorCode = "TIMEOUT_ERROR"

	// Artifact-fatal: malformed identifier inputs.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

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
	if e.Details == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
}

// Unwrap exposes the collaborator error the StandardError was built from, if any.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches another *StandardError by code, so errors.Is(err, &StandardError{Code: ...}) works.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata attaches a key/value pair and returns the receiver.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
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

// NewConfigurationError reports a rule, QR or sheet definition that cannot be used.
func NewConfigurationError(details string) *StandardError {
	return newError(ErrCodeConfiguration, "Invalid configuration", details, false, nil)
}

// NewConfigurationErrorf is NewConfigurationError with formatting.
func NewConfigurationErrorf(format string, args ...interface{}) *StandardError {
	return NewConfigurationError(fmt.Sprintf(format, args...))
}

func NewNotFoundError(what, key string) *StandardError {
	return newError(ErrCodeNotFound, fmt.Sprintf("%s not found", what), key, false, nil)
}

// NewTemplateNotFoundError reports a topic with no message template.
func NewTemplateNotFoundError(topic string) *StandardError {
	return newError(ErrCodeTemplateNotFound, "Template not found", fmt.Sprintf("topic: %s", topic), false, nil)
}

// NewColumnNotFoundError reports a header that is missing from a sheet.
func NewColumnNotFoundError(sheet, column string) *StandardError {
	return newError(ErrCodeColumnNotFound, "Column not found",
		fmt.Sprintf("sheet: %s, column: %s", sheet, column), false, nil).
		WithMetadata("column", column)
}

func NewTemplateInvalidError(topic string, err error) *StandardError {
	return newError(ErrCodeTemplateInvalid, "Template document is invalid",
		fmt.Sprintf("topic: %s, error: %v", topic, err), false, err)
}

// NewExternalServiceError wraps a failure of a remote collaborator. Retryable by the next run.
func NewExternalServiceError(service string, err error) *StandardError {
	return newError(ErrCodeExternalService, fmt.Sprintf("External service '%s' error", service), errString(err), true, err)
}

func NewStorageError(operation string, err error) *StandardError {
	return newError(ErrCodeStorageFailed, "Sheet storage error",
		fmt.Sprintf("operation: %s, error: %s", operation, errString(err)), true, err)
}

// NewDispatchFailedError wraps a mail transport failure.
func NewDispatchFailedError(provider string, err error) *StandardError {
	return newError(ErrCodeDispatchFailed, fmt.Sprintf("Message dispatch via '%s' failed", provider), errString(err), true, err)
}

func NewLedgerFetchFailedError(err error) *StandardError {
	return newError(ErrCodeLedgerFetchFailed, "Ledger transaction fetch failed", errString(err), true, err)
}

func NewTimeoutError(service string, err error) *StandardError {
	return newError(ErrCodeTimeout, fmt.Sprintf("Service '%s' timeout", service), errString(err), true, err)
}

// NewInvalidInputError reports malformed identifier or payload inputs.
func NewInvalidInputError(field, details string) *StandardError {
	return newError(ErrCodeInvalidInput, fmt.Sprintf("Invalid input for %s", field), details, false, nil).
		WithMetadata("field", field)
}

// NewInternalError wraps anything that is not already a StandardError.
func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", errString(err), false, err)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ==========================
// 4. Inspection Helpers
// ==========================

// AsStandard returns err as a *StandardError, wrapping foreign errors as INTERNAL_ERROR.
func AsStandard(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

// HasCode reports whether any StandardError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if !stderrors.As(err, &stdErr) {
		return false
	}
	return stdErr.Code == code
}

// IsConfiguration reports a run-fatal error.
func IsConfiguration(err error) bool {
	return HasCode(err, ErrCodeConfiguration)
}

// IsNotFound covers every lookup-miss code.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound) ||
		HasCode(err, ErrCodeTemplateNotFound) ||
		HasCode(err, ErrCodeColumnNotFound)
}

// ==========================
// 5. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the job retry budget for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeExternalService, ErrCodeStorageFailed, ErrCodeLedgerFetchFailed, ErrCodeDispatchFailed:
		return 3
	case ErrCodeTimeout:
		return 2
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"errorCategory": GetErrorCategory(stdErr.Code),
			"timestamp":     stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory groups codes for logs and metrics labels.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case code == ErrCodeConfiguration:
		return "CONFIGURATION"
	case strings.Contains(codeStr, "TEMPLATE"):
		return "TEMPLATE"
	case strings.HasSuffix(codeStr, "NOT_FOUND"):
		return "LOOKUP"
	case code == ErrCodeStorageFailed:
		return "STORAGE"
	case code == ErrCodeDispatchFailed:
		return "DISPATCH"
	case strings.Contains(codeStr, "LEDGER"):
		return "LEDGER"
	case code == ErrCodeExternalService || code == ErrCodeTimeout:
		return "EXTERNAL"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}

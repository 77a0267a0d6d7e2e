// Package errors provides standardized error handling for the pipeline engine.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Configuration errors are fatal: the process should not start.
	ErrCodeRuleValidationFailed    ErrorCode = "RULE_VALIDATION_FAILED"
	ErrCodeUnknownStage            ErrorCode = "UNKNOWN_STAGE"
	ErrCodeInvalidTargetSubstage   ErrorCode = "INVALID_TARGET_SUBSTAGE"
	ErrCodeOverrideValidationFailed ErrorCode = "OVERRIDE_VALIDATION_FAILED"

	// Data-layer errors are transient and retryable on the next run.
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"
	ErrCodeTransactionFailed        ErrorCode = "TRANSACTION_FAILED"
	ErrCodeHistoryInsertFailed      ErrorCode = "HISTORY_INSERT_FAILED"

	// Concurrency outcomes are benign: the row moved under us.
	ErrCodeSubstageConflict  ErrorCode = "SUBSTAGE_CONFLICT"
	ErrCodeCandidateNotFound ErrorCode = "CANDIDATE_NOT_FOUND"

	// Schema capability outcomes disable a stage rather than fail the run.
	ErrCodeMissingColumns ErrorCode = "MISSING_COLUMNS"

	// Auxiliary store errors never fail a run.
	ErrCodeAuditMirrorFailed ErrorCode = "AUDIT_MIRROR_FAILED"
	ErrCodeRunRecordFailed   ErrorCode = "RUN_RECORD_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewRuleValidationFailedError creates a fatal rule configuration error.
func NewRuleValidationFailedError(stage, fromSubstage, toSubstage string) *StandardError {
	return &StandardError{
		Code:    ErrCodeRuleValidationFailed,
		Message: "Transition rule targets a substage not present in the stage catalog",
		Details: fmt.Sprintf("stage: %s, from: %s, to: %s", stage, fromSubstage, toSubstage),
		Metadata: map[string]interface{}{
			"stage":        stage,
			"fromSubstage": fromSubstage,
			"toSubstage":   toSubstage,
		},
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnknownStageError creates a fatal error for a rule keyed on an unknown stage.
func NewUnknownStageError(stage string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnknownStage,
		Message:   "Stage is not present in the pipeline catalog",
		Details:   fmt.Sprintf("stage: %s", stage),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewOverrideValidationFailedError creates a fatal rule override file error.
func NewOverrideValidationFailedError(path, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeOverrideValidationFailed,
		Message:   "Rule override file failed schema validation",
		Details:   fmt.Sprintf("path: %s, errors: %s", path, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(stage string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Candidate query execution error",
		Details:   fmt.Sprintf("stage: %s, error: %s", stage, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryTimeoutError creates a retryable query timeout error.
func NewQueryTimeoutError(stage string) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryTimeout,
		Message:   "Candidate query timeout",
		Details:   fmt.Sprintf("stage: %s", stage),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransactionFailedError creates a retryable transaction error.
func NewTransactionFailedError(candidateID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransactionFailed,
		Message:   "Transition transaction failed",
		Details:   fmt.Sprintf("candidateId: %s, error: %s", candidateID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewHistoryInsertFailedError creates a retryable audit insert error.
func NewHistoryInsertFailedError(candidateID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeHistoryInsertFailed,
		Message:   "Stage history insert failed",
		Details:   fmt.Sprintf("candidateId: %s, error: %s", candidateID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSubstageConflictError creates a benign concurrency skip.
// The candidate's substage changed between read and write.
func NewSubstageConflictError(candidateID, expected string) *StandardError {
	return &StandardError{
		Code:    ErrCodeSubstageConflict,
		Message: "Candidate substage changed since snapshot",
		Details: fmt.Sprintf("candidateId: %s, expected: %s", candidateID, expected),
		Metadata: map[string]interface{}{
			"candidateId": candidateID,
			"expected":    expected,
		},
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCandidateNotFoundError creates a benign not-found skip.
func NewCandidateNotFoundError(candidateID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeCandidateNotFound,
		Message:   "Candidate no longer exists or is no longer active",
		Details:   fmt.Sprintf("candidateId: %s", candidateID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMissingColumnsError creates a stage capability error.
func NewMissingColumnsError(stage string, columns []string) *StandardError {
	return &StandardError{
		Code:    ErrCodeMissingColumns,
		Message: "Stage disabled: required columns missing from schema",
		Details: fmt.Sprintf("stage: %s, columns: %s", stage, strings.Join(columns, ", ")),
		Metadata: map[string]interface{}{
			"stage":   stage,
			"columns": columns,
		},
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAuditMirrorFailedError creates a non-fatal audit mirror error.
func NewAuditMirrorFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuditMirrorFailed,
		Message:   "Audit mirror write failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRunRecordFailedError creates a non-fatal run record error.
func NewRunRecordFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeRunRecordFailed,
		Message:   "Run record write failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// IsRetryable reports whether the error should be retried on a later run.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// IsConflict reports whether the error is a benign concurrency skip.
func IsConflict(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code == ErrCodeSubstageConflict
	}
	return false
}

// IsNotFound reports whether the error is a benign not-found skip.
func IsNotFound(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code == ErrCodeCandidateNotFound
	}
	return false
}

// IsFatal reports whether the error should abort startup.
func IsFatal(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		switch stdErr.Code {
		case ErrCodeRuleValidationFailed, ErrCodeUnknownStage, ErrCodeOverrideValidationFailed:
			return true
		}
	}
	return false
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "RULE") || strings.Contains(codeStr, "STAGE") || strings.Contains(codeStr, "OVERRIDE"):
		return "CONFIGURATION"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY") || strings.Contains(codeStr, "TRANSACTION") || strings.Contains(codeStr, "HISTORY"):
		return "DATABASE"
	case strings.Contains(codeStr, "CONFLICT") || strings.Contains(codeStr, "NOT_FOUND"):
		return "CONCURRENCY"
	case strings.Contains(codeStr, "COLUMNS"):
		return "SCHEMA"
	case strings.Contains(codeStr, "AUDIT") || strings.Contains(codeStr, "RUN_RECORD"):
		return "AUXILIARY"
	default:
		return "OTHER"
	}
}

// Package errors provides the orchestrator's error taxonomy and its mapping
// onto BPMN errors for the Camunda job workers.
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

// Kind is the coarse class an error belongs to. Pipeline decisions are made on
// the kind; codes exist for operators and BPMN mapping.
type Kind string

const (
	KindValidation    Kind = "ValidationError"
	KindAmbiguous     Kind = "ResolutionAmbiguous"
	KindTransient     Kind = "TransientBackendError"
	KindPermanent     Kind = "PermanentBackendError"
	KindConfiguration Kind = "ConfigurationError"
	KindInternal      Kind = "InternalError"
)

const (
	ErrCodePayloadInvalid   ErrorCode = "PAYLOAD_INVALID"
	ErrCodeUnknownKind      ErrorCode = "UNKNOWN_TRANSACTION_KIND"
	ErrCodeUnknownSource    ErrorCode = "UNKNOWN_SOURCE"
	ErrCodeMissingPremium   ErrorCode = "MISSING_PREMIUM"
	ErrCodeTemplateField    ErrorCode = "TEMPLATE_FIELD_MISSING"
	ErrCodeAmbiguousMatch   ErrorCode = "AMBIGUOUS_MATCH"
	ErrCodeBackendTransient ErrorCode = "BACKEND_TRANSIENT"
	ErrCodeBackendTimeout   ErrorCode = "BACKEND_TIMEOUT"
	ErrCodeBackendRejected  ErrorCode = "BACKEND_REJECTED"
	ErrCodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"
	ErrCodeMissingDefault   ErrorCode = "MISSING_SOURCE_DEFAULT"
	ErrCodeTemplateNotFound ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeStrategyUnknown  ErrorCode = "RATING_STRATEGY_UNKNOWN"
	ErrCodeStoreFailed      ErrorCode = "STORE_OPERATION_FAILED"
	ErrCodeTransactionBusy  ErrorCode = "TRANSACTION_BUSY"
	ErrCodeNotFound         ErrorCode = "TRANSACTION_NOT_FOUND"
	ErrCodeIncomplete       ErrorCode = "REQUIRED_REFS_MISSING"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Kind      Kind                   `json:"kind"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Stage     string                 `json:"stage,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s[%s]: %s: %s", e.Kind, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithStage returns a copy tagged with the stage it failed in.
func (e *StandardError) WithStage(stage string) *StandardError {
	cp := *e
	cp.Stage = stage
	return &cp
}

// Describe is the operator-facing one-liner stored as a transaction's lastError.
func (e *StandardError) Describe() string {
	var b strings.Builder
	if e.Stage != "" {
		b.WriteString("stage ")
		b.WriteString(e.Stage)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Details != "" {
		b.WriteString(" (")
		b.WriteString(e.Details)
		b.WriteString(")")
	}
	return b.String()
}

func newError(kind Kind, code ErrorCode, retryable bool, message, details string, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Kind:      kind,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// ==========================
// 2. Constructors
// ==========================

// NewValidationError reports a malformed or incomplete payload.
func NewValidationError(code ErrorCode, details string) *StandardError {
	return newError(KindValidation, code, false, "Payload validation failed", details, nil)
}

func NewAmbiguousMatchError(kind, query, candidate string, score float64) *StandardError {
	return newError(KindAmbiguous, ErrCodeAmbiguousMatch, false,
		fmt.Sprintf("Ambiguous %s match", kind),
		fmt.Sprintf("query %q matched %q with score %.2f", query, candidate, score), nil)
}

// NewTransientBackendError wraps a failure the backend may recover from.
func NewTransientBackendError(operation string, err error) *StandardError {
	return newError(KindTransient, ErrCodeBackendTransient, true,
		fmt.Sprintf("Backend operation '%s' failed transiently", operation), errDetails(err), err)
}

func NewBackendTimeoutError(operation string, err error) *StandardError {
	return newError(KindTransient, ErrCodeBackendTimeout, true,
		fmt.Sprintf("Backend operation '%s' timed out", operation), errDetails(err), err)
}

// NewPermanentBackendError wraps a rejection that will not succeed on retry.
func NewPermanentBackendError(operation string, err error) *StandardError {
	return newError(KindPermanent, ErrCodeBackendRejected, false,
		fmt.Sprintf("Backend operation '%s' rejected", operation), errDetails(err), err)
}

// NewRetriesExhaustedError converts a transient failure that ran out of attempts.
func NewRetriesExhaustedError(attempts int, err error) *StandardError {
	return newError(KindPermanent, ErrCodeRetriesExhausted, false,
		fmt.Sprintf("Gave up after %d attempts", attempts), errDetails(err), err)
}

func NewConfigurationError(code ErrorCode, details string) *StandardError {
	return newError(KindConfiguration, code, false, "Configuration is incomplete", details, nil)
}

func NewStoreError(operation string, err error) *StandardError {
	return newError(KindTransient, ErrCodeStoreFailed, true,
		fmt.Sprintf("Transaction store '%s' failed", operation), errDetails(err), err)
}

func NewNotFoundError(id string) *StandardError {
	return newError(KindPermanent, ErrCodeNotFound, false, "Transaction not found", "id: "+id, nil)
}

func NewBusyError(id string) *StandardError {
	return newError(KindTransient, ErrCodeTransactionBusy, true,
		"Transaction is being processed by another worker", "id: "+id, nil)
}

// NewIncompleteError reports a transaction that reached the end of its stage
// plan without every required reference.
func NewIncompleteError(missing []string) *StandardError {
	return newError(KindPermanent, ErrCodeIncomplete, false,
		"Required references missing", strings.Join(missing, ", "), nil)
}

func NewInternalError(err error) *StandardError {
	return newError(KindInternal, ErrCodeInternal, false, "Unexpected error", errDetails(err), err)
}

func errDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ==========================
// 3. Inspection
// ==========================

// AsStandard unwraps err into a *StandardError when one is in the chain.
func AsStandard(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if stdErr, ok := AsStandard(err); ok {
		return stdErr.Kind
	}
	return KindInternal
}

func Is(err error, code ErrorCode) bool {
	stdErr, ok := AsStandard(err)
	return ok && stdErr.Code == code
}

// ==========================
// 4. BPMN Error Integration
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

// BPMN error codes grouped by kind so process models only catch five codes.
var bpmnCodeByKind = map[Kind]string{
	KindValidation:    "TRANSACTION_INVALID",
	KindAmbiguous:     "TRANSACTION_AMBIGUOUS",
	KindTransient:     "BACKEND_UNAVAILABLE",
	KindPermanent:     "BACKEND_REJECTED",
	KindConfiguration: "ORCHESTRATOR_MISCONFIGURED",
	KindInternal:      "INTERNAL_ERROR",
}

// GetRetryCount returns how many job retries Camunda should grant for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeBackendTransient, ErrCodeStoreFailed:
		return 3
	case ErrCodeBackendTimeout, ErrCodeTransactionBusy:
		return 2
	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, ok := bpmnCodeByKind[stdErr.Kind]
	if !ok {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	if stdErr.Stage != "" {
		vars["failedStage"] = stdErr.Stage
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// GetErrorCategory returns a coarse label for dashboards.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "BACKEND") || code == ErrCodeRetriesExhausted:
		return "BACKEND"
	case strings.Contains(codeStr, "TEMPLATE") || strings.Contains(codeStr, "DEFAULT") || strings.Contains(codeStr, "STRATEGY"):
		return "CONFIGURATION"
	case strings.Contains(codeStr, "STORE") || strings.Contains(codeStr, "TRANSACTION"):
		return "STORE"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "MISSING") || strings.Contains(codeStr, "UNKNOWN"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}

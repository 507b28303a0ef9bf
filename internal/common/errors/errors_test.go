package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardError_Describe(t *testing.T) {
	err := NewPermanentBackendError("Bind", fmt.Errorf("quote not found")).WithStage("Rated")

	assert.Equal(t, "stage Rated: PermanentBackendError: Backend operation 'Bind' rejected (quote not found)", err.Describe())
	assert.Equal(t, KindPermanent, KindOf(err))
	assert.False(t, err.Retryable)
}

func TestStandardError_WithStageCopies(t *testing.T) {
	orig := NewValidationError(ErrCodePayloadInvalid, "insured.name is required")
	tagged := orig.WithStage("Received")

	assert.Empty(t, orig.Stage)
	assert.Equal(t, "Received", tagged.Stage)
}

func TestAsStandard_Wrapped(t *testing.T) {
	inner := NewTransientBackendError("CreateQuote", context.DeadlineExceeded)
	wrapped := fmt.Errorf("stage failed: %w", inner)

	got, ok := AsStandard(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodeBackendTransient, got.Code)
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
	assert.True(t, Is(wrapped, ErrCodeBackendTransient))
}

func TestKindOf_ForeignError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(fmt.Errorf("boom")))
}

func TestConvertToBPMNError(t *testing.T) {
	tests := []struct {
		name        string
		err         *StandardError
		wantCode    string
		wantRetries int
	}{
		{"transient", NewTransientBackendError("Issue", fmt.Errorf("reset")), "BACKEND_UNAVAILABLE", 3},
		{"timeout", NewBackendTimeoutError("Issue", context.DeadlineExceeded), "BACKEND_UNAVAILABLE", 2},
		{"validation", NewValidationError(ErrCodePayloadInvalid, "x"), "TRANSACTION_INVALID", 0},
		{"configuration", NewConfigurationError(ErrCodeMissingDefault, "producer"), "ORCHESTRATOR_MISCONFIGURED", 0},
		{"exhausted", NewRetriesExhaustedError(3, fmt.Errorf("timeout")), "BACKEND_REJECTED", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bpmn := ConvertToBPMNError(tt.err.WithStage("Bound"))
			assert.Equal(t, tt.wantCode, bpmn.Code)
			assert.Equal(t, tt.wantRetries, bpmn.Retries)

			vars := bpmn.ToErrorVariables()
			assert.Equal(t, string(tt.err.Code), vars["originalErrorCode"])
			assert.Equal(t, "Bound", vars["failedStage"])
		})
	}
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "BACKEND", GetErrorCategory(ErrCodeBackendRejected))
	assert.Equal(t, "BACKEND", GetErrorCategory(ErrCodeRetriesExhausted))
	assert.Equal(t, "CONFIGURATION", GetErrorCategory(ErrCodeTemplateNotFound))
	assert.Equal(t, "STORE", GetErrorCategory(ErrCodeStoreFailed))
	assert.Equal(t, "VALIDATION", GetErrorCategory(ErrCodePayloadInvalid))
}

func TestNormalize(t *testing.T) {
	std := Normalize(fmt.Errorf("plain"))
	assert.Equal(t, ErrCodeInternal, std.Code)
	assert.Equal(t, "plain", std.Details)

	orig := NewBusyError("tx-1")
	assert.Same(t, orig, Normalize(orig))
}

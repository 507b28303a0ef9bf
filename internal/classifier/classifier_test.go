package classifier

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"policy-orchestrator/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testFault struct{ code string }

func (f *testFault) Error() string     { return "fault " + f.code }
func (f *testFault) FaultCode() string { return f.code }

type testStatus struct{ code int }

func (s *testStatus) Error() string   { return fmt.Sprintf("http %d", s.code) }
func (s *testStatus) StatusCode() int { return s.code }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"deadline", context.DeadlineExceeded, Retryable},
		{"wrapped deadline", fmt.Errorf("bind: %w", context.DeadlineExceeded), Retryable},
		{"conn reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, Retryable},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), Retryable},
		{"net timeout", timeoutErr{}, Retryable},
		{"session conflict", &testFault{"SESSION_CONFLICT"}, Retryable},
		{"record locked lowercase", &testFault{"record_locked"}, Retryable},
		{"validation fault", &testFault{"MISSING_REQUIRED_FIELD"}, Permanent},
		{"http 503", &testStatus{503}, Retryable},
		{"http 400", &testStatus{400}, Permanent},
		{"phrase", fmt.Errorf("upstream unavailable"), Retryable},
		{"unknown", fmt.Errorf("malformed request"), Permanent},
		{"validation error", errors.NewValidationError(errors.ErrCodePayloadInvalid, "x"), Permanent},
		{"configuration error", errors.NewConfigurationError(errors.ErrCodeMissingDefault, "x"), Permanent},
		{"transient standard", errors.NewTransientBackendError("Issue", fmt.Errorf("x")), Retryable},
		{"exhausted wraps transient", errors.NewRetriesExhaustedError(3, errors.NewTransientBackendError("Bind", context.DeadlineExceeded)), Permanent},
		{"internal wrapper looked through", errors.NewInternalError(context.DeadlineExceeded), Retryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassifyBestEffort(t *testing.T) {
	assert.Equal(t, Ignorable, ClassifyBestEffort(&testFault{"MISSING_REQUIRED_FIELD"}))
	assert.Equal(t, Ignorable, ClassifyBestEffort(context.DeadlineExceeded))
}

func TestPolicy_Backoff(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 5*time.Second, p.Backoff(1))
	assert.Equal(t, 10*time.Second, p.Backoff(2))
	assert.Equal(t, 20*time.Second, p.Backoff(3))
	assert.Equal(t, 2*time.Minute, p.Backoff(10))
	assert.Equal(t, 5*time.Second, p.Backoff(0))
}

func TestPolicy_Decide(t *testing.T) {
	p := DefaultPolicy()

	d := p.Decide(context.DeadlineExceeded, 1)
	assert.True(t, d.Retry)
	assert.Equal(t, Retryable, d.Class)
	assert.Equal(t, 5*time.Second, d.Delay)

	d = p.Decide(context.DeadlineExceeded, 3)
	assert.False(t, d.Retry)
	assert.Equal(t, Permanent, d.Class)
	assert.Equal(t, errors.ErrCodeRetriesExhausted, d.Err.Code)

	d = p.Decide(&testFault{"QUOTE_NOT_FOUND"}, 1)
	assert.False(t, d.Retry)
	assert.Equal(t, errors.KindPermanent, d.Err.Kind)
}

func TestPolicy_CallAppliesTimeout(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, CallTimeout: 20 * time.Millisecond}

	err := p.Call(context.Background(), "Bind", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeBackendTimeout))
	assert.Equal(t, Retryable, Classify(err))
}

func TestPolicy_CallWrapsPermanent(t *testing.T) {
	p := DefaultPolicy()
	err := p.Call(context.Background(), "CreateQuote", func(context.Context) error {
		return &testFault{"INVALID_CLASS"}
	})
	std, ok := errors.AsStandard(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindPermanent, std.Kind)
	assert.Contains(t, std.Message, "CreateQuote")

	assert.NoError(t, p.Call(context.Background(), "Issue", func(context.Context) error { return nil }))
}

// Package classifier decides whether a failed backend call should be retried,
// failed permanently or ignored, and runs calls under a per-call timeout.
package classifier

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"policy-orchestrator/internal/common/errors"
)

// Class is the retry decision for an error.
type Class int

const (
	Permanent Class = iota
	Retryable
	Ignorable
)

func (c Class) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case Ignorable:
		return "ignorable"
	default:
		return "permanent"
	}
}

// TransientFaultCodes are backend fault codes known to clear on their own.
var TransientFaultCodes = map[string]bool{
	"SESSION_CONFLICT":    true,
	"SESSION_EXPIRED":     true,
	"BACKEND_BUSY":        true,
	"RECORD_LOCKED":       true,
	"SERVICE_UNAVAILABLE": true,
}

// faultCoder is implemented by backend faults carrying a code.
type faultCoder interface {
	FaultCode() string
}

// statusCoder is implemented by transport errors carrying an HTTP status.
type statusCoder interface {
	StatusCode() int
}

var retryablePhrases = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"deadline exceeded",
	"unavailable",
	"unreachable",
	"broken pipe",
}

// Classify maps any error onto Retryable or Permanent. Ignorable is only ever
// produced by ClassifyBestEffort.
func Classify(err error) Class {
	if err == nil {
		return Permanent
	}

	// Classified errors keep their verdict; only internal wrappers of foreign
	// errors are looked through.
	if stdErr, ok := errors.AsStandard(err); ok && stdErr.Kind != errors.KindInternal {
		if stdErr.Retryable {
			return Retryable
		}
		return Permanent
	}

	var fc faultCoder
	if stderrors.As(err, &fc) {
		if TransientFaultCodes[strings.ToUpper(fc.FaultCode())] {
			return Retryable
		}
		return Permanent
	}

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return Retryable
	}
	if stderrors.Is(err, syscall.ECONNRESET) || stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.EPIPE) || stderrors.Is(err, io.ErrUnexpectedEOF) {
		return Retryable
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return Retryable
	}

	var sc statusCoder
	if stderrors.As(err, &sc) {
		switch sc.StatusCode() {
		case 429, 502, 503, 504:
			return Retryable
		}
		return Permanent
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range retryablePhrases {
		if strings.Contains(msg, phrase) {
			return Retryable
		}
	}
	return Permanent
}

// ClassifyBestEffort is used for post-stage actions whose failure never blocks
// the stage.
func ClassifyBestEffort(err error) Class {
	if err == nil {
		return Permanent
	}
	return Ignorable
}

// Policy bounds how often and how fast a stage is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	CallTimeout time.Duration
}

// DefaultPolicy is 3 attempts, 5s base backoff and a 30s per-call timeout.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		MaxDelay:    2 * time.Minute,
		CallTimeout: 30 * time.Second,
	}
}

// Backoff returns the delay after the given failed attempt (1-based):
// base * 2^(attempt-1), capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Exhausted reports whether attempts failed attempts use up the budget.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Decision is what the pipeline should do after a failed attempt.
type Decision struct {
	Class Class
	Retry bool
	Delay time.Duration
	Err   *errors.StandardError
}

// Decide classifies err given the number of failed attempts so far, including
// this one. A retryable error that exhausts the budget becomes permanent.
func (p Policy) Decide(err error, attempts int) Decision {
	class := Classify(err)
	stdErr := toStandard(err, class)

	if class == Retryable {
		if p.Exhausted(attempts) {
			return Decision{Class: Permanent, Err: errors.NewRetriesExhaustedError(attempts, stdErr)}
		}
		return Decision{Class: Retryable, Retry: true, Delay: p.Backoff(attempts), Err: stdErr}
	}
	return Decision{Class: Permanent, Err: stdErr}
}

func toStandard(err error, class Class) *errors.StandardError {
	if stdErr, ok := errors.AsStandard(err); ok {
		return stdErr
	}
	if class == Retryable {
		return errors.NewTransientBackendError("call", err)
	}
	return errors.NewPermanentBackendError("call", err)
}

// Call runs fn under the policy's per-call timeout and returns the error as a
// *errors.StandardError whose kind matches its classification.
func (p Policy) Call(ctx context.Context, operation string, fn func(context.Context) error) error {
	callCtx := ctx
	if p.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
		defer cancel()
	}

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if stdErr, ok := errors.AsStandard(err); ok && stdErr.Kind != errors.KindInternal {
		return stdErr
	}

	switch Classify(err) {
	case Retryable:
		if stderrors.Is(err, context.DeadlineExceeded) {
			return errors.NewBackendTimeoutError(operation, err)
		}
		return errors.NewTransientBackendError(operation, err)
	default:
		return errors.NewPermanentBackendError(operation, err)
	}
}

package apperrors

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestAppErrorErrorStringIncludesWrapped(t *testing.T) {
	base := errors.New("connection refused")
	err := NewError(ErrorTypeProvider, SeverityHigh, "CREATE_TEMPLATE", "create block template").WithError(base)

	msg := err.Error()
	if msg != "CREATE_TEMPLATE: create block template: connection refused" {
		t.Fatalf("Error() = %q", msg)
	}
	if !errors.Is(err, base) {
		t.Fatal("Unwrap must expose the wrapped error for errors.Is")
	}
}

func TestAppErrorWithoutWrappedOmitsSuffix(t *testing.T) {
	err := NewError(ErrorTypeShare, SeverityLow, "UNKNOWN_JOB", "stale job")
	if err.Error() != "UNKNOWN_JOB: stale job" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestWithContextAndDetails(t *testing.T) {
	err := NewError(ErrorTypeSystem, SeverityCritical, "INTERNAL", "oops").
		WithContext("job_id", "abc").
		WithDetails(map[string]int{"n": 1})

	if err.Context["job_id"] != "abc" {
		t.Fatal("WithContext must record the key/value")
	}
	if err.Details == nil {
		t.Fatal("WithDetails must record the details payload")
	}
}

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, 50*time.Millisecond)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if cb.IsOpen() {
		t.Fatal("circuit must stay closed before reaching maxFailures")
	}

	cb.RecordFailure()
	if !cb.IsOpen() {
		t.Fatal("circuit must open once failures reach maxFailures")
	}
}

func TestCircuitBreakerHalfOpensAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(2, 10*time.Millisecond)
	cb.RecordFailure()
	cb.RecordFailure()
	if !cb.IsOpen() {
		t.Fatal("circuit should be open after maxFailures")
	}

	time.Sleep(20 * time.Millisecond)
	if cb.IsOpen() {
		t.Fatal("circuit must transition to half-open once the timeout elapses, reporting closed-for-probing")
	}

	cb.RecordSuccess()
	cb.RecordSuccess()
	if cb.state != CircuitClosed {
		t.Fatal("enough successes in half-open state must close the circuit")
	}
}

func TestErrorStatsRecordsByTypeAndCode(t *testing.T) {
	stats := NewErrorStats()
	stats.Record(NewError(ErrorTypeShare, SeverityLow, "UNKNOWN_JOB", "x"))
	stats.Record(NewError(ErrorTypeShare, SeverityLow, "UNKNOWN_JOB", "x"))
	stats.Record(NewError(ErrorTypeProvider, SeverityHigh, "CREATE_TEMPLATE", "y"))

	got := stats.GetStats()
	if got["share:low:UNKNOWN_JOB"] != 2 {
		t.Fatalf("UNKNOWN_JOB count = %d, want 2", got["share:low:UNKNOWN_JOB"])
	}
	if got["provider:high:CREATE_TEMPLATE"] != 1 {
		t.Fatalf("CREATE_TEMPLATE count = %d, want 1", got["provider:high:CREATE_TEMPLATE"])
	}
}

func TestErrorHandlerWrapsPlainErrors(t *testing.T) {
	h := NewErrorHandler(zap.NewNop())
	err := h.Handle(context.Background(), errors.New("boom"))
	if err == nil {
		t.Fatal("Handle must return an error when there is no recovery function registered")
	}
}

func TestErrorHandlerInvokesRegisteredRecovery(t *testing.T) {
	h := NewErrorHandler(zap.NewNop())
	var recovered bool
	h.RegisterRecovery(ErrorTypeProvider, func(ctx context.Context, err *AppError) error {
		recovered = true
		return nil
	})

	appErr := NewError(ErrorTypeProvider, SeverityHigh, "CREATE_TEMPLATE", "down")
	if err := h.Handle(context.Background(), appErr); err != nil {
		t.Fatalf("Handle should succeed once recovery returns nil: %v", err)
	}
	if !recovered {
		t.Fatal("registered recovery function must be invoked for its error type")
	}
}

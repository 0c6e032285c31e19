// Package apperrors implements the typed error taxonomy shared by the hash
// engine, sieve engine, stratum server and miner driver: configuration
// errors, transient/protocol errors, share validation errors, engine
// errors, provider errors, and internal invariant violations.
package apperrors

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrorType represents the type of error.
type ErrorType string

const (
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeProtocol      ErrorType = "protocol"
	ErrorTypeMining        ErrorType = "mining"
	ErrorTypeShare         ErrorType = "share"
	ErrorTypeProvider      ErrorType = "provider"
	ErrorTypeSystem        ErrorType = "system"
)

// ErrorSeverity represents the severity of an error.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// AppError represents an application error with context.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Severity   ErrorSeverity          `json:"severity"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    interface{}            `json:"details,omitempty"`
	StackTrace string                 `json:"stack_trace,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Context    map[string]interface{} `json:"context,omitempty"`
	wrapped    error
}

func (e *AppError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.wrapped
}

// NewError creates a new application error.
func NewError(errType ErrorType, severity ErrorSeverity, code string, message string) *AppError {
	return &AppError{
		Type:      errType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

func (e *AppError) WithError(err error) *AppError {
	e.wrapped = err
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithContext(key string, value interface{}) *AppError {
	e.Context[key] = value
	return e
}

func (e *AppError) WithStackTrace() *AppError {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	e.StackTrace = string(buf[:n])
	return e
}

// ErrorHandler manages error handling and recovery.
type ErrorHandler struct {
	logger         *zap.Logger
	circuitBreaker *CircuitBreaker
	errorStats     *ErrorStats
	recoveryFuncs  map[ErrorType]RecoveryFunc
	mu             sync.RWMutex
}

// RecoveryFunc attempts to recover from an error.
type RecoveryFunc func(ctx context.Context, err *AppError) error

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger:         logger,
		circuitBreaker: NewCircuitBreaker(5, 10*time.Second),
		errorStats:     NewErrorStats(),
		recoveryFuncs:  make(map[ErrorType]RecoveryFunc),
	}
}

// Handle processes an error with appropriate logging and recovery.
func (h *ErrorHandler) Handle(ctx context.Context, err error) error {
	appErr, ok := err.(*AppError)
	if !ok {
		appErr = NewError(ErrorTypeSystem, SeverityMedium, "UNKNOWN", err.Error()).
			WithError(err).
			WithStackTrace()
	}

	h.logError(appErr)
	h.errorStats.Record(appErr)

	if h.circuitBreaker.IsOpen() {
		return fmt.Errorf("circuit breaker open: %w", err)
	}

	if recoveryFunc := h.getRecoveryFunc(appErr.Type); recoveryFunc != nil {
		if recoveryErr := recoveryFunc(ctx, appErr); recoveryErr != nil {
			h.circuitBreaker.RecordFailure()
			return fmt.Errorf("recovery failed: %w", recoveryErr)
		}
		h.circuitBreaker.RecordSuccess()
		return nil
	}

	h.circuitBreaker.RecordFailure()
	return err
}

func (h *ErrorHandler) RegisterRecovery(errType ErrorType, fn RecoveryFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recoveryFuncs[errType] = fn
}

func (h *ErrorHandler) getRecoveryFunc(errType ErrorType) RecoveryFunc {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.recoveryFuncs[errType]
}

func (h *ErrorHandler) logError(err *AppError) {
	fields := []zap.Field{
		zap.String("type", string(err.Type)),
		zap.String("severity", string(err.Severity)),
		zap.String("code", err.Code),
		zap.Time("timestamp", err.Timestamp),
		zap.Any("context", err.Context),
	}

	if err.Details != nil {
		fields = append(fields, zap.Any("details", err.Details))
	}

	if err.StackTrace != "" && err.Severity == SeverityCritical {
		fields = append(fields, zap.String("stack_trace", err.StackTrace))
	}

	switch err.Severity {
	case SeverityCritical:
		h.logger.Error(err.Message, fields...)
	case SeverityHigh:
		h.logger.Warn(err.Message, fields...)
	case SeverityMedium:
		h.logger.Info(err.Message, fields...)
	case SeverityLow:
		h.logger.Debug(err.Message, fields...)
	}
}

// CircuitBreaker implements the circuit breaker pattern, used to stop
// retrying a provider or stratum listener that is failing repeatedly.
type CircuitBreaker struct {
	maxFailures int
	timeout     time.Duration
	failures    int
	lastFailure time.Time
	state       CircuitState
	mu          sync.Mutex
}

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func NewCircuitBreaker(maxFailures int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		state:       CircuitClosed,
	}
}

func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if time.Since(cb.lastFailure) > cb.timeout {
			cb.state = CircuitHalfOpen
			cb.failures = cb.maxFailures / 2
		}
	}

	return cb.state == CircuitOpen
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.failures--
		if cb.failures <= 0 {
			cb.state = CircuitClosed
			cb.failures = 0
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	if cb.failures >= cb.maxFailures {
		cb.state = CircuitOpen
	}
}

// ErrorStats tracks error occurrence counts by type/severity/code.
type ErrorStats struct {
	counts map[string]int64
	mu     sync.RWMutex
}

func NewErrorStats() *ErrorStats {
	return &ErrorStats{counts: make(map[string]int64)}
}

func (es *ErrorStats) Record(err *AppError) {
	es.mu.Lock()
	defer es.mu.Unlock()

	key := fmt.Sprintf("%s:%s:%s", err.Type, err.Severity, err.Code)
	es.counts[key]++
}

func (es *ErrorStats) GetStats() map[string]int64 {
	es.mu.RLock()
	defer es.mu.RUnlock()

	stats := make(map[string]int64, len(es.counts))
	for k, v := range es.counts {
		stats[k] = v
	}
	return stats
}

// Common error definitions, one per tier of the taxonomy.
var (
	ErrInvalidConfig = NewError(
		ErrorTypeConfiguration,
		SeverityHigh,
		"INVALID_CONFIG",
		"invalid configuration value",
	)

	ErrConnectionReset = NewError(
		ErrorTypeNetwork,
		SeverityLow,
		"CONNECTION_RESET",
		"client connection reset",
	)

	ErrMalformedMessage = NewError(
		ErrorTypeProtocol,
		SeverityLow,
		"MALFORMED_MESSAGE",
		"malformed JSON-RPC message",
	)

	ErrUnknownJob = NewError(
		ErrorTypeShare,
		SeverityLow,
		"UNKNOWN_JOB",
		"share references an unknown job id",
	)

	ErrLowDifficultyShare = NewError(
		ErrorTypeShare,
		SeverityLow,
		"LOW_DIFFICULTY_SHARE",
		"share does not meet the required target",
	)

	ErrEngineInitFailed = NewError(
		ErrorTypeMining,
		SeverityHigh,
		"ENGINE_INIT_FAILED",
		"mining engine failed to initialize",
	)

	ErrProviderUnavailable = NewError(
		ErrorTypeProvider,
		SeverityHigh,
		"PROVIDER_UNAVAILABLE",
		"block template provider unavailable",
	)

	ErrInternal = NewError(
		ErrorTypeSystem,
		SeverityCritical,
		"INTERNAL_ERROR",
		"internal invariant violation",
	)
)

// SafeRecover provides safe panic recovery with logging; every
// goroutine root (mining worker, client handler, broadcast loop) defers
// this so a panic never escapes and takes the process down.
func SafeRecover(logger *zap.Logger, operation string) {
	if r := recover(); r != nil {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		stackTrace := string(buf[:n])

		lines := strings.Split(stackTrace, "\n")
		var relevant []string
		for i, line := range lines {
			if strings.Contains(line, "runtime.panic") {
				for j := i; j < len(lines) && j < i+10; j++ {
					relevant = append(relevant, lines[j])
				}
				break
			}
		}

		logger.Error("panic recovered",
			zap.String("operation", operation),
			zap.Any("panic", r),
			zap.String("stack_trace", strings.Join(relevant, "\n")),
		)
	}
}

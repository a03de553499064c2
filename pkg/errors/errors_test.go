package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	err := NewError(ErrCodeCapacityExceeded, "fast tier is full")

	if err.Code != ErrCodeCapacityExceeded {
		t.Errorf("expected code %s, got %s", ErrCodeCapacityExceeded, err.Code)
	}
	if err.Category != CategoryCache {
		t.Errorf("expected category %s, got %s", CategoryCache, err.Category)
	}
	if err.Retryable {
		t.Error("CapacityExceeded should not be retryable by default")
	}
	if err.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestGetCategory(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeCapacityExceeded, CategoryCache},
		{ErrCodeUnknownTier, CategoryCache},
		{ErrCodePoolExhausted, CategoryPool},
		{ErrCodeUnknownPool, CategoryPool},
		{ErrCodeOverloaded, CategoryScheduler},
		{ErrCodeTaskTimeout, CategoryScheduler},
		{ErrCodeTaskCanceled, CategoryScheduler},
		{ErrCodeAlreadyStarted, CategoryState},
		{ErrCodeNotStarted, CategoryState},
		{ErrCodeInvalidState, CategoryState},
		{ErrCodeInternalError, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := GetCategory(tt.code); got != tt.expected {
				t.Errorf("GetCategory(%s) = %s, want %s", tt.code, got, tt.expected)
			}
		})
	}
}

func TestRetryableDefaults(t *testing.T) {
	retryable := []ErrorCode{ErrCodeOverloaded, ErrCodeQueueFull, ErrCodePoolExhausted}
	for _, code := range retryable {
		if !IsRetryableByDefault(code) {
			t.Errorf("%s should be retryable by default", code)
		}
	}

	notRetryable := []ErrorCode{ErrCodeCapacityExceeded, ErrCodeTaskTimeout, ErrCodeInvalidConfig}
	for _, code := range notRetryable {
		if IsRetryableByDefault(code) {
			t.Errorf("%s should not be retryable by default", code)
		}
	}
}

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name     string
		err      *CoordError
		expected string
	}{
		{
			name:     "code and message only",
			err:      NewError(ErrCodeOverloaded, "background rejected"),
			expected: "SCHED_OVERLOADED: background rejected",
		},
		{
			name:     "with component",
			err:      NewError(ErrCodeOverloaded, "background rejected").WithComponent("scheduler"),
			expected: "[scheduler] SCHED_OVERLOADED: background rejected",
		},
		{
			name: "with component and operation",
			err: NewError(ErrCodeCapacityExceeded, "tier full").
				WithComponent("cache").WithOperation("put"),
			expected: "[cache:put] CAPACITY_EXCEEDED: tier full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := fmt.Errorf("underlying failure")
	err := NewError(ErrCodeInternalError, "wrapper").WithCause(cause)

	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the cause through Unwrap")
	}

	target := NewError(ErrCodeInternalError, "different message")
	if !stderrors.Is(err, target) {
		t.Error("errors.Is should match on code regardless of message")
	}

	other := NewError(ErrCodeOverloaded, "wrapper")
	if stderrors.Is(err, other) {
		t.Error("errors.Is should not match different codes")
	}
}

func TestIsCode(t *testing.T) {
	inner := NewError(ErrCodeTaskTimeout, "deadline exceeded")
	wrapped := fmt.Errorf("submit failed: %w", inner)

	if !IsCode(wrapped, ErrCodeTaskTimeout) {
		t.Error("IsCode should find the code through fmt wrapping")
	}
	if IsCode(wrapped, ErrCodeOverloaded) {
		t.Error("IsCode should not match a different code")
	}
	if IsCode(nil, ErrCodeTaskTimeout) {
		t.Error("IsCode(nil) should be false")
	}
}

func TestWithDetail(t *testing.T) {
	err := NewError(ErrCodeCapacityExceeded, "tier full").
		WithDetail("tier", "fast").
		WithDetail("capacity", 128)

	if err.Details["tier"] != "fast" {
		t.Errorf("expected detail tier=fast, got %v", err.Details["tier"])
	}
	if err.Details["capacity"] != 128 {
		t.Errorf("expected detail capacity=128, got %v", err.Details["capacity"])
	}

	s := err.String()
	if !strings.Contains(s, "Code=CAPACITY_EXCEEDED") {
		t.Errorf("String() missing code: %s", s)
	}
	if !strings.Contains(s, "Details=") {
		t.Errorf("String() missing details: %s", s)
	}
}

func TestWithStack(t *testing.T) {
	err := NewError(ErrCodeInternalError, "boom").WithStack()
	if err.Stack == "" {
		t.Error("expected stack trace to be captured")
	}
	if strings.Contains(err.Stack, "errors.go") {
		t.Error("stack should not include frames from errors.go")
	}
}

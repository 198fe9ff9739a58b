package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.class.String())
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"executor unavailable", ErrExecutorUnavailable, true},
		{"cooldown conflict", ErrCooldownConflict, true},
		{"rate limited", ErrRateLimited, true},
		{"context deadline", context.DeadlineExceeded, true},
		{"wrapped transient", fmt.Errorf("dispatch: %w", ErrConnectionLost), true},
		{"message pattern", stderrors.New("dial tcp: i/o timeout"), true},
		{"invalid rule", ErrInvalidRule, false},
		{"plain error", stderrors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsInvalid(t *testing.T) {
	assert.True(t, IsInvalid(ErrInvalidEvent))
	assert.True(t, IsInvalid(ErrUnknownOperator))
	assert.True(t, IsInvalid(fmt.Errorf("evaluate: %w", ErrInvalidRule)))
	assert.False(t, IsInvalid(nil))
	assert.False(t, IsInvalid(ErrConnectionLost))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.True(t, IsFatal(ErrMissingConfig))
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(ErrRateLimited))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(nil))
	assert.Equal(t, ErrorTransient, Classify(ErrConnectionLost))
	assert.Equal(t, ErrorFatal, Classify(ErrInvalidConfig))
	assert.Equal(t, ErrorInvalid, Classify(ErrInvalidRule))
	// Unknown errors default to transient to allow retry
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("mystery")))
}

func TestWrapHelpers(t *testing.T) {
	base := stderrors.New("underlying")

	wrapped := Wrap(base, "Dispatcher", "CheckTriggers", "load triggers")
	require.Error(t, wrapped)
	assert.Contains(t, wrapped.Error(), "Dispatcher.CheckTriggers: load triggers failed")
	assert.True(t, stderrors.Is(wrapped, base))

	assert.Nil(t, Wrap(nil, "a", "b", "c"))
	assert.Nil(t, WrapTransient(nil, "a", "b", "c"))
	assert.Nil(t, WrapInvalid(nil, "a", "b", "c"))
	assert.Nil(t, WrapFatal(nil, "a", "b", "c"))
}

func TestWrapClassification(t *testing.T) {
	base := stderrors.New("underlying")

	transient := WrapTransient(base, "Store", "Claim", "update revision")
	assert.True(t, IsTransient(transient))
	assert.True(t, stderrors.Is(transient, base))

	invalid := WrapInvalid(base, "Rule", "Validate", "check operator")
	assert.True(t, IsInvalid(invalid))
	assert.False(t, IsTransient(invalid))

	fatal := WrapFatal(base, "Engine", "Start", "load config")
	assert.True(t, IsFatal(fatal))

	var ce *ClassifiedError
	require.True(t, stderrors.As(fatal, &ce))
	assert.Equal(t, "Engine", ce.Component)
	assert.Equal(t, "Start", ce.Operation)
	assert.Equal(t, ErrorFatal, ce.Class)
}

func TestRetryConfig(t *testing.T) {
	rc := DefaultRetryConfig()

	assert.False(t, rc.ShouldRetry(nil, 0))
	assert.False(t, rc.ShouldRetry(ErrConnectionLost, rc.MaxRetries))
	assert.True(t, rc.ShouldRetry(ErrConnectionLost, 0))
	assert.False(t, rc.ShouldRetry(ErrInvalidRule, 0))

	cfg := rc.ToRetryConfig()
	assert.Equal(t, rc.MaxRetries+1, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.True(t, cfg.AddJitter)
}

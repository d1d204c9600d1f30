package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fluxrules/internal/config"
	apperrors "fluxrules/pkg/errors"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	var retried []int

	err := DoWithCallback(context.Background(), fastPolicy(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, func(attempt int, err error, _ time.Duration) {
		retried = append(retried, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoStopsOnFatal(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func() error {
		calls++
		return apperrors.ErrValidation.WithDetail("field", "url")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, apperrors.IsValidation(err))
}

func TestDoRetriesNonFatalAppErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func() error {
		calls++
		return apperrors.ErrServiceUnavailable
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoPermanent(t *testing.T) {
	calls := 0
	base := errors.New("bad request")
	err := Do(context.Background(), fastPolicy(4), func() error {
		calls++
		return Permanent(base)
	})

	assert.ErrorIs(t, err, base)
	assert.Equal(t, 1, calls)
}

func TestDelayFor(t *testing.T) {
	p := Policy{InitialInterval: 100 * time.Millisecond, MaxInterval: 300 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, delayFor(1, p))
	assert.Equal(t, 200*time.Millisecond, delayFor(2, p))
	assert.Equal(t, 300*time.Millisecond, delayFor(3, p))
}

func TestPolicyWith(t *testing.T) {
	p := ConsumerPolicy().With(config.RetryConfig{MaxAttempts: 5, MaxInterval: time.Minute})
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialInterval)
	assert.Equal(t, time.Minute, p.MaxInterval)
	assert.Equal(t, 2.0, p.Multiplier)

	assert.Equal(t, DefaultPolicy(), DefaultPolicy().With(config.RetryConfig{}))
}

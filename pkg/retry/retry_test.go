package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialInterval: 10 * time.Millisecond, MaxInterval: 100 * time.Millisecond, Multiplier: 2.0}
	var attempts int

	result, err := Do(context.Background(), cfg, nil, nil, func() (int, error) {
		attempts++
		return 42, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 42, result)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	cfg := Config{MaxAttempts: 5, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2.0}
	var attempts int

	_, err := Do(context.Background(), cfg, nil, nil, func() (struct{}, error) {
		attempts++
		if attempts < 3 {
			return struct{}{}, errors.New("transient")
		}
		return struct{}{}, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2.0}
	var attempts int

	_, err := Do(context.Background(), cfg, nil, nil, func() (struct{}, error) {
		attempts++
		return struct{}{}, errors.New("permanent")
	})

	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_StopsEarlyOnNonRetriable(t *testing.T) {
	sentinel := errors.New("non-retriable")
	cfg := Config{MaxAttempts: 5, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2.0}
	var attempts int

	_, err := Do(context.Background(), cfg, nil, func(err error) bool { return errors.Is(err, sentinel) }, func() (struct{}, error) {
		attempts++
		return struct{}{}, sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := Config{MaxAttempts: 3, InitialInterval: 10 * time.Millisecond, MaxInterval: 100 * time.Millisecond, Multiplier: 2.0}

	_, err := Do(ctx, cfg, nil, nil, func() (struct{}, error) {
		return struct{}{}, errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestJittered_ZeroFractionReturnsUnchanged(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, jittered(100*time.Millisecond, 0))
}

func TestJittered_StaysWithinBounds(t *testing.T) {
	backoff := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		got := jittered(backoff, 0.5)
		assert.GreaterOrEqual(t, got, time.Duration(0))
		assert.LessOrEqual(t, got, backoff+backoff/2)
	}
}

package retry

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct {
	code int
}

func (e *statusErr) Error() string   { return "status error" }
func (e *statusErr) HTTPStatus() int { return e.code }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func fastConfig() Config {
	return Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	val, err := Do(context.Background(), fastConfig(), "test", func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	val, err := Do(context.Background(), fastConfig(), "test", func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &statusErr{code: 503}
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, 3, calls)
}

func TestDo_NonTransientFailsImmediately(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(), "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, &statusErr{code: 400}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(), "test", func(ctx context.Context) (int, error) {
		calls++
		return 0, &statusErr{code: 429}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, fastConfig(), "test", func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, &statusErr{code: 500}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 408", &statusErr{code: 408}, true},
		{"http 429", &statusErr{code: 429}, true},
		{"http 500", &statusErr{code: 500}, true},
		{"http 504", &statusErr{code: 504}, true},
		{"http 400", &statusErr{code: 400}, false},
		{"http 404", &statusErr{code: 404}, false},
		{"wrapped 502", eris.Wrap(&statusErr{code: 502}, "provider call"), true},
		{"network timeout", timeoutErr{}, true},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"wrapped deadline", eris.Wrap(context.DeadlineExceeded, "chat completion"), false},
		{"plain error", eris.New("boom"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}

package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestRetry(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name      string
		attempts  int
		failFirst int
		wantErr   error
		wantCalls int
	}{
		{name: "success first try", attempts: 3, failFirst: 0, wantCalls: 1},
		{name: "success after one failure", attempts: 3, failFirst: 1, wantCalls: 2},
		{name: "all attempts fail", attempts: 2, failFirst: 5, wantErr: errBoom, wantCalls: 2},
		{name: "zero attempts still runs once", attempts: 0, failFirst: 5, wantErr: errBoom, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(context.Background(), tt.attempts, func(ctx context.Context) error {
				calls++
				if calls <= tt.failFirst {
					return errBoom
				}
				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	start := time.Now()
	err := Retry(ctx, 5, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

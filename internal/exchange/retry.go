package exchange

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

// Retry runs op up to attempts times, sleeping with exponential backoff in
// between. It returns the last error, or ctx.Err() if ctx ends first.
func Retry(ctx context.Context, attempts int, op func(ctx context.Context) error) error {
	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for i := 0; i < max(attempts, 1); i++ {
		if i > 0 {
			select {
			case <-time.After(b.Duration()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = op(ctx); err == nil {
			return nil
		}
	}
	return err
}

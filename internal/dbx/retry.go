package dbx

import (
	"context"
	"errors"
	"fmt"
)

// ErrRetriesExhausted is returned by RetryOnConflict when every attempt lost
// the race.
var ErrRetriesExhausted = errors.New("optimistic update retries exhausted")

// RetryOnConflict runs a read-modify-write attempt up to maxAttempts times.
// An attempt that returns an error matching conflict is retried; any other
// error, or success, ends the loop.
func RetryOnConflict(ctx context.Context, maxAttempts int, conflict error, attempt func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var last error
	for i := 0; i < maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = attempt(ctx)
		if last == nil || !errors.Is(last, conflict) {
			return last
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, last)
}

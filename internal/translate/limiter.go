package translate

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a minimum interval between calls across goroutines.
type Limiter struct {
	limiter *rate.Limiter
}

func NewLimiter(interval time.Duration) *Limiter {
	if interval <= 0 {
		return &Limiter{}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.limiter == nil {
		return ctx.Err()
	}
	if err := l.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// rate reports a slot past the deadline before the deadline fires.
		if _, ok := ctx.Deadline(); ok {
			return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return err
	}
	return nil
}

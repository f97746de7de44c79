package sfifo

import (
	"context"
	"time"
)

// opContext derives the context bounding one guarded operation. A zero
// timeout means the caller opted out of deadlock protection and only the
// parent context can end the wait.
func opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// pollOpen retries attempt at the open poll interval until it yields a
// handle, fails hard, or the context ends. attempt returns (nil, nil) to
// request a retry. A timed-out open has produced no handle, so abandoning
// the loop leaks nothing.
func pollOpen(ctx context.Context, op string, attempt func() (pipeFile, error)) (pipeFile, error) {
	ticker := time.NewTicker(openPollInterval)
	defer ticker.Stop()

	for {
		f, err := attempt()
		if err != nil {
			return nil, err
		}
		if f != nil {
			return f, nil
		}

		select {
		case <-ctx.Done():
			return nil, guardErr(op, ctx.Err())
		case <-ticker.C:
		}
	}
}

package gateway

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

var DefaultRetry = RetryPolicy{Attempts: 3, Delay: 600 * time.Millisecond}

// linearBackOff waits Delay, 2*Delay, 3*Delay, ...
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

// Do runs op until it succeeds, fails permanently, or the attempts run out.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && !IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(&linearBackOff{step: p.Delay}),
		backoff.WithMaxTries(uint(attempts)),
	)
	return err
}

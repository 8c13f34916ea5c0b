package processor

import (
	"context"
	"time"

	"github.com/baller70/tbfcontentmachineapp-sub003/internal/domain"
)

const maxAttempts = 3

// withRetry runs fn up to maxAttempts times, backing off between attempts.
// Non-retryable kinds (auth, validation, unknown) fail immediately. Returns
// the number of retries that preceded the outcome.
func (p *Processor) withRetry(ctx context.Context, op string, fn func() error) (int, error) {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return attempt - 1, domain.E(op, domain.KindNetwork, ctx.Err())
			case <-time.After(p.backoff(attempt)):
			}
		}
		if err = fn(); err == nil {
			return attempt, nil
		}
		if !domain.Retryable(err) {
			return attempt, err
		}
		p.log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("retryable failure")
	}
	return maxAttempts - 1, err
}

func backoffExp(attempts int) time.Duration {
	if attempts <= 0 {
		return time.Second
	}
	d := 1 << (attempts - 1) // 1,2,4,8...
	if d > 60 {
		d = 60
	}
	return time.Duration(d) * time.Second
}

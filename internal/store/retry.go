package store

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the retries of transient lock/busy errors around every
// store call.
type RetryPolicy struct {
	MaxAttempts     uint64        // total tries, including the first
	InitialInterval time.Duration // first backoff delay
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 200 * time.Millisecond
	}
	return p
}

// do runs op, retrying with exponential backoff while the error looks like
// lock contention. Any other error aborts immediately.
func (s *Store) do(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retry.InitialInterval

	attempt := 0
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		attempt++
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("transient database error, retrying")
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, s.retry.MaxAttempts-1), ctx))
}

// isTransient reports whether err is a lock-contention condition worth
// retrying.
func isTransient(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

package order

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
)

const maxStoreRetries = 3

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// withRetry retries fn on transient store failures only: connection errors raised before the
// statement was sent, serialization failures and deadlocks. A retried conditional write cannot
// apply twice: after the first commit its version predicate no longer holds.
func withRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxStoreRetries), ctx)

	return backoff.RetryWithData(func() (T, error) {
		v, err := fn()
		if err != nil && !isTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, policy)
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return pgconn.SafeToRetry(err)
}

// README: Background sweep that cancels orders stuck waiting for payment.
package order

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"tiffin/internal/types"
)

// ExpirePending cancels every payment_pending order created before now-ttl. Orders that moved
// on in the meantime are skipped by the version predicate.
func (s *Service) ExpirePending(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	stale, err := s.repo.ListStalePending(ctx, now.Add(-ttl))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range stale {
		version := o.StatusVersion
		_, ok, err := s.Apply(ctx, ApplyCommand{
			OrderID:   o.ID,
			Predicate: Predicate{Statuses: []Status{StatusPaymentPending}, Version: &version},
			Mutation:  Mutation{Status: StatusCancelled},
			Actor:     types.SystemActor,
		})
		if err != nil {
			log.WithError(err).WithField("order_id", o.ID).Warn("expire pending order failed")
			continue
		}
		if ok {
			n++
			expiredTotal.Inc()
		}
	}
	return n, nil
}

// RunPendingExpiry sweeps every interval until ctx is done.
func (s *Service) RunPendingExpiry(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ExpirePending(ctx, time.Now(), ttl)
			if err != nil {
				log.WithError(err).Warn("pending expiry sweep failed")
				continue
			}
			if n > 0 {
				log.WithField("count", n).Info("expired unpaid orders")
			}
		}
	}
}

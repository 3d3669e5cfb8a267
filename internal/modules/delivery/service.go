// README: Delivery coordinator: exclusive rider claims, code-verified delivery, payout counters.
package delivery

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"tiffin/internal/modules/order"
	"tiffin/internal/types"
)

var claimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tiffin_delivery_claims_total",
	Help: "Rider claim attempts by outcome.",
}, []string{"outcome"})

type Orders interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	Apply(ctx context.Context, cmd order.ApplyCommand) (*order.Order, bool, error)
	ListAvailable(ctx context.Context, limit int) ([]order.Order, error)
	ListByRider(ctx context.Context, riderID types.ID, limit int) ([]order.Order, error)
	CountDelivered(ctx context.Context, riderID types.ID, since *time.Time) (int, error)
}

// RoleGranter marks a registered rider's account so their tokens carry the rider role.
type RoleGranter interface {
	GrantRole(ctx context.Context, uid string, role types.Role) error
}

type Service struct {
	orders  Orders
	riders  RiderRepository
	granter RoleGranter
}

type Option func(*Service)

func WithRoleGranter(g RoleGranter) Option {
	return func(s *Service) { s.granter = g }
}

func NewService(orders Orders, riders RiderRepository, opts ...Option) *Service {
	s := &Service{orders: orders, riders: riders}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Claim assigns a confirmed, unassigned order to the rider. The status change and the rider
// assignment are one conditional write, so among concurrent claimers exactly one wins.
func (s *Service) Claim(ctx context.Context, cmd ClaimCommand) (*order.Order, error) {
	o, err := s.orders.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if o.DeliveryRiderID != nil {
		if *o.DeliveryRiderID == cmd.RiderID {
			claimsTotal.WithLabelValues("repeat").Inc()
			return o, nil
		}
		claimsTotal.WithLabelValues("taken").Inc()
		return nil, ErrAlreadyClaimed
	}
	if !order.CanClaim(o.Status) {
		claimsTotal.WithLabelValues("not_eligible").Inc()
		return nil, ErrNotEligible
	}

	name := strings.TrimSpace(cmd.RiderName)
	if name == "" {
		r, err := s.riders.Get(ctx, cmd.RiderID)
		if err != nil {
			return nil, err
		}
		name = r.Name
	}
	riderID := cmd.RiderID
	claimed, ok, err := s.orders.Apply(ctx, order.ApplyCommand{
		OrderID:   o.ID,
		Predicate: order.Predicate{Statuses: order.ClaimableStatuses, RiderUnset: true},
		Mutation:  order.Mutation{Status: order.StatusOutForDelivery, RiderID: &riderID, RiderName: &name},
		Actor:     types.Actor{Role: types.RoleRider, ID: cmd.RiderID},
	})
	if err != nil {
		return nil, err
	}
	if ok {
		claimsTotal.WithLabelValues("won").Inc()
		log.WithFields(log.Fields{"order_id": o.ID, "rider_id": cmd.RiderID}).Info("order claimed")
		return claimed, nil
	}

	// Lost the race: read once to say why.
	cur, err := s.orders.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if cur.DeliveryRiderID != nil && *cur.DeliveryRiderID != cmd.RiderID {
		claimsTotal.WithLabelValues("taken").Inc()
		return nil, ErrAlreadyClaimed
	}
	if cur.DeliveryRiderID != nil {
		return cur, nil
	}
	claimsTotal.WithLabelValues("not_eligible").Inc()
	return nil, ErrNotEligible
}

// ConfirmDelivery completes an order when the rider presents the customer's code.
func (s *Service) ConfirmDelivery(ctx context.Context, cmd ConfirmCommand) (*order.Order, error) {
	o, err := s.orders.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusOutForDelivery {
		return nil, fmt.Errorf("%w: %s -> %s", order.ErrIllegalTransition, o.Status, order.StatusDelivered)
	}
	if o.DeliveryRiderID == nil || *o.DeliveryRiderID != cmd.RiderID {
		return nil, ErrNotAssignedRider
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(cmd.Code)), []byte(o.ConfirmationCode)) != 1 {
		log.WithFields(log.Fields{"order_id": o.ID, "rider_id": cmd.RiderID}).Info("delivery code mismatch")
		return nil, ErrCodeMismatch
	}

	riderID := cmd.RiderID
	version := o.StatusVersion
	delivered, ok, err := s.orders.Apply(ctx, order.ApplyCommand{
		OrderID: o.ID,
		Predicate: order.Predicate{
			Statuses: []order.Status{order.StatusOutForDelivery},
			Version:  &version,
			RiderID:  &riderID,
		},
		Mutation: order.Mutation{Status: order.StatusDelivered},
		Actor:    types.Actor{Role: types.RoleRider, ID: cmd.RiderID},
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		cur, err := s.orders.Get(ctx, cmd.OrderID)
		if err != nil {
			return nil, err
		}
		if cur.Status != order.StatusOutForDelivery {
			return nil, fmt.Errorf("%w: %s -> %s", order.ErrIllegalTransition, cur.Status, order.StatusDelivered)
		}
		return nil, order.ErrConflict
	}
	return delivered, nil
}

// ClearDeliveryCount records a payout; the delivered count restarts from this instant.
func (s *Service) ClearDeliveryCount(ctx context.Context, riderID types.ID) (time.Time, error) {
	at, err := s.riders.MarkPayout(ctx, riderID)
	if err != nil {
		return time.Time{}, err
	}
	log.WithFields(log.Fields{"rider_id": riderID, "at": at}).Info("rider payout recorded")
	return at, nil
}

// DeliveredCount is derived from orders; there is no stored counter to drift.
func (s *Service) DeliveredCount(ctx context.Context, riderID types.ID) (int, error) {
	r, err := s.riders.Get(ctx, riderID)
	if err != nil {
		return 0, err
	}
	return s.orders.CountDelivered(ctx, riderID, r.LastPayoutAt)
}

func (s *Service) CreateRider(ctx context.Context, in RiderInput) (*Rider, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	r := &Rider{
		ID:    types.ID(strings.TrimSpace(string(in.ID))),
		Name:  strings.TrimSpace(in.Name),
		Phone: strings.TrimSpace(in.Phone),
	}
	if e := strings.TrimSpace(in.Email); e != "" {
		r.Email = &e
	}
	if err := s.riders.Create(ctx, r); err != nil {
		return nil, err
	}
	if s.granter != nil {
		if err := s.granter.GrantRole(ctx, string(r.ID), types.RoleRider); err != nil {
			log.WithError(err).WithField("rider_id", r.ID).Error("grant rider role failed")
		}
	}
	return r, nil
}

func (s *Service) GetRider(ctx context.Context, id types.ID) (*Rider, error) {
	return s.riders.Get(ctx, id)
}

func (s *Service) ListRiders(ctx context.Context) ([]RiderSummary, error) {
	riders, err := s.riders.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RiderSummary, 0, len(riders))
	for _, r := range riders {
		n, err := s.orders.CountDelivered(ctx, r.ID, r.LastPayoutAt)
		if err != nil {
			return nil, err
		}
		out = append(out, RiderSummary{Rider: r, DeliveredCount: n})
	}
	return out, nil
}

// ListAvailable returns claimable orders with the confirmation code removed.
func (s *Service) ListAvailable(ctx context.Context, limit int) ([]order.Order, error) {
	orders, err := s.orders.ListAvailable(ctx, limit)
	if err != nil {
		return nil, err
	}
	return redactAll(orders), nil
}

func (s *Service) ListMine(ctx context.Context, riderID types.ID, limit int) ([]order.Order, error) {
	orders, err := s.orders.ListByRider(ctx, riderID, limit)
	if err != nil {
		return nil, err
	}
	return redactAll(orders), nil
}

func redactAll(orders []order.Order) []order.Order {
	out := make([]order.Order, len(orders))
	for i, o := range orders {
		out[i] = o.Redacted()
	}
	return out
}

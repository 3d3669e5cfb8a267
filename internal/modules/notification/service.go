// README: Notification service loads an actor's view, derives, appends and pushes.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"tiffin/internal/modules/order"
	"tiffin/internal/types"
)

var ErrValidation = errors.New("invalid message")

type Orders interface {
	ListByUser(ctx context.Context, userID types.ID, limit int) ([]order.Order, error)
	ListByRider(ctx context.Context, riderID types.ID, limit int) ([]order.Order, error)
	ListAvailable(ctx context.Context, limit int) ([]order.Order, error)
	ListRecent(ctx context.Context, limit int) ([]order.Order, error)
	Histories(ctx context.Context, ids []types.ID) (map[types.ID][]order.Event, error)
}

type Subscriber interface {
	Subscribe(ctx context.Context, f order.Filter) (<-chan order.Change, error)
}

type Service struct {
	orders   Orders
	store    *Store
	messages MessageRepository
	pusher   Pusher
	scan     int
	now      func() time.Time
}

// pruneGrace keeps seen ids a little past the derivation horizon, so a refresh that computed
// its horizon just before a concurrent prune still finds them.
const pruneGrace = time.Hour

type Option func(*Service)

func WithPusher(p Pusher) Option {
	return func(s *Service) { s.pusher = p }
}

// WithScanLimit bounds how many recent orders are examined per refresh.
func WithScanLimit(n int) Option {
	return func(s *Service) { s.scan = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(orders Orders, store *Store, messages MessageRepository, opts ...Option) *Service {
	s := &Service{orders: orders, store: store, messages: messages, scan: 100, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh derives and stores whatever is new for actor, then pushes it. Safe to call
// concurrently for the same actor; each notification is appended once.
func (s *Service) Refresh(ctx context.Context, actor types.Actor) ([]Notification, error) {
	if err := s.store.Track(ctx, actor); err != nil {
		return nil, err
	}
	horizon := s.now().Add(-s.store.Retention())
	if err := s.store.Prune(ctx, actor, horizon.Add(-pruneGrace)); err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx, actor)
	if err != nil {
		return nil, err
	}
	snap.Since = horizon
	existing, err := s.store.Seen(ctx, actor)
	if err != nil {
		return nil, err
	}
	fresh := Derive(actor, snap, existing)
	if len(fresh) == 0 {
		return nil, nil
	}
	added, err := s.store.Append(ctx, actor, fresh)
	if err != nil {
		return added, err
	}
	if s.pusher != nil && len(added) > 0 {
		if err := s.pusher.Push(ctx, actor, added); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"role":  actor.Role,
				"actor": actor.ID,
			}).Warn("push notifications failed")
		}
	}
	return added, nil
}

// List refreshes and returns the retained log for actor, newest first.
func (s *Service) List(ctx context.Context, actor types.Actor) ([]Notification, error) {
	if _, err := s.Refresh(ctx, actor); err != nil {
		return nil, err
	}
	return s.store.List(ctx, actor)
}

func (s *Service) MarkRead(ctx context.Context, actor types.Actor, ids []string) error {
	return s.store.MarkRead(ctx, actor, ids)
}

func (s *Service) SendMessage(ctx context.Context, cmd MessageCommand) (*Message, error) {
	switch cmd.RecipientRole {
	case types.RoleCustomer, types.RoleRider, types.RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown recipient role %q", ErrValidation, cmd.RecipientRole)
	}
	if strings.TrimSpace(string(cmd.RecipientID)) == "" || strings.TrimSpace(cmd.Title) == "" {
		return nil, fmt.Errorf("%w: recipient and title are required", ErrValidation)
	}
	m := &Message{
		ID:            uuid.NewString(),
		RecipientRole: cmd.RecipientRole,
		RecipientID:   cmd.RecipientID,
		Title:         strings.TrimSpace(cmd.Title),
		Body:          strings.TrimSpace(cmd.Body),
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, err
	}
	recipient := types.Actor{Role: m.RecipientRole, ID: m.RecipientID}
	if _, err := s.Refresh(ctx, recipient); err != nil {
		log.WithError(err).WithField("message_id", m.ID).Warn("refresh after message failed")
	}
	return m, nil
}

// RunEventListener refreshes the actors touched by each order change until ctx is done.
func (s *Service) RunEventListener(ctx context.Context, feed Subscriber) {
	changes, err := feed.Subscribe(ctx, order.Filter{})
	if err != nil {
		log.WithError(err).Error("notification listener could not subscribe")
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			for _, actor := range s.affected(ctx, c.Order) {
				if _, err := s.Refresh(ctx, actor); err != nil {
					log.WithError(err).WithFields(log.Fields{
						"order_id": c.Order.ID,
						"role":     actor.Role,
						"actor":    actor.ID,
					}).Warn("notification refresh failed")
				}
			}
		}
	}
}

// affected lists the owner, the assigned rider, known admins and, for a claimable order,
// known riders.
func (s *Service) affected(ctx context.Context, o order.Order) []types.Actor {
	actors := []types.Actor{{Role: types.RoleCustomer, ID: o.UserID}}
	if o.DeliveryRiderID != nil {
		actors = append(actors, types.Actor{Role: types.RoleRider, ID: *o.DeliveryRiderID})
	}
	admins, err := s.store.Actors(ctx, types.RoleAdmin)
	if err != nil {
		log.WithError(err).Warn("list known admins failed")
	}
	for _, id := range admins {
		actors = append(actors, types.Actor{Role: types.RoleAdmin, ID: id})
	}
	if o.Status == order.StatusConfirmed && o.DeliveryRiderID == nil {
		riders, err := s.store.Actors(ctx, types.RoleRider)
		if err != nil {
			log.WithError(err).Warn("list known riders failed")
		}
		for _, id := range riders {
			actors = append(actors, types.Actor{Role: types.RoleRider, ID: id})
		}
	}
	return actors
}

func (s *Service) snapshot(ctx context.Context, actor types.Actor) (Snapshot, error) {
	var orders []order.Order
	var err error
	switch actor.Role {
	case types.RoleCustomer:
		orders, err = s.orders.ListByUser(ctx, actor.ID, s.scan)
	case types.RoleRider:
		orders, err = s.orders.ListByRider(ctx, actor.ID, s.scan)
		if err == nil {
			var avail []order.Order
			avail, err = s.orders.ListAvailable(ctx, s.scan)
			orders = append(orders, avail...)
		}
	case types.RoleAdmin:
		orders, err = s.orders.ListRecent(ctx, s.scan)
	case types.RoleSystem:
	}
	if err != nil {
		return Snapshot{}, err
	}

	ids := make([]types.ID, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	hist, err := s.orders.Histories(ctx, ids)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Orders: make([]OrderHistory, len(orders))}
	for i, o := range orders {
		snap.Orders[i] = OrderHistory{Order: o, Events: hist[o.ID]}
	}
	if s.messages != nil {
		if snap.Messages, err = s.messages.ListFor(ctx, actor); err != nil {
			return Snapshot{}, err
		}
	}
	return snap, nil
}

// README: Order service implements checkout, state transitions and the change feed.
package order

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"tiffin/internal/modules/pricing"
	"tiffin/internal/types"
)

var (
	ErrValidation         = errors.New("invalid order")
	ErrIllegalTransition  = errors.New("illegal state transition")
	ErrConflict           = errors.New("order state conflict")
	ErrNotFound           = errors.New("order not found")
	ErrCancelWindowClosed = errors.New("order can no longer be cancelled")
	ErrForbidden          = errors.New("not allowed for this actor")
)

type Pricer interface {
	Quote(ctx context.Context, req pricing.QuoteRequest) (pricing.Breakdown, error)
}

// Publisher receives every committed change exactly once, after commit.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// Feed is the source of committed changes for subscribers.
type Feed interface {
	Subscribe(ctx context.Context) (<-chan Change, error)
}

type Service struct {
	repo      Repository
	pricer    Pricer
	publisher Publisher
	feed      Feed
}

type Option func(*Service)

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithFeed(f Feed) Option {
	return func(s *Service) { s.feed = f }
}

func NewService(repo Repository, pricer Pricer, opts ...Option) *Service {
	s := &Service{repo: repo, pricer: pricer}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CheckoutCommand struct {
	UserID          types.ID
	Contact         Contact
	Items           []LineItem
	ShippingAddress string
	PaymentMethod   PaymentMethod
	CouponCode      string
	// GatewayOrderID is the payment gateway's order reference, required for online payment.
	GatewayOrderID string
}

func (c CheckoutCommand) validate() error {
	if c.UserID == "" {
		return fmt.Errorf("%w: user is required", ErrValidation)
	}
	if strings.TrimSpace(c.Contact.Name) == "" || strings.TrimSpace(c.Contact.Phone) == "" {
		return fmt.Errorf("%w: contact name and phone are required", ErrValidation)
	}
	if strings.TrimSpace(c.ShippingAddress) == "" {
		return fmt.Errorf("%w: shipping address is required", ErrValidation)
	}
	if len(c.Items) == 0 {
		return fmt.Errorf("%w: cart is empty", ErrValidation)
	}
	for i, it := range c.Items {
		if strings.TrimSpace(it.ID) == "" || strings.TrimSpace(it.Name) == "" {
			return fmt.Errorf("%w: item %d needs an id and a name", ErrValidation, i)
		}
		if it.Quantity < 1 || it.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: item %d has an invalid price or quantity", ErrValidation, i)
		}
		if !types.AtCurrencyPrecision(it.UnitPrice) {
			return fmt.Errorf("%w: item %d price has more than %d decimal places", ErrValidation, i, types.CurrencyPlaces)
		}
	}
	switch c.PaymentMethod {
	case PaymentOnline:
		if strings.TrimSpace(c.GatewayOrderID) == "" {
			return fmt.Errorf("%w: gateway order id is required for online payment", ErrValidation)
		}
	case PaymentCOD:
	default:
		return fmt.Errorf("%w: unknown payment method %q", ErrValidation, c.PaymentMethod)
	}
	return nil
}

// Checkout prices and persists a new order. Online orders wait in payment_pending; cash on
// delivery goes straight to order_placed.
func (s *Service) Checkout(ctx context.Context, cmd CheckoutCommand) (*Order, error) {
	status := StatusOrderPlaced
	if cmd.PaymentMethod == PaymentOnline {
		status = StatusPaymentPending
	}
	return s.create(ctx, cmd, status, nil)
}

// CreatePaid persists an order whose payment has already been verified.
func (s *Service) CreatePaid(ctx context.Context, cmd CheckoutCommand, paymentID string) (*Order, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, fmt.Errorf("%w: payment id is required", ErrValidation)
	}
	cmd.PaymentMethod = PaymentOnline
	return s.create(ctx, cmd, StatusOrderPlaced, &paymentID)
}

func (s *Service) create(ctx context.Context, cmd CheckoutCommand, status Status, paymentID *string) (*Order, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	items := make([]pricing.Item, len(cmd.Items))
	for i, it := range cmd.Items {
		items[i] = pricing.Item{UnitPrice: it.UnitPrice, Quantity: it.Quantity}
	}
	quote, err := s.pricer.Quote(ctx, pricing.QuoteRequest{
		Items:      items,
		CouponCode: cmd.CouponCode,
		Address:    cmd.ShippingAddress,
	})
	if err != nil {
		return nil, err
	}
	code, err := newConfirmationCode()
	if err != nil {
		return nil, err
	}

	o := &Order{
		ID:               newID(),
		UserID:           cmd.UserID,
		Contact:          cmd.Contact,
		Items:            append([]LineItem(nil), cmd.Items...),
		ShippingAddress:  strings.TrimSpace(cmd.ShippingAddress),
		PaymentMethod:    cmd.PaymentMethod,
		Subtotal:         quote.Subtotal,
		DiscountAmount:   quote.DiscountAmount,
		DeliveryFee:      quote.DeliveryFee,
		TaxRate:          quote.TaxRate,
		TaxAmount:        quote.TaxAmount,
		CouponCode:       quote.CouponCode,
		GrandTotal:       quote.GrandTotal,
		Currency:         quote.Currency,
		ConfirmationCode: code,
		Status:           status,
		GatewayPaymentID: paymentID,
	}
	if cmd.GatewayOrderID != "" {
		gw := cmd.GatewayOrderID
		o.GatewayOrderID = &gw
	}

	actor := types.Actor{Role: types.RoleCustomer, ID: cmd.UserID}
	change, err := withRetry(ctx, func() (Change, error) {
		return s.repo.Create(ctx, o, actor)
	})
	if err != nil {
		return nil, err
	}
	transitionsTotal.WithLabelValues(string(StatusNone), string(status)).Inc()
	s.publish(ctx, change)
	created := change.Order
	return &created, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Order, error) {
	return s.repo.GetByGatewayOrderID(ctx, gatewayOrderID)
}

// GetFor returns the order if actor may see it, projected for that actor.
func (s *Service) GetFor(ctx context.Context, id types.ID, actor types.Actor) (*Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(actor, o) {
		return nil, ErrNotFound
	}
	v := ViewFor(actor, *o)
	return &v, nil
}

type UpdateStatusCommand struct {
	OrderID types.ID
	To      Status
	Actor   types.Actor
}

// UpdateStatus moves an order along one legal edge. The write is conditional on the status and
// version read here, so a concurrent writer makes this call fail with ErrConflict.
func (s *Service) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (*Order, error) {
	if cmd.Actor.Role != types.RoleAdmin && cmd.Actor.Role != types.RoleSystem {
		return nil, ErrForbidden
	}
	o, err := s.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, cmd.To) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, cmd.To)
	}
	version := o.StatusVersion
	updated, ok, err := s.Apply(ctx, ApplyCommand{
		OrderID:   o.ID,
		Predicate: Predicate{Statuses: []Status{o.Status}, Version: &version},
		Mutation:  Mutation{Status: cmd.To},
		Actor:     cmd.Actor,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	return updated, nil
}

type CancelCommand struct {
	OrderID types.ID
	Actor   types.Actor
	Reason  string
}

// Cancel applies the actor-specific cancel policy: customers only inside the early window and
// only for their own order; admins and the system from any non-terminal status.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Order, error) {
	o, err := s.repo.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	switch cmd.Actor.Role {
	case types.RoleCustomer:
		if o.UserID != cmd.Actor.ID {
			return nil, ErrNotFound
		}
		if !CanCustomerCancel(o.Status) {
			return nil, ErrCancelWindowClosed
		}
	case types.RoleAdmin, types.RoleSystem:
		if !CanTransition(o.Status, StatusCancelled) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, StatusCancelled)
		}
	default:
		return nil, ErrForbidden
	}

	version := o.StatusVersion
	updated, ok, err := s.Apply(ctx, ApplyCommand{
		OrderID:   o.ID,
		Predicate: Predicate{Statuses: []Status{o.Status}, Version: &version},
		Mutation:  Mutation{Status: StatusCancelled},
		Actor:     cmd.Actor,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	log.WithFields(log.Fields{
		"order_id": o.ID,
		"actor":    cmd.Actor.Role,
		"from":     o.Status,
		"reason":   cmd.Reason,
	}).Info("order cancelled")
	return updated, nil
}

// ApplyCommand is a raw conditional write. Callers own the decision that the edge is legal.
type ApplyCommand struct {
	OrderID   types.ID
	Predicate Predicate
	Mutation  Mutation
	Actor     types.Actor
}

// Apply performs one conditional update and publishes the change. ok is false when the
// predicate no longer holds.
func (s *Service) Apply(ctx context.Context, cmd ApplyCommand) (*Order, bool, error) {
	type result struct {
		change Change
		ok     bool
	}
	res, err := withRetry(ctx, func() (result, error) {
		c, ok, err := s.repo.ConditionalUpdate(ctx, cmd.OrderID, cmd.Predicate, cmd.Mutation, cmd.Actor)
		return result{change: c, ok: ok}, err
	})
	if err != nil {
		return nil, false, err
	}
	if !res.ok {
		conflictsTotal.Inc()
		return nil, false, nil
	}
	transitionsTotal.WithLabelValues(string(res.change.Event.FromStatus), string(res.change.Event.ToStatus)).Inc()
	s.publish(ctx, res.change)
	o := res.change.Order
	return &o, true, nil
}

func (s *Service) History(ctx context.Context, id types.ID) ([]Event, error) {
	return s.repo.History(ctx, id)
}

func (s *Service) Histories(ctx context.Context, ids []types.ID) (map[types.ID][]Event, error) {
	return s.repo.Histories(ctx, ids)
}

func (s *Service) ListByUser(ctx context.Context, userID types.ID, limit int) ([]Order, error) {
	return s.repo.ListByUser(ctx, userID, clampLimit(limit))
}

func (s *Service) ListByRider(ctx context.Context, riderID types.ID, limit int) ([]Order, error) {
	return s.repo.ListByRider(ctx, riderID, clampLimit(limit))
}

func (s *Service) ListAvailable(ctx context.Context, limit int) ([]Order, error) {
	return s.repo.ListAvailable(ctx, clampLimit(limit))
}

func (s *Service) ListRecent(ctx context.Context, limit int) ([]Order, error) {
	return s.repo.ListRecent(ctx, clampLimit(limit))
}

func (s *Service) CountDelivered(ctx context.Context, riderID types.ID, since *time.Time) (int, error) {
	return s.repo.CountDelivered(ctx, riderID, since)
}

// Subscribe streams changes matching f. Per order, a snapshot is only delivered when its
// version is newer than the last one delivered, so a subscriber never sees state go backwards.
func (s *Service) Subscribe(ctx context.Context, f Filter) (<-chan Change, error) {
	if s.feed == nil {
		return nil, errors.New("order feed not configured")
	}
	in, err := s.feed.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan Change, 16)
	go func() {
		defer close(out)
		seen := make(map[types.ID]int)
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-in:
				if !ok {
					return
				}
				if !f.Match(&c.Order) {
					continue
				}
				if last, ok := seen[c.Order.ID]; ok && c.Order.StatusVersion <= last {
					continue
				}
				seen[c.Order.ID] = c.Order.StatusVersion
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *Service) publish(ctx context.Context, c Change) {
	if s.publisher == nil {
		return
	}
	c.Order = c.Order.Redacted()
	if err := s.publisher.Publish(ctx, c); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"order_id": c.Order.ID,
			"status":   c.Order.Status,
		}).Warn("publish order change failed")
	}
}

// CanView reports whether actor may read o at all.
func CanView(actor types.Actor, o *Order) bool {
	switch actor.Role {
	case types.RoleAdmin, types.RoleSystem:
		return true
	case types.RoleCustomer:
		return o.UserID == actor.ID
	case types.RoleRider:
		if o.DeliveryRiderID != nil {
			return *o.DeliveryRiderID == actor.ID
		}
		return o.Status == StatusConfirmed
	}
	return false
}

// ViewFor projects o for actor. Only the ordering customer ever sees the confirmation code.
func ViewFor(actor types.Actor, o Order) Order {
	if actor.Role == types.RoleCustomer && o.UserID == actor.ID {
		return o
	}
	return o.Redacted()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

func newID() types.ID {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return types.ID(hex.EncodeToString(b[:]))
}

func newConfirmationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

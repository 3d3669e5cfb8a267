// README: Payment service turns verified gateway signals into order transitions.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"tiffin/internal/modules/order"
	"tiffin/internal/types"
)

type Orders interface {
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*order.Order, error)
	CreatePaid(ctx context.Context, cmd order.CheckoutCommand, paymentID string) (*order.Order, error)
	Apply(ctx context.Context, cmd order.ApplyCommand) (*order.Order, bool, error)
}

type Service struct {
	verifier *Verifier
	orders   Orders
}

func NewService(verifier *Verifier, orders Orders) *Service {
	return &Service{verifier: verifier, orders: orders}
}

// maxSteps bounds the re-read loop when concurrent deliveries race on the same order.
const maxSteps = 4

// HandleCallback verifies a client-relayed payment and records it. Repeated callbacks for the
// same gateway order return the existing order.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) (*order.Order, error) {
	if !s.verifier.VerifyCallback(cb.GatewayOrderID, cb.PaymentID, cb.Signature) {
		verificationsTotal.WithLabelValues("callback", "mismatch").Inc()
		log.WithFields(log.Fields{
			"gateway_order_id": cb.GatewayOrderID,
			"payment_id":       cb.PaymentID,
			"user_id":          cb.Draft.UserID,
		}).Warn("payment callback signature mismatch")
		return nil, ErrInvalidSignature
	}
	verificationsTotal.WithLabelValues("callback", "ok").Inc()

	existing, err := s.orders.GetByGatewayOrderID(ctx, cb.GatewayOrderID)
	switch {
	case errors.Is(err, order.ErrNotFound):
		draft := cb.Draft
		draft.GatewayOrderID = cb.GatewayOrderID
		created, err := s.orders.CreatePaid(ctx, draft, cb.PaymentID)
		if errors.Is(err, order.ErrConflict) {
			// A concurrent callback created it first.
			return s.orders.GetByGatewayOrderID(ctx, cb.GatewayOrderID)
		}
		return created, err
	case err != nil:
		return nil, err
	}
	if !order.CanView(cb.Caller, existing) {
		log.WithFields(log.Fields{
			"gateway_order_id": cb.GatewayOrderID,
			"order_id":         existing.ID,
			"uid":              cb.Caller.ID,
		}).Warn("payment callback for another customer's order")
		return nil, order.ErrNotFound
	}
	return s.advance(ctx, existing, cb.PaymentID, order.StatusOrderPlaced)
}

// HandleWebhook processes one gateway notification. Deliveries may repeat; every step is
// conditional so a duplicate leaves the order as it is.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !s.verifier.VerifyWebhook(body, signature) {
		verificationsTotal.WithLabelValues("webhook", "mismatch").Inc()
		log.WithField("bytes", len(body)).Warn("payment webhook signature mismatch")
		return ErrInvalidSignature
	}
	verificationsTotal.WithLabelValues("webhook", "ok").Inc()

	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		webhooksTotal.WithLabelValues("unknown", "malformed").Inc()
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	entity := ev.Payload.Payment.Entity
	if entity.OrderID == "" {
		webhooksTotal.WithLabelValues(ev.Event, "malformed").Inc()
		return fmt.Errorf("%w: missing order id", ErrMalformedEvent)
	}

	switch ev.Event {
	case EventPaymentCaptured, EventOrderPaid, EventPaymentFailed:
	default:
		webhooksTotal.WithLabelValues(ev.Event, "ignored").Inc()
		return nil
	}

	o, err := s.orders.GetByGatewayOrderID(ctx, entity.OrderID)
	if errors.Is(err, order.ErrNotFound) {
		webhooksTotal.WithLabelValues(ev.Event, "unknown_order").Inc()
		return fmt.Errorf("%w: %s", ErrUnknownOrder, entity.OrderID)
	}
	if err != nil {
		return err
	}

	if ev.Event == EventPaymentFailed {
		_, err = s.fail(ctx, o)
	} else {
		_, err = s.advance(ctx, o, entity.ID, order.StatusConfirmed)
	}
	outcome := "applied"
	if err != nil {
		outcome = "error"
	}
	webhooksTotal.WithLabelValues(ev.Event, outcome).Inc()
	return err
}

// advance walks a paid order forward until it reaches target. Already at or past target is a no-op.
func (s *Service) advance(ctx context.Context, o *order.Order, paymentID string, target order.Status) (*order.Order, error) {
	for i := 0; i < maxSteps; i++ {
		var next order.Status
		var mut order.Mutation
		switch o.Status {
		case order.StatusPaymentPending:
			next = order.StatusOrderPlaced
			mut = order.Mutation{Status: next}
			if paymentID != "" {
				pid := paymentID
				mut.GatewayPaymentID = &pid
			}
		case order.StatusOrderPlaced:
			if target == order.StatusOrderPlaced {
				return o, nil
			}
			next = order.StatusConfirmed
			mut = order.Mutation{Status: next}
		case order.StatusCancelled:
			log.WithFields(log.Fields{
				"order_id":   o.ID,
				"payment_id": paymentID,
			}).Error("payment received for cancelled order, needs refund")
			return o, ErrPaidAfterCancel
		case order.StatusConfirmed, order.StatusPreparing, order.StatusShipped, order.StatusOutForDelivery, order.StatusDelivered:
			return o, nil
		default:
			return o, fmt.Errorf("%w: unexpected status %s", order.ErrIllegalTransition, o.Status)
		}

		version := o.StatusVersion
		updated, ok, err := s.orders.Apply(ctx, order.ApplyCommand{
			OrderID:   o.ID,
			Predicate: order.Predicate{Statuses: []order.Status{o.Status}, Version: &version},
			Mutation:  mut,
			Actor:     types.SystemActor,
		})
		if err != nil {
			return nil, err
		}
		if ok {
			o = updated
			continue
		}
		// Lost to a concurrent writer; look again.
		if o, err = s.orders.GetByGatewayOrderID(ctx, derefOr(o.GatewayOrderID)); err != nil {
			return nil, err
		}
	}
	return o, order.ErrConflict
}

func (s *Service) fail(ctx context.Context, o *order.Order) (*order.Order, error) {
	if o.Status != order.StatusPaymentPending {
		return o, nil
	}
	version := o.StatusVersion
	updated, ok, err := s.orders.Apply(ctx, order.ApplyCommand{
		OrderID:   o.ID,
		Predicate: order.Predicate{Statuses: []order.Status{order.StatusPaymentPending}, Version: &version},
		Mutation:  order.Mutation{Status: order.StatusCancelled},
		Actor:     types.SystemActor,
	})
	if err != nil || !ok {
		return o, err
	}
	return updated, nil
}

func derefOr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

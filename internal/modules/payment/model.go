package payment

import (
	"errors"

	"tiffin/internal/modules/order"
	"tiffin/internal/types"
)

var (
	ErrInvalidSignature = errors.New("payment signature mismatch")
	ErrMalformedEvent   = errors.New("malformed gateway event")
	ErrUnknownOrder     = errors.New("no order for gateway reference")
	ErrPaidAfterCancel  = errors.New("payment received for a cancelled order")
)

// Callback is what the client relays after the gateway checkout completes.
type Callback struct {
	GatewayOrderID string
	PaymentID      string
	Signature      string
	// Caller relayed the callback. A customer may only complete their own order.
	Caller types.Actor
	// Draft is used when no order exists yet for GatewayOrderID.
	Draft order.CheckoutCommand
}

const (
	EventPaymentCaptured = "payment.captured"
	EventOrderPaid       = "order.paid"
	EventPaymentFailed   = "payment.failed"
)

// WebhookEvent is the subset of the gateway payload we act on.
type WebhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

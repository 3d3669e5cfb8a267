// README: Order aggregate, status definitions and conditional-update primitives.
package order

import (
	"time"

	"github.com/shopspring/decimal"

	"tiffin/internal/types"
)

type Status string

const (
	StatusNone           Status = "none"
	StatusPaymentPending Status = "payment_pending"
	StatusOrderPlaced    Status = "order_placed"
	StatusConfirmed      Status = "confirmed"
	StatusPreparing      Status = "preparing"
	StatusShipped        Status = "shipped"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

// AllStatuses lists every real status in lifecycle order.
var AllStatuses = []Status{
	StatusPaymentPending,
	StatusOrderPlaced,
	StatusConfirmed,
	StatusPreparing,
	StatusShipped,
	StatusOutForDelivery,
	StatusDelivered,
	StatusCancelled,
}

func ParseStatus(v string) (Status, bool) {
	for _, s := range AllStatuses {
		if string(s) == v {
			return s, true
		}
	}
	return "", false
}

type PaymentMethod string

const (
	PaymentOnline PaymentMethod = "online"
	PaymentCOD    PaymentMethod = "cod"
)

type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// LineItem is a snapshot of a menu item at checkout; it never refers back to the live catalog.
type LineItem struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

type Order struct {
	ID                types.ID        `json:"id"`
	UserID            types.ID        `json:"user_id"`
	Contact           Contact         `json:"contact"`
	Items             []LineItem      `json:"items"`
	ShippingAddress   string          `json:"shipping_address"`
	PaymentMethod     PaymentMethod   `json:"payment_method"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	DeliveryFee       decimal.Decimal `json:"delivery_fee"`
	TaxRate           decimal.Decimal `json:"tax_rate"`
	TaxAmount         decimal.Decimal `json:"tax_amount"`
	CouponCode        *string         `json:"coupon_code,omitempty"`
	GrandTotal        decimal.Decimal `json:"grand_total"`
	Currency          string          `json:"currency"`
	ConfirmationCode  string          `json:"confirmation_code,omitempty"`
	Status            Status          `json:"status"`
	StatusVersion     int             `json:"status_version"`
	GatewayOrderID    *string         `json:"gateway_order_id,omitempty"`
	GatewayPaymentID  *string         `json:"gateway_payment_id,omitempty"`
	DeliveryRiderID   *types.ID       `json:"delivery_rider_id,omitempty"`
	DeliveryRiderName *string         `json:"delivery_rider_name,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	DeliveredAt       *time.Time      `json:"delivered_at,omitempty"`
}

// Redacted returns a copy without the delivery confirmation code.
func (o Order) Redacted() Order {
	o.ConfirmationCode = ""
	return o
}

func (o *Order) clone() *Order {
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	c.CouponCode = clonePtr(o.CouponCode)
	c.GatewayOrderID = clonePtr(o.GatewayOrderID)
	c.GatewayPaymentID = clonePtr(o.GatewayPaymentID)
	c.DeliveryRiderID = clonePtr(o.DeliveryRiderID)
	c.DeliveryRiderName = clonePtr(o.DeliveryRiderName)
	c.DeliveredAt = clonePtr(o.DeliveredAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Event is one row of the append-only transition history.
type Event struct {
	ID         int64      `json:"id"`
	OrderID    types.ID   `json:"order_id"`
	FromStatus Status     `json:"from_status"`
	ToStatus   Status     `json:"to_status"`
	ActorRole  types.Role `json:"actor_role"`
	ActorID    *types.ID  `json:"actor_id,omitempty"`
	Version    int        `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Change is a committed write: the event and the order as it was right after it.
type Change struct {
	Event Event `json:"event"`
	Order Order `json:"order"`
}

// Predicate is the guard of a conditional update. Zero fields are not checked.
type Predicate struct {
	Statuses   []Status
	Version    *int
	RiderUnset bool
	RiderID    *types.ID
}

func (p Predicate) Matches(o *Order) bool {
	if len(p.Statuses) > 0 {
		found := false
		for _, s := range p.Statuses {
			if o.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if p.Version != nil && o.StatusVersion != *p.Version {
		return false
	}
	if p.RiderUnset && o.DeliveryRiderID != nil {
		return false
	}
	if p.RiderID != nil && (o.DeliveryRiderID == nil || *o.DeliveryRiderID != *p.RiderID) {
		return false
	}
	return true
}

// Mutation describes a status write. The rider can only be set, never cleared.
type Mutation struct {
	Status           Status
	RiderID          *types.ID
	RiderName        *string
	GatewayPaymentID *string
}

// apply writes the mutation into o using the store-assigned timestamp.
func (m Mutation) apply(o *Order, now time.Time) {
	o.Status = m.Status
	o.StatusVersion++
	o.UpdatedAt = now
	if m.RiderID != nil && o.DeliveryRiderID == nil {
		o.DeliveryRiderID = clonePtr(m.RiderID)
		o.DeliveryRiderName = clonePtr(m.RiderName)
	}
	if m.GatewayPaymentID != nil {
		o.GatewayPaymentID = clonePtr(m.GatewayPaymentID)
	}
	if m.Status == StatusDelivered {
		t := now
		o.DeliveredAt = &t
	}
}

func actorIDPtr(a types.Actor) *types.ID {
	if a.ID == "" {
		return nil
	}
	id := a.ID
	return &id
}

// Filter selects orders on the subscription stream.
type Filter struct {
	OrderID types.ID
	UserID  types.ID
	RiderID types.ID
	// Claimable also admits confirmed orders without a rider (OR-ed with RiderID).
	Claimable bool
}

func (f Filter) Match(o *Order) bool {
	if f.OrderID != "" && o.ID != f.OrderID {
		return false
	}
	if f.UserID != "" && o.UserID != f.UserID {
		return false
	}
	if f.RiderID == "" && !f.Claimable {
		return true
	}
	if f.RiderID != "" && o.DeliveryRiderID != nil && *o.DeliveryRiderID == f.RiderID {
		return true
	}
	return f.Claimable && o.Status == StatusConfirmed && o.DeliveryRiderID == nil
}

// README: Pricing inputs and the persisted breakdown of an order total.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Settings are the store-wide pricing knobs.
type Settings struct {
	FlatDeliveryFee decimal.Decimal `json:"flat_delivery_fee"`
	RatePerKm       decimal.Decimal `json:"rate_per_km"`
	DistancePricing bool            `json:"distance_pricing"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	Currency        string          `json:"currency"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type Item struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

type Breakdown struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	DeliveryFee    decimal.Decimal `json:"delivery_fee"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	GrandTotal     decimal.Decimal `json:"grand_total"`
	Currency       string          `json:"currency"`
	CouponCode     *string         `json:"coupon_code,omitempty"`
	DistanceKm     *float64        `json:"distance_km,omitempty"`
}

type QuoteRequest struct {
	Items      []Item
	CouponCode string
	// Address is the delivery destination; only consulted when distance pricing is on.
	Address string
}

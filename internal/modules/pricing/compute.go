package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tiffin/internal/modules/coupon"
	"tiffin/internal/types"
)

var ErrValidation = errors.New("invalid pricing input")

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Compute derives the full breakdown. It is pure: same inputs, same output.
//
//	subtotal = sum(unitPrice * qty)
//	discount = round(subtotal * percent / 100) to whole units, 0 without a coupon
//	fee      = flat, or ceil(distanceKm * ratePerKm) with distance pricing
//	tax      = subtotal * taxRate (pre-discount)
//	total    = subtotal - discount + fee + tax, rounded once at the end
//
// Unit prices must already be at currency precision.
func Compute(items []Item, c *coupon.Coupon, distanceKm float64, s Settings) (Breakdown, error) {
	if len(items) == 0 {
		return Breakdown{}, fmt.Errorf("%w: cart is empty", ErrValidation)
	}
	subtotal := decimal.Zero
	for i, it := range items {
		if it.Quantity < 1 {
			return Breakdown{}, fmt.Errorf("%w: item %d quantity must be at least 1", ErrValidation, i)
		}
		if it.UnitPrice.IsNegative() {
			return Breakdown{}, fmt.Errorf("%w: item %d has a negative price", ErrValidation, i)
		}
		if !types.AtCurrencyPrecision(it.UnitPrice) {
			return Breakdown{}, fmt.Errorf("%w: item %d price has more than %d decimal places", ErrValidation, i, types.CurrencyPlaces)
		}
		subtotal = subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	discount := decimal.Zero
	var code *string
	if c != nil {
		discount = subtotal.Mul(decimal.NewFromInt(int64(c.DiscountPercent))).Div(hundred).Round(0)
		cc := c.Code
		code = &cc
	}

	fee := s.FlatDeliveryFee
	var dist *float64
	if s.DistancePricing {
		if distanceKm < 0 {
			return Breakdown{}, fmt.Errorf("%w: negative distance", ErrValidation)
		}
		fee = decimal.NewFromFloat(distanceKm).Mul(s.RatePerKm).Ceil()
		d := distanceKm
		dist = &d
	}

	rawTax := subtotal.Mul(s.TaxRate)
	total := types.RoundMoney(subtotal.Sub(discount).Add(fee).Add(rawTax))

	return Breakdown{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		DeliveryFee:    fee,
		TaxRate:        s.TaxRate,
		TaxAmount:      types.RoundMoney(rawTax),
		GrandTotal:     total,
		Currency:       s.Currency,
		CouponCode:     code,
		DistanceKm:     dist,
	}, nil
}

// README: Common identifier and money helpers used across modules.
package types

import "github.com/shopspring/decimal"

// ID is an opaque identifier (order ids, Firebase UIDs).
type ID string

// CurrencyPlaces is the number of decimal places amounts are rounded to.
const CurrencyPlaces = 2

// RoundMoney rounds an amount to currency precision (half away from zero).
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}

// AtCurrencyPrecision reports whether d has no more than CurrencyPlaces decimal places.
func AtCurrencyPrecision(d decimal.Decimal) bool {
	return d.Equal(d.Round(CurrencyPlaces))
}

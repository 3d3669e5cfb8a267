// README: Coupon definitions and the rejection taxonomy used at checkout.
package coupon

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Coupon struct {
	Code            string    `json:"code"`
	DiscountPercent int       `json:"discount_percent"`
	ValidFrom       time.Time `json:"valid_from"`
	ValidUntil      time.Time `json:"valid_until"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Usable reports whether the coupon applies at now. Both window bounds are inclusive.
func (c *Coupon) Usable(now time.Time) bool {
	return c.Active && !now.Before(c.ValidFrom) && !now.After(c.ValidUntil)
}

// NormalizeCode trims and upper-cases a code as typed by a customer.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type Reason string

const (
	ReasonNotFound    Reason = "not_found"
	ReasonInactive    Reason = "inactive"
	ReasonExpired     Reason = "expired"
	ReasonNotYetValid Reason = "not_yet_valid"
)

var (
	ErrRejected   = errors.New("coupon rejected")
	ErrNotFound   = errors.New("coupon not found")
	ErrDuplicate  = errors.New("coupon already exists")
	ErrValidation = errors.New("invalid coupon")
)

type RejectedError struct {
	Code   string
	Reason Reason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("coupon %q rejected: %s", e.Code, e.Reason)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Input is the writable part of a coupon.
type Input struct {
	Code            string    `json:"code"`
	DiscountPercent int       `json:"discount_percent"`
	ValidFrom       time.Time `json:"valid_from"`
	ValidUntil      time.Time `json:"valid_until"`
	Active          bool      `json:"active"`
}

func (in Input) validate() error {
	if NormalizeCode(in.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrValidation)
	}
	if in.DiscountPercent < 1 || in.DiscountPercent > 100 {
		return fmt.Errorf("%w: discount_percent must be between 1 and 100", ErrValidation)
	}
	if in.ValidFrom.IsZero() || in.ValidUntil.IsZero() {
		return fmt.Errorf("%w: validity window is required", ErrValidation)
	}
	if in.ValidUntil.Before(in.ValidFrom) {
		return fmt.Errorf("%w: valid_until is before valid_from", ErrValidation)
	}
	return nil
}

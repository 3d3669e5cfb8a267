// README: Riders and the delivery error taxonomy.
package delivery

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tiffin/internal/types"
)

var (
	ErrAlreadyClaimed   = errors.New("order already claimed by another rider")
	ErrNotEligible      = errors.New("order is not available for claiming")
	ErrCodeMismatch     = errors.New("confirmation code does not match")
	ErrNotAssignedRider = errors.New("order is assigned to a different rider")
	ErrRiderNotFound    = errors.New("rider not found")
	ErrRiderExists      = errors.New("rider already registered")
	ErrValidation       = errors.New("invalid rider")
)

type Rider struct {
	ID           types.ID   `json:"id"`
	Name         string     `json:"name"`
	Phone        string     `json:"phone"`
	Email        *string    `json:"email,omitempty"`
	LastPayoutAt *time.Time `json:"last_payout_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// RiderSummary is the admin view: the rider plus deliveries since the last payout.
type RiderSummary struct {
	Rider
	DeliveredCount int `json:"delivered_count"`
}

type RiderInput struct {
	ID    types.ID `json:"id"`
	Name  string   `json:"name"`
	Phone string   `json:"phone"`
	Email string   `json:"email"`
}

func (in RiderInput) validate() error {
	if strings.TrimSpace(string(in.ID)) == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Phone) == "" {
		return fmt.Errorf("%w: name and phone are required", ErrValidation)
	}
	return nil
}

type ClaimCommand struct {
	OrderID types.ID
	RiderID types.ID
	// RiderName is looked up from the rider registry when empty.
	RiderName string
}

type ConfirmCommand struct {
	OrderID types.ID
	RiderID types.ID
	Code    string
}

// README: Per-actor notifications derived from order history and admin messages.
package notification

import (
	"time"

	"tiffin/internal/modules/order"
	"tiffin/internal/types"
)

type Kind string

const (
	KindOrderStatus   Kind = "order_status"
	KindAdminNewOrder Kind = "admin_new_order"
	KindDirectMessage Kind = "direct_message"
)

type Notification struct {
	ID        string       `json:"id"`
	Actor     types.Actor  `json:"actor"`
	Kind      Kind         `json:"kind"`
	OrderID   types.ID     `json:"order_id,omitempty"`
	Status    order.Status `json:"status,omitempty"`
	Title     string       `json:"title"`
	Message   string       `json:"message"`
	Link      string       `json:"link,omitempty"`
	Read      bool         `json:"read"`
	CreatedAt time.Time    `json:"created_at"`
}

// Message is a direct message written by an admin to one recipient.
type Message struct {
	ID            string     `json:"id"`
	RecipientRole types.Role `json:"recipient_role"`
	RecipientID   types.ID   `json:"recipient_id"`
	Title         string     `json:"title"`
	Body          string     `json:"body"`
	CreatedAt     time.Time  `json:"created_at"`
}

type OrderHistory struct {
	Order  order.Order
	Events []order.Event
}

// Snapshot is everything derivation looks at for one actor. Items created before Since are
// ignored; a zero Since admits everything.
type Snapshot struct {
	Orders   []OrderHistory
	Messages []Message
	Since    time.Time
}

type MessageCommand struct {
	RecipientRole types.Role
	RecipientID   types.ID
	Title         string
	Body          string
}

package notification

import (
	"fmt"
	"sort"

	"tiffin/internal/modules/order"
	"tiffin/internal/types"
)

// Derive returns the notifications actor should have for snap that are not in existing.
// Ids are deterministic, so running it twice over the same input adds nothing the second time.
func Derive(actor types.Actor, snap Snapshot, existing map[string]bool) []Notification {
	var out []Notification
	seen := make(map[string]bool)
	add := func(n Notification) {
		if existing[n.ID] || seen[n.ID] || n.CreatedAt.Before(snap.Since) {
			return
		}
		seen[n.ID] = true
		n.Actor = actor
		out = append(out, n)
	}

	for _, h := range snap.Orders {
		if !visible(actor, &h.Order) {
			continue
		}
		for _, ev := range h.Events {
			switch actor.Role {
			case types.RoleAdmin:
				if ev.ToStatus == order.StatusOrderPlaced {
					add(adminNewOrder(h.Order, ev))
				}
				if ev.ToStatus == order.StatusCancelled {
					add(statusChange(actor.Role, h.Order, ev))
				}
			case types.RoleCustomer, types.RoleRider:
				if caresAbout(actor.Role, ev.ToStatus) {
					add(statusChange(actor.Role, h.Order, ev))
				}
			}
		}
		// Claimable orders reach riders even though the confirm event predates them.
		if actor.Role == types.RoleRider && h.Order.DeliveryRiderID == nil && h.Order.Status == order.StatusConfirmed {
			ev := lastEventTo(h.Events, order.StatusConfirmed)
			add(statusChange(actor.Role, h.Order, ev))
		}
	}

	for _, m := range snap.Messages {
		if m.RecipientRole != actor.Role || m.RecipientID != actor.ID {
			continue
		}
		add(Notification{
			ID:        "notif-" + m.ID,
			Kind:      KindDirectMessage,
			Title:     m.Title,
			Message:   m.Body,
			CreatedAt: m.CreatedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func visible(actor types.Actor, o *order.Order) bool {
	switch actor.Role {
	case types.RoleAdmin:
		return true
	case types.RoleCustomer:
		return o.UserID == actor.ID
	case types.RoleRider:
		if o.DeliveryRiderID != nil {
			return *o.DeliveryRiderID == actor.ID
		}
		return o.Status == order.StatusConfirmed
	case types.RoleSystem:
		return false
	}
	return false
}

func caresAbout(role types.Role, s order.Status) bool {
	switch role {
	case types.RoleCustomer:
		switch s {
		case order.StatusOrderPlaced, order.StatusConfirmed, order.StatusPreparing, order.StatusShipped,
			order.StatusOutForDelivery, order.StatusDelivered, order.StatusCancelled:
			return true
		case order.StatusPaymentPending:
			return false
		}
	case types.RoleRider:
		switch s {
		case order.StatusOutForDelivery, order.StatusDelivered, order.StatusCancelled:
			return true
		case order.StatusPaymentPending, order.StatusOrderPlaced, order.StatusConfirmed,
			order.StatusPreparing, order.StatusShipped:
			return false
		}
	case types.RoleAdmin, types.RoleSystem:
		return false
	}
	return false
}

func lastEventTo(events []order.Event, s order.Status) order.Event {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].ToStatus == s {
			return events[i]
		}
	}
	return order.Event{ToStatus: s}
}

func statusChange(role types.Role, o order.Order, ev order.Event) Notification {
	title, msg := statusCopy(role, ev.ToStatus, o.ID)
	return Notification{
		ID:        fmt.Sprintf("notif-%s-%s", o.ID, ev.ToStatus),
		Kind:      KindOrderStatus,
		OrderID:   o.ID,
		Status:    ev.ToStatus,
		Title:     title,
		Message:   msg,
		Link:      linkFor(role, o.ID),
		CreatedAt: ev.CreatedAt,
	}
}

func adminNewOrder(o order.Order, ev order.Event) Notification {
	return Notification{
		ID:        fmt.Sprintf("notif-admin-new-order-%s", o.ID),
		Kind:      KindAdminNewOrder,
		OrderID:   o.ID,
		Status:    order.StatusOrderPlaced,
		Title:     "New order",
		Message:   fmt.Sprintf("Order %s from %s, %s %s", shortID(o.ID), o.Contact.Name, o.GrandTotal.StringFixed(2), o.Currency),
		Link:      linkFor(types.RoleAdmin, o.ID),
		CreatedAt: ev.CreatedAt,
	}
}

// statusCopy is the user-facing text per status.
func statusCopy(role types.Role, s order.Status, id types.ID) (string, string) {
	ref := shortID(id)
	switch s {
	case order.StatusPaymentPending:
		return "Awaiting payment", fmt.Sprintf("Order %s is waiting for payment.", ref)
	case order.StatusOrderPlaced:
		return "Order placed", fmt.Sprintf("We received order %s.", ref)
	case order.StatusConfirmed:
		if role == types.RoleRider {
			return "Order ready to claim", fmt.Sprintf("Order %s is confirmed and needs a rider.", ref)
		}
		return "Order confirmed", fmt.Sprintf("The kitchen accepted order %s.", ref)
	case order.StatusPreparing:
		return "Being prepared", fmt.Sprintf("Order %s is being cooked.", ref)
	case order.StatusShipped:
		return "Packed", fmt.Sprintf("Order %s is packed and waiting for pickup.", ref)
	case order.StatusOutForDelivery:
		if role == types.RoleRider {
			return "Delivery assigned", fmt.Sprintf("You are delivering order %s.", ref)
		}
		return "Out for delivery", fmt.Sprintf("Order %s is on its way. Share your code with the rider.", ref)
	case order.StatusDelivered:
		return "Delivered", fmt.Sprintf("Order %s was delivered.", ref)
	case order.StatusCancelled:
		return "Order cancelled", fmt.Sprintf("Order %s was cancelled.", ref)
	case order.StatusNone:
		return "", ""
	}
	return "", ""
}

func linkFor(role types.Role, id types.ID) string {
	switch role {
	case types.RoleAdmin:
		return "/admin/orders/" + string(id)
	case types.RoleRider:
		return "/rider/orders/" + string(id)
	case types.RoleCustomer, types.RoleSystem:
		return "/orders/" + string(id)
	}
	return "/orders/" + string(id)
}

func shortID(id types.ID) string {
	if len(id) > 8 {
		return "#" + string(id[:8])
	}
	return "#" + string(id)
}

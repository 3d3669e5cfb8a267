// README: Order state flow as code. The machine is stateless; callers pass the current status.
package order

// AllowedTransitions are the edges reachable through UpdateStatus.
// Cancellation from non-terminal states is added in init.
var AllowedTransitions = map[Status][]Status{
	StatusPaymentPending: {StatusOrderPlaced},
	StatusOrderPlaced:    {StatusConfirmed},
	StatusConfirmed:      {StatusPreparing},
	StatusPreparing:      {StatusShipped},
	StatusShipped:        {StatusOutForDelivery},
	StatusOutForDelivery: {StatusDelivered},
}

// ClaimableStatuses are the statuses a rider claim may start from. The claim edge
// (confirmed -> out_for_delivery) belongs to the delivery coordinator only.
var ClaimableStatuses = []Status{StatusConfirmed}

// CustomerCancellable is the short window in which a customer may cancel their own order.
var CustomerCancellable = []Status{StatusPaymentPending, StatusOrderPlaced}

func init() {
	for _, s := range AllStatuses {
		if !IsTerminal(s) {
			AllowedTransitions[s] = append(AllowedTransitions[s], StatusCancelled)
		}
	}
}

func IsTerminal(s Status) bool {
	switch s {
	case StatusDelivered, StatusCancelled:
		return true
	case StatusPaymentPending, StatusOrderPlaced, StatusConfirmed, StatusPreparing, StatusShipped, StatusOutForDelivery:
		return false
	}
	return false
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	return contains(next, to)
}

func CanClaim(s Status) bool {
	return contains(ClaimableStatuses, s)
}

func CanCustomerCancel(s Status) bool {
	return contains(CustomerCancellable, s)
}

// NextStatuses returns the UpdateStatus targets reachable from s.
func NextStatuses(s Status) []Status {
	return append([]Status(nil), AllowedTransitions[s]...)
}

func contains(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

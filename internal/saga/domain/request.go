package domain

// Priority is the delivery priority of an order.
type Priority string

const (
	PriorityStandard Priority = "STANDARD"
	PriorityExpress  Priority = "EXPRESS"
	PriorityUrgent   Priority = "URGENT"
)

// ParsePriority maps the wire value onto a known priority. Absent or
// unrecognized values default to STANDARD rather than failing the order.
func ParsePriority(raw string) Priority {
	switch Priority(raw) {
	case PriorityExpress:
		return PriorityExpress
	case PriorityUrgent:
		return PriorityUrgent
	default:
		return PriorityStandard
	}
}

// OrderFulfillmentRequest is the immutable input of one saga execution.
// OrderNumber is the unique business key; everything else is payload for the
// three remote systems.
type OrderFulfillmentRequest struct {
	OrderNumber        string
	ClientID           string
	PickupAddress      string
	DeliveryAddress    string
	PackageDescription string
	Priority           Priority
}

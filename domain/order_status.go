package domain

type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "CREATED"
	OrderStatusReserving OrderStatus = "RESERVING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusConfirmed || s == OrderStatusCancelled
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether the order lifecycle allows moving from
// status s to next. CONFIRMED is only reachable through RESERVING.
func CanTransitionTo(s, next OrderStatus) bool {
	switch next {
	case OrderStatusReserving:
		return s == OrderStatusCreated
	case OrderStatusConfirmed:
		return s == OrderStatusReserving
	case OrderStatusCancelled:
		return s == OrderStatusCreated || s == OrderStatusReserving
	default:
		return false
	}
}

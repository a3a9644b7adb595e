package domain

// PlaceOrderItem is one requested position before catalog enrichment.
type PlaceOrderItem struct {
	ItemID   int64
	Quantity int32
}

type PlaceOrderRequest struct {
	IdempotencyKey string
	Items          []PlaceOrderItem
}

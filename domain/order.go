package domain

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidOrder = errors.New("order must contain at least one line item with a positive quantity")

// LineItem is one ordered position. Title and Price are copied from the
// catalog at placement time so the order record stays readable even if the
// catalog changes later.
type LineItem struct {
	ItemID   int64   `json:"item_id"`
	Title    string  `json:"title,omitempty"`
	Price    float64 `json:"price,omitempty"`
	Quantity int32   `json:"quantity"`
}

// Order is the aggregate owned by this service. It is never deleted, only
// transitioned to a terminal status.
type Order struct {
	ID             string
	IdempotencyKey string
	Items          []LineItem
	Status         OrderStatus
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewOrder validates the line items and returns an order in CREATED state.
// Items are stored sorted ascending by item ID so reservation and
// compensation always walk them in the same order.
func NewOrder(idempotencyKey string, items []LineItem) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrInvalidOrder
	}
	for _, item := range items {
		if item.ItemID <= 0 || item.Quantity <= 0 {
			return nil, ErrInvalidOrder
		}
	}

	sorted := make([]LineItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ItemID < sorted[j].ItemID })

	now := time.Now()
	return &Order{
		ID:             uuid.New().String(),
		IdempotencyKey: idempotencyKey,
		Items:          sorted,
		Status:         OrderStatusCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

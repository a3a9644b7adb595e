package service

import (
	"context"
	"errors"
	"fmt"

	d "github.com/BassamT/bazar-com/domain"
	"github.com/BassamT/bazar-com/internal/catalog"
	"github.com/google/uuid"
)

// reserveItems walks the order's line items in ascending item-ID order and
// reserves each against the catalog, writing a PENDING ledger entry with a
// fresh idempotency token before every call. It returns a non-empty
// cancellation reason when a definitive failure stops the saga, or an error
// when storage itself misbehaves.
func (s *OrderServiceImpl) reserveItems(ctx context.Context, order *d.Order) (string, error) {
	for _, item := range order.Items {
		entry := &d.Reservation{
			OrderID:  order.ID,
			ItemID:   item.ItemID,
			Quantity: item.Quantity,
			Token:    uuid.New().String(),
		}
		if err := s.repo.AppendReservation(ctx, entry); err != nil {
			return "", fmt.Errorf("append ledger entry for item %d: %w", item.ItemID, err)
		}

		err := s.catalog.Reserve(ctx, item.ItemID, item.Quantity, entry.Token)
		switch {
		case err == nil:
			if e := s.repo.MarkReservationOutcome(ctx, order.ID, item.ItemID, d.ReservationReserved); e != nil {
				return "", fmt.Errorf("mark item %d reserved: %w", item.ItemID, e)
			}

		case errors.Is(err, catalog.ErrInsufficientStock):
			if e := s.repo.MarkReservationOutcome(ctx, order.ID, item.ItemID, d.ReservationFailed); e != nil {
				return "", fmt.Errorf("mark item %d failed: %w", item.ItemID, e)
			}
			return fmt.Sprintf("insufficient stock for item %d", item.ItemID), nil

		case errors.Is(err, catalog.ErrCatalogUnavailable):
			if e := s.repo.MarkReservationOutcome(ctx, order.ID, item.ItemID, d.ReservationFailed); e != nil {
				return "", fmt.Errorf("mark item %d failed: %w", item.ItemID, e)
			}
			return "catalog unavailable, try again later", nil

		case errors.Is(err, catalog.ErrItemNotFound):
			if e := s.repo.MarkReservationOutcome(ctx, order.ID, item.ItemID, d.ReservationFailed); e != nil {
				return "", fmt.Errorf("mark item %d failed: %w", item.ItemID, e)
			}
			return fmt.Sprintf("item %d not found in catalog", item.ItemID), nil

		default:
			return "", fmt.Errorf("reserve item %d: %w", item.ItemID, err)
		}
	}
	return "", nil
}

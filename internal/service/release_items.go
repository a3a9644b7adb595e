package service

import (
	"context"
	"log"

	d "github.com/BassamT/bazar-com/domain"
)

// releaseReserved compensates a failed saga: every item reserved so far is
// released back to the catalog, in the same ascending item-ID order as the
// forward pass. A release that fails here is not fatal — the entry stays
// RESERVED and the reconciler re-releases it with the same token later.
func (s *OrderServiceImpl) releaseReserved(ctx context.Context, orderID string) {
	entries, err := s.repo.ListReservationsByOrder(ctx, orderID)
	if err != nil {
		log.Printf("compensation: failed to list ledger entries for order %s: %v", orderID, err)
		return
	}

	for _, entry := range entries {
		switch entry.Outcome {
		case d.ReservationReserved:
			if err := s.catalog.Release(ctx, entry.ItemID, entry.Quantity, entry.Token); err != nil {
				log.Printf("compensation: release failed for order %s item %d: %v", orderID, entry.ItemID, err)
				continue
			}
			if err := s.repo.MarkReservationOutcome(ctx, entry.OrderID, entry.ItemID, d.ReservationReleased); err != nil {
				log.Printf("compensation: failed to mark item %d released for order %s: %v", entry.ItemID, orderID, err)
			}

		case d.ReservationFailed:
			// a transport-failed reserve may still have landed on the catalog
			// side; releasing the same token resolves the ambiguity and is a
			// no-op when nothing was reserved
			if err := s.catalog.Release(ctx, entry.ItemID, entry.Quantity, entry.Token); err != nil {
				log.Printf("compensation: ambiguity release failed for order %s item %d: %v", orderID, entry.ItemID, err)
			}
		}
	}
}

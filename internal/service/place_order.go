package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	d "github.com/BassamT/bazar-com/domain"
	r "github.com/BassamT/bazar-com/internal/repository"
)

// PlaceOrder runs the reservation saga for one order. There is no distributed
// transaction between this service and the catalog: atomicity is simulated by
// forward progress plus explicit compensation, with every step recorded in
// the reservation ledger before the catalog is touched. The returned order is
// always in a terminal state; a cancelled order is a business outcome, not an
// error.
func (s *OrderServiceImpl) PlaceOrder(ctx context.Context, request *d.PlaceOrderRequest) (*d.Order, error) {
	if request.IdempotencyKey != "" {
		existing, err := s.repo.GetOrderByIdempotencyKey(ctx, request.IdempotencyKey)
		if err != nil && !errors.Is(err, r.ErrIdempotencyKeyNotFound) {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			log.Printf("duplicate request detected idempotency_key = %v with order_id = %v and status = %v",
				request.IdempotencyKey, existing.ID, existing.Status)
			return existing, nil
		}
	}

	items, err := s.enrichItems(ctx, request.Items)
	if err != nil {
		return nil, err
	}

	order, err := d.NewOrder(request.IdempotencyKey, items)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, r.ErrDuplicateIdempotencyKey) {
			// lost the race against a concurrent replay of the same key
			return s.repo.GetOrderByIdempotencyKey(ctx, request.IdempotencyKey)
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	if err := s.repo.BeginReservation(ctx, order.ID); err != nil {
		return nil, fmt.Errorf("failed to begin reservation: %w", err)
	}
	order.Status = d.OrderStatusReserving

	reason, failErr := s.reserveItems(ctx, order)
	if failErr != nil {
		// ledger integrity or storage failure: abort this order only, leave
		// the ledger as-is for the reconciler
		return nil, failErr
	}

	if reason == "" {
		if err := s.repo.ConfirmOrder(ctx, order.ID); err != nil {
			return nil, fmt.Errorf("failed to confirm order: %w", err)
		}
		order.Status = d.OrderStatusConfirmed
		return order, nil
	}

	s.releaseReserved(ctx, order.ID)

	if err := s.repo.CancelOrder(ctx, order.ID, reason); err != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}
	order.Status = d.OrderStatusCancelled
	order.FailureReason = reason
	return order, nil
}

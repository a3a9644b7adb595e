package repository

import "errors"

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrIdempotencyKeyNotFound  = errors.New("idempotency key not found")
	ErrDuplicateIdempotencyKey = errors.New("an order with this idempotency key already exists")
	ErrIllegalTransition       = errors.New("illegal transition of order status")

	// ErrDuplicatePending means a PENDING ledger entry already exists for the
	// (order, item) pair. Two concurrent reservation attempts for the same
	// pair indicate a coordinator bug, never normal operation.
	ErrDuplicatePending    = errors.New("a pending reservation already exists for this order and item")
	ErrReservationNotFound = errors.New("reservation ledger entry not found")
)

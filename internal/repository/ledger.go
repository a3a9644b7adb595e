package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	d "github.com/BassamT/bazar-com/domain"
	"github.com/lib/pq"
)

// AppendReservation writes a PENDING ledger entry. A partial unique index on
// (order_id, item_id) WHERE outcome = 'PENDING' turns a concurrent second
// attempt for the same pair into ErrDuplicatePending.
func (r *Repository) AppendReservation(ctx context.Context, res *d.Reservation) error {
	query := `INSERT INTO reservations (order_id, item_id, quantity, token, outcome, attempts, last_attempt_at, created_at)
	          VALUES ($1, $2, $3, $4, $5, 1, NOW(), NOW())`

	_, err := r.db.ExecContext(ctx, query,
		res.OrderID,
		res.ItemID,
		res.Quantity,
		res.Token,
		d.ReservationPending)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicatePending
		}
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// MarkReservationOutcome moves the live entry for (order, item) to its new
// outcome. Only non-terminal entries (PENDING, RESERVED) can be moved; a miss
// means the ledger and the coordinator disagree, which is a defect.
func (r *Repository) MarkReservationOutcome(ctx context.Context, orderID string, itemID int64, outcome d.ReservationOutcome) error {
	query := `UPDATE reservations SET outcome = $1, last_attempt_at = NOW()
	          WHERE order_id = $2 AND item_id = $3 AND outcome IN ($4, $5)`

	res, err := r.db.ExecContext(ctx, query, outcome, orderID, itemID,
		d.ReservationPending, d.ReservationReserved)
	if err != nil {
		return fmt.Errorf("update reservation outcome: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		// tolerate replays: the entry may already carry the target outcome
		var current d.ReservationOutcome
		q := `SELECT outcome FROM reservations WHERE order_id = $1 AND item_id = $2 ORDER BY created_at DESC LIMIT 1`
		if scanErr := r.db.QueryRowContext(ctx, q, orderID, itemID).Scan(&current); scanErr != nil {
			return ErrReservationNotFound
		}
		if current == outcome {
			return nil
		}
		return ErrReservationNotFound
	}
	return nil
}

// TouchReservationAttempt bumps the attempt counter before a retry so a
// crashed retry is still visible in the ledger.
func (r *Repository) TouchReservationAttempt(ctx context.Context, orderID string, itemID int64) error {
	query := `UPDATE reservations SET attempts = attempts + 1, last_attempt_at = NOW()
	          WHERE order_id = $1 AND item_id = $2 AND outcome = $3`

	res, err := r.db.ExecContext(ctx, query, orderID, itemID, d.ReservationPending)
	if err != nil {
		return fmt.Errorf("touch reservation attempt: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrReservationNotFound
	}
	return nil
}

func (r *Repository) ListReservationsByOrder(ctx context.Context, orderID string) ([]*d.Reservation, error) {
	query := `SELECT order_id, item_id, quantity, token, outcome, attempts, last_attempt_at, created_at
	          FROM reservations WHERE order_id = $1 ORDER BY item_id ASC`

	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query reservations by order: %w", err)
	}
	defer rows.Close()

	return scanReservations(rows)
}

// ListStalePending returns PENDING entries whose last attempt predates the
// cutoff. These are the orders the reconciler has to resolve.
func (r *Repository) ListStalePending(ctx context.Context, olderThan time.Time) ([]*d.Reservation, error) {
	query := `SELECT order_id, item_id, quantity, token, outcome, attempts, last_attempt_at, created_at
	          FROM reservations WHERE outcome = $1 AND last_attempt_at < $2
	          ORDER BY order_id, item_id ASC`

	rows, err := r.db.QueryContext(ctx, query, d.ReservationPending, olderThan)
	if err != nil {
		return nil, fmt.Errorf("query stale pending reservations: %w", err)
	}
	defer rows.Close()

	return scanReservations(rows)
}

// ListOrphanedEntries returns RESERVED and FAILED entries belonging to orders
// that are already CANCELLED. A RESERVED one is compensation that failed
// mid-flight and still holds catalog stock; a FAILED one may have landed
// server side before the transport failure and still needs its token
// released.
func (r *Repository) ListOrphanedEntries(ctx context.Context, olderThan time.Time) ([]*d.Reservation, error) {
	query := `SELECT res.order_id, res.item_id, res.quantity, res.token, res.outcome, res.attempts, res.last_attempt_at, res.created_at
	          FROM reservations res
	          JOIN orders o ON o.id = res.order_id
	          WHERE res.outcome IN ($1, $2) AND o.status = $3 AND res.last_attempt_at < $4
	          ORDER BY res.order_id, res.item_id ASC`

	rows, err := r.db.QueryContext(ctx, query,
		d.ReservationReserved, d.ReservationFailed, d.OrderStatusCancelled, olderThan)
	if err != nil {
		return nil, fmt.Errorf("query orphaned entries: %w", err)
	}
	defer rows.Close()

	return scanReservations(rows)
}

// MarkReservationReleasedByToken settles one entry by its unique token,
// moving RESERVED or FAILED to RELEASED. The token pins the exact attempt
// when the (order, item) pair carries older resolved rows.
func (r *Repository) MarkReservationReleasedByToken(ctx context.Context, token string) error {
	query := `UPDATE reservations SET outcome = $1, last_attempt_at = NOW()
	          WHERE token = $2 AND outcome IN ($3, $4)`

	res, err := r.db.ExecContext(ctx, query, d.ReservationReleased, token,
		d.ReservationReserved, d.ReservationFailed)
	if err != nil {
		return fmt.Errorf("release reservation by token: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		var current d.ReservationOutcome
		q := `SELECT outcome FROM reservations WHERE token = $1`
		if scanErr := r.db.QueryRowContext(ctx, q, token).Scan(&current); scanErr != nil {
			return ErrReservationNotFound
		}
		if current == d.ReservationReleased {
			return nil
		}
		return ErrReservationNotFound
	}
	return nil
}

func scanReservations(rows *sql.Rows) ([]*d.Reservation, error) {
	var entries []*d.Reservation
	for rows.Next() {
		var res d.Reservation
		if err := rows.Scan(
			&res.OrderID,
			&res.ItemID,
			&res.Quantity,
			&res.Token,
			&res.Outcome,
			&res.Attempts,
			&res.LastAttemptAt,
			&res.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reservation row: %w", err)
		}
		entries = append(entries, &res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}

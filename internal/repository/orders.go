package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	d "github.com/BassamT/bazar-com/domain"
	"github.com/lib/pq"
)

func (r *Repository) CreateOrder(ctx context.Context, order *d.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}

	query := `INSERT INTO orders (id, idempotency_key, status, failure_reason, items, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`

	_, insertErr := r.db.ExecContext(ctx, query,
		order.ID,
		order.IdempotencyKey,
		order.Status,
		order.FailureReason,
		itemsJSON)

	if insertErr != nil {
		var pqErr *pq.Error
		if errors.As(insertErr, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert order: %w", insertErr)
	}
	return nil
}

func (r *Repository) GetOrderByID(ctx context.Context, id string) (*d.Order, error) {
	query := `SELECT id, idempotency_key, status, failure_reason, items, created_at, updated_at
	          FROM orders WHERE id = $1`
	return r.scanOrder(r.db.QueryRowContext(ctx, query, id))
}

func (r *Repository) GetOrderByIdempotencyKey(ctx context.Context, key string) (*d.Order, error) {
	query := `SELECT id, idempotency_key, status, failure_reason, items, created_at, updated_at
	          FROM orders WHERE idempotency_key = $1`
	order, err := r.scanOrder(r.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, ErrOrderNotFound) {
		return nil, ErrIdempotencyKeyNotFound
	}
	return order, err
}

func (r *Repository) ListOrders(ctx context.Context) ([]*d.Order, error) {
	query := `SELECT id, idempotency_key, status, failure_reason, items, created_at, updated_at
	          FROM orders ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []*d.Order
	for rows.Next() {
		var order d.Order
		var itemsJSON []byte
		if err := rows.Scan(
			&order.ID,
			&order.IdempotencyKey,
			&order.Status,
			&order.FailureReason,
			&itemsJSON,
			&order.CreatedAt,
			&order.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
			return nil, fmt.Errorf("unmarshal order items: %w", err)
		}
		orders = append(orders, &order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return orders, nil
}

// ListStaleReservingOrders returns orders sitting in RESERVING past the
// cutoff — the ones a crash or lost response left unresolved.
func (r *Repository) ListStaleReservingOrders(ctx context.Context, olderThan time.Time) ([]*d.Order, error) {
	return r.listStaleOrders(ctx, d.OrderStatusReserving, olderThan)
}

// ListStaleCreatedOrders returns orders stranded in CREATED past the cutoff.
// A crash between the order insert and the RESERVING transition leaves them
// with no ledger entries, so no ledger-driven sweep would ever find them.
func (r *Repository) ListStaleCreatedOrders(ctx context.Context, olderThan time.Time) ([]*d.Order, error) {
	return r.listStaleOrders(ctx, d.OrderStatusCreated, olderThan)
}

func (r *Repository) listStaleOrders(ctx context.Context, status d.OrderStatus, olderThan time.Time) ([]*d.Order, error) {
	query := `SELECT id, idempotency_key, status, failure_reason, items, created_at, updated_at
	          FROM orders WHERE status = $1 AND updated_at < $2 ORDER BY updated_at ASC`

	rows, err := r.db.QueryContext(ctx, query, status, olderThan)
	if err != nil {
		return nil, fmt.Errorf("query stale %s orders: %w", status, err)
	}
	defer rows.Close()

	var orders []*d.Order
	for rows.Next() {
		var order d.Order
		var itemsJSON []byte
		if err := rows.Scan(
			&order.ID,
			&order.IdempotencyKey,
			&order.Status,
			&order.FailureReason,
			&itemsJSON,
			&order.CreatedAt,
			&order.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
			return nil, fmt.Errorf("unmarshal order items: %w", err)
		}
		orders = append(orders, &order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}

// BeginReservation transitions CREATED -> RESERVING. Replaying the transition
// when the order is already RESERVING is a no-op; any other current status is
// an illegal transition.
func (r *Repository) BeginReservation(ctx context.Context, orderID string) error {
	query := `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, d.OrderStatusReserving, orderID, d.OrderStatusCreated)
	if err != nil {
		return fmt.Errorf("begin reservation: %w", err)
	}
	return r.checkTransition(ctx, res, orderID, d.OrderStatusReserving, "")
}

// ConfirmOrder transitions RESERVING -> CONFIRMED and writes the
// order-confirmed outbox event in the same transaction.
func (r *Repository) ConfirmOrder(ctx context.Context, orderID string) error {
	return r.finishOrder(ctx, orderID, d.OrderStatusConfirmed, "")
}

// CancelOrder transitions CREATED|RESERVING -> CANCELLED, recording the
// reason, and writes the order-cancelled outbox event in the same transaction.
func (r *Repository) CancelOrder(ctx context.Context, orderID string, reason string) error {
	return r.finishOrder(ctx, orderID, d.OrderStatusCancelled, reason)
}

func (r *Repository) finishOrder(ctx context.Context, orderID string, status d.OrderStatus, reason string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var query string
	var res sql.Result
	if status == d.OrderStatusConfirmed {
		query = `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`
		res, err = tx.ExecContext(ctx, query, status, orderID, d.OrderStatusReserving)
	} else {
		query = `UPDATE orders SET status = $1, failure_reason = $2, updated_at = NOW()
		         WHERE id = $3 AND status IN ($4, $5)`
		res, err = tx.ExecContext(ctx, query, status, reason, orderID,
			d.OrderStatusCreated, d.OrderStatusReserving)
	}
	if err != nil {
		return fmt.Errorf("transition order to %s: %w", status, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return r.replayOrIllegal(ctx, orderID, status)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"order_id":       orderID,
		"status":         status,
		"failure_reason": reason,
		"occurred_at":    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	eventType := "order-confirmed"
	if status == d.OrderStatusCancelled {
		eventType = "order-cancelled"
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox_events (aggregate_id, event_type, payload) VALUES ($1, $2, $3)`,
		orderID, eventType, payload)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	return tx.Commit()
}

func (r *Repository) checkTransition(ctx context.Context, res sql.Result, orderID string, target d.OrderStatus, _ string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return r.replayOrIllegal(ctx, orderID, target)
	}
	return nil
}

// replayOrIllegal decides why a guarded UPDATE matched nothing: the order may
// not exist, the transition may be a harmless replay, or it is a real defect.
func (r *Repository) replayOrIllegal(ctx context.Context, orderID string, target d.OrderStatus) error {
	var current d.OrderStatus
	err := r.db.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("query order status: %w", err)
	}
	if current == target {
		return nil // replayed transition, keep it idempotent
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, target)
}

func (r *Repository) scanOrder(row *sql.Row) (*d.Order, error) {
	var order d.Order
	var itemsJSON []byte
	err := row.Scan(
		&order.ID,
		&order.IdempotencyKey,
		&order.Status,
		&order.FailureReason,
		&itemsJSON,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	return &order, nil
}

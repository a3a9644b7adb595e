package repository

import (
	"context"
	"fmt"
	"time"
)

// OutboxEvent is a pending domain event written in the same transaction as
// the order transition that produced it.
type OutboxEvent struct {
	ID          int64
	AggregateId string
	EventType   string
	Payload     []byte
	Processed   bool
	CreatedAt   time.Time
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `SELECT id, aggregate_id, event_type, payload, processed, created_at
	          FROM outbox_events WHERE processed = FALSE
	          ORDER BY created_at ASC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var ev OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.AggregateId, &ev.EventType, &ev.Payload, &ev.Processed, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventAsProcessed(ctx context.Context, eventID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET processed = TRUE WHERE id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("mark event as processed: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusmart/marketplace/internal/outbox"
)

const (
	listUnpublishedSQL = `SELECT id, aggregate_id, event_type, payload, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1`

	countUnpublishedSQL = `SELECT count(*) FROM outbox_events WHERE published_at IS NULL`

	markPublishedSQL = `UPDATE outbox_events SET published_at = now()
		WHERE id = ANY($1) AND published_at IS NULL`
)

var _ outbox.Source = (*OutboxRepository)(nil)

// OutboxRepository reads and acknowledges outbox events.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// ListUnpublished returns up to limit unpublished events, oldest first.
func (r *OutboxRepository) ListUnpublished(ctx context.Context, limit int) ([]outbox.Event, error) {
	rows, err := r.pool.Query(ctx, listUnpublishedSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list unpublished events: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (outbox.Event, error) {
		var e outbox.Event
		err := row.Scan(&e.ID, &e.AggregateID, &e.Type, &e.Payload, &e.CreatedAt)
		return e, err
	})
}

// MarkPublished stamps the events as delivered.
func (r *OutboxRepository) MarkPublished(ctx context.Context, ids []string) error {
	if _, err := r.pool.Exec(ctx, markPublishedSQL, ids); err != nil {
		return fmt.Errorf("mark events published: %w", err)
	}
	return nil
}

// CountUnpublished returns the number of events waiting for delivery.
func (r *OutboxRepository) CountUnpublished(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countUnpublishedSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unpublished events: %w", err)
	}
	return n, nil
}

package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type pgOutbox struct {
	tx pgx.Tx
}

func (r *pgOutbox) Add(ctx context.Context, events ...domain.OutboxEvent) error {
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(`
			INSERT INTO shop.outbox_events (id, aggregate_id, type, payload, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			e.ID, e.AggregateID, e.Type, []byte(e.Payload), e.CreatedAt)
	}
	br := r.tx.SendBatch(ctx, batch)
	for range events {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert outbox event: %w", err)
		}
	}
	return br.Close()
}

func (r *pgOutbox) ClaimPending(ctx context.Context, c OutboxClaim) ([]domain.OutboxEvent, error) {
	rows, err := r.tx.Query(ctx, `
		UPDATE shop.outbox_events SET locked_until = $4
		WHERE id IN (
			SELECT id FROM shop.outbox_events
			WHERE dispatched_at IS NULL
			  AND attempts < $2
			  AND (locked_until IS NULL OR locked_until <= $3)
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED)
		RETURNING id, aggregate_id, type, payload, created_at, attempts, coalesce(last_error, '')`,
		c.Limit, c.MaxAttempts, c.Now, c.Until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.Type, &payload, &e.CreatedAt, &e.Attempts, &e.LastError); err != nil {
			return nil, err
		}
		e.Payload = payload
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING не сохраняет порядок подзапроса
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *pgOutbox) MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE shop.outbox_events SET dispatched_at = $2, attempts = attempts + 1, last_error = NULL, locked_until = NULL
		WHERE id = $1`, id, at)
	return err
}

func (r *pgOutbox) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE shop.outbox_events SET attempts = attempts + 1, last_error = $2, locked_until = NULL
		WHERE id = $1`, id, reason)
	return err
}

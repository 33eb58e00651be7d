package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type pgPayments struct {
	tx pgx.Tx
}

func (r *pgPayments) Create(ctx context.Context, p *domain.Payment) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO shop.payments
			(id, order_id, method, amount, status, provider_ref, provider_txn_id, paid_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.OrderID, p.Method, p.Amount, p.Status,
		nullIfEmpty(p.ProviderRef), nullIfEmpty(p.ProviderTxnID), p.PaidAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *pgPayments) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.Payment, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT id, order_id, method, amount, status, coalesce(provider_ref, ''), coalesce(provider_txn_id, ''),
		       paid_at, created_at, updated_at
		FROM shop.payments
		WHERE order_id = $1
		ORDER BY created_at DESC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Method, &p.Amount, &p.Status, &p.ProviderRef, &p.ProviderTxnID,
			&p.PaidAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *pgPayments) Update(ctx context.Context, p *domain.Payment) error {
	_, err := r.tx.Exec(ctx, `
		UPDATE shop.payments
		SET status = $2, provider_txn_id = $3, paid_at = $4, updated_at = $5
		WHERE id = $1`,
		p.ID, p.Status, nullIfEmpty(p.ProviderTxnID), p.PaidAt, p.UpdatedAt)
	return err
}

type pgWebhooks struct {
	tx pgx.Tx
}

func (r *pgWebhooks) Get(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	err := r.tx.QueryRow(ctx, `
		SELECT id, order_id, provider, status, response_code, created_at
		FROM shop.webhook_events WHERE id = $1`, id).
		Scan(&e.ID, &e.OrderID, &e.Provider, &e.Status, &e.ResponseCode, &e.CreatedAt)
	if err != nil {
		return nil, notFound(err, "webhook event")
	}
	return &e, nil
}

func (r *pgWebhooks) Insert(ctx context.Context, e *domain.WebhookEvent) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO shop.webhook_events (id, order_id, provider, status, response_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.OrderID, e.Provider, e.Status, e.ResponseCode, e.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("webhook %s: %w", e.ID, domain.ErrDuplicateWebhook)
	}
	return err
}

type pgRewards struct {
	tx pgx.Tx
}

func (r *pgRewards) AccruePoints(ctx context.Context, customerID string, orderID uuid.UUID, points int64) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO shop.loyalty_points (order_id, customer_id, points, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO NOTHING`, orderID, customerID, points, time.Now().UTC())
	return err
}

func (r *pgRewards) RecordGatewayFee(ctx context.Context, orderID uuid.UUID, provider domain.Provider, fee decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO shop.gateway_fees (order_id, provider, fee, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO NOTHING`, orderID, provider, fee, time.Now().UTC())
	return err
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/RaikyD/orders-checkout/internal/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) WithTransaction(ctx context.Context, level IsolationLevel, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.TxIsoLevel(level)})
	if err != nil {
		return classify(err)
	}

	defer func() {
		if tx != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				logger.Warn("rollback failed", "err", rbErr)
			}
		}
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	tx = nil
	return nil
}

// classify turns serialization failures and deadlocks into domain.ErrConcurrencyConflict.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, pgErr.Message)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Orders() OrderRepo       { return &OrderRepository{tx: t.tx} }
func (t *pgTx) Stock() StockLedger      { return &pgStock{tx: t.tx} }
func (t *pgTx) Carts() CartRepo         { return &pgCarts{tx: t.tx} }
func (t *pgTx) Coupons() DiscountLedger { return &pgCoupons{tx: t.tx} }
func (t *pgTx) Addresses() AddressRepo  { return &pgAddresses{tx: t.tx} }
func (t *pgTx) Payments() PaymentRepo   { return &pgPayments{tx: t.tx} }
func (t *pgTx) Outbox() OutboxRepo      { return &pgOutbox{tx: t.tx} }
func (t *pgTx) Webhooks() WebhookRepo   { return &pgWebhooks{tx: t.tx} }
func (t *pgTx) Rewards() RewardLedger   { return &pgRewards{tx: t.tx} }

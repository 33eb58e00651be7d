package repository

import (
	"context"
	"time"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type IsolationLevel string

const (
	ReadCommitted  IsolationLevel = "read committed"
	RepeatableRead IsolationLevel = "repeatable read"
	Serializable   IsolationLevel = "serializable"
)

// UnitOfWork runs fn in one transaction. Every repository call inside fn goes
// through the handles of tx; fn returning an error rolls everything back.
type UnitOfWork interface {
	WithTransaction(ctx context.Context, level IsolationLevel, fn func(tx Tx) error) error
}

type Tx interface {
	Orders() OrderRepo
	Stock() StockLedger
	Carts() CartRepo
	Coupons() DiscountLedger
	Addresses() AddressRepo
	Payments() PaymentRepo
	Outbox() OutboxRepo
	Webhooks() WebhookRepo
	Rewards() RewardLedger
}

type OrderRepo interface {
	Create(ctx context.Context, o *domain.Order) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// GetForUpdate takes a row lock held until the transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// Update persists status, payment, shipping and cancellation fields. Items and totals are immutable.
	Update(ctx context.Context, o *domain.Order) error
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]*domain.Order, error)
	FindByTrackingCode(ctx context.Context, code string) (*domain.Order, error)
}

type StockLedger interface {
	GetSKUs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.SKU, error)
	Reserve(ctx context.Context, skuID uuid.UUID, qty int) error
	Release(ctx context.Context, skuID uuid.UUID, qty int) error
}

type CartRepo interface {
	Items(ctx context.Context, customerID string) ([]domain.CartItem, error)
	Remove(ctx context.Context, customerID string, itemIDs []uuid.UUID) error
}

type DiscountLedger interface {
	FindByCode(ctx context.Context, code string) (*domain.Coupon, error)
	IsOwner(ctx context.Context, couponID uuid.UUID, customerID string) (bool, error)
	// Redeem increments usage at most once per order and fails when the limit is reached.
	Redeem(ctx context.Context, couponID, orderID uuid.UUID, customerID string) error
}

type AddressRepo interface {
	Get(ctx context.Context, customerID string, id uuid.UUID) (*domain.Address, error)
	Default(ctx context.Context, customerID string) (*domain.Address, error)
}

type PaymentRepo interface {
	Create(ctx context.Context, p *domain.Payment) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.Payment, error)
	Update(ctx context.Context, p *domain.Payment) error
}

// OutboxClaim leases up to Limit undispatched rows until Until. Rows whose
// lease has not expired at Now, or that failed MaxAttempts times, are skipped.
type OutboxClaim struct {
	Limit       int
	MaxAttempts int
	Now         time.Time
	Until       time.Time
}

type OutboxRepo interface {
	Add(ctx context.Context, events ...domain.OutboxEvent) error
	ClaimPending(ctx context.Context, c OutboxClaim) ([]domain.OutboxEvent, error)
	// MarkDispatched and MarkFailed release the lease.
	MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

type WebhookRepo interface {
	Get(ctx context.Context, id string) (*domain.WebhookEvent, error)
	// Insert returns domain.ErrDuplicateWebhook when the id already exists.
	Insert(ctx context.Context, e *domain.WebhookEvent) error
}

// RewardLedger stores payment side effects; each write is unique per order.
type RewardLedger interface {
	AccruePoints(ctx context.Context, customerID string, orderID uuid.UUID, points int64) error
	RecordGatewayFee(ctx context.Context, orderID uuid.UUID, provider domain.Provider, fee decimal.Decimal) error
}

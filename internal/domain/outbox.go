package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventStockExpiryCheck   = "order.stock_expiry_check"
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventPaymentSucceeded   = "payment.succeeded"
)

type OutboxEvent struct {
	ID           uuid.UUID       `json:"id"`
	AggregateID  uuid.UUID       `json:"aggregate_id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
	DispatchedAt *time.Time      `json:"dispatched_at,omitempty"`
	Attempts     int             `json:"attempts"`
	LastError    string          `json:"last_error,omitempty"`
}

func (e OutboxEvent) Dispatched() bool { return e.DispatchedAt != nil }

func NewOutboxEvent(aggregateID uuid.UUID, eventType string, payload any, now time.Time) (OutboxEvent, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return OutboxEvent{}, err
	}
	return OutboxEvent{
		ID:          uuid.New(),
		AggregateID: aggregateID,
		Type:        eventType,
		Payload:     b,
		CreatedAt:   now,
	}, nil
}

type StockExpiryPayload struct {
	OrderID   uuid.UUID `json:"order_id"`
	NotBefore time.Time `json:"not_before"`
}

type OrderCreatedPayload struct {
	OrderID       uuid.UUID       `json:"order_id"`
	TenantID      string          `json:"tenant_id"`
	CustomerID    string          `json:"customer_id"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	ItemCount     int             `json:"item_count"`
}

type StatusChangedPayload struct {
	OrderID    uuid.UUID `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	OldStatus  Status    `json:"old_status"`
	NewStatus  Status    `json:"new_status"`
	Reason     string    `json:"reason,omitempty"`
	Actor      Actor     `json:"actor"`
	Notify     bool      `json:"notify"`
}

type PaymentSucceededPayload struct {
	OrderID       uuid.UUID       `json:"order_id"`
	CustomerID    string          `json:"customer_id"`
	Provider      Provider        `json:"provider"`
	ProviderTxnID string          `json:"provider_transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
}

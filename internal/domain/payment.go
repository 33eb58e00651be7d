package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment is one payment attempt; at most one per order reaches PAID.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	OrderID       uuid.UUID       `json:"order_id"`
	Method        PaymentMethod   `json:"method"`
	Amount        decimal.Decimal `json:"amount"`
	Status        PaymentStatus   `json:"status"`
	ProviderRef   string          `json:"provider_ref,omitempty"`
	ProviderTxnID string          `json:"provider_transaction_id,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func NewPayment(orderID uuid.UUID, method PaymentMethod, amount decimal.Decimal, ref string, now time.Time) *Payment {
	return &Payment{
		ID:          uuid.New(),
		OrderID:     orderID,
		Method:      method,
		Amount:      amount,
		Status:      PaymentPending,
		ProviderRef: ref,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

type Provider string

const (
	ProviderVNPay   Provider = "vnpay"
	ProviderMomo    Provider = "momo"
	ProviderVietQR  Provider = "vietqr"
	ProviderCarrier Provider = "carrier"
)

func (p Provider) Method() PaymentMethod {
	switch p {
	case ProviderVNPay:
		return PaymentVNPay
	case ProviderMomo:
		return PaymentMomo
	case ProviderVietQR:
		return PaymentVietQR
	}
	return ""
}

type WebhookStatus string

const (
	WebhookProcessed WebhookStatus = "PROCESSED"
	WebhookIgnored   WebhookStatus = "IGNORED"
	WebhookFailed    WebhookStatus = "FAILED"
)

// WebhookEvent is the idempotency ledger row of one gateway callback.
type WebhookEvent struct {
	ID           string
	OrderID      uuid.UUID
	Provider     Provider
	Status       WebhookStatus
	ResponseCode string
	CreatedAt    time.Time
}

// WebhookID derives the ledger key from the provider and its own transaction id.
func WebhookID(p Provider, nativeID string) string {
	return string(p) + ":" + nativeID
}

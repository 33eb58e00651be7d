package application

import (
	"context"
	"time"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/RaikyD/orders-checkout/internal/payment"
	"github.com/shopspring/decimal"
)

// ShippingRates quotes a delivery fee. Called outside any transaction.
type ShippingRates interface {
	Quote(ctx context.Context, addr domain.Address, items []domain.Item) (decimal.Decimal, error)
}

// Carrier cancels a shipment that already has a tracking code.
type Carrier interface {
	Cancel(ctx context.Context, trackingCode string) error
}

type PaymentInitiator interface {
	Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.Initiation, error)
}

// WebhookGateway verifies and decodes the callbacks of one payment provider.
type WebhookGateway interface {
	Provider() domain.Provider
	ParseNotification(raw payment.Raw, now time.Time) (payment.Notification, error)
	Respond(o payment.Outcome) payment.Response
}

// PaymentSideEffects runs after a successful payment committed. Errors are logged only.
type PaymentSideEffects interface {
	OnPaymentSucceeded(ctx context.Context, o *domain.Order, res payment.Result) error
}

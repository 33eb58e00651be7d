package application

import (
	"context"
	"fmt"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/RaikyD/orders-checkout/internal/payment"
	"github.com/RaikyD/orders-checkout/internal/repository"
	"github.com/shopspring/decimal"
)

// 1 loyalty point per 10 000 of paid total
var pointUnit = decimal.NewFromInt(10000)

// DefaultGatewayFees are the provider commission rates.
var DefaultGatewayFees = map[domain.Provider]decimal.Decimal{
	domain.ProviderVNPay:  decimal.RequireFromString("0.011"),
	domain.ProviderMomo:   decimal.RequireFromString("0.02"),
	domain.ProviderVietQR: decimal.Zero,
}

// Rewards accrues loyalty points and books the gateway commission once a
// payment is confirmed. Both writes are unique per order, so replays are safe.
type Rewards struct {
	uow   repository.UnitOfWork
	fees  map[domain.Provider]decimal.Decimal
	scale int32
}

func NewRewards(uow repository.UnitOfWork, fees map[domain.Provider]decimal.Decimal, precision int32) *Rewards {
	if fees == nil {
		fees = DefaultGatewayFees
	}
	return &Rewards{uow: uow, fees: fees, scale: precision}
}

func (r *Rewards) OnPaymentSucceeded(ctx context.Context, o *domain.Order, res payment.Result) error {
	points := o.Total.Div(pointUnit).IntPart()
	fee := res.Amount.Mul(r.fees[res.Provider]).Round(r.scale)

	return r.uow.WithTransaction(ctx, repository.ReadCommitted, func(tx repository.Tx) error {
		if points > 0 {
			if err := tx.Rewards().AccruePoints(ctx, o.CustomerID, o.ID, points); err != nil {
				return fmt.Errorf("accrue points: %w", err)
			}
		}
		if err := tx.Rewards().RecordGatewayFee(ctx, o.ID, res.Provider, fee); err != nil {
			return fmt.Errorf("record gateway fee: %w", err)
		}
		return nil
	})
}

package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoupon_Check(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	later := now.Add(24 * time.Hour)
	earlier := now.Add(-24 * time.Hour)
	limit := 1

	cases := []struct {
		name   string
		coupon Coupon
		sub    int64
		ok     bool
	}{
		{"valid", Coupon{Code: "A", MinOrder: decimal.NewFromInt(100)}, 100, true},
		{"not started", Coupon{Code: "A", StartsAt: &later}, 100, false},
		{"expired", Coupon{Code: "A", ExpiresAt: &earlier}, 100, false},
		{"exhausted", Coupon{Code: "A", UsageLimit: &limit, UsedCount: 1}, 100, false},
		{"below minimum", Coupon{Code: "A", MinOrder: decimal.NewFromInt(500)}, 100, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.coupon.Check(now, decimal.NewFromInt(tc.sub))
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrCouponInvalid)
		})
	}
}

func TestCoupon_DiscountFor(t *testing.T) {
	maxD := decimal.NewFromInt(30000)
	pct := Coupon{Kind: CouponPercentage, Value: decimal.NewFromInt(10), MaxDiscount: &maxD}
	assert.True(t, pct.DiscountFor(decimal.NewFromInt(200000)).Equal(decimal.NewFromInt(20000)))
	assert.True(t, pct.DiscountFor(decimal.NewFromInt(1000000)).Equal(maxD))

	fixed := Coupon{Kind: CouponFixed, Value: decimal.NewFromInt(50000)}
	assert.True(t, fixed.DiscountFor(decimal.NewFromInt(20000)).Equal(decimal.NewFromInt(20000)))
}

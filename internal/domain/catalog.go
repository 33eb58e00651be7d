package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SKUStatus string

const (
	SKUActive   SKUStatus = "ACTIVE"
	SKUInactive SKUStatus = "INACTIVE"
)

type SKU struct {
	ID           uuid.UUID
	TenantID     string
	ProductName  string
	VariantLabel string
	Code         string
	Price        decimal.Decimal
	Stock        int
	Status       SKUStatus
}

type CartItem struct {
	ID         uuid.UUID
	CustomerID string
	SKUID      uuid.UUID
	Quantity   int
}

type Address struct {
	ID            uuid.UUID
	CustomerID    string
	RecipientName string
	Phone         string
	Line          string
	Ward          string
	District      string
	Province      string
	IsDefault     bool
}

func (a Address) String() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Line, a.Ward, a.District, a.Province} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

type CouponKind string

const (
	CouponPercentage CouponKind = "PERCENTAGE"
	CouponFixed      CouponKind = "FIXED"
)

type Coupon struct {
	ID          uuid.UUID
	TenantID    string
	Code        string
	Kind        CouponKind
	Value       decimal.Decimal
	MaxDiscount *decimal.Decimal
	MinOrder    decimal.Decimal
	StartsAt    *time.Time
	ExpiresAt   *time.Time
	UsageLimit  *int
	UsedCount   int
	// Personal coupons are redeemable only by customers listed as owners.
	Personal bool
}

// Check validates the coupon against the moment and the order subtotal.
// Ownership of personal coupons is checked by the caller against the owners record.
func (c *Coupon) Check(now time.Time, subtotal decimal.Decimal) error {
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return &CouponInvalidError{Code: c.Code, Reason: "not started yet"}
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return &CouponInvalidError{Code: c.Code, Reason: "expired"}
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return &CouponInvalidError{Code: c.Code, Reason: "usage limit reached"}
	}
	if subtotal.LessThan(c.MinOrder) {
		return &CouponInvalidError{Code: c.Code, Reason: fmt.Sprintf("minimum order amount is %s", c.MinOrder)}
	}
	return nil
}

func (c *Coupon) DiscountFor(subtotal decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch c.Kind {
	case CouponPercentage:
		d = subtotal.Mul(c.Value).Div(decimal.NewFromInt(100))
	default:
		d = c.Value
	}
	if c.MaxDiscount != nil && d.GreaterThan(*c.MaxDiscount) {
		d = *c.MaxDiscount
	}
	if d.GreaterThan(subtotal) {
		d = subtotal
	}
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

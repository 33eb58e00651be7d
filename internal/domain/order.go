package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusReturned   Status = "RETURNED"
	StatusRefunded   Status = "REFUNDED"
)

var AllStatuses = []Status{
	StatusPending, StatusConfirmed, StatusProcessing, StatusShipped,
	StatusDelivered, StatusCancelled, StatusReturned, StatusRefunded,
}

func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", NewValidationError("status", fmt.Sprintf("unknown status %q", s))
}

type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "COD"
	PaymentVNPay  PaymentMethod = "VNPAY"
	PaymentMomo   PaymentMethod = "MOMO"
	PaymentVietQR PaymentMethod = "VIETQR"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCOD, PaymentVNPay, PaymentMomo, PaymentVietQR:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// Actor is who asks for a transition; some targets are reserved to one actor.
type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorAdmin    Actor = "admin"
	ActorCarrier  Actor = "carrier"
	ActorGateway  Actor = "gateway"
	ActorSystem   Actor = "system"
)

// Item is a snapshot of the SKU at checkout time, never re-read from the catalog.
type Item struct {
	SKUID        uuid.UUID       `json:"sku_id"`
	ProductName  string          `json:"product_name"`
	VariantLabel string          `json:"variant_label"`
	SKUCode      string          `json:"sku_code"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int             `json:"quantity"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

type PaymentInfo struct {
	Method        PaymentMethod `json:"method"`
	Status        PaymentStatus `json:"status"`
	ProviderTxnID string        `json:"provider_transaction_id,omitempty"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
}

type ShippingInfo struct {
	RecipientName string     `json:"recipient_name"`
	Phone         string     `json:"phone"`
	Address       string     `json:"address"`
	Carrier       string     `json:"carrier,omitempty"`
	TrackingCode  string     `json:"tracking_code,omitempty"`
	ShippedAt     *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
}

// Order is the aggregate root. Status, payment and shipping fields change only
// through the methods below; repositories set them when loading.
type Order struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       string          `json:"tenant_id"`
	CustomerID     string          `json:"customer_id"`
	Status         Status          `json:"status"`
	Items          []Item          `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
	CouponCode     string          `json:"coupon_code,omitempty"`
	CouponDiscount decimal.Decimal `json:"coupon_discount"`
	Payment        PaymentInfo     `json:"payment"`
	Shipping       ShippingInfo    `json:"shipping"`
	CancelReason   string          `json:"cancel_reason,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type NewOrderParams struct {
	ID             uuid.UUID
	TenantID       string
	CustomerID     string
	Items          []Item
	CouponCode     string
	CouponDiscount decimal.Decimal
	ShippingCost   decimal.Decimal
	TaxRate        decimal.Decimal
	PaymentMethod  PaymentMethod
	Shipping       ShippingInfo
	// Precision is the number of decimal places of the currency (0 for VND).
	Precision int32
	Now       time.Time
}

// NewOrder builds a PENDING order and derives every total from the items.
func NewOrder(p NewOrderParams) (*Order, error) {
	if len(p.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if p.CustomerID == "" {
		return nil, NewValidationError("customer_id", "required")
	}
	if !p.PaymentMethod.Valid() {
		return nil, NewValidationError("payment_method", fmt.Sprintf("unsupported method %q", p.PaymentMethod))
	}
	if p.ShippingCost.IsNegative() {
		return nil, NewValidationError("shipping_cost", "must not be negative")
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	items := make([]Item, len(p.Items))
	subtotal := decimal.Zero
	for i, it := range p.Items {
		if it.Quantity <= 0 {
			return nil, NewValidationError("quantity", "must be positive")
		}
		if it.UnitPrice.IsNegative() {
			return nil, NewValidationError("unit_price", "must not be negative")
		}
		it.Subtotal = it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))).Round(p.Precision)
		subtotal = subtotal.Add(it.Subtotal)
		items[i] = it
	}

	discount := p.CouponDiscount.Round(p.Precision)
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	shipping := p.ShippingCost.Round(p.Precision)
	tax := subtotal.Sub(discount).Mul(p.TaxRate).Round(p.Precision)

	o := &Order{
		ID:             p.ID,
		TenantID:       p.TenantID,
		CustomerID:     p.CustomerID,
		Status:         StatusPending,
		Items:          items,
		Subtotal:       subtotal,
		Discount:       discount,
		ShippingCost:   shipping,
		Tax:            tax,
		Total:          subtotal.Sub(discount).Add(shipping).Add(tax),
		CouponCode:     p.CouponCode,
		CouponDiscount: discount,
		Payment:        PaymentInfo{Method: p.PaymentMethod, Status: PaymentPending},
		Shipping:       p.Shipping,
		CreatedAt:      p.Now,
		UpdatedAt:      p.Now,
	}
	if p.CouponCode == "" {
		o.CouponDiscount = decimal.Zero
	}
	return o, o.CheckTotals()
}

// CheckTotals verifies subtotal = sum(items) and total = subtotal - discount + shipping + tax.
func (o *Order) CheckTotals() error {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.Subtotal)
	}
	if !sum.Equal(o.Subtotal) {
		return fmt.Errorf("order %s: items sum %s != subtotal %s", o.ID, sum, o.Subtotal)
	}
	want := o.Subtotal.Sub(o.Discount).Add(o.ShippingCost).Add(o.Tax)
	if !want.Equal(o.Total) {
		return fmt.Errorf("order %s: total %s != %s", o.ID, o.Total, want)
	}
	return nil
}

func (o *Order) IsPaid() bool { return o.Payment.Status == PaymentPaid }

// AwaitingPayment reports whether a payment confirmation still means something.
func (o *Order) AwaitingPayment() bool {
	return (o.Status == StatusPending || o.Status == StatusConfirmed) && !o.IsPaid()
}

// OrderRef is the compact order reference handed to gateways (uuid without dashes).
func (o *Order) OrderRef() string {
	return OrderRef(o.ID)
}

func OrderRef(id uuid.UUID) string {
	b := make([]byte, 0, 32)
	for _, c := range id.String() {
		if c != '-' {
			b = append(b, byte(c))
		}
	}
	return string(b)
}

// MarkPaid records a confirmed gateway payment. It is not a status transition.
func (o *Order) MarkPaid(providerTxnID string, at time.Time) error {
	if o.IsPaid() {
		return fmt.Errorf("order %s already paid: %w", o.ID, ErrTransitionPolicy)
	}
	o.Payment.Status = PaymentPaid
	o.Payment.ProviderTxnID = providerTxnID
	o.Payment.PaidAt = &at
	o.UpdatedAt = at
	return nil
}

func (o *Order) MarkPaymentFailed(at time.Time) {
	if o.IsPaid() {
		return
	}
	o.Payment.Status = PaymentFailed
	o.UpdatedAt = at
}

// OverridePaymentStatus is the administrative correction of the payment status.
func (o *Order) OverridePaymentStatus(s PaymentStatus, at time.Time) error {
	if !s.Valid() {
		return NewValidationError("payment_status", fmt.Sprintf("unknown payment status %q", s))
	}
	o.Payment.Status = s
	if s == PaymentPaid && o.Payment.PaidAt == nil {
		o.Payment.PaidAt = &at
	}
	o.UpdatedAt = at
	return nil
}

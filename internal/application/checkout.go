package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/RaikyD/orders-checkout/internal/logger"
	"github.com/RaikyD/orders-checkout/internal/metrics"
	"github.com/RaikyD/orders-checkout/internal/payment"
	"github.com/RaikyD/orders-checkout/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CheckoutOptions struct {
	DefaultShippingFee decimal.Decimal
	TaxRate            decimal.Decimal
	Precision          int32
	Timeout            time.Duration
	MaxRetries         int
	StockExpiryDelay   time.Duration
}

// Recipient overrides the saved address book when the customer types an address at checkout.
type Recipient struct {
	Name    string
	Phone   string
	Address string
}

type CheckoutRequest struct {
	CustomerID string
	// ItemIDs selects cart items; empty means the whole cart.
	ItemIDs       []uuid.UUID
	PaymentMethod domain.PaymentMethod
	CouponCode    string
	AddressID     *uuid.UUID
	Recipient     *Recipient
	ReturnURL     string
	ClientIP      string
}

type CheckoutResult struct {
	Order      *domain.Order
	PaymentURL string
}

type CheckoutService struct {
	uow        repository.UnitOfWork
	rates      ShippingRates
	initiators map[domain.PaymentMethod]PaymentInitiator
	opts       CheckoutOptions
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewCheckoutService(uow repository.UnitOfWork, rates ShippingRates, initiators map[domain.PaymentMethod]PaymentInitiator, opts CheckoutOptions, m *metrics.Metrics) *CheckoutService {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.StockExpiryDelay <= 0 {
		opts.StockExpiryDelay = 15 * time.Minute
	}
	return &CheckoutService{
		uow:        uow,
		rates:      rates,
		initiators: initiators,
		opts:       opts,
		metrics:    m,
		now:        time.Now,
	}
}

// Checkout turns the selected cart items into a PENDING order. Stock, coupon
// usage, cart and outbox all change in one serializable transaction; payment
// initiation happens after commit and never undoes the order.
func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if strings.TrimSpace(req.CustomerID) == "" {
		return nil, domain.NewValidationError("customer_id", "required")
	}
	if !req.PaymentMethod.Valid() {
		return nil, domain.NewValidationError("paymentMethod", fmt.Sprintf("unsupported method %q", req.PaymentMethod))
	}

	var (
		addr    domain.Address
		preview []domain.Item
		order   *domain.Order
	)
	err := s.retrying(req.CustomerID, func() (err error) {
		addr, preview, err = s.prepare(ctx, req)
		return err
	})
	if err == nil {
		fee := s.quote(ctx, addr, preview)
		err = s.retrying(req.CustomerID, func() (err error) {
			order, err = s.place(ctx, req, addr, fee)
			return err
		})
	}
	if err != nil {
		s.metrics.Checkout(checkoutOutcome(err))
		return nil, err
	}
	s.metrics.Checkout("created")
	logger.Info("order created", "order_id", order.ID, "customer", order.CustomerID, "total", order.Total.String())

	res := &CheckoutResult{Order: order}
	res.PaymentURL = s.initiatePayment(ctx, order, req)
	return res, nil
}

// retrying reruns fn on serialization failures, at most MaxRetries times.
func (s *CheckoutService) retrying(customerID string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, domain.ErrConcurrencyConflict) || attempt >= s.opts.MaxRetries {
			return err
		}
		logger.Warn("checkout conflict, retrying", "customer", customerID, "attempt", attempt, "err", err)
	}
}

// prepare resolves the shipping address and the items to quote for. It runs
// in its own short read transaction; place re-validates everything.
func (s *CheckoutService) prepare(ctx context.Context, req CheckoutRequest) (domain.Address, []domain.Item, error) {
	var (
		addr  domain.Address
		items []domain.Item
	)
	err := s.uow.WithTransaction(ctx, repository.ReadCommitted, func(tx repository.Tx) error {
		a, err := s.resolveAddress(ctx, tx, req)
		if err != nil {
			return err
		}
		addr = *a

		selected, err := selectCartItems(ctx, tx, req)
		if err != nil {
			return err
		}
		skus, err := tx.Stock().GetSKUs(ctx, skuIDs(selected))
		if err != nil {
			return err
		}
		for _, ci := range selected {
			sku, ok := skus[ci.SKUID]
			if !ok {
				continue
			}
			if !domain.SameTenant(ctx, sku.TenantID) {
				return fmt.Errorf("sku %s: %w", sku.ID, domain.ErrTenantMismatch)
			}
			items = append(items, snapshot(sku, ci.Quantity))
		}
		return nil
	})
	return addr, items, err
}

func (s *CheckoutService) resolveAddress(ctx context.Context, tx repository.Tx, req CheckoutRequest) (*domain.Address, error) {
	if req.AddressID != nil {
		a, err := tx.Addresses().Get(ctx, req.CustomerID, *req.AddressID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewValidationError("addressId", "address not found")
		}
		return a, err
	}
	if r := req.Recipient; r != nil && strings.TrimSpace(r.Address) != "" {
		return &domain.Address{CustomerID: req.CustomerID, RecipientName: r.Name, Phone: r.Phone, Line: r.Address}, nil
	}
	a, err := tx.Addresses().Default(ctx, req.CustomerID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewValidationError("addressId", "shipping address required")
	}
	return a, err
}

func (s *CheckoutService) quote(ctx context.Context, addr domain.Address, items []domain.Item) decimal.Decimal {
	if s.rates == nil || len(items) == 0 {
		return s.opts.DefaultShippingFee
	}
	fee, err := s.rates.Quote(ctx, addr, items)
	if err != nil {
		logger.Warn("shipping quote failed, using default fee", "err", err, "fee", s.opts.DefaultShippingFee.String())
		return s.opts.DefaultShippingFee
	}
	return fee
}

func (s *CheckoutService) place(ctx context.Context, req CheckoutRequest, addr domain.Address, fee decimal.Decimal) (*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	var order *domain.Order
	err := s.uow.WithTransaction(ctx, repository.Serializable, func(tx repository.Tx) error {
		now := s.now().UTC()

		selected, err := selectCartItems(ctx, tx, req)
		if err != nil {
			return err
		}

		skus, err := tx.Stock().GetSKUs(ctx, skuIDs(selected))
		if err != nil {
			return err
		}
		requested := make(map[uuid.UUID]int, len(selected))
		for _, ci := range selected {
			requested[ci.SKUID] += ci.Quantity
		}
		items := make([]domain.Item, 0, len(selected))
		for _, ci := range selected {
			sku, ok := skus[ci.SKUID]
			if !ok || sku.Status != domain.SKUActive {
				return &domain.InsufficientStockError{SKUID: ci.SKUID, Requested: requested[ci.SKUID], Available: 0}
			}
			if !domain.SameTenant(ctx, sku.TenantID) {
				return fmt.Errorf("sku %s: %w", sku.ID, domain.ErrTenantMismatch)
			}
			if sku.Stock < requested[ci.SKUID] {
				return &domain.InsufficientStockError{SKUID: ci.SKUID, Requested: requested[ci.SKUID], Available: sku.Stock}
			}
			items = append(items, snapshot(sku, ci.Quantity))
		}

		subtotal := decimal.Zero
		for _, it := range items {
			subtotal = subtotal.Add(it.Subtotal)
		}

		var coupon *domain.Coupon
		discount := decimal.Zero
		if code := strings.TrimSpace(req.CouponCode); code != "" {
			coupon, err = s.checkCoupon(ctx, tx, code, req.CustomerID, subtotal, now)
			if err != nil {
				return err
			}
			discount = coupon.DiscountFor(subtotal)
		}

		o, err := domain.NewOrder(domain.NewOrderParams{
			TenantID:       domain.TenantFrom(ctx),
			CustomerID:     req.CustomerID,
			Items:          items,
			CouponCode:     couponCode(coupon),
			CouponDiscount: discount,
			ShippingCost:   fee,
			TaxRate:        s.opts.TaxRate,
			PaymentMethod:  req.PaymentMethod,
			Shipping: domain.ShippingInfo{
				RecipientName: addr.RecipientName,
				Phone:         addr.Phone,
				Address:       addr.String(),
			},
			Precision: s.opts.Precision,
			Now:       now,
		})
		if err != nil {
			return err
		}

		if err := tx.Orders().Create(ctx, o); err != nil {
			return err
		}
		if coupon != nil {
			if err := tx.Coupons().Redeem(ctx, coupon.ID, o.ID, req.CustomerID); err != nil {
				return err
			}
		}
		for _, it := range o.Items {
			if err := tx.Stock().Reserve(ctx, it.SKUID, it.Quantity); err != nil {
				return err
			}
		}
		cartIDs := make([]uuid.UUID, len(selected))
		for i, ci := range selected {
			cartIDs[i] = ci.ID
		}
		if err := tx.Carts().Remove(ctx, req.CustomerID, cartIDs); err != nil {
			return err
		}

		expiry, err := domain.NewOutboxEvent(o.ID, domain.EventStockExpiryCheck, domain.StockExpiryPayload{
			OrderID:   o.ID,
			NotBefore: now.Add(s.opts.StockExpiryDelay),
		}, now)
		if err != nil {
			return err
		}
		created, err := domain.NewOutboxEvent(o.ID, domain.EventOrderCreated, domain.OrderCreatedPayload{
			OrderID:       o.ID,
			TenantID:      o.TenantID,
			CustomerID:    o.CustomerID,
			Total:         o.Total,
			PaymentMethod: o.Payment.Method,
			ItemCount:     len(o.Items),
		}, now)
		if err != nil {
			return err
		}
		if err := tx.Outbox().Add(ctx, expiry, created); err != nil {
			return err
		}

		order = o
		return nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", domain.ErrCheckoutTimeout, s.opts.Timeout)
	}
	return order, err
}

func (s *CheckoutService) checkCoupon(ctx context.Context, tx repository.Tx, code, customerID string, subtotal decimal.Decimal, now time.Time) (*domain.Coupon, error) {
	c, err := tx.Coupons().FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !domain.SameTenant(ctx, c.TenantID) {
		return nil, fmt.Errorf("coupon %q: %w", code, domain.ErrTenantMismatch)
	}
	if err := c.Check(now, subtotal); err != nil {
		return nil, err
	}
	if c.Personal {
		owner, err := tx.Coupons().IsOwner(ctx, c.ID, customerID)
		if err != nil {
			return nil, err
		}
		if !owner {
			return nil, &domain.CouponInvalidError{Code: code, Reason: "not issued to this customer"}
		}
	}
	return c, nil
}

// initiatePayment returns the redirect URL, if any. Failures leave the order PENDING.
func (s *CheckoutService) initiatePayment(ctx context.Context, o *domain.Order, req CheckoutRequest) string {
	var init *payment.Initiation
	if gw, ok := s.initiators[o.Payment.Method]; ok {
		var err error
		init, err = gw.Initiate(ctx, payment.InitiateRequest{Order: o, ReturnURL: req.ReturnURL, ClientIP: req.ClientIP})
		if err != nil {
			logger.Warn("payment initiation failed, order stays pending", "order_id", o.ID, "method", o.Payment.Method, "err", err)
			return ""
		}
	}

	ref, url := "", ""
	if init != nil {
		ref, url = init.ProviderRef, init.RedirectURL
	}
	p := domain.NewPayment(o.ID, o.Payment.Method, o.Total, ref, s.now().UTC())
	err := s.uow.WithTransaction(ctx, repository.ReadCommitted, func(tx repository.Tx) error {
		return tx.Payments().Create(ctx, p)
	})
	if err != nil {
		logger.Warn("payment row not recorded", "order_id", o.ID, "err", err)
	}
	return url
}

func selectCartItems(ctx context.Context, tx repository.Tx, req CheckoutRequest) ([]domain.CartItem, error) {
	cart, err := tx.Carts().Items(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}
	if len(req.ItemIDs) == 0 {
		if len(cart) == 0 {
			return nil, domain.ErrEmptyCart
		}
		return cart, nil
	}

	want := make(map[uuid.UUID]bool, len(req.ItemIDs))
	for _, id := range req.ItemIDs {
		want[id] = true
	}
	var out []domain.CartItem
	for _, ci := range cart {
		if want[ci.ID] {
			out = append(out, ci)
		}
	}
	if len(out) == 0 {
		return nil, domain.ErrEmptyCart
	}
	return out, nil
}

func skuIDs(items []domain.CartItem) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, ci := range items {
		if !seen[ci.SKUID] {
			seen[ci.SKUID] = true
			ids = append(ids, ci.SKUID)
		}
	}
	return ids
}

func snapshot(sku domain.SKU, qty int) domain.Item {
	return domain.Item{
		SKUID:        sku.ID,
		ProductName:  sku.ProductName,
		VariantLabel: sku.VariantLabel,
		SKUCode:      sku.Code,
		UnitPrice:    sku.Price,
		Quantity:     qty,
		Subtotal:     sku.Price.Mul(decimal.NewFromInt(int64(qty))),
	}
}

func couponCode(c *domain.Coupon) string {
	if c == nil {
		return ""
	}
	return c.Code
}

func checkoutOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrCouponInvalid):
		return "coupon_invalid"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrTenantMismatch):
		return "tenant_mismatch"
	case errors.Is(err, domain.ErrCheckoutTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return "conflict"
	}
	return "error"
}

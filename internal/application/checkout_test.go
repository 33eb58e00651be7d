package application

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/RaikyD/orders-checkout/internal/shipping"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func (s *OrderFlowSuite) TestCheckout_CreatesOrderAndReservesStock() {
	res, err := s.checkout.Checkout(s.ctx, CheckoutRequest{CustomerID: customer, PaymentMethod: domain.PaymentVNPay})
	s.Require().NoError(err)

	o := res.Order
	s.Equal(domain.StatusPending, o.Status)
	s.Require().Len(o.Items, 1)
	s.Equal("AT-DEN-M", o.Items[0].SKUCode)
	s.True(o.Subtotal.Equal(decimal.NewFromInt(300000)))
	s.True(o.ShippingCost.Equal(decimal.NewFromInt(25000)))
	s.True(o.Total.Equal(decimal.NewFromInt(325000)))
	s.Equal("12 Le Loi, Quan 1, Ho Chi Minh", o.Shipping.Address)

	s.Equal(2, s.store.SKU(s.sku.ID).Stock)
	s.Empty(s.store.CartItems(customer))
	s.Len(s.eventsOfType(domain.EventStockExpiryCheck), 1)
	s.Len(s.eventsOfType(domain.EventOrderCreated), 1)

	s.True(strings.HasPrefix(res.PaymentURL, "https://sandbox.vnpayment.vn/"))
	s.Contains(res.PaymentURL, "vnp_TxnRef="+o.OrderRef())
	payments := s.store.Payments(o.ID)
	s.Require().Len(payments, 1)
	s.Equal(domain.PaymentPending, payments[0].Status)
	s.True(payments[0].Amount.Equal(o.Total))
}

func (s *OrderFlowSuite) TestCheckout_InsufficientStockCreatesNothing() {
	other := s.addToCart("cust-2", s.sku.ID, 6)

	_, err := s.checkout.Checkout(s.ctx, CheckoutRequest{
		CustomerID:    "cust-2",
		PaymentMethod: domain.PaymentCOD,
		Recipient:     &Recipient{Name: "B", Phone: "0911", Address: "1 Tran Hung Dao"},
	})
	s.Require().ErrorIs(err, domain.ErrInsufficientStock)

	var stockErr *domain.InsufficientStockError
	s.Require().True(errors.As(err, &stockErr))
	s.Equal(6, stockErr.Requested)
	s.Equal(5, stockErr.Available)

	s.Equal(0, s.store.OrderCount())
	s.Equal(5, s.store.SKU(s.sku.ID).Stock)
	s.Equal([]domain.CartItem{other}, s.store.CartItems("cust-2"))
	s.Empty(s.store.OutboxEvents())
}

func (s *OrderFlowSuite) TestCheckout_InactiveSKURejected() {
	sku := s.sku
	sku.Status = domain.SKUInactive
	s.store.SeedSKU(sku)

	_, err := s.checkout.Checkout(s.ctx, CheckoutRequest{CustomerID: customer, PaymentMethod: domain.PaymentCOD})
	s.ErrorIs(err, domain.ErrInsufficientStock)
	s.Equal(0, s.store.OrderCount())
}

func (s *OrderFlowSuite) TestCheckout_EmptySelection() {
	_, err := s.checkout.Checkout(s.ctx, CheckoutRequest{
		CustomerID:    customer,
		PaymentMethod: domain.PaymentCOD,
		ItemIDs:       []uuid.UUID{uuid.New()},
	})
	s.ErrorIs(err, domain.ErrEmptyCart)

	_, err = s.checkout.Checkout(s.ctx, CheckoutRequest{
		CustomerID:    "nobody",
		PaymentMethod: domain.PaymentCOD,
		Recipient:     &Recipient{Address: "somewhere"},
	})
	s.ErrorIs(err, domain.ErrEmptyCart)
}

func (s *OrderFlowSuite) TestCheckout_SelectionKeepsOtherCartItems() {
	second := domain.SKU{ID: uuid.New(), ProductName: "Quan", Code: "Q-1", Price: decimal.NewFromInt(50000), Stock: 10, Status: domain.SKUActive}
	s.store.SeedSKU(second)
	kept := s.addToCart(customer, second.ID, 1)

	res, err := s.checkout.Checkout(s.ctx, CheckoutRequest{
		CustomerID:    customer,
		PaymentMethod: domain.PaymentCOD,
		ItemIDs:       []uuid.UUID{s.cartItem.ID},
	})
	s.Require().NoError(err)
	s.Len(res.Order.Items, 1)
	s.Equal([]domain.CartItem{kept}, s.store.CartItems(customer))
	s.Equal(10, s.store.SKU(second.ID).Stock)
}

func (s *OrderFlowSuite) TestCheckout_QuoteFailureFallsBackToDefaultFee() {
	s.rates.err = errors.New("carrier down")

	o := s.placeOrder(domain.PaymentCOD)
	s.True(o.ShippingCost.Equal(decimal.NewFromInt(30000)))
	s.True(o.Total.Equal(decimal.NewFromInt(330000)))
}

func (s *OrderFlowSuite) TestCheckout_CouponAppliedOnce() {
	limit := 1
	maxDiscount := decimal.NewFromInt(20000)
	s.store.SeedCoupon(domain.Coupon{
		ID:          uuid.New(),
		Code:        "SALE10",
		Kind:        domain.CouponPercentage,
		Value:       decimal.NewFromInt(10),
		MaxDiscount: &maxDiscount,
		UsageLimit:  &limit,
	})

	res, err := s.checkout.Checkout(s.ctx, CheckoutRequest{CustomerID: customer, PaymentMethod: domain.PaymentCOD, CouponCode: "SALE10"})
	s.Require().NoError(err)
	s.True(res.Order.Discount.Equal(decimal.NewFromInt(20000)))
	s.Equal("SALE10", res.Order.CouponCode)
	s.True(res.Order.Total.Equal(decimal.NewFromInt(305000)))
	s.Equal(1, s.store.Coupon("SALE10").UsedCount)

	s.addToCart(customer, s.sku.ID, 1)
	_, err = s.checkout.Checkout(s.ctx, CheckoutRequest{CustomerID: customer, PaymentMethod: domain.PaymentCOD, CouponCode: "SALE10"})
	s.ErrorIs(err, domain.ErrCouponInvalid)
	s.Equal(1, s.store.Coupon("SALE10").UsedCount)
	s.Equal(2, s.store.SKU(s.sku.ID).Stock)
}

func (s *OrderFlowSuite) TestCheckout_PersonalCouponNeedsOwner() {
	s.store.SeedCoupon(domain.Coupon{
		ID:       uuid.New(),
		Code:     "WELCOME",
		Kind:     domain.CouponFixed,
		Value:    decimal.NewFromInt(15000),
		Personal: true,
	}, "someone-else")

	_, err := s.checkout.Checkout(s.ctx, CheckoutRequest{CustomerID: customer, PaymentMethod: domain.PaymentCOD, CouponCode: "WELCOME"})
	s.ErrorIs(err, domain.ErrCouponInvalid)
	s.Equal(0, s.store.OrderCount())
	s.Equal(5, s.store.SKU(s.sku.ID).Stock)

	_, err = s.checkout.Checkout(s.ctx, CheckoutRequest{CustomerID: customer, PaymentMethod: domain.PaymentCOD, CouponCode: "NOPE"})
	s.ErrorIs(err, domain.ErrCouponInvalid)
}

func (s *OrderFlowSuite) TestCheckout_RetriesSerializationConflicts() {
	s.store.InjectConflicts(2)
	o := s.placeOrder(domain.PaymentCOD)
	s.Equal(domain.StatusPending, o.Status)
	s.Equal(1, s.store.OrderCount())
}

func (s *OrderFlowSuite) TestCheckout_SurfacesConflictAfterRetries() {
	s.store.InjectConflicts(100)
	_, err := s.checkout.Checkout(s.ctx, CheckoutRequest{CustomerID: customer, PaymentMethod: domain.PaymentCOD})
	s.ErrorIs(err, domain.ErrConcurrencyConflict)
	s.Equal(0, s.store.OrderCount())
}

func (s *OrderFlowSuite) TestCheckout_PaymentInitiationFailureKeepsOrder() {
	res, err := s.checkout.Checkout(s.ctx, CheckoutRequest{CustomerID: customer, PaymentMethod: domain.PaymentMomo})
	s.Require().NoError(err)
	s.Empty(res.PaymentURL)
	s.Equal(domain.StatusPending, s.store.Order(res.Order.ID).Status)
	s.Empty(s.store.Payments(res.Order.ID))
}

func (s *OrderFlowSuite) TestCheckout_NoOverselling() {
	sku := domain.SKU{ID: uuid.New(), ProductName: "Limited", Code: "LTD", Price: decimal.NewFromInt(10000), Stock: 5, Status: domain.SKUActive}
	s.store.SeedSKU(sku)

	const buyers = 12
	for i := 0; i < buyers; i++ {
		s.addToCart(fmt.Sprintf("buyer-%d", i), sku.ID, 1)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		soldOut int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.checkout.Checkout(s.ctx, CheckoutRequest{
				CustomerID:    fmt.Sprintf("buyer-%d", i),
				PaymentMethod: domain.PaymentCOD,
				Recipient:     &Recipient{Address: "1 Hang Bai"},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOut++
			}
		}(i)
	}
	wg.Wait()

	s.Equal(5, ok)
	s.Equal(buyers-5, soldOut)
	s.Equal(0, s.store.SKU(sku.ID).Stock)
}

func (s *OrderFlowSuite) TestCheckout_QuoteInsuresItemSubtotals() {
	var insured int64
	carrier := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			InsuranceValue int64 `json:"insurance_value"`
		}
		s.NoError(json.NewDecoder(r.Body).Decode(&body))
		insured = body.InsuranceValue
		_, _ = w.Write([]byte(`{"code":200,"message":"Success","data":{"total":41000}}`))
	}))
	defer carrier.Close()

	svc := NewCheckoutService(s.store, shipping.NewClient(shipping.Config{BaseURL: carrier.URL}, nil), nil, CheckoutOptions{
		DefaultShippingFee: decimal.NewFromInt(30000),
	}, nil)
	res, err := svc.Checkout(s.ctx, CheckoutRequest{CustomerID: customer, PaymentMethod: domain.PaymentCOD})
	s.Require().NoError(err)

	s.Equal(int64(300000), insured)
	s.True(res.Order.ShippingCost.Equal(decimal.NewFromInt(41000)))
}

func (s *OrderFlowSuite) TestCheckout_ForeignTenantSKURejected() {
	foreign := domain.SKU{ID: uuid.New(), TenantID: "tenant-b", ProductName: "Quan jean", Code: "QJ-1", Price: decimal.NewFromInt(200000), Stock: 4, Status: domain.SKUActive}
	s.store.SeedSKU(foreign)
	s.addToCart("cust-2", foreign.ID, 1)

	ctx := domain.WithTenant(s.ctx, "tenant-a")
	_, err := s.checkout.Checkout(ctx, CheckoutRequest{
		CustomerID:    "cust-2",
		PaymentMethod: domain.PaymentCOD,
		Recipient:     &Recipient{Name: "B", Phone: "0911", Address: "1 Tran Hung Dao"},
	})
	s.Require().ErrorIs(err, domain.ErrTenantMismatch)
	s.Equal(0, s.store.OrderCount())
	s.Equal(4, s.store.SKU(foreign.ID).Stock)
	s.Len(s.store.CartItems("cust-2"), 1)

	res, err := s.checkout.Checkout(domain.WithTenant(s.ctx, "tenant-b"), CheckoutRequest{
		CustomerID:    "cust-2",
		PaymentMethod: domain.PaymentCOD,
		Recipient:     &Recipient{Name: "B", Phone: "0911", Address: "1 Tran Hung Dao"},
	})
	s.Require().NoError(err)
	s.Equal("tenant-b", res.Order.TenantID)
}

func (s *OrderFlowSuite) TestCheckout_ForeignTenantCouponRejected() {
	s.store.SeedCoupon(domain.Coupon{ID: uuid.New(), TenantID: "tenant-b", Code: "B10", Kind: domain.CouponFixed, Value: decimal.NewFromInt(10000)})

	_, err := s.checkout.Checkout(s.ctx, CheckoutRequest{CustomerID: customer, PaymentMethod: domain.PaymentCOD, CouponCode: "B10"})
	s.Require().ErrorIs(err, domain.ErrTenantMismatch)
	s.Equal(0, s.store.OrderCount())
	s.Equal(0, s.store.Coupon("B10").UsedCount)
}

func (s *OrderFlowSuite) TestCheckout_TimeoutIsNotRetried() {
	svc := NewCheckoutService(s.store, s.rates, nil, CheckoutOptions{Timeout: time.Nanosecond, MaxRetries: 3}, nil)
	_, err := svc.Checkout(s.ctx, CheckoutRequest{CustomerID: customer, PaymentMethod: domain.PaymentCOD})
	s.Require().ErrorIs(err, domain.ErrCheckoutTimeout)
	s.NotErrorIs(err, domain.ErrConcurrencyConflict)
	s.Equal(0, s.store.OrderCount())

	calls := 0
	err = svc.retrying(customer, func() error {
		calls++
		return domain.ErrCheckoutTimeout
	})
	s.ErrorIs(err, domain.ErrCheckoutTimeout)
	s.Equal(1, calls)
}

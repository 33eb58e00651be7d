package application

import (
	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/RaikyD/orders-checkout/internal/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func (s *OrderFlowSuite) TestWebhook_VNPaySuccessIsAppliedOnce() {
	o := s.placeOrder(domain.PaymentVNPay)
	raw := s.vnpayIPN(o.ID, o.Total, "00", "14000001")

	resp := s.reconciler.HandleWebhook(s.ctx, domain.ProviderVNPay, raw)
	s.Equal("00", resp.Code)
	s.Equal(map[string]string{"RspCode": "00", "Message": "Confirm Success"}, resp.Body)

	got := s.store.Order(o.ID)
	s.Equal(domain.StatusProcessing, got.Status)
	s.Equal(domain.PaymentPaid, got.Payment.Status)
	s.Equal("14000001", got.Payment.ProviderTxnID)

	payments := s.store.Payments(o.ID)
	s.Require().Len(payments, 1)
	s.Equal(domain.PaymentPaid, payments[0].Status)

	hooks := s.store.WebhookEvents()
	s.Require().Len(hooks, 1)
	s.Equal(domain.WebhookProcessed, hooks[0].Status)
	s.Equal("00", hooks[0].ResponseCode)

	s.Equal(int64(32), s.store.LoyaltyPoints(o.ID))
	s.True(s.store.GatewayFee(o.ID).Equal(decimal.NewFromInt(3575)))
	s.Len(s.eventsOfType(domain.EventPaymentSucceeded), 1)
	s.Len(s.eventsOfType(domain.EventOrderStatusChanged), 1)

	replay := s.reconciler.HandleWebhook(s.ctx, domain.ProviderVNPay, raw)
	s.Equal("00", replay.Code)
	s.Len(s.store.WebhookEvents(), 1)
	s.Len(s.store.Payments(o.ID), 1)
	s.Len(s.eventsOfType(domain.EventOrderStatusChanged), 1)
	s.Len(s.eventsOfType(domain.EventPaymentSucceeded), 1)
	s.Equal(domain.StatusProcessing, s.store.Order(o.ID).Status)
}

func (s *OrderFlowSuite) TestWebhook_SecondTransactionForPaidOrderIsIgnored() {
	o := s.placeOrder(domain.PaymentVNPay)
	s.Equal("00", s.reconciler.HandleWebhook(s.ctx, domain.ProviderVNPay, s.vnpayIPN(o.ID, o.Total, "00", "1")).Code)

	resp := s.reconciler.HandleWebhook(s.ctx, domain.ProviderVNPay, s.vnpayIPN(o.ID, o.Total, "00", "2"))
	s.Equal("00", resp.Code)

	hooks := s.store.WebhookEvents()
	s.Require().Len(hooks, 2)
	statuses := []domain.WebhookStatus{hooks[0].Status, hooks[1].Status}
	s.ElementsMatch([]domain.WebhookStatus{domain.WebhookProcessed, domain.WebhookIgnored}, statuses)
	s.Len(s.store.Payments(o.ID), 1)
}

func (s *OrderFlowSuite) TestWebhook_InsufficientAmountRejected() {
	o := s.placeOrder(domain.PaymentVNPay)

	resp := s.reconciler.HandleWebhook(s.ctx, domain.ProviderVNPay, s.vnpayIPN(o.ID, o.Total.Sub(decimal.NewFromInt(1)), "00", "9"))
	s.Equal("04", resp.Code)
	s.Equal(domain.StatusPending, s.store.Order(o.ID).Status)
	s.Empty(s.store.WebhookEvents())
	s.Equal(domain.PaymentPending, s.store.Payments(o.ID)[0].Status)
}

func (s *OrderFlowSuite) TestWebhook_GatewayFailureCancelsAndReleasesStock() {
	o := s.placeOrder(domain.PaymentVNPay)
	s.Equal(2, s.store.SKU(s.sku.ID).Stock)

	resp := s.reconciler.HandleWebhook(s.ctx, domain.ProviderVNPay, s.vnpayIPN(o.ID, o.Total, "24", "7"))
	s.Equal("00", resp.Code)

	got := s.store.Order(o.ID)
	s.Equal(domain.StatusCancelled, got.Status)
	s.Equal(domain.PaymentFailed, got.Payment.Status)
	s.Contains(got.CancelReason, "payment failed")
	s.Equal(5, s.store.SKU(s.sku.ID).Stock)

	hooks := s.store.WebhookEvents()
	s.Require().Len(hooks, 1)
	s.Equal(domain.WebhookProcessed, hooks[0].Status)
	s.Equal(domain.PaymentFailed, s.store.Payments(o.ID)[0].Status)
	s.Zero(s.store.LoyaltyPoints(o.ID))
}

func (s *OrderFlowSuite) TestWebhook_ForgedPayloadChangesNothing() {
	o := s.placeOrder(domain.PaymentVNPay)
	raw := s.vnpayIPN(o.ID, o.Total, "00", "5")
	raw.Query.Set("vnp_Amount", "100")

	resp := s.reconciler.HandleWebhook(s.ctx, domain.ProviderVNPay, raw)
	s.Equal("97", resp.Code)
	s.Equal(domain.StatusPending, s.store.Order(o.ID).Status)
	s.Empty(s.store.WebhookEvents())
}

func (s *OrderFlowSuite) TestWebhook_UnknownOrder() {
	resp := s.reconciler.HandleWebhook(s.ctx, domain.ProviderVNPay, s.vnpayIPN(uuid.New(), decimal.NewFromInt(1000), "00", "3"))
	s.Equal("01", resp.Code)
	s.Empty(s.store.WebhookEvents())
}

func (s *OrderFlowSuite) TestWebhook_CancelledOrderIsIgnored() {
	o := s.placeOrder(domain.PaymentVNPay)
	_, err := s.transitions.CancelMyOrder(s.ctx, customer, o.ID, "changed my mind")
	s.Require().NoError(err)

	resp := s.reconciler.HandleWebhook(s.ctx, domain.ProviderVNPay, s.vnpayIPN(o.ID, o.Total, "00", "4"))
	s.Equal("00", resp.Code)
	s.Equal(domain.StatusCancelled, s.store.Order(o.ID).Status)

	hooks := s.store.WebhookEvents()
	s.Require().Len(hooks, 1)
	s.Equal(domain.WebhookIgnored, hooks[0].Status)
}

func (s *OrderFlowSuite) TestWebhook_StoreFailureAsksGatewayToRetry() {
	o := s.placeOrder(domain.PaymentVNPay)
	raw := s.vnpayIPN(o.ID, o.Total, "00", "6")

	s.store.InjectConflicts(1)
	resp := s.reconciler.HandleWebhook(s.ctx, domain.ProviderVNPay, raw)
	s.Equal("99", resp.Code)
	s.Equal(domain.StatusPending, s.store.Order(o.ID).Status)

	resp = s.reconciler.HandleWebhook(s.ctx, domain.ProviderVNPay, raw)
	s.Equal("00", resp.Code)
	s.Equal(domain.StatusProcessing, s.store.Order(o.ID).Status)
}

func (s *OrderFlowSuite) TestWebhook_UnconfiguredProvider() {
	resp := s.reconciler.HandleWebhook(s.ctx, domain.ProviderMomo, payment.Raw{Body: []byte(`{}`)})
	s.Equal("99", resp.Code)
}

package application

import (
	"encoding/json"
	"errors"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/RaikyD/orders-checkout/internal/tasks"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func (s *OrderFlowSuite) TestTransition_PendingToDeliveredRejected() {
	o := s.placeOrder(domain.PaymentCOD)

	_, err := s.transitions.Transition(s.ctx, TransitionRequest{OrderID: o.ID, To: domain.StatusDelivered, Actor: domain.ActorAdmin})
	var te *domain.InvalidTransitionError
	s.Require().True(errors.As(err, &te))
	s.Equal(domain.StatusPending, te.From)
	s.Equal(domain.StatusDelivered, te.To)

	s.Equal(domain.StatusPending, s.store.Order(o.ID).Status)
	s.Empty(s.eventsOfType(domain.EventOrderStatusChanged))
}

func (s *OrderFlowSuite) TestTransition_CarrierCancelFailureAbortsCancellation() {
	o := s.seedOrder(domain.StatusProcessing, "GHN123")
	s.carrier.err = &domain.ExternalGatewayError{Gateway: "ghn", Err: errors.New("503")}

	_, err := s.transitions.Transition(s.ctx, TransitionRequest{OrderID: o.ID, To: domain.StatusCancelled, Actor: domain.ActorAdmin, Reason: "out of stock"})
	s.Require().ErrorIs(err, domain.ErrExternalGateway)

	got := s.store.Order(o.ID)
	s.Equal(domain.StatusProcessing, got.Status)
	s.Empty(got.CancelReason)
	s.Equal(2, s.store.SKU(s.sku.ID).Stock)

	s.carrier.err = nil
	got, err = s.transitions.Transition(s.ctx, TransitionRequest{OrderID: o.ID, To: domain.StatusCancelled, Actor: domain.ActorAdmin, Reason: "out of stock"})
	s.Require().NoError(err)
	s.Equal(domain.StatusCancelled, got.Status)
	s.Equal([]string{"GHN123"}, s.carrier.cancelled)
	s.Equal(5, s.store.SKU(s.sku.ID).Stock)
}

func (s *OrderFlowSuite) TestTransition_CancellationReleasesExactlyWhatWasReserved() {
	second := domain.SKU{ID: uuid.New(), ProductName: "Mu", Code: "MU-1", Price: decimal.NewFromInt(40000), Stock: 7, Status: domain.SKUActive}
	s.store.SeedSKU(second)
	s.addToCart(customer, second.ID, 2)
	s.addToCart(customer, s.sku.ID, 1)

	o := s.placeOrder(domain.PaymentCOD)
	s.Equal(1, s.store.SKU(s.sku.ID).Stock)
	s.Equal(5, s.store.SKU(second.ID).Stock)

	_, err := s.transitions.CancelMyOrder(s.ctx, customer, o.ID, "  wrong size ")
	s.Require().NoError(err)
	s.Equal(5, s.store.SKU(s.sku.ID).Stock)
	s.Equal(7, s.store.SKU(second.ID).Stock)
	s.Equal("wrong size", s.store.Order(o.ID).CancelReason)

	_, err = s.transitions.Transition(s.ctx, TransitionRequest{OrderID: o.ID, To: domain.StatusCancelled, Actor: domain.ActorAdmin, Reason: "again"})
	s.ErrorIs(err, domain.ErrInvalidTransition)
	s.Equal(5, s.store.SKU(s.sku.ID).Stock)
}

func (s *OrderFlowSuite) TestTransition_CancelMyOrderRules() {
	o := s.placeOrder(domain.PaymentCOD)

	_, err := s.transitions.CancelMyOrder(s.ctx, "intruder", o.ID, "x")
	s.ErrorIs(err, domain.ErrNotFound)

	_, err = s.transitions.CancelMyOrder(s.ctx, customer, o.ID, "   ")
	s.ErrorIs(err, domain.ErrValidation)

	_, err = s.transitions.Transition(s.ctx, TransitionRequest{OrderID: o.ID, To: domain.StatusConfirmed, Actor: domain.ActorAdmin})
	s.Require().NoError(err)
	_, err = s.transitions.CancelMyOrder(s.ctx, customer, o.ID, "too late")
	s.ErrorIs(err, domain.ErrTransitionPolicy)
	s.Equal(2, s.store.SKU(s.sku.ID).Stock)
}

func (s *OrderFlowSuite) TestTransition_ProcessingNeedsPaymentOrForce() {
	o := s.placeOrder(domain.PaymentVNPay)

	_, err := s.transitions.Transition(s.ctx, TransitionRequest{OrderID: o.ID, To: domain.StatusProcessing, Actor: domain.ActorAdmin})
	s.ErrorIs(err, domain.ErrTransitionPolicy)

	_, err = s.transitions.Transition(s.ctx, TransitionRequest{OrderID: o.ID, To: domain.StatusProcessing, Actor: domain.ActorCustomer, Force: true})
	s.ErrorIs(err, domain.ErrTransitionPolicy, "only admins may force")

	got, err := s.transitions.Transition(s.ctx, TransitionRequest{OrderID: o.ID, To: domain.StatusProcessing, Actor: domain.ActorAdmin, Force: true, Notify: true})
	s.Require().NoError(err)
	s.Equal(domain.StatusProcessing, got.Status)

	events := s.eventsOfType(domain.EventOrderStatusChanged)
	s.Require().Len(events, 1)
	var p domain.StatusChangedPayload
	s.Require().NoError(json.Unmarshal(events[0].Payload, &p))
	s.Equal(domain.StatusPending, p.OldStatus)
	s.Equal(domain.StatusProcessing, p.NewStatus)
	s.True(p.Notify)
}

func (s *OrderFlowSuite) TestTransition_ShipIsCarrierDriven() {
	o := s.seedOrder(domain.StatusProcessing, "")

	_, err := s.transitions.Transition(s.ctx, TransitionRequest{OrderID: o.ID, To: domain.StatusShipped, Actor: domain.ActorAdmin})
	s.ErrorIs(err, domain.ErrTransitionPolicy)

	applied, err := s.transitions.ApplyCarrierUpdate(s.ctx, CarrierUpdate{OrderID: o.ID, To: domain.StatusShipped, Carrier: "ghn", TrackingCode: "GHN777"})
	s.Require().NoError(err)
	s.True(applied)

	got := s.store.Order(o.ID)
	s.Equal(domain.StatusShipped, got.Status)
	s.Equal("GHN777", got.Shipping.TrackingCode)
	s.NotNil(got.Shipping.ShippedAt)

	applied, err = s.transitions.ApplyCarrierUpdate(s.ctx, CarrierUpdate{TrackingCode: "GHN777", To: domain.StatusShipped})
	s.Require().NoError(err)
	s.False(applied, "repeated carrier status")

	applied, err = s.transitions.ApplyCarrierUpdate(s.ctx, CarrierUpdate{TrackingCode: "GHN777", To: domain.StatusDelivered})
	s.Require().NoError(err)
	s.True(applied)
	s.NotNil(s.store.Order(o.ID).Shipping.DeliveredAt)

	_, err = s.transitions.ApplyCarrierUpdate(s.ctx, CarrierUpdate{TrackingCode: "UNKNOWN", To: domain.StatusDelivered})
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *OrderFlowSuite) TestTransition_AdminPaymentOverride() {
	o := s.placeOrder(domain.PaymentCOD)

	got, err := s.transitions.Transition(s.ctx, TransitionRequest{OrderID: o.ID, Actor: domain.ActorAdmin, PaymentStatus: domain.PaymentPaid})
	s.Require().NoError(err)
	s.Equal(domain.PaymentPaid, got.Payment.Status)
	s.Equal(domain.StatusPending, got.Status)
	s.Equal(domain.PaymentPaid, s.store.Order(o.ID).Payment.Status)

	_, err = s.transitions.Transition(s.ctx, TransitionRequest{OrderID: o.ID, Actor: domain.ActorCustomer, PaymentStatus: domain.PaymentRefunded})
	s.ErrorIs(err, domain.ErrForbidden)
}

func (s *OrderFlowSuite) TestStockExpiry_CancelsUnpaidOrder() {
	o := s.placeOrder(domain.PaymentVNPay)
	events := s.eventsOfType(domain.EventStockExpiryCheck)
	s.Require().Len(events, 1)

	task := tasks.Task{ID: events[0].ID.String(), Type: tasks.TypeStockExpiry, Payload: events[0].Payload}
	s.Require().NoError(s.transitions.HandleStockExpiry(s.ctx, task))

	got := s.store.Order(o.ID)
	s.Equal(domain.StatusCancelled, got.Status)
	s.Equal("payment timeout", got.CancelReason)
	s.Equal(5, s.store.SKU(s.sku.ID).Stock)

	s.Require().NoError(s.transitions.HandleStockExpiry(s.ctx, task))
	s.Equal(5, s.store.SKU(s.sku.ID).Stock)
}

func (s *OrderFlowSuite) TestStockExpiry_LeavesPaidAndCODOrders() {
	paid := s.placeOrder(domain.PaymentVNPay)
	s.Equal("00", s.reconciler.HandleWebhook(s.ctx, domain.ProviderVNPay, s.vnpayIPN(paid.ID, paid.Total, "00", "11")).Code)
	s.Require().NoError(s.transitions.ExpireIfPending(s.ctx, paid.ID))
	s.Equal(domain.StatusProcessing, s.store.Order(paid.ID).Status)

	s.addToCart(customer, s.sku.ID, 1)
	cod := s.placeOrder(domain.PaymentCOD)
	s.Require().NoError(s.transitions.ExpireIfPending(s.ctx, cod.ID))
	s.Equal(domain.StatusPending, s.store.Order(cod.ID).Status)

	s.NoError(s.transitions.ExpireIfPending(s.ctx, uuid.New()))
}

func (s *OrderFlowSuite) TestTransition_OtherTenantCannotTouchOrder() {
	o := s.placeOrder(domain.PaymentCOD)
	other := domain.WithTenant(s.ctx, "tenant-b")

	_, err := s.transitions.Transition(other, TransitionRequest{OrderID: o.ID, To: domain.StatusConfirmed, Actor: domain.ActorAdmin})
	s.ErrorIs(err, domain.ErrNotFound)
	_, err = s.transitions.CancelMyOrder(other, customer, o.ID, "not mine")
	s.ErrorIs(err, domain.ErrNotFound)

	s.Equal(domain.StatusPending, s.store.Order(o.ID).Status)
	s.Equal(2, s.store.SKU(s.sku.ID).Stock)
}

package application

import (
	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/google/uuid"
)

func (s *OrderFlowSuite) TestOrdersService_CachesTerminalOrdersOnly() {
	svc := NewOrdersService(s.store)
	o := s.placeOrder(domain.PaymentCOD)

	got, err := svc.GetByID(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(domain.StatusPending, got.Status)

	_, err = s.transitions.CancelMyOrder(s.ctx, customer, o.ID, "changed my mind")
	s.Require().NoError(err)

	got, err = svc.GetByID(s.ctx, o.ID)
	s.Require().NoError(err)
	s.Equal(domain.StatusCancelled, got.Status, "pending order was not cached")

	_, err = s.transitions.Transition(s.ctx, TransitionRequest{OrderID: o.ID, Actor: domain.ActorAdmin, PaymentStatus: domain.PaymentRefunded})
	s.Require().NoError(err)
	got, _ = svc.GetByID(s.ctx, o.ID)
	s.Equal(domain.PaymentPending, got.Payment.Status, "served from cache")

	svc.Invalidate(o.ID)
	got, _ = svc.GetByID(s.ctx, o.ID)
	s.Equal(domain.PaymentRefunded, got.Payment.Status)

	_, err = svc.GetByID(s.ctx, uuid.New())
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *OrderFlowSuite) TestOrdersService_ListByCustomer() {
	svc := NewOrdersService(s.store)
	first := s.placeOrder(domain.PaymentCOD)
	s.addToCart(customer, s.sku.ID, 1)
	s.placeOrder(domain.PaymentCOD)

	list, err := svc.ListByCustomer(s.ctx, customer, 0)
	s.Require().NoError(err)
	s.Len(list, 2)

	list, err = svc.ListByCustomer(s.ctx, customer, 1)
	s.Require().NoError(err)
	s.Len(list, 1)

	others, err := svc.ListByCustomer(s.ctx, "someone", 10)
	s.Require().NoError(err)
	s.Empty(others)
	s.NotEqual(uuid.Nil, first.ID)
}

func (s *OrderFlowSuite) TestOrdersService_HidesOtherTenants() {
	svc := NewOrdersService(s.store)
	o := s.placeOrder(domain.PaymentCOD)
	other := domain.WithTenant(s.ctx, "tenant-b")

	_, err := svc.GetByID(other, o.ID)
	s.ErrorIs(err, domain.ErrNotFound)
	s.ErrorIs(err, domain.ErrTenantMismatch)

	list, err := svc.ListByCustomer(other, customer, 0)
	s.Require().NoError(err)
	s.Empty(list)

	_, err = s.transitions.CancelMyOrder(s.ctx, customer, o.ID, "changed my mind")
	s.Require().NoError(err)
	_, err = svc.GetByID(s.ctx, o.ID)
	s.Require().NoError(err)
	_, err = svc.GetByID(other, o.ID)
	s.ErrorIs(err, domain.ErrTenantMismatch, "cached orders are checked too")
}

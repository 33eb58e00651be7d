package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/RaikyD/orders-checkout/internal/logger"
	"github.com/RaikyD/orders-checkout/internal/metrics"
	"github.com/RaikyD/orders-checkout/internal/repository"
	"github.com/RaikyD/orders-checkout/internal/tasks"
	"github.com/google/uuid"
)

const reasonPaymentTimeout = "payment timeout"

type TransitionRequest struct {
	OrderID uuid.UUID
	// To may be empty when only PaymentStatus is corrected.
	To            domain.Status
	Actor         domain.Actor
	Reason        string
	Force         bool
	Notify        bool
	PaymentStatus domain.PaymentStatus
	Carrier       string
	TrackingCode  string
}

type TransitionService struct {
	uow     repository.UnitOfWork
	carrier Carrier
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewTransitionService(uow repository.UnitOfWork, carrier Carrier, m *metrics.Metrics) *TransitionService {
	return &TransitionService{uow: uow, carrier: carrier, metrics: m, now: time.Now}
}

// Transition locks the order row and applies req in one transaction.
func (s *TransitionService) Transition(ctx context.Context, req TransitionRequest) (*domain.Order, error) {
	var (
		out    *domain.Order
		change *domain.StatusChangedPayload
	)
	err := s.uow.WithTransaction(ctx, repository.ReadCommitted, func(tx repository.Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if err := ownTenant(ctx, o); err != nil {
			return err
		}
		change, err = s.ApplyInTx(ctx, tx, o, req)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recorded(change)
	return out, nil
}

// CancelMyOrder is the customer self-cancel: owner only, PENDING only.
func (s *TransitionService) CancelMyOrder(ctx context.Context, customerID string, orderID uuid.UUID, reason string) (*domain.Order, error) {
	var (
		out    *domain.Order
		change *domain.StatusChangedPayload
	)
	err := s.uow.WithTransaction(ctx, repository.ReadCommitted, func(tx repository.Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := ownTenant(ctx, o); err != nil {
			return err
		}
		if o.CustomerID != customerID {
			return fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
		}
		if o.Status != domain.StatusPending {
			return fmt.Errorf("%w: only pending orders can be cancelled by the customer", domain.ErrTransitionPolicy)
		}
		change, err = s.ApplyInTx(ctx, tx, o, TransitionRequest{
			OrderID: orderID,
			To:      domain.StatusCancelled,
			Actor:   domain.ActorCustomer,
			Reason:  reason,
			Notify:  true,
		})
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recorded(change)
	return out, nil
}

// ApplyInTx runs the state machine on a locked order and performs the
// compensations that must commit with it: carrier cancellation and stock
// release on CANCELLED, plus the status_changed outbox event. The returned
// change is nil when only the payment status was corrected.
func (s *TransitionService) ApplyInTx(ctx context.Context, tx repository.Tx, o *domain.Order, req TransitionRequest) (*domain.StatusChangedPayload, error) {
	now := s.now().UTC()
	from := o.Status

	if req.PaymentStatus != "" {
		if req.Actor != domain.ActorAdmin {
			return nil, fmt.Errorf("%w: payment status is corrected by admins only", domain.ErrForbidden)
		}
		if err := o.OverridePaymentStatus(req.PaymentStatus, now); err != nil {
			return nil, err
		}
	}
	if req.To == "" {
		if req.PaymentStatus == "" {
			return nil, domain.NewValidationError("status", "required")
		}
		return nil, tx.Orders().Update(ctx, o)
	}

	opts := domain.TransitionOptions{
		Actor:        req.Actor,
		Reason:       req.Reason,
		Force:        req.Force && req.Actor == domain.ActorAdmin,
		At:           now,
		Carrier:      req.Carrier,
		TrackingCode: req.TrackingCode,
	}
	if err := o.Apply(req.To, opts); err != nil {
		return nil, err
	}

	if o.Status == domain.StatusCancelled {
		if err := s.cancelShipment(ctx, o, req.Actor); err != nil {
			return nil, err
		}
		for _, it := range o.Items {
			if err := tx.Stock().Release(ctx, it.SKUID, it.Quantity); err != nil {
				return nil, fmt.Errorf("release stock for sku %s: %w", it.SKUID, err)
			}
		}
	}

	if err := tx.Orders().Update(ctx, o); err != nil {
		return nil, err
	}

	change := &domain.StatusChangedPayload{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		OldStatus:  from,
		NewStatus:  o.Status,
		Reason:     o.CancelReason,
		Actor:      req.Actor,
		Notify:     req.Notify,
	}
	if change.Reason == "" {
		change.Reason = req.Reason
	}
	ev, err := domain.NewOutboxEvent(o.ID, domain.EventOrderStatusChanged, change, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Outbox().Add(ctx, ev); err != nil {
		return nil, err
	}
	return change, nil
}

// cancelShipment fails the whole transition when the carrier refuses, so the
// local order never reads CANCELLED while the parcel is still moving.
func (s *TransitionService) cancelShipment(ctx context.Context, o *domain.Order, actor domain.Actor) error {
	code := o.Shipping.TrackingCode
	if code == "" || actor == domain.ActorCarrier || s.carrier == nil {
		return nil
	}
	if err := s.carrier.Cancel(ctx, code); err != nil {
		logger.Warn("carrier cancel failed, keeping order", "order_id", o.ID, "tracking", code, "err", err)
		return err
	}
	return nil
}

type CarrierUpdate struct {
	OrderID      uuid.UUID
	TrackingCode string
	To           domain.Status
	Carrier      string
	Reason       string
}

// ApplyCarrierUpdate drives the order from a carrier callback. Repeated or
// out-of-order statuses are acknowledged without change; applied is false then.
func (s *TransitionService) ApplyCarrierUpdate(ctx context.Context, u CarrierUpdate) (applied bool, err error) {
	var change *domain.StatusChangedPayload
	err = s.uow.WithTransaction(ctx, repository.ReadCommitted, func(tx repository.Tx) error {
		id := u.OrderID
		if id == uuid.Nil {
			found, err := tx.Orders().FindByTrackingCode(ctx, u.TrackingCode)
			if err != nil {
				return err
			}
			id = found.ID
		}
		o, err := tx.Orders().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if o.Status == u.To || !domain.CanTransition(o.Status, u.To) {
			logger.Info("carrier update ignored", "order_id", o.ID, "status", o.Status, "carrier_status", u.To)
			return nil
		}

		reason := u.Reason
		if u.To == domain.StatusCancelled && reason == "" {
			reason = "cancelled by carrier"
		}
		change, err = s.ApplyInTx(ctx, tx, o, TransitionRequest{
			OrderID:      o.ID,
			To:           u.To,
			Actor:        domain.ActorCarrier,
			Reason:       reason,
			Notify:       true,
			Carrier:      u.Carrier,
			TrackingCode: u.TrackingCode,
		})
		return err
	})
	if err != nil {
		return false, err
	}
	s.recorded(change)
	return change != nil, nil
}

// ExpireIfPending cancels an order whose payment never arrived.
func (s *TransitionService) ExpireIfPending(ctx context.Context, orderID uuid.UUID) error {
	var change *domain.StatusChangedPayload
	err := s.uow.WithTransaction(ctx, repository.ReadCommitted, func(tx repository.Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != domain.StatusPending || o.IsPaid() || o.Payment.Method == domain.PaymentCOD {
			return nil
		}
		change, err = s.ApplyInTx(ctx, tx, o, TransitionRequest{
			OrderID: orderID,
			To:      domain.StatusCancelled,
			Actor:   domain.ActorSystem,
			Reason:  reasonPaymentTimeout,
			Notify:  true,
		})
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("stock expiry for unknown order", "order_id", orderID)
		return nil
	}
	if err != nil {
		return err
	}
	if change != nil {
		logger.Info("pending order expired", "order_id", orderID)
	}
	s.recorded(change)
	return nil
}

// HandleStockExpiry is the task handler for tasks.TypeStockExpiry.
func (s *TransitionService) HandleStockExpiry(ctx context.Context, t tasks.Task) error {
	var p domain.StockExpiryPayload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		logger.Error("bad stock expiry payload, dropping", "task", t.ID, "err", err)
		return nil
	}
	return s.ExpireIfPending(ctx, p.OrderID)
}

func (s *TransitionService) recorded(change *domain.StatusChangedPayload) {
	if change == nil {
		return
	}
	s.metrics.Transition(string(change.OldStatus), string(change.NewStatus))
}

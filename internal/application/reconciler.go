package application

import (
	"context"
	"errors"
	"time"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/RaikyD/orders-checkout/internal/logger"
	"github.com/RaikyD/orders-checkout/internal/metrics"
	"github.com/RaikyD/orders-checkout/internal/payment"
	"github.com/RaikyD/orders-checkout/internal/repository"
	"github.com/google/uuid"
)

type WebhookReconciler struct {
	uow         repository.UnitOfWork
	transitions *TransitionService
	gateways    map[domain.Provider]WebhookGateway
	effects     PaymentSideEffects
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewWebhookReconciler(uow repository.UnitOfWork, ts *TransitionService, effects PaymentSideEffects, m *metrics.Metrics, gateways ...WebhookGateway) *WebhookReconciler {
	byProvider := make(map[domain.Provider]WebhookGateway, len(gateways))
	for _, g := range gateways {
		byProvider[g.Provider()] = g
	}
	return &WebhookReconciler{
		uow:         uow,
		transitions: ts,
		gateways:    byProvider,
		effects:     effects,
		metrics:     m,
		now:         time.Now,
	}
}

// HandleWebhook verifies, deduplicates and applies one gateway callback.
// It always answers with the provider's own response format; the gateway
// retries anything that is not acknowledged.
func (r *WebhookReconciler) HandleWebhook(ctx context.Context, provider domain.Provider, raw payment.Raw) payment.Response {
	gw, ok := r.gateways[provider]
	if !ok {
		logger.Warn("webhook for unconfigured provider", "provider", provider)
		return payment.Response{Code: "99", Message: "unsupported provider"}
	}

	outcome := r.handle(ctx, gw, raw)
	r.metrics.Webhook(string(provider), outcome.String())
	return gw.Respond(outcome)
}

func (r *WebhookReconciler) handle(ctx context.Context, gw WebhookGateway, raw payment.Raw) payment.Outcome {
	n, err := gw.ParseNotification(raw, r.now())
	if err != nil {
		outcome := parseOutcome(err)
		logger.Warn("webhook rejected", "provider", gw.Provider(), "outcome", outcome, "err", err)
		return outcome
	}
	res := n.Result()
	if res.OrderID == uuid.Nil {
		return payment.OutcomeOrderNotFound
	}

	outcome, paid, err := r.reconcile(ctx, gw, res)
	if errors.Is(err, domain.ErrDuplicateWebhook) {
		// a concurrent delivery of the same callback committed first
		return payment.OutcomeDuplicate
	}
	if err != nil {
		logger.Error("webhook reconcile failed", "provider", gw.Provider(), "webhook_id", res.WebhookID, "order_id", res.OrderID, "err", err)
		return payment.OutcomeError
	}

	logger.Info("webhook handled", "provider", gw.Provider(), "webhook_id", res.WebhookID, "order_id", res.OrderID, "outcome", outcome)
	if paid != nil && r.effects != nil {
		if err := r.effects.OnPaymentSucceeded(ctx, paid, res); err != nil {
			logger.Warn("payment side effects failed", "order_id", paid.ID, "err", err)
		}
	}
	return outcome
}

// reconcile returns the paid order when the callback confirmed a payment.
func (r *WebhookReconciler) reconcile(ctx context.Context, gw WebhookGateway, res payment.Result) (payment.Outcome, *domain.Order, error) {
	var (
		outcome payment.Outcome
		paid    *domain.Order
		change  *domain.StatusChangedPayload
	)
	err := r.uow.WithTransaction(ctx, repository.ReadCommitted, func(tx repository.Tx) error {
		if _, err := tx.Webhooks().Get(ctx, res.WebhookID); err == nil {
			outcome = payment.OutcomeDuplicate
			return nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		o, err := tx.Orders().GetForUpdate(ctx, res.OrderID)
		if errors.Is(err, domain.ErrNotFound) {
			outcome = payment.OutcomeOrderNotFound
			return nil
		}
		if err != nil {
			return err
		}

		record := func(st domain.WebhookStatus, oc payment.Outcome) error {
			outcome = oc
			return tx.Webhooks().Insert(ctx, &domain.WebhookEvent{
				ID:           res.WebhookID,
				OrderID:      o.ID,
				Provider:     res.Provider,
				Status:       st,
				ResponseCode: gw.Respond(oc).Code,
				CreatedAt:    r.now().UTC(),
			})
		}

		if !o.AwaitingPayment() {
			return record(domain.WebhookIgnored, payment.OutcomeIgnored)
		}

		if !res.Success {
			if err := r.markAttempt(ctx, tx, o, res, domain.PaymentFailed); err != nil {
				return err
			}
			o.MarkPaymentFailed(r.now().UTC())
			change, err = r.transitions.ApplyInTx(ctx, tx, o, TransitionRequest{
				OrderID: o.ID,
				To:      domain.StatusCancelled,
				Actor:   domain.ActorGateway,
				Reason:  "payment failed: " + res.Message,
				Notify:  true,
			})
			if err != nil {
				return err
			}
			return record(domain.WebhookProcessed, payment.OutcomeAccepted)
		}

		if res.Amount.LessThan(o.Total) {
			logger.Warn("paid amount below order total", "order_id", o.ID, "paid", res.Amount.String(), "total", o.Total.String())
			outcome = payment.OutcomeInvalidAmount
			return nil
		}

		if err := r.markAttempt(ctx, tx, o, res, domain.PaymentPaid); err != nil {
			return err
		}
		if err := o.MarkPaid(res.ProviderTxnID, paidAt(res, r.now())); err != nil {
			return err
		}
		change, err = r.transitions.ApplyInTx(ctx, tx, o, TransitionRequest{
			OrderID: o.ID,
			To:      domain.StatusProcessing,
			Actor:   domain.ActorGateway,
			Reason:  "payment confirmed",
			Notify:  true,
		})
		if err != nil {
			return err
		}

		ev, err := domain.NewOutboxEvent(o.ID, domain.EventPaymentSucceeded, domain.PaymentSucceededPayload{
			OrderID:       o.ID,
			CustomerID:    o.CustomerID,
			Provider:      res.Provider,
			ProviderTxnID: res.ProviderTxnID,
			Amount:        res.Amount,
		}, r.now().UTC())
		if err != nil {
			return err
		}
		if err := tx.Outbox().Add(ctx, ev); err != nil {
			return err
		}
		if err := record(domain.WebhookProcessed, payment.OutcomeAccepted); err != nil {
			return err
		}
		paid = o
		return nil
	})
	if err != nil {
		return payment.OutcomeError, nil, err
	}
	r.transitions.recorded(change)
	return outcome, paid, nil
}

// markAttempt settles the pending payment row of this method, creating one
// when checkout never got to record it.
func (r *WebhookReconciler) markAttempt(ctx context.Context, tx repository.Tx, o *domain.Order, res payment.Result, st domain.PaymentStatus) error {
	now := r.now().UTC()
	payments, err := tx.Payments().ListByOrder(ctx, o.ID)
	if err != nil {
		return err
	}
	var p *domain.Payment
	for _, cand := range payments {
		if cand.Status == domain.PaymentPending && cand.Method == res.Provider.Method() {
			p = cand
			break
		}
	}
	create := p == nil
	if create {
		p = domain.NewPayment(o.ID, res.Provider.Method(), res.Amount, "", now)
	}
	p.Status = st
	p.Amount = res.Amount
	p.ProviderTxnID = res.ProviderTxnID
	p.UpdatedAt = now
	if st == domain.PaymentPaid {
		at := paidAt(res, now)
		p.PaidAt = &at
	}
	if create {
		return tx.Payments().Create(ctx, p)
	}
	return tx.Payments().Update(ctx, p)
}

func paidAt(res payment.Result, now time.Time) time.Time {
	if res.OccurredAt.IsZero() {
		return now.UTC()
	}
	return res.OccurredAt
}

func parseOutcome(err error) payment.Outcome {
	switch {
	case errors.Is(err, domain.ErrSignatureMismatch):
		return payment.OutcomeChecksumFailed
	case errors.Is(err, domain.ErrStaleWebhook):
		return payment.OutcomeExpired
	case errors.Is(err, domain.ErrValidation):
		return payment.OutcomeInvalidRequest
	}
	return payment.OutcomeError
}

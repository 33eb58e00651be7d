// Package outbox relays committed outbox rows: delayed work goes to the task
// queue, everything else to the event bus.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/RaikyD/orders-checkout/internal/logger"
	"github.com/RaikyD/orders-checkout/internal/metrics"
	"github.com/RaikyD/orders-checkout/internal/repository"
	"github.com/RaikyD/orders-checkout/internal/tasks"
)

type Publisher interface {
	PublishEvent(ctx context.Context, e domain.OutboxEvent) error
}

type Options struct {
	Batch    int
	Interval time.Duration
	// MaxAttempts parks a row after this many failed relays.
	MaxAttempts int
	// Lease is how long a claimed row is hidden from other dispatchers.
	Lease time.Duration
}

type Dispatcher struct {
	uow       repository.UnitOfWork
	pub       Publisher
	scheduler tasks.Scheduler
	opts      Options
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewDispatcher(uow repository.UnitOfWork, pub Publisher, scheduler tasks.Scheduler, opts Options, m *metrics.Metrics) *Dispatcher {
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.Lease <= 0 {
		opts.Lease = 30 * time.Second
	}
	return &Dispatcher{uow: uow, pub: pub, scheduler: scheduler, opts: opts, metrics: m, now: time.Now}
}

func (d *Dispatcher) Run(ctx context.Context) {
	logger.Info("outbox dispatcher started", "batch", d.opts.Batch, "interval", d.opts.Interval)
	t := time.NewTicker(d.opts.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox dispatcher stopped")
			return
		case <-t.C:
			if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("outbox dispatch failed", "err", err)
			}
		}
	}
}

// DispatchOnce relays one batch. Rows are leased in a short transaction,
// relayed with no transaction open, then marked one by one. A row whose mark
// is lost becomes visible again once its lease expires, so delivery is at
// least once.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	now := d.now().UTC()
	var events []domain.OutboxEvent
	err := d.uow.WithTransaction(ctx, repository.ReadCommitted, func(tx repository.Tx) error {
		var err error
		events, err = tx.Outbox().ClaimPending(ctx, repository.OutboxClaim{
			Limit:       d.opts.Batch,
			MaxAttempts: d.opts.MaxAttempts,
			Now:         now,
			Until:       now.Add(d.opts.Lease),
		})
		return err
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, e := range events {
		relayErr := d.relay(ctx, e)
		err := d.uow.WithTransaction(ctx, repository.ReadCommitted, func(tx repository.Tx) error {
			if relayErr != nil {
				return tx.Outbox().MarkFailed(ctx, e.ID, relayErr.Error())
			}
			return tx.Outbox().MarkDispatched(ctx, e.ID, d.now().UTC())
		})
		if err != nil {
			return sent, fmt.Errorf("mark outbox event %s: %w", e.ID, err)
		}

		if relayErr != nil {
			attempts := e.Attempts + 1
			if attempts >= d.opts.MaxAttempts {
				logger.Error("outbox event parked after max attempts", "id", e.ID, "type", e.Type, "attempts", attempts, "err", relayErr)
				d.metrics.OutboxDispatched(e.Type, "parked")
				continue
			}
			logger.Warn("outbox relay failed", "id", e.ID, "type", e.Type, "attempts", attempts, "err", relayErr)
			d.metrics.OutboxDispatched(e.Type, "error")
			continue
		}
		d.metrics.OutboxDispatched(e.Type, "ok")
		sent++
	}
	return sent, nil
}

func (d *Dispatcher) relay(ctx context.Context, e domain.OutboxEvent) error {
	if e.Type == domain.EventStockExpiryCheck {
		var p domain.StockExpiryPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("decode stock expiry payload: %w", err)
		}
		return d.scheduler.Schedule(ctx, tasks.Task{
			ID:        "stock-expiry:" + p.OrderID.String(),
			Type:      tasks.TypeStockExpiry,
			Payload:   e.Payload,
			NotBefore: p.NotBefore,
		})
	}
	return d.pub.PublishEvent(ctx, e)
}

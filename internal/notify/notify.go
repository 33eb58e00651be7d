// Package notify turns order events from the bus into customer and admin
// notifications. Delivery failures never reach the order transaction.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/RaikyD/orders-checkout/internal/dedup"
	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/RaikyD/orders-checkout/internal/logger"
	"github.com/google/uuid"
)

type Audience string

const (
	AudienceCustomer Audience = "customer"
	AudienceAdmin    Audience = "admin"
)

type Notification struct {
	OrderID   uuid.UUID
	Audience  Audience
	Recipient string
	Title     string
	Body      string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log; push and e-mail channels plug in behind Notifier.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	logger.Info("notification", "audience", n.Audience, "to", n.Recipient, "order_id", n.OrderID, "title", n.Title)
	return nil
}

type Handler struct {
	seen     dedup.Store
	notifier Notifier
}

func NewHandler(seen dedup.Store, n Notifier) *Handler {
	return &Handler{seen: seen, notifier: n}
}

// HandleEvent delivers the notifications of e once per event id.
func (h *Handler) HandleEvent(ctx context.Context, e domain.OutboxEvent) error {
	key := e.ID.String()
	first, err := h.seen.FirstSeen(ctx, key)
	if err != nil {
		return fmt.Errorf("dedup: %w", err)
	}
	if !first {
		logger.Debug("event already handled", "id", key, "type", e.Type)
		return nil
	}

	msgs, err := Render(e)
	if err != nil {
		logger.Warn("undecodable event payload, skipping", "id", key, "type", e.Type, "err", err)
		return nil
	}
	for _, n := range msgs {
		if err := h.notifier.Notify(ctx, n); err != nil {
			_ = h.seen.Forget(ctx, key)
			return fmt.Errorf("notify %s: %w", n.Audience, err)
		}
	}
	return nil
}

// Render maps an event to the notifications it causes; unknown types cause none.
func Render(e domain.OutboxEvent) ([]Notification, error) {
	switch e.Type {
	case domain.EventOrderCreated:
		var p domain.OrderCreatedPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return []Notification{
			{OrderID: p.OrderID, Audience: AudienceCustomer, Recipient: p.CustomerID,
				Title: "Order received", Body: fmt.Sprintf("Order %s total %s (%s)", p.OrderID, p.Total, p.PaymentMethod)},
			{OrderID: p.OrderID, Audience: AudienceAdmin,
				Title: "New order", Body: fmt.Sprintf("%d item(s), total %s", p.ItemCount, p.Total)},
		}, nil

	case domain.EventOrderStatusChanged:
		var p domain.StatusChangedPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		var out []Notification
		if p.Notify {
			body := fmt.Sprintf("Status changed from %s to %s", p.OldStatus, p.NewStatus)
			if p.Reason != "" {
				body += ": " + p.Reason
			}
			out = append(out, Notification{OrderID: p.OrderID, Audience: AudienceCustomer, Recipient: p.CustomerID, Title: "Order " + string(p.NewStatus), Body: body})
		}
		if p.NewStatus == domain.StatusCancelled {
			out = append(out, Notification{OrderID: p.OrderID, Audience: AudienceAdmin, Title: "Order cancelled", Body: p.Reason})
		}
		return out, nil

	case domain.EventPaymentSucceeded:
		var p domain.PaymentSucceededPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return []Notification{
			{OrderID: p.OrderID, Audience: AudienceCustomer, Recipient: p.CustomerID,
				Title: "Payment received", Body: fmt.Sprintf("%s via %s", p.Amount, p.Provider)},
		}, nil
	}
	return nil, nil
}

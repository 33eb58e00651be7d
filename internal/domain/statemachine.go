package domain

import (
	"fmt"
	"strings"
	"time"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusProcessing, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusReturned},
	StatusDelivered:  {StatusReturned},
	StatusCancelled:  {},
	StatusReturned:   {},
	StatusRefunded:   {},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

type TransitionOptions struct {
	Actor  Actor
	Reason string
	// Force is the administrative override for the payment and carrier policies.
	Force        bool
	At           time.Time
	Carrier      string
	TrackingCode string
}

// Apply dispatches to the named operation for the target status.
func (o *Order) Apply(to Status, opts TransitionOptions) error {
	switch to {
	case StatusConfirmed:
		return o.Confirm(opts)
	case StatusProcessing:
		return o.StartProcessing(opts)
	case StatusShipped:
		return o.Ship(opts)
	case StatusDelivered:
		return o.MarkDelivered(opts)
	case StatusCancelled:
		return o.Cancel(opts)
	case StatusReturned:
		return o.MarkReturned(opts)
	}
	return &InvalidTransitionError{From: o.Status, To: to}
}

func (o *Order) Confirm(opts TransitionOptions) error {
	if err := o.checkReachable(StatusConfirmed); err != nil {
		return err
	}
	o.moveTo(StatusConfirmed, opts.At)
	return nil
}

// StartProcessing refuses unpaid non-COD orders unless forced.
func (o *Order) StartProcessing(opts TransitionOptions) error {
	if err := o.checkReachable(StatusProcessing); err != nil {
		return err
	}
	if o.Payment.Method != PaymentCOD && !o.IsPaid() && !opts.Force {
		return fmt.Errorf("%w: order %s is not paid", ErrTransitionPolicy, o.ID)
	}
	o.moveTo(StatusProcessing, opts.At)
	return nil
}

// Ship is carrier-driven; other actors need Force.
func (o *Order) Ship(opts TransitionOptions) error {
	if err := o.checkReachable(StatusShipped); err != nil {
		return err
	}
	if opts.Actor != ActorCarrier && !opts.Force {
		return fmt.Errorf("%w: shipping is reported by the carrier", ErrTransitionPolicy)
	}
	at := opts.At
	o.Shipping.ShippedAt = &at
	if opts.TrackingCode != "" {
		o.Shipping.TrackingCode = opts.TrackingCode
	}
	if opts.Carrier != "" {
		o.Shipping.Carrier = opts.Carrier
	}
	o.moveTo(StatusShipped, at)
	return nil
}

func (o *Order) MarkDelivered(opts TransitionOptions) error {
	if err := o.checkReachable(StatusDelivered); err != nil {
		return err
	}
	at := opts.At
	o.Shipping.DeliveredAt = &at
	o.moveTo(StatusDelivered, at)
	return nil
}

func (o *Order) Cancel(opts TransitionOptions) error {
	if err := o.checkReachable(StatusCancelled); err != nil {
		return err
	}
	reason := strings.TrimSpace(opts.Reason)
	if reason == "" {
		return NewValidationError("reason", "cancellation reason is required")
	}
	at := opts.At
	o.CancelReason = reason
	o.CancelledAt = &at
	o.moveTo(StatusCancelled, at)
	return nil
}

func (o *Order) MarkReturned(opts TransitionOptions) error {
	if err := o.checkReachable(StatusReturned); err != nil {
		return err
	}
	o.moveTo(StatusReturned, opts.At)
	return nil
}

func (o *Order) checkReachable(to Status) error {
	if !CanTransition(o.Status, to) {
		return &InvalidTransitionError{From: o.Status, To: to}
	}
	return nil
}

func (o *Order) moveTo(to Status, at time.Time) {
	o.Status = to
	o.UpdatedAt = at
}

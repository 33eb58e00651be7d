package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrEmptyCart           = errors.New("cart selection is empty")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrCouponInvalid       = errors.New("coupon invalid")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrTransitionPolicy    = errors.New("transition refused by policy")
	ErrSignatureMismatch   = errors.New("signature mismatch")
	ErrStaleWebhook        = errors.New("webhook payload is too old")
	ErrDuplicateWebhook    = errors.New("webhook already processed")
	ErrAmountMismatch      = errors.New("paid amount is less than order total")
	ErrExternalGateway     = errors.New("external gateway failure")
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
	ErrForbidden           = errors.New("forbidden")
	ErrTenantMismatch      = errors.New("belongs to another tenant")
	ErrCheckoutTimeout     = errors.New("checkout timed out")
)

type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return e.Field + ": " + e.Msg
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

type InsufficientStockError struct {
	SKUID     uuid.UUID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for sku %s: requested %d, available %d", e.SKUID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type CouponInvalidError struct {
	Code   string
	Reason string
}

func (e *CouponInvalidError) Error() string {
	return fmt.Sprintf("coupon %q invalid: %s", e.Code, e.Reason)
}

func (e *CouponInvalidError) Is(target error) bool { return target == ErrCouponInvalid }

type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// ExternalGatewayError wraps a failed call to a payment gateway or carrier.
type ExternalGatewayError struct {
	Gateway string
	Err     error
}

func (e *ExternalGatewayError) Error() string {
	return fmt.Sprintf("%s: %v", e.Gateway, e.Err)
}

func (e *ExternalGatewayError) Is(target error) bool { return target == ErrExternalGateway }

func (e *ExternalGatewayError) Unwrap() error { return e.Err }

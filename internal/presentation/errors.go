package presentation

import (
	"errors"
	"net/http"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/RaikyD/orders-checkout/internal/logger"
	"github.com/RaikyD/orders-checkout/internal/presentation/helpers"
)

type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Field     string `json:"field,omitempty"`
	SKUID     string `json:"sku_id,omitempty"`
	Requested int    `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

// writeError maps domain errors onto HTTP statuses. Anything unknown is a 500
// and its text is not leaked to the client.
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	status := http.StatusInternalServerError

	var (
		verr  *domain.ValidationError
		stock *domain.InsufficientStockError
		trans *domain.InvalidTransitionError
	)
	switch {
	case errors.As(err, &verr):
		status, body.Kind, body.Field = http.StatusBadRequest, "validation", verr.Field
	case errors.Is(err, domain.ErrEmptyCart):
		status, body.Kind = http.StatusBadRequest, "empty_cart"
	case errors.As(err, &stock):
		status, body.Kind = http.StatusConflict, "insufficient_stock"
		body.SKUID = stock.SKUID.String()
		body.Requested = stock.Requested
		body.Available = &stock.Available
	case errors.Is(err, domain.ErrCouponInvalid):
		status, body.Kind = http.StatusUnprocessableEntity, "coupon_invalid"
	case errors.As(err, &trans):
		status, body.Kind = http.StatusConflict, "invalid_transition"
		body.From, body.To = string(trans.From), string(trans.To)
	case errors.Is(err, domain.ErrTransitionPolicy):
		status, body.Kind = http.StatusUnprocessableEntity, "transition_policy"
	case errors.Is(err, domain.ErrNotFound):
		status, body.Kind = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrForbidden):
		status, body.Kind = http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrTenantMismatch):
		status, body.Kind = http.StatusForbidden, "tenant_mismatch"
	case errors.Is(err, domain.ErrCheckoutTimeout):
		status, body.Kind = http.StatusServiceUnavailable, "timeout"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		status, body.Kind = http.StatusServiceUnavailable, "conflict"
		w.Header().Set("Retry-After", "1")
	case errors.Is(err, domain.ErrExternalGateway):
		status, body.Kind = http.StatusBadGateway, "gateway"
	default:
		logger.Error("request failed", "err", err)
		body.Kind, body.Error = "internal", "internal error"
	}
	helpers.WriteJSON(w, status, body)
}

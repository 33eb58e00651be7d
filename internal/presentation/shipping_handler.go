package presentation

import (
	"encoding/json"
	"net/http"

	"github.com/RaikyD/orders-checkout/internal/application"
	"github.com/RaikyD/orders-checkout/internal/logger"
	"github.com/RaikyD/orders-checkout/internal/presentation/helpers"
	"github.com/RaikyD/orders-checkout/internal/shipping"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type ShippingHandler struct {
	transitions *application.TransitionService
	token       string
}

func NewShippingHandler(transitions *application.TransitionService, webhookToken string) *ShippingHandler {
	return &ShippingHandler{transitions: transitions, token: webhookToken}
}

func (h *ShippingHandler) Register(r chi.Router) {
	r.Post("/shipping/webhook", h.CarrierWebhook)
}

func (h *ShippingHandler) CarrierWebhook(w http.ResponseWriter, r *http.Request) {
	if !shipping.VerifyToken(h.token, r.Header.Get("Token")) {
		helpers.HttpError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	body, err := helpers.ReadBody(r)
	if err != nil {
		helpers.HttpError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	// перевозчик шлёт больше полей чем нам нужно, поэтому без DisallowUnknownFields
	var cw shipping.CarrierWebhook
	if err := json.Unmarshal(body, &cw); err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := cw.Validate(); err != nil {
		writeError(w, err)
		return
	}

	to, ok := cw.Target()
	if !ok {
		logger.Debug("carrier status has no order mapping", "status", cw.Status, "code", cw.OrderCode)
		helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	u := application.CarrierUpdate{
		TrackingCode: cw.OrderCode,
		To:           to,
		Carrier:      shipping.CarrierName,
		Reason:       cw.Reason,
	}
	if id, ok := cw.OrderID(); ok {
		u.OrderID = id
	}
	applied, err := h.transitions.ApplyCarrierUpdate(r.Context(), u)
	if err != nil {
		writeError(w, err)
		return
	}
	status := "ignored"
	if applied {
		status = "applied"
	}
	if u.OrderID == uuid.Nil {
		logger.Info("carrier update by tracking code", "code", cw.OrderCode, "to", to, "result", status)
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": status})
}

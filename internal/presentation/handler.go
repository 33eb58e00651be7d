package presentation

import (
	"mime"
	"net"
	"net/http"
	"strings"

	"github.com/RaikyD/orders-checkout/internal/application"
	"github.com/RaikyD/orders-checkout/internal/auth"
	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/RaikyD/orders-checkout/internal/logger"
	"github.com/RaikyD/orders-checkout/internal/presentation/helpers"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type OrdersHandler struct {
	checkout    *application.CheckoutService
	transitions *application.TransitionService
	orders      *application.OrdersService
}

func NewOrdersHandler(checkout *application.CheckoutService, transitions *application.TransitionService, orders *application.OrdersService) *OrdersHandler {
	return &OrdersHandler{checkout: checkout, transitions: transitions, orders: orders}
}

// Register expects r to already run auth.Middleware.
func (h *OrdersHandler) Register(r chi.Router) {
	r.With(auth.Require(auth.CapCheckout)).Post("/orders", h.CreateOrder)
	r.With(auth.Require(auth.CapReadOwnOrders)).Get("/orders/my-orders", h.MyOrders)
	r.With(auth.Require(auth.CapCancelOwnOrder)).Patch("/orders/my-orders/{id}/cancel", h.CancelMyOrder)
	r.With(auth.Require(auth.CapReadOwnOrders)).Get("/orders/{id}", h.GetOrder)
	r.With(auth.Require(auth.CapManageOrders)).Patch("/orders/{id}/status", h.UpdateStatus)
}

type createOrderRequest struct {
	ItemIDs         []uuid.UUID `json:"itemIds"`
	PaymentMethod   string      `json:"paymentMethod"`
	CouponCode      string      `json:"couponCode"`
	AddressID       *uuid.UUID  `json:"addressId"`
	RecipientName   string      `json:"recipientName"`
	Phone           string      `json:"phone"`
	ShippingAddress string      `json:"shippingAddress"`
	ReturnURL       string      `json:"returnUrl"`
}

type createOrderResponse struct {
	Order      *domain.Order `json:"order"`
	PaymentURL string        `json:"paymentUrl,omitempty"`
}

func (h *OrdersHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if !isJSON(r) {
		helpers.HttpError(w, http.StatusUnsupportedMediaType, "unsupported content-type")
		return
	}
	var body createOrderRequest
	if err := helpers.DecodeJSON(r.Body, &body); err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	p, _ := auth.FromContext(r.Context())
	req := application.CheckoutRequest{
		CustomerID:    p.Subject,
		ItemIDs:       body.ItemIDs,
		PaymentMethod: domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(body.PaymentMethod))),
		CouponCode:    body.CouponCode,
		AddressID:     body.AddressID,
		ReturnURL:     body.ReturnURL,
		ClientIP:      clientIP(r),
	}
	// адрес из тела имеет приоритет только если addressId не передан
	if body.AddressID == nil && strings.TrimSpace(body.ShippingAddress) != "" {
		req.Recipient = &application.Recipient{
			Name:    body.RecipientName,
			Phone:   body.Phone,
			Address: body.ShippingAddress,
		}
	}

	res, err := h.checkout.Checkout(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	logger.Info("order placed", "order_id", res.Order.ID, "customer", p.Subject, "method", res.Order.Payment.Method)
	helpers.WriteJSON(w, http.StatusCreated, createOrderResponse{Order: res.Order, PaymentURL: res.PaymentURL})
}

func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := helpers.UUIDParam(r, "id")
	if !ok {
		helpers.HttpError(w, http.StatusBadRequest, "invalid uuid")
		return
	}
	o, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	p, _ := auth.FromContext(r.Context())
	// чужой заказ отдаём как 404, чтобы не светить существование
	if o.CustomerID != p.Subject && !auth.Can(p, auth.CapReadAnyOrder) {
		helpers.HttpError(w, http.StatusNotFound, "order not found")
		return
	}
	helpers.WriteJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) MyOrders(w http.ResponseWriter, r *http.Request) {
	limit := helpers.IntQuery(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	p, _ := auth.FromContext(r.Context())
	orders, err := h.orders.ListByCustomer(r.Context(), p.Subject, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}
	helpers.WriteJSON(w, http.StatusOK, orders)
}

type cancelRequest struct {
	CancellationReason string `json:"cancellationReason"`
}

func (h *OrdersHandler) CancelMyOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := helpers.UUIDParam(r, "id")
	if !ok {
		helpers.HttpError(w, http.StatusBadRequest, "invalid uuid")
		return
	}
	var body cancelRequest
	if err := helpers.DecodeJSON(r.Body, &body); err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	p, _ := auth.FromContext(r.Context())
	o, err := h.transitions.CancelMyOrder(r.Context(), p.Subject, id, body.CancellationReason)
	if err != nil {
		writeError(w, err)
		return
	}
	h.orders.Invalidate(id)
	helpers.WriteJSON(w, http.StatusOK, o)
}

type updateStatusRequest struct {
	Status        string `json:"status"`
	Reason        string `json:"reason"`
	Notify        *bool  `json:"notify"`
	Force         bool   `json:"force"`
	PaymentStatus string `json:"paymentStatus"`
}

func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := helpers.UUIDParam(r, "id")
	if !ok {
		helpers.HttpError(w, http.StatusBadRequest, "invalid uuid")
		return
	}
	var body updateStatusRequest
	if err := helpers.DecodeJSON(r.Body, &body); err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	p, _ := auth.FromContext(r.Context())
	req := application.TransitionRequest{
		OrderID: id,
		Actor:   p.Actor(),
		Reason:  body.Reason,
		Force:   body.Force,
		Notify:  body.Notify == nil || *body.Notify,
	}
	if body.Status != "" {
		to, err := domain.ParseStatus(strings.ToUpper(body.Status))
		if err != nil {
			writeError(w, err)
			return
		}
		req.To = to
	}
	if body.PaymentStatus != "" {
		ps := domain.PaymentStatus(strings.ToUpper(body.PaymentStatus))
		if !ps.Valid() {
			writeError(w, domain.NewValidationError("paymentStatus", "unknown payment status "+body.PaymentStatus))
			return
		}
		req.PaymentStatus = ps
	}
	if req.To == "" && req.PaymentStatus == "" {
		writeError(w, domain.NewValidationError("status", "status or paymentStatus required"))
		return
	}

	o, err := h.transitions.Transition(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.orders.Invalidate(id)
	logger.Info("order status updated", "order_id", id, "status", o.Status, "by", p.Subject)
	helpers.WriteJSON(w, http.StatusOK, o)
}

func isJSON(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return true
	}
	mediatype, _, err := mime.ParseMediaType(ct)
	return err == nil && mediatype == "application/json"
}

// clientIP relies on middleware.RealIP having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

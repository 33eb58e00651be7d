package presentation

import (
	"net/http"

	"github.com/RaikyD/orders-checkout/internal/application"
	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/RaikyD/orders-checkout/internal/logger"
	"github.com/RaikyD/orders-checkout/internal/payment"
	"github.com/RaikyD/orders-checkout/internal/presentation/helpers"
	"github.com/go-chi/chi/v5"
)

// PaymentHandler receives gateway callbacks. These routes are not behind
// auth: every callback is authenticated by its own signature.
type PaymentHandler struct {
	reconciler *application.WebhookReconciler
	vnpay      *payment.VNPay
}

func NewPaymentHandler(reconciler *application.WebhookReconciler, vnpay *payment.VNPay) *PaymentHandler {
	return &PaymentHandler{reconciler: reconciler, vnpay: vnpay}
}

func (h *PaymentHandler) Register(r chi.Router) {
	r.Get("/payment/vnpay_return", h.VNPayReturn)
	r.Get("/payment/vnpay_ipn", h.webhook(domain.ProviderVNPay))
	r.Post("/payment/momo_ipn", h.webhook(domain.ProviderMomo))
	r.Post("/payment/webhook/vietqr", h.webhook(domain.ProviderVietQR))
}

// webhook always answers 200: gateways read the result code from the body
// and treat any other HTTP status as a transport failure.
func (h *PaymentHandler) webhook(provider domain.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := helpers.ReadBody(r)
		if err != nil {
			helpers.HttpError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		resp := h.reconciler.HandleWebhook(r.Context(), provider, payment.Raw{Query: r.URL.Query(), Body: body})

		out := resp.Body
		if out == nil {
			out = map[string]string{"code": resp.Code, "message": resp.Message}
		}
		helpers.WriteJSON(w, http.StatusOK, out)
	}
}

type vnpayReturnResponse struct {
	Success      bool   `json:"success"`
	OrderID      string `json:"order_id"`
	ResponseCode string `json:"response_code"`
	Message      string `json:"message"`
}

// VNPayReturn only verifies the browser redirect; the order is updated by the IPN.
func (h *PaymentHandler) VNPayReturn(w http.ResponseWriter, r *http.Request) {
	if h.vnpay == nil {
		helpers.HttpError(w, http.StatusNotFound, "vnpay is not configured")
		return
	}
	n, err := h.vnpay.VerifyReturn(r.URL.Query())
	if err != nil {
		logger.Warn("vnpay return rejected", "err", err)
		helpers.WriteJSON(w, http.StatusBadRequest, vnpayReturnResponse{ResponseCode: "97", Message: "invalid signature"})
		return
	}
	res := n.Result()
	msg := "payment failed"
	if res.Success {
		msg = "payment successful"
	}
	helpers.WriteJSON(w, http.StatusOK, vnpayReturnResponse{
		Success:      res.Success,
		OrderID:      res.OrderID.String(),
		ResponseCode: n.ResponseCode,
		Message:      msg,
	})
}

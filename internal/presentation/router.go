package presentation

import (
	"context"
	"net/http"
	"time"

	"github.com/RaikyD/orders-checkout/internal/auth"
	"github.com/RaikyD/orders-checkout/internal/metrics"
	"github.com/RaikyD/orders-checkout/internal/presentation/helpers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterDeps struct {
	Auth     *auth.Authenticator
	Orders   *OrdersHandler
	Payments *PaymentHandler
	Shipping *ShippingHandler
	Metrics  *metrics.Metrics
	// Health проверяет зависимости (БД, redis); nil = всегда ок
	Health func(ctx context.Context) error
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(d.Metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Health != nil {
			if err := d.Health(r.Context()); err != nil {
				helpers.HttpError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	if d.Payments != nil {
		d.Payments.Register(r)
	}
	if d.Shipping != nil {
		d.Shipping.Register(r)
	}
	if d.Orders != nil {
		r.Group(func(r chi.Router) {
			r.Use(d.Auth.Middleware)
			d.Orders.Register(r)
		})
	}
	return r
}

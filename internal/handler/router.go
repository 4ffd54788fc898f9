package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/nexent-shop/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware магазина nexent.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		// Уведомления шлюза аутентифицируются подписью тела, не cookie.
		r.Post("/payment/webhook", h.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", h.CreateOrder)
				r.Get("/", h.GetOrders)
				r.Delete("/{orderID}", h.HideOrder)
				r.Post("/{orderID}/reorder", h.Reorder)
			})

			r.Post("/payment/create-intent", h.CreatePaymentIntent)
			r.Post("/payment/confirm-order", h.ConfirmOrder)

			r.Route("/wallet", func(r chi.Router) {
				r.Get("/", h.GetWallet)
				r.Get("/transactions", h.GetTransactions)
				r.Get("/coupons", h.GetCoupons)
				r.Post("/redeem", h.RedeemCoupon)
				r.Post("/validate-coupon", h.ValidateCoupon)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

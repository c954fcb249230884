package http

import (
	"net/http"
	"time"

	"github.com/fjod/craft_market/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	Cart     *CartHandler
	Checkout *CheckoutHandler
	Orders   *OrdersHandler
	Products *ProductHandler
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

// NewRouter wires the buyer and seller routes behind the shared middleware
// stack and wraps the result for tracing.
func NewRouter(h Handlers, requestTimeout time.Duration, log *zap.Logger, m *metrics.Metrics) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(ObserveMiddleware(log.Named("http"), m))
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(IdentityMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", h.Products.Get)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.Cart.GetCart)
			r.Post("/items", h.Cart.AddItem)
			r.Patch("/items/{product_id}", h.Cart.UpdateQuantity)
			r.Delete("/items/{product_id}", h.Cart.RemoveItem)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Get("/", h.Checkout.GetCheckout)
			r.Post("/next", h.Checkout.Next)
			r.Post("/back", h.Checkout.Back)
			r.Post("/shipping", h.Checkout.SetShipping)
			r.Post("/promo", h.Checkout.ApplyPromo)
			r.Post("/pay", h.Checkout.Pay)
			r.Post("/retry", h.Checkout.RetryPlacement)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.Orders.ListOrders)
			r.Get("/{order_id}", h.Orders.GetOrder)
		})

		r.Route("/seller/orders", func(r chi.Router) {
			r.Get("/", h.Orders.ListSellerOrders)
			r.Get("/{order_id}", h.Orders.GetSellerOrder)
			r.Post("/{order_id}/status", h.Orders.UpdateStatus)
		})
	})

	return otelhttp.NewHandler(r, "marketplace")
}

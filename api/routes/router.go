package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openmartlabs/openmart-backend/api/controllers"
	"github.com/openmartlabs/openmart-backend/api/middleware"
	cartsvc "github.com/openmartlabs/openmart-backend/internal/cart"
	checkoutsvc "github.com/openmartlabs/openmart-backend/internal/checkout"
	"github.com/openmartlabs/openmart-backend/internal/idempotency"
	notificationsvc "github.com/openmartlabs/openmart-backend/internal/notifications"
	ordersvc "github.com/openmartlabs/openmart-backend/internal/orders"
	"github.com/openmartlabs/openmart-backend/pkg/config"
	"github.com/openmartlabs/openmart-backend/pkg/logger"
	pkgredis "github.com/openmartlabs/openmart-backend/pkg/redis"
)

// RouterParams collects everything the HTTP surface needs.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	HealthDeps    map[string]controllers.Pinger
	Redis         pkgredis.KVStore
	Coordinator   *idempotency.Coordinator
	CartService   cartsvc.Service
	Checkout      *checkoutsvc.Service
	Orders        *ordersvc.Service
	Notifications *notificationsvc.Service
	PromRegistry  *prometheus.Registry
}

// NewRouter wires middleware and controllers into the API handler.
func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.HealthDeps))
	})

	if params.PromRegistry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.PromRegistry, promhttp.HandlerOpts{}))
	}

	// Gateways call these; buyers land on the return leg. No bearer token
	// either way, the HMAC/capture verification is the authentication.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payments/{provider}", controllers.PaymentCallback(params.Orders, params.Coordinator, cfg.Payments, logg))
	})
	r.Get("/payments/return/{provider}", controllers.PaymentReturn(params.Orders, cfg.Payments, logg))

	r.Post("/api/v1/session/guest", controllers.GuestSession(cfg.JWT, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(params.Redis, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", controllers.CartFetch(params.CartService, logg))
			r.Delete("/", controllers.CartClear(params.CartService, logg))
			r.Post("/items", controllers.CartAddItem(params.CartService, logg))
			r.Post("/merge", controllers.CartMerge(params.CartService, logg))
			r.Post("/refresh-prices", controllers.CartRefreshPrices(params.CartService, logg))
			r.Patch("/items/{variantId}", controllers.CartUpdateItem(params.CartService, logg))
			r.Delete("/items/{variantId}", controllers.CartRemoveItem(params.CartService, logg))
		})

		r.Post("/checkout", controllers.Checkout(params.Checkout, logg))

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.NotificationList(params.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.NotificationMarkRead(params.Notifications, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.OrderList(params.Orders, logg))
			r.Get("/{orderId}", controllers.OrderFetch(params.Orders, logg))
			r.Get("/{orderId}/status", controllers.OrderStatus(params.Orders, logg))
			r.Get("/{orderId}/timeline", controllers.OrderTimeline(params.Orders, logg))
			r.Post("/{orderId}/cancel", controllers.OrderCancel(params.Orders, logg))
		})

		r.Route("/admin/orders", func(r chi.Router) {
			r.Use(middleware.AdminOnly(logg))
			r.Post("/{orderId}/refund", controllers.AdminOrderRefund(params.Orders, logg))
			r.Get("/{orderId}/timeline", controllers.AdminOrderTimeline(params.Orders, logg))
		})
	})

	return r
}

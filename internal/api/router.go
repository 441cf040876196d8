package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/pos-billing/internal/api/middleware"
	"github.com/example/pos-billing/internal/auth"
	"github.com/example/pos-billing/internal/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	Handlers         *Handlers
	AuthHandlers     *AuthHandlers
	CategoryHandlers *CategoryHandlers

	Tokens   middleware.TokenVerifier
	Resolver auth.IdentityResolver

	// LoginLimiter throttles POST /login per client; nil disables it.
	LoginLimiter   *middleware.RateLimiter
	AllowedOrigins []string
	Logger         *slog.Logger
	// HealthCheck reports whether backing services are reachable.
	HealthCheck func(ctx context.Context) error
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	requireUser := middleware.RequireRole(auth.RoleUser)
	requireAdmin := middleware.RequireRole(auth.RoleAdmin)
	user := func(h http.HandlerFunc) http.Handler { return requireUser(h) }
	admin := func(h http.HandlerFunc) http.Handler { return requireAdmin(h) }

	// Public
	var login http.Handler = http.HandlerFunc(cfg.AuthHandlers.Login)
	if cfg.LoginLimiter != nil {
		login = cfg.LoginLimiter.Middleware(login)
	}
	mux.Handle("POST /login", login)
	mux.HandleFunc("POST /encode", cfg.AuthHandlers.Encode)
	mux.HandleFunc("GET /healthz", healthz(cfg.HealthCheck))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /me", user(cfg.AuthHandlers.Me))

	// Orders
	mux.Handle("POST /orders", user(cfg.Handlers.PlaceOrder))
	mux.Handle("GET /orders/latest", user(cfg.Handlers.LatestOrders))
	mux.Handle("DELETE /orders/{orderId}", user(cfg.Handlers.DeleteOrder))

	// Payments
	mux.Handle("POST /payments/create-order", user(cfg.Handlers.CreatePaymentOrder))
	mux.Handle("POST /payments/verify", user(cfg.Handlers.VerifyPayment))

	// Catalog
	mux.Handle("GET /categories", user(cfg.CategoryHandlers.ListCategories))
	mux.Handle("GET /items", user(cfg.CategoryHandlers.ListItems))
	mux.Handle("POST /admin/categories", admin(cfg.CategoryHandlers.AddCategory))
	mux.Handle("DELETE /admin/categories/{categoryId}", admin(cfg.CategoryHandlers.DeleteCategory))
	mux.Handle("POST /admin/items", admin(cfg.CategoryHandlers.AddItem))
	mux.Handle("DELETE /admin/items/{itemId}", admin(cfg.CategoryHandlers.DeleteItem))

	// Users
	mux.Handle("POST /admin/register", admin(cfg.AuthHandlers.Register))
	mux.Handle("GET /admin/users", admin(cfg.AuthHandlers.ListUsers))
	mux.Handle("DELETE /admin/users/{id}", admin(cfg.AuthHandlers.DeleteUser))

	mux.Handle("GET /dashboard", user(cfg.Handlers.Dashboard))

	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("http")
	}

	// Metrics sits next to the mux so it sees the matched route pattern.
	return middleware.Chain(mux,
		middleware.CORS(cfg.AllowedOrigins),
		middleware.Logging(logger),
		middleware.Authenticate(cfg.Tokens, cfg.Resolver),
		middleware.Metrics,
	)
}

func healthz(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				logging.FromCtx(r.Context()).Error("health check failed", "err", err)
				respondJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

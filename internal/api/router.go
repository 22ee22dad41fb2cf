package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "propvest/internal/api/context"
	"propvest/internal/api/handlers"
	"propvest/internal/api/middleware"
	"propvest/internal/pkg/errors"
	"propvest/internal/platform/auth"
)

type Dependencies struct {
	WebhookHandler *handlers.WebhookHandler
	EventHandler   *handlers.EventHandler
	HealthHandler  *handlers.HealthHandler
	MetricsHandler *handlers.MetricsHandler
	AuthMiddleware *middleware.AuthMiddleware
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	router.GET("/health", wrap(deps.HealthHandler.Handle))
	router.GET("/metrics", wrap(deps.MetricsHandler.Export))

	authMid := deps.AuthMiddleware

	// Subscription management (owner or admin)
	router.GET("/api/v1/webhooks",
		chain(deps.WebhookHandler.List, authMid.Handle, middleware.RateLimit("admin_read")))
	router.POST("/api/v1/webhooks",
		chain(deps.WebhookHandler.Create, authMid.Handle, middleware.RateLimit("admin_write")))
	// Separate prefix: httprouter rejects a static segment alongside
	// the :subscription_id wildcard.
	router.GET("/api/v1/stats/webhooks",
		chain(deps.WebhookHandler.Stats, authMid.Handle, requireRole("admin"), middleware.RateLimit("admin_read")))
	router.GET("/api/v1/webhooks/:subscription_id",
		chain(deps.WebhookHandler.Get, authMid.Handle, middleware.RateLimit("admin_read")))
	router.PATCH("/api/v1/webhooks/:subscription_id",
		chain(deps.WebhookHandler.Update, authMid.Handle, middleware.RateLimit("admin_write")))
	router.DELETE("/api/v1/webhooks/:subscription_id",
		chain(deps.WebhookHandler.Delete, authMid.Handle, middleware.RateLimit("admin_write")))

	// Delivery log and recovery
	router.GET("/api/v1/webhooks/:subscription_id/deliveries",
		chain(deps.WebhookHandler.ListDeliveries, authMid.Handle, middleware.RateLimit("admin_read")))
	router.POST("/api/v1/webhooks/:subscription_id/retry",
		chain(deps.WebhookHandler.Retry, authMid.Handle, middleware.RateLimit("admin_write")))
	router.POST("/api/v1/webhooks/:subscription_id/rotate-secret",
		chain(deps.WebhookHandler.RotateSecret, authMid.Handle, middleware.RateLimit("admin_write")))

	// Event firing and breaker control (admin only)
	router.POST("/api/v1/events",
		chain(deps.EventHandler.Emit, authMid.Handle, requireRole("admin"), middleware.RateLimit("admin_write")))
	router.GET("/api/v1/breaker",
		chain(deps.EventHandler.BreakerState, authMid.Handle, requireRole("admin"), middleware.RateLimit("admin_read")))
	router.POST("/api/v1/breaker/reset",
		chain(deps.EventHandler.ResetBreaker, authMid.Handle, requireRole("admin"), middleware.RateLimit("admin_write")))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

func requireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

			allowed := false
			for _, role := range roles {
				if claims.Role == role {
					allowed = true
					break
				}
			}

			if !allowed {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
				return
			}

			next(w, r)
		}
	}
}

package routing

import (
	"net/http"

	"andstatus/internal/handlers"
	"andstatus/internal/middleware"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config holds the configuration needed for setting up routes
type Config struct {
	Handlers *handlers.Handler
	Logger   zerolog.Logger
}

// SetupRouter creates and configures the HTTP router with all routes and middleware
func SetupRouter(cfg Config) http.Handler {
	h := cfg.Handlers
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Read-only admin API
	mux.HandleFunc("GET /api/timeline", h.HandleTimeline)
	mux.HandleFunc("GET /api/messages/{id}", h.HandleMessage)
	mux.HandleFunc("GET /api/users/{id}", h.HandleUser)
	mux.HandleFunc("GET /api/accounts/{name}", h.HandleAccount)
	mux.HandleFunc("GET /api/stats", h.HandleStats)

	// Apply middleware in order (outermost last)
	var handler http.Handler = mux

	// 1. Trace every request
	handler = otelhttp.NewHandler(handler, "andstatus.admin")

	// 2. Apply logging middleware (outermost - wraps everything)
	handler = middleware.LoggingMiddleware(cfg.Logger)(handler)

	return handler
}

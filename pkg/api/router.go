package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/pkg/api/handlers"
	"github.com/marmos91/dittolock/pkg/metrics"
)

// NewRouter creates and configures the chi router with all middleware and routes.
//
// Routes:
//   - GET  /health                    - Liveness probe
//   - GET  /health/ready              - Readiness probe
//   - GET  /metrics                   - Prometheus metrics (404 when disabled)
//   - GET  /api/v1/status             - Lock manager summary
//   - GET  /api/v1/locks              - Every lock with local state
//   - GET  /api/v1/locks/{id}         - One lock
//   - POST /api/v1/locks/{id}/recall  - Hand a greedy grant back to the server
//   - POST /api/v1/gc                 - Run one GC sweep
//
// service may be nil, in which case only the health and metrics routes are
// served.
func NewRouter(service handlers.LockService) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	var source handlers.StateSource
	if service != nil {
		source = service
	}
	healthHandler := handlers.NewHealthHandler(source)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Handle("/metrics", metrics.Handler())

	if service != nil {
		locksHandler := handlers.NewLocksHandler(service)
		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/status", locksHandler.Status)
			r.Post("/gc", locksHandler.GC)
			r.Route("/locks", func(r chi.Router) {
				r.Get("/", locksHandler.List)
				r.Get("/{id}", locksHandler.Get)
				r.Post("/{id}/recall", locksHandler.Recall)
			})
		})
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs requests using the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.KeyDurationMs, logger.Duration(start),
		)
	})
}

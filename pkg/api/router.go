package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mirrorq/mirrorq/internal/logger"
	"github.com/mirrorq/mirrorq/pkg/api/handlers"
	"github.com/mirrorq/mirrorq/pkg/manager"
	"github.com/mirrorq/mirrorq/pkg/queue"
	"github.com/mirrorq/mirrorq/pkg/scanner"
)

// Dependencies carries the components the router exposes over HTTP.
type Dependencies struct {
	Store   *queue.Store
	Manager *manager.Manager
	Scanner *scanner.Scanner
}

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Real IP extraction for proper client identification
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent server crashes
//   - Request timeout to prevent hung requests
func NewRouter(deps Dependencies, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	healthHandler := handlers.NewHealthHandler(deps.Store)
	bucketHandler := handlers.NewBucketHandler(deps.Manager, deps.Scanner)
	fileHandler := handlers.NewFileHandler(deps.Store)
	statsHandler := handlers.NewStatsHandler(deps.Store)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", statsHandler.Global)

		r.Route("/buckets", func(r chi.Router) {
			r.Get("/", bucketHandler.List)
			r.Post("/", bucketHandler.Create)

			r.Route("/{bucketID}", func(r chi.Router) {
				r.Get("/", bucketHandler.Get)
				r.Put("/", bucketHandler.Update)
				r.Delete("/", bucketHandler.Delete)

				r.Post("/start", bucketHandler.Start)
				r.Post("/pause", bucketHandler.Pause)
				r.Post("/resume", bucketHandler.Resume)
				r.Post("/stop", bucketHandler.Stop)
				r.Post("/scan", bucketHandler.Scan)

				r.Get("/stats", statsHandler.Bucket)
				r.Get("/folders", statsHandler.Folders)
				r.Get("/files", fileHandler.List)
				r.Post("/resolve", fileHandler.ResolveBulk)
				r.Post("/retry", fileHandler.RetryBulk)
			})
		})

		r.Route("/files/{fileID}", func(r chi.Router) {
			r.Get("/", fileHandler.Get)
			r.Post("/resolve", fileHandler.Resolve)
			r.Post("/retry", fileHandler.Retry)
		})
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs requests using the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
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

		duration := time.Since(start)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", duration.String(),
		)
	})
}

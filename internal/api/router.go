package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRouter creates and configures the HTTP router. Metrics from
// gatherer are served on /metrics when it is non-nil.
func SetupRouter(handler *Handler, gatherer prometheus.Gatherer, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()

	// Apply middleware
	router.Use(loggingMiddleware(logger))
	router.Use(corsMiddleware())
	router.Use(recoveryMiddleware(logger))

	// Health check endpoint
	router.HandleFunc("/health", handler.HandleHealth).Methods(http.MethodGet)

	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Tokens
	api.HandleFunc("/tokens", handler.HandleListTokens).Methods(http.MethodGet)
	api.HandleFunc("/tokens/{mint}", handler.HandleGetToken).Methods(http.MethodGet)

	// Escrows
	api.HandleFunc("/escrows", handler.HandleCreateEscrow).Methods(http.MethodPost)
	api.HandleFunc("/escrows/maker/{maker}", handler.HandleListEscrowsByMaker).Methods(http.MethodGet)
	api.HandleFunc("/escrows/{address}", handler.HandleGetEscrow).Methods(http.MethodGet)
	api.HandleFunc("/escrows/{address}", handler.HandleUpdateEscrow).Methods(http.MethodPatch)
	api.HandleFunc("/escrows/{address}/take", handler.HandleTakeEscrow).Methods(http.MethodPost)
	api.HandleFunc("/escrows/{address}/cancel", handler.HandleCancelEscrow).Methods(http.MethodPost)

	// Action state
	api.HandleFunc("/actions/{id}", handler.HandleGetAction).Methods(http.MethodGet)
	api.HandleFunc("/actions/{id}", handler.HandleResetAction).Methods(http.MethodDelete)

	// History
	api.HandleFunc("/history/{actor}", handler.HandleGetHistory).Methods(http.MethodGet)

	// Addresses
	api.HandleFunc("/addresses/escrow", handler.HandleDeriveEscrowAddress).Methods(http.MethodPost)

	// Wallet
	api.HandleFunc("/wallet", handler.HandleGetWallet).Methods(http.MethodGet)

	return router
}

// ==================== Middleware ====================

// loggingMiddleware logs HTTP requests
func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// corsMiddleware adds CORS headers
func corsMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Allow all origins for now (can be restricted later)
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// recoveryMiddleware recovers from panics and logs them
func recoveryMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("Panic recovered",
						zap.Any("error", err),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
					)

					// Send error response
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"error":"Internal server error","message":"An unexpected error occurred"}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

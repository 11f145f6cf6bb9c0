package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/specterlabs/handoff/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(rateLimiter *ratelimit.Limiter, requestsPerHour int) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/v1").Subrouter()

	// Lifecycle endpoints launch or tear down browsers; rate limited.
	lifecycle := api.PathPrefix("").Subrouter()
	lifecycle.Use(RateLimitMiddleware(rateLimiter, requestsPerHour))
	lifecycle.HandleFunc("/providers/{provider}/login/start", h.StartLogin).Methods("POST", "OPTIONS")
	lifecycle.HandleFunc("/providers/{provider}/settings/start", h.StartSettings).Methods("POST", "OPTIONS")
	lifecycle.HandleFunc("/providers/{provider}/stop", h.StopSession).Methods("POST", "OPTIONS")
	lifecycle.HandleFunc("/providers/{provider}/logout", h.Logout).Methods("POST", "OPTIONS")

	// Status is polled by orchestration loops; not rate limited.
	api.HandleFunc("/providers", h.ListProviders).Methods("GET")
	api.HandleFunc("/providers/{provider}/status", h.GetStatus).Methods("GET")
	api.HandleFunc("/providers/{provider}/session", h.GetSession).Methods("GET")
	api.HandleFunc("/providers/{provider}/ws", h.AttachStream).Methods("GET")
	api.HandleFunc("/providers/{provider}/navigate", h.Navigate).Methods("POST", "OPTIONS")
	api.HandleFunc("/providers/{provider}/cookies", h.ImportCookies).Methods("POST", "OPTIONS")

	api.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")

	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

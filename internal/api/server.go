package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/medforge/portal/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes. stream serves the websocket
// endpoint and may be nil.
func (h *Handler) SetupRoutes(stream http.Handler, rateLimiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestIDMiddleware, LoggingMiddleware(h.log), corsMiddleware)

	r.HandleFunc("/healthz", h.Healthz).Methods("GET")

	// API v1 routes
	api := r.PathPrefix("/v1").Subrouter()
	limited := RateLimitMiddleware(rateLimiter)

	// Mutating endpoints (rate limited)
	api.Handle("/session", limited(http.HandlerFunc(h.CreateSession))).Methods("POST", "OPTIONS")
	api.Handle("/session/{id}/stop", limited(http.HandlerFunc(h.StopSession))).Methods("POST", "OPTIONS")

	// Reads (not rate limited)
	api.HandleFunc("/session", h.GetCurrentSession).Methods("GET")
	api.HandleFunc("/rankings", h.GetRankings).Methods("GET")
	api.HandleFunc("/surface", h.GetSurface).Methods("GET")
	api.HandleFunc("/me", h.GetMe).Methods("GET")

	if stream != nil {
		api.Handle("/stream", stream).Methods("GET")
	}

	return r
}

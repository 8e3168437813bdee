// Package server implements the HTTP server, middleware, and request handlers for the application.
package server

import (
	"net/http"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/claims"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/config"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/query"
	"github.com/Mark-Dyer/hytaleonlinelist/internal/storage"
)

// New creates a new Server instance with the provided storage, prober, claim
// engine, and configuration.
func New(store *storage.Store, prober *query.Service, claimSvc *claims.Service, cfg *config.Config) *Server {
	return &Server{
		storage:      store,
		prober:       prober,
		claims:       claimSvc,
		authToken:    cfg.Server.AuthToken,
		trustProxy:   cfg.Server.TrustProxy,
		rateCount:    cfg.RateLimit.Count,
		rateWindow:   cfg.RateLimit.Window,
		softProbeDur: cfg.RateLimit.SoftProbe,
	}
}

// Run configures the HTTP routes and returns the main handler.
func (s *Server) Run() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /api/servers", http.HandlerFunc(s.handleListServers))
	mux.Handle("GET /api/servers/{id}/status", http.HandlerFunc(s.handleServerStatus))
	mux.Handle("GET /api/servers/{id}/history", http.HandlerFunc(s.handleServerHistory))
	mux.Handle("POST /api/servers/{id}/check", AdminAuthMiddleware(s.authToken, http.HandlerFunc(s.handleCheckNow)))

	mux.Handle("POST /api/servers/{id}/claim", s.RateLimitMiddleware(http.HandlerFunc(s.handleInitiateClaim)))
	mux.Handle("POST /api/servers/{id}/claim/verify", s.RateLimitMiddleware(http.HandlerFunc(s.handleVerifyClaim)))
	mux.Handle("GET /api/servers/{id}/claim", http.HandlerFunc(s.handleClaimStatus))
	mux.Handle("DELETE /api/servers/{id}/claim", http.HandlerFunc(s.handleCancelClaim))
	mux.Handle("GET /api/servers/{id}/claim/methods", http.HandlerFunc(s.handleClaimMethods))

	mux.Handle("GET /healthz", http.HandlerFunc(s.handleHealth))

	return s.LoggingMiddleware(mux)
}

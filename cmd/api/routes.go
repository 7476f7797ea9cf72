package main

import (
	"net/http"

	"github.com/rs/zerolog/log"

	httphandlers "ofbconnect/internal/interfaces/http"
	"ofbconnect/internal/shared/config"
	"ofbconnect/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	of := deps.OpenFinanceHandler

	// Health checks
	mux.HandleFunc("GET /health", httphandlers.HandleLiveness)
	mux.HandleFunc("GET /open-finance/health", deps.HealthHandler.HandleHealth)

	// The bank redirects the user's browser here; state identifies the consent.
	mux.HandleFunc("GET /open-finance/callback", of.HandleCallback)

	// Protected routes
	authMiddleware := middleware.Auth(deps.JWT)
	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(middleware.NoStore(h))
	}

	mux.Handle("POST /open-finance/connect", protect(of.HandleConnect))
	mux.Handle("GET /open-finance/connections", protect(of.HandleListConnections))
	mux.Handle("GET /open-finance/consents", protect(of.HandleListConsents))
	mux.Handle("GET /open-finance/consents/{consent_id}", protect(of.HandleGetConsent))
	mux.Handle("GET /open-finance/balances", protect(of.HandleBalances))
	mux.Handle("POST /open-finance/sync", protect(of.HandleSyncAll))
	mux.Handle("POST /open-finance/sync/{connection_id}", protect(of.HandleSync))
	mux.Handle("GET /open-finance/sync/{connection_id}/jobs", protect(of.HandleSyncJobs))
	mux.Handle("DELETE /open-finance/disconnect/{consent_id}", protect(of.HandleDisconnect))
	mux.Handle("GET /open-finance/payments", protect(of.HandleListPayments))
	mux.Handle("POST /open-finance/payments/{consent_id}", protect(of.HandleInitiatePayment))
	mux.Handle("GET /open-finance/payments/{payment_id}", protect(of.HandleGetPayment))
	mux.Handle("DELETE /open-finance/payments/{payment_id}", protect(of.HandleCancelPayment))

	// Apply global middleware
	handler := middleware.Logging(middleware.CORS(cfg.Server.AllowedHosts)(mux))
	handler = middleware.Tracing(handler)

	// Apply security middleware when TLS is enabled
	if cfg.TLS.Enabled {
		handler = middleware.HSTS(handler)
		log.Info().Msg("TLS security middleware enabled (HSTS)")
	}

	return handler
}

package main

import (
	"log"
	"net/http"

	httphandlers "bankfeed/internal/interfaces/http"
	"bankfeed/internal/shared/config"
	"bankfeed/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", httphandlers.HandleHealth)

	// Upstream webhooks authenticate by signature, not by token
	mux.HandleFunc("/api/webhooks/teller", deps.WebhookHandler.HandleTeller)

	// Protected routes
	authMiddleware := middleware.Auth(deps.JWT)

	mux.Handle("/api/sync", authMiddleware(http.HandlerFunc(deps.SyncHandler.HandleSync)))
	mux.Handle("/api/enrollments", authMiddleware(http.HandlerFunc(deps.SyncHandler.HandleLinkEnrollment)))
	mux.Handle("/api/accounts", authMiddleware(http.HandlerFunc(deps.AccountHandler.HandleListAccounts)))
	mux.Handle("/api/accounts/{id}", authMiddleware(http.HandlerFunc(deps.AccountHandler.HandleAccountByID)))
	mux.Handle("/api/accounts/{id}/balance", authMiddleware(http.HandlerFunc(deps.AccountHandler.HandleRefreshBalance)))
	mux.Handle("/api/notifications/register-device/", authMiddleware(http.HandlerFunc(deps.NotificationHandler.HandleRegisterDevice)))
	mux.Handle("/api/notifications/read", authMiddleware(http.HandlerFunc(deps.NotificationHandler.HandleMarkRead)))
	mux.Handle("/api/notifications/", authMiddleware(http.HandlerFunc(deps.NotificationHandler.HandleNotifications)))

	// Apply global middleware
	handler := middleware.Logging(middleware.CORS(cfg.Server.AllowedHosts)(middleware.Tracing(mux)))
	handler = middleware.Telemetry(handler)

	if cfg.TLS.Enabled {
		handler = middleware.HSTS(handler)
		log.Println("TLS security middleware enabled (HSTS)")
	}

	return handler
}

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"bankfeed/internal/infrastructure/postgres/listener"
	"bankfeed/internal/interfaces/scheduler"
	"bankfeed/internal/shared/config"
	"bankfeed/internal/shared/middleware"
)

// apiWriteTimeout leaves room for a manual sync, which waits on the
// upstream for every enrollment of the user.
const apiWriteTimeout = 2 * time.Minute

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Handler      http.Handler
	Addr         string
	TLSEnabled   bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
	AllowedHosts []string
}

// Servers are the running listeners. Errors receives the first failure of
// any of them; a clean shutdown sends nothing.
type Servers struct {
	API      *http.Server
	Redirect *http.Server
	Errors   <-chan error
}

// StartServers starts the API server and, with TLS and redirect enabled,
// the port 80 redirect server.
func StartServers(scfg ServerConfig) *Servers {
	errCh := make(chan error, 2)

	srv := &http.Server{
		Addr:              scfg.Addr,
		Handler:           scfg.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      apiWriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	if scfg.TLSEnabled {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	servers := &Servers{API: srv, Errors: errCh}

	if scfg.TLSEnabled && scfg.RedirectHTTP {
		servers.Redirect = createRedirectServer(scfg.AllowedHosts)
		go func() {
			log.Println("HTTP redirect server starting on :80")
			if err := servers.Redirect.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("redirect server: %w", err)
			}
		}()
	}

	go func() {
		var err error
		if scfg.TLSEnabled {
			log.Printf("HTTPS server starting on %s", scfg.Addr)
			err = srv.ListenAndServeTLS(scfg.CertPath, scfg.KeyPath)
		} else {
			log.Printf("HTTP server starting on %s", scfg.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	return servers
}

// GracefulShutdown stops accepting sync requests, drains the scheduler, then
// shuts the servers down.
func GracefulShutdown(servers *Servers, syncListener *listener.SyncListener, sched *scheduler.Scheduler, timeout time.Duration) {
	log.Println("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if syncListener != nil {
		syncListener.Stop()
	}

	if sched != nil {
		sched.Shutdown(timeout)
	}

	if servers.Redirect != nil {
		if err := servers.Redirect.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down HTTP redirect server: %v", err)
		}
	}

	if err := servers.API.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down API server: %v", err)
	}

	log.Println("Server stopped")
}

// createRedirectServer answers every request with a permanent redirect to
// the same path over HTTPS. Hosts outside allowedHosts are refused so the
// redirect cannot be pointed elsewhere.
func createRedirectServer(allowedHosts []string) *http.Server {
	redirectHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Header.Get("X-Forwarded-Host")
		if host == "" {
			host = r.Host
		}

		if !middleware.IsHostAllowed(host, allowedHosts) {
			http.Error(w, "Invalid host", http.StatusBadRequest)
			return
		}

		http.Redirect(w, r, "https://"+canonicalHost(host)+r.RequestURI, http.StatusMovedPermanently)
	})

	return &http.Server{
		Addr:              ":80",
		Handler:           redirectHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// canonicalHost drops the port, keeping brackets around IPv6 literals.
func canonicalHost(host string) string {
	h, _, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	if strings.Contains(h, ":") {
		return "[" + h + "]"
	}
	return h
}

// NewServerConfigFromConfig creates ServerConfig from application config.
func NewServerConfigFromConfig(handler http.Handler, cfg *config.Config) ServerConfig {
	return ServerConfig{
		Handler:      handler,
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		TLSEnabled:   cfg.TLS.Enabled,
		CertPath:     cfg.TLS.CertPath,
		KeyPath:      cfg.TLS.KeyPath,
		RedirectHTTP: cfg.TLS.RedirectHTTP,
		AllowedHosts: cfg.Server.AllowedHosts,
	}
}

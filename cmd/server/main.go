package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/wardendesk/api/internal/auth"
	"github.com/wardendesk/api/internal/auth/oidc"
	"github.com/wardendesk/api/internal/config"
	"github.com/wardendesk/api/internal/credentials"
	"github.com/wardendesk/api/internal/db"
	"github.com/wardendesk/api/internal/governance"
	"github.com/wardendesk/api/internal/handlers"
	"github.com/wardendesk/api/internal/logging"
	"github.com/wardendesk/api/internal/metrics"
	"github.com/wardendesk/api/internal/middleware"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	logger.Info("Starting WardenDesk API server", nil)

	// Connect to database
	database, err := sql.Open("pgx", cfg.Database.DSN())
	if err != nil {
		logger.Error("Failed to open database", err, nil)
		os.Exit(1)
	}
	defer database.Close()

	// Configure connection pool
	database.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	database.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	database.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := database.PingContext(ctx); err != nil {
		logger.Error("Failed to ping database", err, nil)
		os.Exit(1)
	}

	logger.Info("Connected to database", map[string]interface{}{
		"host": cfg.Database.Host,
		"port": cfg.Database.Port,
		"name": cfg.Database.Name,
	})

	// Initialize components
	queries := db.NewQueries(database)

	jwtManager, err := auth.NewJWTManager(cfg.Auth.JWTSecret, 24*time.Hour)
	if err != nil {
		logger.Error("JWT_SECRET is required", err, nil)
		os.Exit(1)
	}

	keyManager := auth.NewAgentKeyManager(queries)

	tokenCipher, err := credentials.NewTokenCipher(cfg.Crypto.TokenKey)
	if err != nil {
		logger.Error("TOKEN_ENCRYPTION_KEY is required", err, nil)
		os.Exit(1)
	}

	credStore := credentials.NewStore(queries, tokenCipher, cfg.Provider, logger,
		cfg.Governance.RefreshBuffer, cfg.Governance.HandshakeTTL)

	matcher := governance.NewMatcher(queries, logger, cfg.Governance.FailOpen)
	ledger := governance.NewLedger(queries, logger, cfg.Governance.DefaultApprovalTTL)
	facade := governance.NewFacade(matcher, ledger, logger)

	eventHub := handlers.NewEventHub()

	// Initialize OIDC provider if configured
	var ssoHandlers *handlers.SSOHandlers
	if (cfg.Auth.Mode == "oidc" || cfg.Auth.Mode == "hybrid") && cfg.Auth.OIDC.IssuerURL != "" {
		oidcProvider, err := oidc.NewProvider(
			ctx,
			cfg.Auth.OIDC.IssuerURL,
			cfg.Auth.OIDC.ClientID,
			cfg.Auth.OIDC.ClientSecret,
			cfg.Auth.OIDC.RedirectURL,
			cfg.Auth.OIDC.Scopes,
		)
		if err != nil {
			logger.Error("Failed to initialize OIDC provider", err, nil)
			// Continue without SSO; local auth still works
		} else {
			attempts := oidc.NewAttemptStore(10 * time.Minute)
			ssoHandlers = handlers.NewSSOHandlers(oidcProvider, attempts, queries, jwtManager, logger)
			logger.Info("OIDC provider initialized", map[string]interface{}{
				"issuer": cfg.Auth.OIDC.IssuerURL,
			})
		}
	}

	// Initialize handlers
	authHandlers := handlers.NewAuthHandlers(queries, jwtManager)
	agentHandlers := handlers.NewAgentHandlers(queries, keyManager)
	ruleHandlers := handlers.NewRuleHandlers(queries)
	approvalHandlers := handlers.NewApprovalHandlers(ledger, eventHub, logger)
	connectionHandlers := handlers.NewConnectionHandlers(credStore, queries)
	actionHandlers := handlers.NewActionHandlers(facade, ledger, credStore, eventHub, logger)
	systemMetricsHandlers := handlers.NewSystemMetricsHandlers(logger)

	// Background sweep settles overdue approvals even when nobody reads them
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go runExpirySweeper(sweepCtx, ledger, logger)

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter(1000, 1*time.Minute)

	// Setup router
	router := mux.NewRouter()

	// Apply middleware (order matters)
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RequestSizeMiddleware(1 << 20))

	// Health check (no auth)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "ok",
			"service":   "wardendesk-api",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	// Prometheus metrics (no auth)
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	// System metrics endpoints (no auth)
	systemMetricsRouter := router.PathPrefix("/api/v1/system-metrics").Subrouter()
	systemMetricsRouter.HandleFunc("", systemMetricsHandlers.GetSystemMetrics).Methods("GET")
	systemMetricsRouter.HandleFunc("/ws", systemMetricsHandlers.SystemMetricsWebSocket).Methods("GET")

	// Auth routes (no auth required)
	authRouter := router.PathPrefix("/api/v1/auth").Subrouter()
	if cfg.Auth.EnableLocalAuth {
		authRouter.HandleFunc("/register", authHandlers.Register).Methods("POST", "OPTIONS")
		authRouter.HandleFunc("/login", authHandlers.Login).Methods("POST", "OPTIONS")
	}
	if ssoHandlers != nil {
		authRouter.HandleFunc("/sso/login", ssoHandlers.Login).Methods("GET")
		authRouter.HandleFunc("/sso/callback", ssoHandlers.Callback).Methods("GET")
	}

	// Provider authorization callback. No session auth: the state token is
	// the credential, and the handshake record it names is single-use.
	router.HandleFunc("/api/v1/connections/callback", connectionHandlers.AuthorizationCallback).Methods("GET")

	// Dashboard routes (session auth and rate limiting)
	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(jwtManager.Middleware())
	apiRouter.Use(middleware.RateLimitMiddleware(rateLimiter))

	apiRouter.HandleFunc("/auth/me", authHandlers.GetCurrentUser).Methods("GET")

	// Agent management
	apiRouter.HandleFunc("/agents", agentHandlers.CreateAgent).Methods("POST")
	apiRouter.HandleFunc("/agents", agentHandlers.ListAgents).Methods("GET")
	apiRouter.HandleFunc("/agents/{id}", agentHandlers.GetAgent).Methods("GET")
	apiRouter.HandleFunc("/agents/{id}", agentHandlers.DeleteAgent).Methods("DELETE")
	apiRouter.HandleFunc("/agents/{id}/rotate-key", agentHandlers.RotateAgentKey).Methods("POST")
	apiRouter.HandleFunc("/agents/{id}/active", agentHandlers.SetAgentActive).Methods("PUT")

	// Approval rules
	apiRouter.HandleFunc("/rules", ruleHandlers.CreateRule).Methods("POST")
	apiRouter.HandleFunc("/rules", ruleHandlers.ListRules).Methods("GET")
	apiRouter.HandleFunc("/rules/{id}", ruleHandlers.GetRule).Methods("GET")
	apiRouter.HandleFunc("/rules/{id}", ruleHandlers.UpdateRule).Methods("PUT")
	apiRouter.HandleFunc("/rules/{id}", ruleHandlers.DeleteRule).Methods("DELETE")

	// Approval queue
	apiRouter.HandleFunc("/approvals", approvalHandlers.ListApprovals).Methods("GET")
	apiRouter.HandleFunc("/approvals/sweep", approvalHandlers.SweepExpired).Methods("POST")
	apiRouter.HandleFunc("/approvals/ws", approvalHandlers.ApprovalsWebSocket).Methods("GET")
	apiRouter.HandleFunc("/approvals/{id}", approvalHandlers.GetApproval).Methods("GET")
	apiRouter.HandleFunc("/approvals/{id}/resolve", approvalHandlers.ResolveApproval).Methods("POST")
	apiRouter.HandleFunc("/approvals/{id}/cancel", approvalHandlers.CancelApproval).Methods("POST")
	apiRouter.HandleFunc("/approvals/{id}/history", approvalHandlers.GetApprovalHistory).Methods("GET")

	// Service connections
	apiRouter.HandleFunc("/connections/authorize", connectionHandlers.StartAuthorization).Methods("POST")
	apiRouter.HandleFunc("/connections", connectionHandlers.ListConnections).Methods("GET")
	apiRouter.HandleFunc("/connections/{id}", connectionHandlers.GetConnection).Methods("GET")
	apiRouter.HandleFunc("/connections/{id}", connectionHandlers.RevokeConnection).Methods("DELETE")

	// Agent-facing routes (agent credential auth)
	agentRouter := router.PathPrefix("/api/v1/agent").Subrouter()
	agentRouter.Use(keyManager.Middleware())
	agentRouter.Use(middleware.RateLimitMiddleware(rateLimiter))

	agentRouter.HandleFunc("/actions/evaluate", actionHandlers.Evaluate).Methods("POST")
	agentRouter.HandleFunc("/approvals/{id}/status", actionHandlers.GetApprovalStatus).Methods("GET")
	agentRouter.HandleFunc("/tokens/{provider}", actionHandlers.GetToken).Methods("GET")

	// CORS handler wrapper
	//
	// Wrap the router at the HTTP handler level (instead of router.Use) so
	// CORS headers and OPTIONS preflight responses work even when gorilla/mux
	// would otherwise return 404 for method-mismatches.
	corsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// WebSocket upgrades need the underlying connection (Hijacker),
		// so bypass the CORS wrapper for them
		if r.Header.Get("Upgrade") == "websocket" {
			router.ServeHTTP(w, r)
			return
		}

		origin := r.Header.Get("Origin")
		allowed := false
		allowAll := false

		for _, allowedOrigin := range cfg.CORS.AllowedOrigins {
			if allowedOrigin == "*" {
				allowAll = true
				allowed = true
				break
			} else if allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			} else if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
		}
		if allowed && (!allowAll || origin != "") {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		w.Header().Set("Access-Control-Allow-Methods", strings.Join(cfg.CORS.AllowedMethods, ", "))
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(cfg.CORS.AllowedHeaders, ", "))

		// Preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		router.ServeHTTP(w, r)
	})

	// Create HTTP server
	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      corsHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", map[string]interface{}{
			"address": addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", err, nil)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server", nil)
	sweepCancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", err, nil)
	}

	logger.Info("Server stopped", nil)
}

// runExpirySweeper periodically settles overdue pending approvals
func runExpirySweeper(ctx context.Context, ledger *governance.Ledger, logger *logging.Logger) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := ledger.SweepExpired(ctx)
			if err != nil {
				logger.Error("Expiry sweep failed", err, nil)
				continue
			}
			if count > 0 {
				logger.Info("Expired overdue approvals", map[string]interface{}{
					"count": count,
				})
			}
		}
	}
}

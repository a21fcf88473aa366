// Package main runs the WhatsApp messaging gateway: a single-session
// transport bridge exposing group orchestration over REST.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/coordination-labs/messaging-gateway/internal/audit"
	"github.com/coordination-labs/messaging-gateway/internal/config"
	"github.com/coordination-labs/messaging-gateway/internal/group"
	"github.com/coordination-labs/messaging-gateway/internal/httpapi"
	"github.com/coordination-labs/messaging-gateway/internal/logging"
	"github.com/coordination-labs/messaging-gateway/internal/middleware"
	"github.com/coordination-labs/messaging-gateway/internal/phone"
	"github.com/coordination-labs/messaging-gateway/internal/session"
	"github.com/coordination-labs/messaging-gateway/internal/storage"
	"github.com/coordination-labs/messaging-gateway/internal/transport"
)

func main() {
	configPath := flag.String("config", "config/gateway.yaml", "Path to config file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New("gateway", cfg.LogLevel, cfg.LogFormat)
	logger.WithField("listen_addr", cfg.ListenAddr).Info("Starting WhatsApp messaging gateway")

	auditLog, err := audit.Open(cfg.AuditLogPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open audit log")
	}
	defer auditLog.Close()

	db, err := sql.Open("postgres", cfg.DatabaseDSN)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.New(db)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to ensure database schema")
	}

	sess := session.New(auditLog, logger)
	normalizer := phone.NewNormalizer(cfg.DefaultCountryCode, cfg.AddressSuffix, auditLog)

	// Transport failures leave the gateway running in a degraded state:
	// connection routes report not-connected, group routes return
	// transport-not-ready until the link comes up.
	client, err := transport.NewWhatsmeow(ctx, cfg.DatabaseDSN, sess, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize WhatsApp transport; running degraded")
	} else {
		defer client.Stop()
		if err := client.Start(ctx); err != nil {
			logger.WithError(err).Error("Failed to start WhatsApp transport; running degraded")
		}
	}

	var tc transport.Client
	if client != nil {
		tc = client
	}
	orchestrator := group.New(tc, sess, normalizer, store, auditLog, logger)

	broadLimit := middleware.NewRateLimiter("broad", cfg.BroadLimit, cfg.BroadWindow,
		"Too many WhatsApp API requests, please try again later.", logger)
	mutationLimit := middleware.NewRateLimiter("mutation", cfg.MutationLimit, cfg.MutationWindow,
		"Too many group operations, please try again later.", logger)
	broadLimit.StartCleanup(cfg.BroadWindow)
	mutationLimit.StartCleanup(cfg.MutationWindow)

	handler := httpapi.NewHandler(sess, orchestrator, store, logger, cfg.CredentialWait)
	router := handler.Router(httpapi.RouterDeps{
		Auth:          middleware.NewAuthMiddleware([]byte(cfg.JWTSecret), logger, nil),
		BroadLimit:    broadLimit,
		MutationLimit: mutationLimit,
		CORS:          middleware.NewCORSMiddleware(cfg.CORSAllowedOrigins),
		Logging:       middleware.LoggingMiddleware(logger),
		Metrics:       middleware.MetricsMiddleware(),
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("Gateway API listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown error")
	}
	logger.Info("Gateway stopped")
}

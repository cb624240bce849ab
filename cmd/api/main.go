package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/toyforge/storefront/internal/ai"
	"github.com/toyforge/storefront/internal/auth"
	"github.com/toyforge/storefront/internal/config"
	"github.com/toyforge/storefront/internal/database"
	"github.com/toyforge/storefront/internal/email"
	"github.com/toyforge/storefront/internal/handlers"
	"github.com/toyforge/storefront/internal/logger"
	"github.com/toyforge/storefront/internal/payment"
	"github.com/toyforge/storefront/internal/routes"
	"github.com/toyforge/storefront/internal/worker"
	"go.uber.org/zap"
)

func main() {
	// 0. --- Configuration (.env + environment) ---
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Server.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. --- Main Database Connection (Read/Write) ---
	db, err := database.OpenDB(ctx, cfg.Database, zlog)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
		zlog.Info("schema migrated")
	}

	// 2. --- Reporting Connection (Read-Only) ---
	var dbReadOnly *sql.DB
	if cfg.Database.ReadOnlyDSN != cfg.Database.PrimaryDSN {
		dbReadOnly, err = database.OpenReadOnlyDB(ctx, cfg.Database, zlog)
		if err != nil {
			return err
		}
		defer dbReadOnly.Close()
	} else {
		zlog.Warn("DB_DSN_READONLY not set; reports and the assistant use the primary pool")
	}

	app := &handlers.Handlers{
		DB:         db,
		DBReadOnly: dbReadOnly,
		Config:     cfg,
		Logger:     zlog,
		Tokens:     auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Mailer:     email.NewLogMailer(zlog),
	}

	// 3. --- Payment Gateway ---
	if cfg.Razorpay.KeyID != "" && cfg.Razorpay.KeySecret != "" {
		app.Gateway = payment.NewRazorpayGateway(payment.RazorpayConfig{
			KeyID:         cfg.Razorpay.KeyID,
			KeySecret:     cfg.Razorpay.KeySecret,
			WebhookSecret: cfg.Razorpay.WebhookSecret,
			RetryAttempts: cfg.Razorpay.RetryAttempts,
		}, zlog)
	} else {
		zlog.Warn("Razorpay keys not set; only cash on delivery is available")
	}

	// 4. --- AI Assistant (optional) ---
	if cfg.AI.GeminiAPIKey != "" {
		readPool := dbReadOnly
		if readPool == nil {
			readPool = db
		}
		assistant, err := ai.NewAIService(ctx, cfg.AI.GeminiAPIKey, cfg.AI.Model, readPool, zlog)
		if err != nil {
			return err
		}
		defer assistant.Close()
		app.Assistant = assistant
	} else {
		zlog.Info("GEMINI_API_KEY not set; assistant disabled")
	}

	// 5. --- Background Workers ---
	go worker.Run(ctx, "expire-unpaid-orders", cfg.Worker.SweepInterval, zlog, app.ProcessOverdueOrders)
	go worker.Run(ctx, "retry-pending-refunds", cfg.Worker.SweepInterval, zlog, app.RetryPendingRefunds)

	// 6. --- Router & Server ---
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router, err := routes.SetupRouter(app)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("starting ToyForge API server", zap.String("addr", srv.Addr), zap.String("env", cfg.Server.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zlog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"weddingpay/internal/config"
	"weddingpay/internal/middleware"
	"weddingpay/internal/modules/checkout"
	"weddingpay/internal/modules/reconcile"
	"weddingpay/pkg/logger"
	"weddingpay/pkg/notify"
	"weddingpay/pkg/payment"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider := newProvider(cfg, zl)

	var repo checkout.RepositoryInterface
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			zl.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		pgRepo := checkout.NewRepository(pool)
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			zl.Fatal("failed to prepare schema", zap.Error(err))
		}
		repo = pgRepo
	} else {
		zl.Warn("DATABASE_URL not set, intents are kept in memory only")
		repo = checkout.NewMemoryRepository()
	}

	var receipts checkout.ReceiptSender
	if cfg.ReceiptFromAddress != "" {
		mailer, err := notify.NewReceiptMailer(ctx, cfg.AWSRegion, cfg.ReceiptFromAddress)
		if err != nil {
			zl.Fatal("failed to set up receipt mailer", zap.Error(err))
		}
		receipts = mailer
	}

	manager := reconcile.NewManager(provider, reconcile.Config{
		Poll: reconcile.PollConfig{
			Interval:             cfg.PollInterval,
			MaxAttempts:          cfg.PollMaxAttempts,
			FetchLimit:           cfg.PollFetchLimit,
			MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		},
		ToleranceMinor: cfg.MatchToleranceMinor,
		RequireStrong:  cfg.MatchRequireStrong,
		Retention:      cfg.SessionRetention,
	}, zl)

	svc := checkout.NewService(provider, repo, manager, receipts,
		payment.AmountBounds{MinMinor: cfg.AmountMinMinor, MaxMinor: cfg.AmountMaxMinor},
		checkout.RetryPolicy{
			MaxRetries: cfg.CreateMaxRetries,
			BaseDelay:  cfg.CreateRetryBaseDelay,
			MaxDelay:   cfg.CreateRetryMaxDelay,
		},
		zl,
	)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{cfg.ClientOrigin},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api/payments", middleware.JWTAuth(cfg.JWTSecret))
	checkout.NewHandler(svc).RegisterRoutes(api)

	go func() {
		zl.Info("HTTP server starting", zap.String("port", cfg.ServerPort), zap.String("provider", cfg.PaymentProvider))
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zl.Error("http shutdown", zap.Error(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		zl.Error("reconciliation shutdown", zap.Error(err))
	}
}

func newProvider(cfg *config.Config, zl *zap.Logger) payment.Provider {
	switch cfg.PaymentProvider {
	case "stripe":
		if cfg.StripeAPIKey == "" {
			zl.Fatal("STRIPE_API_KEY must be set when PAYMENT_PROVIDER=stripe")
		}
		return payment.NewStripeProvider(cfg.StripeAPIKey)
	default:
		if cfg.ProviderSecretKey == "" {
			zl.Fatal("PROVIDER_SECRET_KEY must be set when PAYMENT_PROVIDER=wallet")
		}
		return payment.NewWalletClient(cfg.ProviderBaseURL, cfg.ProviderSecretKey, cfg.ProviderTimeout)
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/unimart-backend/api/routes"
	"github.com/angelmondragon/unimart-backend/internal/accounts"
	"github.com/angelmondragon/unimart-backend/internal/credits"
	"github.com/angelmondragon/unimart-backend/internal/escrow"
	"github.com/angelmondragon/unimart-backend/internal/ledger"
	"github.com/angelmondragon/unimart-backend/internal/payouts"
	stripewebhook "github.com/angelmondragon/unimart-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/unimart-backend/pkg/auth/session"
	"github.com/angelmondragon/unimart-backend/pkg/config"
	"github.com/angelmondragon/unimart-backend/pkg/db"
	"github.com/angelmondragon/unimart-backend/pkg/logger"
	"github.com/angelmondragon/unimart-backend/pkg/metrics"
	"github.com/angelmondragon/unimart-backend/pkg/migrate"
	"github.com/angelmondragon/unimart-backend/pkg/outbox"
	"github.com/angelmondragon/unimart-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/unimart-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	var sessions session.AccessSessionChecker
	if cfg.JWT.RequireSession {
		manager, err := session.NewManager(redisClient, cfg.JWT)
		if err != nil {
			logg.Error(context.Background(), "failed to create session manager", err)
			os.Exit(1)
		}
		sessions = manager
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ledgerMetrics := metrics.NewLedgerMetrics(registry)

	conn := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	accountService, err := accounts.NewService(accounts.ServiceParams{
		Repo:     accounts.NewRepository(conn),
		TxRunner: dbClient,
		Outbox:   emitter,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create accounts service", err)
		os.Exit(1)
	}

	journal, err := ledger.NewJournal(ledger.JournalParams{
		TxRunner:   dbClient,
		Accounts:   accounts.NewRepository(conn),
		Entries:    ledger.NewRepository(conn),
		MaxRetries: cfg.Ledger.MaxRetries,
		Logger:     logg,
		Metrics:    ledgerMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create journal", err)
		os.Exit(1)
	}

	escrowService, err := escrow.NewService(escrow.ServiceParams{
		Repo:     escrow.NewRepository(conn),
		Journal:  journal,
		Accounts: accountService,
		Outbox:   emitter,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create escrow service", err)
		os.Exit(1)
	}

	creditService, err := credits.NewService(credits.ServiceParams{
		Accounts:        accountService,
		Journal:         journal,
		Guard:           ledger.NewGuard(conn),
		Outbox:          emitter,
		ChannelMinimums: cfg.Ledger.ChannelMinimumAmounts(),
		Logger:          logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create credits service", err)
		os.Exit(1)
	}

	payoutService, err := payouts.NewService(payouts.ServiceParams{
		Repo:     payouts.NewRepository(conn),
		Journal:  journal,
		Accounts: accountService,
		Outbox:   emitter,
		Minimum:  cfg.Ledger.PayoutMinimumAmount(),
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payout service", err)
		os.Exit(1)
	}

	stripeClient, checkoutService := bootstrapStripe(cfg, logg, creditService, accountService)

	webhookGuard, err := stripewebhook.NewEventGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	router := routes.NewRouter(
		cfg,
		logg,
		registry,
		dbClient,
		redisClient,
		sessions,
		accountService,
		journal,
		escrowService,
		creditService,
		payoutService,
		stripeClient,
		checkoutService,
		webhookGuard,
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": cfg.Service.Instance(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}
}

// bootstrapStripe returns nil interfaces when Stripe is not configured so the
// payment routes answer with a clear error instead of a nil dereference.
func bootstrapStripe(cfg *config.Config, logg *logger.Logger, creditService credits.Service, accountService accounts.Service) (routes.StripeSigner, routes.CheckoutService) {
	if cfg.Stripe.APIKey == "" {
		logg.Warn(context.Background(), "stripe not configured; checkout settlement disabled")
		return nil, nil
	}
	client, err := pkgstripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe client", err)
		os.Exit(1)
	}
	svc, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Credits:  creditService,
		Accounts: accountService,
		Sessions: client,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}
	return client, svc
}

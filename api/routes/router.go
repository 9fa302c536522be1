package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/unimart-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/unimart-backend/api/controllers/webhooks"
	"github.com/angelmondragon/unimart-backend/api/middleware"
	"github.com/angelmondragon/unimart-backend/internal/accounts"
	"github.com/angelmondragon/unimart-backend/internal/credits"
	"github.com/angelmondragon/unimart-backend/internal/escrow"
	"github.com/angelmondragon/unimart-backend/internal/ledger"
	"github.com/angelmondragon/unimart-backend/internal/payouts"
	stripewebhook "github.com/angelmondragon/unimart-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/unimart-backend/pkg/auth/session"
	"github.com/angelmondragon/unimart-backend/pkg/config"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
	"github.com/angelmondragon/unimart-backend/pkg/logger"
	"github.com/angelmondragon/unimart-backend/pkg/metrics"
)

// redisStore is the Redis surface the HTTP layer needs: idempotency records,
// rate-limit counters and the readiness ping.
type redisStore interface {
	middleware.ReplayStore
	controllers.Pinger
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// CheckoutService settles paid checkout sessions from webhooks and client confirmations.
type CheckoutService interface {
	webhookcontrollers.StripeWebhookService
	controllers.CheckoutConfirmer
}

// StripeSigner exposes the webhook signing secret.
type StripeSigner interface {
	SigningSecret() string
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	registry *prometheus.Registry,
	dbP controllers.Pinger,
	redisClient redisStore,
	sessions session.AccessSessionChecker,
	accountService accounts.Service,
	journal ledger.Journal,
	escrowService escrow.Service,
	creditService credits.Service,
	payoutService payouts.Service,
	stripeClient StripeSigner,
	stripeWebhookService CheckoutService,
	stripeWebhookGuard *stripewebhook.EventGuard,
) http.Handler {
	var httpMetrics *metrics.HTTPMetrics
	if registry != nil {
		httpMetrics = metrics.NewHTTPMetrics(registry)
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.AccessLog(logg, httpMetrics),
		middleware.Recoverer(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	apiPolicy := middleware.NewRateLimitPolicy("api", cfg.RateLimit.Window, cfg.RateLimit.IPLimit, cfg.RateLimit.UserLimit)
	webhookPolicy := middleware.NewRateLimitPolicy("webhook", cfg.RateLimit.Window, cfg.RateLimit.WebhookLimit, 0)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})
	if registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(registry))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(middleware.RateLimit(webhookPolicy, redisClient, logg))
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookService, stripeClient, stripeWebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, sessions, logg))
		r.Use(middleware.RateLimit(apiPolicy, redisClient, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", controllers.WalletBalance(accountService, logg))
			r.Get("/entries", controllers.WalletEntries(journal, logg))
			r.Get("/payouts", controllers.WalletPayouts(payoutService, logg))
			r.Post("/payouts", controllers.WalletRequestPayout(payoutService, logg))
		})

		r.Route("/escrow/holds", func(r chi.Router) {
			r.Get("/", controllers.EscrowListHolds(escrowService, logg))
			r.Post("/", controllers.EscrowCreateHold(escrowService, logg))
			r.Get("/{holdId}", controllers.EscrowGetHold(escrowService, logg))
			r.Post("/{holdId}/release", controllers.EscrowReleaseHold(escrowService, logg))
			r.Post("/{holdId}/reverse", controllers.EscrowReverseHold(escrowService, logg))
		})

		r.Route("/credits", func(r chi.Router) {
			r.Post("/confirm", controllers.CreditsConfirm(stripeWebhookService, logg))
			r.Get("/grants", controllers.CreditsGrants(creditService, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, sessions, logg))
		r.Use(middleware.RequireRole(string(enums.AccountRoleAdmin), logg))
		r.Use(middleware.RateLimit(apiPolicy, redisClient, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Route("/accounts/{accountId}", func(r chi.Router) {
			r.Get("/", controllers.AdminAccountBalance(accountService, journal, logg))
			r.Get("/entries", controllers.AdminAccountEntries(journal, logg))
		})
		r.Post("/credits/grants", controllers.AdminGrantCredits(creditService, logg))
		r.Route("/payouts", func(r chi.Router) {
			r.Get("/", controllers.AdminListPayouts(payoutService, logg))
			r.Post("/{payoutId}/complete", controllers.AdminCompletePayout(payoutService, logg))
			r.Post("/{payoutId}/fail", controllers.AdminFailPayout(payoutService, logg))
		})
		r.Post("/escrow/holds/{holdId}/reverse", controllers.EscrowReverseHold(escrowService, logg))
	})

	return r
}

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/eleva-care/eleva-backend/libs/cache"
	"github.com/eleva-care/eleva-backend/libs/config"
	"github.com/eleva-care/eleva-backend/libs/db"
	"github.com/eleva-care/eleva-backend/libs/httpx"
	"github.com/eleva-care/eleva-backend/libs/kafkax"
	otelx "github.com/eleva-care/eleva-backend/libs/otel"
	"github.com/eleva-care/eleva-backend/libs/outbox"
	"github.com/eleva-care/eleva-backend/libs/runtime"
	"github.com/eleva-care/eleva-backend/services/payments-service/internal/bookingapi"
	"github.com/eleva-care/eleva-backend/services/payments-service/internal/checkout"
	"github.com/eleva-care/eleva-backend/services/payments-service/internal/handlers"
	"github.com/eleva-care/eleva-backend/services/payments-service/internal/intents"
	"github.com/eleva-care/eleva-backend/services/payments-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "payments-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	// Submission state lives in Redis with an in-process fallback; a Redis
	// outage degrades dedupe to per-instance instead of failing bookings.
	var rdb *redis.Client
	var submissionCache cache.Cache = cache.NewMemory()
	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	}
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		submissionCache = cache.NewFallback(cache.NewRedis(rdb), cache.NewMemory(), logger)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: cache.ReadyCheck(rdb)})
	}
	intentStore := intents.NewStore(submissionCache, logger)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	intentHandler := handlers.NewPaymentIntentHandler(
		repo,
		repo,
		checkout.NewStripeCreator(config.String("STRIPE_SECRET_KEY", "")),
		intentStore,
		bookingapi.New(config.String("BOOKING_SERVICE_URL", "")),
		logger,
		handlers.PaymentIntentConfig{
			SuccessURL:         config.String("CHECKOUT_SUCCESS_URL", "https://eleva.care/booking/success"),
			CancelURL:          config.String("CHECKOUT_CANCEL_URL", "https://eleva.care/booking/cancelled"),
			ExtraCheckoutHosts: config.StringList("CHECKOUT_EXTRA_HOSTS"),
		},
	)
	webhookHandler := handlers.NewWebhookHandler(repo, outboxRepo, logger, handlers.WebhookConfig{
		StripeWebhookSecret: config.String("STRIPE_WEBHOOK_SECRET", ""),
		ToleranceSeconds:    config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300),
		MeetingBaseURL:      config.String("MEETING_BASE_URL", "https://meet.eleva.care"),
	})

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.HandleFunc("/api/create-payment-intent", intentHandler.Create)
	mux.HandleFunc("/api/payments/stripe/webhook", webhookHandler.StripeWebhook)

	var rateLimit httpx.Middleware
	if rdb != nil {
		rateLimit = httpx.NewRedisRateLimiter(
			rdb,
			config.Int("RATE_LIMIT", 30),
			config.Duration("RATE_LIMIT_WINDOW", time.Minute),
			"rl:payments",
		).Middleware(logger, true)
	} else {
		rateLimit = httpx.NewRateLimiter(
			config.Int("RATE_LIMIT", 30),
			config.Duration("RATE_LIMIT_WINDOW", time.Minute),
		).Middleware()
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecovery(logger),
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		rateLimit,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.StringList("CORS_ALLOWED_ORIGINS"),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Idempotency-Key"},
			MaxAge:         10 * time.Minute,
		}),
	)
	finalHandler := otelhttp.NewHandler(httpHandler, "payments")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           finalHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	runtime.ServeUntilShutdown(ctx, srv, logger, 10*time.Second)
}

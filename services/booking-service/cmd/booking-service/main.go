package main

import (
	"context"
	"net/http"
	"time"

	"github.com/eleva-care/eleva-backend/libs/config"
	"github.com/eleva-care/eleva-backend/libs/db"
	"github.com/eleva-care/eleva-backend/libs/httpx"
	"github.com/eleva-care/eleva-backend/libs/kafkax"
	otelx "github.com/eleva-care/eleva-backend/libs/otel"
	"github.com/eleva-care/eleva-backend/libs/outbox"
	"github.com/eleva-care/eleva-backend/libs/runtime"
	"github.com/eleva-care/eleva-backend/services/booking-service/internal/handlers"
	"github.com/eleva-care/eleva-backend/services/booking-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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

	reservations := storage.NewReservationRepository(pool)
	events := storage.NewEventRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	bookingHandler := handlers.NewBookingHandler(
		reservations,
		events,
		outboxRepo,
		logger,
		config.String("MEETING_BASE_URL", "https://meet.eleva.care"),
		config.Duration("SLOT_STEP", 15*time.Minute),
	)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("GET /api/events/{slug}/slots", bookingHandler.Slots)
	mux.HandleFunc("/api/reservations", bookingHandler.Create)
	mux.HandleFunc("/api/reservations/list", bookingHandler.List)
	mux.HandleFunc("/api/reservations/cancel", bookingHandler.Cancel)

	rateLimiter := httpx.NewRateLimiter(
		config.Int("RATE_LIMIT", 60),
		config.Duration("RATE_LIMIT_WINDOW", time.Minute),
	)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecovery(logger),
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		rateLimiter.Middleware(),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.StringList("CORS_ALLOWED_ORIGINS"),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Idempotency-Key"},
			MaxAge:         10 * time.Minute,
		}),
	)
	finalHandler := otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           finalHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	runtime.ServeUntilShutdown(ctx, srv, logger, 10*time.Second)
}

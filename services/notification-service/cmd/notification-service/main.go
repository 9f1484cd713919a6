package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/eleva-care/eleva-backend/libs/config"
	"github.com/eleva-care/eleva-backend/libs/db"
	"github.com/eleva-care/eleva-backend/libs/httpx"
	"github.com/eleva-care/eleva-backend/libs/kafkax"
	otelx "github.com/eleva-care/eleva-backend/libs/otel"
	"github.com/eleva-care/eleva-backend/libs/runtime"
	"github.com/eleva-care/eleva-backend/services/notification-service/internal/consumer"
	"github.com/eleva-care/eleva-backend/services/notification-service/internal/handlers"
	"github.com/eleva-care/eleva-backend/services/notification-service/internal/inbox"
	"github.com/eleva-care/eleva-backend/services/notification-service/internal/notify"
	"github.com/eleva-care/eleva-backend/services/notification-service/internal/reminders"
	"github.com/eleva-care/eleva-backend/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type confirmationPayload struct {
	ReservationID string `json:"reservation_id"`
	EventName     string `json:"event_name"`
	GuestName     string `json:"guest_name"`
	GuestEmail    string `json:"guest_email"`
	ExpertEmail   string `json:"expert_email"`
	StartTime     string `json:"start_time"`
	MeetingURL    string `json:"meeting_url"`
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
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

	inboxRepo := inbox.NewRepository(pool)
	repo := storage.NewRepository(pool)

	var trigger notify.Trigger
	if engineURL := config.String("NOTIFY_ENGINE_URL", ""); engineURL != "" {
		trigger = notify.NewClient(engineURL, config.String("NOTIFY_ENGINE_API_KEY", ""))
	} else {
		trigger = notify.Noop{Logger: logger}
	}

	emailSender := notify.NewSMTPSender(
		config.String("SMTP_HOST", "mailpit"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", "no-reply@eleva.care"),
	)

	confirmationHandler := func(ctx context.Context, msg kafka.Message) error {
		var payload confirmationPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid confirmation payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.ReservationID == "" || payload.GuestEmail == "" {
			logger.Error("confirmation payload missing reservation_id or guest_email", "topic", msg.Topic)
			return nil
		}

		subject := "Your booking is confirmed"
		if payload.EventName != "" {
			subject = fmt.Sprintf("Your %s booking is confirmed", payload.EventName)
		}
		body := fmt.Sprintf("Hi %s,\n\nYour booking for %s is confirmed.\nStarts: %s\nJoin: %s\n",
			payload.GuestName, payload.EventName, payload.StartTime, payload.MeetingURL)

		status := "sent"
		if err := emailSender.Send(payload.GuestEmail, subject, body); err != nil {
			status = "failed"
			logger.Error("confirmation email failed", "err", err, "reservation_id", payload.ReservationID)
		}
		if err := repo.RecordNotification(ctx, payload.ReservationID, "guest", payload.GuestEmail,
			"booking-confirmation", "confirmation-guest-"+payload.ReservationID, status); err != nil {
			logger.Error("failed to record notification", "err", err)
			return err
		}
		logger.Info("confirmation processed", "reservation_id", payload.ReservationID, "status", status)
		return nil
	}

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "notification-service")
	for _, topic := range []string{
		config.String("KAFKA_TOPIC_RESERVATION_CREATED", "booking.reservation.created.v1"),
		config.String("KAFKA_TOPIC_PAYMENT_SUCCEEDED", "payments.payment.succeeded.v1"),
	} {
		if strings.TrimSpace(topic) == "" {
			continue
		}
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, confirmationHandler)
		go c.Run(ctx)
	}

	runner := reminders.NewRunner(repo, trigger, repo, logger)
	cronHandler := handlers.NewCronHandler(
		runner,
		logger,
		config.String("CRON_SIGNING_SECRET", ""),
		config.Duration("CRON_TIMEOUT", 55*time.Second),
	)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/cron/reminders/24h", cronHandler.Reminders("24h"))
	mux.HandleFunc("/api/cron/reminders/1h", cronHandler.Reminders("1h"))

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecovery(logger),
		httpx.WithAccessLog(logger),
	)
	finalHandler := otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           finalHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	runtime.ServeUntilShutdown(ctx, srv, logger, 10*time.Second)
}

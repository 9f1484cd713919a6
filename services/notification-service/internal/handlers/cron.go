package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eleva-care/eleva-backend/libs/signing"
	"github.com/eleva-care/eleva-backend/services/notification-service/internal/reminders"
)

type ReminderRunner interface {
	Run(ctx context.Context, w reminders.Window, now time.Time) (reminders.Report, error)
}

// CronHandler exposes the reminder jobs as signed HTTP endpoints, so an
// external scheduler can trigger them without sharing process state.
type CronHandler struct {
	runner  ReminderRunner
	logger  *slog.Logger
	secret  string
	timeout time.Duration
}

func NewCronHandler(runner ReminderRunner, logger *slog.Logger, secret string, timeout time.Duration) *CronHandler {
	if timeout <= 0 {
		// Stay under a one-minute scheduler deadline.
		timeout = 55 * time.Second
	}
	return &CronHandler{runner: runner, logger: logger, secret: strings.TrimSpace(secret), timeout: timeout}
}

// Reminders returns the handler for one named window.
func (h *CronHandler) Reminders(windowName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !h.authorized(r, windowName) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		window, ok := reminders.ByName(windowName)
		if !ok {
			http.Error(w, "unknown reminder window", http.StatusNotFound)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		report, err := h.runner.Run(ctx, window, time.Now().UTC())
		if err != nil {
			h.logger.Error("reminder run failed", "window", windowName, "err", err)
			http.Error(w, "reminder run failed", http.StatusInternalServerError)
			return
		}

		h.logger.Info("reminder run finished",
			"window", report.Window,
			"scanned", report.Scanned,
			"guest_sent", report.Guest.Sent,
			"guest_failed", report.Guest.Failed,
			"expert_sent", report.Expert.Sent,
			"expert_failed", report.Expert.Failed,
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(report)
	}
}

func (h *CronHandler) authorized(r *http.Request, windowName string) bool {
	if h.secret == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	claims, err := signing.Verify(strings.TrimSpace(token), h.secret)
	if err != nil {
		return false
	}
	return claims.Job == "reminders-"+windowName
}

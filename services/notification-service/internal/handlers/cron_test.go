package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eleva-care/eleva-backend/libs/signing"
	"github.com/eleva-care/eleva-backend/services/notification-service/internal/reminders"
)

type fakeRunner struct {
	calls  int
	window string
}

func (f *fakeRunner) Run(ctx context.Context, w reminders.Window, now time.Time) (reminders.Report, error) {
	f.calls++
	f.window = w.Name
	return reminders.Report{
		Window:  w.Name,
		Scanned: 3,
		Guest:   reminders.RoleCounts{Sent: 3},
		Expert:  reminders.RoleCounts{Sent: 2, Failed: 1},
		RanAt:   now,
	}, nil
}

const testSecret = "cron-test-secret"

func cronToken(t *testing.T, job string) string {
	t.Helper()
	now := time.Now().Unix()
	token, err := signing.Sign(signing.Claims{Sub: "cron", Job: job, Iat: now, Exp: now + 60}, testSecret)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func newCronHandler(runner ReminderRunner) *CronHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCronHandler(runner, logger, testSecret, time.Second)
}

func TestRemindersRunsWindowWithValidToken(t *testing.T) {
	runner := &fakeRunner{}
	h := newCronHandler(runner)

	req := httptest.NewRequest(http.MethodPost, "/api/cron/reminders/24h", nil)
	req.Header.Set("Authorization", "Bearer "+cronToken(t, "reminders-24h"))
	rr := httptest.NewRecorder()
	h.Reminders("24h")(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body)
	}
	if runner.calls != 1 || runner.window != "24h" {
		t.Fatalf("unexpected runner state: %+v", runner)
	}

	var report reminders.Report
	if err := json.Unmarshal(rr.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.Scanned != 3 || report.Guest.Sent != 3 || report.Expert.Sent != 2 || report.Expert.Failed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestRemindersRejectsMissingOrInvalidToken(t *testing.T) {
	runner := &fakeRunner{}
	h := newCronHandler(runner)

	for name, header := range map[string]string{
		"no header":    "",
		"garbage":      "Bearer not.a.token",
		"wrong job":    "Bearer " + cronToken(t, "reminders-1h"),
		"wrong scheme": "Basic abc",
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/cron/reminders/24h", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		h.Reminders("24h")(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, rr.Code)
		}
	}
	if runner.calls != 0 {
		t.Fatal("runner must not execute for unauthorized requests")
	}
}

func TestRemindersRejectsGet(t *testing.T) {
	h := newCronHandler(&fakeRunner{})
	req := httptest.NewRequest(http.MethodGet, "/api/cron/reminders/1h", nil)
	req.Header.Set("Authorization", "Bearer "+cronToken(t, "reminders-1h"))
	rr := httptest.NewRecorder()
	h.Reminders("1h")(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

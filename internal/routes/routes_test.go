package routes

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/ubsconjuntos/agenda-backend/internal/config"
	"github.com/ubsconjuntos/agenda-backend/internal/handlers"
	"github.com/ubsconjuntos/agenda-backend/internal/models"
	"github.com/ubsconjuntos/agenda-backend/internal/services"
	"github.com/ubsconjuntos/agenda-backend/internal/storage"
)

type countingNotifier struct{ sent int }

func (n *countingNotifier) SendReminder(context.Context, *models.Appointment) error {
	n.sent++
	return nil
}

func newTestApp(t *testing.T, cfg *config.Config) (*fiber.App, *storage.MemoryStore, *countingNotifier) {
	t.Helper()
	log, _ := test.NewNullLogger()
	store := storage.NewMemoryStore()
	notifier := &countingNotifier{}
	conversation := services.NewConversationService(store, store, store, log)
	reminders := services.NewReminderService(store, notifier, services.DefaultReminderWindow, time.Local, log)

	app := fiber.New()
	SetupRoutes(app, cfg, Handlers{
		WhatsApp:  handlers.NewWhatsAppHandler(conversation, time.Second, log),
		Reminders: handlers.NewReminderHandler(reminders, log),
		Health:    handlers.NewHealthHandler("test", config.BackendMemory, store),
	}, log)
	return app, store, notifier
}

func devConfig() *config.Config {
	return &config.Config{Environment: "development", CronToken: "s3cret"}
}

func whatsApp(t *testing.T, app *fiber.App, body string) string {
	t.Helper()
	return whatsAppMessage(t, app, "", body)
}

func whatsAppMessage(t *testing.T, app *fiber.App, sid, body string) string {
	t.Helper()
	form := url.Values{"From": {"whatsapp:+5585999990000"}, "Body": {body}, "ProfileName": {"Ana"}}
	if sid != "" {
		form.Set("MessageSid", sid)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	var parsed struct {
		Messages []string `xml:"Message"`
	}
	if err := xml.Unmarshal(raw, &parsed); err != nil || len(parsed.Messages) != 1 {
		t.Fatalf("bad TwiML %q: %v", raw, err)
	}
	return parsed.Messages[0]
}

func TestBookingConversationOverWebhook(t *testing.T) {
	app, store, _ := newTestApp(t, devConfig())
	store.AddSlot(&models.Slot{ExamType: models.ExamElectro, Status: models.SlotStatusFree, Date: "20/10/2026", Time: "08:00", Location: "UBS"})

	if got := whatsApp(t, app, "oi"); got != services.MsgWelcome {
		t.Fatalf("welcome = %q", got)
	}
	if got := whatsApp(t, app, "1"); !strings.Contains(got, "1 20/10/2026 08:00 - UBS") {
		t.Fatalf("listing = %q", got)
	}
	if got := whatsApp(t, app, "1"); !strings.HasPrefix(got, "✅") {
		t.Fatalf("confirmation = %q", got)
	}

	appointments, _ := store.ListAppointments(context.Background())
	if len(appointments) != 1 || appointments[0].PatientName != "Ana" {
		t.Fatalf("appointments = %+v", appointments)
	}
}

func TestRedeliveredMessageIsAnsweredOnce(t *testing.T) {
	app, store, _ := newTestApp(t, devConfig())
	store.AddSlot(&models.Slot{ExamType: models.ExamElectro, Status: models.SlotStatusFree, Date: "20/10/2026", Time: "08:00", Location: "UBS"})

	whatsAppMessage(t, app, "SM1", "oi")
	listing := whatsAppMessage(t, app, "SM2", "1")
	if retry := whatsAppMessage(t, app, "SM2", "1"); retry != listing {
		t.Fatalf("redelivery got %q, want the original %q", retry, listing)
	}

	session, err := store.GetSessionByPhone(context.Background(), "+5585999990000")
	if err != nil {
		t.Fatal(err)
	}
	if session.Stage != models.StageAwaitingElectroSlot {
		t.Fatalf("redelivery moved the session to %q", session.Stage)
	}
	appointments, _ := store.ListAppointments(context.Background())
	if len(appointments) != 0 {
		t.Fatalf("redelivery booked a slot: %+v", appointments)
	}

	if got := whatsAppMessage(t, app, "SM3", "1"); !strings.HasPrefix(got, "✅") {
		t.Fatalf("confirmation = %q", got)
	}
}

func TestCronEndpointRequiresToken(t *testing.T) {
	app, store, notifier := newTestApp(t, devConfig())
	due := time.Now().Add(24 * time.Hour)
	if _, err := store.CreateAppointment(context.Background(), &models.Appointment{
		PatientName: "Ana",
		Date:        due.Format(models.DateLayout),
		Time:        due.Format(models.TimeLayout),
		Status:      models.AppointmentStatusScheduled,
	}); err != nil {
		t.Fatal(err)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/cron/reminders?token=wrong", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusForbidden || notifier.sent != 0 {
		t.Fatalf("status=%d sent=%d", resp.StatusCode, notifier.sent)
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/cron/reminders?token=s3cret", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK || notifier.sent != 1 {
		t.Fatalf("status=%d sent=%d", resp.StatusCode, notifier.sent)
	}
}

func TestProductionRoutesValidateSignatureAndHideTestWebhook(t *testing.T) {
	app, _, _ := newTestApp(t, &config.Config{Environment: "production", CronToken: "s3cret"})

	form := url.Values{"From": {"whatsapp:+55"}, "Body": {"oi"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("unsigned webhook status = %d", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodPost, "/test/whatsapp", strings.NewReader(`{"from":"+55","message":"oi"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("test webhook status = %d", resp.StatusCode)
	}
}

func TestHealthRoute(t *testing.T) {
	app, _, _ := newTestApp(t, devConfig())
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

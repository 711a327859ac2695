package handlers

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/ubsconjuntos/agenda-backend/internal/models"
	"github.com/ubsconjuntos/agenda-backend/internal/services"
)

type stubConversation struct {
	got   services.InboundMessage
	reply *services.Reply
	err   error
	block bool
}

func (s *stubConversation) Handle(ctx context.Context, msg services.InboundMessage) (*services.Reply, error) {
	s.got = msg
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.reply, s.err
}

type twimlResponse struct {
	Messages []string `xml:"Message"`
}

func postForm(t *testing.T, app *fiber.App, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func newWebhookApp(conv Conversation, timeout time.Duration) *fiber.App {
	log, _ := test.NewNullLogger()
	h := NewWhatsAppHandler(conv, timeout, log)
	app := fiber.New()
	app.Post("/webhook", h.HandleWebhook)
	app.Post("/test/whatsapp", h.HandleTestWebhook)
	return app
}

func parseTwiML(t *testing.T, body string) []string {
	t.Helper()
	var parsed twimlResponse
	if err := xml.Unmarshal([]byte(body), &parsed); err != nil {
		t.Fatalf("invalid TwiML %q: %v", body, err)
	}
	return parsed.Messages
}

func TestWebhookRepliesWithOneTwiMLMessage(t *testing.T) {
	conv := &stubConversation{reply: &services.Reply{Text: services.MsgWelcome, Stage: models.StageInitialMenu}}
	app := newWebhookApp(conv, time.Second)

	resp, body := postForm(t, app, "/webhook", url.Values{
		"From":        {"whatsapp:+5585999990000"},
		"Body":        {"  Oi  "},
		"ProfileName": {"Ana"},
		"MessageSid":  {"SM1"},
	})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/xml") {
		t.Fatalf("content type = %q", resp.Header.Get("Content-Type"))
	}
	messages := parseTwiML(t, body)
	if len(messages) != 1 || messages[0] != services.MsgWelcome {
		t.Fatalf("messages = %q", messages)
	}
	if conv.got.Phone != "+5585999990000" || conv.got.ProfileName != "Ana" || conv.got.MessageSID != "SM1" {
		t.Fatalf("inbound = %+v", conv.got)
	}
}

func TestWebhookFallsBackOnError(t *testing.T) {
	conv := &stubConversation{err: errors.New("store down")}
	_, body := postForm(t, newWebhookApp(conv, time.Second), "/webhook", url.Values{"From": {"whatsapp:+55"}, "Body": {"1"}})

	messages := parseTwiML(t, body)
	if len(messages) != 1 || messages[0] != services.MsgTryAgain {
		t.Fatalf("messages = %q", messages)
	}
}

func TestWebhookTimesOut(t *testing.T) {
	conv := &stubConversation{block: true}
	_, body := postForm(t, newWebhookApp(conv, 20*time.Millisecond), "/webhook", url.Values{"From": {"whatsapp:+55"}, "Body": {"1"}})

	if messages := parseTwiML(t, body); len(messages) != 1 || messages[0] != services.MsgTryAgain {
		t.Fatalf("messages = %q", messages)
	}
}

func TestWebhookRejectsMissingSender(t *testing.T) {
	resp, _ := postForm(t, newWebhookApp(&stubConversation{}, time.Second), "/webhook", url.Values{"Body": {"oi"}})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestTestWebhookReturnsJSON(t *testing.T) {
	conv := &stubConversation{reply: &services.Reply{Text: "menu", Stage: models.StageInitialMenu, Degraded: true}}
	app := newWebhookApp(conv, time.Second)

	req := httptest.NewRequest(http.MethodPost, "/test/whatsapp", strings.NewReader(`{"from":"+5585","message":"oi"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Success  bool   `json:"success"`
		Response string `json:"response"`
		Stage    string `json:"stage"`
		Degraded bool   `json:"degraded"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.Success || out.Response != "menu" || out.Stage != string(models.StageInitialMenu) || !out.Degraded {
		t.Fatalf("response = %+v", out)
	}
}

type stubScanner struct {
	calls int
	now   time.Time
	err   error
}

func (s *stubScanner) ScanAndFlag(_ context.Context, now time.Time) (int, error) {
	s.calls++
	s.now = now
	return 3, s.err
}

func TestReminderHandler(t *testing.T) {
	log, _ := test.NewNullLogger()
	scanner := &stubScanner{}
	h := NewReminderHandler(scanner, log)
	fixed := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return fixed }
	app := fiber.New()
	app.Get("/cron/reminders", h.Run)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/cron/reminders", nil))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != "OK" || resp.Header.Get("X-Reminders-Sent") != "3" {
		t.Fatalf("status=%d body=%q header=%q", resp.StatusCode, body, resp.Header.Get("X-Reminders-Sent"))
	}
	if scanner.calls != 1 || !scanner.now.Equal(fixed) {
		t.Fatalf("scanner calls=%d now=%s", scanner.calls, scanner.now)
	}

	scanner.err = errors.New("ledger unreachable")
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/cron/reminders", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthCheck(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"healthy", nil, fiber.StatusOK},
		{"store down", errors.New("connection refused"), fiber.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/health", NewHealthHandler("test", "memory", stubPinger{tc.err}).Check)
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

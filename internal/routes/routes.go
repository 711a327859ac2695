package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/ubsconjuntos/agenda-backend/internal/config"
	"github.com/ubsconjuntos/agenda-backend/internal/handlers"
	"github.com/ubsconjuntos/agenda-backend/internal/middleware"
)

// messageReplayWindow is how long a reply is replayed for a redelivered
// MessageSid.
const messageReplayWindow = 10 * time.Minute

// Handlers groups the HTTP handlers the routes dispatch to.
type Handlers struct {
	WhatsApp  *handlers.WhatsAppHandler
	Reminders *handlers.ReminderHandler
	Health    *handlers.HealthHandler
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, cfg *config.Config, h Handlers, log logrus.FieldLogger) {

	// Root endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "UBS dos Conjuntos - agendamento pelo WhatsApp",
			"endpoints": fiber.Map{
				"health":    "/health",
				"webhook":   "/webhook/whatsapp",
				"reminders": "/cron/reminders?token=...",
			},
		})
	})

	app.Get("/health", h.Health.Check)

	// ========== WEBHOOK ROUTES ==========
	webhook := []fiber.Handler{middleware.DeduplicateMessages(messageReplayWindow), h.WhatsApp.HandleWebhook}
	if cfg.IsDevelopment() || cfg.DisableWebhookValidation {
		log.Warn("⚠️  WhatsApp webhook signature validation DISABLED")
	} else {
		webhook = append([]fiber.Handler{
			middleware.ValidateTwilioSignature(cfg.Twilio.AuthToken, cfg.PublicBaseURL, log),
		}, webhook...)
	}
	app.Post("/webhook", webhook...)
	app.Post("/webhook/whatsapp", webhook...)

	// ========== CRON ROUTES ==========
	app.Get("/cron/reminders", middleware.RequireCronToken(cfg.CronToken), h.Reminders.Run)

	// ========== TEST ROUTES (Development Only) ==========
	if cfg.IsDevelopment() {
		app.Post("/test/whatsapp", h.WhatsApp.HandleTestWebhook)
	}
}

package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ReminderScanner flags appointments due for a reminder.
type ReminderScanner interface {
	ScanAndFlag(ctx context.Context, now time.Time) (int, error)
}

// ReminderHandler exposes the reminder scan to an external scheduler.
type ReminderHandler struct {
	scanner ReminderScanner
	now     func() time.Time
	log     logrus.FieldLogger
}

// NewReminderHandler creates a new reminder trigger handler
func NewReminderHandler(scanner ReminderScanner, log logrus.FieldLogger) *ReminderHandler {
	return &ReminderHandler{scanner: scanner, now: time.Now, log: log}
}

// Run scans once. Token checking is done by middleware.RequireCronToken.
func (h *ReminderHandler) Run(c *fiber.Ctx) error {
	flagged, err := h.scanner.ScanAndFlag(c.UserContext(), h.now())
	if err != nil {
		h.log.WithError(err).Error("Reminder scan failed")
		return c.Status(fiber.StatusServiceUnavailable).SendString("Reminder scan failed")
	}
	c.Set("X-Reminders-Sent", strconv.Itoa(flagged))
	return c.SendString("OK")
}

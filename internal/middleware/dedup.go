package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/idempotency"
)

// MessageSIDHeader carries the inbound MessageSid as the idempotency key.
const MessageSIDHeader = "X-Message-Sid"

// DeduplicateMessages replays the stored reply when Twilio redelivers a
// webhook whose MessageSid was answered within lifetime. Requests without
// a MessageSid go straight to the handler.
func DeduplicateMessages(lifetime time.Duration) fiber.Handler {
	replay := idempotency.New(idempotency.Config{
		Next: func(c *fiber.Ctx) bool {
			return c.Get(MessageSIDHeader) == ""
		},
		Lifetime:  lifetime,
		KeyHeader: MessageSIDHeader,
		KeyHeaderValidate: func(sid string) error {
			if len(sid) > 64 {
				return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid MessageSid %q", sid))
			}
			return nil
		},
		KeepResponseHeaders: []string{fiber.HeaderContentType},
	})

	return func(c *fiber.Ctx) error {
		// Only the form field counts, never a client-supplied header.
		c.Request().Header.Del(MessageSIDHeader)
		if sid := strings.TrimSpace(c.FormValue("MessageSid")); sid != "" {
			c.Request().Header.Set(MessageSIDHeader, sid)
		}
		return replay(c)
	}
}

package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go/client"
)

// ValidateTwilioSignature validates that the webhook request is from Twilio.
// publicBaseURL is the externally visible scheme and host (for example
// behind Cloud Run or ngrok); when empty the request's own base URL is used.
func ValidateTwilioSignature(authToken, publicBaseURL string, log logrus.FieldLogger) fiber.Handler {
	validator := client.NewRequestValidator(authToken)

	return func(c *fiber.Ctx) error {
		signature := c.Get("X-Twilio-Signature")
		if signature == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing Twilio signature")
		}
		if authToken == "" {
			log.Error("TWILIO_AUTH_TOKEN not set, rejecting webhook")
			return fiber.NewError(fiber.StatusInternalServerError, "server configuration error")
		}

		params := make(map[string]string)
		c.Request().PostArgs().VisitAll(func(key, value []byte) {
			params[string(key)] = string(value)
		})

		if !validator.Validate(requestURL(c, publicBaseURL), params, signature) {
			log.WithField("path", c.Path()).Warn("Invalid Twilio signature")
			return fiber.NewError(fiber.StatusUnauthorized, "invalid signature")
		}
		return c.Next()
	}
}

func requestURL(c *fiber.Ctx, publicBaseURL string) string {
	if publicBaseURL != "" {
		return publicBaseURL + c.OriginalURL()
	}
	return c.BaseURL() + c.OriginalURL()
}

package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go/twiml"

	"github.com/ubsconjuntos/agenda-backend/internal/services"
	"github.com/ubsconjuntos/agenda-backend/internal/utils"
)

// Conversation answers one inbound WhatsApp message.
type Conversation interface {
	Handle(ctx context.Context, msg services.InboundMessage) (*services.Reply, error)
}

// WhatsAppHandler handles WhatsApp webhook requests
type WhatsAppHandler struct {
	conversation Conversation
	timeout      time.Duration
	log          logrus.FieldLogger
}

// NewWhatsAppHandler creates a new WhatsApp handler
func NewWhatsAppHandler(conversation Conversation, timeout time.Duration, log logrus.FieldLogger) *WhatsAppHandler {
	return &WhatsAppHandler{
		conversation: conversation,
		timeout:      timeout,
		log:          log,
	}
}

// TwilioWebhookPayload represents incoming WhatsApp message from Twilio
type TwilioWebhookPayload struct {
	MessageSid  string `form:"MessageSid"`
	AccountSid  string `form:"AccountSid"`
	From        string `form:"From"` // WhatsApp number (whatsapp:+5585999990000)
	To          string `form:"To"`
	Body        string `form:"Body"`
	ProfileName string `form:"ProfileName"`
	NumMedia    string `form:"NumMedia"`
}

// HandleWebhook processes an incoming WhatsApp message and answers with
// a TwiML envelope holding exactly one reply.
func (h *WhatsAppHandler) HandleWebhook(c *fiber.Ctx) error {
	var payload TwilioWebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		h.log.WithError(err).Warn("Invalid webhook payload")
		return fiber.NewError(fiber.StatusBadRequest, "invalid webhook payload")
	}

	phone := utils.NormalizePhone(payload.From)
	if phone == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing From")
	}

	text := h.reply(c.UserContext(), services.InboundMessage{
		Phone:       phone,
		Body:        payload.Body,
		ProfileName: payload.ProfileName,
		MessageSID:  payload.MessageSid,
	})

	body, err := twiml.Messages([]twiml.Element{&twiml.MessagingMessage{Body: text}})
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to render reply")
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationXMLCharsetUTF8)
	return c.SendString(body)
}

// reply runs the conversation under the request deadline and falls back
// to the generic retry text on any failure.
func (h *WhatsAppHandler) reply(parent context.Context, msg services.InboundMessage) string {
	ctx, cancel := context.WithTimeout(parent, h.timeout)
	defer cancel()

	log := h.log.WithFields(logrus.Fields{"phone": utils.MaskPhone(msg.Phone), "sid": msg.MessageSID})
	log.Debug("📱 WhatsApp message received")

	reply, err := h.conversation.Handle(ctx, msg)
	if err != nil {
		log.WithError(err).Error("Failed to handle message")
		return services.MsgTryAgain
	}
	log.WithFields(logrus.Fields{"stage": reply.Stage, "degraded": reply.Degraded}).Debug("📤 Reply ready")
	return reply.Text
}

// TestWebhookPayload is the JSON body of the development webhook.
type TestWebhookPayload struct {
	From    string `json:"from"`
	Message string `json:"message"`
	Name    string `json:"name"`
}

// HandleTestWebhook processes test WhatsApp messages (for development)
func (h *WhatsAppHandler) HandleTestWebhook(c *fiber.Ctx) error {
	var payload TestWebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid test payload")
	}
	phone := utils.NormalizePhone(payload.From)
	if phone == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing from")
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	reply, err := h.conversation.Handle(ctx, services.InboundMessage{Phone: phone, Body: payload.Message, ProfileName: payload.Name})
	if err != nil {
		h.log.WithError(err).Error("🧪 Test message failed")
		return c.JSON(fiber.Map{
			"success":  false,
			"response": services.MsgTryAgain,
			"error":    err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"response": reply.Text,
		"stage":    reply.Stage,
		"degraded": reply.Degraded,
	})
}

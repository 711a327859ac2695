package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/ubsconjuntos/agenda-backend/internal/config"
	"github.com/ubsconjuntos/agenda-backend/internal/models"
)

// messageCreator is the part of the Twilio REST API used to send messages.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioService sends outbound WhatsApp messages through Twilio.
type TwilioService struct {
	api  messageCreator
	from string // Format: "whatsapp:+14155238886"
	log  logrus.FieldLogger
}

// NewTwilioService creates a new Twilio service instance
func NewTwilioService(cfg config.TwilioConfig, log logrus.FieldLogger) (*TwilioService, error) {
	if !cfg.Configured() {
		return nil, errors.New("missing Twilio credentials (TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_WHATSAPP_FROM)")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &TwilioService{
		api:  client.Api,
		from: whatsAppAddress(cfg.WhatsAppFrom),
		log:  log,
	}, nil
}

// SendWhatsAppMessage sends a WhatsApp message via Twilio
func (t *TwilioService) SendWhatsAppMessage(ctx context.Context, to string, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(t.from)
	params.SetTo(whatsAppAddress(to))
	params.SetBody(message)

	resp, err := t.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio: send message: %w", err)
	}
	if resp.ErrorCode != nil && *resp.ErrorCode != 0 {
		msg := ""
		if resp.ErrorMessage != nil {
			msg = *resp.ErrorMessage
		}
		return fmt.Errorf("twilio error %d: %s", *resp.ErrorCode, msg)
	}

	if resp.Sid != nil {
		t.log.WithField("sid", *resp.Sid).Debug("WhatsApp message sent")
	}
	return nil
}

// SendReminder sends the day-before reminder for an appointment.
func (t *TwilioService) SendReminder(ctx context.Context, appointment *models.Appointment) error {
	return t.SendWhatsAppMessage(ctx, appointment.Phone, ReminderMessage(appointment))
}

// LogNotifier writes reminders to the log instead of sending them. It is
// used when no Twilio credentials are configured.
type LogNotifier struct {
	Log logrus.FieldLogger
}

// SendReminder logs the reminder text.
func (n LogNotifier) SendReminder(_ context.Context, appointment *models.Appointment) error {
	n.Log.WithFields(logrus.Fields{
		"appointment_id": appointment.ID,
		"phone":          appointment.Phone,
	}).Info(ReminderMessage(appointment))
	return nil
}

func whatsAppAddress(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}

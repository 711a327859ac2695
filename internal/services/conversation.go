package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ubsconjuntos/agenda-backend/internal/models"
	"github.com/ubsconjuntos/agenda-backend/internal/storage"
)

var (
	// ErrConcurrentUpdate is returned when another message for the same
	// phone moved the session first.
	ErrConcurrentUpdate = errors.New("session was updated by another message")
	// ErrSessionUnavailable marks a failed session lookup that was handled
	// as a new conversation.
	ErrSessionUnavailable = errors.New("session store unavailable")
)

// InboundMessage is one WhatsApp message as received from the channel.
type InboundMessage struct {
	Phone       string
	Body        string
	ProfileName string
	MessageSID  string
}

// Reply is the single message sent back for an inbound message.
type Reply struct {
	Text  string
	Stage models.Stage
	// Degraded is set when the session lookup failed and the message was
	// handled as the start of a new conversation.
	Degraded bool
}

// ConversationService drives the scheduling menu over WhatsApp.
type ConversationService struct {
	sessions storage.SessionStore
	catalog  storage.Catalog
	ledger   storage.AppointmentLedger
	log      logrus.FieldLogger
}

// NewConversationService creates a new conversation service
func NewConversationService(sessions storage.SessionStore, catalog storage.Catalog, ledger storage.AppointmentLedger, log logrus.FieldLogger) *ConversationService {
	return &ConversationService{
		sessions: sessions,
		catalog:  catalog,
		ledger:   ledger,
		log:      log,
	}
}

// Handle processes one inbound message and returns the reply to send.
// On error no reply was decided, the stored stage is unchanged and no slot
// stays reserved.
func (s *ConversationService) Handle(ctx context.Context, msg InboundMessage) (*Reply, error) {
	if msg.Phone == "" {
		return nil, errors.New("inbound message has no sender")
	}
	text := strings.ToLower(strings.TrimSpace(msg.Body))
	log := s.log.WithField("phone", msg.Phone)

	session, err := s.sessions.GetSessionByPhone(ctx, msg.Phone)
	if err != nil {
		degraded := !errors.Is(err, storage.ErrNotFound)
		if degraded {
			log.WithError(fmt.Errorf("%w: %v", ErrSessionUnavailable, err)).
				WithField("degraded", true).
				Warn("Session lookup failed, starting a new conversation")
		}
		reply, err := s.startSession(ctx, log, msg.Phone)
		if err != nil {
			return nil, err
		}
		reply.Degraded = degraded
		return reply, nil
	}

	log = log.WithField("stage", session.Stage)
	switch session.Stage {
	case models.StageInitialMenu:
		return s.handleMenu(ctx, log, msg.Phone, text)
	case models.StageAwaitingElectroSlot:
		return s.handleSlotChoice(ctx, log, msg, session.Stage, models.ExamElectro, text)
	case models.StageAwaitingPreventiveSlot:
		return s.handleSlotChoice(ctx, log, msg, session.Stage, models.ExamPreventive, text)
	case models.StageAwaitingStreet:
		return s.handleStreet(ctx, log, msg.Phone, text)
	default:
		// Closed or unrecognized: start over from the menu.
		if err := s.transition(ctx, msg.Phone, session.Stage, models.StageInitialMenu, ""); err != nil {
			return nil, err
		}
		log.Info("Conversation restarted")
		return &Reply{Text: MsgWelcome, Stage: models.StageInitialMenu}, nil
	}
}

func (s *ConversationService) startSession(ctx context.Context, log logrus.FieldLogger, phone string) (*Reply, error) {
	session, created, err := s.sessions.CreateSession(ctx, phone, models.StageInitialMenu)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if created {
		log.Info("New conversation")
	} else if session.Stage != models.StageInitialMenu {
		err := s.sessions.UpdateSessionStage(ctx, phone, session.Stage, models.StageInitialMenu, "")
		if err != nil && !errors.Is(err, storage.ErrStageConflict) {
			return nil, fmt.Errorf("reset session: %w", err)
		}
	}
	return &Reply{Text: MsgWelcome, Stage: models.StageInitialMenu}, nil
}

func (s *ConversationService) handleMenu(ctx context.Context, log logrus.FieldLogger, phone, text string) (*Reply, error) {
	switch {
	case strings.Contains(text, "1") || strings.Contains(text, models.ExamElectro):
		return s.listSlots(ctx, log, phone, text, models.ExamElectro, models.StageAwaitingElectroSlot)
	case strings.Contains(text, "2") || strings.Contains(text, models.ExamPreventive):
		return s.listSlots(ctx, log, phone, text, models.ExamPreventive, models.StageAwaitingPreventiveSlot)
	case strings.Contains(text, "3") || strings.Contains(text, "consulta") || strings.Contains(text, "acs"):
		if err := s.transition(ctx, phone, models.StageInitialMenu, models.StageAwaitingStreet, text); err != nil {
			return nil, err
		}
		return &Reply{Text: MsgStreetPrompt, Stage: models.StageAwaitingStreet}, nil
	}
	return &Reply{Text: MsgNotUnderstood, Stage: models.StageInitialMenu}, nil
}

func (s *ConversationService) listSlots(ctx context.Context, log logrus.FieldLogger, phone, text, examType string, next models.Stage) (*Reply, error) {
	slots, err := s.freeSlots(ctx, examType)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		log.WithField("exam_type", examType).Info("No free slots")
		return &Reply{Text: NoAvailabilityMessage(examType), Stage: models.StageInitialMenu}, nil
	}
	if err := s.transition(ctx, phone, models.StageInitialMenu, next, text); err != nil {
		return nil, err
	}
	return &Reply{Text: SlotListMessage(examType, slots), Stage: next}, nil
}

func (s *ConversationService) handleSlotChoice(ctx context.Context, log logrus.FieldLogger, msg InboundMessage, stage models.Stage, examType, text string) (*Reply, error) {
	if isBackToMenu(text) {
		return s.backToMenu(ctx, msg.Phone, stage)
	}

	choice, err := strconv.Atoi(text)
	if err != nil || choice < 1 || choice > MaxListedSlots {
		return &Reply{Text: MsgInvalidSlotOption, Stage: stage}, nil
	}
	slots, err := s.freeSlots(ctx, examType)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		if err := s.transition(ctx, msg.Phone, stage, models.StageInitialMenu, text); err != nil {
			return nil, err
		}
		return &Reply{Text: NoAvailabilityMessage(examType) + "\n\n" + MsgMenu, Stage: models.StageInitialMenu}, nil
	}
	if choice > len(slots) {
		return &Reply{Text: MsgInvalidSlotOption, Stage: stage}, nil
	}

	slot := slots[choice-1]
	if err := s.catalog.ReserveSlot(ctx, slot.ID); err != nil {
		if errors.Is(err, storage.ErrSlotTaken) || errors.Is(err, storage.ErrNotFound) {
			return &Reply{Text: MsgSlotGone, Stage: stage}, nil
		}
		return nil, fmt.Errorf("reserve slot %d: %w", slot.ID, err)
	}
	log = log.WithField("slot_id", slot.ID)

	// The session is closed before the ledger write so a second number
	// from the same phone cannot book another slot.
	if err := s.transition(ctx, msg.Phone, stage, models.StageClosed, text); err != nil {
		s.releaseSlot(ctx, log, slot.ID)
		return nil, err
	}

	patient := strings.TrimSpace(msg.ProfileName)
	if patient == "" {
		patient = msg.Phone
	}
	appointment, err := s.ledger.CreateAppointment(ctx, &models.Appointment{
		PatientName: patient,
		Phone:       msg.Phone,
		ExamType:    examType,
		Location:    slot.Location,
		Date:        slot.Date,
		Time:        slot.Time,
		SlotID:      slot.ID,
		Status:      models.AppointmentStatusScheduled,
	})
	if err != nil {
		s.releaseSlot(ctx, log, slot.ID)
		if reopenErr := s.sessions.UpdateSessionStage(context.WithoutCancel(ctx), msg.Phone, models.StageClosed, stage, text); reopenErr != nil {
			log.WithError(reopenErr).Error("Failed to reopen session after booking error")
		}
		return nil, fmt.Errorf("record appointment: %w", err)
	}

	log.WithField("appointment_id", appointment.ID).Info("Appointment booked")
	return &Reply{Text: BookingConfirmationMessage(appointment), Stage: models.StageClosed}, nil
}

// releaseSlot undoes a reservation. It runs even when ctx is already done,
// otherwise a timed-out booking would keep the slot taken.
func (s *ConversationService) releaseSlot(ctx context.Context, log logrus.FieldLogger, slotID uint) {
	if err := s.catalog.ReleaseSlot(context.WithoutCancel(ctx), slotID); err != nil {
		log.WithError(err).Error("Failed to release slot after booking error")
	}
}

func (s *ConversationService) handleStreet(ctx context.Context, log logrus.FieldLogger, phone, text string) (*Reply, error) {
	if isBackToMenu(text) {
		return s.backToMenu(ctx, phone, models.StageAwaitingStreet)
	}

	contacts, err := s.catalog.ListStreetContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list street contacts: %w", err)
	}
	for _, contact := range contacts {
		street := strings.ToLower(strings.TrimSpace(contact.Street))
		if street == "" || !strings.Contains(text, street) {
			continue
		}
		if err := s.transition(ctx, phone, models.StageAwaitingStreet, models.StageClosed, contact.Street); err != nil {
			return nil, err
		}
		log.WithField("street", contact.Street).Info("Street agent found")
		return &Reply{Text: StreetContactMessage(contact), Stage: models.StageClosed}, nil
	}
	return &Reply{Text: MsgStreetNotFound, Stage: models.StageAwaitingStreet}, nil
}

func (s *ConversationService) backToMenu(ctx context.Context, phone string, from models.Stage) (*Reply, error) {
	if err := s.transition(ctx, phone, from, models.StageInitialMenu, ""); err != nil {
		return nil, err
	}
	return &Reply{Text: MsgMenu, Stage: models.StageInitialMenu}, nil
}

func (s *ConversationService) freeSlots(ctx context.Context, examType string) ([]*models.Slot, error) {
	slots, err := s.catalog.ListSlots(ctx, examType, models.SlotStatusFree)
	if err != nil {
		return nil, fmt.Errorf("list %s slots: %w", examType, err)
	}
	if len(slots) > MaxListedSlots {
		slots = slots[:MaxListedSlots]
	}
	return slots, nil
}

func (s *ConversationService) transition(ctx context.Context, phone string, from, to models.Stage, choice string) error {
	err := s.sessions.UpdateSessionStage(ctx, phone, from, to, choice)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrStageConflict):
		return fmt.Errorf("%w: %s -> %s", ErrConcurrentUpdate, from, to)
	default:
		return fmt.Errorf("update session stage: %w", err)
	}
}

func isBackToMenu(text string) bool {
	switch text {
	case "0", "menu", "voltar":
		return true
	}
	return false
}

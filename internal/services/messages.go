package services

import (
	"fmt"
	"strings"

	"github.com/ubsconjuntos/agenda-backend/internal/models"
)

// Reply texts sent back over WhatsApp.
const (
	menuOptions = "1️⃣ Agendar Eletro\n" +
		"2️⃣ Agendar Preventivo\n" +
		"3️⃣ ACS responsável pela sua rua"

	MsgWelcome = "Olá! 👋 Bem-vindo à UBS dos Conjuntos.\n\n" +
		"Escolha uma opção:\n" + menuOptions

	MsgMenu = "Escolha uma opção:\n" + menuOptions

	MsgNotUnderstood = "Não entendi. Escolha uma opção:\n" + menuOptions

	MsgStreetPrompt   = "Digite o nome da sua rua para localizar o ACS responsável:"
	MsgStreetNotFound = "Rua não encontrada. Tente novamente."

	MsgInvalidSlotOption = "Opção inválida. Responda com o número de um dos horários listados ou 0 para voltar ao menu."
	MsgSlotGone          = "⚠️ Esse horário acabou de ser ocupado. Responda com outro número ou 0 para voltar ao menu."

	MsgTryAgain = "Desculpe, tivemos um problema ao processar sua mensagem. Tente novamente em instantes."
)

// MaxListedSlots is how many free slots a listing shows.
const MaxListedSlots = 5

// NoAvailabilityMessage is sent when an exam type has no free slot.
func NoAvailabilityMessage(examType string) string {
	return fmt.Sprintf("❌ Não há horários disponíveis para %s.", models.ExamLabel(examType))
}

// SlotListMessage numbers slots from 1 in the order given.
func SlotListMessage(examType string, slots []*models.Slot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Escolha um horário disponível para %s:", models.ExamLabel(examType))
	for i, slot := range slots {
		fmt.Fprintf(&b, "\n%d %s %s - %s", i+1, slot.Date, slot.Time, slot.Location)
	}
	return b.String()
}

// StreetContactMessage names the agent responsible for a street.
func StreetContactMessage(contact *models.StreetContact) string {
	return fmt.Sprintf("O ACS responsável é %s 📞 %s", contact.AgentName, contact.Phone)
}

// BookingConfirmationMessage confirms a booked slot.
func BookingConfirmationMessage(appointment *models.Appointment) string {
	return fmt.Sprintf("✅ %s agendado para %s às %s em %s. Enviaremos um lembrete na véspera.",
		models.ExamLabel(appointment.ExamType), appointment.Date, appointment.Time, appointment.Location)
}

// ReminderMessage is the text sent the day before an appointment.
func ReminderMessage(appointment *models.Appointment) string {
	return fmt.Sprintf("📢 Lembrete: %s, você tem consulta em %s no dia %s às %s.",
		appointment.PatientName, appointment.Location, appointment.Date, appointment.Time)
}

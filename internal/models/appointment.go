package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Appointment status constants
const (
	AppointmentStatusScheduled    = "marcado"
	AppointmentStatusReminderSent = "lembrete_enviado"
)

// Layouts used by the catalog and ledger for dates and times
const (
	DateLayout     = "02/01/2006"
	TimeLayout     = "15:04"
	DateTimeLayout = DateLayout + " " + TimeLayout

	// scheduleLayout also accepts hand-typed rows such as "5/11/2026 9:30".
	scheduleLayout = "2/1/2006 15:04"
)

// Appointment represents a confirmed booking
type Appointment struct {
	gorm.Model  `yaml:"-"`
	Ref         string `json:"ref" gorm:"size:36;index"`
	PatientName string `json:"patient_name" yaml:"name"`
	Phone       string `json:"phone" yaml:"phone" gorm:"index"`
	ExamType    string `json:"exam_type" yaml:"type"`
	Location    string `json:"location" yaml:"location"`
	Date        string `json:"date" yaml:"date"`
	Time        string `json:"time" yaml:"time"`
	SlotID      uint   `json:"slot_id" yaml:"-"`

	// Status tracking
	Status string `json:"status" yaml:"status" gorm:"index"` // "marcado", "lembrete_enviado"
}

// ScheduledAt parses Date and Time in loc.
func (a *Appointment) ScheduledAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	date := strings.TrimSpace(a.Date)
	clock := strings.TrimSpace(a.Time)
	at, err := time.ParseInLocation(scheduleLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("appointment %d: invalid date/time %q %q: %w", a.ID, a.Date, a.Time, err)
	}
	return at, nil
}

// IsScheduled reports whether the appointment still waits for its reminder.
func (a *Appointment) IsScheduled() bool {
	return strings.EqualFold(strings.TrimSpace(a.Status), AppointmentStatusScheduled)
}

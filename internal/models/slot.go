package models

import (
	"strings"

	"gorm.io/gorm"
)

// Exam types offered for scheduling
const (
	ExamElectro    = "eletro"
	ExamPreventive = "preventivo"
)

// Slot statuses
const (
	SlotStatusFree  = "livre"
	SlotStatusTaken = "ocupado"
)

// Slot is one schedulable opening published by the health unit.
// Date is dd/mm/yyyy and Time is HH:MM, exactly as typed in the catalog.
type Slot struct {
	gorm.Model `yaml:"-"`
	ExamType   string `json:"exam_type" yaml:"type" gorm:"index;not null"`
	Status     string `json:"status" yaml:"status" gorm:"index;not null"`
	Date       string `json:"date" yaml:"date"`
	Time       string `json:"time" yaml:"time"`
	Location   string `json:"location" yaml:"location"`
}

// IsFree reports whether the slot can still be booked.
func (s *Slot) IsFree() bool {
	return strings.EqualFold(strings.TrimSpace(s.Status), SlotStatusFree)
}

// ExamLabel returns the display name for an exam type.
func ExamLabel(examType string) string {
	switch strings.ToLower(examType) {
	case ExamElectro:
		return "Eletro"
	case ExamPreventive:
		return "Preventivo"
	}
	return examType
}

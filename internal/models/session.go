package models

import (
	"time"

	"gorm.io/gorm"
)

// Stage is the step a WhatsApp conversation is currently in.
// Values match the ones already stored in the sessions worksheet.
type Stage string

const (
	StageInitialMenu            Stage = "menu_inicial"
	StageAwaitingElectroSlot    Stage = "aguardando_escolha_eletro"
	StageAwaitingPreventiveSlot Stage = "aguardando_escolha_preventivo"
	StageAwaitingStreet         Stage = "aguardando_rua"
	StageClosed                 Stage = "finalizado"
)

// Known reports whether s is one of the stages the conversation engine handles.
func (s Stage) Known() bool {
	switch s {
	case StageInitialMenu, StageAwaitingElectroSlot, StageAwaitingPreventiveSlot, StageAwaitingStreet, StageClosed:
		return true
	}
	return false
}

// Session stores the conversation state for one WhatsApp number.
// PhoneNumber is unique: a number never has more than one session.
type Session struct {
	gorm.Model  `yaml:"-"`
	Ref         string    `json:"ref" gorm:"size:36;index"`
	PhoneNumber string    `json:"phone_number" gorm:"uniqueIndex;not null"`
	Stage       Stage     `json:"stage" gorm:"not null"`
	LastChoice  string    `json:"last_choice"`
	LastUpdated time.Time `json:"last_updated"`
}

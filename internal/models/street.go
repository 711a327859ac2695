package models

import "gorm.io/gorm"

// StreetContact maps a street name to the community health agent (ACS)
// responsible for it.
type StreetContact struct {
	gorm.Model `yaml:"-"`
	Street     string `json:"street" yaml:"street" gorm:"not null"`
	AgentName  string `json:"agent_name" yaml:"agent"`
	Phone      string `json:"phone" yaml:"phone"`
}

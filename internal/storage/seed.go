package storage

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ubsconjuntos/agenda-backend/internal/models"
)

// Seed is reference data loaded from a YAML file:
//
//	slots:
//	  - {type: eletro, status: livre, date: 20/10/2026, time: "08:00", location: UBS Conjuntos}
//	streets:
//	  - {street: Rua das Flores, agent: Maria, phone: "+5585999990000"}
//	appointments:
//	  - {name: Ana, phone: "+5585988887777", location: UBS Conjuntos, date: 21/10/2026, time: "09:30", status: marcado}
type Seed struct {
	Slots        []models.Slot          `yaml:"slots"`
	Streets      []models.StreetContact `yaml:"streets"`
	Appointments []models.Appointment   `yaml:"appointments"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes YAML seed data, filling default statuses.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("seed: decode: %w", err)
	}

	for i := range seed.Slots {
		slot := &seed.Slots[i]
		if strings.TrimSpace(slot.ExamType) == "" {
			return nil, fmt.Errorf("seed: slot %d: missing type", i+1)
		}
		if slot.Status == "" {
			slot.Status = models.SlotStatusFree
		}
	}
	for i := range seed.Streets {
		if strings.TrimSpace(seed.Streets[i].Street) == "" {
			return nil, fmt.Errorf("seed: street %d: missing street name", i+1)
		}
	}
	for i := range seed.Appointments {
		if seed.Appointments[i].Status == "" {
			seed.Appointments[i].Status = models.AppointmentStatusScheduled
		}
	}
	return &seed, nil
}

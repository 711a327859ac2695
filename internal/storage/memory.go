package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ubsconjuntos/agenda-backend/internal/models"
)

// MemoryStore holds all data in memory, for tests and local development
type MemoryStore struct {
	sessions     map[string]*models.Session
	slots        []*models.Slot
	streets      []*models.StreetContact
	appointments []*models.Appointment

	// Mutexes for thread safety
	sessionMu     sync.RWMutex
	catalogMu     sync.RWMutex
	appointmentMu sync.RWMutex

	// Counters for ID generation
	sessionCounter     uint
	slotCounter        uint
	streetCounter      uint
	appointmentCounter uint
}

// NewMemoryStore creates a new in-memory storage
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
	}
}

// Session operations
func (m *MemoryStore) GetSessionByPhone(_ context.Context, phone string) (*models.Session, error) {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()

	session, exists := m.sessions[phone]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, phone string, stage models.Stage) (*models.Session, bool, error) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	if existing, exists := m.sessions[phone]; exists {
		copied := *existing
		return &copied, false, nil
	}

	m.sessionCounter++
	now := time.Now()
	session := &models.Session{
		Ref:         uuid.NewString(),
		PhoneNumber: phone,
		Stage:       stage,
		LastUpdated: now,
	}
	session.ID = m.sessionCounter
	session.CreatedAt = now
	session.UpdatedAt = now

	m.sessions[phone] = session
	copied := *session
	return &copied, true, nil
}

func (m *MemoryStore) UpdateSessionStage(_ context.Context, phone string, from, to models.Stage, choice string) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	session, exists := m.sessions[phone]
	if !exists {
		return ErrNotFound
	}
	if session.Stage != from {
		return ErrStageConflict
	}
	session.Stage = to
	session.LastChoice = choice
	session.LastUpdated = time.Now()
	session.UpdatedAt = session.LastUpdated
	return nil
}

// SessionCount returns how many sessions are stored.
func (m *MemoryStore) SessionCount() int {
	m.sessionMu.RLock()
	defer m.sessionMu.RUnlock()
	return len(m.sessions)
}

// Catalog operations
func (m *MemoryStore) ListSlots(_ context.Context, examType, status string) ([]*models.Slot, error) {
	m.catalogMu.RLock()
	defer m.catalogMu.RUnlock()

	var results []*models.Slot
	for _, slot := range m.slots {
		if !strings.EqualFold(strings.TrimSpace(slot.ExamType), examType) {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(slot.Status), status) {
			continue
		}
		copied := *slot
		results = append(results, &copied)
	}
	return results, nil
}

func (m *MemoryStore) ReserveSlot(_ context.Context, slotID uint) error {
	m.catalogMu.Lock()
	defer m.catalogMu.Unlock()

	slot := m.findSlot(slotID)
	if slot == nil {
		return ErrNotFound
	}
	if !slot.IsFree() {
		return ErrSlotTaken
	}
	slot.Status = models.SlotStatusTaken
	slot.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ReleaseSlot(_ context.Context, slotID uint) error {
	m.catalogMu.Lock()
	defer m.catalogMu.Unlock()

	slot := m.findSlot(slotID)
	if slot == nil {
		return ErrNotFound
	}
	slot.Status = models.SlotStatusFree
	slot.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) findSlot(slotID uint) *models.Slot {
	for _, slot := range m.slots {
		if slot.ID == slotID {
			return slot
		}
	}
	return nil
}

func (m *MemoryStore) ListStreetContacts(_ context.Context) ([]*models.StreetContact, error) {
	m.catalogMu.RLock()
	defer m.catalogMu.RUnlock()

	results := make([]*models.StreetContact, 0, len(m.streets))
	for _, street := range m.streets {
		copied := *street
		results = append(results, &copied)
	}
	return results, nil
}

// AddSlot appends a slot to the catalog and assigns its ID.
func (m *MemoryStore) AddSlot(slot *models.Slot) *models.Slot {
	m.catalogMu.Lock()
	defer m.catalogMu.Unlock()

	m.slotCounter++
	slot.ID = m.slotCounter
	slot.CreatedAt = time.Now()
	slot.UpdatedAt = slot.CreatedAt
	m.slots = append(m.slots, slot)
	return slot
}

// AddStreetContact appends a street mapping to the catalog.
func (m *MemoryStore) AddStreetContact(street *models.StreetContact) *models.StreetContact {
	m.catalogMu.Lock()
	defer m.catalogMu.Unlock()

	m.streetCounter++
	street.ID = m.streetCounter
	street.CreatedAt = time.Now()
	street.UpdatedAt = street.CreatedAt
	m.streets = append(m.streets, street)
	return street
}

// Appointment operations
func (m *MemoryStore) ListAppointments(_ context.Context) ([]*models.Appointment, error) {
	m.appointmentMu.RLock()
	defer m.appointmentMu.RUnlock()

	results := make([]*models.Appointment, 0, len(m.appointments))
	for _, appointment := range m.appointments {
		copied := *appointment
		results = append(results, &copied)
	}
	return results, nil
}

func (m *MemoryStore) CreateAppointment(_ context.Context, appointment *models.Appointment) (*models.Appointment, error) {
	m.appointmentMu.Lock()
	defer m.appointmentMu.Unlock()

	m.appointmentCounter++
	stored := *appointment
	stored.ID = m.appointmentCounter
	if stored.Ref == "" {
		stored.Ref = uuid.NewString()
	}
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt

	m.appointments = append(m.appointments, &stored)
	copied := stored
	return &copied, nil
}

func (m *MemoryStore) UpdateAppointmentStatus(_ context.Context, id uint, from, to string) error {
	m.appointmentMu.Lock()
	defer m.appointmentMu.Unlock()

	for _, appointment := range m.appointments {
		if appointment.ID != id {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(appointment.Status), from) {
			return ErrStatusConflict
		}
		appointment.Status = to
		appointment.UpdatedAt = time.Now()
		return nil
	}
	return ErrNotFound
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// ApplySeed loads catalog and ledger rows from a seed file, skipping any
// collection that already has entries.
func (m *MemoryStore) ApplySeed(ctx context.Context, seed *Seed) error {
	m.catalogMu.RLock()
	haveSlots, haveStreets := len(m.slots) > 0, len(m.streets) > 0
	m.catalogMu.RUnlock()
	m.appointmentMu.RLock()
	haveAppointments := len(m.appointments) > 0
	m.appointmentMu.RUnlock()

	if !haveSlots {
		for i := range seed.Slots {
			slot := seed.Slots[i]
			m.AddSlot(&slot)
		}
	}
	if !haveStreets {
		for i := range seed.Streets {
			street := seed.Streets[i]
			m.AddStreetContact(&street)
		}
	}
	if !haveAppointments {
		for i := range seed.Appointments {
			if _, err := m.CreateAppointment(ctx, &seed.Appointments[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

package storage

import (
	"context"
	"errors"

	"github.com/ubsconjuntos/agenda-backend/internal/models"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStageConflict is returned when a session is no longer in the expected stage.
	ErrStageConflict = errors.New("session stage changed concurrently")
	// ErrSlotTaken is returned when reserving a slot that is no longer free.
	ErrSlotTaken = errors.New("slot is no longer free")
	// ErrStatusConflict is returned when an appointment is no longer in the expected status.
	ErrStatusConflict = errors.New("appointment status changed concurrently")
)

// SessionStore keeps one conversation session per phone number.
type SessionStore interface {
	// GetSessionByPhone returns ErrNotFound when the number has no session.
	GetSessionByPhone(ctx context.Context, phone string) (*models.Session, error)
	// CreateSession inserts a session only if none exists for phone. The
	// returned bool is false when an existing session was returned instead.
	CreateSession(ctx context.Context, phone string, stage models.Stage) (*models.Session, bool, error)
	// UpdateSessionStage moves the session from one stage to another. It
	// returns ErrStageConflict when the stored stage is not from.
	UpdateSessionStage(ctx context.Context, phone string, from, to models.Stage, choice string) error
}

// Catalog is the reference data the conversation reads from.
type Catalog interface {
	// ListSlots returns slots matching examType and status (case-insensitive), in catalog order.
	ListSlots(ctx context.Context, examType, status string) ([]*models.Slot, error)
	// ReserveSlot marks a free slot as taken, or returns ErrSlotTaken.
	ReserveSlot(ctx context.Context, slotID uint) error
	// ReleaseSlot marks a slot as free again.
	ReleaseSlot(ctx context.Context, slotID uint) error
	// ListStreetContacts returns the street to agent mapping in catalog order.
	ListStreetContacts(ctx context.Context) ([]*models.StreetContact, error)
}

// AppointmentLedger holds confirmed bookings.
type AppointmentLedger interface {
	ListAppointments(ctx context.Context) ([]*models.Appointment, error)
	CreateAppointment(ctx context.Context, appointment *models.Appointment) (*models.Appointment, error)
	// UpdateAppointmentStatus changes status from one value to another, or
	// returns ErrStatusConflict when the stored status is not from.
	UpdateAppointmentStatus(ctx context.Context, id uint, from, to string) error
}

// Store defines the interface for storage operations
type Store interface {
	SessionStore
	Catalog
	AppointmentLedger

	// Ping checks that the backing service is reachable.
	Ping(ctx context.Context) error
}

// Seeder is implemented by stores that can load reference data from a Seed.
type Seeder interface {
	ApplySeed(ctx context.Context, seed *Seed) error
}

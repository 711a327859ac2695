package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ubsconjuntos/agenda-backend/internal/models"
)

// DatabaseStore implements Store on top of GORM.
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore wraps an open GORM connection.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

// Migrate creates or updates the tables used by the store.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Session{},
		&models.Slot{},
		&models.StreetContact{},
		&models.Appointment{},
	)
}

// Session operations
func (d *DatabaseStore) GetSessionByPhone(ctx context.Context, phone string) (*models.Session, error) {
	var session models.Session
	err := d.db.WithContext(ctx).Where("phone_number = ?", phone).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// CreateSession relies on the unique index on phone_number so concurrent
// or retried creates never produce a second row.
func (d *DatabaseStore) CreateSession(ctx context.Context, phone string, stage models.Stage) (*models.Session, bool, error) {
	session := &models.Session{
		Ref:         uuid.NewString(),
		PhoneNumber: phone,
		Stage:       stage,
		LastUpdated: time.Now(),
	}

	result := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "phone_number"}}, DoNothing: true}).
		Create(session)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to create session: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return session, true, nil
	}

	existing, err := d.GetSessionByPhone(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (d *DatabaseStore) UpdateSessionStage(ctx context.Context, phone string, from, to models.Stage, choice string) error {
	result := d.db.WithContext(ctx).Model(&models.Session{}).
		Where("phone_number = ? AND stage = ?", phone, from).
		Updates(map[string]interface{}{
			"stage":        to,
			"last_choice":  choice,
			"last_updated": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update session stage: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := d.GetSessionByPhone(ctx, phone); err != nil {
			return err
		}
		return ErrStageConflict
	}
	return nil
}

// Catalog operations
func (d *DatabaseStore) ListSlots(ctx context.Context, examType, status string) ([]*models.Slot, error) {
	var slots []*models.Slot
	err := d.db.WithContext(ctx).
		Where("LOWER(TRIM(exam_type)) = ? AND LOWER(TRIM(status)) = ?", strings.ToLower(examType), strings.ToLower(status)).
		Order("id").
		Find(&slots).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	return slots, nil
}

func (d *DatabaseStore) ReserveSlot(ctx context.Context, slotID uint) error {
	result := d.db.WithContext(ctx).Model(&models.Slot{}).
		Where("id = ? AND LOWER(TRIM(status)) = ?", slotID, models.SlotStatusFree).
		Update("status", models.SlotStatusTaken)
	if result.Error != nil {
		return fmt.Errorf("failed to reserve slot: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := d.db.WithContext(ctx).Model(&models.Slot{}).Where("id = ?", slotID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check slot: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrSlotTaken
	}
	return nil
}

func (d *DatabaseStore) ReleaseSlot(ctx context.Context, slotID uint) error {
	result := d.db.WithContext(ctx).Model(&models.Slot{}).
		Where("id = ?", slotID).
		Update("status", models.SlotStatusFree)
	if result.Error != nil {
		return fmt.Errorf("failed to release slot: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *DatabaseStore) ListStreetContacts(ctx context.Context) ([]*models.StreetContact, error) {
	var streets []*models.StreetContact
	if err := d.db.WithContext(ctx).Order("id").Find(&streets).Error; err != nil {
		return nil, fmt.Errorf("failed to list street contacts: %w", err)
	}
	return streets, nil
}

// Appointment operations
func (d *DatabaseStore) ListAppointments(ctx context.Context) ([]*models.Appointment, error) {
	var appointments []*models.Appointment
	if err := d.db.WithContext(ctx).Order("id").Find(&appointments).Error; err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appointments, nil
}

func (d *DatabaseStore) CreateAppointment(ctx context.Context, appointment *models.Appointment) (*models.Appointment, error) {
	stored := *appointment
	if stored.Ref == "" {
		stored.Ref = uuid.NewString()
	}
	if err := d.db.WithContext(ctx).Create(&stored).Error; err != nil {
		return nil, fmt.Errorf("failed to create appointment: %w", err)
	}
	return &stored, nil
}

func (d *DatabaseStore) UpdateAppointmentStatus(ctx context.Context, id uint, from, to string) error {
	result := d.db.WithContext(ctx).Model(&models.Appointment{}).
		Where("id = ? AND LOWER(TRIM(status)) = ?", id, strings.ToLower(from)).
		Update("status", to)
	if result.Error != nil {
		return fmt.Errorf("failed to update appointment status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := d.db.WithContext(ctx).Model(&models.Appointment{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check appointment: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrStatusConflict
	}
	return nil
}

// Ping checks the database connection.
func (d *DatabaseStore) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ApplySeed fills the slot, street and appointment tables from seed in a
// single transaction. A table that already has rows is left untouched so a
// restart with the same seed file does not duplicate slots or reminders.
func (d *DatabaseStore) ApplySeed(ctx context.Context, seed *Seed) error {
	for i := range seed.Appointments {
		if seed.Appointments[i].Ref == "" {
			seed.Appointments[i].Ref = uuid.NewString()
		}
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := seedTable(tx, seed.Slots); err != nil {
			return fmt.Errorf("seed slots: %w", err)
		}
		if err := seedTable(tx, seed.Streets); err != nil {
			return fmt.Errorf("seed streets: %w", err)
		}
		if err := seedTable(tx, seed.Appointments); err != nil {
			return fmt.Errorf("seed appointments: %w", err)
		}
		return nil
	})
}

func seedTable[T any](tx *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	var count int64
	if err := tx.Model(new(T)).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return tx.Create(&rows).Error
}

package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ubsconjuntos/agenda-backend/internal/models"
	"github.com/ubsconjuntos/agenda-backend/internal/storage"
)

// Notifier delivers an appointment reminder to the patient.
type Notifier interface {
	SendReminder(ctx context.Context, appointment *models.Appointment) error
}

// ReminderWindow bounds how long before an appointment a reminder is due.
// Both ends are inclusive.
type ReminderWindow struct {
	Lower time.Duration
	Upper time.Duration
}

// DefaultReminderWindow reminds the day before.
var DefaultReminderWindow = ReminderWindow{Lower: 23 * time.Hour, Upper: 25 * time.Hour}

// Contains reports whether an appointment delta from now is in the window.
func (w ReminderWindow) Contains(delta time.Duration) bool {
	return delta >= w.Lower && delta <= w.Upper
}

// ReminderService flags scheduled appointments that entered the reminder
// window and sends their reminders.
type ReminderService struct {
	ledger      storage.AppointmentLedger
	notifier    Notifier
	window      ReminderWindow
	location    *time.Location
	concurrency int
	log         logrus.FieldLogger
}

// NewReminderService creates a reminder scanner. A nil location means time.Local.
func NewReminderService(ledger storage.AppointmentLedger, notifier Notifier, window ReminderWindow, location *time.Location, log logrus.FieldLogger) *ReminderService {
	if location == nil {
		location = time.Local
	}
	return &ReminderService{
		ledger:      ledger,
		notifier:    notifier,
		window:      window,
		location:    location,
		concurrency: 4,
		log:         log,
	}
}

// ScanAndFlag sends a reminder for every scheduled appointment whose start
// is within the window from now, and marks it as reminded. It returns how
// many appointments were flagged. Rows with unparsable dates are skipped.
func (r *ReminderService) ScanAndFlag(ctx context.Context, now time.Time) (int, error) {
	appointments, err := r.ledger.ListAppointments(ctx)
	if err != nil {
		return 0, fmt.Errorf("list appointments: %w", err)
	}

	var flagged, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, appointment := range appointments {
		if !appointment.IsScheduled() {
			continue
		}
		log := r.log.WithField("appointment_id", appointment.ID)
		at, err := appointment.ScheduledAt(r.location)
		if err != nil {
			log.WithError(err).Debug("Skipping appointment with invalid date")
			continue
		}
		if !r.window.Contains(at.Sub(now)) {
			continue
		}

		appointment := appointment
		g.Go(func() error {
			ok, err := r.remind(gctx, log, appointment)
			if err != nil {
				failed.Add(1)
				log.WithError(err).Error("Reminder failed")
				return nil
			}
			if ok {
				flagged.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(flagged.Load()), err
	}

	r.log.WithFields(logrus.Fields{
		"flagged": flagged.Load(),
		"failed":  failed.Load(),
		"scanned": len(appointments),
	}).Info("Reminder scan finished")
	return int(flagged.Load()), ctx.Err()
}

// remind claims the appointment before sending so two concurrent scans
// cannot both send. A failed send gives the claim back.
func (r *ReminderService) remind(ctx context.Context, log logrus.FieldLogger, appointment *models.Appointment) (bool, error) {
	err := r.ledger.UpdateAppointmentStatus(ctx, appointment.ID, models.AppointmentStatusScheduled, models.AppointmentStatusReminderSent)
	if errors.Is(err, storage.ErrStatusConflict) {
		log.Debug("Appointment already claimed")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim appointment: %w", err)
	}

	if err := r.notifier.SendReminder(ctx, appointment); err != nil {
		revertErr := r.ledger.UpdateAppointmentStatus(context.WithoutCancel(ctx), appointment.ID, models.AppointmentStatusReminderSent, models.AppointmentStatusScheduled)
		if revertErr != nil {
			log.WithError(revertErr).Error("Failed to revert appointment status")
		}
		return false, fmt.Errorf("send reminder: %w", err)
	}
	log.WithField("phone", appointment.Phone).Info("Reminder sent")
	return true, nil
}

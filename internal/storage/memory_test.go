package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ubsconjuntos/agenda-backend/internal/models"
)

func TestMemoryStoreCreateSessionIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first, created, err := store.CreateSession(ctx, "+5585999990000", models.StageInitialMenu)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !created {
		t.Fatal("expected first CreateSession to create")
	}

	second, created, err := store.CreateSession(ctx, "+5585999990000", models.StageAwaitingStreet)
	if err != nil {
		t.Fatalf("CreateSession again: %v", err)
	}
	if created {
		t.Fatal("expected second CreateSession to return the existing session")
	}
	if second.ID != first.ID || second.Stage != models.StageInitialMenu {
		t.Fatalf("got session %d in %q, want %d in %q", second.ID, second.Stage, first.ID, models.StageInitialMenu)
	}
	if store.SessionCount() != 1 {
		t.Fatalf("expected 1 session, got %d", store.SessionCount())
	}
}

func TestMemoryStoreConcurrentCreateSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := store.CreateSession(ctx, "+5585911112222", models.StageInitialMenu)
			if err != nil {
				t.Errorf("CreateSession: %v", err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if createdCount != 1 {
		t.Fatalf("expected exactly one creation, got %d", createdCount)
	}
}

func TestMemoryStoreUpdateSessionStage(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if _, _, err := store.CreateSession(ctx, "+551", models.StageInitialMenu); err != nil {
		t.Fatal(err)
	}

	if err := store.UpdateSessionStage(ctx, "+551", models.StageInitialMenu, models.StageAwaitingStreet, "3"); err != nil {
		t.Fatalf("UpdateSessionStage: %v", err)
	}
	session, err := store.GetSessionByPhone(ctx, "+551")
	if err != nil {
		t.Fatal(err)
	}
	if session.Stage != models.StageAwaitingStreet || session.LastChoice != "3" {
		t.Fatalf("unexpected session after update: %+v", session)
	}

	err = store.UpdateSessionStage(ctx, "+551", models.StageInitialMenu, models.StageClosed, "")
	if !errors.Is(err, ErrStageConflict) {
		t.Fatalf("expected ErrStageConflict, got %v", err)
	}
	err = store.UpdateSessionStage(ctx, "+unknown", models.StageInitialMenu, models.StageClosed, "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreListSlotsFiltersCaseInsensitively(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.AddSlot(&models.Slot{ExamType: "Eletro", Status: "LIVRE", Date: "20/10/2026", Time: "08:00", Location: "UBS"})
	store.AddSlot(&models.Slot{ExamType: "eletro", Status: "ocupado", Date: "20/10/2026", Time: "09:00", Location: "UBS"})
	store.AddSlot(&models.Slot{ExamType: "preventivo", Status: "livre", Date: "20/10/2026", Time: "10:00", Location: "UBS"})

	slots, err := store.ListSlots(ctx, models.ExamElectro, models.SlotStatusFree)
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 1 || slots[0].Time != "08:00" {
		t.Fatalf("unexpected slots: %+v", slots)
	}
}

func TestMemoryStoreReserveSlot(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	slot := store.AddSlot(&models.Slot{ExamType: "eletro", Status: "livre"})

	if err := store.ReserveSlot(ctx, slot.ID); err != nil {
		t.Fatalf("ReserveSlot: %v", err)
	}
	if err := store.ReserveSlot(ctx, slot.ID); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
	if err := store.ReleaseSlot(ctx, slot.ID); err != nil {
		t.Fatalf("ReleaseSlot: %v", err)
	}
	if err := store.ReserveSlot(ctx, slot.ID); err != nil {
		t.Fatalf("ReserveSlot after release: %v", err)
	}
	if err := store.ReserveSlot(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreUpdateAppointmentStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	appointment, err := store.CreateAppointment(ctx, &models.Appointment{PatientName: "Ana", Status: "Marcado"})
	if err != nil {
		t.Fatal(err)
	}
	if appointment.Ref == "" {
		t.Fatal("expected a generated ref")
	}

	err = store.UpdateAppointmentStatus(ctx, appointment.ID, models.AppointmentStatusScheduled, models.AppointmentStatusReminderSent)
	if err != nil {
		t.Fatalf("UpdateAppointmentStatus: %v", err)
	}
	err = store.UpdateAppointmentStatus(ctx, appointment.ID, models.AppointmentStatusScheduled, models.AppointmentStatusReminderSent)
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}

	appointments, err := store.ListAppointments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if appointments[0].Status != models.AppointmentStatusReminderSent {
		t.Fatalf("status = %q", appointments[0].Status)
	}
}

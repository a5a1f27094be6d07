/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package custody

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/brimir_terminal/internal/events"
	"github.com/friendsincode/brimir_terminal/internal/models"
)

func openCustodyTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Movement{}, &models.CustodyEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedMovement(t *testing.T, db *gorm.DB, stage models.CustodyStage, priority models.PriorityClass) *models.Movement {
	t.Helper()
	movement := &models.Movement{
		ID:        uuid.NewString(),
		BookingID: uuid.NewString(),
		ProductID: uuid.NewString(),
		Priority:  priority,
		Stage:     stage,
	}
	if err := db.Create(movement).Error; err != nil {
		t.Fatalf("seed movement: %v", err)
	}
	return movement
}

func TestAdjacencyTableShape(t *testing.T) {
	withNext := 0
	for stage, next := range adjacency {
		if len(next) > 0 {
			withNext++
			continue
		}
		if stage != models.StageExited && stage != models.StageWeighIn {
			t.Errorf("stage %s has no outgoing edges", stage)
		}
	}
	if withNext != 9 {
		t.Errorf("stages with outgoing edges = %d, want 9", withNext)
	}
	if len(AllowedNext(models.StageExited)) != 0 {
		t.Errorf("exited must be terminal")
	}
	if len(AllowedNext(models.StageWeighIn)) != 0 {
		t.Errorf("weigh_in must have no outgoing edges")
	}
}

func TestTransitionHappyPath(t *testing.T) {
	db := openCustodyTestDB(t)
	svc := NewService(db, events.NewBus(), zerolog.Nop())
	movement := seedMovement(t, db, models.StageGateCheckin, models.PriorityAppointment)

	path := []models.CustodyStage{
		models.StageSafetyApproved,
		models.StageDocumentsVerified,
		models.StageReadyForBay,
		models.StageLoadingStarted,
		models.StageLoadingCompleted,
		models.StageWeighOut,
		models.StageSealed,
		models.StageCustodyTransferred,
		models.StageExited,
	}
	for _, target := range path {
		updated, err := svc.Transition(context.Background(), movement.ID, target)
		if err != nil {
			t.Fatalf("transition to %s: %v", target, err)
		}
		if updated.Stage != target {
			t.Fatalf("stage = %s, want %s", updated.Stage, target)
		}
	}

	history, err := svc.History(context.Background(), movement.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != len(path) {
		t.Fatalf("history length = %d, want %d", len(history), len(path))
	}
	if history[0].FromStage != models.StageGateCheckin {
		t.Errorf("first event from = %s, want gate_checkin", history[0].FromStage)
	}
	if history[len(history)-1].ToStage != models.StageExited {
		t.Errorf("last event to = %s, want exited", history[len(history)-1].ToStage)
	}
}

func TestTransitionRejections(t *testing.T) {
	db := openCustodyTestDB(t)
	svc := NewService(db, events.NewBus(), zerolog.Nop())

	t.Run("unknown stage", func(t *testing.T) {
		movement := seedMovement(t, db, models.StageGateCheckin, models.PriorityFCFS)
		_, err := svc.Transition(context.Background(), movement.ID, "teleported")
		if !errors.Is(err, ErrValidation) {
			t.Errorf("err = %v, want ErrValidation", err)
		}
	})

	t.Run("unknown movement", func(t *testing.T) {
		_, err := svc.Transition(context.Background(), uuid.NewString(), models.StageSafetyApproved)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("illegal edge", func(t *testing.T) {
		movement := seedMovement(t, db, models.StageGateCheckin, models.PriorityFCFS)
		_, err := svc.Transition(context.Background(), movement.ID, models.StageLoadingStarted)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("err = %v, want ErrInvalidTransition", err)
		}
		if !strings.Contains(err.Error(), "gate_checkin") || !strings.Contains(err.Error(), "safety_approved") {
			t.Errorf("message must name current and allowed stages, got: %v", err)
		}

		var reloaded models.Movement
		db.First(&reloaded, "id = ?", movement.ID)
		if reloaded.Stage != models.StageGateCheckin {
			t.Errorf("rejected transition mutated the movement")
		}
		var count int64
		db.Model(&models.CustodyEvent{}).Where("movement_id = ?", movement.ID).Count(&count)
		if count != 0 {
			t.Errorf("rejected transition appended %d events", count)
		}
	})

	t.Run("terminal stage", func(t *testing.T) {
		movement := seedMovement(t, db, models.StageExited, models.PriorityFCFS)
		_, err := svc.Transition(context.Background(), movement.ID, models.StageGateCheckin)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
	})
}

func TestReadyForBaySideEffects(t *testing.T) {
	db := openCustodyTestDB(t)
	svc := NewService(db, events.NewBus(), zerolog.Nop())
	movement := seedMovement(t, db, models.StageSafetyApproved, models.PriorityBlocked)
	movement.BlockReason = "documents: missing weighbridge_cert"
	db.Save(movement)

	updated, err := svc.Transition(context.Background(), movement.ID, models.StageReadyForBay)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.ReadyForBayAt == nil {
		t.Errorf("ready timestamp not set")
	}
	if updated.Priority != models.PriorityFCFS {
		t.Errorf("priority = %s, blocked must reclassify to fcfs", updated.Priority)
	}
	if updated.BlockReason != "" {
		t.Errorf("block reason not cleared")
	}
}

func TestOccupancyAffectingTransitionsRequestReconcile(t *testing.T) {
	db := openCustodyTestDB(t)
	bus := events.NewBus()
	reconcileCh := bus.Subscribe(events.EventReconcileRequested)
	svc := NewService(db, bus, zerolog.Nop())

	movement := seedMovement(t, db, models.StageReadyForBay, models.PriorityFCFS)
	if _, err := svc.Transition(context.Background(), movement.ID, models.StageLoadingStarted); err != nil {
		t.Fatalf("transition: %v", err)
	}
	select {
	case payload := <-reconcileCh:
		if payload["trigger"] != "custody_transition" {
			t.Errorf("trigger = %v", payload["trigger"])
		}
	default:
		t.Errorf("occupancy-affecting transition did not request reconcile")
	}

	// Non occupancy-affecting edge stays quiet.
	other := seedMovement(t, db, models.StageGateCheckin, models.PriorityFCFS)
	if _, err := svc.Transition(context.Background(), other.ID, models.StageSafetyApproved); err != nil {
		t.Fatalf("transition: %v", err)
	}
	select {
	case <-reconcileCh:
		t.Errorf("gate transition must not request reconcile")
	default:
	}
}

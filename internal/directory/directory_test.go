/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/brimir_terminal/internal/events"
	"github.com/friendsincode/brimir_terminal/internal/models"
)

func openDirectoryTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Resource{}, &models.ResourceProduct{}, &models.Movement{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedResource(t *testing.T, db *gorm.DB, status models.ResourceStatus, currentProduct *string) *models.Resource {
	t.Helper()
	resource := &models.Resource{
		ID:               uuid.NewString(),
		Name:             "bay-" + uuid.NewString()[:8],
		Kind:             models.ResourceBay,
		Status:           status,
		CurrentProductID: currentProduct,
		Changeover:       models.ChangeoverNotApplicable,
	}
	if err := db.Create(resource).Error; err != nil {
		t.Fatalf("seed resource: %v", err)
	}
	return resource
}

func TestClaimRotatesProductOnChange(t *testing.T) {
	db := openDirectoryTestDB(t)
	dir := New(db, zerolog.Nop())

	diesel := uuid.NewString()
	gasoline := uuid.NewString()
	resource := seedResource(t, db, models.ResourceIdle, &diesel)
	movementID := uuid.NewString()

	tx := db.Begin()
	claimed, err := dir.ClaimTx(tx, resource.ID, movementID, gasoline)
	if err != nil {
		tx.Rollback()
		t.Fatalf("claim: %v", err)
	}
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit: %v", err)
	}

	if claimed.Status != models.ResourceOccupied {
		t.Errorf("status = %s, want occupied", claimed.Status)
	}
	if claimed.MovementID == nil || *claimed.MovementID != movementID {
		t.Errorf("movement id not recorded")
	}
	if claimed.CurrentProductID == nil || *claimed.CurrentProductID != gasoline {
		t.Errorf("current product not rotated")
	}
	if claimed.LastProductID == nil || *claimed.LastProductID != diesel {
		t.Errorf("last product not recorded")
	}
	if claimed.Changeover != models.ChangeoverNeedsClearance {
		t.Errorf("changeover = %s, want needs_clearance", claimed.Changeover)
	}
	if claimed.LastChangeoverAt == nil {
		t.Errorf("changeover timestamp not set")
	}
}

func TestClaimSameProductKeepsChangeoverState(t *testing.T) {
	db := openDirectoryTestDB(t)
	dir := New(db, zerolog.Nop())

	diesel := uuid.NewString()
	resource := seedResource(t, db, models.ResourceIdle, &diesel)

	tx := db.Begin()
	claimed, err := dir.ClaimTx(tx, resource.ID, uuid.NewString(), diesel)
	if err != nil {
		tx.Rollback()
		t.Fatalf("claim: %v", err)
	}
	tx.Commit()

	if claimed.Changeover != models.ChangeoverNotApplicable {
		t.Errorf("changeover = %s, want unchanged", claimed.Changeover)
	}
	if claimed.LastProductID != nil {
		t.Errorf("last product should stay empty on same-product claim")
	}
}

func TestClaimConflicts(t *testing.T) {
	db := openDirectoryTestDB(t)
	dir := New(db, zerolog.Nop())
	product := uuid.NewString()

	t.Run("already assigned", func(t *testing.T) {
		resource := seedResource(t, db, models.ResourceIdle, nil)
		other := uuid.NewString()
		resource.MovementID = &other
		resource.Status = models.ResourceOccupied
		db.Save(resource)

		tx := db.Begin()
		defer tx.Rollback()
		if _, err := dir.ClaimTx(tx, resource.ID, uuid.NewString(), product); !errors.Is(err, ErrConflict) {
			t.Errorf("err = %v, want ErrConflict", err)
		}
	})

	t.Run("maintenance", func(t *testing.T) {
		resource := seedResource(t, db, models.ResourceMaintenance, nil)
		tx := db.Begin()
		defer tx.Rollback()
		if _, err := dir.ClaimTx(tx, resource.ID, uuid.NewString(), product); !errors.Is(err, ErrConflict) {
			t.Errorf("err = %v, want ErrConflict", err)
		}
	})

	t.Run("missing resource", func(t *testing.T) {
		tx := db.Begin()
		defer tx.Rollback()
		if _, err := dir.ClaimTx(tx, uuid.NewString(), uuid.NewString(), product); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestReleaseSkipsOperatorStates(t *testing.T) {
	db := openDirectoryTestDB(t)
	dir := New(db, zerolog.Nop())

	resource := seedResource(t, db, models.ResourceMaintenance, nil)

	tx := db.Begin()
	if err := dir.ReleaseTx(tx, resource.ID); err != nil {
		tx.Rollback()
		t.Fatalf("release: %v", err)
	}
	tx.Commit()

	reloaded, err := dir.Get(context.Background(), resource.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Status != models.ResourceMaintenance {
		t.Errorf("status = %s, maintenance must survive release", reloaded.Status)
	}
}

func TestOperatorActionEvictsOccupant(t *testing.T) {
	db := openDirectoryTestDB(t)
	dir := New(db, zerolog.Nop())
	bus := events.NewBus()
	actionCh := bus.Subscribe(events.EventResourceAction)
	reconcileCh := bus.Subscribe(events.EventReconcileRequested)

	movement := &models.Movement{
		ID:        uuid.NewString(),
		BookingID: uuid.NewString(),
		ProductID: uuid.NewString(),
		Priority:  models.PriorityFCFS,
		Stage:     models.StageReadyForBay,
	}
	if err := db.Create(movement).Error; err != nil {
		t.Fatalf("seed movement: %v", err)
	}

	resource := seedResource(t, db, models.ResourceOccupied, nil)
	resource.MovementID = &movement.ID
	movement.ResourceID = &resource.ID
	db.Save(resource)
	db.Save(movement)

	updated, err := dir.Apply(context.Background(), bus, resource.ID, OperatorAction{
		Kind:       ActionSetMaintenance,
		OperatorID: uuid.NewString(),
		Reason:     "pump seal failure",
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if updated.Status != models.ResourceMaintenance {
		t.Errorf("status = %s, want maintenance", updated.Status)
	}
	if updated.MovementID != nil {
		t.Errorf("occupant not evicted")
	}

	var reloaded models.Movement
	db.First(&reloaded, "id = ?", movement.ID)
	if reloaded.ResourceID != nil {
		t.Errorf("evicted movement still pinned to resource")
	}

	select {
	case payload := <-actionCh:
		if payload["evicted_movement_id"] != movement.ID {
			t.Errorf("evicted movement missing from event payload")
		}
	default:
		t.Errorf("resource action event not published")
	}
	select {
	case <-reconcileCh:
	default:
		t.Errorf("reconcile not requested after eviction")
	}
}

func TestOperatorActionValidation(t *testing.T) {
	db := openDirectoryTestDB(t)
	dir := New(db, zerolog.Nop())
	resource := seedResource(t, db, models.ResourceIdle, nil)

	_, err := dir.Apply(context.Background(), nil, resource.ID, OperatorAction{
		Kind:       ActionSetBlocked,
		OperatorID: uuid.NewString(),
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict for missing reason", err)
	}

	_, err = dir.Apply(context.Background(), nil, resource.ID, OperatorAction{Kind: "bogus"})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict for unknown action", err)
	}
}

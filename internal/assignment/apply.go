/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/brimir_terminal/internal/directory"
	"github.com/friendsincode/brimir_terminal/internal/events"
	"github.com/friendsincode/brimir_terminal/internal/models"
	"github.com/friendsincode/brimir_terminal/internal/telemetry"
)

// Apply claims resource for movement. Preconditions are checked and
// committed in one transaction; a resource taken between proposal and
// commit surfaces as ErrConflict, never as a silent reassignment.
func (s *Service) Apply(ctx context.Context, movementID, resourceID string) (*models.Allocation, error) {
	var movement models.Movement
	err := s.db.WithContext(ctx).First(&movement, "id = ?", movementID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: movement %s", ErrNotFound, movementID)
	}
	if err != nil {
		return nil, fmt.Errorf("load movement: %w", err)
	}

	if movement.Priority == models.PriorityBlocked {
		return nil, fmt.Errorf("%w: movement is blocked", ErrConflict)
	}
	if movement.ResourceID != nil {
		return nil, fmt.Errorf("%w: movement already assigned to %s", ErrConflict, *movement.ResourceID)
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var resource models.Resource
	err = tx.Preload("Products").First(&resource, "id = ?", resourceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		tx.Rollback()
		return nil, fmt.Errorf("%w: resource %s", ErrNotFound, resourceID)
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("load resource: %w", err)
	}

	if err := s.checkClaimable(ctx, &movement, &resource); err != nil {
		tx.Rollback()
		telemetry.AssignmentConflictsTotal.Inc()
		s.bus.Publish(events.EventAssignmentConflict, events.Payload{
			"movement_id": movementID,
			"resource_id": resourceID,
			"reason":      err.Error(),
		})
		return nil, err
	}

	score, reasons, _, err := s.scoreCandidate(ctx, &movement, &resource)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("score resource: %w", err)
	}

	if _, err := s.dir.ClaimTx(tx, resourceID, movementID, movement.ProductID); err != nil {
		tx.Rollback()
		if errors.Is(err, directory.ErrConflict) {
			telemetry.AssignmentConflictsTotal.Inc()
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		if errors.Is(err, directory.ErrNotFound) {
			return nil, fmt.Errorf("%w: resource %s", ErrNotFound, resourceID)
		}
		return nil, err
	}

	if err := tx.Model(&models.Movement{}).Where("id = ?", movementID).
		Update("resource_id", resourceID).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("pin movement to resource: %w", err)
	}

	allocation := models.Allocation{
		ID:          uuid.NewString(),
		MovementID:  movementID,
		ResourceID:  resourceID,
		ReasonCodes: joinReasons(reasons),
		Confidence:  confidence(score),
	}
	if err := tx.Create(&allocation).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("record allocation: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("commit assignment: %w", err)
	}

	s.dir.InvalidateSnapshot(ctx)
	telemetry.AssignmentRecommendationsTotal.WithLabelValues("applied").Inc()
	s.logger.Info().
		Str("movement_id", movementID).
		Str("resource_id", resourceID).
		Str("reasons", allocation.ReasonCodes).
		Msg("Assignment applied")

	s.bus.Publish(events.EventAssignmentApplied, events.Payload{
		"movement_id":   movementID,
		"resource_id":   resourceID,
		"allocation_id": allocation.ID,
		"reason_codes":  allocation.ReasonCodes,
		"confidence":    allocation.Confidence,
	})

	return &allocation, nil
}

// checkClaimable enforces the operability, product, and changeover
// preconditions for claiming resource on behalf of movement.
func (s *Service) checkClaimable(ctx context.Context, movement *models.Movement, resource *models.Resource) error {
	switch resource.Status {
	case models.ResourceMaintenance, models.ResourceBlocked:
		return fmt.Errorf("%w: resource %s is %s", ErrConflict, resource.Name, resource.Status)
	}
	if resource.MovementID != nil {
		return fmt.Errorf("%w: resource %s already assigned", ErrConflict, resource.Name)
	}
	if !resource.CarriesProduct(movement.ProductID) {
		return fmt.Errorf("%w: resource %s is not configured for the requested product", ErrConflict, resource.Name)
	}

	if resource.CurrentProductID == nil || *resource.CurrentProductID == movement.ProductID {
		return nil
	}

	verdict, err := s.oracle.CanFollow(ctx, *resource.CurrentProductID, movement.ProductID)
	if err != nil {
		return fmt.Errorf("changeover lookup: %w", err)
	}
	if !verdict.Compatible {
		return fmt.Errorf("%w: incompatible product changeover", ErrConflict)
	}
	if verdict.RequiresClearance {
		if resource.Changeover == models.ChangeoverNeedsClearance {
			return fmt.Errorf("%w: changeover not ready", ErrConflict)
		}
		if resource.LastChangeoverAt != nil {
			elapsed := time.Since(*resource.LastChangeoverAt)
			required := time.Duration(verdict.MinClearanceMinutes) * time.Minute
			if elapsed < required {
				return fmt.Errorf("%w: clearance window not elapsed (%s of %s)",
					ErrConflict, elapsed.Round(time.Minute), required)
			}
		}
	}
	return nil
}

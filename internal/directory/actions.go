/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package directory

import (
	"context"
	"fmt"

	"github.com/friendsincode/brimir_terminal/internal/events"
	"github.com/friendsincode/brimir_terminal/internal/models"
)

// ActionKind identifies an operator action on a resource.
type ActionKind string

const (
	ActionSetMaintenance ActionKind = "set_maintenance"
	ActionSetBlocked     ActionKind = "set_blocked"
	ActionRelease        ActionKind = "release"
)

// OperatorAction is an operator-issued resource mutation. Reason is
// required for set_maintenance and set_blocked.
type OperatorAction struct {
	Kind       ActionKind
	OperatorID string
	Reason     string
}

// Apply executes an operator action against a resource. Maintenance and
// blocked are operator-authoritative: they win over any automated state,
// and any current occupant is evicted so reconciliation can re-seat it.
func (d *Directory) Apply(ctx context.Context, bus *events.Bus, resourceID string, action OperatorAction) (*models.Resource, error) {
	switch action.Kind {
	case ActionSetMaintenance, ActionSetBlocked:
		if action.Reason == "" {
			return nil, fmt.Errorf("%w: reason is required for %s", ErrConflict, action.Kind)
		}
	case ActionRelease:
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrConflict, action.Kind)
	}

	tx := d.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	resource, err := loadResource(tx, resourceID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	evicted := resource.MovementID

	switch action.Kind {
	case ActionSetMaintenance:
		resource.Status = models.ResourceMaintenance
		resource.MovementID = nil
	case ActionSetBlocked:
		resource.Status = models.ResourceBlocked
		resource.MovementID = nil
	case ActionRelease:
		resource.Status = models.ResourceIdle
		resource.MovementID = nil
	}

	if err := tx.Save(resource).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("apply operator action: %w", err)
	}

	if evicted != nil {
		// Detach the evicted movement so it re-enters the queue.
		err := tx.Model(&models.Movement{}).
			Where("id = ?", *evicted).
			Update("resource_id", nil).Error
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("detach evicted movement: %w", err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("commit operator action: %w", err)
	}

	d.InvalidateSnapshot(ctx)

	d.logger.Info().
		Str("resource_id", resourceID).
		Str("action", string(action.Kind)).
		Str("operator_id", action.OperatorID).
		Msg("Operator action applied")

	if bus != nil {
		payload := events.Payload{
			"resource_id": resourceID,
			"action":      string(action.Kind),
			"operator_id": action.OperatorID,
			"reason":      action.Reason,
		}
		if evicted != nil {
			payload["evicted_movement_id"] = *evicted
		}
		bus.Publish(events.EventResourceAction, payload)
		if evicted != nil {
			bus.Publish(events.EventReconcileRequested, events.Payload{
				"trigger": "operator_action",
			})
		}
	}

	return resource, nil
}

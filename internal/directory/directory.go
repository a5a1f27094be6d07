/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package directory is the authoritative snapshot of every bay and
// loading arm: operability status, loaded products, changeover
// readiness, and current occupant.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/brimir_terminal/internal/cache"
	"github.com/friendsincode/brimir_terminal/internal/models"
)

var (
	// ErrNotFound indicates the resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict indicates a claim or operator action lost a race or
	// hit an operator-authoritative state.
	ErrConflict = errors.New("resource state conflict")
)

// Directory provides read access and transactional mutation of resources.
type Directory struct {
	db     *gorm.DB
	cache  *cache.Cache
	logger zerolog.Logger
}

// New creates a resource directory.
func New(db *gorm.DB, logger zerolog.Logger) *Directory {
	return &Directory{
		db:     db,
		logger: logger.With().Str("component", "directory").Logger(),
	}
}

// SetCache installs a resource snapshot cache.
func (d *Directory) SetCache(c *cache.Cache) {
	d.cache = c
}

// Get returns one resource with its product configuration.
func (d *Directory) Get(ctx context.Context, resourceID string) (*models.Resource, error) {
	var resource models.Resource
	err := d.db.WithContext(ctx).Preload("Products").First(&resource, "id = ?", resourceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load resource: %w", err)
	}
	return &resource, nil
}

// List returns every resource, cache-assisted.
func (d *Directory) List(ctx context.Context) ([]models.Resource, error) {
	if d.cache != nil {
		if resources, ok := d.cache.GetResourceList(ctx); ok {
			return resources, nil
		}
	}

	var resources []models.Resource
	if err := d.db.WithContext(ctx).Preload("Products").Order("name ASC").Find(&resources).Error; err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}

	if d.cache != nil {
		d.cache.SetResourceList(ctx, resources)
	}
	return resources, nil
}

// Candidates returns resources eligible for assignment consideration:
// everything not under an operator-authoritative state and not already
// claimed by a movement.
func (d *Directory) Candidates(ctx context.Context) ([]models.Resource, error) {
	var resources []models.Resource
	err := d.db.WithContext(ctx).
		Preload("Products").
		Where("status IN ?", []models.ResourceStatus{models.ResourceIdle, models.ResourceOccupied}).
		Where("movement_id IS NULL").
		Order("name ASC").
		Find(&resources).Error
	if err != nil {
		return nil, fmt.Errorf("list candidate resources: %w", err)
	}
	return resources, nil
}

// ActiveCount returns the number of operable resources (idle or occupied),
// the divisor for queue wait prediction.
func (d *Directory) ActiveCount(ctx context.Context) (int, error) {
	var count int64
	err := d.db.WithContext(ctx).
		Model(&models.Resource{}).
		Where("status IN ?", []models.ResourceStatus{models.ResourceIdle, models.ResourceOccupied}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count active resources: %w", err)
	}
	return int(count), nil
}

// loadResource fetches a resource inside tx.
func loadResource(tx *gorm.DB, resourceID string) (*models.Resource, error) {
	var resource models.Resource
	err := tx.First(&resource, "id = ?", resourceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load resource: %w", err)
	}
	return &resource, nil
}

// ClaimTx claims resource for movement inside an existing transaction.
// The precondition "resource is still unassigned and operable" is enforced
// by a guarded update so concurrent claims cannot both succeed; the loser
// gets ErrConflict. productID is the product the movement will load;
// product bookkeeping on the resource (current/last product, changeover
// timestamps) is updated when the product changes.
func (d *Directory) ClaimTx(tx *gorm.DB, resourceID, movementID, productID string) (*models.Resource, error) {
	resource, err := loadResource(tx, resourceID)
	if err != nil {
		return nil, err
	}

	switch resource.Status {
	case models.ResourceMaintenance, models.ResourceBlocked:
		return nil, fmt.Errorf("%w: resource %s is %s", ErrConflict, resource.Name, resource.Status)
	}
	if resource.MovementID != nil {
		return nil, fmt.Errorf("%w: resource %s already assigned", ErrConflict, resource.Name)
	}

	now := time.Now()
	updates := map[string]any{
		"status":      models.ResourceOccupied,
		"movement_id": movementID,
	}

	if resource.CurrentProductID == nil || *resource.CurrentProductID != productID {
		updates["last_product_id"] = resource.CurrentProductID
		updates["current_product_id"] = productID
		updates["last_changeover_at"] = now
		// A fresh changeover must be cleared before the next one.
		updates["changeover"] = models.ChangeoverNeedsClearance
	}

	result := tx.Model(&models.Resource{}).
		Where("id = ? AND movement_id IS NULL", resourceID).
		Where("status IN ?", []models.ResourceStatus{models.ResourceIdle, models.ResourceOccupied}).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("claim resource: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: resource %s claimed concurrently", ErrConflict, resource.Name)
	}

	return loadResource(tx, resourceID)
}

// ReleaseTx clears a resource's occupancy inside an existing transaction.
// Operator-authoritative states are left untouched.
func (d *Directory) ReleaseTx(tx *gorm.DB, resourceID string) error {
	result := tx.Model(&models.Resource{}).
		Where("id = ?", resourceID).
		Where("status NOT IN ?", []models.ResourceStatus{models.ResourceMaintenance, models.ResourceBlocked}).
		Updates(map[string]any{
			"status":      models.ResourceIdle,
			"movement_id": nil,
		})
	if result.Error != nil {
		return fmt.Errorf("release resource: %w", result.Error)
	}
	return nil
}

// InvalidateSnapshot drops the cached resource list after a write.
func (d *Directory) InvalidateSnapshot(ctx context.Context) {
	if d.cache != nil {
		d.cache.InvalidateResourceList(ctx)
	}
}

// DB exposes the underlying handle for callers that compose their own
// transaction around directory operations.
func (d *Directory) DB() *gorm.DB {
	return d.db
}

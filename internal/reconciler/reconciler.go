/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package reconciler repairs drift between resource status and the
// movements actually occupying each resource. It is a best-effort
// consistency pass, never a primary write path: it logs and skips what
// it cannot evaluate instead of failing.
package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/brimir_terminal/internal/directory"
	"github.com/friendsincode/brimir_terminal/internal/events"
	"github.com/friendsincode/brimir_terminal/internal/models"
	"github.com/friendsincode/brimir_terminal/internal/telemetry"
)

// loadingStages are the custody stages during which a movement
// physically occupies its resource.
var loadingStages = []models.CustodyStage{
	models.StageLoadingStarted,
	models.StageLoadingCompleted,
	models.StageWeighOut,
	models.StageSealed,
	models.StageCustodyTransferred,
}

// Service reconciles resource occupancy.
type Service struct {
	db       *gorm.DB
	dir      *directory.Directory
	bus      *events.Bus
	interval time.Duration
	logger   zerolog.Logger
}

// NewService creates a reconciler. interval is the periodic sweep
// cadence used by Run.
func NewService(db *gorm.DB, dir *directory.Directory, bus *events.Bus, interval time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		db:       db,
		dir:      dir,
		bus:      bus,
		interval: interval,
		logger:   logger.With().Str("component", "reconciler").Logger(),
	}
}

// ReconcileAll sweeps every idle or occupied resource and corrects its
// status against actual occupancy. Maintenance and blocked resources
// are operator-authoritative and never touched. Idempotent: a second
// sweep over unchanged state corrects nothing.
func (s *Service) ReconcileAll(ctx context.Context) int {
	var resources []models.Resource
	err := s.db.WithContext(ctx).
		Where("status IN ?", []models.ResourceStatus{models.ResourceIdle, models.ResourceOccupied}).
		Find(&resources).Error
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list resources, skipping sweep")
		return 0
	}

	corrections := 0
	for i := range resources {
		corrected, err := s.reconcileOne(ctx, &resources[i])
		if err != nil {
			telemetry.ReconcilerSkippedTotal.Inc()
			s.logger.Warn().Err(err).
				Str("resource_id", resources[i].ID).
				Msg("Skipping resource during reconciliation")
			continue
		}
		if corrected {
			corrections++
		}
	}
	return corrections
}

// reconcileOne corrects a single resource. Returns whether a correction
// was applied.
func (s *Service) reconcileOne(ctx context.Context, resource *models.Resource) (bool, error) {
	var occupant models.Movement
	err := s.db.WithContext(ctx).
		Where("resource_id = ?", resource.ID).
		Where("stage IN ?", loadingStages).
		First(&occupant).Error

	occupied := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	switch {
	case occupied && resource.Status != models.ResourceOccupied:
		err := s.db.WithContext(ctx).Model(&models.Resource{}).
			Where("id = ?", resource.ID).
			Updates(map[string]any{
				"status":      models.ResourceOccupied,
				"movement_id": occupant.ID,
			}).Error
		if err != nil {
			return false, err
		}
		s.correctionApplied(resource.ID, "to_occupied", occupant.ID)
		return true, nil

	case !occupied && resource.Status == models.ResourceOccupied:
		err := s.db.WithContext(ctx).Model(&models.Resource{}).
			Where("id = ?", resource.ID).
			Updates(map[string]any{
				"status":      models.ResourceIdle,
				"movement_id": nil,
			}).Error
		if err != nil {
			return false, err
		}
		s.correctionApplied(resource.ID, "to_idle", "")
		return true, nil
	}

	return false, nil
}

func (s *Service) correctionApplied(resourceID, direction, movementID string) {
	telemetry.ReconcilerCorrectionsTotal.WithLabelValues(direction).Inc()
	s.dir.InvalidateSnapshot(context.Background())
	s.logger.Info().
		Str("resource_id", resourceID).
		Str("direction", direction).
		Msg("Occupancy drift corrected")
	s.bus.Publish(events.EventReconcileCorrected, events.Payload{
		"resource_id": resourceID,
		"direction":   direction,
		"movement_id": movementID,
	})
}

// Run sweeps on the configured interval and whenever a reconcile is
// requested on the bus. Blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	requests := s.bus.Subscribe(events.EventReconcileRequested)
	defer s.bus.Unsubscribe(events.EventReconcileRequested, requests)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("Reconciler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Reconciler stopped")
			return
		case <-ticker.C:
			telemetry.ReconcilerRunsTotal.WithLabelValues("interval").Inc()
			s.ReconcileAll(ctx)
		case _, ok := <-requests:
			if !ok {
				return
			}
			telemetry.ReconcilerRunsTotal.WithLabelValues("event").Inc()
			s.ReconcileAll(ctx)
		}
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package compliance evaluates the three admission gates for a
// movement: safety checklist, mandatory documents, and stop-work
// orders. One evaluation run appends one immutable result row per gate
// and, on overall pass, drives custody into the ready stage.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/brimir_terminal/internal/custody"
	"github.com/friendsincode/brimir_terminal/internal/directory"
	"github.com/friendsincode/brimir_terminal/internal/events"
	"github.com/friendsincode/brimir_terminal/internal/models"
	"github.com/friendsincode/brimir_terminal/internal/telemetry"
)

// ErrNotFound indicates the movement does not exist.
var ErrNotFound = errors.New("movement not found")

// Evaluation is the outcome of one gate run.
type Evaluation struct {
	RunID       string
	MovementID  string
	OverallPass bool
	Results     []models.ComplianceGateResult
}

// Service evaluates compliance gates.
type Service struct {
	db      *gorm.DB
	dir     *directory.Directory
	custody *custody.Service
	bus     *events.Bus
	logger  zerolog.Logger
}

// NewService creates a compliance gate evaluator.
func NewService(db *gorm.DB, dir *directory.Directory, custodySvc *custody.Service, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:      db,
		dir:     dir,
		custody: custodySvc,
		bus:     bus,
		logger:  logger.With().Str("component", "compliance").Logger(),
	}
}

// Evaluate runs all three gates for a movement. The three result rows
// and any priority forcing commit as one unit so a reader never sees a
// partial run. On overall pass a gate-side movement is walked to the
// ready stage; one that already left the gates stays where it is.
func (s *Service) Evaluate(ctx context.Context, movementID string) (*Evaluation, error) {
	var movement models.Movement
	err := s.db.WithContext(ctx).First(&movement, "id = ?", movementID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load movement: %w", err)
	}

	now := time.Now()
	runID := uuid.NewString()

	safetyStatus, safetyReason, err := s.evaluateSafety(ctx, &movement)
	if err != nil {
		return nil, err
	}
	docsStatus, docsReason, err := s.evaluateDocuments(ctx, &movement)
	if err != nil {
		return nil, err
	}
	stopStatus, stopReason, err := s.evaluateStopWork(ctx, &movement)
	if err != nil {
		return nil, err
	}

	results := []models.ComplianceGateResult{
		{ID: uuid.NewString(), RunID: runID, MovementID: movement.ID, Gate: models.GateSafety, Status: safetyStatus, Reason: safetyReason, EvaluatedAt: now},
		{ID: uuid.NewString(), RunID: runID, MovementID: movement.ID, Gate: models.GateDocuments, Status: docsStatus, Reason: docsReason, EvaluatedAt: now},
		{ID: uuid.NewString(), RunID: runID, MovementID: movement.ID, Gate: models.GateStopWork, Status: stopStatus, Reason: stopReason, EvaluatedAt: now},
	}

	overallPass := true
	var failures []string
	for _, result := range results {
		telemetry.GateEvaluationsTotal.WithLabelValues(string(result.Gate), string(result.Status)).Inc()
		if result.Status == models.GateFail {
			overallPass = false
			failures = append(failures, fmt.Sprintf("%s: %s", result.Gate, result.Reason))
		}
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

	if err := tx.Create(&results).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("append gate results: %w", err)
	}

	releasedResource := ""
	if !overallPass {
		updates := map[string]any{
			"priority":     models.PriorityBlocked,
			"block_reason": strings.Join(failures, "; "),
		}
		// A blocked movement may never hold a resource. If a re-run
		// fails mid-pipeline, the assignment is evicted with the block.
		if movement.ResourceID != nil {
			updates["resource_id"] = nil
			if err := s.dir.ReleaseTx(tx, *movement.ResourceID); err != nil {
				tx.Rollback()
				return nil, fmt.Errorf("release blocked movement resource: %w", err)
			}
			releasedResource = *movement.ResourceID
		}
		err := tx.Model(&models.Movement{}).Where("id = ?", movement.ID).Updates(updates).Error
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("block movement: %w", err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("commit evaluation: %w", err)
	}

	evaluation := &Evaluation{
		RunID:       runID,
		MovementID:  movement.ID,
		OverallPass: overallPass,
		Results:     results,
	}

	s.bus.Publish(events.EventGatesEvaluated, events.Payload{
		"movement_id":  movement.ID,
		"run_id":       runID,
		"overall_pass": overallPass,
	})

	if !overallPass {
		s.logger.Info().
			Str("movement_id", movement.ID).
			Strs("failures", failures).
			Msg("Movement blocked by compliance gates")
		s.bus.Publish(events.EventMovementBlocked, events.Payload{
			"movement_id": movement.ID,
			"reason":      strings.Join(failures, "; "),
		})
		if releasedResource != "" {
			s.dir.InvalidateSnapshot(ctx)
			s.bus.Publish(events.EventReconcileRequested, events.Payload{
				"trigger":     "gate_block",
				"resource_id": releasedResource,
			})
		}
		return evaluation, nil
	}

	if err := s.advanceToReady(ctx, &movement); err != nil {
		return nil, err
	}

	return evaluation, nil
}

// advanceToReady walks the movement along legal custody edges until it
// reaches the ready stage, appending one custody event per hop. A
// movement already at or past ready stays where it is.
func (s *Service) advanceToReady(ctx context.Context, movement *models.Movement) error {
	stage := movement.Stage
	for !custody.CanTransition(stage, models.StageReadyForBay) {
		// Check-in reaches ready through the safety approval edge.
		if stage != models.StageGateCheckin {
			return nil
		}
		if _, err := s.custody.Transition(ctx, movement.ID, models.StageSafetyApproved); err != nil {
			return fmt.Errorf("advance to ready: %w", err)
		}
		stage = models.StageSafetyApproved
	}
	if _, err := s.custody.Transition(ctx, movement.ID, models.StageReadyForBay); err != nil {
		return fmt.Errorf("advance to ready: %w", err)
	}
	return nil
}

func (s *Service) evaluateSafety(ctx context.Context, movement *models.Movement) (models.GateStatus, string, error) {
	var checklist models.SafetyChecklist
	err := s.db.WithContext(ctx).
		Where("movement_id = ?", movement.ID).
		Order("completed_at DESC").
		First(&checklist).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.GateFail, "no checklist found", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("load safety checklist: %w", err)
	}
	if checklist.Verdict != models.ChecklistPassed {
		return models.GateFail, fmt.Sprintf("latest checklist verdict is %q", checklist.Verdict), nil
	}
	return models.GatePass, "", nil
}

func (s *Service) evaluateDocuments(ctx context.Context, movement *models.Movement) (models.GateStatus, string, error) {
	var requirements []models.DocumentRequirement
	err := s.db.WithContext(ctx).
		Where("link_type = ? AND mandatory = ?", movement.LinkType, true).
		Find(&requirements).Error
	if err != nil {
		return "", "", fmt.Errorf("load document requirements: %w", err)
	}

	var missing []string
	for _, requirement := range requirements {
		var count int64
		err := s.db.WithContext(ctx).
			Model(&models.DocumentRecord{}).
			Where("movement_id = ? AND document_type = ? AND verified = ?", movement.ID, requirement.DocumentType, true).
			Count(&count).Error
		if err != nil {
			return "", "", fmt.Errorf("count verified documents: %w", err)
		}
		if count == 0 {
			missing = append(missing, requirement.DocumentType)
		}
	}

	if len(missing) > 0 {
		return models.GateFail, "missing verified documents: " + strings.Join(missing, ", "), nil
	}
	return models.GatePass, "", nil
}

func (s *Service) evaluateStopWork(ctx context.Context, movement *models.Movement) (models.GateStatus, string, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.StopWorkOrder{}).
		Where("booking_id = ? AND active = ?", movement.BookingID, true).
		Count(&count).Error
	if err != nil {
		return "", "", fmt.Errorf("count stop-work orders: %w", err)
	}
	if count > 0 {
		return models.GateFail, "active stop-work order for booking", nil
	}
	return models.GatePass, "", nil
}

// History returns every persisted gate result for a movement, newest
// run first.
func (s *Service) History(ctx context.Context, movementID string) ([]models.ComplianceGateResult, error) {
	var results []models.ComplianceGateResult
	err := s.db.WithContext(ctx).
		Where("movement_id = ?", movementID).
		Order("evaluated_at DESC, gate ASC").
		Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("load gate history: %w", err)
	}
	return results, nil
}

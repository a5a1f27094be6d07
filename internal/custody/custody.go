/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package custody advances a movement through the terminal custody
// pipeline. Transition legality is a fixed adjacency table; every
// accepted transition is appended as an immutable custody event in the
// same transaction as the stage change.
package custody

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/brimir_terminal/internal/events"
	"github.com/friendsincode/brimir_terminal/internal/models"
	"github.com/friendsincode/brimir_terminal/internal/telemetry"
)

var (
	// ErrNotFound indicates the movement does not exist.
	ErrNotFound = errors.New("movement not found")

	// ErrValidation indicates the target stage is not a recognised value.
	ErrValidation = errors.New("unknown custody stage")

	// ErrInvalidTransition indicates the requested edge is not in the
	// adjacency table.
	ErrInvalidTransition = errors.New("invalid custody transition")
)

// adjacency is the complete transition table. Stages absent from a set
// are rejected, never coerced. Exited is terminal; weigh_in currently
// has no outgoing edges.
var adjacency = map[models.CustodyStage][]models.CustodyStage{
	models.StageGateCheckin:        {models.StageSafetyApproved, models.StageDocumentsVerified},
	models.StageSafetyApproved:     {models.StageDocumentsVerified, models.StageReadyForBay},
	models.StageDocumentsVerified:  {models.StageSafetyApproved, models.StageReadyForBay},
	models.StageReadyForBay:        {models.StageLoadingStarted},
	models.StageLoadingStarted:     {models.StageLoadingCompleted},
	models.StageLoadingCompleted:   {models.StageWeighOut},
	models.StageWeighOut:           {models.StageSealed},
	models.StageSealed:             {models.StageCustodyTransferred},
	models.StageCustodyTransferred: {models.StageExited},
	models.StageWeighIn:            {},
	models.StageExited:             {},
}

// occupancyAffecting lists target stages after which resource occupancy
// may no longer match reality and reconciliation must be requested.
var occupancyAffecting = map[models.CustodyStage]bool{
	models.StageLoadingStarted:     true,
	models.StageLoadingCompleted:   true,
	models.StageWeighOut:           true,
	models.StageSealed:             true,
	models.StageCustodyTransferred: true,
	models.StageExited:             true,
}

// Service drives custody stage transitions.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService creates a custody service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "custody").Logger(),
	}
}

// KnownStage reports whether stage is a recognised custody stage.
func KnownStage(stage models.CustodyStage) bool {
	_, ok := adjacency[stage]
	return ok
}

// AllowedNext returns the legal target stages from the given stage,
// sorted for stable output.
func AllowedNext(stage models.CustodyStage) []models.CustodyStage {
	next := append([]models.CustodyStage(nil), adjacency[stage]...)
	sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
	return next
}

// CanTransition reports whether from → to is in the adjacency table.
func CanTransition(from, to models.CustodyStage) bool {
	for _, candidate := range adjacency[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Transition moves a movement to target. Rejections leave the movement
// untouched: stage update, event append, and side-effect fields commit
// together or not at all.
func (s *Service) Transition(ctx context.Context, movementID string, target models.CustodyStage) (*models.Movement, error) {
	if !KnownStage(target) {
		telemetry.CustodyTransitionsTotal.WithLabelValues(string(target), "rejected").Inc()
		return nil, fmt.Errorf("%w: %q", ErrValidation, target)
	}

	var movement models.Movement
	err := s.db.WithContext(ctx).First(&movement, "id = ?", movementID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load movement: %w", err)
	}

	if !CanTransition(movement.Stage, target) {
		telemetry.CustodyTransitionsTotal.WithLabelValues(string(target), "rejected").Inc()
		return nil, fmt.Errorf("%w: %s -> %s (allowed from %s: %s)",
			ErrInvalidTransition, movement.Stage, target, movement.Stage, formatStages(AllowedNext(movement.Stage)))
	}

	now := time.Now()
	from := movement.Stage

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

	movement.Stage = target
	if target == models.StageReadyForBay {
		movement.ReadyForBayAt = &now
		if movement.Priority == models.PriorityBlocked {
			movement.Priority = models.PriorityFCFS
			movement.BlockReason = ""
		}
	}

	if err := tx.Save(&movement).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("update movement stage: %w", err)
	}

	event := models.CustodyEvent{
		ID:         uuid.NewString(),
		MovementID: movement.ID,
		FromStage:  from,
		ToStage:    target,
		OccurredAt: now,
	}
	if err := tx.Create(&event).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("append custody event: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	telemetry.CustodyTransitionsTotal.WithLabelValues(string(target), "accepted").Inc()
	s.logger.Info().
		Str("movement_id", movement.ID).
		Str("from", string(from)).
		Str("to", string(target)).
		Msg("Custody stage transitioned")

	s.bus.Publish(events.EventCustodyTransitioned, events.Payload{
		"movement_id": movement.ID,
		"from_stage":  string(from),
		"to_stage":    string(target),
		"occurred_at": now,
	})
	if occupancyAffecting[target] {
		s.bus.Publish(events.EventReconcileRequested, events.Payload{
			"trigger":     "custody_transition",
			"movement_id": movement.ID,
		})
	}

	return &movement, nil
}

// History returns the append-only transition log for a movement,
// oldest first.
func (s *Service) History(ctx context.Context, movementID string) ([]models.CustodyEvent, error) {
	var history []models.CustodyEvent
	err := s.db.WithContext(ctx).
		Where("movement_id = ?", movementID).
		Order("occurred_at ASC, created_at ASC").
		Find(&history).Error
	if err != nil {
		return nil, fmt.Errorf("load custody history: %w", err)
	}
	return history, nil
}

func formatStages(stages []models.CustodyStage) string {
	if len(stages) == 0 {
		return "none"
	}
	parts := make([]string, len(stages))
	for i, stage := range stages {
		parts[i] = string(stage)
	}
	return strings.Join(parts, ", ")
}

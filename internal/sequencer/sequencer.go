/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sequencer orders ready movements into a predicted service
// queue and flags movements at risk of missing their appointment or of
// waiting too long.
package sequencer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/brimir_terminal/internal/directory"
	"github.com/friendsincode/brimir_terminal/internal/events"
	"github.com/friendsincode/brimir_terminal/internal/models"
	"github.com/friendsincode/brimir_terminal/internal/telemetry"
)

// Reason codes recorded per queue entry.
const (
	ReasonAppointmentMiss      = "appointment_miss"
	ReasonAppointmentTolerated = "appointment_late_but_tolerated"
	ReasonLongWait             = "long_wait"
	ReasonStandardOrder        = "standard_order"
)

// Entry is one movement's place in a resequencing pass.
type Entry struct {
	Movement       models.Movement
	Position       int
	PredictedStart time.Time
	ReasonCodes    []string
	AtRisk         bool
}

// Result is the output of one full resequencing pass.
type Result struct {
	Entries []Entry
	AtRisk  []Entry
}

// Service computes queue order and wait predictions.
type Service struct {
	db                *gorm.DB
	dir               *directory.Directory
	bus               *events.Bus
	avgServiceMinutes int
	longWaitMinutes   int
	logger            zerolog.Logger

	now func() time.Time
}

// NewService creates a queue sequencer. avgServiceMinutes is the
// configured mean per-truck service time; longWaitMinutes is the wait
// beyond which any movement is flagged regardless of priority.
func NewService(db *gorm.DB, dir *directory.Directory, bus *events.Bus, avgServiceMinutes, longWaitMinutes int, logger zerolog.Logger) *Service {
	return &Service{
		db:                db,
		dir:               dir,
		bus:               bus,
		avgServiceMinutes: avgServiceMinutes,
		longWaitMinutes:   longWaitMinutes,
		logger:            logger.With().Str("component", "sequencer").Logger(),
		now:               time.Now,
	}
}

// Resequence orders every ready, unassigned, non-blocked movement and
// persists one resequencing record per movement. Records are append-only
// so successive passes remain auditable.
func (s *Service) Resequence(ctx context.Context) (*Result, error) {
	var movements []models.Movement
	err := s.db.WithContext(ctx).
		Where("ready_for_bay_at IS NOT NULL").
		Where("priority <> ?", models.PriorityBlocked).
		Where("resource_id IS NULL").
		Where("stage = ?", models.StageReadyForBay).
		Find(&movements).Error
	if err != nil {
		return nil, fmt.Errorf("load ready movements: %w", err)
	}

	sort.SliceStable(movements, func(i, j int) bool {
		ri, rj := movements[i].Priority.Rank(), movements[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return movements[i].ReadyForBayAt.Before(*movements[j].ReadyForBayAt)
	})

	activeCount, err := s.dir.ActiveCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count active resources: %w", err)
	}
	if activeCount < 1 {
		// With nothing operable every prediction degrades to serial
		// service; flags still fire correctly.
		activeCount = 1
	}

	now := s.now()
	result := &Result{Entries: make([]Entry, 0, len(movements))}
	for i, movement := range movements {
		wait := time.Duration(i/activeCount*s.avgServiceMinutes) * time.Minute
		entry := Entry{
			Movement:       movement,
			Position:       i,
			PredictedStart: now.Add(wait),
		}
		entry.ReasonCodes, entry.AtRisk = s.flag(movement, entry.PredictedStart, now)
		result.Entries = append(result.Entries, entry)
		if entry.AtRisk {
			result.AtRisk = append(result.AtRisk, entry)
		}
	}

	if err := s.persist(ctx, result); err != nil {
		return nil, err
	}

	telemetry.QueueDepth.Set(float64(len(result.Entries)))
	for _, entry := range result.AtRisk {
		for _, code := range entry.ReasonCodes {
			if code != ReasonStandardOrder {
				telemetry.QueueAtRiskTotal.WithLabelValues(code).Inc()
			}
		}
	}

	s.logger.Info().
		Int("queue_depth", len(result.Entries)).
		Int("at_risk", len(result.AtRisk)).
		Msg("Queue resequenced")

	s.bus.Publish(events.EventQueueResequenced, events.Payload{
		"queue_depth": len(result.Entries),
		"at_risk":     len(result.AtRisk),
	})

	return result, nil
}

// flag computes the reason codes for one queue entry.
func (s *Service) flag(movement models.Movement, predictedStart, now time.Time) ([]string, bool) {
	var codes []string

	if movement.Priority == models.PriorityAppointment && movement.AppointmentEnd != nil {
		tolerated := movement.AppointmentEnd.Add(time.Duration(movement.LateToleranceMinutes) * time.Minute)
		switch {
		case predictedStart.After(tolerated):
			codes = append(codes, ReasonAppointmentMiss)
		case predictedStart.After(*movement.AppointmentEnd):
			codes = append(codes, ReasonAppointmentTolerated)
		}
	}

	if predictedStart.Sub(now) > time.Duration(s.longWaitMinutes)*time.Minute {
		codes = append(codes, ReasonLongWait)
	}

	if len(codes) == 0 {
		return []string{ReasonStandardOrder}, false
	}
	return codes, true
}

func (s *Service) persist(ctx context.Context, result *Result) error {
	if len(result.Entries) == 0 {
		return nil
	}

	records := make([]models.ResequencingRecord, 0, len(result.Entries))
	for _, entry := range result.Entries {
		records = append(records, models.ResequencingRecord{
			ID:             uuid.NewString(),
			MovementID:     entry.Movement.ID,
			Position:       entry.Position,
			PredictedStart: entry.PredictedStart,
			ReasonCodes:    strings.Join(entry.ReasonCodes, ","),
		})
	}

	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("persist resequencing records: %w", err)
	}
	return nil
}

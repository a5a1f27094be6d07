/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package assignment proposes and applies movement-to-resource matches.
// Recommendation is a pure scoring pass over candidate resources; apply
// is the transactional claim.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/brimir_terminal/internal/compat"
	"github.com/friendsincode/brimir_terminal/internal/directory"
	"github.com/friendsincode/brimir_terminal/internal/events"
	"github.com/friendsincode/brimir_terminal/internal/models"
	"github.com/friendsincode/brimir_terminal/internal/telemetry"
)

var (
	// ErrNotFound indicates an unknown movement or resource.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the resource cannot be claimed: taken,
	// inoperable, incompatible, or changeover not ready.
	ErrConflict = errors.New("assignment conflict")
)

// Reason codes attached to recommendations and allocations.
const (
	ReasonBayIdle             = "bay_idle"
	ReasonProductMatch        = "product_match"
	ReasonLastProductMatch    = "last_product_match"
	ReasonChangeoverClearance = "changeover_clearance_required"
	ReasonChangeoverOK        = "changeover_ok"
	ReasonAvailableNow        = "available_now"
)

// Recommendation is one proposed match.
type Recommendation struct {
	MovementID  string
	Resource    *models.Resource
	ReasonCodes []string
	Confidence  float64
	score       int
}

// Service scores candidates and applies assignments.
type Service struct {
	db     *gorm.DB
	dir    *directory.Directory
	oracle *compat.Oracle
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService creates an assignment service.
func NewService(db *gorm.DB, dir *directory.Directory, oracle *compat.Oracle, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		dir:    dir,
		oracle: oracle,
		bus:    bus,
		logger: logger.With().Str("component", "assignment").Logger(),
	}
}

// scoreCandidate evaluates one resource for one movement. The second
// return is false when the resource must never be selected.
func (s *Service) scoreCandidate(ctx context.Context, movement *models.Movement, resource *models.Resource) (int, []string, bool, error) {
	switch resource.Status {
	case models.ResourceMaintenance, models.ResourceBlocked:
		return 0, nil, false, nil
	}
	if !resource.CarriesProduct(movement.ProductID) {
		return 0, nil, false, nil
	}

	score := 0
	var reasons []string

	if resource.Status == models.ResourceIdle {
		score += 100
		reasons = append(reasons, ReasonBayIdle)
	}

	switch {
	case resource.CurrentProductID != nil && *resource.CurrentProductID == movement.ProductID:
		score += 50
		reasons = append(reasons, ReasonProductMatch)
	case resource.LastProductID != nil && *resource.LastProductID == movement.ProductID:
		score += 30
		reasons = append(reasons, ReasonLastProductMatch)
	case resource.CurrentProductID != nil:
		verdict, err := s.oracle.CanFollow(ctx, *resource.CurrentProductID, movement.ProductID)
		if err != nil {
			return 0, nil, false, err
		}
		switch {
		case !verdict.Compatible:
			return 0, nil, false, nil
		case verdict.RequiresClearance:
			score -= 20
			reasons = append(reasons, ReasonChangeoverClearance)
		default:
			score += 10
			reasons = append(reasons, ReasonChangeoverOK)
		}
	}

	// Occupied with no occupant left is immediately available; an
	// actual occupant makes the resource unavailable until it clears.
	if resource.Status == models.ResourceOccupied && resource.MovementID == nil {
		score += 20
		reasons = append(reasons, ReasonAvailableNow)
	}

	return score, reasons, true, nil
}

// confidence maps a raw score onto [0, 1], rounded to two decimals.
// Reporting signal only.
func confidence(score int) float64 {
	c := (float64(score) + 100) / 300
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return math.Round(c*100) / 100
}

// Recommend proposes the best resource for one movement out of the given
// candidates. Ties keep the earliest candidate. Returns nil when the
// movement is ineligible or nothing qualifies.
func (s *Service) Recommend(ctx context.Context, movement *models.Movement, candidates []models.Resource) (*Recommendation, error) {
	if movement.Priority == models.PriorityBlocked || movement.ReadyForBayAt == nil {
		return nil, nil
	}

	var best *Recommendation
	for i := range candidates {
		resource := &candidates[i]
		score, reasons, eligible, err := s.scoreCandidate(ctx, movement, resource)
		if err != nil {
			return nil, fmt.Errorf("score resource %s: %w", resource.ID, err)
		}
		if !eligible {
			continue
		}
		if best == nil || score > best.score {
			best = &Recommendation{
				MovementID:  movement.ID,
				Resource:    resource,
				ReasonCodes: reasons,
				Confidence:  confidence(score),
				score:       score,
			}
		}
	}

	if best == nil {
		telemetry.AssignmentRecommendationsTotal.WithLabelValues("none").Inc()
		return nil, nil
	}
	telemetry.AssignmentRecommendationsTotal.WithLabelValues("proposed").Inc()
	return best, nil
}

// RecommendBatch walks movements in the given order and proposes at most
// one resource each. An accepted proposal removes its resource from the
// pool for the rest of the pass.
func (s *Service) RecommendBatch(ctx context.Context, movements []models.Movement) ([]Recommendation, error) {
	pool, err := s.dir.Candidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load candidate resources: %w", err)
	}

	var out []Recommendation
	for i := range movements {
		rec, err := s.Recommend(ctx, &movements[i], pool)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		out = append(out, *rec)
		for j := range pool {
			if pool[j].ID == rec.Resource.ID {
				pool = append(pool[:j], pool[j+1:]...)
				break
			}
		}
	}
	return out, nil
}

func joinReasons(reasons []string) string {
	return strings.Join(reasons, ",")
}

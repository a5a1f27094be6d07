/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package integrity

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/brimir_terminal/internal/models"
	"github.com/friendsincode/brimir_terminal/internal/telemetry"
)

type FindingType string

const (
	FindingMovementMissingResource FindingType = "movement_missing_resource"
	FindingResourceMissingMovement FindingType = "resource_missing_movement"
	FindingResourceBackrefGap      FindingType = "resource_backref_gap"
	FindingOrphanAllocation        FindingType = "orphan_allocation"
	FindingOrphanCustodyEvent      FindingType = "orphan_custody_event"
)

type Finding struct {
	ID         string
	Type       FindingType
	Severity   string
	Summary    string
	MovementID *string
	RecordID   string
	Repairable bool
	Details    map[string]any
}

type Report struct {
	GeneratedAt time.Time
	Total       int
	ByType      map[FindingType]int
	Findings    []Finding
}

type RepairInput struct {
	Type     FindingType
	RecordID string
}

type RepairResult struct {
	Changed bool
	Message string
	Details map[string]any
}

// Service scans for referential gaps the occupancy reconciler does not
// cover: dangling foreign keys between movements, resources,
// allocations, and custody events.
type Service struct {
	db     *gorm.DB
	logger zerolog.Logger
}

func NewService(db *gorm.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "integrity").Logger(),
	}
}

func (s *Service) Scan(ctx context.Context) (*Report, error) {
	findings := make([]Finding, 0, 32)

	added, err := s.scanMovementsMissingResource(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, added...)

	added, err = s.scanResourcesMissingMovement(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, added...)

	added, err = s.scanResourceBackrefGaps(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, added...)

	added, err = s.scanOrphanAllocations(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, added...)

	added, err = s.scanOrphanCustodyEvents(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, added...)

	byType := make(map[FindingType]int)
	for _, f := range findings {
		byType[f.Type]++
		telemetry.IntegrityFindingsTotal.WithLabelValues(string(f.Type)).Inc()
	}

	report := &Report{
		GeneratedAt: time.Now().UTC(),
		Total:       len(findings),
		ByType:      byType,
		Findings:    findings,
	}

	if report.Total > 0 {
		s.logger.Warn().Int("total_findings", report.Total).Interface("by_type", byType).Msg("integrity scan completed with findings")
	} else {
		s.logger.Info().Msg("integrity scan completed with no findings")
	}

	return report, nil
}

func (s *Service) Repair(ctx context.Context, input RepairInput) (RepairResult, error) {
	switch input.Type {
	case FindingMovementMissingResource:
		return s.repairMovementMissingResource(ctx, input)
	case FindingResourceMissingMovement:
		return s.repairResourceMissingMovement(ctx, input)
	case FindingResourceBackrefGap:
		return s.repairResourceBackrefGap(ctx, input)
	case FindingOrphanAllocation:
		return s.repairOrphanAllocation(ctx, input)
	case FindingOrphanCustodyEvent:
		return s.repairOrphanCustodyEvent(ctx, input)
	default:
		return RepairResult{}, fmt.Errorf("unsupported finding type: %s", input.Type)
	}
}

func (s *Service) scanMovementsMissingResource(ctx context.Context) ([]Finding, error) {
	type row struct {
		ID         string
		ResourceID string
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Table("movements m").
		Select("m.id, m.resource_id").
		Joins("LEFT JOIN resources r ON r.id = m.resource_id").
		Where("m.resource_id IS NOT NULL").
		Where("r.id IS NULL").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(rows))
	for _, r := range rows {
		movementID := r.ID
		findings = append(findings, Finding{
			ID:         findingID(FindingMovementMissingResource, movementID),
			Type:       FindingMovementMissingResource,
			Severity:   "high",
			Summary:    "Movement is assigned to a resource that no longer exists",
			MovementID: &movementID,
			RecordID:   movementID,
			Repairable: true,
			Details: map[string]any{
				"resource_id": r.ResourceID,
			},
		})
	}
	return findings, nil
}

func (s *Service) scanResourcesMissingMovement(ctx context.Context) ([]Finding, error) {
	type row struct {
		ID         string
		Name       string
		MovementID string
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Table("resources r").
		Select("r.id, r.name, r.movement_id").
		Joins("LEFT JOIN movements m ON m.id = r.movement_id").
		Where("r.movement_id IS NOT NULL").
		Where("m.id IS NULL").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(rows))
	for _, r := range rows {
		findings = append(findings, Finding{
			ID:         findingID(FindingResourceMissingMovement, r.ID),
			Type:       FindingResourceMissingMovement,
			Severity:   "high",
			Summary:    "Resource cites an occupying movement that no longer exists",
			RecordID:   r.ID,
			Repairable: true,
			Details: map[string]any{
				"resource_name": r.Name,
				"movement_id":   r.MovementID,
			},
		})
	}
	return findings, nil
}

func (s *Service) scanResourceBackrefGaps(ctx context.Context) ([]Finding, error) {
	type row struct {
		MovementID         string
		ResourceID         string
		ResourceMovementID *string
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Table("movements m").
		Select("m.id AS movement_id, m.resource_id, r.movement_id AS resource_movement_id").
		Joins("JOIN resources r ON r.id = m.resource_id").
		Where("m.resource_id IS NOT NULL").
		Where("r.movement_id IS NULL OR r.movement_id <> m.id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(rows))
	for _, r := range rows {
		movementID := r.MovementID
		findings = append(findings, Finding{
			ID:         findingID(FindingResourceBackrefGap, movementID),
			Type:       FindingResourceBackrefGap,
			Severity:   "medium",
			Summary:    "Movement cites a resource that does not cite it back",
			MovementID: &movementID,
			RecordID:   movementID,
			Repairable: false,
			Details: map[string]any{
				"resource_id":          r.ResourceID,
				"resource_movement_id": r.ResourceMovementID,
			},
		})
	}
	return findings, nil
}

func (s *Service) scanOrphanAllocations(ctx context.Context) ([]Finding, error) {
	type row struct {
		ID              string
		MovementID      string
		ResourceID      string
		MissingMovement bool
		MissingResource bool
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Table("allocations a").
		Select(`
			a.id, a.movement_id, a.resource_id,
			(m.id IS NULL) AS missing_movement,
			(r.id IS NULL) AS missing_resource
		`).
		Joins("LEFT JOIN movements m ON m.id = a.movement_id").
		Joins("LEFT JOIN resources r ON r.id = a.resource_id").
		Where("m.id IS NULL OR r.id IS NULL").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(rows))
	for _, r := range rows {
		movementID := r.MovementID
		findings = append(findings, Finding{
			ID:         findingID(FindingOrphanAllocation, r.ID),
			Type:       FindingOrphanAllocation,
			Severity:   "medium",
			Summary:    "Allocation references missing records",
			MovementID: &movementID,
			RecordID:   r.ID,
			Repairable: true,
			Details: map[string]any{
				"movement_id":      r.MovementID,
				"resource_id":      r.ResourceID,
				"missing_movement": r.MissingMovement,
				"missing_resource": r.MissingResource,
			},
		})
	}
	return findings, nil
}

func (s *Service) scanOrphanCustodyEvents(ctx context.Context) ([]Finding, error) {
	type row struct {
		ID         string
		MovementID string
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Table("custody_events ce").
		Select("ce.id, ce.movement_id").
		Joins("LEFT JOIN movements m ON m.id = ce.movement_id").
		Where("m.id IS NULL").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(rows))
	for _, r := range rows {
		movementID := r.MovementID
		findings = append(findings, Finding{
			ID:         findingID(FindingOrphanCustodyEvent, r.ID),
			Type:       FindingOrphanCustodyEvent,
			Severity:   "low",
			Summary:    "Custody event references a deleted/missing movement",
			MovementID: &movementID,
			RecordID:   r.ID,
			Repairable: true,
			Details: map[string]any{
				"movement_id": r.MovementID,
			},
		})
	}
	return findings, nil
}

func (s *Service) repairMovementMissingResource(ctx context.Context, input RepairInput) (RepairResult, error) {
	var movement models.Movement
	if err := s.db.WithContext(ctx).First(&movement, "id = ?", input.RecordID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return RepairResult{Changed: false, Message: "movement not found (already removed)"}, nil
		}
		return RepairResult{}, err
	}
	if movement.ResourceID == nil {
		return RepairResult{Changed: false, Message: "movement has no resource assignment"}, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Resource{}).Where("id = ?", *movement.ResourceID).Count(&count).Error; err != nil {
		return RepairResult{}, err
	}
	if count > 0 {
		return RepairResult{Changed: false, Message: "resource exists; finding already resolved"}, nil
	}

	if err := s.db.WithContext(ctx).Model(&models.Movement{}).
		Where("id = ?", movement.ID).
		Update("resource_id", nil).Error; err != nil {
		return RepairResult{}, err
	}

	return RepairResult{
		Changed: true,
		Message: "cleared dangling resource assignment",
		Details: map[string]any{"resource_id": *movement.ResourceID},
	}, nil
}

func (s *Service) repairResourceMissingMovement(ctx context.Context, input RepairInput) (RepairResult, error) {
	var resource models.Resource
	if err := s.db.WithContext(ctx).First(&resource, "id = ?", input.RecordID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return RepairResult{Changed: false, Message: "resource not found"}, nil
		}
		return RepairResult{}, err
	}
	if resource.MovementID == nil {
		return RepairResult{Changed: false, Message: "resource has no occupant reference"}, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Movement{}).Where("id = ?", *resource.MovementID).Count(&count).Error; err != nil {
		return RepairResult{}, err
	}
	if count > 0 {
		return RepairResult{Changed: false, Message: "movement exists; finding already resolved"}, nil
	}

	updates := map[string]any{"movement_id": nil}
	if resource.Status == models.ResourceOccupied {
		updates["status"] = models.ResourceIdle
	}
	if err := s.db.WithContext(ctx).Model(&models.Resource{}).
		Where("id = ?", resource.ID).
		Updates(updates).Error; err != nil {
		return RepairResult{}, err
	}

	return RepairResult{
		Changed: true,
		Message: "cleared dangling occupant reference",
		Details: map[string]any{"movement_id": *resource.MovementID},
	}, nil
}

// repairResourceBackrefGap reports without changing anything. Choosing a
// winner between the two references needs the occupancy reconciler,
// which derives truth from the custody stage.
func (s *Service) repairResourceBackrefGap(ctx context.Context, input RepairInput) (RepairResult, error) {
	return RepairResult{
		Changed: false,
		Message: "backref gaps are resolved by the occupancy reconciler",
	}, nil
}

func (s *Service) repairOrphanAllocation(ctx context.Context, input RepairInput) (RepairResult, error) {
	var allocation models.Allocation
	if err := s.db.WithContext(ctx).First(&allocation, "id = ?", input.RecordID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return RepairResult{Changed: false, Message: "allocation already removed"}, nil
		}
		return RepairResult{}, err
	}

	var movementCount int64
	if err := s.db.WithContext(ctx).Model(&models.Movement{}).Where("id = ?", allocation.MovementID).Count(&movementCount).Error; err != nil {
		return RepairResult{}, err
	}
	var resourceCount int64
	if err := s.db.WithContext(ctx).Model(&models.Resource{}).Where("id = ?", allocation.ResourceID).Count(&resourceCount).Error; err != nil {
		return RepairResult{}, err
	}
	if movementCount > 0 && resourceCount > 0 {
		return RepairResult{Changed: false, Message: "allocation is no longer orphaned"}, nil
	}

	if err := s.db.WithContext(ctx).Delete(&allocation).Error; err != nil {
		return RepairResult{}, err
	}
	return RepairResult{Changed: true, Message: "deleted orphan allocation"}, nil
}

func (s *Service) repairOrphanCustodyEvent(ctx context.Context, input RepairInput) (RepairResult, error) {
	var event models.CustodyEvent
	if err := s.db.WithContext(ctx).First(&event, "id = ?", input.RecordID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return RepairResult{Changed: false, Message: "custody event already removed"}, nil
		}
		return RepairResult{}, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Movement{}).Where("id = ?", event.MovementID).Count(&count).Error; err != nil {
		return RepairResult{}, err
	}
	if count > 0 {
		return RepairResult{Changed: false, Message: "parent movement exists; finding already resolved"}, nil
	}

	if err := s.db.WithContext(ctx).Delete(&event).Error; err != nil {
		return RepairResult{}, err
	}
	return RepairResult{Changed: true, Message: "deleted orphan custody event"}, nil
}

func findingID(t FindingType, recordID string) string {
	return fmt.Sprintf("%s|%s", t, recordID)
}

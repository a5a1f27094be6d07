/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/brimir_terminal/internal/events"
	"github.com/friendsincode/brimir_terminal/internal/models"
)

// Service handles audit logging by subscribing to events and storing audit entries.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Start subscribes to every accepted state change and records it as an
// audit entry. Blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("audit service starting")

	custodyTransitioned := s.bus.Subscribe(events.EventCustodyTransitioned)
	gatesEvaluated := s.bus.Subscribe(events.EventGatesEvaluated)
	movementBlocked := s.bus.Subscribe(events.EventMovementBlocked)
	assignmentApplied := s.bus.Subscribe(events.EventAssignmentApplied)
	queueResequenced := s.bus.Subscribe(events.EventQueueResequenced)
	reconcileCorrected := s.bus.Subscribe(events.EventReconcileCorrected)
	resourceAction := s.bus.Subscribe(events.EventResourceAction)

	defer func() {
		s.bus.Unsubscribe(events.EventCustodyTransitioned, custodyTransitioned)
		s.bus.Unsubscribe(events.EventGatesEvaluated, gatesEvaluated)
		s.bus.Unsubscribe(events.EventMovementBlocked, movementBlocked)
		s.bus.Unsubscribe(events.EventAssignmentApplied, assignmentApplied)
		s.bus.Unsubscribe(events.EventQueueResequenced, queueResequenced)
		s.bus.Unsubscribe(events.EventReconcileCorrected, reconcileCorrected)
		s.bus.Unsubscribe(events.EventResourceAction, resourceAction)
	}()

	s.logger.Info().Msg("audit service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit service stopping")
			return

		case payload := <-custodyTransitioned:
			s.logAuditEntry(ctx, models.AuditActionCustodyTransition, payload)

		case payload := <-gatesEvaluated:
			s.logAuditEntry(ctx, models.AuditActionGateEvaluation, payload)

		case payload := <-movementBlocked:
			s.logAuditEntry(ctx, models.AuditActionGateEvaluation, payload)

		case payload := <-assignmentApplied:
			s.logAuditEntry(ctx, models.AuditActionAssignmentApplied, payload)

		case payload := <-queueResequenced:
			s.logAuditEntry(ctx, models.AuditActionQueueResequenced, payload)

		case payload := <-reconcileCorrected:
			s.logAuditEntry(ctx, models.AuditActionReconcilerCorrected, payload)

		case payload := <-resourceAction:
			s.logAuditEntry(ctx, models.AuditActionResourceAction, payload)
		}
	}
}

// logAuditEntry creates an audit log entry from an event payload.
func (s *Service) logAuditEntry(ctx context.Context, action models.AuditAction, payload events.Payload) {
	entry := &models.AuditLog{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Action:    action,
		Details:   make(map[string]any),
		CreatedAt: time.Now(),
	}

	if operatorID, ok := payload["operator_id"].(string); ok && operatorID != "" {
		entry.OperatorID = &operatorID
	}
	if movementID, ok := payload["movement_id"].(string); ok && movementID != "" {
		entry.MovementID = &movementID
	}
	if resourceID, ok := payload["resource_id"].(string); ok && resourceID != "" {
		entry.ResourceID = &resourceID
	}

	for k, v := range payload {
		switch k {
		case "operator_id", "movement_id", "resource_id":
			// Already extracted
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Msg("failed to log audit entry")
	}
}

// Log records an audit entry directly (for non-event-bus actions).
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")

	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	OperatorID *string
	MovementID *string
	ResourceID *string
	Action     *models.AuditAction
	StartTime  *time.Time
	EndTime    *time.Time
	Limit      int
	Offset     int
}

// Query retrieves audit logs with filters.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.OperatorID != nil {
		query = query.Where("operator_id = ?", *filters.OperatorID)
	}
	if filters.MovementID != nil {
		query = query.Where("movement_id = ?", *filters.MovementID)
	}
	if filters.ResourceID != nil {
		query = query.Where("resource_id = ?", *filters.ResourceID)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	// Count total
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Apply pagination
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(100) // Default limit
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	// Order by timestamp descending (most recent first)
	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

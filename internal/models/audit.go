/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction identifies the kind of audited state change.
type AuditAction string

const (
	AuditActionGateEvaluation      AuditAction = "compliance.gates_evaluated"
	AuditActionCustodyTransition   AuditAction = "custody.stage_transition"
	AuditActionAssignmentApplied   AuditAction = "assignment.applied"
	AuditActionQueueResequenced    AuditAction = "queue.resequenced"
	AuditActionReconcilerCorrected AuditAction = "reconciler.corrected"
	AuditActionResourceAction      AuditAction = "resource.operator_action"
)

// AuditLog is an append-only record of one accepted state change.
type AuditLog struct {
	ID         string         `gorm:"type:uuid;primaryKey"`
	Timestamp  time.Time      `gorm:"index:idx_audit_timestamp;not null"`
	OperatorID *string        `gorm:"type:uuid;index:idx_audit_operator"` // NULL for system actions
	Action     AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null"`
	MovementID *string        `gorm:"type:uuid;index:idx_audit_movement"`
	ResourceID *string        `gorm:"type:uuid"`
	Details    map[string]any `gorm:"type:jsonb;serializer:json"`
	IPAddress  string         `gorm:"type:varchar(45)"`
	CreatedAt  time.Time
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}

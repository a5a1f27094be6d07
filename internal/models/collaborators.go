/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Records owned by external collaborators. The core reads them when
// evaluating compliance gates and never mutates them.

// SafetyChecklist is the outcome of a driver/vehicle safety walkdown.
type SafetyChecklist struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	MovementID  string `gorm:"type:uuid;index"`
	Verdict     string `gorm:"type:varchar(16)"` // "passed" or "failed"
	CompletedAt time.Time
	CreatedAt   time.Time
}

// ChecklistPassed is the verdict value a safety gate accepts.
const ChecklistPassed = "passed"

// DocumentRequirement declares a document type mandatory for a link type.
type DocumentRequirement struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	LinkType     string `gorm:"type:varchar(32);index"`
	DocumentType string `gorm:"type:varchar(64)"`
	Mandatory    bool
}

// DocumentRecord is one uploaded document's verification state.
type DocumentRecord struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	MovementID   string `gorm:"type:uuid;index"`
	DocumentType string `gorm:"type:varchar(64)"`
	Verified     bool
	VerifiedAt   *time.Time
	CreatedAt    time.Time
}

// StopWorkOrder halts all loading for a booking while active.
type StopWorkOrder struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	BookingID string `gorm:"type:uuid;index"`
	Active    bool   `gorm:"index"`
	Reason    string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

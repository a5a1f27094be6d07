/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"
)

// PriorityClass is the scheduling tier of a movement.
type PriorityClass string

const (
	PriorityAppointment  PriorityClass = "appointment"
	PriorityReclassified PriorityClass = "reclassified"
	PriorityFCFS         PriorityClass = "fcfs"
	PriorityBlocked      PriorityClass = "blocked"
)

// Rank returns the sort rank of a priority class. Lower sorts first.
// Blocked movements are never queued; they rank after everything else.
func (p PriorityClass) Rank() int {
	switch p {
	case PriorityAppointment:
		return 0
	case PriorityReclassified:
		return 1
	case PriorityFCFS:
		return 2
	default:
		return 3
	}
}

// Valid reports whether p is a recognised priority class.
func (p PriorityClass) Valid() bool {
	switch p {
	case PriorityAppointment, PriorityReclassified, PriorityFCFS, PriorityBlocked:
		return true
	}
	return false
}

// CustodyStage is a movement's position in the terminal pipeline.
type CustodyStage string

const (
	StageGateCheckin        CustodyStage = "gate_checkin"
	StageSafetyApproved     CustodyStage = "safety_approved"
	StageDocumentsVerified  CustodyStage = "documents_verified"
	StageReadyForBay        CustodyStage = "ready_for_bay"
	StageLoadingStarted     CustodyStage = "loading_started"
	StageLoadingCompleted   CustodyStage = "loading_completed"
	StageWeighIn            CustodyStage = "weigh_in"
	StageWeighOut           CustodyStage = "weigh_out"
	StageSealed             CustodyStage = "sealed"
	StageCustodyTransferred CustodyStage = "custody_transferred"
	StageExited             CustodyStage = "exited"
)

// Movement is one truck's pass through the terminal for one booking.
type Movement struct {
	ID                   string        `gorm:"type:uuid;primaryKey"`
	BookingID            string        `gorm:"type:uuid;index"`
	LinkType             string        `gorm:"type:varchar(32);index"` // selects mandatory document types
	ProductID            string        `gorm:"type:uuid;index"`
	Priority             PriorityClass `gorm:"type:varchar(16);index"`
	Stage                CustodyStage  `gorm:"type:varchar(32);index"`
	AppointmentStart     *time.Time
	AppointmentEnd       *time.Time
	LateToleranceMinutes int
	ReadyForBayAt        *time.Time
	ResourceID           *string `gorm:"type:uuid;index"`
	BlockReason          string  `gorm:"type:text"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Loading reports whether the movement physically occupies its resource:
// loading has started and custody has not yet left the terminal side.
func (m Movement) Loading() bool {
	switch m.Stage {
	case StageLoadingStarted, StageLoadingCompleted, StageWeighOut, StageSealed, StageCustodyTransferred:
		return true
	}
	return false
}

// ResourceKind distinguishes bays from loading arms.
type ResourceKind string

const (
	ResourceBay ResourceKind = "bay"
	ResourceArm ResourceKind = "arm"
)

// ResourceStatus is the operability status of a bay or arm.
type ResourceStatus string

const (
	ResourceIdle        ResourceStatus = "idle"
	ResourceOccupied    ResourceStatus = "occupied"
	ResourceMaintenance ResourceStatus = "maintenance"
	ResourceBlocked     ResourceStatus = "blocked"
)

// ChangeoverState is the product-changeover readiness of a resource.
type ChangeoverState string

const (
	ChangeoverNeedsClearance ChangeoverState = "needs_clearance"
	ChangeoverReady          ChangeoverState = "ready_for_changeover"
	ChangeoverNotApplicable  ChangeoverState = "not_applicable"
)

// Resource is a loadable physical slot (bay or loading arm).
type Resource struct {
	ID               string          `gorm:"type:uuid;primaryKey"`
	Name             string          `gorm:"uniqueIndex"`
	Kind             ResourceKind    `gorm:"type:varchar(16)"`
	Status           ResourceStatus  `gorm:"type:varchar(16);index"`
	CurrentProductID *string         `gorm:"type:uuid"`
	LastProductID    *string         `gorm:"type:uuid"`
	Changeover       ChangeoverState `gorm:"type:varchar(32)"`
	LastChangeoverAt *time.Time
	MovementID       *string           `gorm:"type:uuid;index"` // owning movement, set iff Occupied
	Products         []ResourceProduct `gorm:"foreignKey:ResourceID"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CarriesProduct reports whether the resource is configured for productID.
func (r Resource) CarriesProduct(productID string) bool {
	for _, p := range r.Products {
		if p.ProductID == productID {
			return true
		}
	}
	return false
}

// ResourceProduct join table between resources and the products they may carry.
type ResourceProduct struct {
	ResourceID string `gorm:"type:uuid;primaryKey"`
	ProductID  string `gorm:"type:uuid;primaryKey"`
}

// CompatibilityRule is a directed product pair with changeover constraints.
// Immutable reference data.
type CompatibilityRule struct {
	ID                    string `gorm:"type:uuid;primaryKey"`
	FromProductID         string `gorm:"type:uuid;uniqueIndex:idx_rule_pair"`
	ToProductID           string `gorm:"type:uuid;uniqueIndex:idx_rule_pair"`
	Compatible            bool
	RequiresFullClearance bool
	MinClearanceMinutes   int
	Notes                 string `gorm:"type:text"`
	CreatedAt             time.Time
}

// GateType enumerates the compliance gates.
type GateType string

const (
	GateSafety    GateType = "safety"
	GateDocuments GateType = "documents"
	GateStopWork  GateType = "stop_work"
)

// GateStatus is a single gate verdict.
type GateStatus string

const (
	GatePass GateStatus = "pass"
	GateFail GateStatus = "fail"
)

// ComplianceGateResult is one evaluation of one gate for one movement.
// Append-only; rows from one evaluation run share a RunID.
type ComplianceGateResult struct {
	ID          string     `gorm:"type:uuid;primaryKey"`
	RunID       string     `gorm:"type:uuid;index"`
	MovementID  string     `gorm:"type:uuid;index"`
	Gate        GateType   `gorm:"type:varchar(16)"`
	Status      GateStatus `gorm:"type:varchar(8)"`
	Reason      string     `gorm:"type:text"`
	EvaluatedAt time.Time
	CreatedAt   time.Time
}

// CustodyEvent records one accepted stage transition. Append-only.
type CustodyEvent struct {
	ID         string       `gorm:"type:uuid;primaryKey"`
	MovementID string       `gorm:"type:uuid;index"`
	FromStage  CustodyStage `gorm:"type:varchar(32)"`
	ToStage    CustodyStage `gorm:"type:varchar(32)"`
	OccurredAt time.Time    `gorm:"index"`
	CreatedAt  time.Time
}

// Allocation records one applied resource assignment.
type Allocation struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	MovementID  string `gorm:"type:uuid;index"`
	ResourceID  string `gorm:"type:uuid;index"`
	ReasonCodes string `gorm:"type:varchar(255)"` // comma separated
	Confidence  float64
	CreatedAt   time.Time
}

// ResequencingRecord captures one movement's position after a queue pass.
// Append-only; one row per movement per pass.
type ResequencingRecord struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	MovementID     string `gorm:"type:uuid;index"`
	Position       int
	PredictedStart time.Time
	ReasonCodes    string `gorm:"type:varchar(255)"` // comma separated
	CreatedAt      time.Time
}

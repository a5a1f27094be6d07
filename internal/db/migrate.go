/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"github.com/friendsincode/brimir_terminal/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	return database.AutoMigrate(
		// Core allocation and custody models
		&models.Movement{},
		&models.Resource{},
		&models.ResourceProduct{},
		&models.CompatibilityRule{},
		&models.ComplianceGateResult{},
		&models.CustodyEvent{},
		&models.Allocation{},
		&models.ResequencingRecord{},

		// External collaborator records (read-only to the core)
		&models.SafetyChecklist{},
		&models.DocumentRequirement{},
		&models.DocumentRecord{},
		&models.StopWorkOrder{},

		// Audit trail
		&models.AuditLog{},
	)
}

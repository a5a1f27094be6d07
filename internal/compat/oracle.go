/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package compat answers whether one product may follow another on the
// same resource. Rules are directed pairs; the absence of a rule means
// the changeover is forbidden.
package compat

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/brimir_terminal/internal/cache"
	"github.com/friendsincode/brimir_terminal/internal/models"
)

// Verdict is the answer for one ordered product pair.
type Verdict struct {
	Compatible          bool
	RequiresClearance   bool
	MinClearanceMinutes int
	Notes               string
}

// Oracle looks up changeover compatibility between products.
type Oracle struct {
	db     *gorm.DB
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewOracle creates a compatibility oracle.
func NewOracle(db *gorm.DB, logger zerolog.Logger) *Oracle {
	return &Oracle{
		db:     db,
		logger: logger.With().Str("component", "compat").Logger(),
	}
}

// SetCache installs a rules cache.
func (o *Oracle) SetCache(c *cache.Cache) {
	o.cache = c
}

// CanFollow reports whether toProduct may be loaded on a resource that
// currently or last held fromProduct.
//
// A missing rule is not an error: it is a deterministic incompatible
// verdict. Only a genuine lookup failure returns an error.
func (o *Oracle) CanFollow(ctx context.Context, fromProduct, toProduct string) (Verdict, error) {
	// Same product never needs a changeover.
	if fromProduct == toProduct {
		return Verdict{Compatible: true}, nil
	}

	if o.cache != nil {
		if rule, ok := o.cache.GetRule(ctx, fromProduct, toProduct); ok {
			return verdictFromRule(rule), nil
		}
	}

	var rule models.CompatibilityRule
	err := o.db.WithContext(ctx).
		Where("from_product_id = ?", fromProduct).
		Where("to_product_id = ?", toProduct).
		First(&rule).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Fail closed: no rule means no permission.
		return Verdict{Compatible: false, Notes: "no compatibility rule defined"}, nil
	}
	if err != nil {
		return Verdict{}, fmt.Errorf("lookup compatibility rule: %w", err)
	}

	if o.cache != nil {
		o.cache.SetRule(ctx, &rule)
	}

	return verdictFromRule(&rule), nil
}

func verdictFromRule(rule *models.CompatibilityRule) Verdict {
	return Verdict{
		Compatible:          rule.Compatible,
		RequiresClearance:   rule.RequiresFullClearance,
		MinClearanceMinutes: rule.MinClearanceMinutes,
		Notes:               rule.Notes,
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/friendsincode/brimir_terminal/internal/models"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import reference data",
	Long:  "Import compatibility rules and other reference data into the terminal database",
}

var importRulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Import compatibility rules from a YAML file",
	Long:  "Load directed product compatibility rules. Existing pairs are skipped unless --replace is given.",
	RunE:  runImportRules,
}

var (
	rulesFilePath string
	rulesReplace  bool
	rulesDryRun   bool
)

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importRulesCmd)

	importRulesCmd.Flags().StringVar(&rulesFilePath, "file", "", "Path to rules YAML file (required)")
	importRulesCmd.Flags().BoolVar(&rulesReplace, "replace", false, "Overwrite rules for pairs that already exist")
	importRulesCmd.Flags().BoolVar(&rulesDryRun, "dry-run", false, "Parse and validate without writing")
	importRulesCmd.MarkFlagRequired("file")
}

type ruleFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	FromProduct           string `yaml:"from_product"`
	ToProduct             string `yaml:"to_product"`
	Compatible            bool   `yaml:"compatible"`
	RequiresFullClearance bool   `yaml:"requires_full_clearance"`
	MinClearanceMinutes   int    `yaml:"min_clearance_minutes"`
	Notes                 string `yaml:"notes"`
}

func runImportRules(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	raw, err := os.ReadFile(rulesFilePath)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse rules file: %w", err)
	}
	if len(file.Rules) == 0 {
		return fmt.Errorf("no rules found in %s", rulesFilePath)
	}

	for i, entry := range file.Rules {
		if entry.FromProduct == "" || entry.ToProduct == "" {
			return fmt.Errorf("rule %d: from_product and to_product are required", i)
		}
		if entry.MinClearanceMinutes < 0 {
			return fmt.Errorf("rule %d: min_clearance_minutes must not be negative", i)
		}
	}

	if rulesDryRun {
		logger.Info().Int("rules", len(file.Rules)).Msg("dry run: rules file is valid")
		return nil
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	created, updated, skipped := 0, 0, 0
	for _, entry := range file.Rules {
		var existing models.CompatibilityRule
		err := database.
			Where("from_product_id = ? AND to_product_id = ?", entry.FromProduct, entry.ToProduct).
			First(&existing).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rule := models.CompatibilityRule{
				ID:                    uuid.NewString(),
				FromProductID:         entry.FromProduct,
				ToProductID:           entry.ToProduct,
				Compatible:            entry.Compatible,
				RequiresFullClearance: entry.RequiresFullClearance,
				MinClearanceMinutes:   entry.MinClearanceMinutes,
				Notes:                 entry.Notes,
			}
			if err := database.Create(&rule).Error; err != nil {
				return fmt.Errorf("create rule %s -> %s: %w", entry.FromProduct, entry.ToProduct, err)
			}
			created++

		case err != nil:
			return fmt.Errorf("lookup rule %s -> %s: %w", entry.FromProduct, entry.ToProduct, err)

		case rulesReplace:
			existing.Compatible = entry.Compatible
			existing.RequiresFullClearance = entry.RequiresFullClearance
			existing.MinClearanceMinutes = entry.MinClearanceMinutes
			existing.Notes = entry.Notes
			if err := database.Save(&existing).Error; err != nil {
				return fmt.Errorf("update rule %s -> %s: %w", entry.FromProduct, entry.ToProduct, err)
			}
			updated++

		default:
			skipped++
		}
	}

	logger.Info().
		Int("created", created).
		Int("updated", updated).
		Int("skipped", skipped).
		Msg("compatibility rules imported")
	return nil
}

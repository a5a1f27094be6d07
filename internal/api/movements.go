/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/friendsincode/brimir_terminal/internal/models"
)

type transitionRequest struct {
	TargetStage string `json:"target_stage"`
}

func (a *API) handleMovementGet(w http.ResponseWriter, r *http.Request) {
	movementID := chi.URLParam(r, "movementID")

	var movement models.Movement
	err := a.db.WithContext(r.Context()).First(&movement, "id = ?", movementID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Msg("load movement failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, movement)
}

// handleGatesEvaluate runs all three compliance gates for a movement.
func (a *API) handleGatesEvaluate(w http.ResponseWriter, r *http.Request) {
	movementID := chi.URLParam(r, "movementID")

	evaluation, err := a.complianceSvc.Evaluate(r.Context(), movementID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":       evaluation.RunID,
		"movement_id":  evaluation.MovementID,
		"overall_pass": evaluation.OverallPass,
		"gate_results": evaluation.Results,
	})
}

func (a *API) handleGateHistory(w http.ResponseWriter, r *http.Request) {
	movementID := chi.URLParam(r, "movementID")

	results, err := a.complianceSvc.History(r.Context(), movementID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleCustodyTransition moves a movement along the custody graph.
func (a *API) handleCustodyTransition(w http.ResponseWriter, r *http.Request) {
	movementID := chi.URLParam(r, "movementID")

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.TargetStage == "" {
		writeError(w, http.StatusBadRequest, "target_stage_required")
		return
	}

	movement, err := a.custodySvc.Transition(r.Context(), movementID, models.CustodyStage(req.TargetStage))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, movement)
}

func (a *API) handleCustodyHistory(w http.ResponseWriter, r *http.Request) {
	movementID := chi.URLParam(r, "movementID")

	history, err := a.custodySvc.History(r.Context(), movementID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

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

	"github.com/friendsincode/brimir_terminal/internal/assignment"
	"github.com/friendsincode/brimir_terminal/internal/models"
)

type applyAssignmentRequest struct {
	ResourceID string `json:"resource_id"`
}

type recommendBatchRequest struct {
	MovementIDs []string `json:"movement_ids"`
}

type recommendationResponse struct {
	MovementID  string   `json:"movement_id"`
	ResourceID  string   `json:"resource_id"`
	Resource    string   `json:"resource_name"`
	ReasonCodes []string `json:"reason_codes"`
	Confidence  float64  `json:"confidence"`
}

func toRecommendationResponse(rec *assignment.Recommendation) recommendationResponse {
	return recommendationResponse{
		MovementID:  rec.MovementID,
		ResourceID:  rec.Resource.ID,
		Resource:    rec.Resource.Name,
		ReasonCodes: rec.ReasonCodes,
		Confidence:  rec.Confidence,
	}
}

// handleAssignmentRecommend proposes the best resource for one movement.
func (a *API) handleAssignmentRecommend(w http.ResponseWriter, r *http.Request) {
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

	candidates, err := a.dir.Candidates(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	rec, err := a.assignmentSvc.Recommend(r.Context(), &movement, candidates)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, map[string]any{"recommendation": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recommendation": toRecommendationResponse(rec)})
}

// handleAssignmentRecommendBatch proposes resources for an ordered set
// of movements, at most one resource each.
func (a *API) handleAssignmentRecommendBatch(w http.ResponseWriter, r *http.Request) {
	var req recommendBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if len(req.MovementIDs) == 0 {
		writeError(w, http.StatusBadRequest, "movement_ids_required")
		return
	}

	var movements []models.Movement
	if err := a.db.WithContext(r.Context()).Find(&movements, "id IN ?", req.MovementIDs).Error; err != nil {
		a.logger.Error().Err(err).Msg("load movements failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	// Preserve the caller's ordering; it is the scorer's tie-break.
	byID := make(map[string]models.Movement, len(movements))
	for _, movement := range movements {
		byID[movement.ID] = movement
	}
	ordered := make([]models.Movement, 0, len(movements))
	for _, id := range req.MovementIDs {
		if movement, ok := byID[id]; ok {
			ordered = append(ordered, movement)
		}
	}

	recs, err := a.assignmentSvc.RecommendBatch(r.Context(), ordered)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	out := make([]recommendationResponse, 0, len(recs))
	for i := range recs {
		out = append(out, toRecommendationResponse(&recs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"recommendations": out})
}

// handleAssignmentApply claims a resource for a movement.
func (a *API) handleAssignmentApply(w http.ResponseWriter, r *http.Request) {
	movementID := chi.URLParam(r, "movementID")

	var req applyAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.ResourceID == "" {
		writeError(w, http.StatusBadRequest, "resource_id_required")
		return
	}

	allocation, err := a.assignmentSvc.Apply(r.Context(), movementID, req.ResourceID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, allocation)
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"time"

	"github.com/friendsincode/brimir_terminal/internal/models"
	"github.com/friendsincode/brimir_terminal/internal/sequencer"
)

type queueEntryResponse struct {
	MovementID     string    `json:"movement_id"`
	Priority       string    `json:"priority"`
	Position       int       `json:"position"`
	PredictedStart time.Time `json:"predicted_start"`
	ReasonCodes    []string  `json:"reason_codes"`
	AtRisk         bool      `json:"at_risk"`
}

func toQueueEntryResponse(entry sequencer.Entry) queueEntryResponse {
	return queueEntryResponse{
		MovementID:     entry.Movement.ID,
		Priority:       string(entry.Movement.Priority),
		Position:       entry.Position,
		PredictedStart: entry.PredictedStart,
		ReasonCodes:    entry.ReasonCodes,
		AtRisk:         entry.AtRisk,
	}
}

// handleQueueResequence recomputes the service queue and returns the
// new order plus at-risk movements.
func (a *API) handleQueueResequence(w http.ResponseWriter, r *http.Request) {
	result, err := a.sequencerSvc.Resequence(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	entries := make([]queueEntryResponse, 0, len(result.Entries))
	for _, entry := range result.Entries {
		entries = append(entries, toQueueEntryResponse(entry))
	}
	atRisk := make([]queueEntryResponse, 0, len(result.AtRisk))
	for _, entry := range result.AtRisk {
		atRisk = append(atRisk, toQueueEntryResponse(entry))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"resequencing":      entries,
		"at_risk_movements": atRisk,
	})
}

// handleQueueList returns persisted resequencing records, newest pass
// first. Filter with ?movement_id=.
func (a *API) handleQueueList(w http.ResponseWriter, r *http.Request) {
	query := a.db.WithContext(r.Context()).Model(&models.ResequencingRecord{})
	if movementID := r.URL.Query().Get("movement_id"); movementID != "" {
		query = query.Where("movement_id = ?", movementID)
	}

	var records []models.ResequencingRecord
	if err := query.Order("created_at DESC, position ASC").Limit(200).Find(&records).Error; err != nil {
		a.logger.Error().Err(err).Msg("list resequencing records failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

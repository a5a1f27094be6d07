/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"

	"github.com/friendsincode/brimir_terminal/internal/integrity"
)

type repairRequest struct {
	Type     string `json:"type"`
	RecordID string `json:"record_id"`
}

// handleIntegrityScan runs a referential integrity sweep and returns
// the findings.
func (a *API) handleIntegrityScan(w http.ResponseWriter, r *http.Request) {
	report, err := a.integritySvc.Scan(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("integrity scan failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleIntegrityRepair(w http.ResponseWriter, r *http.Request) {
	var req repairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Type == "" || req.RecordID == "" {
		writeError(w, http.StatusBadRequest, "type_and_record_id_required")
		return
	}

	result, err := a.integritySvc.Repair(r.Context(), integrity.RepairInput{
		Type:     integrity.FindingType(req.Type),
		RecordID: req.RecordID,
	})
	if err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "repair_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/brimir_terminal/internal/directory"
)

type resourceActionRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

func (a *API) handleResourcesList(w http.ResponseWriter, r *http.Request) {
	resources, err := a.dir.List(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resources)
}

func (a *API) handleResourceGet(w http.ResponseWriter, r *http.Request) {
	resource, err := a.dir.Get(r.Context(), chi.URLParam(r, "resourceID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resource)
}

// handleResourceAction applies an operator action: maintenance, block,
// or release.
func (a *API) handleResourceAction(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resourceID")

	var req resourceActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	var kind directory.ActionKind
	switch directory.ActionKind(req.Action) {
	case directory.ActionSetMaintenance, directory.ActionSetBlocked, directory.ActionRelease:
		kind = directory.ActionKind(req.Action)
	default:
		writeError(w, http.StatusBadRequest, "unknown_action")
		return
	}
	if kind != directory.ActionRelease && req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason_required")
		return
	}

	resource, err := a.dir.Apply(r.Context(), a.bus, resourceID, directory.OperatorAction{
		Kind:       kind,
		OperatorID: operatorID(r),
		Reason:     req.Reason,
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resource)
}

// handleReconcile runs one on-demand reconciliation sweep.
func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	corrections := a.reconcilerSvc.ReconcileAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"corrections": corrections})
}

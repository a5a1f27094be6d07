/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/friendsincode/brimir_terminal/internal/audit"
	"github.com/friendsincode/brimir_terminal/internal/models"
)

// handleAuditQuery lists audit entries with optional filters:
// operator_id, movement_id, resource_id, action, start, end (RFC3339),
// limit, offset.
func (a *API) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	filters := audit.QueryFilters{}
	q := r.URL.Query()

	if v := q.Get("operator_id"); v != "" {
		filters.OperatorID = &v
	}
	if v := q.Get("movement_id"); v != "" {
		filters.MovementID = &v
	}
	if v := q.Get("resource_id"); v != "" {
		filters.ResourceID = &v
	}
	if v := q.Get("action"); v != "" {
		action := models.AuditAction(v)
		filters.Action = &action
	}
	if v := q.Get("start"); v != "" {
		start, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time")
			return
		}
		filters.StartTime = &start
	}
	if v := q.Get("end"); v != "" {
		end, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_time")
			return
		}
		filters.EndTime = &end
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		filters.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "invalid_offset")
			return
		}
		filters.Offset = offset
	}

	logs, total, err := a.auditSvc.Query(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("audit query failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  logs,
		"total": total,
	})
}

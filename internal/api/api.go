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
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/brimir_terminal/internal/assignment"
	"github.com/friendsincode/brimir_terminal/internal/audit"
	"github.com/friendsincode/brimir_terminal/internal/auth"
	"github.com/friendsincode/brimir_terminal/internal/compliance"
	"github.com/friendsincode/brimir_terminal/internal/custody"
	"github.com/friendsincode/brimir_terminal/internal/directory"
	"github.com/friendsincode/brimir_terminal/internal/events"
	"github.com/friendsincode/brimir_terminal/internal/integrity"
	"github.com/friendsincode/brimir_terminal/internal/reconciler"
	"github.com/friendsincode/brimir_terminal/internal/sequencer"
)

// API exposes HTTP handlers.
type API struct {
	db            *gorm.DB
	jwtSecret     []byte
	complianceSvc *compliance.Service
	custodySvc    *custody.Service
	assignmentSvc *assignment.Service
	sequencerSvc  *sequencer.Service
	reconcilerSvc *reconciler.Service
	integritySvc  *integrity.Service
	dir           *directory.Directory
	auditSvc      *audit.Service
	bus           *events.Bus
	logger        zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, jwtSecret []byte, complianceSvc *compliance.Service, custodySvc *custody.Service, assignmentSvc *assignment.Service, sequencerSvc *sequencer.Service, reconcilerSvc *reconciler.Service, integritySvc *integrity.Service, dir *directory.Directory, auditSvc *audit.Service, bus *events.Bus, logger zerolog.Logger) *API {
	return &API{
		db:            db,
		jwtSecret:     jwtSecret,
		complianceSvc: complianceSvc,
		custodySvc:    custodySvc,
		assignmentSvc: assignmentSvc,
		sequencerSvc:  sequencerSvc,
		reconcilerSvc: reconcilerSvc,
		integritySvc:  integritySvc,
		dir:           dir,
		auditSvc:      auditSvc,
		bus:           bus,
		logger:        logger,
	}
}

// Routes mounts all API endpoints on r.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Route("/movements", func(r chi.Router) {
				r.Route("/{movementID}", func(r chi.Router) {
					r.Get("/", a.handleMovementGet)
					r.Post("/gates/evaluate", a.handleGatesEvaluate)
					r.Get("/gates", a.handleGateHistory)
					r.Post("/custody/transition", a.handleCustodyTransition)
					r.Get("/custody/events", a.handleCustodyHistory)
					r.Post("/assignment/apply", a.handleAssignmentApply)
					r.Get("/assignment/recommend", a.handleAssignmentRecommend)
				})
			})

			pr.Route("/resources", func(r chi.Router) {
				r.Get("/", a.handleResourcesList)
				r.Route("/{resourceID}", func(r chi.Router) {
					r.Get("/", a.handleResourceGet)
					r.Post("/actions", a.handleResourceAction)
				})
			})

			pr.Route("/queue", func(r chi.Router) {
				r.Post("/resequence", a.handleQueueResequence)
				r.Get("/", a.handleQueueList)
			})

			pr.Post("/assignment/recommend-batch", a.handleAssignmentRecommendBatch)
			pr.Post("/reconcile", a.handleReconcile)
			pr.Post("/integrity/scan", a.handleIntegrityScan)
			pr.Post("/integrity/repair", a.handleIntegrityRepair)
			pr.Get("/audit", a.handleAuditQuery)
		})
	})
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.Middleware(a.jwtSecret)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeErrorDetail(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{"error": code, "detail": detail})
}

// writeServiceError maps service errors onto the HTTP taxonomy:
// validation 400, not found 404, conflict 409, illegal transition 422,
// everything else 500 without leaking collaborator internals.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, custody.ErrValidation):
		writeErrorDetail(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, compliance.ErrNotFound),
		errors.Is(err, custody.ErrNotFound),
		errors.Is(err, assignment.ErrNotFound),
		errors.Is(err, directory.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, custody.ErrInvalidTransition):
		writeErrorDetail(w, http.StatusUnprocessableEntity, "invalid_transition", err.Error())
	case errors.Is(err, assignment.ErrConflict), errors.Is(err, directory.ErrConflict):
		writeErrorDetail(w, http.StatusConflict, "conflict", err.Error())
	default:
		a.logger.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

// operatorID returns the authenticated operator for audit payloads.
func operatorID(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims != nil {
		return claims.OperatorID
	}
	return ""
}

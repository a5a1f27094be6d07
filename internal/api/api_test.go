/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/brimir_terminal/internal/assignment"
	"github.com/friendsincode/brimir_terminal/internal/audit"
	"github.com/friendsincode/brimir_terminal/internal/auth"
	"github.com/friendsincode/brimir_terminal/internal/compat"
	"github.com/friendsincode/brimir_terminal/internal/compliance"
	"github.com/friendsincode/brimir_terminal/internal/custody"
	"github.com/friendsincode/brimir_terminal/internal/directory"
	"github.com/friendsincode/brimir_terminal/internal/events"
	"github.com/friendsincode/brimir_terminal/internal/integrity"
	"github.com/friendsincode/brimir_terminal/internal/models"
	"github.com/friendsincode/brimir_terminal/internal/reconciler"
	"github.com/friendsincode/brimir_terminal/internal/sequencer"
)

var testJWTSecret = []byte("api-test-secret")

type apiTestEnv struct {
	router *chi.Mux
	db     *gorm.DB
	token  string
}

func newAPITestEnv(t *testing.T) *apiTestEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	err = db.AutoMigrate(
		&models.Movement{},
		&models.Resource{},
		&models.ResourceProduct{},
		&models.CompatibilityRule{},
		&models.CustodyEvent{},
		&models.ComplianceGateResult{},
		&models.SafetyChecklist{},
		&models.DocumentRequirement{},
		&models.DocumentRecord{},
		&models.StopWorkOrder{},
		&models.Allocation{},
		&models.ResequencingRecord{},
		&models.AuditLog{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := zerolog.Nop()
	bus := events.NewBus()
	dir := directory.New(db, logger)
	oracle := compat.NewOracle(db, logger)
	custodySvc := custody.NewService(db, bus, logger)
	complianceSvc := compliance.NewService(db, dir, custodySvc, bus, logger)
	assignmentSvc := assignment.NewService(db, dir, oracle, bus, logger)
	sequencerSvc := sequencer.NewService(db, dir, bus, 45, 120, logger)
	reconcilerSvc := reconciler.NewService(db, dir, bus, time.Minute, logger)
	integritySvc := integrity.NewService(db, logger)
	auditSvc := audit.NewService(db, bus, logger)

	a := New(db, testJWTSecret, complianceSvc, custodySvc, assignmentSvc, sequencerSvc, reconcilerSvc, integritySvc, dir, auditSvc, bus, logger)

	router := chi.NewRouter()
	a.Routes(router)

	token, err := auth.Issue(testJWTSecret, auth.Claims{OperatorID: uuid.NewString()}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	return &apiTestEnv{router: router, db: db, token: token}
}

func (e *apiTestEnv) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (e *apiTestEnv) seedMovement(t *testing.T, stage models.CustodyStage) *models.Movement {
	t.Helper()
	movement := &models.Movement{
		ID:        uuid.NewString(),
		BookingID: uuid.NewString(),
		LinkType:  "truck_loading",
		ProductID: uuid.NewString(),
		Priority:  models.PriorityFCFS,
		Stage:     stage,
	}
	if err := e.db.Create(movement).Error; err != nil {
		t.Fatalf("seed movement: %v", err)
	}
	return movement
}

func (e *apiTestEnv) seedBay(t *testing.T, name string, products ...string) *models.Resource {
	t.Helper()
	resource := &models.Resource{
		ID:         uuid.NewString(),
		Name:       name,
		Kind:       models.ResourceBay,
		Status:     models.ResourceIdle,
		Changeover: models.ChangeoverNotApplicable,
	}
	if err := e.db.Create(resource).Error; err != nil {
		t.Fatalf("seed resource: %v", err)
	}
	for _, productID := range products {
		join := models.ResourceProduct{ResourceID: resource.ID, ProductID: productID}
		if err := e.db.Create(&join).Error; err != nil {
			t.Fatalf("seed resource product: %v", err)
		}
	}
	return resource
}

func TestHealthIsPublic(t *testing.T) {
	env := newAPITestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newAPITestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/resources/", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/resources/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", rec.Code)
	}
}

func TestCustodyTransitionRoundTrip(t *testing.T) {
	env := newAPITestEnv(t)
	movement := env.seedMovement(t, models.StageGateCheckin)

	rec := env.request(t, http.MethodPost, "/api/v1/movements/"+movement.ID+"/custody/transition",
		map[string]string{"target_stage": string(models.StageSafetyApproved)})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var updated models.Movement
	decodeBody(t, rec, &updated)
	if updated.Stage != models.StageSafetyApproved {
		t.Fatalf("expected stage %s, got %s", models.StageSafetyApproved, updated.Stage)
	}

	rec = env.request(t, http.MethodGet, "/api/v1/movements/"+movement.ID+"/custody/events", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var history []models.CustodyEvent
	decodeBody(t, rec, &history)
	if len(history) != 1 {
		t.Fatalf("expected one custody event, got %d", len(history))
	}
	if history[0].FromStage != models.StageGateCheckin || history[0].ToStage != models.StageSafetyApproved {
		t.Fatalf("unexpected custody event %s -> %s", history[0].FromStage, history[0].ToStage)
	}
}

func TestCustodyTransitionErrorMapping(t *testing.T) {
	env := newAPITestEnv(t)
	movement := env.seedMovement(t, models.StageGateCheckin)

	tests := []struct {
		name       string
		movementID string
		body       map[string]string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing target stage",
			movementID: movement.ID,
			body:       map[string]string{},
			wantStatus: http.StatusBadRequest,
			wantCode:   "target_stage_required",
		},
		{
			name:       "unknown stage",
			movementID: movement.ID,
			body:       map[string]string{"target_stage": "teleported"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_failed",
		},
		{
			name:       "unknown movement",
			movementID: uuid.NewString(),
			body:       map[string]string{"target_stage": string(models.StageSafetyApproved)},
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name:       "illegal edge",
			movementID: movement.ID,
			body:       map[string]string{"target_stage": string(models.StageSealed)},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "invalid_transition",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.request(t, http.MethodPost, "/api/v1/movements/"+tt.movementID+"/custody/transition", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			var body map[string]string
			decodeBody(t, rec, &body)
			if body["error"] != tt.wantCode {
				t.Fatalf("expected error code %q, got %q", tt.wantCode, body["error"])
			}
		})
	}
}

func TestGatesEvaluateEndpoint(t *testing.T) {
	env := newAPITestEnv(t)
	movement := env.seedMovement(t, models.StageDocumentsVerified)

	err := env.db.Create(&models.SafetyChecklist{
		ID:          uuid.NewString(),
		MovementID:  movement.ID,
		Verdict:     models.ChecklistPassed,
		CompletedAt: time.Now(),
	}).Error
	if err != nil {
		t.Fatalf("seed checklist: %v", err)
	}

	rec := env.request(t, http.MethodPost, "/api/v1/movements/"+movement.ID+"/gates/evaluate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var result struct {
		RunID       string                        `json:"run_id"`
		MovementID  string                        `json:"movement_id"`
		OverallPass bool                          `json:"overall_pass"`
		GateResults []models.ComplianceGateResult `json:"gate_results"`
	}
	decodeBody(t, rec, &result)
	if !result.OverallPass {
		t.Fatalf("expected overall pass, got fail: %+v", result.GateResults)
	}
	if len(result.GateResults) != 3 {
		t.Fatalf("expected three gate results, got %d", len(result.GateResults))
	}
	if result.RunID == "" || result.MovementID != movement.ID {
		t.Fatalf("unexpected run metadata: %+v", result)
	}

	rec = env.request(t, http.MethodGet, "/api/v1/movements/"+movement.ID+"/gates", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var history []models.ComplianceGateResult
	decodeBody(t, rec, &history)
	if len(history) != 3 {
		t.Fatalf("expected three historical results, got %d", len(history))
	}
}

func TestAssignmentRecommendAndApply(t *testing.T) {
	env := newAPITestEnv(t)

	productX := uuid.NewString()
	ready := time.Now().Add(-time.Minute)
	movement := env.seedMovement(t, models.StageReadyForBay)
	err := env.db.Model(&models.Movement{}).Where("id = ?", movement.ID).
		Updates(map[string]any{"product_id": productX, "ready_for_bay_at": ready}).Error
	if err != nil {
		t.Fatalf("update movement: %v", err)
	}
	bay := env.seedBay(t, "bay-1", productX)

	rec := env.request(t, http.MethodGet, "/api/v1/movements/"+movement.ID+"/assignment/recommend", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var recommendBody struct {
		Recommendation *recommendationResponse `json:"recommendation"`
	}
	decodeBody(t, rec, &recommendBody)
	if recommendBody.Recommendation == nil {
		t.Fatal("expected a recommendation")
	}
	if recommendBody.Recommendation.ResourceID != bay.ID {
		t.Fatalf("expected bay %s, got %s", bay.ID, recommendBody.Recommendation.ResourceID)
	}

	rec = env.request(t, http.MethodPost, "/api/v1/movements/"+movement.ID+"/assignment/apply",
		map[string]string{"resource_id": bay.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var claimed models.Resource
	if err := env.db.First(&claimed, "id = ?", bay.ID).Error; err != nil {
		t.Fatalf("load bay: %v", err)
	}
	if claimed.Status != models.ResourceOccupied || claimed.MovementID == nil || *claimed.MovementID != movement.ID {
		t.Fatalf("bay not claimed: status=%s movement=%v", claimed.Status, claimed.MovementID)
	}

	// The bay is taken now, so a second movement cannot claim it.
	other := env.seedMovement(t, models.StageReadyForBay)
	err = env.db.Model(&models.Movement{}).Where("id = ?", other.ID).
		Updates(map[string]any{"product_id": productX, "ready_for_bay_at": ready}).Error
	if err != nil {
		t.Fatalf("update movement: %v", err)
	}
	rec = env.request(t, http.MethodPost, "/api/v1/movements/"+other.ID+"/assignment/apply",
		map[string]string{"resource_id": bay.ID})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var conflictBody map[string]string
	decodeBody(t, rec, &conflictBody)
	if conflictBody["error"] != "conflict" || conflictBody["detail"] == "" {
		t.Fatalf("expected conflict with detail, got %+v", conflictBody)
	}
}

func TestResourceActionEndpoint(t *testing.T) {
	env := newAPITestEnv(t)
	bay := env.seedBay(t, "bay-1")

	rec := env.request(t, http.MethodPost, "/api/v1/resources/"+bay.ID+"/actions",
		map[string]string{"action": "set_maintenance", "reason": "pump seal inspection"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated models.Resource
	decodeBody(t, rec, &updated)
	if updated.Status != models.ResourceMaintenance {
		t.Fatalf("expected maintenance, got %s", updated.Status)
	}

	rec = env.request(t, http.MethodPost, "/api/v1/resources/"+bay.ID+"/actions",
		map[string]string{"action": "set_blocked"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing reason, got %d", rec.Code)
	}

	rec = env.request(t, http.MethodPost, "/api/v1/resources/"+bay.ID+"/actions",
		map[string]string{"action": "detonate", "reason": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", rec.Code)
	}

	rec = env.request(t, http.MethodPost, "/api/v1/resources/"+uuid.NewString()+"/actions",
		map[string]string{"action": "release"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown resource, got %d", rec.Code)
	}
}

func TestQueueResequenceEndpoint(t *testing.T) {
	env := newAPITestEnv(t)
	env.seedBay(t, "bay-1")

	ready := time.Now().Add(-10 * time.Minute)
	first := env.seedMovement(t, models.StageReadyForBay)
	second := env.seedMovement(t, models.StageReadyForBay)
	err := env.db.Model(&models.Movement{}).Where("id = ?", first.ID).
		Updates(map[string]any{"priority": models.PriorityAppointment, "ready_for_bay_at": ready}).Error
	if err != nil {
		t.Fatalf("update movement: %v", err)
	}
	laterReady := ready.Add(time.Minute)
	err = env.db.Model(&models.Movement{}).Where("id = ?", second.ID).
		Updates(map[string]any{"ready_for_bay_at": laterReady}).Error
	if err != nil {
		t.Fatalf("update movement: %v", err)
	}

	rec := env.request(t, http.MethodPost, "/api/v1/queue/resequence", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Resequencing []queueEntryResponse `json:"resequencing"`
	}
	decodeBody(t, rec, &body)
	if len(body.Resequencing) != 2 {
		t.Fatalf("expected two entries, got %d", len(body.Resequencing))
	}
	if body.Resequencing[0].MovementID != first.ID {
		t.Fatalf("expected appointment movement first, got %s", body.Resequencing[0].MovementID)
	}

	rec = env.request(t, http.MethodGet, "/api/v1/queue/?movement_id="+first.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var records []models.ResequencingRecord
	decodeBody(t, rec, &records)
	if len(records) != 1 {
		t.Fatalf("expected one persisted record, got %d", len(records))
	}
}

func TestReconcileEndpoint(t *testing.T) {
	env := newAPITestEnv(t)

	bay := env.seedBay(t, "bay-1")
	ghost := uuid.NewString()
	err := env.db.Model(&models.Resource{}).Where("id = ?", bay.ID).
		Updates(map[string]any{"status": models.ResourceOccupied, "movement_id": ghost}).Error
	if err != nil {
		t.Fatalf("update resource: %v", err)
	}

	rec := env.request(t, http.MethodPost, "/api/v1/reconcile", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]int
	decodeBody(t, rec, &body)
	if body["corrections"] != 1 {
		t.Fatalf("expected one correction, got %d", body["corrections"])
	}
}

func TestIntegrityScanAndRepairEndpoints(t *testing.T) {
	env := newAPITestEnv(t)

	ghost := uuid.NewString()
	movement := env.seedMovement(t, models.StageLoadingStarted)
	err := env.db.Model(&models.Movement{}).Where("id = ?", movement.ID).
		Update("resource_id", ghost).Error
	if err != nil {
		t.Fatalf("update movement: %v", err)
	}

	rec := env.request(t, http.MethodPost, "/api/v1/integrity/scan", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report integrity.Report
	decodeBody(t, rec, &report)
	if report.Total != 1 || report.ByType[integrity.FindingMovementMissingResource] != 1 {
		t.Fatalf("expected one dangling assignment finding, got %+v", report.ByType)
	}

	rec = env.request(t, http.MethodPost, "/api/v1/integrity/repair",
		map[string]string{"type": string(integrity.FindingMovementMissingResource), "record_id": movement.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result integrity.RepairResult
	decodeBody(t, rec, &result)
	if !result.Changed {
		t.Fatalf("expected repair to apply: %s", result.Message)
	}

	rec = env.request(t, http.MethodPost, "/api/v1/integrity/repair", map[string]string{"type": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing record_id, got %d", rec.Code)
	}
}

func TestAuditQueryEndpoint(t *testing.T) {
	env := newAPITestEnv(t)

	movementID := uuid.NewString()
	err := env.db.Create(&models.AuditLog{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		Action:     models.AuditActionCustodyTransition,
		MovementID: &movementID,
		Details:    map[string]any{"to_stage": "safety_approved"},
	}).Error
	if err != nil {
		t.Fatalf("seed audit log: %v", err)
	}

	rec := env.request(t, http.MethodGet, "/api/v1/audit?movement_id="+movementID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Logs  []models.AuditLog `json:"logs"`
		Total int64             `json:"total"`
	}
	decodeBody(t, rec, &body)
	if body.Total != 1 || len(body.Logs) != 1 {
		t.Fatalf("expected one log, got total=%d len=%d", body.Total, len(body.Logs))
	}

	rec = env.request(t, http.MethodGet, "/api/v1/audit?start=not-a-time", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad timestamp, got %d", rec.Code)
	}
}

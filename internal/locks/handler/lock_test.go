package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "reclock/pkg/errors"
	"reclock/pkg/logger"
	"reclock/pkg/model"

	"github.com/julienschmidt/httprouter"
)

// ────────────────────────────────────────────────
// Mock service for testing
// ────────────────────────────────────────────────

type mockLockService struct {
	acquireFunc      func(ctx context.Context, req *model.AcquireRequest) (*model.AcquireResult, error)
	releaseFunc      func(ctx context.Context, req *model.ReleaseRequest) (*model.OpResult, error)
	releaseByIDFunc  func(ctx context.Context, lockID string, req *model.ReleaseByIDRequest) (*model.OpResult, error)
	forceReleaseFunc func(ctx context.Context, lockID string, req *model.ForceReleaseRequest) (*model.OpResult, error)
	checkLockFunc    func(ctx context.Context, entityType, entityID, userID string) (*model.CheckResult, error)
}

func (m *mockLockService) Acquire(ctx context.Context, req *model.AcquireRequest) (*model.AcquireResult, error) {
	if m.acquireFunc != nil {
		return m.acquireFunc(ctx, req)
	}
	return &model.AcquireResult{Success: true}, nil
}

func (m *mockLockService) Release(ctx context.Context, req *model.ReleaseRequest) (*model.OpResult, error) {
	if m.releaseFunc != nil {
		return m.releaseFunc(ctx, req)
	}
	return &model.OpResult{Success: true}, nil
}

func (m *mockLockService) ReleaseByID(ctx context.Context, lockID string, req *model.ReleaseByIDRequest) (*model.OpResult, error) {
	if m.releaseByIDFunc != nil {
		return m.releaseByIDFunc(ctx, lockID, req)
	}
	return &model.OpResult{Success: true}, nil
}

func (m *mockLockService) ForceRelease(ctx context.Context, lockID string, req *model.ForceReleaseRequest) (*model.OpResult, error) {
	if m.forceReleaseFunc != nil {
		return m.forceReleaseFunc(ctx, lockID, req)
	}
	return &model.OpResult{Success: true}, nil
}

func (m *mockLockService) ReleaseAllForUser(ctx context.Context, userID string) (*model.BulkReleaseResult, error) {
	return &model.BulkReleaseResult{}, nil
}

func (m *mockLockService) ReleaseAllForSession(ctx context.Context, sessionID string) (*model.BulkReleaseResult, error) {
	return &model.BulkReleaseResult{}, nil
}

func (m *mockLockService) Heartbeat(ctx context.Context, req *model.HeartbeatRequest) (*model.OpResult, error) {
	return &model.OpResult{Success: true}, nil
}

func (m *mockLockService) HeartbeatAll(ctx context.Context, req *model.HeartbeatAllRequest) (*model.HeartbeatAllResult, error) {
	return &model.HeartbeatAllResult{}, nil
}

func (m *mockLockService) CheckLock(ctx context.Context, entityType, entityID, userID string) (*model.CheckResult, error) {
	if m.checkLockFunc != nil {
		return m.checkLockFunc(ctx, entityType, entityID, userID)
	}
	return &model.CheckResult{}, nil
}

func (m *mockLockService) GetUserLocks(ctx context.Context, userID string) (*model.UserLocksResult, error) {
	return &model.UserLocksResult{Locks: []*model.RecordLock{}}, nil
}

func (m *mockLockService) GetAllActiveLocks(ctx context.Context) (*model.ActiveLocksResult, error) {
	return &model.ActiveLocksResult{Locks: []*model.RecordLock{}}, nil
}

func (m *mockLockService) GetStatistics(ctx context.Context) (*model.Statistics, error) {
	return &model.Statistics{}, nil
}

func testRouter(svc *mockLockService) *httprouter.Router {
	log := logger.New(logger.Config{Level: "error", Format: logger.JSON, Service: "test"})
	router := httprouter.New()
	NewLockHandler(svc, log).RegisterRoutes(router)
	return router
}

func acquireBody() string {
	return `{
		"entity_type": "student",
		"entity_id": "stu-42",
		"user_id": "u1",
		"username": "u1",
		"session_id": "s1",
		"lock_mode": "edit"
	}`
}

// ────────────────────────────────────────────────
// Acquire endpoint
// ────────────────────────────────────────────────

func TestAcquireEndpoint_Success(t *testing.T) {
	svc := &mockLockService{
		acquireFunc: func(ctx context.Context, req *model.AcquireRequest) (*model.AcquireResult, error) {
			return &model.AcquireResult{Success: true, Message: "Lock acquired"}, nil
		},
	}
	router := testRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/locks/acquire", strings.NewReader(acquireBody()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAcquireEndpoint_ConflictIs409WithHolder(t *testing.T) {
	svc := &mockLockService{
		acquireFunc: func(ctx context.Context, req *model.AcquireRequest) (*model.AcquireResult, error) {
			return &model.AcquireResult{
				Conflict: true,
				Message:  "Locked by Dana for 12 minutes",
				ConflictingLock: &model.ConflictInfo{
					HolderDescription: "Dana",
					HolderUserID:      "u2",
					LockMode:          model.ModeEdit,
					LockedAt:          time.Now().Add(-12 * time.Minute),
					DurationMinutes:   12,
				},
			}, nil
		},
	}
	router := testRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/locks/acquire", strings.NewReader(acquireBody()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}

	var result model.AcquireResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode conflict body: %v", err)
	}
	if !result.Conflict || result.ConflictingLock == nil {
		t.Fatalf("expected conflict payload, got %+v", result)
	}
	if result.ConflictingLock.HolderUserID != "u2" {
		t.Errorf("expected holder u2, got %s", result.ConflictingLock.HolderUserID)
	}
}

func TestAcquireEndpoint_BadBodyIs400(t *testing.T) {
	router := testRouter(&mockLockService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/locks/acquire", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestAcquireEndpoint_ValidationErrorIs422(t *testing.T) {
	svc := &mockLockService{
		acquireFunc: func(ctx context.Context, req *model.AcquireRequest) (*model.AcquireResult, error) {
			return nil, apperrors.Validation("Invalid acquire request", nil)
		},
	}
	router := testRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/locks/acquire", strings.NewReader(acquireBody()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

// ────────────────────────────────────────────────
// Release endpoints
// ────────────────────────────────────────────────

func TestReleaseByIDEndpoint_ForbiddenIs403(t *testing.T) {
	svc := &mockLockService{
		releaseByIDFunc: func(ctx context.Context, lockID string, req *model.ReleaseByIDRequest) (*model.OpResult, error) {
			return nil, apperrors.Forbidden("Lock is held by another user")
		},
	}
	router := testRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/locks/id/abc/release", strings.NewReader(`{"user_id":"u1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestForceReleaseEndpoint_PassesLockID(t *testing.T) {
	var gotID string
	svc := &mockLockService{
		forceReleaseFunc: func(ctx context.Context, lockID string, req *model.ForceReleaseRequest) (*model.OpResult, error) {
			gotID = lockID
			return &model.OpResult{Success: true}, nil
		},
	}
	router := testRouter(svc)

	body := `{"admin_user_id":"principal","reason":"stale session"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/locks/id/lock-7/force-release", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotID != "lock-7" {
		t.Errorf("expected lock id from path, got %q", gotID)
	}
}

func TestReleaseEndpoint_NoOpStillIs200(t *testing.T) {
	svc := &mockLockService{
		releaseFunc: func(ctx context.Context, req *model.ReleaseRequest) (*model.OpResult, error) {
			return &model.OpResult{Success: false, Message: "No active lock held by this user on the record"}, nil
		},
	}
	router := testRouter(svc)

	body := `{"entity_type":"student","entity_id":"stu-42","user_id":"u1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/locks/release", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("a benign no-op release is not an HTTP error, got %d", rec.Code)
	}
}

// ────────────────────────────────────────────────
// Query endpoints
// ────────────────────────────────────────────────

func TestCheckEndpoint_RequiresParams(t *testing.T) {
	router := testRouter(&mockLockService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/locks/check?entity_id=stu-42", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing entity_type, got %d", rec.Code)
	}
}

func TestCheckEndpoint_PassesQueryParams(t *testing.T) {
	var gotType, gotID, gotUser string
	svc := &mockLockService{
		checkLockFunc: func(ctx context.Context, entityType, entityID, userID string) (*model.CheckResult, error) {
			gotType, gotID, gotUser = entityType, entityID, userID
			return &model.CheckResult{IsLocked: false}, nil
		},
	}
	router := testRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/locks/check?entity_type=student&entity_id=stu-42&user_id=u1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotType != "student" || gotID != "stu-42" || gotUser != "u1" {
		t.Errorf("query params not forwarded: %s %s %s", gotType, gotID, gotUser)
	}
}

func TestEntityTypesEndpoint_ListsAllWithLabels(t *testing.T) {
	router := testRouter(&mockLockService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/locks/entity-types", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Data []model.EnumValue `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(resp.Data) != len(model.EntityTypes()) {
		t.Fatalf("expected %d entity types, got %d", len(model.EntityTypes()), len(resp.Data))
	}
	if resp.Data[0].Value != "student" || resp.Data[0].Label != "Student File" {
		t.Errorf("unexpected first entry: %+v", resp.Data[0])
	}
}

func TestModesEndpoint_ListsAll(t *testing.T) {
	router := testRouter(&mockLockService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/locks/modes", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Data []model.EnumValue `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(resp.Data) != 3 {
		t.Errorf("expected 3 modes, got %d", len(resp.Data))
	}
}

func TestInternalErrorIsMasked(t *testing.T) {
	svc := &mockLockService{
		acquireFunc: func(ctx context.Context, req *model.AcquireRequest) (*model.AcquireResult, error) {
			return nil, apperrors.Internal("Failed to inspect existing locks", context.DeadlineExceeded)
		},
	}
	router := testRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/locks/acquire", strings.NewReader(acquireBody()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "deadline") {
		t.Errorf("internal cause leaked to the client: %s", rec.Body.String())
	}
}

package service

import (
	"context"
	"reclock/pkg/model"
	"testing"
	"time"
)

func TestCheckLock_FreeRecord(t *testing.T) {
	svc := newTestService(&mockLockRepository{}, &capturingPublisher{})

	result, err := svc.CheckLock(context.Background(), "student", "stu-42", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsLocked {
		t.Errorf("expected unlocked record, got %+v", result)
	}
}

func TestCheckLock_HeldByCurrentUser(t *testing.T) {
	now := time.Now().UTC()
	own := heldLock("u1", "s1", model.ModeEdit, now.Add(time.Minute))

	repo := &mockLockRepository{
		findValidSlotFunc: func(ctx context.Context, entityType model.EntityType, entityID string, now time.Time) (*model.RecordLock, error) {
			return own, nil
		},
	}
	svc := newTestService(repo, &capturingPublisher{})

	result, err := svc.CheckLock(context.Background(), "student", "stu-42", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsLocked || !result.IsLockedByCurrentUser {
		t.Errorf("expected lock held by current user, got %+v", result)
	}
}

func TestCheckLock_ViewOnlyStillReported(t *testing.T) {
	now := time.Now().UTC()
	viewer := heldLock("u2", "s2", model.ModeView, now.Add(time.Minute))

	repo := &mockLockRepository{
		findValidViewsFunc: func(ctx context.Context, entityType model.EntityType, entityID string, now time.Time) ([]*model.RecordLock, error) {
			return []*model.RecordLock{viewer}, nil
		},
	}
	svc := newTestService(repo, &capturingPublisher{})

	result, err := svc.CheckLock(context.Background(), "student", "stu-42", "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsLocked {
		t.Errorf("expected the view lock to be reported, got %+v", result)
	}
	if result.IsLockedByCurrentUser {
		t.Errorf("viewer is a different user, got %+v", result)
	}
}

func TestCheckLock_RejectsUnknownEntityType(t *testing.T) {
	svc := newTestService(&mockLockRepository{}, &capturingPublisher{})

	if _, err := svc.CheckLock(context.Background(), "spaceship", "x", ""); err == nil {
		t.Fatal("expected error for unknown entity type")
	}
}

func TestGetUserLocks_EmptyIsNotNil(t *testing.T) {
	repo := &mockLockRepository{
		findValidByUserFunc: func(ctx context.Context, userID string, now time.Time) ([]*model.RecordLock, error) {
			return nil, nil
		},
	}
	svc := newTestService(repo, &capturingPublisher{})

	result, err := svc.GetUserLocks(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.LockCount != 0 {
		t.Errorf("expected zero locks, got %d", result.LockCount)
	}
	if result.Locks == nil {
		t.Error("locks slice must serialize as [], not null")
	}
}

func TestGetAllActiveLocks_CombinesListAndStatistics(t *testing.T) {
	now := time.Now().UTC()
	locks := []*model.RecordLock{
		heldLock("u1", "s1", model.ModeEdit, now.Add(time.Minute)),
		heldLock("u2", "s2", model.ModeView, now.Add(time.Minute)),
	}

	repo := &mockLockRepository{
		findAllValidFunc: func(ctx context.Context, now time.Time) ([]*model.RecordLock, error) {
			time.Sleep(5 * time.Millisecond)
			return locks, nil
		},
		statisticsFunc: func(ctx context.Context, now time.Time) (*model.Statistics, error) {
			time.Sleep(5 * time.Millisecond)
			return &model.Statistics{
				TotalActive:  2,
				ByEntityType: map[string]int64{"student": 2},
				ByMode:       map[string]int64{"edit": 1, "view": 1},
			}, nil
		},
	}
	svc := newTestService(repo, &capturingPublisher{})

	result, err := svc.GetAllActiveLocks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalLocks != 2 {
		t.Errorf("expected 2 locks, got %d", result.TotalLocks)
	}
	if result.Statistics == nil || result.Statistics.TotalActive != 2 {
		t.Errorf("expected statistics alongside the list, got %+v", result.Statistics)
	}
	if result.Statistics.ByMode["edit"] != 1 || result.Statistics.ByMode["view"] != 1 {
		t.Errorf("unexpected mode breakdown: %+v", result.Statistics.ByMode)
	}
}

func TestCheckLock_SlotLookupErrorSurfaced(t *testing.T) {
	repo := &mockLockRepository{
		findValidSlotFunc: func(ctx context.Context, entityType model.EntityType, entityID string, now time.Time) (*model.RecordLock, error) {
			return nil, context.DeadlineExceeded
		},
	}
	svc := newTestService(repo, &capturingPublisher{})

	if _, err := svc.CheckLock(context.Background(), "student", "stu-42", ""); err == nil {
		t.Fatal("expected error when the store is unreachable")
	}
}

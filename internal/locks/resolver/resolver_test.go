package resolver

import (
	"reclock/pkg/model"
	"testing"
	"time"
)

func TestCompatible(t *testing.T) {
	tests := []struct {
		held      model.LockMode
		requested model.LockMode
		want      bool
	}{
		{model.ModeView, model.ModeView, true},
		{model.ModeView, model.ModeEdit, false},
		{model.ModeView, model.ModeExclusive, false},
		{model.ModeEdit, model.ModeView, false},
		{model.ModeEdit, model.ModeEdit, false},
		{model.ModeEdit, model.ModeExclusive, false},
		{model.ModeExclusive, model.ModeView, false},
		{model.ModeExclusive, model.ModeEdit, false},
		{model.ModeExclusive, model.ModeExclusive, false},
	}

	for _, tt := range tests {
		if got := Compatible(tt.held, tt.requested); got != tt.want {
			t.Errorf("Compatible(%s, %s) = %v, want %v", tt.held, tt.requested, got, tt.want)
		}
	}
}

func lockFixture(userID, sessionID string, mode model.LockMode, expiresAt time.Time) *model.RecordLock {
	return &model.RecordLock{
		LockID:    "lock-" + userID,
		LockedBy:  model.LockHolder{UserID: userID, Username: userID},
		SessionID: sessionID,
		LockMode:  mode,
		Active:    true,
		ExpiresAt: expiresAt,
	}
}

func TestResolve_EmptyGrants(t *testing.T) {
	now := time.Now()

	decision, blocking := Resolve(nil, Request{UserID: "u1", SessionID: "s1", Mode: model.ModeEdit}, now)
	if decision != DecisionGrant {
		t.Errorf("expected grant on empty lock set, got %s", decision)
	}
	if blocking != nil {
		t.Errorf("expected no blocking lock, got %+v", blocking)
	}
}

func TestResolve_ExpiredLockIgnored(t *testing.T) {
	now := time.Now()
	existing := []*model.RecordLock{
		lockFixture("u2", "s2", model.ModeEdit, now.Add(-time.Minute)),
	}

	decision, _ := Resolve(existing, Request{UserID: "u1", SessionID: "s1", Mode: model.ModeEdit}, now)
	if decision != DecisionGrant {
		t.Errorf("expected grant over expired lock, got %s", decision)
	}
}

func TestResolve_InactiveLockIgnored(t *testing.T) {
	now := time.Now()
	released := lockFixture("u2", "s2", model.ModeExclusive, now.Add(time.Minute))
	released.Active = false

	decision, _ := Resolve([]*model.RecordLock{released}, Request{UserID: "u1", SessionID: "s1", Mode: model.ModeEdit}, now)
	if decision != DecisionGrant {
		t.Errorf("expected grant over released lock, got %s", decision)
	}
}

func TestResolve_ForeignEditConflicts(t *testing.T) {
	now := time.Now()
	holder := lockFixture("u2", "s2", model.ModeEdit, now.Add(time.Minute))

	decision, blocking := Resolve([]*model.RecordLock{holder}, Request{UserID: "u1", SessionID: "s1", Mode: model.ModeEdit}, now)
	if decision != DecisionConflict {
		t.Fatalf("expected conflict, got %s", decision)
	}
	if blocking != holder {
		t.Errorf("expected the holder's lock returned as blocking")
	}
}

func TestResolve_ForeignViewBlocksEdit(t *testing.T) {
	now := time.Now()
	viewer := lockFixture("u2", "s2", model.ModeView, now.Add(time.Minute))

	decision, _ := Resolve([]*model.RecordLock{viewer}, Request{UserID: "u1", SessionID: "s1", Mode: model.ModeEdit}, now)
	if decision != DecisionConflict {
		t.Errorf("expected conflict for edit over foreign view, got %s", decision)
	}
}

func TestResolve_ViewsCoexist(t *testing.T) {
	now := time.Now()
	viewer := lockFixture("u2", "s2", model.ModeView, now.Add(time.Minute))

	decision, _ := Resolve([]*model.RecordLock{viewer}, Request{UserID: "u1", SessionID: "s1", Mode: model.ModeView}, now)
	if decision != DecisionGrant {
		t.Errorf("expected two views to coexist, got %s", decision)
	}
}

func TestResolve_OwnLockRenews(t *testing.T) {
	now := time.Now()
	own := lockFixture("u1", "s1", model.ModeEdit, now.Add(time.Minute))

	decision, renewal := Resolve([]*model.RecordLock{own}, Request{UserID: "u1", SessionID: "s1", Mode: model.ModeEdit}, now)
	if decision != DecisionRenew {
		t.Fatalf("expected renew for the current holder, got %s", decision)
	}
	if renewal != own {
		t.Errorf("expected own lock returned for renewal")
	}
}

func TestResolve_OwnEditRenewsAsExclusive(t *testing.T) {
	now := time.Now()
	own := lockFixture("u1", "s1", model.ModeEdit, now.Add(time.Minute))

	decision, _ := Resolve([]*model.RecordLock{own}, Request{UserID: "u1", SessionID: "s1", Mode: model.ModeExclusive}, now)
	if decision != DecisionRenew {
		t.Errorf("expected mode change within the exclusive slot to renew, got %s", decision)
	}
}

func TestResolve_SameUserDifferentSessionConflicts(t *testing.T) {
	now := time.Now()
	otherSession := lockFixture("u1", "s-old", model.ModeEdit, now.Add(time.Minute))

	decision, _ := Resolve([]*model.RecordLock{otherSession}, Request{UserID: "u1", SessionID: "s-new", Mode: model.ModeEdit}, now)
	if decision != DecisionConflict {
		t.Errorf("expected a different session of the same user to conflict, got %s", decision)
	}
}

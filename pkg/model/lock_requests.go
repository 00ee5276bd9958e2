package model

import "time"

// AcquireRequest asks the coordinator for a lock on one record. The lease
// duration is service configuration, never caller-supplied.
type AcquireRequest struct {
	EntityType    string `json:"entity_type" validate:"required,entity_type"`
	EntityID      string `json:"entity_id" validate:"required,min=1,max=200"`
	UserID        string `json:"user_id" validate:"required,min=1,max=100"`
	Username      string `json:"username" validate:"required,min=1,max=100"`
	DisplayName   string `json:"display_name" validate:"omitempty,max=200"`
	Role          string `json:"role" validate:"omitempty,max=100"`
	SessionID     string `json:"session_id" validate:"required,min=1,max=200"`
	ClientAddress string `json:"client_address" validate:"omitempty,max=100"`
	LockReason    string `json:"lock_reason" validate:"omitempty,max=500"`
	LockMode      string `json:"lock_mode" validate:"required,lock_mode"`
}

// Holder builds the identity snapshot stored on the lock.
func (r *AcquireRequest) Holder() LockHolder {
	return LockHolder{
		UserID:      r.UserID,
		Username:    r.Username,
		DisplayName: r.DisplayName,
		Role:        r.Role,
	}
}

type ReleaseRequest struct {
	EntityType string `json:"entity_type" validate:"required,entity_type"`
	EntityID   string `json:"entity_id" validate:"required,min=1,max=200"`
	UserID     string `json:"user_id" validate:"required,min=1,max=100"`
}

type ReleaseByIDRequest struct {
	UserID  string `json:"user_id" validate:"required,min=1,max=100"`
	IsAdmin bool   `json:"is_admin"`
}

type ForceReleaseRequest struct {
	AdminUserID string `json:"admin_user_id" validate:"required,min=1,max=100"`
	Reason      string `json:"reason" validate:"required,min=1,max=500"`
}

type HeartbeatRequest struct {
	EntityType string `json:"entity_type" validate:"required,entity_type"`
	EntityID   string `json:"entity_id" validate:"required,min=1,max=200"`
	UserID     string `json:"user_id" validate:"required,min=1,max=100"`
}

type HeartbeatAllRequest struct {
	UserID    string `json:"user_id" validate:"required,min=1,max=100"`
	SessionID string `json:"session_id" validate:"required,min=1,max=200"`
}

// ConflictInfo is the snapshot of the current holder returned with a
// CONFLICT outcome so the caller can present "locked by X for Y minutes".
type ConflictInfo struct {
	HolderDescription string    `json:"holder_description"`
	HolderUserID      string    `json:"holder_user_id"`
	HolderRole        string    `json:"holder_role,omitempty"`
	LockMode          LockMode  `json:"lock_mode"`
	LockedAt          time.Time `json:"locked_at"`
	Reason            string    `json:"reason,omitempty"`
	DurationMinutes   int       `json:"duration_minutes"`
}

// NewConflictInfo snapshots the holder of an existing valid lock.
func NewConflictInfo(existing *RecordLock, now time.Time) *ConflictInfo {
	return &ConflictInfo{
		HolderDescription: existing.LockedBy.Description(),
		HolderUserID:      existing.LockedBy.UserID,
		HolderRole:        existing.LockedBy.Role,
		LockMode:          existing.LockMode,
		LockedAt:          existing.LockedAt,
		Reason:            existing.LockReason,
		DurationMinutes:   int(existing.HeldDuration(now).Minutes()),
	}
}

// AcquireResult is the structured outcome of an Acquire call. A conflict is
// a normal outcome, not an error.
type AcquireResult struct {
	Success         bool          `json:"success"`
	Renewed         bool          `json:"renewed,omitempty"`
	Conflict        bool          `json:"conflict"`
	Message         string        `json:"message"`
	Lock            *RecordLock   `json:"lock,omitempty"`
	ConflictingLock *ConflictInfo `json:"conflicting_lock,omitempty"`
}

// OpResult is the structured outcome of release and heartbeat operations.
// A not-found or not-owned target is a benign no-op (Success=false with a
// descriptive message), never an error.
type OpResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type BulkReleaseResult struct {
	ReleasedCount int64 `json:"released_count"`
}

type HeartbeatAllResult struct {
	RefreshedCount int64 `json:"refreshed_count"`
}

type CheckResult struct {
	IsLocked              bool        `json:"is_locked"`
	Lock                  *RecordLock `json:"lock,omitempty"`
	IsLockedByCurrentUser bool        `json:"is_locked_by_current_user,omitempty"`
}

type UserLocksResult struct {
	LockCount int           `json:"lock_count"`
	Locks     []*RecordLock `json:"locks"`
}

// Statistics are aggregate counts over valid active locks; purely derived.
type Statistics struct {
	TotalActive   int64            `json:"total_active"`
	ByEntityType  map[string]int64 `json:"by_entity_type"`
	ByMode        map[string]int64 `json:"by_mode"`
	AverageAgeSec float64          `json:"average_age_seconds"`
}

type ActiveLocksResult struct {
	TotalLocks int           `json:"total_locks"`
	Statistics *Statistics   `json:"statistics"`
	Locks      []*RecordLock `json:"locks"`
}

// EnumValue pairs a wire value with its human-readable label for the
// entity-type and lock-mode enumeration endpoints.
type EnumValue struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

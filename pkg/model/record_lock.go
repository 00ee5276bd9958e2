package model

import (
	"fmt"
	"time"
)

// EntityType is the closed set of lockable resource kinds.
type EntityType string

const (
	EntityStudent              EntityType = "student"
	EntitySchedule             EntityType = "schedule"
	EntityCourseSection        EntityType = "course_section"
	EntityGradeRecord          EntityType = "grade_record"
	EntityAttendanceRecord     EntityType = "attendance_record"
	EntityCounselingCase       EntityType = "counseling_case"
	EntitySubstituteAssignment EntityType = "substitute_assignment"
)

var entityTypeLabels = map[EntityType]string{
	EntityStudent:              "Student File",
	EntitySchedule:             "Schedule",
	EntityCourseSection:        "Course Section",
	EntityGradeRecord:          "Grade Record",
	EntityAttendanceRecord:     "Attendance Record",
	EntityCounselingCase:       "Counseling Case",
	EntitySubstituteAssignment: "Substitute Assignment",
}

// EntityTypes returns every valid entity type in a stable order.
func EntityTypes() []EntityType {
	return []EntityType{
		EntityStudent,
		EntitySchedule,
		EntityCourseSection,
		EntityGradeRecord,
		EntityAttendanceRecord,
		EntityCounselingCase,
		EntitySubstituteAssignment,
	}
}

func (t EntityType) Valid() bool {
	_, ok := entityTypeLabels[t]
	return ok
}

func (t EntityType) Label() string {
	if label, ok := entityTypeLabels[t]; ok {
		return label
	}
	return string(t)
}

// LockMode is the closed set of lock modes.
type LockMode string

const (
	// ModeView is advisory and non-exclusive: it signals that someone is
	// looking at a record without blocking other viewers.
	ModeView LockMode = "view"
	// ModeEdit is the common case for form editing.
	ModeEdit LockMode = "edit"
	// ModeExclusive is used for destructive or high-risk operations.
	ModeExclusive LockMode = "exclusive"
)

var lockModeLabels = map[LockMode]string{
	ModeView:      "View",
	ModeEdit:      "Edit",
	ModeExclusive: "Exclusive",
}

// LockModes returns every valid lock mode in a stable order.
func LockModes() []LockMode {
	return []LockMode{ModeView, ModeEdit, ModeExclusive}
}

func (m LockMode) Valid() bool {
	_, ok := lockModeLabels[m]
	return ok
}

func (m LockMode) Label() string {
	if label, ok := lockModeLabels[m]; ok {
		return label
	}
	return string(m)
}

// Exclusive reports whether the mode participates in the per-key
// uniqueness constraint. VIEW entries coexist and are excluded from it.
func (m LockMode) Exclusive() bool {
	return m == ModeEdit || m == ModeExclusive
}

// LockHolder is the holder's identity snapshot taken at acquisition time.
type LockHolder struct {
	UserID      string `json:"user_id" bson:"user_id" validate:"required,min=1,max=100"`
	Username    string `json:"username" bson:"username" validate:"required,min=1,max=100"`
	DisplayName string `json:"display_name" bson:"display_name" validate:"omitempty,max=200"`
	Role        string `json:"role" bson:"role" validate:"omitempty,max=100"`
}

// Description returns the human-facing name of the holder for conflict
// messages ("locked by X for Y minutes").
func (h LockHolder) Description() string {
	if h.DisplayName != "" {
		return h.DisplayName
	}
	return h.Username
}

// RecordLock is a pessimistic lock over a single logical record.
//
// The document _id doubles as the uniqueness constraint: EDIT and EXCLUSIVE
// locks share the slot key "TYPE:entityID", so at most one such document can
// exist per record; VIEW locks append ":view:<userID>:<sessionID>" and
// therefore coexist. Released and expired rows are retained for audit with
// Active=false and never participate in conflict checks.
type RecordLock struct {
	Key           string     `json:"-" bson:"_id"`
	LockID        string     `json:"lock_id" bson:"lock_id"`
	EntityType    EntityType `json:"entity_type" bson:"entity_type"`
	EntityID      string     `json:"entity_id" bson:"entity_id"`
	LockedBy      LockHolder `json:"locked_by" bson:"locked_by"`
	SessionID     string     `json:"session_id" bson:"session_id"`
	ClientAddress string     `json:"client_address,omitempty" bson:"client_address,omitempty"`
	LockReason    string     `json:"lock_reason,omitempty" bson:"lock_reason,omitempty"`
	LockMode      LockMode   `json:"lock_mode" bson:"lock_mode"`
	LockedAt      time.Time  `json:"locked_at" bson:"locked_at"`
	LastHeartbeat time.Time  `json:"last_heartbeat" bson:"last_heartbeat"`
	ExpiresAt     time.Time  `json:"expires_at" bson:"expires_at"`
	Active        bool       `json:"active" bson:"active"`

	// Release audit trail; zero values until the lock is released.
	ReleasedAt    *time.Time `json:"released_at,omitempty" bson:"released_at,omitempty"`
	ReleasedBy    string     `json:"released_by,omitempty" bson:"released_by,omitempty"`
	ReleaseReason string     `json:"release_reason,omitempty" bson:"release_reason,omitempty"`
	Forced        bool       `json:"forced,omitempty" bson:"forced,omitempty"`
}

// SlotKey is the uniqueness key shared by EDIT and EXCLUSIVE locks on a record.
func SlotKey(entityType EntityType, entityID string) string {
	return fmt.Sprintf("%s:%s", entityType, entityID)
}

// ViewKey is the per-holder key of a VIEW lock on a record.
func ViewKey(entityType EntityType, entityID, userID, sessionID string) string {
	return fmt.Sprintf("%s:%s:view:%s:%s", entityType, entityID, userID, sessionID)
}

// LockKey returns the document key for the given mode and holder.
func LockKey(entityType EntityType, entityID string, mode LockMode, userID, sessionID string) string {
	if mode == ModeView {
		return ViewKey(entityType, entityID, userID, sessionID)
	}
	return SlotKey(entityType, entityID)
}

// IsValid reports whether the lock still guards its record at the given
// instant. An expired lock behaves as absent the moment its lease lapses,
// even if no sweep has marked it inactive yet.
func (l *RecordLock) IsValid(now time.Time) bool {
	return l.Active && now.Before(l.ExpiresAt)
}

// HeldBy reports whether the lock belongs to the given user and session.
func (l *RecordLock) HeldBy(userID, sessionID string) bool {
	return l.LockedBy.UserID == userID && l.SessionID == sessionID
}

// HeldDuration is how long the lock has been held as of now.
func (l *RecordLock) HeldDuration(now time.Time) time.Duration {
	return now.Sub(l.LockedAt)
}

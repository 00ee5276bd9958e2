// Package resolver decides what happens when a lock request meets the
// locks already present on a record. It is a pure decision table with no
// store access; the repository re-verifies the decision's precondition
// atomically when it writes.
package resolver

import (
	"time"

	"reclock/pkg/model"
)

type Decision int

const (
	// DecisionGrant means no valid lock stands in the way; create the lock.
	DecisionGrant Decision = iota
	// DecisionRenew means the requester already holds a valid lock of this
	// mode on the key; refresh its lease instead of creating a new one.
	DecisionRenew
	// DecisionConflict means a valid incompatible lock is held by someone
	// else; the request must be rejected with the holder's snapshot.
	DecisionConflict
)

func (d Decision) String() string {
	switch d {
	case DecisionGrant:
		return "grant"
	case DecisionRenew:
		return "renew"
	case DecisionConflict:
		return "conflict"
	}
	return "unknown"
}

// Request is the subset of an acquire request the resolver needs.
type Request struct {
	UserID    string
	SessionID string
	Mode      model.LockMode
}

// Compatible reports whether a lock held by one party and a request from
// another party may coexist on the same key. The full matrix:
//
//	held \ requested   VIEW   EDIT   EXCLUSIVE
//	VIEW               yes    no     no
//	EDIT               no     no     no
//	EXCLUSIVE          no     no     no
//
// Only shared viewing coexists. The same holder (userId, sessionId) is
// never in conflict with itself; that case resolves to a renewal before
// this matrix is consulted.
func Compatible(held, requested model.LockMode) bool {
	return held == model.ModeView && requested == model.ModeView
}

// Resolve inspects the existing locks on one (entityType, entityId) key and
// decides the outcome for the request. Expired and inactive locks are
// ignored: an expired lock behaves as absent the moment its lease lapses.
//
// On DecisionRenew the returned lock is the requester's own lock to be
// refreshed; on DecisionConflict it is the blocking holder's lock.
func Resolve(existing []*model.RecordLock, req Request, now time.Time) (Decision, *model.RecordLock) {
	var renewal *model.RecordLock

	for _, lock := range existing {
		if !lock.IsValid(now) {
			continue
		}

		if lock.HeldBy(req.UserID, req.SessionID) {
			// Re-acquire by the current holder is a renewal, never a
			// conflict, regardless of mode.
			if lock.LockMode == req.Mode || lock.LockMode.Exclusive() == req.Mode.Exclusive() {
				renewal = lock
			}
			continue
		}

		if !Compatible(lock.LockMode, req.Mode) {
			return DecisionConflict, lock
		}
	}

	if renewal != nil {
		return DecisionRenew, renewal
	}
	return DecisionGrant, nil
}

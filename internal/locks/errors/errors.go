package errors

import "errors"

var (
	// ErrNotFound means no matching lock document exists.
	ErrNotFound = errors.New("lock not found")

	// ErrSlotHeld means the exclusive slot for a key is held by a valid
	// lock belonging to someone else. Surfaced by the conditional upsert
	// as a duplicate-key rejection.
	ErrSlotHeld = errors.New("lock slot held by another user")
)

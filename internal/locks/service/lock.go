package service

import (
	"context"
	"errors"
	"fmt"
	lockerrors "reclock/internal/locks/errors"
	"reclock/internal/locks/repository"
	"reclock/internal/locks/resolver"
	"reclock/internal/locks/validator"
	"reclock/pkg/config"
	apperrors "reclock/pkg/errors"
	"reclock/pkg/events"
	"reclock/pkg/model"
	"reclock/pkg/sanitizer"
	"time"

	"github.com/google/uuid"
)

// LockService is the coordinator's public surface. Domain controllers call
// Acquire before allowing an edit and Release when the edit session ends;
// everything else supports those two calls.
type LockService interface {
	Acquire(ctx context.Context, req *model.AcquireRequest) (*model.AcquireResult, error)
	Release(ctx context.Context, req *model.ReleaseRequest) (*model.OpResult, error)
	ReleaseByID(ctx context.Context, lockID string, req *model.ReleaseByIDRequest) (*model.OpResult, error)
	ForceRelease(ctx context.Context, lockID string, req *model.ForceReleaseRequest) (*model.OpResult, error)
	ReleaseAllForUser(ctx context.Context, userID string) (*model.BulkReleaseResult, error)
	ReleaseAllForSession(ctx context.Context, sessionID string) (*model.BulkReleaseResult, error)
	Heartbeat(ctx context.Context, req *model.HeartbeatRequest) (*model.OpResult, error)
	HeartbeatAll(ctx context.Context, req *model.HeartbeatAllRequest) (*model.HeartbeatAllResult, error)

	CheckLock(ctx context.Context, entityType, entityID, userID string) (*model.CheckResult, error)
	GetUserLocks(ctx context.Context, userID string) (*model.UserLocksResult, error)
	GetAllActiveLocks(ctx context.Context) (*model.ActiveLocksResult, error)
	GetStatistics(ctx context.Context) (*model.Statistics, error)
}

type lockService struct {
	repo      repository.LockRepository
	validator *validator.LockValidator
	publisher events.Publisher
	cfg       *config.Config
}

func NewLockService(
	repo repository.LockRepository,
	validator *validator.LockValidator,
	publisher events.Publisher,
	cfg *config.Config,
) LockService {
	return &lockService{
		repo:      repo,
		validator: validator,
		publisher: publisher,
		cfg:       cfg,
	}
}

func (s *lockService) Acquire(ctx context.Context, req *model.AcquireRequest) (*model.AcquireResult, error) {
	s.sanitizeAcquire(req)
	if err := s.validator.ValidateAcquire(req); err != nil {
		s.cfg.Log.Warn("Acquire validation failed", "error", err)
		return nil, apperrors.Validation("Invalid acquire request", map[string]any{"error": err.Error()})
	}

	entityType := model.EntityType(req.EntityType)
	mode := model.LockMode(req.LockMode)
	now := time.Now().UTC().Truncate(time.Millisecond)

	existing, err := s.existingLocks(ctx, entityType, req.EntityID, now)
	if err != nil {
		return nil, apperrors.Internal("Failed to inspect existing locks", err)
	}

	decision, blocking := resolver.Resolve(existing, resolver.Request{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Mode:      mode,
	}, now)

	switch decision {
	case resolver.DecisionConflict:
		// Fast path: no writes at all when the snapshot already shows a
		// valid incompatible holder.
		return s.conflictResult(blocking, now), nil
	case resolver.DecisionRenew:
		result, err := s.renew(ctx, req, entityType, mode, now)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, lockerrors.ErrNotFound) {
			return nil, apperrors.Internal("Failed to renew lock", err)
		}
		// The holder's lock lapsed between snapshot and write; fall
		// through and claim it fresh.
	}

	return s.grant(ctx, req, entityType, mode, now)
}

// existingLocks snapshots every lock that could matter for the key: the
// exclusive slot plus any VIEW entries.
func (s *lockService) existingLocks(ctx context.Context, entityType model.EntityType, entityID string, now time.Time) ([]*model.RecordLock, error) {
	locks, err := s.repo.FindValidViews(ctx, entityType, entityID, now)
	if err != nil {
		return nil, err
	}

	slot, err := s.repo.FindValidSlot(ctx, entityType, entityID, now)
	if err != nil {
		if errors.Is(err, lockerrors.ErrNotFound) {
			return locks, nil
		}
		return nil, err
	}

	return append(locks, slot), nil
}

func (s *lockService) renew(ctx context.Context, req *model.AcquireRequest, entityType model.EntityType, mode model.LockMode, now time.Time) (*model.AcquireResult, error) {
	key := model.LockKey(entityType, req.EntityID, mode, req.UserID, req.SessionID)

	renewed, err := s.repo.RenewHolder(ctx, key, req.UserID, req.SessionID, mode, req.LockReason, now, s.cfg.LockLeaseDuration)
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.LockEvent{
		EventType:  events.TypeLockRenewed,
		LockID:     renewed.LockID,
		EntityType: renewed.EntityType,
		EntityID:   renewed.EntityID,
		LockMode:   renewed.LockMode,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		OccurredAt: now,
	})

	s.cfg.Log.Debug("Lock renewed",
		"lock_id", renewed.LockID,
		"entity_type", renewed.EntityType,
		"entity_id", renewed.EntityID,
		"user_id", req.UserID,
	)
	return &model.AcquireResult{
		Success: true,
		Renewed: true,
		Message: "Lock renewed",
		Lock:    renewed,
	}, nil
}

// grant creates the lock and then re-checks the cross-mode invariant. The
// exclusive slot itself is race-free (the keyed conditional upsert admits
// one winner), but a VIEW entry and an exclusive claim live in different
// documents, so each writer verifies the other side after its own write and
// backs out if it lost. Two racing writers can at worst both back out;
// they can never both hold.
func (s *lockService) grant(ctx context.Context, req *model.AcquireRequest, entityType model.EntityType, mode model.LockMode, now time.Time) (*model.AcquireResult, error) {
	lock := &model.RecordLock{
		Key:           model.LockKey(entityType, req.EntityID, mode, req.UserID, req.SessionID),
		LockID:        uuid.NewString(),
		EntityType:    entityType,
		EntityID:      req.EntityID,
		LockedBy:      req.Holder(),
		SessionID:     req.SessionID,
		ClientAddress: req.ClientAddress,
		LockReason:    req.LockReason,
		LockMode:      mode,
		LockedAt:      now,
		LastHeartbeat: now,
		ExpiresAt:     now.Add(s.cfg.LockLeaseDuration),
		Active:        true,
	}

	if mode.Exclusive() {
		if err := s.repo.ClaimSlot(ctx, lock, now); err != nil {
			if errors.Is(err, lockerrors.ErrSlotHeld) {
				return s.conflictWithSlot(ctx, entityType, req.EntityID, now)
			}
			return nil, apperrors.Internal("Failed to acquire lock", err)
		}

		views, err := s.repo.FindValidViews(ctx, entityType, req.EntityID, now)
		if err != nil {
			s.rollback(ctx, lock)
			return nil, apperrors.Internal("Failed to verify view locks", err)
		}
		for _, view := range views {
			if !view.HeldBy(req.UserID, req.SessionID) {
				s.rollback(ctx, lock)
				return s.conflictResult(view, now), nil
			}
		}
	} else {
		if err := s.repo.UpsertView(ctx, lock); err != nil {
			return nil, apperrors.Internal("Failed to acquire view lock", err)
		}

		slot, err := s.repo.FindValidSlot(ctx, entityType, req.EntityID, now)
		if err != nil && !errors.Is(err, lockerrors.ErrNotFound) {
			s.rollback(ctx, lock)
			return nil, apperrors.Internal("Failed to verify lock slot", err)
		}
		if slot != nil && !slot.HeldBy(req.UserID, req.SessionID) {
			s.rollback(ctx, lock)
			return s.conflictResult(slot, now), nil
		}
	}

	s.publisher.Publish(ctx, events.LockEvent{
		EventType:  events.TypeLockAcquired,
		LockID:     lock.LockID,
		EntityType: lock.EntityType,
		EntityID:   lock.EntityID,
		LockMode:   lock.LockMode,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		Reason:     lock.LockReason,
		OccurredAt: now,
	})

	s.cfg.Log.Info("Lock acquired",
		"lock_id", lock.LockID,
		"entity_type", lock.EntityType,
		"entity_id", lock.EntityID,
		"lock_mode", lock.LockMode,
		"user_id", req.UserID,
		"session_id", req.SessionID,
	)
	return &model.AcquireResult{
		Success: true,
		Message: "Lock acquired",
		Lock:    lock,
	}, nil
}

func (s *lockService) rollback(ctx context.Context, lock *model.RecordLock) {
	if err := s.repo.Deactivate(ctx, lock.Key, lock.LockID, time.Now().UTC()); err != nil {
		// The abandoned entry stays valid until its lease lapses; log it
		// so a stuck key can be traced back here.
		s.cfg.Log.Error("Failed to roll back lock after conflict",
			"lock_id", lock.LockID,
			"key", lock.Key,
			"error", err,
		)
	}
}

func (s *lockService) conflictWithSlot(ctx context.Context, entityType model.EntityType, entityID string, now time.Time) (*model.AcquireResult, error) {
	slot, err := s.repo.FindValidSlot(ctx, entityType, entityID, now)
	if err != nil {
		if errors.Is(err, lockerrors.ErrNotFound) {
			// The holder vanished between the rejected claim and this
			// lookup. The caller may simply retry.
			return &model.AcquireResult{
				Conflict: true,
				Message:  "Record was locked by another user; retry",
			}, nil
		}
		return nil, apperrors.Internal("Failed to load conflicting lock", err)
	}

	return s.conflictResult(slot, now), nil
}

func (s *lockService) conflictResult(blocking *model.RecordLock, now time.Time) *model.AcquireResult {
	info := model.NewConflictInfo(blocking, now)

	s.cfg.Log.Info("Lock conflict",
		"entity_type", blocking.EntityType,
		"entity_id", blocking.EntityID,
		"holder_user_id", info.HolderUserID,
		"held_minutes", info.DurationMinutes,
	)
	return &model.AcquireResult{
		Conflict:        true,
		Message:         fmt.Sprintf("Locked by %s for %d minutes", info.HolderDescription, info.DurationMinutes),
		ConflictingLock: info,
	}
}

func (s *lockService) Release(ctx context.Context, req *model.ReleaseRequest) (*model.OpResult, error) {
	if err := s.validator.ValidateRelease(req); err != nil {
		return nil, apperrors.Validation("Invalid release request", map[string]any{"error": err.Error()})
	}

	entityType := model.EntityType(req.EntityType)
	now := time.Now().UTC()

	released, err := s.repo.Release(ctx, entityType, req.EntityID, req.UserID, now)
	if err != nil {
		return nil, apperrors.Internal("Failed to release lock", err)
	}

	if !released {
		return &model.OpResult{
			Success: false,
			Message: "No active lock held by this user on the record",
		}, nil
	}

	s.publisher.Publish(ctx, events.LockEvent{
		EventType:  events.TypeLockReleased,
		EntityType: entityType,
		EntityID:   req.EntityID,
		UserID:     req.UserID,
		OccurredAt: now,
	})

	s.cfg.Log.Info("Lock released",
		"entity_type", entityType,
		"entity_id", req.EntityID,
		"user_id", req.UserID,
	)
	return &model.OpResult{Success: true, Message: "Lock released"}, nil
}

func (s *lockService) ReleaseByID(ctx context.Context, lockID string, req *model.ReleaseByIDRequest) (*model.OpResult, error) {
	if lockID == "" {
		return nil, apperrors.InvalidInput("Lock ID cannot be empty")
	}
	if err := s.validator.ValidateReleaseByID(req); err != nil {
		return nil, apperrors.Validation("Invalid release request", map[string]any{"error": err.Error()})
	}

	lock, err := s.repo.FindByLockID(ctx, lockID)
	if err != nil {
		if errors.Is(err, lockerrors.ErrNotFound) {
			return &model.OpResult{Success: false, Message: "Lock not found"}, nil
		}
		return nil, apperrors.Internal("Failed to load lock", err)
	}

	// The ownership check is on userId alone: a holder may release a lock
	// from a different session (e.g. after reconnecting). Admins bypass it.
	if lock.LockedBy.UserID != req.UserID && !req.IsAdmin {
		return nil, apperrors.Forbidden("Lock is held by another user")
	}

	if !lock.Active {
		return &model.OpResult{Success: false, Message: "Lock already released"}, nil
	}

	now := time.Now().UTC()
	released, err := s.repo.ReleaseByLockID(ctx, lockID, req.UserID, "released by id", false, now)
	if err != nil {
		return nil, apperrors.Internal("Failed to release lock", err)
	}
	if !released {
		return &model.OpResult{Success: false, Message: "Lock already released"}, nil
	}

	s.publisher.Publish(ctx, events.LockEvent{
		EventType:  events.TypeLockReleased,
		LockID:     lockID,
		EntityType: lock.EntityType,
		EntityID:   lock.EntityID,
		UserID:     req.UserID,
		OccurredAt: now,
	})

	s.cfg.Log.Info("Lock released by id",
		"lock_id", lockID,
		"user_id", req.UserID,
		"is_admin", req.IsAdmin,
	)
	return &model.OpResult{Success: true, Message: "Lock released"}, nil
}

func (s *lockService) ForceRelease(ctx context.Context, lockID string, req *model.ForceReleaseRequest) (*model.OpResult, error) {
	if lockID == "" {
		return nil, apperrors.InvalidInput("Lock ID cannot be empty")
	}
	if err := s.validator.ValidateForceRelease(req); err != nil {
		return nil, apperrors.Validation("Invalid force-release request", map[string]any{"error": err.Error()})
	}

	lock, err := s.repo.FindByLockID(ctx, lockID)
	if err != nil {
		if errors.Is(err, lockerrors.ErrNotFound) {
			return &model.OpResult{Success: false, Message: "Lock not found"}, nil
		}
		return nil, apperrors.Internal("Failed to load lock", err)
	}

	if !lock.Active {
		return &model.OpResult{Success: false, Message: "Lock already released"}, nil
	}

	now := time.Now().UTC()
	reason := sanitizer.SanitizeReason(req.Reason)
	released, err := s.repo.ReleaseByLockID(ctx, lockID, req.AdminUserID, reason, true, now)
	if err != nil {
		return nil, apperrors.Internal("Failed to force-release lock", err)
	}
	if !released {
		return &model.OpResult{Success: false, Message: "Lock already released"}, nil
	}

	s.publisher.Publish(ctx, events.LockEvent{
		EventType:   events.TypeLockForceReleased,
		LockID:      lockID,
		EntityType:  lock.EntityType,
		EntityID:    lock.EntityID,
		UserID:      lock.LockedBy.UserID,
		SessionID:   lock.SessionID,
		AdminUserID: req.AdminUserID,
		Reason:      reason,
		OccurredAt:  now,
	})

	s.cfg.Log.Warn("Lock force-released",
		"lock_id", lockID,
		"admin_user_id", req.AdminUserID,
		"holder_user_id", lock.LockedBy.UserID,
		"reason", reason,
	)
	return &model.OpResult{Success: true, Message: "Lock force-released"}, nil
}

func (s *lockService) ReleaseAllForUser(ctx context.Context, userID string) (*model.BulkReleaseResult, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("User ID cannot be empty")
	}

	now := time.Now().UTC()
	count, err := s.repo.ReleaseAllForUser(ctx, userID, now)
	if err != nil {
		return nil, apperrors.Internal("Failed to release user locks", err)
	}

	if count > 0 {
		s.publisher.Publish(ctx, events.LockEvent{
			EventType:  events.TypeLockReleased,
			UserID:     userID,
			Reason:     "bulk release for user",
			SweptCount: count,
			OccurredAt: now,
		})
	}

	s.cfg.Log.Info("Released all locks for user", "user_id", userID, "count", count)
	return &model.BulkReleaseResult{ReleasedCount: count}, nil
}

func (s *lockService) ReleaseAllForSession(ctx context.Context, sessionID string) (*model.BulkReleaseResult, error) {
	if sessionID == "" {
		return nil, apperrors.InvalidInput("Session ID cannot be empty")
	}

	now := time.Now().UTC()
	count, err := s.repo.ReleaseAllForSession(ctx, sessionID, now)
	if err != nil {
		return nil, apperrors.Internal("Failed to release session locks", err)
	}

	if count > 0 {
		s.publisher.Publish(ctx, events.LockEvent{
			EventType:  events.TypeLockReleased,
			SessionID:  sessionID,
			Reason:     "bulk release for session",
			SweptCount: count,
			OccurredAt: now,
		})
	}

	s.cfg.Log.Info("Released all locks for session", "session_id", sessionID, "count", count)
	return &model.BulkReleaseResult{ReleasedCount: count}, nil
}

func (s *lockService) Heartbeat(ctx context.Context, req *model.HeartbeatRequest) (*model.OpResult, error) {
	if err := s.validator.ValidateHeartbeat(req); err != nil {
		return nil, apperrors.Validation("Invalid heartbeat request", map[string]any{"error": err.Error()})
	}

	now := time.Now().UTC()
	refreshed, err := s.repo.Heartbeat(ctx, model.EntityType(req.EntityType), req.EntityID, req.UserID, now, s.cfg.LockLeaseDuration)
	if err != nil {
		return nil, apperrors.Internal("Failed to heartbeat lock", err)
	}

	if !refreshed {
		return &model.OpResult{
			Success: false,
			Message: "No valid lock held by this user on the record",
		}, nil
	}

	return &model.OpResult{Success: true, Message: "Lease extended"}, nil
}

func (s *lockService) HeartbeatAll(ctx context.Context, req *model.HeartbeatAllRequest) (*model.HeartbeatAllResult, error) {
	if err := s.validator.ValidateHeartbeatAll(req); err != nil {
		return nil, apperrors.Validation("Invalid heartbeat request", map[string]any{"error": err.Error()})
	}

	now := time.Now().UTC()
	count, err := s.repo.HeartbeatAll(ctx, req.UserID, req.SessionID, now, s.cfg.LockLeaseDuration)
	if err != nil {
		return nil, apperrors.Internal("Failed to heartbeat session locks", err)
	}

	return &model.HeartbeatAllResult{RefreshedCount: count}, nil
}

func (s *lockService) sanitizeAcquire(req *model.AcquireRequest) {
	req.LockReason = sanitizer.SanitizeReason(req.LockReason)
	req.DisplayName = sanitizer.SanitizeDisplayName(req.DisplayName)
}

package service

import (
	"context"
	"errors"
	lockerrors "reclock/internal/locks/errors"
	apperrors "reclock/pkg/errors"
	"reclock/pkg/model"
	"sync"
	"time"
)

func (s *lockService) CheckLock(ctx context.Context, entityType, entityID, userID string) (*model.CheckResult, error) {
	et := model.EntityType(entityType)
	if !et.Valid() {
		return nil, apperrors.InvalidInput("Unknown entity type")
	}
	if entityID == "" {
		return nil, apperrors.InvalidInput("Entity ID cannot be empty")
	}

	now := time.Now().UTC()

	slot, err := s.repo.FindValidSlot(ctx, et, entityID, now)
	if err != nil && !errors.Is(err, lockerrors.ErrNotFound) {
		return nil, apperrors.Internal("Failed to check lock", err)
	}

	if slot == nil {
		views, err := s.repo.FindValidViews(ctx, et, entityID, now)
		if err != nil {
			return nil, apperrors.Internal("Failed to check view locks", err)
		}
		for _, view := range views {
			if slot == nil || view.LockedBy.UserID == userID {
				slot = view
			}
		}
	}

	if slot == nil {
		return &model.CheckResult{IsLocked: false}, nil
	}

	return &model.CheckResult{
		IsLocked:              true,
		Lock:                  slot,
		IsLockedByCurrentUser: userID != "" && slot.LockedBy.UserID == userID,
	}, nil
}

func (s *lockService) GetUserLocks(ctx context.Context, userID string) (*model.UserLocksResult, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("User ID cannot be empty")
	}

	locks, err := s.repo.FindValidByUser(ctx, userID, time.Now().UTC())
	if err != nil {
		return nil, apperrors.Internal("Failed to load user locks", err)
	}
	if locks == nil {
		locks = []*model.RecordLock{}
	}

	return &model.UserLocksResult{
		LockCount: len(locks),
		Locks:     locks,
	}, nil
}

// GetAllActiveLocks serves the admin dashboard: the full valid lock list and
// the aggregate statistics, fetched concurrently.
func (s *lockService) GetAllActiveLocks(ctx context.Context) (*model.ActiveLocksResult, error) {
	now := time.Now().UTC()

	var (
		wg       sync.WaitGroup
		locks    []*model.RecordLock
		stats    *model.Statistics
		listErr  error
		statsErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		locks, listErr = s.repo.FindAllValid(ctx, now)
	}()
	go func() {
		defer wg.Done()
		stats, statsErr = s.repo.Statistics(ctx, now)
	}()
	wg.Wait()

	if listErr != nil {
		return nil, apperrors.Internal("Failed to load active locks", listErr)
	}
	if statsErr != nil {
		return nil, apperrors.Internal("Failed to load lock statistics", statsErr)
	}
	if locks == nil {
		locks = []*model.RecordLock{}
	}

	return &model.ActiveLocksResult{
		TotalLocks: len(locks),
		Statistics: stats,
		Locks:      locks,
	}, nil
}

func (s *lockService) GetStatistics(ctx context.Context) (*model.Statistics, error) {
	stats, err := s.repo.Statistics(ctx, time.Now().UTC())
	if err != nil {
		return nil, apperrors.Internal("Failed to load lock statistics", err)
	}
	return stats, nil
}

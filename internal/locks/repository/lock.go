package repository

import (
	"context"
	"errors"
	"fmt"
	lockerrors "reclock/internal/locks/errors"
	"reclock/pkg/config"
	"reclock/pkg/model"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName = "Record_locks"
)

// LockRepository is the persistent lock table. Every mutation is a single
// keyed conditional write, so the atomicity guarantee holds across service
// replicas without in-process locking: the document _id is the uniqueness
// constraint, and a conditional upsert that loses the race surfaces a
// duplicate-key error instead of a second valid holder.
type LockRepository interface {
	// RenewHolder refreshes the lease of the valid lock stored under key if
	// it belongs to (userID, sessionID). Returns ErrNotFound when no such
	// valid lock exists.
	RenewHolder(ctx context.Context, key, userID, sessionID string, mode model.LockMode, reason string, now time.Time, lease time.Duration) (*model.RecordLock, error)

	// ClaimSlot atomically takes over the exclusive slot document, but only
	// if it is absent, released, or expired. Returns ErrSlotHeld when a
	// valid foreign lock occupies the slot.
	ClaimSlot(ctx context.Context, lock *model.RecordLock, now time.Time) error

	// UpsertView writes the caller's own VIEW entry; the key embeds the
	// holder identity, so this never races with anyone else.
	UpsertView(ctx context.Context, lock *model.RecordLock) error

	// Deactivate rolls back a just-written lock identified by its opaque
	// lock ID. Used when a post-write compatibility check fails.
	Deactivate(ctx context.Context, key, lockID string, now time.Time) error

	FindValidSlot(ctx context.Context, entityType model.EntityType, entityID string, now time.Time) (*model.RecordLock, error)
	FindValidViews(ctx context.Context, entityType model.EntityType, entityID string, now time.Time) ([]*model.RecordLock, error)
	FindByLockID(ctx context.Context, lockID string) (*model.RecordLock, error)

	Release(ctx context.Context, entityType model.EntityType, entityID, userID string, now time.Time) (bool, error)
	ReleaseByLockID(ctx context.Context, lockID, releasedBy, reason string, forced bool, now time.Time) (bool, error)
	ReleaseAllForUser(ctx context.Context, userID string, now time.Time) (int64, error)
	ReleaseAllForSession(ctx context.Context, sessionID string, now time.Time) (int64, error)

	Heartbeat(ctx context.Context, entityType model.EntityType, entityID, userID string, now time.Time, lease time.Duration) (bool, error)
	HeartbeatAll(ctx context.Context, userID, sessionID string, now time.Time, lease time.Duration) (int64, error)

	FindAllValid(ctx context.Context, now time.Time) ([]*model.RecordLock, error)
	FindValidByUser(ctx context.Context, userID string, now time.Time) ([]*model.RecordLock, error)
	Statistics(ctx context.Context, now time.Time) (*model.Statistics, error)

	SweepExpired(ctx context.Context, now time.Time) (int64, error)

	EnsureIndexes(ctx context.Context) error
}

type mongoLockRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoLockRepository(cfg *config.Config) LockRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoLockRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
	}
}

// withTimeout bounds a store operation without shortening a deadline the
// caller already set.
func (r *mongoLockRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		return context.WithTimeout(ctx, timeout)
	}

	remaining := time.Until(deadline)
	if remaining < timeout {
		return context.WithTimeout(ctx, remaining)
	}

	return context.WithTimeout(ctx, timeout)
}

// validFilter matches locks that still guard their record: active and not
// yet past their lease. Expired rows are logically absent even before the
// sweeper marks them inactive.
func validFilter(now time.Time) bson.M {
	return bson.M{
		"active":     true,
		"expires_at": bson.M{"$gt": now},
	}
}

func (r *mongoLockRepository) RenewHolder(ctx context.Context, key, userID, sessionID string, mode model.LockMode, reason string, now time.Time, lease time.Duration) (*model.RecordLock, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"_id":               key,
		"active":            true,
		"expires_at":        bson.M{"$gt": now},
		"locked_by.user_id": userID,
		"session_id":        sessionID,
	}
	update := bson.M{
		"$set": bson.M{
			"last_heartbeat": now,
			"expires_at":     now.Add(lease),
			"lock_mode":      mode,
			"lock_reason":    reason,
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var lock model.RecordLock
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&lock)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, lockerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to renew lock: %w", err)
	}

	return &lock, nil
}

func (r *mongoLockRepository) ClaimSlot(ctx context.Context, lock *model.RecordLock, now time.Time) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	// The filter only matches a released or lapsed document. If a valid
	// foreign lock occupies the slot, the filter matches nothing, the
	// upsert tries to insert a second document with the same _id, and the
	// unique index on _id rejects it. That rejection is the conflict.
	filter := bson.M{
		"_id": lock.Key,
		"$or": bson.A{
			bson.M{"active": false},
			bson.M{"expires_at": bson.M{"$lte": now}},
		},
	}
	update := bson.M{"$set": slotFields(lock)}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var claimed model.RecordLock
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&claimed)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return lockerrors.ErrSlotHeld
		}
		return fmt.Errorf("failed to claim lock slot: %w", err)
	}

	return nil
}

// slotFields lists every stored field except _id, which rides on the
// filter so the upsert path carries it into the inserted document.
func slotFields(lock *model.RecordLock) bson.M {
	return bson.M{
		"lock_id":        lock.LockID,
		"entity_type":    lock.EntityType,
		"entity_id":      lock.EntityID,
		"locked_by":      lock.LockedBy,
		"session_id":     lock.SessionID,
		"client_address": lock.ClientAddress,
		"lock_reason":    lock.LockReason,
		"lock_mode":      lock.LockMode,
		"locked_at":      lock.LockedAt,
		"last_heartbeat": lock.LastHeartbeat,
		"expires_at":     lock.ExpiresAt,
		"active":         lock.Active,
		"released_at":    nil,
		"released_by":    "",
		"release_reason": "",
		"forced":         false,
	}
}

func (r *mongoLockRepository) UpsertView(ctx context.Context, lock *model.RecordLock) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	opts := options.Replace().SetUpsert(true)
	if _, err := r.collection.ReplaceOne(ctx, bson.M{"_id": lock.Key}, lock, opts); err != nil {
		return fmt.Errorf("failed to write view lock: %w", err)
	}

	return nil
}

func (r *mongoLockRepository) Deactivate(ctx context.Context, key, lockID string, now time.Time) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{"_id": key, "lock_id": lockID}
	update := bson.M{
		"$set": bson.M{
			"active":         false,
			"released_at":    now,
			"release_reason": "rolled back on conflict",
		},
	}

	if _, err := r.collection.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to roll back lock: %w", err)
	}

	return nil
}

func (r *mongoLockRepository) FindValidSlot(ctx context.Context, entityType model.EntityType, entityID string, now time.Time) (*model.RecordLock, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := validFilter(now)
	filter["_id"] = model.SlotKey(entityType, entityID)

	var lock model.RecordLock
	err := r.collection.FindOne(ctx, filter).Decode(&lock)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, lockerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find lock slot: %w", err)
	}

	return &lock, nil
}

func (r *mongoLockRepository) FindValidViews(ctx context.Context, entityType model.EntityType, entityID string, now time.Time) ([]*model.RecordLock, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := validFilter(now)
	filter["entity_type"] = entityType
	filter["entity_id"] = entityID
	filter["lock_mode"] = model.ModeView

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find view locks: %w", err)
	}
	defer cursor.Close(ctx)

	var locks []*model.RecordLock
	if err = cursor.All(ctx, &locks); err != nil {
		return nil, fmt.Errorf("failed to decode view locks: %w", err)
	}

	return locks, nil
}

func (r *mongoLockRepository) FindByLockID(ctx context.Context, lockID string) (*model.RecordLock, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	var lock model.RecordLock
	err := r.collection.FindOne(ctx, bson.M{"lock_id": lockID}).Decode(&lock)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, lockerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find lock by id: %w", err)
	}

	return &lock, nil
}

func releaseFields(releasedBy, reason string, forced bool, now time.Time) bson.M {
	return bson.M{
		"active":         false,
		"released_at":    now,
		"released_by":    releasedBy,
		"release_reason": reason,
		"forced":         forced,
	}
}

func (r *mongoLockRepository) Release(ctx context.Context, entityType model.EntityType, entityID, userID string, now time.Time) (bool, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"entity_type":       entityType,
		"entity_id":         entityID,
		"active":            true,
		"locked_by.user_id": userID,
	}
	update := bson.M{"$set": releaseFields(userID, "released by holder", false, now)}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to release lock: %w", err)
	}

	return result.ModifiedCount > 0, nil
}

func (r *mongoLockRepository) ReleaseByLockID(ctx context.Context, lockID, releasedBy, reason string, forced bool, now time.Time) (bool, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{"lock_id": lockID, "active": true}
	update := bson.M{"$set": releaseFields(releasedBy, reason, forced, now)}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to release lock by id: %w", err)
	}

	return result.ModifiedCount > 0, nil
}

func (r *mongoLockRepository) ReleaseAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{"active": true, "locked_by.user_id": userID}
	update := bson.M{"$set": releaseFields(userID, "bulk release for user", false, now)}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to release locks for user: %w", err)
	}

	return result.ModifiedCount, nil
}

func (r *mongoLockRepository) ReleaseAllForSession(ctx context.Context, sessionID string, now time.Time) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{"active": true, "session_id": sessionID}
	update := bson.M{"$set": releaseFields(sessionID, "bulk release for session", false, now)}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to release locks for session: %w", err)
	}

	return result.ModifiedCount, nil
}

func (r *mongoLockRepository) Heartbeat(ctx context.Context, entityType model.EntityType, entityID, userID string, now time.Time, lease time.Duration) (bool, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := validFilter(now)
	filter["entity_type"] = entityType
	filter["entity_id"] = entityID
	filter["locked_by.user_id"] = userID

	update := bson.M{
		"$set": bson.M{
			"last_heartbeat": now,
			"expires_at":     now.Add(lease),
		},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to heartbeat lock: %w", err)
	}

	return result.MatchedCount > 0, nil
}

func (r *mongoLockRepository) HeartbeatAll(ctx context.Context, userID, sessionID string, now time.Time, lease time.Duration) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := validFilter(now)
	filter["locked_by.user_id"] = userID
	filter["session_id"] = sessionID

	update := bson.M{
		"$set": bson.M{
			"last_heartbeat": now,
			"expires_at":     now.Add(lease),
		},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to heartbeat session locks: %w", err)
	}

	return result.ModifiedCount, nil
}

func (r *mongoLockRepository) FindAllValid(ctx context.Context, now time.Time) ([]*model.RecordLock, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "locked_at", Value: 1}})

	cursor, err := r.collection.Find(ctx, validFilter(now), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find active locks: %w", err)
	}
	defer cursor.Close(ctx)

	var locks []*model.RecordLock
	if err = cursor.All(ctx, &locks); err != nil {
		return nil, fmt.Errorf("failed to decode active locks: %w", err)
	}

	return locks, nil
}

func (r *mongoLockRepository) FindValidByUser(ctx context.Context, userID string, now time.Time) ([]*model.RecordLock, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := validFilter(now)
	filter["locked_by.user_id"] = userID

	opts := options.Find().SetSort(bson.D{{Key: "locked_at", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find user locks: %w", err)
	}
	defer cursor.Close(ctx)

	var locks []*model.RecordLock
	if err = cursor.All(ctx, &locks); err != nil {
		return nil, fmt.Errorf("failed to decode user locks: %w", err)
	}

	return locks, nil
}

func (r *mongoLockRepository) Statistics(ctx context.Context, now time.Time) (*model.Statistics, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: validFilter(now)}},
		{{Key: "$facet", Value: bson.M{
			"totals": bson.A{
				bson.M{"$group": bson.M{
					"_id":     nil,
					"count":   bson.M{"$sum": 1},
					"avg_age": bson.M{"$avg": bson.M{"$subtract": bson.A{now, "$locked_at"}}},
				}},
			},
			"by_type": bson.A{
				bson.M{"$group": bson.M{
					"_id":   "$entity_type",
					"count": bson.M{"$sum": 1},
				}},
			},
			"by_mode": bson.A{
				bson.M{"$group": bson.M{
					"_id":   "$lock_mode",
					"count": bson.M{"$sum": 1},
				}},
			},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate lock statistics: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Totals []struct {
			Count  int64   `bson:"count"`
			AvgAge float64 `bson:"avg_age"`
		} `bson:"totals"`
		ByType []struct {
			ID    string `bson:"_id"`
			Count int64  `bson:"count"`
		} `bson:"by_type"`
		ByMode []struct {
			ID    string `bson:"_id"`
			Count int64  `bson:"count"`
		} `bson:"by_mode"`
	}
	if err = cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode lock statistics: %w", err)
	}

	stats := &model.Statistics{
		ByEntityType: make(map[string]int64),
		ByMode:       make(map[string]int64),
	}
	if len(results) == 0 {
		return stats, nil
	}

	facets := results[0]
	if len(facets.Totals) > 0 {
		stats.TotalActive = facets.Totals[0].Count
		// $subtract of two dates yields milliseconds.
		stats.AverageAgeSec = facets.Totals[0].AvgAge / 1000
	}
	for _, group := range facets.ByType {
		stats.ByEntityType[group.ID] = group.Count
	}
	for _, group := range facets.ByMode {
		stats.ByMode[group.ID] = group.Count
	}

	return stats, nil
}

func (r *mongoLockRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	filter := bson.M{
		"active":     true,
		"expires_at": bson.M{"$lte": now},
	}
	update := bson.M{
		"$set": bson.M{
			"active":         false,
			"released_at":    now,
			"released_by":    "sweeper",
			"release_reason": "lease expired",
		},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired locks: %w", err)
	}

	return result.ModifiedCount, nil
}

func (r *mongoLockRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "entity_type", Value: 1}, {Key: "entity_id", Value: 1}, {Key: "active", Value: 1}}},
		{Keys: bson.D{{Key: "lock_id", Value: 1}}},
		{Keys: bson.D{{Key: "locked_by.user_id", Value: 1}, {Key: "active", Value: 1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "active", Value: 1}}},
		{Keys: bson.D{{Key: "active", Value: 1}, {Key: "expires_at", Value: 1}}},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create lock indexes: %w", err)
	}

	return nil
}

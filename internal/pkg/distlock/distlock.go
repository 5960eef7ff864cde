package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is the interface for distributed locking. Implementations are
// safe for use from a single goroutine; concurrent use across goroutines
// requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// NewLock creates a distributed lock using the best available backend.
// With a Redis client it uses Redis (preferred for cross-host exclusion,
// e.g. tenant-wide match recalculation); otherwise it falls back to
// PostgreSQL advisory locks.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// Factory hands out locks over a shared pair of backends so callers do
// not carry the Redis client and DB handle around themselves.
type Factory struct {
	redisClient *redis.Client
	db          *sql.DB
}

// NewFactory creates a lock factory. Either backend may be nil; Redis
// wins when both are present.
func NewFactory(redisClient *redis.Client, db *sql.DB) *Factory {
	return &Factory{redisClient: redisClient, db: db}
}

// New creates a lock for the key using the best available backend.
func (f *Factory) New(key string, ttl time.Duration) DistLock {
	return NewLock(f.redisClient, f.db, key, ttl)
}

// PGAdvisoryLock implements DistLock using pg_try_advisory_lock, which is
// session-scoped: the lock drops automatically if the connection dies.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock without blocking.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

// Release releases the advisory lock.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}

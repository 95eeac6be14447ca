package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Load when no snapshot is stored under the name.
var ErrNotFound = errors.New("token snapshot not found")

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

const minSnapshotTTL = time.Second

// Store is a Redis-backed snapshot store.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a [Store] backed by the given Redis client. prefix sets the key namespace.
func NewStore(redis redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "gc"
	}
	return &Store{
		redis:  redis,
		prefix: prefix,
	}
}

func (s *Store) key(name string) string {
	return s.prefix + ":tok:" + name
}

// Save writes snap under name. ttl below one second is raised to one second.
//
//	Performance: 1 Redis SET.
func (s *Store) Save(ctx context.Context, name string, snap *Snapshot, ttl time.Duration) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	if ttl < minSnapshotTTL {
		ttl = minSnapshotTTL
	}
	if err := s.redis.Set(ctx, s.key(name), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Load returns the snapshot stored under name. Blobs written by an older schema version are
// rewritten at the current version, keeping their remaining TTL.
//
//	Performance: 1 Redis GET (plus PTTL and SET on migration).
func (s *Store) Load(ctx context.Context, name string) (*Snapshot, error) {
	key := s.key(name)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	snap, err := Decode(data)
	if err != nil {
		return nil, err
	}

	if err := s.maybeMigrate(ctx, key, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) maybeMigrate(ctx context.Context, key string, snap *Snapshot) error {
	if snap.SchemaVersion == CurrentSchemaVersion {
		return nil
	}

	ttl, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl <= 0 {
		// Key vanished or has no expiry; leave it as is.
		return nil
	}

	data, err := Encode(snap)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	snap.SchemaVersion = CurrentSchemaVersion
	return nil
}

// Delete removes the snapshot under name. Deleting a missing snapshot is not an error.
//
//	Performance: 1 Redis DEL.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.redis.Del(ctx, s.key(name)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

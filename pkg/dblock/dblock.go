// Package dblock provides the dataset lock callers hold around an import or
// maintenance run. The engine itself never locks.
package dblock

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "branchboard:dataset:"

var (
	// ErrLocked is returned when another run holds the dataset.
	ErrLocked = errors.New("dataset is locked by another run")
	// ErrNotHeld is returned on release when the lease expired or was taken
	// over.
	ErrNotHeld = errors.New("lock is no longer held")
)

type Lock interface {
	Release(ctx context.Context) error
}

type Locker interface {
	TryAcquire(ctx context.Context, dataset string) (Lock, error)
}

// With runs fn while holding the dataset lock. A release failure is
// reported only when fn itself succeeded.
func With(ctx context.Context, l Locker, dataset string, fn func(context.Context) error) (err error) {
	lock, err := l.TryAcquire(ctx, dataset)
	if err != nil {
		return err
	}
	defer func() {
		// Release on a fresh context so a cancelled request still unlocks.
		if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(ctx)
}

// New builds the locker for backend ("postgres" or "redis"). The returned
// close func releases backend resources owned by the locker.
func New(backend string, pool *pgxpool.Pool, redisURL string, ttl time.Duration) (Locker, func() error, error) {
	switch backend {
	case "", "postgres":
		if pool == nil {
			return nil, nil, errors.New("postgres lock backend requires a pool")
		}
		return NewPGLocker(pool), func() error { return nil }, nil
	case "redis":
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		return NewRedisLocker(client, ttl), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown lock backend %q", backend)
	}
}

func advisoryLockKey(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(keyPrefix + s))
	return int64(h.Sum64())
}

// PGLocker uses session-level advisory locks. The lock lives on one pooled
// connection that stays checked out until Release.
type PGLocker struct {
	pool *pgxpool.Pool
}

func NewPGLocker(pool *pgxpool.Pool) *PGLocker {
	return &PGLocker{pool: pool}
}

func (l *PGLocker) TryAcquire(ctx context.Context, dataset string) (Lock, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	key := advisoryLockKey(dataset)
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1::bigint)`, key).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, ErrLocked
	}
	return &pgLock{conn: conn, key: key}, nil
}

type pgLock struct {
	conn *pgxpool.Conn
	key  int64
}

func (l *pgLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return ErrNotHeld
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()
	var ok bool
	if err := l.conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1::bigint)`, l.key).Scan(&ok); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	if !ok {
		return ErrNotHeld
	}
	return nil
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// RedisLocker holds a lease that expires after ttl, so a crashed holder
// cannot block the dataset forever.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	token  func() string
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, token: uuid.NewString}
}

func (l *RedisLocker) TryAcquire(ctx context.Context, dataset string) (Lock, error) {
	key := keyPrefix + dataset
	token := l.token()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &redisLock{client: l.client, key: key, token: token}, nil
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

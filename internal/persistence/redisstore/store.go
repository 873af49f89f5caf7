// Package redisstore keeps the executed set in Redis. Names live in a sorted
// set scored by a sequence counter, so Executed returns them in logging order.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/migration-orchestrator/internal/migration"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultPrefix namespaces every key the store touches.
	DefaultPrefix = "migrations"
	// DefaultLockTTL bounds how long a crashed run can hold the lock.
	DefaultLockTTL = 30 * time.Minute
)

// logScript adds a name once, scoring it with the next sequence value.
var logScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
local seq = redis.call('INCR', KEYS[2])
return redis.call('ZADD', KEYS[1], 'NX', tostring(seq), ARGV[1])
`)

// unlockScript deletes the lock only while it still carries our token.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Store implements migration.Storage and migration.Locker on a Redis client.
// Logging a recorded name again is accepted and changes nothing.
type Store struct {
	client  redis.UniversalClient
	prefix  string
	lockTTL time.Duration

	mu    sync.Mutex
	token string
}

var (
	_ migration.Storage = (*Store)(nil)
	_ migration.Locker  = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithLockTTL overrides DefaultLockTTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// New returns a Store using client.
func New(client redis.UniversalClient, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("redisstore: client is nil")
	}
	s := &Store{client: client, prefix: DefaultPrefix, lockTTL: DefaultLockTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr string, opts ...Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return New(client, opts...)
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(suffix string) string {
	return s.prefix + ":" + suffix
}

// LogMigration adds name to the executed set if absent.
func (s *Store) LogMigration(ctx context.Context, name string) error {
	keys := []string{s.key("executed"), s.key("seq")}
	if err := logScript.Run(ctx, s.client, keys, name).Err(); err != nil {
		return fmt.Errorf("log %s: %w", name, err)
	}
	return nil
}

// UnlogMigration removes name from the executed set.
func (s *Store) UnlogMigration(ctx context.Context, name string) error {
	if err := s.client.ZRem(ctx, s.key("executed"), name).Err(); err != nil {
		return fmt.Errorf("unlog %s: %w", name, err)
	}
	return nil
}

// Executed returns the executed names in the order they were logged.
func (s *Store) Executed(ctx context.Context) ([]string, error) {
	names, err := s.client.ZRange(ctx, s.key("executed"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list executed migrations: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Lock sets the lock key with a fresh token unless another run holds it.
func (s *Store) Lock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, s.key("lock"), token, s.lockTTL).Result()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s is held", migration.ErrLocked, s.key("lock"))
	}
	s.token = token
	return nil
}

// Unlock deletes the lock key if it still holds the token set by Lock.
func (s *Store) Unlock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == "" {
		return nil
	}
	token := s.token
	s.token = ""

	if err := unlockScript.Run(ctx, s.client, []string{s.key("lock")}, token).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Package redis implements lease.Store on Redis.
//
// Leases are plain string keys holding the acquisition token, set with
// SET NX PX. Release deletes the key only when it still holds the caller's
// token, so an expired lease taken over by another owner is never
// released by its former holder.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"fleetguard/warden/pkg/lease"
)

// releaseScript deletes a lease key only if it holds the caller's token.
// KEYS[1] = lease key
// ARGV[1] = token
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config configures the Redis lease store.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces lease keys.
	// Default: "warden:lease:"
	Prefix string
}

// Store implements lease.Store using Redis.
type Store struct {
	client goredis.UniversalClient
	prefix string
}

// NewStore creates a store with its own client.
func NewStore(cfg Config) *Store {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewStoreWithClient(rdb, cfg.Prefix)
}

// NewStoreWithClient creates a store on an existing client.
func NewStoreWithClient(client goredis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "warden:lease:"
	}
	return &Store{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Acquire implements lease.Store.
func (s *Store) Acquire(ctx context.Context, key lease.Key, owner string, ttl time.Duration) (*lease.Lease, bool, error) {
	token := owner + ":" + lease.NewToken()
	ok, err := s.client.SetNX(ctx, s.key(key), token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lease acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &lease.Lease{
		Key:       key,
		Owner:     owner,
		Token:     token,
		ExpiresAt: time.Now().Add(ttl),
	}, true, nil
}

// Release implements lease.Store.
func (s *Store) Release(ctx context.Context, l *lease.Lease) error {
	res, err := releaseScript.Run(ctx, s.client, []string{s.key(l.Key)}, l.Token).Int64()
	if err != nil {
		return fmt.Errorf("redis lease release %s: %w", l.Key, err)
	}
	if res == 0 {
		return lease.ErrNotHeld
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(k lease.Key) string {
	return s.prefix + k.PolicyID + ":" + k.EntityID
}

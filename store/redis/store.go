// Package redis provides Redis storage for deskauth. It lets several broker
// instances share users and tokens; it is not meant as a durable database.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aloks98/deskauth"
	"github.com/aloks98/deskauth/store"
)

// Key suffixes, appended to the configured prefix.
const (
	keyUser          = "user:"
	keyUserByEmail   = "user_email:"
	keyToken         = "token:"
	keyTokenConsumed = "token_consumed:"
)

// DefaultKeyPrefix namespaces all keys written by the store.
const DefaultKeyPrefix = "deskauth:"

// createUserScript inserts a user and its email index only if neither exists.
// KEYS[1] = email index key, KEYS[2] = user key
// ARGV[1] = user ID, ARGV[2] = user JSON
var createUserScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 or redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
return 1
`)

// Store implements store.Store using Redis.
type Store struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// Config holds Redis store configuration.
type Config struct {
	// Client is an existing Redis client.
	// If provided, Addr, Password, DB and PoolSize are ignored.
	Client redis.UniversalClient

	// Addr is the Redis server address (host:port).
	Addr string

	// Password is the Redis password.
	Password string

	// DB is the Redis database number.
	DB int

	// PoolSize is the maximum number of connections.
	PoolSize int

	// KeyPrefix namespaces keys. Defaults to DefaultKeyPrefix.
	KeyPrefix string

	// Retention keeps expired and consumed tokens around past their expiry
	// so they report Expired or AlreadyConsumed instead of Invalid.
	Retention time.Duration
}

// New creates a new Redis store.
func New(cfg *Config) (*Store, error) {
	var client redis.UniversalClient

	if cfg.Client != nil {
		client = cfg.Client
	} else {
		if cfg.Addr == "" {
			return nil, fmt.Errorf("%w: redis address is required", deskauth.ErrConfigInvalid)
		}
		opts := &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
		if cfg.PoolSize > 0 {
			opts.PoolSize = cfg.PoolSize
		}
		client = redis.NewClient(opts)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &Store{client: client, prefix: prefix, retention: cfg.Retention}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", deskauth.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) userKey(id string) string       { return s.prefix + keyUser + id }
func (s *Store) emailKey(email string) string   { return s.prefix + keyUserByEmail + email }
func (s *Store) tokenKey(hash string) string    { return s.prefix + keyToken + hash }
func (s *Store) consumedKey(hash string) string { return s.prefix + keyTokenConsumed + hash }

// CreateUser persists a new user if its email is not taken.
func (s *Store) CreateUser(ctx context.Context, user *store.User) error {
	u := *user
	u.Email = store.NormalizeEmail(u.Email)

	data, err := json.Marshal(&u)
	if err != nil {
		return err
	}

	created, err := createUserScript.Run(ctx, s.client,
		[]string{s.emailKey(u.Email), s.userKey(u.ID)},
		u.ID, data,
	).Int()
	if err != nil {
		return fmt.Errorf("%w: create user: %v", deskauth.ErrStoreUnavailable, err)
	}
	if created == 0 {
		return deskauth.ErrAlreadyExists
	}
	return nil
}

// GetUserByEmail retrieves a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	id, err := s.client.Get(ctx, s.emailKey(store.NormalizeEmail(email))).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	data, err := s.client.Get(ctx, s.userKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var user store.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SetUserRole changes a user's role. The read-modify-write runs under WATCH
// so a concurrent change to the same user aborts and retries.
func (s *Store) SetUserRole(ctx context.Context, id string, role string) error {
	key := s.userKey(id)

	update := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return deskauth.ErrNotFound
		}
		if err != nil {
			return err
		}

		var user store.User
		if err := json.Unmarshal(data, &user); err != nil {
			return err
		}
		user.Role = role

		newData, err := json.Marshal(&user)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newData, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := s.client.Watch(ctx, update, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("%w: role update kept conflicting", deskauth.ErrStoreUnavailable)
}

// SaveToken persists a token. The key outlives the token by the retention
// window and is then removed by Redis.
func (s *Store) SaveToken(ctx context.Context, token *store.Token) error {
	t := *token
	t.Value = ""

	data, err := json.Marshal(&t)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, s.tokenKey(t.Hash), data, s.keyTTL(t.ExpiresAt)).Err()
}

// GetToken retrieves a token by hash.
func (s *Store) GetToken(ctx context.Context, hash string) (*store.Token, error) {
	vals, err := s.client.MGet(ctx, s.tokenKey(hash), s.consumedKey(hash)).Result()
	if err != nil {
		return nil, err
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, nil
	}

	var token store.Token
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return nil, err
	}
	if consumed, ok := vals[1].(string); ok {
		if at, err := time.Parse(time.RFC3339Nano, consumed); err == nil {
			token.ConsumedAt = &at
		}
	}
	return &token, nil
}

// ConsumeToken marks an exchange token as consumed. The consumed marker is
// written with SET NX, so exactly one concurrent caller wins.
func (s *Store) ConsumeToken(ctx context.Context, hash string, now time.Time) (*store.Token, error) {
	token, err := s.GetToken(ctx, hash)
	if err != nil {
		return nil, err
	}
	if token == nil || token.Scope != store.ScopeExchange {
		return nil, deskauth.ErrTokenInvalid
	}
	if token.IsExpired(now) {
		return nil, deskauth.ErrTokenExpired
	}

	ok, err := s.client.SetNX(ctx, s.consumedKey(hash), now.UTC().Format(time.RFC3339Nano), s.keyTTL(token.ExpiresAt)).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, deskauth.ErrTokenConsumed
	}

	consumedAt := now
	token.ConsumedAt = &consumedAt
	return token, nil
}

// DeleteToken removes a token and its consumed marker.
func (s *Store) DeleteToken(ctx context.Context, hash string) error {
	return s.client.Del(ctx, s.tokenKey(hash), s.consumedKey(hash)).Err()
}

// DeleteExpiredTokens is a no-op: Redis expires token keys on its own.
func (s *Store) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (s *Store) keyTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt) + s.retention
	if ttl <= 0 {
		ttl = time.Second // Minimum TTL
	}
	return ttl
}

// Ensure Store implements store.Store.
var _ store.Store = (*Store)(nil)

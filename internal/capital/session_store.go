package capital

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionTokenKey = "capital:session:token"

// SessionStore caches the session token pair in Redis so a restarted
// process can resume the broker session instead of re-authenticating.
// All operations degrade gracefully: a dead Redis never blocks trading.
type SessionStore struct {
	client *redis.Client
}

// SessionStoreConfig holds the Redis connection settings.
type SessionStoreConfig struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// NewSessionStore connects to Redis. Connection failure is reported but
// the store is still usable; operations will error until Redis recovers.
func NewSessionStore(cfg SessionStoreConfig) (*SessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := &SessionStore{client: client}
	if err := client.Ping(ctx).Err(); err != nil {
		return store, fmt.Errorf("redis connection failed: %w", err)
	}
	return store, nil
}

// Save writes the token with a TTL matching its remaining lifetime.
func (s *SessionStore) Save(ctx context.Context, tok *SessionToken) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("error marshaling session token: %w", err)
	}

	ttl := tok.TTL - time.Since(tok.CreatedAt)
	if ttl <= 0 {
		return nil // already expired, nothing worth caching
	}
	return s.client.Set(ctx, sessionTokenKey, data, ttl).Err()
}

// Load reads the cached token. redis.Nil maps to a plain "no token" error.
func (s *SessionStore) Load(ctx context.Context) (*SessionToken, error) {
	data, err := s.client.Get(ctx, sessionTokenKey).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("no cached session token")
	}
	if err != nil {
		return nil, fmt.Errorf("error reading session token: %w", err)
	}

	var tok SessionToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("error parsing cached session token: %w", err)
	}
	return &tok, nil
}

// Clear drops the cached token, used after a 401 invalidates it.
func (s *SessionStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, sessionTokenKey).Err()
}

// Close releases the Redis connection pool.
func (s *SessionStore) Close() error {
	return s.client.Close()
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "cco:"

// putScript writes the session only when the stored version matches
// ARGV[2], then repoints the user key. Both keys get the same TTL.
var putScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
local expected = tonumber(ARGV[2])
if cur then
  local doc = cjson.decode(cur)
  if tonumber(doc["version"]) ~= expected then
    return 0
  end
elseif expected ~= 0 then
  return -1
end
redis.call("SET", KEYS[1], ARGV[1], "EX", ARGV[3])
redis.call("SET", KEYS[2], ARGV[4], "EX", ARGV[3])
return 1
`)

// RedisStore keeps sessions as JSON strings with a Redis TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to addr.
func NewRedisStore(addr, password string, db int, ttl time.Duration) *RedisStore {
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), ttl)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisSessionKey(id string) string { return redisKeyPrefix + "session:" + id }
func redisUserKey(id string) string    { return redisKeyPrefix + "user:" + id }

func (r *RedisStore) Get(ctx context.Context, userID string) (*Session, error) {
	id, err := r.client.Get(ctx, redisUserKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get user: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *RedisStore) GetByID(ctx context.Context, sessionID string) (*Session, error) {
	raw, err := r.client.Get(ctx, redisSessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) Put(ctx context.Context, s *Session, expectedVersion int64) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ttl := int64(r.ttl / time.Second)
	if ttl <= 0 {
		ttl = 1
	}
	res, err := putScript.Run(ctx, r.client,
		[]string{redisSessionKey(s.SessionID), redisUserKey(s.UserID)},
		string(payload), expectedVersion, ttl, s.SessionID,
	).Int()
	if err != nil {
		return fmt.Errorf("redis put session: %w", err)
	}
	switch res {
	case 0:
		return ErrVersionMismatch
	case -1:
		return ErrNotFound
	}
	return nil
}

// Close releases the client.
func (r *RedisStore) Close() error { return r.client.Close() }

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionsKey = "relay:sessions" // hash: symbol -> session id
	recordKey   = "relay:session:" // string: session id -> JSON record
)

// deleteIfOwner drops the symbol's hash field only when it still points at
// the given session, so a replaced session cannot evict its successor.
var deleteIfOwner = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) == ARGV[2] then
	redis.call('HDEL', KEYS[1], ARGV[1])
end
return redis.call('DEL', KEYS[2])
`)

// Compile-time check to ensure RedisStore implements SessionStore
var _ SessionStore = (*RedisStore)(nil)

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore keeps session records for at most ttl so entries left by a
// crashed relay age out.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) PutSession(ctx context.Context, rec SessionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, sessionsKey, rec.Symbol, rec.SessionID)
	pipe.Set(ctx, recordKey+rec.SessionID, payload, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session %s: %w", rec.SessionID, err)
	}
	return nil
}

func (r *RedisStore) DeleteSession(ctx context.Context, symbol, sessionID string) error {
	keys := []string{sessionsKey, recordKey + sessionID}
	if err := deleteIfOwner.Run(ctx, r.client, keys, symbol, sessionID).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// ActiveSessions lists the directory (HGETALL + MGET). Sessions whose
// record already expired are returned with only symbol and id set.
func (r *RedisStore) ActiveSessions(ctx context.Context) ([]SessionRecord, error) {
	owners, err := r.client.HGetAll(ctx, sessionsKey).Result()
	if err != nil {
		return nil, err
	}
	if len(owners) == 0 {
		return nil, nil
	}

	symbols := make([]string, 0, len(owners))
	keys := make([]string, 0, len(owners))
	for sym, id := range owners {
		symbols = append(symbols, sym)
		keys = append(keys, recordKey+id)
	}

	results, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	records := make([]SessionRecord, 0, len(results))
	for i, val := range results {
		rec := SessionRecord{Symbol: symbols[i], SessionID: owners[symbols[i]]}
		if payload, ok := val.(string); ok && payload != "" {
			if err := json.Unmarshal([]byte(payload), &rec); err != nil {
				return nil, fmt.Errorf("decode session record %s: %w", rec.SessionID, err)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

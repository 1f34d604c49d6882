package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "sasha:mailbox:"

// drainScript reads and deletes a mailbox in one round trip so a message
// appended concurrently lands either in this drain or the next, never both.
var drainScript = redis.NewScript(`
local vals = redis.call('LRANGE', KEYS[1], 0, -1)
redis.call('DEL', KEYS[1])
return vals
`)

// RedisStore backs mailboxes with Redis lists: RPUSH+LTRIM+EXPIRE on append,
// a Lua LRANGE+DEL on drain. Required whenever producer and consumer may run
// in different processes.
type RedisStore struct {
	client   *redis.Client
	capacity int
	ttl      time.Duration
}

func NewRedisStore(url string, capacity int, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{
		client:   redis.NewClient(opts),
		capacity: capacity,
		ttl:      ttl,
	}, nil
}

func (s *RedisStore) key(sessionID string) string {
	return redisKeyPrefix + sessionID
}

func (s *RedisStore) Append(ctx context.Context, sessionID string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := s.key(sessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-s.capacity), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Drain(ctx context.Context, sessionID string) ([]Message, error) {
	raw, err := drainScript.Run(ctx, s.client, []string{s.key(sessionID)}).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	msgs := make([]Message, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			log.Printf("[mailbox] Dropping corrupt entry for session %s: %v", sessionID, err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Sweep is a no-op: Redis expires mailbox keys natively.
func (s *RedisStore) Sweep(ctx context.Context) error { return nil }

func (s *RedisStore) Close() error { return s.client.Close() }

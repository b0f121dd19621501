package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "vidfetch:job:"
	redisIndexKey  = "vidfetch:history"
)

// RedisStore keeps history entries as JSON values with an optional expiry,
// indexed by finish time in a sorted set.
type RedisStore struct {
	Client *redis.Client
	TTL    time.Duration // 0 keeps entries forever
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to addr and checks the server answers.
func NewRedisStore(ctx context.Context, addr string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return &RedisStore{Client: client, TTL: ttl}, nil
}

func (s *RedisStore) Record(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, redisKeyPrefix+e.ID, data, s.TTL)
		p.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(e.FinishedAt.UnixNano()), Member: e.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("recording job %s: %w", e.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Entry, error) {
	val, err := s.Client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("fetching job %s: %w", id, err)
	}
	var e Entry
	if err := json.Unmarshal(val, &e); err != nil {
		return Entry{}, fmt.Errorf("fetching job %s: %w", id, err)
	}
	return e, nil
}

// List reads the index newest first and drops ids whose value has expired.
func (s *RedisStore) List(ctx context.Context, limit int) ([]Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.Client.ZRevRange(ctx, redisIndexKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisKeyPrefix + id
	}
	vals, err := s.Client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}

	var (
		entries []Entry
		expired []any
	)
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			return nil, fmt.Errorf("listing history: %w", err)
		}
		entries = append(entries, e)
	}
	if len(expired) > 0 {
		_ = s.Client.ZRem(ctx, redisIndexKey, expired...).Err()
	}
	return entries, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, redisKeyPrefix+id)
		p.ZRem(ctx, redisIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting job %s: %w", id, err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.Client.Close()
}

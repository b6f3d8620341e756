package orderbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the book in Redis: a ZSET of prices per side, a LIST per
// price queue and a HASH of aggregates per side. Commit runs in MULTI/EXEC.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	resultTTL time.Duration
}

// NewRedisStore wraps client. Keys are namespaced under prefix when set.
func NewRedisStore(client redis.UniversalClient, prefix string, resultTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, resultTTL: resultTTL}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) Queue(ctx context.Context, key Key, price int64) ([]Entry, error) {
	raw, err := s.client.LRange(ctx, s.key(key.Queue(price)), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("failed to decode entry in %s: %w", key.Queue(price), err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RedisStore) Aggregate(ctx context.Context, key Key, price int64) (int64, error) {
	total, err := s.client.HGet(ctx, s.key(key.Aggregate()), strconv.FormatInt(price, 10)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return total, err
}

func (s *RedisStore) Prices(ctx context.Context, key Key) ([]int64, error) {
	members, err := s.client.ZRange(ctx, s.key(key.PriceList()), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	prices := make([]int64, 0, len(members))
	for _, m := range members {
		p, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid price %q in %s: %w", m, key.PriceList(), err)
		}
		prices = append(prices, p)
	}
	return prices, nil
}

func (s *RedisStore) resultKey(id string) string {
	return s.key("result:" + id)
}

func (s *RedisStore) Result(ctx context.Context, id string) ([]byte, bool, error) {
	body, err := s.client.Get(ctx, s.resultKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

func (s *RedisStore) Commit(ctx context.Context, writes []LevelWrite, record *Record) error {
	encoded := make([][]interface{}, len(writes))
	for i, w := range writes {
		items := make([]interface{}, len(w.Entries))
		for j, e := range w.Entries {
			b, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to encode entry: %w", err)
			}
			items[j] = b
		}
		encoded[i] = items
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, w := range writes {
			queue := s.key(w.Key.Queue(w.Price))
			field := strconv.FormatInt(w.Price, 10)
			pipe.Del(ctx, queue)
			if len(w.Entries) == 0 {
				pipe.HDel(ctx, s.key(w.Key.Aggregate()), field)
				pipe.ZRem(ctx, s.key(w.Key.PriceList()), field)
				continue
			}
			pipe.RPush(ctx, queue, encoded[i]...)
			pipe.HSet(ctx, s.key(w.Key.Aggregate()), field, w.Total())
			pipe.ZAdd(ctx, s.key(w.Key.PriceList()), redis.Z{Score: float64(w.Price), Member: field})
		}
		if record != nil {
			pipe.Set(ctx, s.resultKey(record.ID), record.Body, s.resultTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit book writes: %w", err)
	}
	return nil
}

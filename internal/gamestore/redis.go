package gamestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func gameKey(id string) string    { return "chess:game:" + id }
func idxUserKey(id string) string { return "chess:index:user:" + id }

// RedisStore keeps each game as one JSON value and a per-user sorted set
// (score: updated_at in ms) for listing.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

type RedisOption func(*RedisStore)

// WithTTL expires game keys after d. Zero keeps them forever.
func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

func NewRedisStore(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Game, error) {
	raw, err := s.rdb.Get(ctx, gameKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get game: %w", err)
	}
	var g Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode game: %w", err)
	}
	return &g, nil
}

func (s *RedisStore) Insert(ctx context.Context, g *Game) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode game: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, gameKey(g.ID), raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis insert game: %w", err)
	}
	if !ok {
		return ErrExists
	}
	if err := s.index(ctx, s.rdb, g); err != nil {
		return fmt.Errorf("redis index game: %w", err)
	}
	return nil
}

// UpdateIfVersion uses WATCH on the game key: a concurrent writer between the
// version check and EXEC aborts the transaction with TxFailedErr.
func (s *RedisStore) UpdateIfVersion(ctx context.Context, g *Game, expected int64) error {
	key := gameKey(g.ID)
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode game: %w", err)
	}

	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var stored Game
		if err := json.Unmarshal(cur, &stored); err != nil {
			return fmt.Errorf("decode game: %w", err)
		}
		if stored.Version != expected {
			return ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, s.ttl)
			return s.index(ctx, pipe, g)
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return ErrVersionConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrVersionConflict):
		return err
	default:
		return fmt.Errorf("redis update game: %w", err)
	}
}

func (s *RedisStore) ListByPlayer(ctx context.Context, user string, limit int) ([]*Game, error) {
	n := normLimit(limit)
	ids, err := s.rdb.ZRevRange(ctx, idxUserKey(user), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list games: %w", err)
	}
	if len(ids) == 0 {
		return []*Game{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = gameKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load games: %w", err)
	}
	out := make([]*Game, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			// expired or removed out of band
			continue
		}
		var g Game
		if err := json.Unmarshal([]byte(str), &g); err != nil {
			continue
		}
		out = append(out, &g)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *RedisStore) index(ctx context.Context, c redis.Cmdable, g *Game) error {
	member := redis.Z{Score: float64(g.UpdatedAt.UnixMilli()), Member: g.ID}
	for _, uid := range g.Participants() {
		if err := c.ZAdd(ctx, idxUserKey(uid), member).Err(); err != nil {
			return err
		}
	}
	return nil
}

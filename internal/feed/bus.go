// Package feed fans committed moves out to game watchers.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-web/internal/obslog"
	"github.com/park285/cheese-web/pkg/chessdto"
)

const subscriberBuffer = 16

// Bus carries move events between the process that commits a move and the
// processes holding watcher sockets.
type Bus interface {
	PublishMove(ctx context.Context, ev chessdto.MoveEvent) error
	Subscribe(ctx context.Context, gameID string) (*Subscription, error)
}

// Subscription delivers events for one game until Close.
type Subscription struct {
	C <-chan chessdto.MoveEvent

	closeOnce sync.Once
	close     func()
}

func (s *Subscription) Close() {
	s.closeOnce.Do(s.close)
}

func channelName(gameID string) string { return "chess:feed:" + strings.TrimSpace(gameID) }

// RedisBus uses Redis pub/sub so watchers on any replica see every move.
type RedisBus struct{ rdb *redis.Client }

func NewRedisBus(rdb *redis.Client) *RedisBus { return &RedisBus{rdb: rdb} }

func (b *RedisBus) PublishMove(ctx context.Context, ev chessdto.MoveEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal move event: %w", err)
	}
	if err := b.rdb.Publish(ctx, channelName(ev.GameID), raw).Err(); err != nil {
		return fmt.Errorf("publish move event: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, gameID string) (*Subscription, error) {
	ps := b.rdb.Subscribe(ctx, channelName(gameID))
	// wait for the subscription confirmation so no publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", gameID, err)
	}

	out := make(chan chessdto.MoveEvent, subscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var ev chessdto.MoveEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				obslog.L().Warn("feed_decode_error", zap.String("game_id", gameID), zap.Error(err))
				continue
			}
			select {
			case out <- ev:
			case <-done:
				return
			}
		}
	}()
	return &Subscription{C: out, close: func() {
		close(done)
		_ = ps.Close()
	}}, nil
}

// LocalBus fans out inside one process. Slow subscribers drop events rather
// than block the publisher.
type LocalBus struct {
	mu   sync.RWMutex
	subs map[string]map[chan chessdto.MoveEvent]struct{}
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[chan chessdto.MoveEvent]struct{})}
}

func (b *LocalBus) PublishMove(ctx context.Context, ev chessdto.MoveEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[ev.GameID] {
		select {
		case ch <- ev:
		default:
			obslog.L().Warn("feed_subscriber_lagging", zap.String("game_id", ev.GameID), zap.Int("ply", ev.Ply))
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, gameID string) (*Subscription, error) {
	ch := make(chan chessdto.MoveEvent, subscriberBuffer)
	b.mu.Lock()
	set, ok := b.subs[gameID]
	if !ok {
		set = make(map[chan chessdto.MoveEvent]struct{})
		b.subs[gameID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	return &Subscription{C: ch, close: func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[gameID], ch)
		if len(b.subs[gameID]) == 0 {
			delete(b.subs, gameID)
		}
		close(ch)
	}}, nil
}

package gamestore

import (
	"context"
	"sort"
	"sync"
)

// memstore is a development-only Store used when no backend is configured.
type memstore struct {
	mu    sync.RWMutex
	games map[string]*Game
}

func NewMemoryStore() Store {
	return &memstore{games: make(map[string]*Game)}
}

func (m *memstore) Get(ctx context.Context, id string) (*Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	if !ok {
		return nil, ErrNotFound
	}
	return g.Clone(), nil
}

func (m *memstore) Insert(ctx context.Context, g *Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.games[g.ID]; exists {
		return ErrExists
	}
	m.games[g.ID] = g.Clone()
	return nil
}

func (m *memstore) UpdateIfVersion(ctx context.Context, g *Game, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.games[g.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expected {
		return ErrVersionConflict
	}
	m.games[g.ID] = g.Clone()
	return nil
}

func (m *memstore) ListByPlayer(ctx context.Context, user string, limit int) ([]*Game, error) {
	m.mu.RLock()
	items := make([]*Game, 0)
	for _, g := range m.games {
		if g.WhitePlayer == user || g.BlackPlayer == user {
			items = append(items, g.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID > items[j].ID
	})
	if n := normLimit(limit); len(items) > n {
		items = items[:n]
	}
	return items, nil
}

func (m *memstore) Close() error { return nil }

package stats

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memrepo keeps stats in process memory; used when no database is configured.
// A unit holds the write lock from start to commit, so units run one at a time.
type memrepo struct {
	mu sync.RWMutex

	profiles     map[string]*Profile
	achievements map[string]map[string]time.Time // user -> achievement -> earned
	games        map[string]*ArchivedGame
}

func NewMemoryRepository() Repository {
	return &memrepo{
		profiles:     make(map[string]*Profile),
		achievements: make(map[string]map[string]time.Time),
		games:        make(map[string]*ArchivedGame),
	}
}

func (m *memrepo) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memrepo) ListAchievements(ctx context.Context, userID string) ([]Achievement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Achievement, 0, len(m.achievements[userID]))
	for id, at := range m.achievements[userID] {
		a, ok := catalogEntry(id)
		if !ok {
			a = Achievement{ID: id, Title: id}
		}
		a.EarnedAt = at
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EarnedAt.Equal(out[j].EarnedAt) {
			return out[i].EarnedAt.Before(out[j].EarnedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memrepo) WithinTx(ctx context.Context, fn func(tx Tx) error) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		m:        m,
		profiles: make(map[string]*Profile),
		games:    make(map[string]*ArchivedGame),
		earnedAt: make(map[Grant]time.Time),
	}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for id, g := range tx.games {
		m.games[id] = g
	}
	for id, p := range tx.profiles {
		m.profiles[id] = p
	}
	for _, gr := range tx.granted {
		set, ok := m.achievements[gr.UserID]
		if !ok {
			set = make(map[string]time.Time)
			m.achievements[gr.UserID] = set
		}
		set[gr.AchievementID] = tx.earnedAt[gr]
	}
	return tx.granted, nil
}

// memTx stages writes until the unit commits. The caller holds m.mu.
type memTx struct {
	m        *memrepo
	profiles map[string]*Profile
	games    map[string]*ArchivedGame
	granted  []Grant
	earnedAt map[Grant]time.Time
}

func (t *memTx) InsertGame(ctx context.Context, g *ArchivedGame) error {
	if _, ok := t.m.games[g.GameID]; ok {
		return ErrDuplicateGame
	}
	if _, ok := t.games[g.GameID]; ok {
		return ErrDuplicateGame
	}
	cp := *g
	t.games[g.GameID] = &cp
	return nil
}

func (t *memTx) LockProfile(ctx context.Context, userID string) (*Profile, error) {
	p, ok := t.profiles[userID]
	if !ok {
		if p, ok = t.m.profiles[userID]; !ok {
			return nil, nil
		}
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) UpsertProfile(ctx context.Context, p *Profile) error {
	cp := *p
	cp.Version++
	t.profiles[p.UserID] = &cp
	return nil
}

func (t *memTx) GrantAchievement(ctx context.Context, userID, achievementID string, at time.Time) error {
	gr := Grant{UserID: userID, AchievementID: achievementID}
	if _, ok := t.m.achievements[userID][achievementID]; ok {
		return nil
	}
	if _, ok := t.earnedAt[gr]; ok {
		return nil
	}
	t.earnedAt[gr] = at
	t.granted = append(t.granted, gr)
	return nil
}

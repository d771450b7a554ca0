// Package gamestore persists game sessions behind a single conditional-write
// contract. Every backend rejects an update whose expected version no longer
// matches the stored row.
package gamestore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("game not found")
	ErrExists          = errors.New("game already exists")
	ErrVersionConflict = errors.New("game version conflict")
)

type Status string

const (
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Game is the persisted session row. JSON tags follow the column names of
// the games table so the PostgREST backend can send the struct as-is.
type Game struct {
	ID           string    `json:"id"`
	WhitePlayer  string    `json:"white_player"`
	BlackPlayer  string    `json:"black_player"`
	FEN          string    `json:"fen"`
	Moves        []string  `json:"moves"`
	MovesUCI     []string  `json:"moves_uci"`
	Status       Status    `json:"status"`
	WinnerID     string    `json:"winner_id,omitempty"`
	ResultMethod string    `json:"result_method"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers never share history slices with a
// backend.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	cp := *g
	cp.Moves = append([]string(nil), g.Moves...)
	cp.MovesUCI = append([]string(nil), g.MovesUCI...)
	return &cp
}

// Participants returns the distinct non-empty player ids.
func (g *Game) Participants() []string {
	out := make([]string, 0, 2)
	for _, id := range []string{g.WhitePlayer, g.BlackPlayer} {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if len(out) == 1 && out[0] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Store is implemented by the postgrest, postgres, redis and memory
// backends.
type Store interface {
	// Get returns ErrNotFound when no row exists.
	Get(ctx context.Context, id string) (*Game, error)
	// Insert returns ErrExists when the id is taken.
	Insert(ctx context.Context, g *Game) error
	// UpdateIfVersion replaces the stored row only when its version equals
	// expected. It returns ErrVersionConflict otherwise and ErrNotFound when
	// the row is gone.
	UpdateIfVersion(ctx context.Context, g *Game, expected int64) error
	// ListByPlayer returns games where user plays either colour, most recent
	// first.
	ListByPlayer(ctx context.Context, user string, limit int) ([]*Game, error)
	Close() error
}

const defaultListLimit = 20

func normLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > 200 {
		return 200
	}
	return limit
}

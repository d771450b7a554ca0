package gamestore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/park285/cheese-web/internal/supabase"
)

const gamesTable = "games"

// PostgRESTStore stores games in a Supabase project through its REST API.
// The conditional write is a PATCH filtered on both id and version.
type PostgRESTStore struct {
	c *supabase.Client
}

func NewPostgRESTStore(c *supabase.Client) *PostgRESTStore {
	return &PostgRESTStore{c: c}
}

func (s *PostgRESTStore) Get(ctx context.Context, id string) (*Game, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("id", "eq."+id)
	q.Set("limit", "1")
	var rows []*Game
	if err := s.c.Select(ctx, gamesTable, q, &rows); err != nil {
		return nil, fmt.Errorf("postgrest get game: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func (s *PostgRESTStore) Insert(ctx context.Context, g *Game) error {
	row := g.Clone()
	if row.Moves == nil {
		row.Moves = []string{}
	}
	if row.MovesUCI == nil {
		row.MovesUCI = []string{}
	}
	if err := s.c.Insert(ctx, gamesTable, row); err != nil {
		if supabase.IsConflict(err) {
			return ErrExists
		}
		return fmt.Errorf("postgrest insert game: %w", err)
	}
	return nil
}

type gamePatch struct {
	FEN          string   `json:"fen"`
	Moves        []string `json:"moves"`
	MovesUCI     []string `json:"moves_uci"`
	Status       Status   `json:"status"`
	WinnerID     *string  `json:"winner_id"`
	ResultMethod string   `json:"result_method"`
	Version      int64    `json:"version"`
	UpdatedAt    string   `json:"updated_at"`
}

func (s *PostgRESTStore) UpdateIfVersion(ctx context.Context, g *Game, expected int64) error {
	patch := gamePatch{
		FEN:          g.FEN,
		Moves:        g.Moves,
		MovesUCI:     g.MovesUCI,
		Status:       g.Status,
		ResultMethod: g.ResultMethod,
		Version:      g.Version,
		UpdatedAt:    g.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if g.WinnerID != "" {
		w := g.WinnerID
		patch.WinnerID = &w
	}
	q := url.Values{}
	q.Set("id", "eq."+g.ID)
	q.Set("version", "eq."+strconv.FormatInt(expected, 10))

	var updated []*Game
	if err := s.c.Update(ctx, gamesTable, q, patch, &updated); err != nil {
		return fmt.Errorf("postgrest update game: %w", err)
	}
	if len(updated) > 0 {
		return nil
	}
	// Nothing matched: either the row is gone or its version moved on.
	if _, err := s.Get(ctx, g.ID); err != nil {
		return err
	}
	return ErrVersionConflict
}

func (s *PostgRESTStore) ListByPlayer(ctx context.Context, user string, limit int) ([]*Game, error) {
	q := url.Values{}
	q.Set("select", "*")
	u := supabase.Quote(user)
	q.Set("or", fmt.Sprintf("(white_player.eq.%s,black_player.eq.%s)", u, u))
	q.Set("order", "updated_at.desc")
	q.Set("limit", strconv.Itoa(normLimit(limit)))
	var rows []*Game
	if err := s.c.Select(ctx, gamesTable, q, &rows); err != nil {
		return nil, fmt.Errorf("postgrest list games: %w", err)
	}
	if rows == nil {
		rows = []*Game{}
	}
	return rows, nil
}

func (s *PostgRESTStore) Close() error { return nil }

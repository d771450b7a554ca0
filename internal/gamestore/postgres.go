package gamestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Schema creates the games table. It is idempotent and executed by the
// migrate command.
const Schema = `
CREATE TABLE IF NOT EXISTS games (
	id            TEXT PRIMARY KEY,
	white_player  TEXT NOT NULL,
	black_player  TEXT NOT NULL,
	fen           TEXT NOT NULL,
	moves         JSONB NOT NULL DEFAULT '[]'::jsonb,
	moves_uci     JSONB NOT NULL DEFAULT '[]'::jsonb,
	status        TEXT NOT NULL DEFAULT 'active',
	winner_id     TEXT,
	result_method TEXT NOT NULL DEFAULT '',
	version       BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS games_white_player_idx ON games (white_player, updated_at DESC);
CREATE INDEX IF NOT EXISTS games_black_player_idx ON games (black_player, updated_at DESC);
`

const selectColumns = `id, white_player, black_player, fen, moves, moves_uci, status,
	winner_id, result_method, version, created_at, updated_at`

// PostgresStore talks to Postgres directly through database/sql and lib/pq.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate games: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Game, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM games WHERE id = $1`, id)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select game: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) Insert(ctx context.Context, g *Game) error {
	moves, movesUCI, err := marshalMoves(g)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO games (
			id, white_player, black_player, fen, moves, moves_uci, status,
			winner_id, result_method, version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7, $8, $9, $10, $11, $12)`
	_, err = s.db.ExecContext(ctx, query,
		g.ID, g.WhitePlayer, g.BlackPlayer, g.FEN, moves, movesUCI, string(g.Status),
		nullString(g.WinnerID), g.ResultMethod, g.Version, g.CreatedAt, g.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	return nil
}

// UpdateIfVersion issues a single UPDATE guarded by the version column. Zero
// affected rows means the version moved on, unless the row does not exist.
func (s *PostgresStore) UpdateIfVersion(ctx context.Context, g *Game, expected int64) error {
	moves, movesUCI, err := marshalMoves(g)
	if err != nil {
		return err
	}
	const query = `
		UPDATE games SET
			fen = $3,
			moves = $4::jsonb,
			moves_uci = $5::jsonb,
			status = $6,
			winner_id = $7,
			result_method = $8,
			version = $9,
			updated_at = $10
		WHERE id = $1 AND version = $2`
	res, err := s.db.ExecContext(ctx, query,
		g.ID, expected, g.FEN, moves, movesUCI, string(g.Status),
		nullString(g.WinnerID), g.ResultMethod, g.Version, g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update game: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update game rows: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM games WHERE id = $1)`, g.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check game: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func (s *PostgresStore) ListByPlayer(ctx context.Context, user string, limit int) ([]*Game, error) {
	query := `SELECT ` + selectColumns + `
		FROM games
		WHERE white_player = $1 OR black_player = $1
		ORDER BY updated_at DESC
		LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, user, normLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("select games: %w", err)
	}
	defer rows.Close()

	games := make([]*Game, 0, normLimit(limit))
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate games: %w", err)
	}
	return games, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(r rowScanner) (*Game, error) {
	var (
		g            Game
		status       string
		winner       sql.NullString
		movesJSON    []byte
		movesUCIJSON []byte
	)
	if err := r.Scan(
		&g.ID,
		&g.WhitePlayer,
		&g.BlackPlayer,
		&g.FEN,
		&movesJSON,
		&movesUCIJSON,
		&status,
		&winner,
		&g.ResultMethod,
		&g.Version,
		&g.CreatedAt,
		&g.UpdatedAt,
	); err != nil {
		return nil, err
	}
	g.Status = Status(status)
	if winner.Valid {
		g.WinnerID = winner.String
	}
	if err := json.Unmarshal(movesJSON, &g.Moves); err != nil {
		return nil, fmt.Errorf("unmarshal moves: %w", err)
	}
	if err := json.Unmarshal(movesUCIJSON, &g.MovesUCI); err != nil {
		return nil, fmt.Errorf("unmarshal moves_uci: %w", err)
	}
	return &g, nil
}

func marshalMoves(g *Game) ([]byte, []byte, error) {
	moves := g.Moves
	if moves == nil {
		moves = []string{}
	}
	uci := g.MovesUCI
	if uci == nil {
		uci = []string{}
	}
	a, err := json.Marshal(moves)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal moves: %w", err)
	}
	b, err := json.Marshal(uci)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal moves_uci: %w", err)
	}
	return a, b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

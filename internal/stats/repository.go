package stats

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Schema creates the stats tables. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS user_stats (
	user_id        TEXT PRIMARY KEY,
	rating         INTEGER NOT NULL DEFAULT 1200,
	games_played   INTEGER NOT NULL DEFAULT 0,
	wins           INTEGER NOT NULL DEFAULT 0,
	losses         INTEGER NOT NULL DEFAULT 0,
	draws          INTEGER NOT NULL DEFAULT 0,
	streak         INTEGER NOT NULL DEFAULT 0,
	streak_type    TEXT NOT NULL DEFAULT '',
	last_played_at TIMESTAMPTZ,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	version        BIGINT NOT NULL DEFAULT 0
);
ALTER TABLE user_stats ADD COLUMN IF NOT EXISTS version BIGINT NOT NULL DEFAULT 0;
CREATE TABLE IF NOT EXISTS achievements (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	description TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS user_achievements (
	user_id        TEXT NOT NULL,
	achievement_id TEXT NOT NULL REFERENCES achievements (id),
	earned_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, achievement_id)
);
CREATE TABLE IF NOT EXISTS game_archive (
	game_id       TEXT PRIMARY KEY,
	white_player  TEXT NOT NULL,
	black_player  TEXT NOT NULL,
	winner_id     TEXT,
	result        TEXT NOT NULL,
	result_method TEXT NOT NULL,
	moves_san     JSONB NOT NULL,
	moves_uci     JSONB NOT NULL,
	pgn           TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL DEFAULT 0
);
`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// Migrate applies Schema and the recording function, then seeds the
// achievement catalogue.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate stats: %w", err)
	}
	if _, err := db.ExecContext(ctx, RecordFunction); err != nil {
		return fmt.Errorf("migrate %s: %w", recordFunctionName, err)
	}
	const seed = `
		INSERT INTO achievements (id, title, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description`
	for _, a := range Catalog {
		if _, err := db.ExecContext(ctx, seed, a.ID, a.Title, a.Description); err != nil {
			return fmt.Errorf("seed achievement %s: %w", a.ID, err)
		}
	}
	return nil
}

const profileColumns = `
			user_id,
			rating,
			games_played,
			wins,
			losses,
			draws,
			streak,
			streak_type,
			last_played_at,
			updated_at,
			created_at,
			version`

func (r *repository) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	return selectProfile(ctx, r.db, `SELECT`+profileColumns+`
		FROM user_stats
		WHERE user_id = $1`, userID)
}

func selectProfile(ctx context.Context, q querier, query, userID string) (*Profile, error) {
	var (
		p          Profile
		lastPlayed sql.NullTime
	)
	err := q.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID,
		&p.Rating,
		&p.GamesPlayed,
		&p.Wins,
		&p.Losses,
		&p.Draws,
		&p.Streak,
		&p.StreakType,
		&lastPlayed,
		&p.UpdatedAt,
		&p.CreatedAt,
		&p.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select user stats: %w", err)
	}
	if lastPlayed.Valid {
		p.LastPlayedAt = lastPlayed.Time
	}
	return &p, nil
}

func (r *repository) ListAchievements(ctx context.Context, userID string) ([]Achievement, error) {
	const query = `
		SELECT a.id, a.title, a.description, ua.earned_at
		FROM user_achievements ua
		JOIN achievements a ON a.id = ua.achievement_id
		WHERE ua.user_id = $1
		ORDER BY ua.earned_at ASC, a.id ASC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("select achievements: %w", err)
	}
	defer rows.Close()

	var out []Achievement
	for rows.Next() {
		var a Achievement
		if err := rows.Scan(&a.ID, &a.Title, &a.Description, &a.EarnedAt); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// WithinTx runs fn inside one database transaction. Profiles are locked with
// SELECT ... FOR UPDATE, so concurrent units over the same user queue up.
func (r *repository) WithinTx(ctx context.Context, fn func(tx Tx) error) (_ []Grant, err error) {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin stats tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	tx := &pgTx{q: sqlTx}
	if err = fn(tx); err != nil {
		return nil, err
	}
	if err = sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit stats tx: %w", err)
	}
	return tx.granted, nil
}

type pgTx struct {
	q       querier
	granted []Grant
}

func (t *pgTx) LockProfile(ctx context.Context, userID string) (*Profile, error) {
	// FOR UPDATE cannot lock a missing row; create it first so a brand-new
	// user is serialized too. The row disappears again on rollback.
	const ensure = `
		INSERT INTO user_stats (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`
	if _, err := t.q.ExecContext(ctx, ensure, userID); err != nil {
		return nil, fmt.Errorf("ensure user stats: %w", err)
	}
	return selectProfile(ctx, t.q, `SELECT`+profileColumns+`
		FROM user_stats
		WHERE user_id = $1
		FOR UPDATE`, userID)
}

func (t *pgTx) UpsertProfile(ctx context.Context, p *Profile) error {
	if p == nil {
		return fmt.Errorf("nil profile payload")
	}
	const query = `
		INSERT INTO user_stats (
			user_id,
			rating,
			games_played,
			wins,
			losses,
			draws,
			streak,
			streak_type,
			last_played_at,
			updated_at,
			created_at,
			version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW(), 1)
		ON CONFLICT (user_id)
		DO UPDATE SET
			rating = EXCLUDED.rating,
			games_played = EXCLUDED.games_played,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			draws = EXCLUDED.draws,
			streak = EXCLUDED.streak,
			streak_type = EXCLUDED.streak_type,
			last_played_at = EXCLUDED.last_played_at,
			updated_at = NOW(),
			version = user_stats.version + 1`

	_, err := t.q.ExecContext(
		ctx,
		query,
		p.UserID,
		p.Rating,
		p.GamesPlayed,
		p.Wins,
		p.Losses,
		p.Draws,
		p.Streak,
		p.StreakType,
		nullTime(p.LastPlayedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert user stats: %w", err)
	}
	return nil
}

func (t *pgTx) GrantAchievement(ctx context.Context, userID, achievementID string, at time.Time) error {
	const query = `
		INSERT INTO user_achievements (user_id, achievement_id, earned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, achievement_id) DO NOTHING`
	res, err := t.q.ExecContext(ctx, query, userID, achievementID, at)
	if err != nil {
		return fmt.Errorf("insert user achievement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert user achievement: %w", err)
	}
	if n == 1 {
		t.granted = append(t.granted, Grant{UserID: userID, AchievementID: achievementID})
	}
	return nil
}

func (t *pgTx) InsertGame(ctx context.Context, g *ArchivedGame) error {
	if g == nil {
		return fmt.Errorf("nil archived game payload")
	}
	movesSAN, err := json.Marshal(g.MovesSAN)
	if err != nil {
		return fmt.Errorf("marshal moves_san: %w", err)
	}
	movesUCI, err := json.Marshal(g.MovesUCI)
	if err != nil {
		return fmt.Errorf("marshal moves_uci: %w", err)
	}

	const query = `
		INSERT INTO game_archive (
			game_id,
			white_player,
			black_player,
			winner_id,
			result,
			result_method,
			moves_san,
			moves_uci,
			pgn,
			started_at,
			ended_at,
			duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $10, $11, $12)
		ON CONFLICT (game_id) DO NOTHING`

	res, err := t.q.ExecContext(
		ctx,
		query,
		g.GameID,
		g.WhitePlayer,
		g.BlackPlayer,
		sql.NullString{String: g.WinnerID, Valid: g.WinnerID != ""},
		g.Result,
		g.ResultMethod,
		movesSAN,
		movesUCI,
		g.PGN,
		g.StartedAt,
		g.EndedAt,
		g.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert archived game: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert archived game: %w", err)
	}
	if n == 0 {
		return ErrDuplicateGame
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

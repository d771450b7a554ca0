package stats

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/park285/cheese-web/internal/supabase"
)

const (
	statsTable         = "user_stats"
	userAchTable       = "user_achievements"
	archiveTable       = "game_archive"
	recordFunctionName = "record_game_result"
)

// RecordFunction commits one recording unit for the PostgREST repository.
// The whole body runs in the RPC's transaction; the inner block rolls back
// every write of the unit when a profile version moved on.
const RecordFunction = `
CREATE OR REPLACE FUNCTION record_game_result(payload jsonb) RETURNS jsonb
LANGUAGE plpgsql AS $$
DECLARE
	g       jsonb := payload->'game';
	p       jsonb;
	gr      jsonb;
	granted jsonb := '[]'::jsonb;
BEGIN
	BEGIN
		INSERT INTO game_archive (
			game_id, white_player, black_player, winner_id, result, result_method,
			moves_san, moves_uci, pgn, started_at, ended_at, duration_ms
		)
		VALUES (
			g->>'game_id', g->>'white_player', g->>'black_player', NULLIF(g->>'winner_id', ''),
			g->>'result', g->>'result_method', g->'moves_san', g->'moves_uci', g->>'pgn',
			(g->>'started_at')::timestamptz, (g->>'ended_at')::timestamptz, (g->>'duration_ms')::bigint
		)
		ON CONFLICT (game_id) DO NOTHING;
		IF NOT FOUND THEN
			RETURN jsonb_build_object('status', 'duplicate');
		END IF;

		FOR p IN SELECT value FROM jsonb_array_elements(payload->'profiles') LOOP
			IF jsonb_typeof(p->'expected_version') IS DISTINCT FROM 'number' THEN
				INSERT INTO user_stats (
					user_id, rating, games_played, wins, losses, draws, streak, streak_type,
					last_played_at, updated_at, created_at, version
				)
				VALUES (
					p->>'user_id', (p->>'rating')::int, (p->>'games_played')::int, (p->>'wins')::int,
					(p->>'losses')::int, (p->>'draws')::int, (p->>'streak')::int, p->>'streak_type',
					(p->>'last_played_at')::timestamptz, now(), now(), 1
				)
				ON CONFLICT (user_id) DO NOTHING;
			ELSE
				UPDATE user_stats SET
					rating = (p->>'rating')::int,
					games_played = (p->>'games_played')::int,
					wins = (p->>'wins')::int,
					losses = (p->>'losses')::int,
					draws = (p->>'draws')::int,
					streak = (p->>'streak')::int,
					streak_type = p->>'streak_type',
					last_played_at = (p->>'last_played_at')::timestamptz,
					updated_at = now(),
					version = version + 1
				WHERE user_id = p->>'user_id' AND version = (p->>'expected_version')::bigint;
			END IF;
			IF NOT FOUND THEN
				RAISE EXCEPTION 'profile % changed', p->>'user_id' USING ERRCODE = 'serialization_failure';
			END IF;
		END LOOP;

		FOR gr IN SELECT value FROM jsonb_array_elements(payload->'grants') LOOP
			INSERT INTO user_achievements (user_id, achievement_id, earned_at)
			VALUES (gr->>'user_id', gr->>'achievement_id', (gr->>'earned_at')::timestamptz)
			ON CONFLICT (user_id, achievement_id) DO NOTHING;
			IF FOUND THEN
				granted := granted || jsonb_build_array(jsonb_build_object(
					'user_id', gr->>'user_id', 'achievement_id', gr->>'achievement_id'));
			END IF;
		END LOOP;
	EXCEPTION WHEN serialization_failure THEN
		RETURN jsonb_build_object('status', 'conflict');
	END;
	RETURN jsonb_build_object('status', 'ok', 'granted', granted);
END;
$$;
`

// PostgRESTRepository keeps stats in a Supabase project. Reads go straight
// to the REST API; a unit buffers its writes and commits them in a single
// record_game_result call, with profile versions standing in for row locks.
type PostgRESTRepository struct {
	c *supabase.Client
}

func NewPostgRESTRepository(c *supabase.Client) *PostgRESTRepository {
	return &PostgRESTRepository{c: c}
}

type profileRow struct {
	UserID       string     `json:"user_id"`
	Rating       int        `json:"rating"`
	GamesPlayed  int        `json:"games_played"`
	Wins         int        `json:"wins"`
	Losses       int        `json:"losses"`
	Draws        int        `json:"draws"`
	Streak       int        `json:"streak"`
	StreakType   string     `json:"streak_type"`
	LastPlayedAt *time.Time `json:"last_played_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CreatedAt    time.Time  `json:"created_at"`
	Version      int64      `json:"version"`
}

func (r profileRow) profile() *Profile {
	p := &Profile{
		UserID:      r.UserID,
		Rating:      r.Rating,
		GamesPlayed: r.GamesPlayed,
		Wins:        r.Wins,
		Losses:      r.Losses,
		Draws:       r.Draws,
		Streak:      r.Streak,
		StreakType:  r.StreakType,
		UpdatedAt:   r.UpdatedAt,
		CreatedAt:   r.CreatedAt,
		Version:     r.Version,
	}
	if r.LastPlayedAt != nil {
		p.LastPlayedAt = *r.LastPlayedAt
	}
	return p
}

func (s *PostgRESTRepository) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("user_id", "eq."+userID)
	q.Set("limit", "1")
	var rows []profileRow
	if err := s.c.Select(ctx, statsTable, q, &rows); err != nil {
		return nil, fmt.Errorf("postgrest get user stats: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].profile(), nil
}

type achievementRow struct {
	AchievementID string    `json:"achievement_id"`
	EarnedAt      time.Time `json:"earned_at"`
}

func (s *PostgRESTRepository) ListAchievements(ctx context.Context, userID string) ([]Achievement, error) {
	q := url.Values{}
	q.Set("select", "achievement_id,earned_at")
	q.Set("user_id", "eq."+userID)
	q.Set("order", "earned_at.asc,achievement_id.asc")
	var rows []achievementRow
	if err := s.c.Select(ctx, userAchTable, q, &rows); err != nil {
		return nil, fmt.Errorf("postgrest list achievements: %w", err)
	}
	out := make([]Achievement, 0, len(rows))
	for _, row := range rows {
		a, ok := catalogEntry(row.AchievementID)
		if !ok {
			a = Achievement{ID: row.AchievementID, Title: row.AchievementID}
		}
		a.EarnedAt = row.EarnedAt
		out = append(out, a)
	}
	return out, nil
}

func (s *PostgRESTRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) ([]Grant, error) {
	tx := &restTx{c: s.c, expected: make(map[string]*int64)}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if tx.payload.Game == nil {
		return nil, fmt.Errorf("postgrest stats unit has no archived game")
	}
	if tx.payload.Profiles == nil {
		tx.payload.Profiles = []profileWrite{}
	}
	if tx.payload.Grants == nil {
		tx.payload.Grants = []grantWrite{}
	}

	var res recordResult
	err := s.c.RPC(ctx, recordFunctionName, map[string]any{"payload": tx.payload}, &res)
	switch {
	case supabase.IsConflict(err):
		// a concurrent unit won a unique key the function did not guard
		return nil, ErrProfileConflict
	case err != nil:
		return nil, fmt.Errorf("postgrest %s: %w", recordFunctionName, err)
	}
	switch res.Status {
	case "ok":
		return res.Granted, nil
	case "duplicate":
		return nil, ErrDuplicateGame
	case "conflict":
		return nil, ErrProfileConflict
	default:
		return nil, fmt.Errorf("postgrest %s: unexpected status %q", recordFunctionName, res.Status)
	}
}

type recordResult struct {
	Status  string  `json:"status"`
	Granted []Grant `json:"granted"`
}

type archiveWrite struct {
	GameID       string    `json:"game_id"`
	WhitePlayer  string    `json:"white_player"`
	BlackPlayer  string    `json:"black_player"`
	WinnerID     string    `json:"winner_id"`
	Result       string    `json:"result"`
	ResultMethod string    `json:"result_method"`
	MovesSAN     []string  `json:"moves_san"`
	MovesUCI     []string  `json:"moves_uci"`
	PGN          string    `json:"pgn"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	DurationMS   int64     `json:"duration_ms"`
}

type profileWrite struct {
	profileRow
	ExpectedVersion *int64 `json:"expected_version"`
}

type grantWrite struct {
	UserID        string    `json:"user_id"`
	AchievementID string    `json:"achievement_id"`
	EarnedAt      time.Time `json:"earned_at"`
}

type recordPayload struct {
	Game     *archiveWrite  `json:"game"`
	Profiles []profileWrite `json:"profiles"`
	Grants   []grantWrite   `json:"grants"`
}

// restTx buffers a unit until WithinTx sends it.
type restTx struct {
	c        *supabase.Client
	expected map[string]*int64 // version seen by LockProfile, nil when absent
	payload  recordPayload
}

func (t *restTx) InsertGame(ctx context.Context, g *ArchivedGame) error {
	if g == nil {
		return fmt.Errorf("nil archived game payload")
	}
	// Fail fast on replays; the function checks again at commit.
	q := url.Values{}
	q.Set("select", "game_id")
	q.Set("game_id", "eq."+g.GameID)
	q.Set("limit", "1")
	var rows []struct {
		GameID string `json:"game_id"`
	}
	if err := t.c.Select(ctx, archiveTable, q, &rows); err != nil {
		return fmt.Errorf("postgrest check archive: %w", err)
	}
	if len(rows) > 0 {
		return ErrDuplicateGame
	}

	movesSAN, movesUCI := g.MovesSAN, g.MovesUCI
	if movesSAN == nil {
		movesSAN = []string{}
	}
	if movesUCI == nil {
		movesUCI = []string{}
	}
	t.payload.Game = &archiveWrite{
		GameID:       g.GameID,
		WhitePlayer:  g.WhitePlayer,
		BlackPlayer:  g.BlackPlayer,
		WinnerID:     g.WinnerID,
		Result:       g.Result,
		ResultMethod: g.ResultMethod,
		MovesSAN:     movesSAN,
		MovesUCI:     movesUCI,
		PGN:          g.PGN,
		StartedAt:    g.StartedAt.UTC(),
		EndedAt:      g.EndedAt.UTC(),
		DurationMS:   g.Duration.Milliseconds(),
	}
	return nil
}

func (t *restTx) LockProfile(ctx context.Context, userID string) (*Profile, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("user_id", "eq."+userID)
	q.Set("limit", "1")
	var rows []profileRow
	if err := t.c.Select(ctx, statsTable, q, &rows); err != nil {
		return nil, fmt.Errorf("postgrest lock user stats: %w", err)
	}
	if len(rows) == 0 {
		t.expected[userID] = nil
		return nil, nil
	}
	v := rows[0].Version
	t.expected[userID] = &v
	return rows[0].profile(), nil
}

func (t *restTx) UpsertProfile(ctx context.Context, p *Profile) error {
	if p == nil {
		return fmt.Errorf("nil profile payload")
	}
	expected, ok := t.expected[p.UserID]
	if !ok {
		return fmt.Errorf("profile %s written without LockProfile", p.UserID)
	}
	row := profileRow{
		UserID:      p.UserID,
		Rating:      p.Rating,
		GamesPlayed: p.GamesPlayed,
		Wins:        p.Wins,
		Losses:      p.Losses,
		Draws:       p.Draws,
		Streak:      p.Streak,
		StreakType:  p.StreakType,
		UpdatedAt:   p.UpdatedAt.UTC(),
		CreatedAt:   p.CreatedAt.UTC(),
		Version:     p.Version,
	}
	if !p.LastPlayedAt.IsZero() {
		at := p.LastPlayedAt.UTC()
		row.LastPlayedAt = &at
	}
	for i := range t.payload.Profiles {
		if t.payload.Profiles[i].UserID == p.UserID {
			t.payload.Profiles[i].profileRow = row
			return nil
		}
	}
	t.payload.Profiles = append(t.payload.Profiles, profileWrite{profileRow: row, ExpectedVersion: expected})
	return nil
}

func (t *restTx) GrantAchievement(ctx context.Context, userID, achievementID string, at time.Time) error {
	for _, g := range t.payload.Grants {
		if g.UserID == userID && g.AchievementID == achievementID {
			return nil
		}
	}
	t.payload.Grants = append(t.payload.Grants, grantWrite{UserID: userID, AchievementID: achievementID, EarnedAt: at.UTC()})
	return nil
}

package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-web/internal/gamestore"
	"github.com/park285/cheese-web/internal/obslog"
)

// maxRecordAttempts bounds reruns of a unit that lost a profile race.
const maxRecordAttempts = 3

const (
	resultWin  = "win"
	resultLoss = "loss"
	resultDraw = "draw"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// RecordResult archives a finished game and updates both players in one
// unit. The archive row is the idempotency key: a game already archived is
// skipped, and a failed unit leaves nothing behind, so the call can be retried.
func (s *Service) RecordResult(ctx context.Context, g *gamestore.Game) error {
	if g == nil || g.Status != gamestore.StatusFinished {
		return nil
	}
	archive := s.archiveOf(g)

	var (
		profiles []*Profile
		grants   []Grant
		err      error
	)
	for attempt := 1; ; attempt++ {
		grants, err = s.repo.WithinTx(ctx, func(tx Tx) error {
			var ferr error
			profiles, ferr = s.apply(ctx, tx, g, archive)
			return ferr
		})
		if !errors.Is(err, ErrProfileConflict) || attempt == maxRecordAttempts {
			break
		}
		obslog.L().Info("stats_record_retry", zap.String("game_id", g.ID), zap.Int("attempt", attempt))
	}
	switch {
	case errors.Is(err, ErrDuplicateGame):
		obslog.L().Info("stats_duplicate_result", zap.String("game_id", g.ID))
		return nil
	case err != nil:
		return fmt.Errorf("record result %s: %w", g.ID, err)
	}

	for _, gr := range grants {
		obslog.L().Info("achievement_granted", zap.String("user_id", gr.UserID), zap.String("achievement", gr.AchievementID))
	}
	users := make([]string, 0, len(profiles))
	ratings := make([]int, 0, len(profiles))
	for _, p := range profiles {
		users = append(users, p.UserID)
		ratings = append(ratings, p.Rating)
	}
	obslog.L().Info("stats_recorded",
		zap.String("game_id", g.ID),
		zap.String("result", archive.Result),
		zap.Strings("users", users),
		zap.Ints("ratings", ratings),
	)
	return nil
}

// apply is the body of one recording unit. Profiles are locked in user id
// order so concurrent units over the same players cannot deadlock.
func (s *Service) apply(ctx context.Context, tx Tx, g *gamestore.Game, archive *ArchivedGame) ([]*Profile, error) {
	if err := tx.InsertGame(ctx, archive); err != nil {
		if errors.Is(err, ErrDuplicateGame) {
			return nil, err
		}
		return nil, fmt.Errorf("archive game: %w", err)
	}

	at := archive.EndedAt
	plies := len(g.Moves)
	stalemate := g.ResultMethod == "stalemate"
	checkmate := g.ResultMethod == "checkmate"

	users := []string{g.WhitePlayer}
	if g.BlackPlayer != g.WhitePlayer {
		users = append(users, g.BlackPlayer)
	}
	sort.Strings(users)
	locked := make(map[string]*Profile, len(users))
	for _, u := range users {
		p, err := tx.LockProfile(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("lock profile: %w", err)
		}
		if p == nil {
			p = newProfile(u, at)
		}
		locked[u] = p
	}

	if len(users) == 1 {
		p := locked[g.WhitePlayer]
		p.GamesPlayed++
		p.LastPlayedAt = at
		p.UpdatedAt = at
		if err := tx.UpsertProfile(ctx, p); err != nil {
			return nil, err
		}
		return []*Profile{p}, s.grant(ctx, tx, p, playerResult{plies: plies, madeLastMove: true, stalemate: stalemate}, at)
	}

	white, black := locked[g.WhitePlayer], locked[g.BlackPlayer]
	whiteScore := 0.5
	switch g.WinnerID {
	case g.WhitePlayer:
		whiteScore = 1
	case g.BlackPlayer:
		whiteScore = 0
	}
	wRating, bRating := white.Rating, black.Rating
	applyGameResult(white, whiteScore, bRating, at)
	applyGameResult(black, 1-whiteScore, wRating, at)

	for _, p := range []*Profile{white, black} {
		if err := tx.UpsertProfile(ctx, p); err != nil {
			return nil, err
		}
	}

	lastMover := g.WhitePlayer
	if plies%2 == 0 {
		lastMover = g.BlackPlayer
	}
	for _, p := range []*Profile{white, black} {
		r := playerResult{
			won:          g.WinnerID == p.UserID,
			byCheckmate:  checkmate,
			plies:        plies,
			madeLastMove: lastMover == p.UserID,
			stalemate:    stalemate,
		}
		if err := s.grant(ctx, tx, p, r, at); err != nil {
			return nil, err
		}
	}
	return []*Profile{white, black}, nil
}

// Profile returns the user's stats, or a fresh default profile.
func (s *Service) Profile(ctx context.Context, userID string) (*Profile, error) {
	return s.loadProfile(ctx, userID, s.now())
}

func (s *Service) Achievements(ctx context.Context, userID string) ([]Achievement, error) {
	list, err := s.repo.ListAchievements(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	return list, nil
}

func (s *Service) loadProfile(ctx context.Context, userID string, at time.Time) (*Profile, error) {
	p, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if p == nil {
		p = newProfile(userID, at)
	}
	return p, nil
}

func (s *Service) grant(ctx context.Context, tx Tx, p *Profile, r playerResult, at time.Time) error {
	for _, id := range earned(p, r) {
		if err := tx.GrantAchievement(ctx, p.UserID, id, at); err != nil {
			return fmt.Errorf("grant %s: %w", id, err)
		}
	}
	return nil
}

func (s *Service) archiveOf(g *gamestore.Game) *ArchivedGame {
	ended := g.UpdatedAt
	if ended.IsZero() {
		ended = s.now()
	}
	a := &ArchivedGame{
		GameID:       g.ID,
		WhitePlayer:  g.WhitePlayer,
		BlackPlayer:  g.BlackPlayer,
		WinnerID:     g.WinnerID,
		Result:       pgnResult(g.ResultMethod, len(g.Moves)),
		ResultMethod: g.ResultMethod,
		MovesSAN:     append([]string(nil), g.Moves...),
		MovesUCI:     append([]string(nil), g.MovesUCI...),
		StartedAt:    g.CreatedAt,
		EndedAt:      ended,
	}
	if d := ended.Sub(g.CreatedAt); d > 0 {
		a.Duration = d
	}
	a.PGN = buildPGN(a)
	return a
}

// applyGameResult folds one game into p. score is 1 for a win, 0.5 for a
// draw and 0 for a loss; oppRating is the opponent's rating before the game.
func applyGameResult(p *Profile, score float64, oppRating int, at time.Time) int {
	prev := p.Rating
	p.GamesPlayed++
	p.LastPlayedAt = at
	p.UpdatedAt = at

	var resultType string
	switch score {
	case 1:
		p.Wins++
		resultType = resultWin
	case 0:
		p.Losses++
		resultType = resultLoss
	default:
		p.Draws++
		resultType = resultDraw
	}
	if p.StreakType == resultType {
		p.Streak++
	} else {
		p.Streak = 1
		p.StreakType = resultType
	}

	expected := 1 / (1 + math.Pow(10, float64(oppRating-p.Rating)/400))
	p.Rating = int(math.Round(float64(p.Rating) + kFactor*(score-expected)))
	return p.Rating - prev
}

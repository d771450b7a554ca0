// Package stats records finished games: per-user ratings and counters,
// achievements and a PGN archive.
package stats

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDuplicateGame = errors.New("game already archived")
	// ErrProfileConflict means a profile read inside a unit changed before the
	// unit committed. Nothing was written; the unit may be rerun.
	ErrProfileConflict = errors.New("profile changed concurrently")
)

const (
	DefaultRating = 1200
	kFactor       = 24
)

type Profile struct {
	UserID       string
	Rating       int
	GamesPlayed  int
	Wins         int
	Losses       int
	Draws        int
	Streak       int
	StreakType   string
	LastPlayedAt time.Time
	UpdatedAt    time.Time
	CreatedAt    time.Time
	Version      int64
}

func newProfile(userID string, at time.Time) *Profile {
	return &Profile{UserID: userID, Rating: DefaultRating, CreatedAt: at, UpdatedAt: at}
}

type Achievement struct {
	ID          string
	Title       string
	Description string
	EarnedAt    time.Time
}

// ArchivedGame is the immutable record of a finished game.
type ArchivedGame struct {
	GameID       string
	WhitePlayer  string
	BlackPlayer  string
	WinnerID     string
	Result       string // 1-0, 0-1, 1/2-1/2
	ResultMethod string
	MovesSAN     []string
	MovesUCI     []string
	PGN          string
	StartedAt    time.Time
	EndedAt      time.Time
	Duration     time.Duration
}

// Grant is an achievement newly earned by a committed unit.
type Grant struct {
	UserID        string `json:"user_id"`
	AchievementID string `json:"achievement_id"`
}

// Tx is the write side of one recording unit.
type Tx interface {
	// InsertGame returns ErrDuplicateGame when the game was archived before.
	InsertGame(ctx context.Context, g *ArchivedGame) error
	// LockProfile returns the user's profile (nil when the user has none) and
	// keeps other units from changing it until this one ends.
	LockProfile(ctx context.Context, userID string) (*Profile, error)
	UpsertProfile(ctx context.Context, p *Profile) error
	GrantAchievement(ctx context.Context, userID, achievementID string, at time.Time) error
}

type Repository interface {
	// GetProfile returns nil, nil when the user has no stats yet.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	ListAchievements(ctx context.Context, userID string) ([]Achievement, error)
	// WithinTx runs fn as one atomic unit and returns the achievements it
	// newly granted. When fn or the commit fails nothing fn wrote persists.
	WithinTx(ctx context.Context, fn func(tx Tx) error) ([]Grant, error)
}

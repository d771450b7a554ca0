package chessdto

import "time"

type Profile struct {
	UserID      string    `json:"user_id"`
	Rating      int       `json:"rating"`
	GamesPlayed int       `json:"games_played"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	Draws       int       `json:"draws"`
	Streak      int       `json:"streak"`
	StreakType  string    `json:"streak_type,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Achievement struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	EarnedAt    time.Time `json:"earned_at"`
}

type Dashboard struct {
	UserID       string        `json:"user_id"`
	Stats        Profile       `json:"stats"`
	Achievements []Achievement `json:"achievements"`
	Games        []GameSummary `json:"games"`
}

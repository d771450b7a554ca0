package chessdto

import "time"

// GameSummary is one row of a player's game list.
type GameSummary struct {
	ID           string    `json:"id"`
	WhitePlayer  string    `json:"white_player"`
	BlackPlayer  string    `json:"black_player"`
	Status       string    `json:"status"`
	WinnerID     string    `json:"winner_id,omitempty"`
	ResultMethod string    `json:"result_method,omitempty"`
	MoveCount    int       `json:"move_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

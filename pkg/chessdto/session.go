package chessdto

import "time"

// GameView is the read model of a game session.
type GameView struct {
	ID           string    `json:"id"`
	WhitePlayer  string    `json:"white_player"`
	BlackPlayer  string    `json:"black_player"`
	FEN          string    `json:"fen"`
	Moves        []string  `json:"moves"`
	MovesUCI     []string  `json:"moves_uci"`
	Turn         string    `json:"turn"`
	Status       string    `json:"status"`
	WinnerID     string    `json:"winner_id,omitempty"`
	ResultMethod string    `json:"result_method,omitempty"`
	MoveCount    int       `json:"move_count"`
	LegalMoves   []string  `json:"legal_moves,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

package chessdto

// CreateGameRequest is the optional body of POST /api/create_game. An empty
// body starts a self-play game.
type CreateGameRequest struct {
	OpponentID string `json:"opponent_id,omitempty"`
	// Color is the caller's side: "white", "black" or "random".
	Color string `json:"color,omitempty"`
}

type CreateGameResponse struct {
	GameID string `json:"game_id"`
}

type MakeMoveRequest struct {
	GameID string `json:"game_id" binding:"required"`
	Move   string `json:"move" binding:"required"`
}

type MakeMoveResponse struct {
	FEN         string `json:"fen"`
	IsCheckmate bool   `json:"is_checkmate"`
	IsDraw      bool   `json:"is_draw"`
	Status      string `json:"status"`
	WinnerID    string `json:"winner_id,omitempty"`
	SAN         string `json:"san"`
	MoveCount   int    `json:"move_count"`
}

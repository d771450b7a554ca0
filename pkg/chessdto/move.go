package chessdto

import "time"

// MoveEvent is published to watchers after a move has been committed.
type MoveEvent struct {
	GameID       string    `json:"game_id"`
	Ply          int       `json:"ply"`
	SAN          string    `json:"san"`
	UCI          string    `json:"uci"`
	FEN          string    `json:"fen"`
	By           string    `json:"by"`
	Status       string    `json:"status"`
	WinnerID     string    `json:"winner_id,omitempty"`
	ResultMethod string    `json:"result_method,omitempty"`
	At           time.Time `json:"at"`
}

const (
	WatchSnapshot = "snapshot"
	WatchMove     = "move"
)

// WatchMessage is one frame on the watch websocket. Snapshot frames carry
// Game, move frames carry Move.
type WatchMessage struct {
	Type string     `json:"type"`
	Game *GameView  `json:"game,omitempty"`
	Move *MoveEvent `json:"move,omitempty"`
}

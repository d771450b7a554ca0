package pvpchess

import (
	"context"

	"github.com/park285/cheese-web/internal/gamestore"
	"github.com/park285/cheese-web/pkg/chessdto"
)

// MoveResult is returned for an accepted move.
type MoveResult struct {
	FEN         string
	IsCheckmate bool
	IsDraw      bool
	Status      gamestore.Status
	WinnerID    string
	SAN         string
	UCI         string
	MoveCount   int
	Game        *gamestore.Game
}

// ResultRecorder receives games that just finished.
type ResultRecorder interface {
	RecordResult(ctx context.Context, g *gamestore.Game) error
}

// Publisher fans accepted moves out to watchers.
type Publisher interface {
	PublishMove(ctx context.Context, ev chessdto.MoveEvent) error
}

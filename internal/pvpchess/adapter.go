package pvpchess

import (
	"context"
	"fmt"

	"github.com/park285/cheese-web/internal/board"
	"github.com/park285/cheese-web/internal/gamestore"
	"github.com/park285/cheese-web/internal/rules"
	"github.com/park285/cheese-web/pkg/chessdto"
)

// ToView converts g to its read model. Legal moves are listed only while the
// game is active.
func ToView(g *gamestore.Game) chessdto.GameView {
	v := chessdto.GameView{
		ID:           g.ID,
		WhitePlayer:  g.WhitePlayer,
		BlackPlayer:  g.BlackPlayer,
		FEN:          g.FEN,
		Moves:        append([]string{}, g.Moves...),
		MovesUCI:     append([]string{}, g.MovesUCI...),
		Status:       string(g.Status),
		WinnerID:     g.WinnerID,
		ResultMethod: g.ResultMethod,
		MoveCount:    len(g.Moves),
		CreatedAt:    g.CreatedAt,
		UpdatedAt:    g.UpdatedAt,
	}
	if pos, err := rules.ParsePosition(g.FEN); err == nil {
		v.Turn = string(pos.Turn())
		if g.Status == gamestore.StatusActive {
			v.LegalMoves = rules.LegalMoves(pos)
		}
	}
	return v
}

func ToSummary(g *gamestore.Game) chessdto.GameSummary {
	return chessdto.GameSummary{
		ID:           g.ID,
		WhitePlayer:  g.WhitePlayer,
		BlackPlayer:  g.BlackPlayer,
		Status:       string(g.Status),
		WinnerID:     g.WinnerID,
		ResultMethod: g.ResultMethod,
		MoveCount:    len(g.Moves),
		UpdatedAt:    g.UpdatedAt,
	}
}

// BoardPNG renders the current position of gameID. The board is flipped when
// the viewer plays Black in a two-player game.
func (m *Manager) BoardPNG(ctx context.Context, gameID, viewerID string) ([]byte, error) {
	g, err := m.LoadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	pos, err := rules.ParsePosition(g.FEN)
	if err != nil {
		return nil, fmt.Errorf("load position of %s: %w", g.ID, err)
	}
	opts := board.Options{
		Flip:   viewerID != "" && g.BlackPlayer == viewerID && g.WhitePlayer != viewerID,
		Header: fmt.Sprintf("%s vs %s", g.WhitePlayer, g.BlackPlayer),
		Footer: hudStatus(g, pos),
	}
	if n := len(g.MovesUCI); n > 0 {
		opts.Highlight = board.HighlightFromUCI(g.MovesUCI[n-1])
	}
	return board.RenderPNG(ctx, pos.Board(), opts)
}

func hudStatus(g *gamestore.Game, pos *rules.Position) string {
	if g.Status == gamestore.StatusFinished {
		if g.WinnerID != "" {
			return fmt.Sprintf("%s wins by %s", g.WinnerID, g.ResultMethod)
		}
		return fmt.Sprintf("Draw by %s", g.ResultMethod)
	}
	turn := "White"
	if pos.Turn() == rules.Black {
		turn = "Black"
	}
	return fmt.Sprintf("%s to move - move %d", turn, len(g.Moves)/2+1)
}

package board

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	nchess "github.com/corentings/chess/v2"
)

func TestRenderPNG_DecodesAtExpectedSize(t *testing.T) {
	g := nchess.NewGame()
	out, err := RenderPNG(context.Background(), g.Position().Board(), Options{Header: "alice vs bob", Footer: "White to move"})
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("png decode: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != boardSize+sideMargin*2 || b.Dy() != boardSize+topMargin+bottomMargin {
		t.Fatalf("unexpected size %v", b)
	}
}

func TestRenderPNG_FlipChangesImage(t *testing.T) {
	g := nchess.NewGame()
	ctx := context.Background()
	w, err := RenderPNG(ctx, g.Position().Board(), Options{})
	if err != nil {
		t.Fatalf("white view: %v", err)
	}
	b, err := RenderPNG(ctx, g.Position().Board(), Options{Flip: true})
	if err != nil {
		t.Fatalf("black view: %v", err)
	}
	if bytes.Equal(w, b) {
		t.Fatalf("expected different images for flipped viewpoints")
	}
}

func TestRenderPNG_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := RenderPNG(ctx, nchess.NewGame().Position().Board(), Options{}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestHighlightFromUCI(t *testing.T) {
	h := HighlightFromUCI("e2e4")
	if h == nil || h.From != nchess.E2 || h.To != nchess.E4 {
		t.Fatalf("unexpected highlight %+v", h)
	}
	if HighlightFromUCI("e7e8q") == nil {
		t.Fatalf("promotion suffix should be ignored")
	}
	for _, bad := range []string{"", "e2", "z9z9", "O-O"} {
		if HighlightFromUCI(bad) != nil {
			t.Fatalf("HighlightFromUCI(%q) should be nil", bad)
		}
	}
}

func TestPieceGlyphsParse(t *testing.T) {
	for _, pt := range []nchess.PieceType{nchess.King, nchess.Queen, nchess.Rook, nchess.Bishop, nchess.Knight, nchess.Pawn} {
		for _, c := range []nchess.Color{nchess.White, nchess.Black} {
			if _, err := renderPieceImage(nchess.NewPiece(pt, c), 32); err != nil {
				t.Fatalf("piece %v/%v: %v", pt, c, err)
			}
		}
	}
}

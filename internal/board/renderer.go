// Package board renders a chess position to PNG.
package board

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Highlight marks the squares of the last move.
type Highlight struct {
	From nchess.Square
	To   nchess.Square
}

// HighlightFromUCI builds a Highlight from a UCI move such as "e2e4". It
// returns nil for anything that does not start with two squares.
func HighlightFromUCI(uci string) *Highlight {
	uci = strings.ToLower(strings.TrimSpace(uci))
	if len(uci) < 4 {
		return nil
	}
	from, ok1 := parseSquare(uci[0:2])
	to, ok2 := parseSquare(uci[2:4])
	if !ok1 || !ok2 {
		return nil
	}
	return &Highlight{From: from, To: to}
}

func parseSquare(s string) (nchess.Square, bool) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, false
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), true
}

type Options struct {
	// Flip draws the board from Black's side.
	Flip      bool
	Highlight *Highlight
	Header    string
	Footer    string
}

const (
	squareSize   = 64
	boardSize    = squareSize * 8
	sideMargin   = 28
	topMargin    = 56
	bottomMargin = 48
	panelRadius  = 10
)

var (
	lightSquare         = color.RGBA{233, 207, 163, 255}
	darkSquare          = color.RGBA{187, 136, 96, 255}
	whiteMoveFill       = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	blackMoveFill       = color.NRGBA{R: 148, G: 207, B: 255, A: 150}
	backgroundColor     = color.RGBA{22, 24, 35, 255}
	hudPanelColor       = color.NRGBA{R: 28, G: 31, B: 46, A: 250}
	hudTextPrimary      = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	coordinateTextColor = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
)

// RenderPNG draws b with optional HUD text and last-move highlight.
func RenderPNG(ctx context.Context, b *nchess.Board, opts Options) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("board is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	totalWidth := boardSize + sideMargin*2
	totalHeight := boardSize + topMargin + bottomMargin
	origin := image.Point{X: sideMargin, Y: topMargin}

	img := image.NewRGBA(image.Rect(0, 0, totalWidth, totalHeight))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	drawer := &font.Drawer{Dst: img, Face: basicfont.Face7x13}
	if h := strings.TrimSpace(opts.Header); h != "" {
		panel := image.Rect(origin.X, 10, origin.X+boardSize, topMargin-10)
		drawRoundedPanel(img, panel, panelRadius, hudPanelColor)
		drawCenteredString(drawer, panel, h, hudTextPrimary)
	}

	drawSquares(img, origin, opts.Flip)
	drawHighlight(img, b, opts.Highlight, origin, opts.Flip)
	if err := drawPieces(img, b, origin, opts.Flip); err != nil {
		return nil, err
	}
	drawCoordinates(drawer, origin, opts.Flip)

	if f := strings.TrimSpace(opts.Footer); f != "" {
		panel := image.Rect(origin.X, origin.Y+boardSize+22, origin.X+boardSize, totalHeight-4)
		drawCenteredString(drawer, panel, f, hudTextPrimary)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func drawSquares(dst *image.RGBA, origin image.Point, flip bool) {
	for sq := nchess.A1; sq <= nchess.H8; sq++ {
		imagedraw.Draw(dst, squareRect(sq, origin, flip), image.NewUniform(squareColor(sq)), image.Point{}, imagedraw.Src)
	}
}

func drawPieces(dst *image.RGBA, b *nchess.Board, origin image.Point, flip bool) error {
	for sq, piece := range b.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		pimg, err := renderPieceImage(piece, squareSize)
		if err != nil {
			return err
		}
		imagedraw.Draw(dst, squareRect(sq, origin, flip), pimg, image.Point{}, imagedraw.Over)
	}
	return nil
}

func drawHighlight(img *image.RGBA, b *nchess.Board, h *Highlight, origin image.Point, flip bool) {
	if h == nil {
		return
	}
	clr := color.Color(whiteMoveFill)
	if piece := b.Piece(h.To); piece != nchess.NoPiece && piece.Color() == nchess.Black {
		clr = blackMoveFill
	}
	for _, sq := range []nchess.Square{h.From, h.To} {
		imagedraw.Draw(img, squareRect(sq, origin, flip), image.NewUniform(clr), image.Point{}, imagedraw.Over)
	}
}

func drawCoordinates(drawer *font.Drawer, origin image.Point, flip bool) {
	drawer.Src = image.NewUniform(coordinateTextColor)
	ascent := drawer.Face.Metrics().Ascent.Ceil()
	for i := 0; i < 8; i++ {
		file := nchess.File(i)
		rank := nchess.Rank(i)
		fileRect := squareRect(nchess.NewSquare(file, nchess.Rank1), origin, flip)
		rankRect := squareRect(nchess.NewSquare(nchess.FileA, rank), origin, flip)
		drawCenteredText(drawer, file.String(), fileRect.Min.X+squareSize/2, origin.Y+boardSize+ascent+4)
		drawCenteredText(drawer, rank.String(), origin.X-sideMargin/2, rankRect.Min.Y+squareSize/2+ascent/2)
	}
}

func squareRect(sq nchess.Square, origin image.Point, flip bool) image.Rectangle {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	if flip {
		col, row = 7-col, 7-row
	}
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func drawCenteredString(drawer *font.Drawer, rect image.Rectangle, text string, clr color.Color) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	metrics := drawer.Face.Metrics()
	width := drawer.MeasureString(text).Round()
	x := rect.Min.X + (rect.Dx()-width)/2
	if x < rect.Min.X {
		x = rect.Min.X
	}
	baseline := rect.Min.Y + (rect.Dy()+metrics.Ascent.Ceil()-metrics.Descent.Ceil())/2
	drawer.Src = image.NewUniform(clr)
	drawer.Dot = fixed.P(x, baseline)
	drawer.DrawString(text)
}

func drawRoundedPanel(img *image.RGBA, rect image.Rectangle, radius int, clr color.Color) {
	if rect.Empty() {
		return
	}
	if m := min(rect.Dx(), rect.Dy()) / 2; radius > m {
		radius = m
	}
	fill := image.NewUniform(clr)
	if radius <= 0 {
		imagedraw.Draw(img, rect, fill, image.Point{}, imagedraw.Over)
		return
	}
	imagedraw.Draw(img, image.Rect(rect.Min.X+radius, rect.Min.Y, rect.Max.X-radius, rect.Max.Y), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Min.X, rect.Min.Y+radius, rect.Min.X+radius, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Max.X-radius, rect.Min.Y+radius, rect.Max.X, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)
	for _, c := range []image.Point{
		{rect.Min.X + radius, rect.Min.Y + radius},
		{rect.Max.X - radius - 1, rect.Min.Y + radius},
		{rect.Min.X + radius, rect.Max.Y - radius - 1},
		{rect.Max.X - radius - 1, rect.Max.Y - radius - 1},
	} {
		drawQuarterDiscs(img, c, radius, rect, clr)
	}
}

// drawQuarterDiscs fills the disc around c clipped to the corner areas of
// rect that the three rectangles above left empty.
func drawQuarterDiscs(img *image.RGBA, c image.Point, radius int, rect image.Rectangle, clr color.Color) {
	inner := image.Rect(rect.Min.X+radius, rect.Min.Y+radius, rect.Max.X-radius, rect.Max.Y-radius)
	r2 := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			p := image.Pt(c.X+x, c.Y+y)
			if x*x+y*y > r2 || !p.In(rect) {
				continue
			}
			if p.X >= inner.Min.X && p.X < inner.Max.X || p.Y >= inner.Min.Y && p.Y < inner.Max.Y {
				continue
			}
			img.Set(p.X, p.Y, clr)
		}
	}
}

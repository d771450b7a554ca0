package board

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Glyph outlines on a 45x45 canvas. %[1]s is the body fill, %[2]s the outline.
var glyphs = map[nchess.PieceType]string{
	nchess.Pawn: `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">
<circle cx="22.5" cy="14" r="5.5" fill="%[1]s" stroke="%[2]s" stroke-width="1.5"/>
<path d="M17 22 L28 22 L30.5 31 L14.5 31 Z" fill="%[1]s" stroke="%[2]s" stroke-width="1.5"/>
<rect x="11" y="31" width="23" height="6" rx="2" fill="%[1]s" stroke="%[2]s" stroke-width="1.5"/>
</svg>`,
	nchess.Rook: `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">
<path d="M11 9 L15 9 L15 12 L20 12 L20 9 L25 9 L25 12 L30 12 L30 9 L34 9 L34 15 L30.5 18 L30.5 30 L14.5 30 L14.5 18 L11 15 Z" fill="%[1]s" stroke="%[2]s" stroke-width="1.5"/>
<rect x="9" y="30" width="27" height="7" rx="2" fill="%[1]s" stroke="%[2]s" stroke-width="1.5"/>
</svg>`,
	nchess.Knight: `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">
<path d="M22 10 C32 11 36 19 34 36 L15 36 C15 28 23 27 20 21 C17 23 14 26 11 24 C9 22 13 17 16 14 Z" fill="%[1]s" stroke="%[2]s" stroke-width="1.5"/>
<circle cx="17" cy="16.5" r="1.3" fill="%[2]s"/>
</svg>`,
	nchess.Bishop: `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">
<circle cx="22.5" cy="8.5" r="2.5" fill="%[1]s" stroke="%[2]s" stroke-width="1.5"/>
<ellipse cx="22.5" cy="20" rx="7" ry="9" fill="%[1]s" stroke="%[2]s" stroke-width="1.5"/>
<path d="M16 28 L29 28 L31 32 L14 32 Z" fill="%[1]s" stroke="%[2]s" stroke-width="1.5"/>
<rect x="10" y="32" width="25" height="5" rx="2" fill="%[1]s" stroke="%[2]s" stroke-width="1.5"/>
</svg>`,
	nchess.Queen: `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">
<path d="M9 13 L14 27 L17 11 L22.5 26 L28 11 L31 27 L36 13 L33 31 L12 31 Z" fill="%[1]s" stroke="%[2]s" stroke-width="1.5"/>
<rect x="10" y="31" width="25" height="6" rx="2" fill="%[1]s" stroke="%[2]s" stroke-width="1.5"/>
</svg>`,
	nchess.King: `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">
<path d="M21 5 L24 5 L24 8 L27 8 L27 11 L24 11 L24 14 L21 14 L21 11 L18 11 L18 8 L21 8 Z" fill="%[1]s" stroke="%[2]s" stroke-width="1.2"/>
<path d="M12 18 C16 14 29 14 33 18 L30 31 L15 31 Z" fill="%[1]s" stroke="%[2]s" stroke-width="1.5"/>
<rect x="10" y="31" width="25" height="6" rx="2" fill="%[1]s" stroke="%[2]s" stroke-width="1.5"/>
</svg>`,
}

type pieceCacheKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceCacheKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

func pieceSVG(piece nchess.Piece) ([]byte, error) {
	tpl, ok := glyphs[piece.Type()]
	if !ok {
		return nil, fmt.Errorf("no glyph for piece %v", piece)
	}
	fill, stroke := "#f8f8f8", "#1a1a1a"
	if piece.Color() == nchess.Black {
		fill, stroke = "#1f1f1f", "#e6e6e6"
	}
	return []byte(fmt.Sprintf(tpl, fill, stroke)), nil
}

func renderPieceImage(piece nchess.Piece, size int) (image.Image, error) {
	key := pieceCacheKey{piece: piece, size: size}

	pieceCacheMu.RLock()
	if img, ok := pieceCache[key]; ok {
		pieceCacheMu.RUnlock()
		return img, nil
	}
	pieceCacheMu.RUnlock()

	data, err := pieceSVG(piece)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	pieceCacheMu.Lock()
	pieceCache[key] = img
	pieceCacheMu.Unlock()

	return img, nil
}

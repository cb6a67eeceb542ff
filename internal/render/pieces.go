package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Piece outlines on a 45x45 canvas.
var pieceShapes = map[nchess.PieceType][]string{
	nchess.Pawn: {
		`<circle cx="22.5" cy="14" r="5"/>`,
		`<path d="M 15 34 C 15 26 18.5 21 22.5 21 C 26.5 21 30 26 30 34 Z"/>`,
	},
	nchess.Rook: {
		`<path d="M 11 10 L 15 10 L 15 13 L 19 13 L 19 10 L 26 10 L 26 13 L 30 13 L 30 10 L 34 10 L 34 17 L 11 17 Z"/>`,
		`<path d="M 13 34 L 14.5 17 L 30.5 17 L 32 34 Z"/>`,
	},
	nchess.Knight: {
		`<path d="M 14 34 L 16 25 C 12 23 10.5 19 14.5 15 L 20 9.5 L 21.5 5 L 24 9 C 31 11 34.5 19 31 34 Z"/>`,
		`<circle cx="20" cy="14" r="1.2"/>`,
	},
	nchess.Bishop: {
		`<circle cx="22.5" cy="7.5" r="2.5"/>`,
		`<path d="M 15 34 C 13 26 16.5 17 22.5 10.5 C 28.5 17 32 26 30 34 Z"/>`,
	},
	nchess.Queen: {
		`<path d="M 10 34 L 8 14 L 15 24 L 16.5 10 L 22.5 22 L 28.5 10 L 30 24 L 37 14 L 35 34 Z"/>`,
		`<circle cx="8" cy="12" r="2"/>`,
		`<circle cx="16.5" cy="9" r="2"/>`,
		`<circle cx="28.5" cy="9" r="2"/>`,
		`<circle cx="37" cy="12" r="2"/>`,
	},
	nchess.King: {
		`<path d="M 21 3.5 L 24 3.5 L 24 7.5 L 28 7.5 L 28 10.5 L 24 10.5 L 24 18 L 21 18 L 21 10.5 L 17 10.5 L 17 7.5 L 21 7.5 Z"/>`,
		`<path d="M 12 34 C 9.5 24 16 17.5 22.5 19.5 C 29 17.5 35.5 24 33 34 Z"/>`,
	},
}

const plinth = `<path d="M 9 39.5 L 36 39.5 L 34 34 L 11 34 Z"/>`

func pieceSVG(piece nchess.Piece) ([]byte, error) {
	shapes, ok := pieceShapes[piece.Type()]
	if !ok {
		return nil, fmt.Errorf("no outline for piece %v", piece)
	}
	fill, stroke := "#f8f8f8", "#1a1a1a"
	if piece.Color() == nchess.Black {
		fill, stroke = "#262626", "#0a0a0a"
	}
	var b strings.Builder
	b.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45" width="45" height="45">`)
	fmt.Fprintf(&b, `<g fill="%s" stroke="%s" stroke-width="1.5" stroke-linejoin="round">`, fill, stroke)
	for _, s := range shapes {
		b.WriteString(s)
	}
	b.WriteString(plinth)
	b.WriteString(`</g></svg>`)
	return []byte(b.String()), nil
}

type pieceCacheKey struct {
	piece nchess.Piece
	size  int
}

var (
	pieceCache   = map[pieceCacheKey]image.Image{}
	pieceCacheMu sync.RWMutex
)

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

// Package render draws a game position as a PNG for the board endpoint and the
// Telegram /board command.
package render

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

	"github.com/park285/cheese-chess-server/internal/domain"
	"github.com/park285/cheese-chess-server/internal/rules"
)

const (
	squareSize   = 64
	boardSize    = squareSize * 8
	sideMargin   = 28
	topMargin    = 64
	bottomMargin = 28
	panelHeight  = 30
	panelRadius  = 10
	panelPadX    = 18
)

type Highlight struct {
	From nchess.Square
	To   nchess.Square
}

type Options struct {
	Highlight *Highlight
	Title     string
	Status    string
}

var (
	lightSquare         = color.RGBA{233, 207, 163, 255}
	darkSquare          = color.RGBA{187, 136, 96, 255}
	whiteMoveFill       = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	blackMoveArrow      = color.NRGBA{R: 148, G: 207, B: 255, A: 170}
	backgroundColor     = color.RGBA{22, 24, 36, 255}
	panelColor          = color.NRGBA{R: 28, G: 31, B: 46, A: 250}
	panelShadowColor    = color.NRGBA{0, 0, 0, 50}
	panelTextColor      = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	coordinateTextColor = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
)

var (
	ranksTopDown   = []nchess.Rank{nchess.Rank8, nchess.Rank7, nchess.Rank6, nchess.Rank5, nchess.Rank4, nchess.Rank3, nchess.Rank2, nchess.Rank1}
	filesLeftRight = []nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
)

// Renderer is stateless apart from the shared piece cache.
type Renderer struct {
	face font.Face
}

func New() *Renderer {
	return &Renderer{face: basicfont.Face7x13}
}

// RenderGame replays g and draws it with the last move highlighted.
func (r *Renderer) RenderGame(ctx context.Context, g *domain.Game, title string) ([]byte, error) {
	if g == nil {
		return nil, fmt.Errorf("game is nil")
	}
	pos, err := rules.New(g.MovesUCI())
	if err != nil {
		return nil, fmt.Errorf("replay game %s: %w", g.ID, err)
	}
	opts := Options{Title: title, Status: statusLine(g, pos)}
	if from, to, ok := pos.LastMove(); ok {
		opts.Highlight = &Highlight{From: from, To: to}
	}
	return r.RenderPNG(ctx, pos.Board(), opts)
}

func (r *Renderer) RenderPNG(ctx context.Context, board *nchess.Board, opts Options) ([]byte, error) {
	if board == nil {
		return nil, fmt.Errorf("board is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	width := boardSize + sideMargin*2
	height := boardSize + topMargin + bottomMargin
	origin := image.Point{X: sideMargin, Y: topMargin}
	boardRect := image.Rect(origin.X, origin.Y, origin.X+boardSize, origin.Y+boardSize)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	r.drawHeader(img, boardRect, opts)
	drawSquares(img, origin)
	drawHighlight(img, board, opts.Highlight, origin)
	if err := drawPieces(img, board, origin); err != nil {
		return nil, err
	}
	r.drawCoordinates(img, origin)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func statusLine(g *domain.Game, pos *rules.Position) string {
	switch g.Status {
	case domain.StatusWaiting:
		return "Waiting for opponent"
	case domain.StatusFinished:
		if g.Method != "" {
			return fmt.Sprintf("%s (%s)", g.Result, g.Method)
		}
		return g.Result
	}
	if pos.Turn() == "white" {
		return "White to move"
	}
	return "Black to move"
}

func (r *Renderer) drawHeader(img *image.RGBA, boardRect image.Rectangle, opts Options) {
	drawer := &font.Drawer{Dst: img, Face: r.face}
	bottom := boardRect.Min.Y - 14
	top := bottom - panelHeight

	title := strings.TrimSpace(opts.Title)
	if title != "" {
		w := drawer.MeasureString(title).Round() + panelPadX*2
		if limit := boardRect.Dx() / 2; w > limit {
			w = limit
			title = truncateWithEllipsis(r.face, title, w-panelPadX*2)
		}
		rect := image.Rect(boardRect.Min.X, top, boardRect.Min.X+w, bottom)
		drawRoundedPanel(img, rect.Add(image.Pt(0, 4)), panelRadius, panelShadowColor)
		drawRoundedPanel(img, rect, panelRadius, panelColor)
		drawCenteredString(drawer, rect, title, panelTextColor)
	}

	status := strings.TrimSpace(opts.Status)
	if status != "" {
		w := drawer.MeasureString(status).Round() + panelPadX*2
		rect := image.Rect(boardRect.Max.X-w, top, boardRect.Max.X, bottom)
		drawRoundedPanel(img, rect.Add(image.Pt(0, 4)), panelRadius, panelShadowColor)
		drawRoundedPanel(img, rect, panelRadius, panelColor)
		drawCenteredString(drawer, rect, status, panelTextColor)
	}
}

func drawSquares(dst imagedraw.Image, origin image.Point) {
	for row, rank := range ranksTopDown {
		for col, file := range filesLeftRight {
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			clr := squareColor(nchess.NewSquare(file, rank))
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawPieces(dst imagedraw.Image, board *nchess.Board, origin image.Point) error {
	squares := board.SquareMap()
	for sq, piece := range squares {
		if piece == nchess.NoPiece {
			continue
		}
		img, err := renderPieceImage(piece, squareSize)
		if err != nil {
			return err
		}
		imagedraw.Draw(dst, squareRect(sq, origin), img, image.Point{}, imagedraw.Over)
	}
	return nil
}

// White moves get both squares tinted; black moves get an arrow.
func drawHighlight(img *image.RGBA, board *nchess.Board, h *Highlight, origin image.Point) {
	if h == nil {
		return
	}
	mover := nchess.NoColor
	if p := board.Piece(h.To); p != nchess.NoPiece {
		mover = p.Color()
	}
	if mover == nchess.Black {
		drawArrow(img, h.From, h.To, origin, blackMoveArrow)
		return
	}
	drawSquareOverlay(img, h.From, origin, whiteMoveFill)
	drawSquareOverlay(img, h.To, origin, whiteMoveFill)
}

func (r *Renderer) drawCoordinates(dst imagedraw.Image, origin image.Point) {
	drawer := &font.Drawer{Dst: dst, Face: r.face, Src: image.NewUniform(coordinateTextColor)}
	ascent := r.face.Metrics().Ascent.Ceil()
	boardEndY := origin.Y + boardSize

	for row, rank := range ranksTopDown {
		baseline := origin.Y + row*squareSize + squareSize/2 + ascent/2
		drawCenteredText(drawer, rank.String(), origin.X-sideMargin/2, baseline)
	}
	for col, file := range filesLeftRight {
		center := origin.X + col*squareSize + squareSize/2
		drawCenteredText(drawer, file.String(), center, boardEndY+ascent+4)
	}
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

func truncateWithEllipsis(face font.Face, text string, maxWidth int) string {
	drawer := font.Drawer{Face: face}
	if drawer.MeasureString(text).Round() <= maxWidth {
		return text
	}
	runes := []rune(text)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + "..."
		if drawer.MeasureString(candidate).Round() <= maxWidth {
			return candidate
		}
	}
	return ""
}

func squareRect(sq nchess.Square, origin image.Point) image.Rectangle {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
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

// Package rules adapts github.com/corentings/chess/v2 to the narrow contract the
// game session needs: legal moves, all-or-nothing move application and
// game-over detection. A position is always rebuilt from the start by replaying
// stored UCI moves; FEN is kept for presentation only.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrGameOver    = errors.New("game is over")
)

// Kind classifies a finished position.
type Kind string

const (
	KindNone Kind = "none"
	KindMate Kind = "mate"
	KindDraw Kind = "draw"
)

// Outcome is the game-over report for a position.
type Outcome struct {
	Over   bool
	Kind   Kind
	Result string // PGN token: 1-0, 0-1, 1/2-1/2 or *
	Method string
}

// Move is a legal move with the tactical flags the opponent cares about.
type Move struct {
	UCI     string
	SAN     string
	Capture bool
	Check   bool
}

// Applied describes a move that was accepted.
type Applied struct {
	UCI  string
	SAN  string
	FEN  string
	From nchess.Square
	To   nchess.Square
}

type Position struct {
	game  *nchess.Game
	moves []string
}

// New replays moves (UCI) from the initial position.
func New(moves []string) (*Position, error) {
	game := nchess.NewGame()
	for i, mv := range moves {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay move %d (%s): %w", i+1, mv, err)
		}
		claimDraw(game)
	}
	return &Position{game: game, moves: append([]string(nil), moves...)}, nil
}

// StartFEN is the FEN of the initial position.
func StartFEN() string { return nchess.NewGame().FEN() }

func (p *Position) FEN() string { return p.game.FEN() }

// Turn returns "white" or "black".
func (p *Position) Turn() string {
	if p.game.Position().Turn() == nchess.White {
		return "white"
	}
	return "black"
}

func (p *Position) Board() *nchess.Board { return p.game.Position().Board() }

func (p *Position) Ply() int { return len(p.moves) }

// LastMove returns the squares of the most recent move.
func (p *Position) LastMove() (from, to nchess.Square, ok bool) {
	moves := p.game.Moves()
	if len(moves) == 0 {
		return 0, 0, false
	}
	mv := moves[len(moves)-1]
	return mv.S1(), mv.S2(), true
}

// LegalMoves enumerates the moves available to the side to move. It is empty
// once the game is over.
func (p *Position) LegalMoves() []Move {
	if p.Status().Over {
		return nil
	}
	pos := p.game.Position()
	valid := p.game.ValidMoves()
	out := make([]Move, 0, len(valid))
	for i := range valid {
		mv := valid[i]
		out = append(out, Move{
			UCI:     mv.String(),
			SAN:     nchess.AlgebraicNotation{}.Encode(pos, &mv),
			Capture: mv.HasTag(nchess.Capture) || mv.HasTag(nchess.EnPassant),
			Check:   mv.HasTag(nchess.Check),
		})
	}
	return out
}

// Apply validates and plays move (UCI preferred, SAN accepted). On error the
// receiver is left untouched.
func (p *Position) Apply(move string) (Applied, error) {
	raw := strings.TrimSpace(move)
	if raw == "" {
		return Applied{}, fmt.Errorf("%w: empty move", ErrIllegalMove)
	}
	if p.Status().Over {
		return Applied{}, ErrGameOver
	}

	next := p.game.Clone()
	pos := next.Position()
	legal, ok := resolve(pos, next.ValidMoves(), raw)
	if !ok {
		return Applied{}, fmt.Errorf("%w: %s", ErrIllegalMove, raw)
	}
	if err := next.Move(&legal, nil); err != nil {
		return Applied{}, fmt.Errorf("%w: %s: %v", ErrIllegalMove, raw, err)
	}
	claimDraw(next)

	applied := Applied{
		UCI:  legal.String(),
		SAN:  nchess.AlgebraicNotation{}.Encode(pos, &legal),
		FEN:  next.FEN(),
		From: legal.S1(),
		To:   legal.S2(),
	}
	p.game = next
	p.moves = append(p.moves, applied.UCI)
	return applied, nil
}

// Status reports whether the position is over and how.
func (p *Position) Status() Outcome {
	switch p.game.Outcome() {
	case nchess.WhiteWon, nchess.BlackWon:
		kind := KindNone
		if p.game.Method() == nchess.Checkmate {
			kind = KindMate
		}
		return Outcome{Over: true, Kind: kind, Result: string(p.game.Outcome()), Method: methodName(p.game.Method())}
	case nchess.Draw:
		return Outcome{Over: true, Kind: KindDraw, Result: string(nchess.Draw), Method: methodName(p.game.Method())}
	}
	return Outcome{Kind: KindNone, Result: string(nchess.NoOutcome)}
}

// resolve maps raw notation onto one of the legal moves so the applied move
// carries the library's tags (check, capture) for SAN encoding.
func resolve(pos *nchess.Position, valid []nchess.Move, raw string) (nchess.Move, bool) {
	decoded, err := nchess.UCINotation{}.Decode(pos, strings.ToLower(raw))
	if err != nil {
		decoded, err = nchess.AlgebraicNotation{}.Decode(pos, raw)
		if err != nil {
			return nchess.Move{}, false
		}
	}
	for _, mv := range valid {
		if mv.S1() == decoded.S1() && mv.S2() == decoded.S2() && mv.Promo() == decoded.Promo() {
			return mv, true
		}
	}
	// a promotion sent without a piece letter promotes to a queen
	if decoded.Promo() == nchess.NoPieceType {
		for _, mv := range valid {
			if mv.S1() == decoded.S1() && mv.S2() == decoded.S2() && mv.Promo() == nchess.Queen {
				return mv, true
			}
		}
	}
	return nchess.Move{}, false
}

// claimDraw settles draws the library only grants on claim. Nobody is around
// to claim them, so they are taken as soon as they become eligible.
func claimDraw(game *nchess.Game) {
	if game.Outcome() != nchess.NoOutcome {
		return
	}
	for _, m := range game.EligibleDraws() {
		if m == nchess.ThreefoldRepetition || m == nchess.FiftyMoveRule {
			_ = game.Draw(m)
			return
		}
	}
}

func methodName(m nchess.Method) string {
	switch m {
	case nchess.Checkmate:
		return "checkmate"
	case nchess.Resignation:
		return "resignation"
	case nchess.DrawOffer:
		return "draw_offer"
	case nchess.Stalemate:
		return "stalemate"
	case nchess.ThreefoldRepetition:
		return "threefold_repetition"
	case nchess.FivefoldRepetition:
		return "fivefold_repetition"
	case nchess.FiftyMoveRule:
		return "fifty_move_rule"
	case nchess.SeventyFiveMoveRule:
		return "seventy_five_move_rule"
	case nchess.InsufficientMaterial:
		return "insufficient_material"
	default:
		return ""
	}
}

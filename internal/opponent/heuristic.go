// Package opponent holds the computer player: a fixed preference for captures,
// then checks, then anything, with no lookahead.
package opponent

import (
	"math/rand"
	"sync"
	"time"

	"github.com/park285/cheese-chess-server/internal/rules"
)

// Heuristic picks moves for the computer seat. Safe for concurrent use.
type Heuristic struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// New seeds the chooser; seed 0 uses the clock.
func New(seed int64) *Heuristic {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Heuristic{rnd: rand.New(rand.NewSource(seed))}
}

// ChooseMove returns a move for the side to move, or false when the position
// has no legal moves (the game is already over).
func (h *Heuristic) ChooseMove(pos *rules.Position) (rules.Move, bool) {
	if pos == nil {
		return rules.Move{}, false
	}
	moves := pos.LegalMoves()
	h.mu.Lock()
	defer h.mu.Unlock()
	return Pick(moves, h.rnd)
}

// Pick applies the preference order to an explicit candidate list.
func Pick(moves []rules.Move, r *rand.Rand) (rules.Move, bool) {
	if len(moves) == 0 {
		return rules.Move{}, false
	}
	var captures, checks []rules.Move
	for _, mv := range moves {
		switch {
		case mv.Capture:
			captures = append(captures, mv)
		case mv.Check:
			checks = append(checks, mv)
		}
	}
	pool := moves
	if len(captures) > 0 {
		pool = captures
	} else if len(checks) > 0 {
		pool = checks
	}
	return pool[r.Intn(len(pool))], true
}

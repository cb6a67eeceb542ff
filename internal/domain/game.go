package domain

import "time"

// ComputerID is the reserved participant id of the heuristic opponent.
const ComputerID = "computer"

const DefaultTimeControl = "10+0"

// Status represents a game lifecycle state.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Mode selects how the second seat of a game is filled.
type Mode string

const (
	ModeFriend   Mode = "friend"
	ModeComputer Mode = "computer"
	ModeOpen     Mode = "open"
)

// ParseMode accepts the mode names used by the web client, including the
// legacy "human"/"pvp" aliases for open games.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "friend":
		return ModeFriend, true
	case "computer", "ai", "bot":
		return ModeComputer, true
	case "open", "human", "pvp", "":
		return ModeOpen, true
	}
	return "", false
}

type MoveRecord struct {
	Mover      string    `json:"mover"`
	UCI        string    `json:"uci"`
	SAN        string    `json:"san"`
	FEN        string    `json:"fen"`
	IsComputer bool      `json:"is_computer"`
	At         time.Time `json:"at"`
}

// Game is the persisted state of a single match. PlayerA always plays white.
type Game struct {
	ID               string       `json:"id"`
	PlayerA          string       `json:"player_a"`
	PlayerB          string       `json:"player_b,omitempty"`
	VsComputer       bool         `json:"vs_computer"`
	Mode             Mode         `json:"mode"`
	TimeControl      string       `json:"time_control"`
	FEN              string       `json:"fen"`
	Moves            []MoveRecord `json:"moves"`
	Status           Status       `json:"status"`
	Winner           string       `json:"winner,omitempty"`
	Result           string       `json:"result,omitempty"`
	Method           string       `json:"method,omitempty"`
	Turn             string       `json:"turn"`
	AwaitingComputer bool         `json:"awaiting_computer,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	LastMoveAt       time.Time    `json:"last_move_at"`

	// WhiteRating and BlackRating hold the pre-game ratings used to settle a
	// rated game. Settled is set once every human's ledger entry is written.
	WhiteRating int  `json:"white_rating,omitempty"`
	BlackRating int  `json:"black_rating,omitempty"`
	Settled     bool `json:"settled,omitempty"`
}

// Clone returns a deep copy safe to mutate.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	cp := *g
	cp.Moves = append([]MoveRecord(nil), g.Moves...)
	return &cp
}

// Opponent returns the other seat for id, or "" when id is not seated.
func (g *Game) Opponent(id string) string {
	switch id {
	case g.PlayerA:
		return g.PlayerB
	case g.PlayerB:
		return g.PlayerA
	}
	return ""
}

// Humans lists the seated non-computer players.
func (g *Game) Humans() []string {
	out := make([]string, 0, 2)
	for _, p := range []string{g.PlayerA, g.PlayerB} {
		if p != "" && p != ComputerID {
			out = append(out, p)
		}
	}
	return out
}

func (g *Game) MovesUCI() []string {
	out := make([]string, len(g.Moves))
	for i, m := range g.Moves {
		out[i] = m.UCI
	}
	return out
}

func (g *Game) MovesSAN() []string {
	out := make([]string, len(g.Moves))
	for i, m := range g.Moves {
		out[i] = m.SAN
	}
	return out
}

// Unsettled reports whether a finished game still owes ledger updates.
func (g *Game) Unsettled() bool {
	return g.Status == StatusFinished && !g.Settled
}

// Rated reports whether the game moves Elo ratings.
func (g *Game) Rated() bool {
	return !g.VsComputer && g.PlayerA != "" && g.PlayerB != ""
}

// Live reports whether the game still shows up in the lobby listing.
func (g *Game) Live() bool {
	return g.Status == StatusWaiting || g.Status == StatusActive
}

package chessdto

import "time"

// Game is the JSON view of a game. White is always the creator.
type Game struct {
	ID               string    `json:"id"`
	WhitePlayer      string    `json:"whitePlayer"`
	BlackPlayer      string    `json:"blackPlayer"`
	WhiteID          string    `json:"whiteId"`
	BlackID          string    `json:"blackId,omitempty"`
	Mode             string    `json:"mode"`
	VsComputer       bool      `json:"vsComputer"`
	TimeControl      string    `json:"timeControl"`
	Status           string    `json:"status"`
	FEN              string    `json:"fen"`
	Turn             string    `json:"turn"`
	Moves            []Move    `json:"moves"`
	Winner           string    `json:"winner,omitempty"`
	Result           string    `json:"result,omitempty"`
	Method           string    `json:"method,omitempty"`
	AwaitingComputer bool      `json:"awaitingComputer,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	LastMoveAt       time.Time `json:"lastMoveAt"`
}

// GameResponse wraps a game returned by create and join.
type GameResponse struct {
	Message string `json:"message"`
	Game    *Game  `json:"game"`
}

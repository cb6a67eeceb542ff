package chessdto

import "time"

type Move struct {
	Mover      string    `json:"mover"`
	UCI        string    `json:"uci"`
	SAN        string    `json:"san"`
	FEN        string    `json:"fen"`
	IsComputer bool      `json:"isComputer,omitempty"`
	At         time.Time `json:"at"`
}

// MoveResponse is returned for an accepted move.
type MoveResponse struct {
	Game     *Game `json:"game"`
	GameOver bool  `json:"gameOver"`
}

package chessdto

import "time"

type Profile struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	Rating       int       `json:"rating"`
	Balance      int64     `json:"balance"`
	TotalEarned  int64     `json:"totalEarned"`
	GamesPlayed  int       `json:"gamesPlayed"`
	Wins         int       `json:"wins"`
	ComputerWins int       `json:"computerWins"`
	Losses       int       `json:"losses"`
	Draws        int       `json:"draws"`
	CreatedAt    time.Time `json:"createdAt"`
	LastLoginAt  time.Time `json:"lastLoginAt"`
}

// LeaderboardEntry is one row of the balance leaderboard.
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	Username string `json:"username"`
	Balance  int64  `json:"balance"`
	Rating   int    `json:"rating"`
	Wins     int    `json:"wins"`
}

package domain

import "time"

// DefaultRating is the Elo rating assigned at registration.
const DefaultRating = 1500

type User struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	Email            string    `json:"email,omitempty"`
	PasswordHash     string    `json:"password_hash,omitempty"`
	TelegramID       int64     `json:"telegram_id,omitempty"`
	Balance          int64     `json:"balance"`
	TotalEarned      int64     `json:"total_earned"`
	GamesPlayed      int       `json:"games_played"`
	GamesWon         int       `json:"games_won"`
	ComputerGamesWon int       `json:"computer_games_won"`
	Losses           int       `json:"losses"`
	Draws            int       `json:"draws"`
	Rating           int       `json:"rating"`
	CreatedAt        time.Time `json:"created_at"`
	LastLoginAt      time.Time `json:"last_login_at"`
	Active           bool      `json:"active"`

	// SettledGames lists the most recent game ids already paid out.
	SettledGames []string `json:"settled_games,omitempty"`
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	cp.SettledGames = append([]string(nil), u.SettledGames...)
	return &cp
}

package httpapi

import (
	"context"

	"github.com/park285/cheese-chess-server/internal/domain"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
)

const (
	computerName = "Computer"
	waitingName  = "Waiting..."
)

func profileView(u *domain.User) *chessdto.Profile {
	if u == nil {
		return nil
	}
	return &chessdto.Profile{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		Rating:       u.Rating,
		Balance:      u.Balance,
		TotalEarned:  u.TotalEarned,
		GamesPlayed:  u.GamesPlayed,
		Wins:         u.GamesWon,
		ComputerWins: u.ComputerGamesWon,
		Losses:       u.Losses,
		Draws:        u.Draws,
		CreatedAt:    u.CreatedAt,
		LastLoginAt:  u.LastLoginAt,
	}
}

// nameCache resolves player ids to usernames once per request.
type nameCache struct {
	accounts Accounts
	names    map[string]string
}

func (s *Server) newNameCache() *nameCache {
	return &nameCache{accounts: s.accounts, names: map[string]string{
		domain.ComputerID: computerName,
		"":                waitingName,
	}}
}

func (n *nameCache) name(ctx context.Context, id string) string {
	if v, ok := n.names[id]; ok {
		return v
	}
	v := id
	if u, err := n.accounts.Profile(ctx, id); err == nil {
		v = u.Username
	}
	n.names[id] = v
	return v
}

func (n *nameCache) gameView(ctx context.Context, g *domain.Game) *chessdto.Game {
	moves := make([]chessdto.Move, 0, len(g.Moves))
	for _, m := range g.Moves {
		moves = append(moves, chessdto.Move{
			Mover:      m.Mover,
			UCI:        m.UCI,
			SAN:        m.SAN,
			FEN:        m.FEN,
			IsComputer: m.IsComputer,
			At:         m.At,
		})
	}
	return &chessdto.Game{
		ID:               g.ID,
		WhitePlayer:      n.name(ctx, g.PlayerA),
		BlackPlayer:      n.name(ctx, g.PlayerB),
		WhiteID:          g.PlayerA,
		BlackID:          g.PlayerB,
		Mode:             string(g.Mode),
		VsComputer:       g.VsComputer,
		TimeControl:      g.TimeControl,
		Status:           string(g.Status),
		FEN:              g.FEN,
		Turn:             g.Turn,
		Moves:            moves,
		Winner:           g.Winner,
		Result:           g.Result,
		Method:           g.Method,
		AwaitingComputer: g.AwaitingComputer,
		CreatedAt:        g.CreatedAt,
		LastMoveAt:       g.LastMoveAt,
	}
}

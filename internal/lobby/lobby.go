// Package lobby is the matchmaking entry point: it lists live games and
// creates friend, computer and open games on top of the session manager.
package lobby

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/domain"
	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/internal/store"
)

// MaxListLimit caps every lobby listing.
const MaxListLimit = 20

// UserResolver finds a user by email, username or id.
type UserResolver interface {
	Resolve(ctx context.Context, ref string) (*domain.User, error)
}

// CreateRequest is the mode selection sent by the web client and the bot.
type CreateRequest struct {
	Mode        domain.Mode
	Friend      string
	TimeControl string
}

type Lobby struct {
	games    store.GameStore
	sessions *session.Manager
	users    UserResolver
	limit    int
}

func New(games store.GameStore, sessions *session.Manager, users UserResolver, limit int) *Lobby {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	return &Lobby{games: games, sessions: sessions, users: users, limit: limit}
}

// ListOpenGames returns waiting and active games, newest first.
func (l *Lobby) ListOpenGames(ctx context.Context, limit int) ([]*domain.Game, error) {
	if limit <= 0 || limit > l.limit {
		limit = l.limit
	}
	games, err := l.games.ListLiveGames(ctx, limit)
	if err != nil {
		return nil, err
	}
	if games == nil {
		games = []*domain.Game{}
	}
	return games, nil
}

// CreateForFriend starts an active game against the user behind friendRef.
func (l *Lobby) CreateForFriend(ctx context.Context, playerA, friendRef string) (*domain.Game, error) {
	return l.createForFriend(ctx, playerA, friendRef, "")
}

// CreateVsComputer starts an active game against the computer. The human
// plays white, so nothing is scheduled until their first move.
func (l *Lobby) CreateVsComputer(ctx context.Context, playerA string) (*domain.Game, error) {
	return l.create(ctx, playerA, "", true, domain.ModeComputer, "")
}

// CreateOpen posts a waiting game anyone can join.
func (l *Lobby) CreateOpen(ctx context.Context, playerA string) (*domain.Game, error) {
	return l.create(ctx, playerA, "", false, domain.ModeOpen, "")
}

// Create dispatches on req.Mode.
func (l *Lobby) Create(ctx context.Context, playerA string, req CreateRequest) (*domain.Game, error) {
	switch req.Mode {
	case domain.ModeFriend:
		return l.createForFriend(ctx, playerA, req.Friend, req.TimeControl)
	case domain.ModeComputer:
		return l.create(ctx, playerA, "", true, domain.ModeComputer, req.TimeControl)
	case domain.ModeOpen, "":
		return l.create(ctx, playerA, "", false, domain.ModeOpen, req.TimeControl)
	default:
		return nil, domain.Validation("unknown game mode")
	}
}

func (l *Lobby) createForFriend(ctx context.Context, playerA, friendRef, tc string) (*domain.Game, error) {
	friendRef = strings.TrimSpace(friendRef)
	if friendRef == "" {
		return nil, domain.Validation("friend email or id is required")
	}
	friend, err := l.users.Resolve(ctx, friendRef)
	if err != nil {
		return nil, err
	}
	return l.create(ctx, playerA, friend.ID, false, domain.ModeFriend, tc)
}

func (l *Lobby) create(ctx context.Context, playerA, playerB string, vsComputer bool, mode domain.Mode, tc string) (*domain.Game, error) {
	g, err := l.sessions.Create(ctx, playerA, playerB, vsComputer, session.CreateOptions{Mode: mode, TimeControl: tc})
	if err != nil {
		obslog.L().Warn("lobby_create_error", zap.String("player_a", playerA), zap.String("mode", string(mode)), zap.Error(err))
		return nil, err
	}
	return g, nil
}

// Package store persists users and games as individually addressed records.
// Every mutation goes through UpdateUser/UpdateGame, which re-read the record,
// apply the caller's function and write back only if nothing else changed it
// in between.
package store

import (
	"context"
	"strings"

	"github.com/park285/cheese-chess-server/internal/domain"
)

// UserStore is the user directory and ledger storage.
type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	FindUserByTelegramID(ctx context.Context, tgID int64) (*domain.User, error)
	// UpdateUser runs fn against the latest copy of the user. fn may be
	// invoked more than once and must only depend on its argument.
	UpdateUser(ctx context.Context, id string, fn func(u *domain.User) error) (*domain.User, error)
	TopUsersByBalance(ctx context.Context, limit int) ([]*domain.User, error)
}

// GameStore holds live and finished game records.
type GameStore interface {
	CreateGame(ctx context.Context, g *domain.Game) error
	GetGame(ctx context.Context, id string) (*domain.Game, error)
	// UpdateGame has the same retry contract as UpdateUser.
	UpdateGame(ctx context.Context, id string, fn func(g *domain.Game) error) (*domain.Game, error)
	// ListLiveGames returns waiting and active games, newest first.
	ListLiveGames(ctx context.Context, limit int) ([]*domain.Game, error)
	// ListAwaitingComputer returns active games whose computer reply is pending.
	ListAwaitingComputer(ctx context.Context) ([]*domain.Game, error)
	// ListUnsettled returns finished games whose ledger settlement has not
	// completed.
	ListUnsettled(ctx context.Context) ([]*domain.Game, error)
}

type Store interface {
	UserStore
	GameStore
	Ping(ctx context.Context) error
	Close() error
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func errUserNotFound() error { return domain.NotFound("user not found") }
func errGameNotFound() error { return domain.NotFound("game not found") }

func errUsernameTaken() error {
	return domain.WithCode(domain.Conflict("username already taken"), "username_taken")
}

func errEmailTaken() error {
	return domain.WithCode(domain.Conflict("email already registered"), "email_taken")
}

func errTelegramTaken() error {
	return domain.WithCode(domain.Conflict("telegram account already linked"), "telegram_taken")
}

func errImmutableIdentity() error {
	return domain.Validation("username, email and telegram id cannot be changed")
}

func sameIdentity(a, b *domain.User) bool {
	return a.ID == b.ID && normalize(a.Username) == normalize(b.Username) &&
		normalize(a.Email) == normalize(b.Email) && a.TelegramID == b.TelegramID
}

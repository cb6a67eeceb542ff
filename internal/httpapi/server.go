// Package httpapi exposes accounts, the lobby and game play over a Fiber app.
package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/account"
	"github.com/park285/cheese-chess-server/internal/domain"
	"github.com/park285/cheese-chess-server/internal/lobby"
	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/session"
)

type Accounts interface {
	Register(ctx context.Context, in account.RegisterInput) (*account.Session, error)
	Login(ctx context.Context, login, password string) (*account.Session, error)
	Profile(ctx context.Context, userID string) (*domain.User, error)
	Leaderboard(ctx context.Context, limit int) ([]*domain.User, error)
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

type Lobby interface {
	Create(ctx context.Context, playerA string, req lobby.CreateRequest) (*domain.Game, error)
	ListOpenGames(ctx context.Context, limit int) ([]*domain.Game, error)
}

type Sessions interface {
	Get(ctx context.Context, gameID string) (*domain.Game, error)
	Join(ctx context.Context, gameID, player string) (*domain.Game, error)
	SubmitMove(ctx context.Context, gameID, actor, move string) (*session.MoveResult, error)
}

type BoardRenderer interface {
	RenderGame(ctx context.Context, g *domain.Game, title string) ([]byte, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the app. Boards and Health are optional.
type Deps struct {
	Accounts Accounts
	Lobby    Lobby
	Sessions Sessions
	Boards   BoardRenderer
	Health   Pinger

	CORSOrigin       string
	RateLimit        RateLimit
	LobbyLimit       int
	LeaderboardLimit int
}

type Server struct {
	accounts Accounts
	lobby    Lobby
	sessions Sessions
	boards   BoardRenderer
	health   Pinger

	lobbyLimit       int
	leaderboardLimit int
}

// New builds the Fiber app with every route registered.
func New(d Deps) *fiber.App {
	s := &Server{
		accounts:         d.Accounts,
		lobby:            d.Lobby,
		sessions:         d.Sessions,
		boards:           d.Boards,
		health:           d.Health,
		lobbyLimit:       d.LobbyLimit,
		leaderboardLimit: d.LeaderboardLimit,
	}
	if s.lobbyLimit <= 0 || s.lobbyLimit > lobby.MaxListLimit {
		s.lobbyLimit = lobby.MaxListLimit
	}
	if s.leaderboardLimit <= 0 {
		s.leaderboardLimit = 20
	}

	app := fiber.New(fiber.Config{
		AppName:               "cheese-chess-server",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(recoverMiddleware())
	app.Use(corsMiddleware(d.CORSOrigin))
	app.Use(requestLogger())

	s.routes(app, d.RateLimit)
	return app
}

func (s *Server) routes(app *fiber.App, rl RateLimit) {
	authLimit := rateLimitAuth(rl)
	writeLimit := rateLimitWrite(rl)

	app.Get("/healthz", s.healthz)

	api := app.Group("/api")
	api.Post("/register", authLimit, s.register)
	api.Post("/auth/register", authLimit, s.register)
	api.Post("/login", authLimit, s.login)
	api.Post("/auth/login", authLimit, s.login)
	api.Get("/profile", s.requireAuth, s.profile)

	api.Get("/games", s.listGames)
	api.Post("/games", s.requireAuth, writeLimit, s.createGame)
	api.Post("/game", s.requireAuth, writeLimit, s.createGame)
	api.Get("/games/:id", s.getGame)
	api.Get("/games/:id/board.png", s.board)
	api.Put("/games/:id/join", s.requireAuth, writeLimit, s.join)
	api.Post("/game/:id/join", s.requireAuth, writeLimit, s.join)
	api.Post("/game/:id/move", s.requireAuth, writeLimit, s.move)
	api.Post("/games/:id/move", s.requireAuth, writeLimit, s.move)

	api.Get("/leaderboard", s.leaderboard)
}

func (s *Server) healthz(c *fiber.Ctx) error {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(userContext(c), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			obslog.L().Warn("healthz_store_down", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"ok": false, "error": "store unavailable"})
		}
	}
	return c.JSON(fiber.Map{"ok": true})
}

// errorHandler renders fiber errors as {"error"} and domain errors as the
// structured descriptor.
func errorHandler(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
	}

	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		obslog.L().Error("http_request_failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	return c.Status(status).JSON(domain.Describe(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		switch domain.Code(err) {
		case codeInvalidToken, codePlayerMismatch:
			return fiber.StatusForbidden
		}
		return fiber.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrInvalidMove):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStoreFailure):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func userContext(c *fiber.Ctx) context.Context {
	if ctx := c.UserContext(); ctx != nil {
		return ctx
	}
	return context.Background()
}

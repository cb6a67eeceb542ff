package httpapi

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/park285/cheese-chess-server/internal/account"
	"github.com/park285/cheese-chess-server/internal/domain"
	"github.com/park285/cheese-chess-server/internal/lobby"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
)

func (s *Server) register(c *fiber.Ctx) error {
	var body chessdto.RegisterRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	sess, err := s.accounts.Register(userContext(c), account.RegisterInput{
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(chessdto.AuthResponse{
		Message: "User registered successfully",
		User:    profileView(sess.User),
		Token:   sess.Token,
	})
}

func (s *Server) login(c *fiber.Ctx) error {
	var body chessdto.LoginRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	ident := body.Username
	if strings.TrimSpace(ident) == "" {
		ident = body.Email
	}
	sess, err := s.accounts.Login(userContext(c), ident, body.Password)
	if err != nil {
		return err
	}
	return c.JSON(chessdto.AuthResponse{
		Message: "Login successful",
		User:    profileView(sess.User),
		Token:   sess.Token,
	})
}

func (s *Server) profile(c *fiber.Ctx) error {
	uid, err := currentUserID(c)
	if err != nil {
		return err
	}
	u, err := s.accounts.Profile(userContext(c), uid)
	if err != nil {
		return err
	}
	return c.JSON(profileView(u))
}

func (s *Server) leaderboard(c *fiber.Ctx) error {
	users, err := s.accounts.Leaderboard(userContext(c), s.leaderboardLimit)
	if err != nil {
		return err
	}
	out := make([]chessdto.LeaderboardEntry, 0, len(users))
	for i, u := range users {
		out = append(out, chessdto.LeaderboardEntry{
			Rank:     i + 1,
			Username: u.Username,
			Balance:  u.Balance,
			Rating:   u.Rating,
			Wins:     u.GamesWon,
		})
	}
	return c.JSON(out)
}

func (s *Server) listGames(c *fiber.Ctx) error {
	ctx := userContext(c)
	games, err := s.lobby.ListOpenGames(ctx, s.lobbyLimit)
	if err != nil {
		return err
	}
	names := s.newNameCache()
	out := make([]*chessdto.Game, 0, len(games))
	for _, g := range games {
		out = append(out, names.gameView(ctx, g))
	}
	return c.JSON(out)
}

func (s *Server) createGame(c *fiber.Ctx) error {
	uid, err := currentUserID(c)
	if err != nil {
		return err
	}
	var body chessdto.CreateGameRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	raw := strings.ToLower(strings.TrimSpace(body.Mode))
	if raw == "" {
		raw = strings.ToLower(strings.TrimSpace(body.GameMode))
	}
	mode, ok := domain.ParseMode(raw)
	if !ok {
		return domain.Validation("unknown game mode")
	}

	ctx := userContext(c)
	g, err := s.lobby.Create(ctx, uid, lobby.CreateRequest{
		Mode:        mode,
		Friend:      body.Friend,
		TimeControl: body.TimeControl,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(chessdto.GameResponse{
		Message: "Game created successfully",
		Game:    s.newNameCache().gameView(ctx, g),
	})
}

func (s *Server) getGame(c *fiber.Ctx) error {
	ctx := userContext(c)
	g, err := s.sessions.Get(ctx, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(s.newNameCache().gameView(ctx, g))
}

func (s *Server) join(c *fiber.Ctx) error {
	uid, err := currentUserID(c)
	if err != nil {
		return err
	}
	ctx := userContext(c)
	g, err := s.sessions.Join(ctx, c.Params("id"), uid)
	if err != nil {
		return err
	}
	return c.JSON(chessdto.GameResponse{
		Message: "Joined game successfully",
		Game:    s.newNameCache().gameView(ctx, g),
	})
}

func (s *Server) move(c *fiber.Ctx) error {
	uid, err := currentUserID(c)
	if err != nil {
		return err
	}
	var body chessdto.MoveRequest
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if pid := strings.TrimSpace(body.PlayerID); pid != "" && pid != uid {
		return domain.WithCode(domain.Unauthorized("playerId does not match the signed-in user"), codePlayerMismatch)
	}
	if strings.TrimSpace(body.Move) == "" {
		return domain.Validation("move is required")
	}

	ctx := userContext(c)
	res, err := s.sessions.SubmitMove(ctx, c.Params("id"), uid, body.Move)
	if err != nil {
		return err
	}
	return c.JSON(chessdto.MoveResponse{
		Game:     s.newNameCache().gameView(ctx, res.Game),
		GameOver: res.GameOver,
	})
}

func (s *Server) board(c *fiber.Ctx) error {
	if s.boards == nil {
		return fiber.NewError(fiber.StatusNotFound, "board rendering disabled")
	}
	ctx := userContext(c)
	g, err := s.sessions.Get(ctx, c.Params("id"))
	if err != nil {
		return err
	}
	view := s.newNameCache().gameView(ctx, g)
	png, err := s.boards.RenderGame(ctx, g, view.WhitePlayer+" vs "+view.BlackPlayer)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "image/png")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(png)
}

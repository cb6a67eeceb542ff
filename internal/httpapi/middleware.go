package httpapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/auth"
	"github.com/park285/cheese-chess-server/internal/domain"
	"github.com/park285/cheese-chess-server/internal/obslog"
)

const (
	localUserID = "user_id"

	codeInvalidToken   = auth.CodeInvalidToken
	codePlayerMismatch = "player_mismatch"
)

// RateLimit bounds requests per key over Window. Auth routes are keyed by
// client IP, write routes by user id.
type RateLimit struct {
	Max    int
	Window time.Duration
}

func (r RateLimit) normalized() RateLimit {
	if r.Max <= 0 {
		r.Max = 30
	}
	if r.Window <= 0 {
		r.Window = time.Minute
	}
	return r
}

func rateLimitAuth(rl RateLimit) fiber.Handler {
	rl = rl.normalized()
	return limiter.New(limiter.Config{
		Max:        rl.Max,
		Expiration: rl.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: tooManyRequests,
	})
}

func rateLimitWrite(rl RateLimit) fiber.Handler {
	rl = rl.normalized()
	return limiter.New(limiter.Config{
		Max:        rl.Max * 2,
		Expiration: rl.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			if uid, ok := c.Locals(localUserID).(string); ok && uid != "" {
				return uid
			}
			return c.IP()
		},
		LimitReached: tooManyRequests,
	})
}

func tooManyRequests(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too_many_requests"})
}

func corsMiddleware(origin string) fiber.Handler {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		origin = "*"
	}
	return cors.New(cors.Config{
		AllowOrigins:     origin,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowCredentials: false,
	})
}

func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			status = statusFor(err)
		}
		obslog.L().Info("http_request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		)
		return err
	}
}

// recoverMiddleware turns a handler panic into a 500 instead of a dropped
// connection.
func recoverMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				obslog.L().Error("http_panic_recovered",
					zap.String("path", c.Path()),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return c.Next()
	}
}

// requireAuth resolves the bearer token to a live user and stores its id in
// Locals.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	u, err := s.accounts.Authenticate(userContext(c), auth.BearerToken(c.Get(fiber.HeaderAuthorization)))
	if err != nil {
		return err
	}
	c.Locals(localUserID, u.ID)
	return c.Next()
}

func currentUserID(c *fiber.Ctx) (string, error) {
	uid, ok := c.Locals(localUserID).(string)
	if !ok || uid == "" {
		return "", domain.WithCode(domain.Unauthorized("access token required"), auth.CodeMissingToken)
	}
	return uid, nil
}

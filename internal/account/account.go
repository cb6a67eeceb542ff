// Package account handles registration, login, profiles, the leaderboard and
// Telegram onboarding.
package account

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/auth"
	"github.com/park285/cheese-chess-server/internal/domain"
	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/store"
)

const (
	MinUsernameLen = 3
	MinPasswordLen = 6
)

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Session is a user together with a freshly issued token.
type Session struct {
	User  *domain.User
	Token string
}

type Service struct {
	users  store.UserStore
	tokens *auth.Tokens
	now    func() time.Time
}

func NewService(users store.UserStore, tokens *auth.Tokens) *Service {
	return &Service{users: users, tokens: tokens, now: time.Now}
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	switch {
	case username == "" || email == "" || in.Password == "":
		return nil, domain.Validation("All fields are required")
	case len([]rune(username)) < MinUsernameLen:
		return nil, domain.Validation(fmt.Sprintf("Username must be at least %d characters", MinUsernameLen))
	case len(in.Password) < MinPasswordLen:
		return nil, domain.Validation(fmt.Sprintf("Password must be at least %d characters", MinPasswordLen))
	case !strings.Contains(email, "@"):
		return nil, domain.Validation("Invalid email address")
	case username == domain.ComputerID:
		return nil, domain.WithCode(domain.Conflict("username already taken"), "username_taken")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	u := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Rating:       domain.DefaultRating,
		CreatedAt:    now,
		LastLoginAt:  now,
		Active:       true,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	obslog.L().Info("account_register", zap.String("user_id", u.ID), zap.String("username", u.Username))
	return s.issue(u)
}

// Login accepts a username or email. A mismatch is reported as a validation
// error so the client shows it inline.
func (s *Service) Login(ctx context.Context, login, password string) (*Session, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, domain.Validation("Username and password are required")
	}
	u, err := s.lookup(ctx, login)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, errBadCredentials()
	}
	if err != nil {
		return nil, err
	}
	if !u.Active || !auth.CheckPassword(u.PasswordHash, password) {
		return nil, errBadCredentials()
	}
	u, err = s.users.UpdateUser(ctx, u.ID, func(u *domain.User) error {
		u.LastLoginAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("account_login", zap.String("user_id", u.ID))
	return s.issue(u)
}

func (s *Service) Profile(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.GetUser(ctx, userID)
}

// Leaderboard returns the richest users first.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]*domain.User, error) {
	if limit <= 0 {
		limit = 20
	}
	users, err := s.users.TopUsersByBalance(ctx, limit)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []*domain.User{}
	}
	return users, nil
}

// EnsureTelegramUser returns the account linked to tgID, creating one on
// first contact. Calling it again is harmless.
func (s *Service) EnsureTelegramUser(ctx context.Context, tgID int64, username string) (*domain.User, bool, error) {
	if tgID == 0 {
		return nil, false, domain.Validation("telegram id is required")
	}
	if u, err := s.users.FindUserByTelegramID(ctx, tgID); err == nil {
		return u, false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	now := s.now()
	u := &domain.User{
		ID:          uuid.NewString(),
		Username:    telegramUsername(tgID, username),
		TelegramID:  tgID,
		Rating:      domain.DefaultRating,
		CreatedAt:   now,
		LastLoginAt: now,
		Active:      true,
	}
	err := s.users.CreateUser(ctx, u)
	if domain.Code(err) == "username_taken" {
		// someone registered that name on the web first
		u.Username = telegramUsername(tgID, "")
		err = s.users.CreateUser(ctx, u)
	}
	if domain.Code(err) == "telegram_taken" {
		// lost a race with a concurrent /start
		existing, ferr := s.users.FindUserByTelegramID(ctx, tgID)
		return existing, false, ferr
	}
	if err != nil {
		return nil, false, err
	}
	obslog.L().Info("account_telegram_onboard", zap.String("user_id", u.ID), zap.Int64("telegram_id", tgID))
	return u, true, nil
}

// Resolve finds a user by email, then username, then id.
func (s *Service) Resolve(ctx context.Context, ref string) (*domain.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, domain.NotFound("user not found")
	}
	if strings.Contains(ref, "@") {
		if u, err := s.users.FindUserByEmail(ctx, ref); !errors.Is(err, domain.ErrNotFound) {
			return u, err
		}
	}
	if u, err := s.users.FindUserByUsername(ctx, ref); !errors.Is(err, domain.ErrNotFound) {
		return u, err
	}
	u, err := s.users.GetUser(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NotFound("friend not found")
	}
	return u, err
}

// Authenticate maps a bearer token to its live user.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetUser(ctx, claims.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.WithCode(domain.Unauthorized("account no longer exists"), auth.CodeInvalidToken)
	}
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, domain.WithCode(domain.Unauthorized("account disabled"), auth.CodeInvalidToken)
	}
	return u, nil
}

func (s *Service) lookup(ctx context.Context, login string) (*domain.User, error) {
	if strings.Contains(login, "@") {
		return s.users.FindUserByEmail(ctx, login)
	}
	return s.users.FindUserByUsername(ctx, login)
}

func (s *Service) issue(u *domain.User) (*Session, error) {
	tok, err := s.tokens.Issue(u.ID, u.Username)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{User: u, Token: tok}, nil
}

func telegramUsername(tgID int64, username string) string {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if len([]rune(username)) >= MinUsernameLen {
		return username
	}
	return "tg_" + strconv.FormatInt(tgID, 10)
}

func errBadCredentials() error {
	return domain.WithCode(domain.Validation("Invalid username or password"), "invalid_credentials")
}

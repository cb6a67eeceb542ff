// Package auth hashes passwords and issues the bearer tokens used by the web
// client.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/park285/cheese-chess-server/internal/domain"
)

const (
	DefaultTokenTTL = 24 * time.Hour

	CodeMissingToken = "missing_token"
	CodeInvalidToken = "invalid_token"
)

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckPassword reports whether password matches hash. An empty hash (a
// Telegram-only account) never matches.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Claims is what a verified token says about its holder.
type Claims struct {
	UserID   string
	Username string
}

// Tokens signs and verifies HS256 tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (t *Tokens) Issue(userID, username string) (string, error) {
	now := t.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  userID,
		"username": username,
		"iat":      now.Unix(),
		"exp":      now.Add(t.ttl).Unix(),
	})
	return tok.SignedString(t.secret)
}

// Parse verifies raw. Both failures are ErrUnauthorized; the code tells a
// missing token from a bad one.
func (t *Tokens) Parse(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, domain.WithCode(domain.Unauthorized("access token required"), CodeMissingToken)
	}
	token, err := jwt.Parse(raw, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Claims{}, invalidToken()
	}
	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, invalidToken()
	}
	uid, _ := mc["user_id"].(string)
	if strings.TrimSpace(uid) == "" {
		return Claims{}, invalidToken()
	}
	name, _ := mc["username"].(string)
	return Claims{UserID: uid, Username: name}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func invalidToken() error {
	return domain.WithCode(domain.Unauthorized("invalid or expired token"), CodeInvalidToken)
}

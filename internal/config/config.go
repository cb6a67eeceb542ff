// Package config loads the server configuration from the environment. A .env
// file in the working directory is read first when present.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type AppConfig struct {
	// --- HTTP ---
	HTTPAddr   string        `envconfig:"HTTP_ADDR" default:":3000"`
	JWTSecret  string        `envconfig:"JWT_SECRET" required:"true"`
	JWTTTL     time.Duration `envconfig:"JWT_TTL" default:"24h"`
	CORSOrigin string        `envconfig:"CORS_ORIGIN" default:"*"`

	// --- Storage ---
	// empty REDIS_URL selects the in-memory store
	RedisURL    string        `envconfig:"REDIS_URL"`
	DatabaseURL string        `envconfig:"DATABASE_URL"`
	GameTTL     time.Duration `envconfig:"GAME_TTL" default:"168h"`

	// --- Telegram ---
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	WebAppURL        string `envconfig:"WEB_APP_URL" default:"http://localhost:3000"`
	BotMaxInflight   int    `envconfig:"BOT_MAX_INFLIGHT" default:"16"`
	// long polling timeout in seconds
	BotUpdateTimeout int `envconfig:"BOT_UPDATE_TIMEOUT" default:"60"`

	// --- Game ---
	WinReward         int64         `envconfig:"WIN_REWARD" default:"100"`
	ComputerMoveDelay time.Duration `envconfig:"COMPUTER_MOVE_DELAY" default:"500ms"`
	ReplySweep        time.Duration `envconfig:"COMPUTER_REPLY_SWEEP" default:"30s"`
	LobbyLimit        int           `envconfig:"LOBBY_LIMIT" default:"20"`
	LeaderboardLimit  int           `envconfig:"LEADERBOARD_LIMIT" default:"20"`

	// --- Rate limiting (HTTP write routes and bot commands) ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"30"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Finished game fan-out ---
	WebhookURL string   `envconfig:"WEBHOOK_URL"`
	S3         S3Config `envconfig:"S3"`

	MessagesDir string `envconfig:"MESSAGES_DIR"`

	Log LogConfig `envconfig:"LOG"`
}

// S3Config points the PGN exporter at an S3 compatible bucket. Exporting is
// disabled while Bucket is empty.
type S3Config struct {
	Bucket          string `envconfig:"BUCKET"`
	Endpoint        string `envconfig:"ENDPOINT"`
	Region          string `envconfig:"REGION" default:"auto"`
	AccessKeyID     string `envconfig:"ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"SECRET_ACCESS_KEY"`
}

func (c S3Config) Enabled() bool { return strings.TrimSpace(c.Bucket) != "" }

type LogConfig struct {
	Level   string `envconfig:"LEVEL" default:"info"`
	Format  string `envconfig:"FORMAT" default:"legacy"`
	File    string `envconfig:"FILE" default:"logs/server.log"`
	Console bool   `envconfig:"TO_CONSOLE" default:"true"`
	ToFile  bool   `envconfig:"TO_FILE" default:"false"`
	Caller  bool   `envconfig:"CALLER" default:"false"`
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.JWTTTL <= 0 {
		return errors.New("JWT_TTL must be > 0")
	}
	if c.WinReward <= 0 {
		return errors.New("WIN_REWARD must be > 0")
	}
	if c.ComputerMoveDelay < 0 {
		return errors.New("COMPUTER_MOVE_DELAY must not be negative")
	}
	if c.LobbyLimit <= 0 || c.LobbyLimit > 20 {
		return errors.New("LOBBY_LIMIT must be between 1 and 20")
	}
	if c.LeaderboardLimit <= 0 {
		return errors.New("LEADERBOARD_LIMIT must be > 0")
	}
	if c.BotMaxInflight <= 0 {
		return errors.New("BOT_MAX_INFLIGHT must be > 0")
	}
	if c.BotUpdateTimeout <= 0 {
		return errors.New("BOT_UPDATE_TIMEOUT must be > 0")
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.WebhookURL != "" {
		if u, err := url.Parse(c.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("WEBHOOK_URL must be an http(s) url")
		}
	}
	if c.S3.Enabled() && (c.S3.AccessKeyID == "" || c.S3.SecretAccessKey == "") {
		return errors.New("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required when S3_BUCKET is set")
	}
	return nil
}

// Load reads .env (if any) and the process environment.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.WebAppURL = strings.TrimRight(strings.TrimSpace(cfg.WebAppURL), "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

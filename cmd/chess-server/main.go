package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/account"
	"github.com/park285/cheese-chess-server/internal/archive"
	"github.com/park285/cheese-chess-server/internal/auth"
	"github.com/park285/cheese-chess-server/internal/autoplay"
	appcfg "github.com/park285/cheese-chess-server/internal/config"
	"github.com/park285/cheese-chess-server/internal/httpapi"
	"github.com/park285/cheese-chess-server/internal/ledger"
	"github.com/park285/cheese-chess-server/internal/lobby"
	"github.com/park285/cheese-chess-server/internal/msgcat"
	"github.com/park285/cheese-chess-server/internal/notify"
	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/opponent"
	"github.com/park285/cheese-chess-server/internal/render"
	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/internal/store"
	"github.com/park285/cheese-chess-server/internal/telegram"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.Init(cfg.Log); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("store_init_failed", zap.Error(err))
	}
	defer func() { _ = st.Close() }()

	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		logger.Fatal("auth_init_failed", zap.Error(err))
	}
	accounts := account.NewService(st, tokens)
	l := ledger.New(st, cfg.WinReward)
	sessions := session.NewManager(st, l)

	player, err := autoplay.New(sessions, st, opponent.New(time.Now().UnixNano()), cfg.ComputerMoveDelay)
	if err != nil {
		logger.Fatal("autoplay_init_failed", zap.Error(err))
	}
	sessions.AttachReplyScheduler(player)
	if err := player.Start(cfg.ReplySweep); err != nil {
		logger.Fatal("autoplay_start_failed", zap.Error(err))
	}

	games := lobby.New(st, sessions, accounts, cfg.LobbyLimit)
	boards := render.New()

	if cfg.DatabaseURL != "" {
		repo, err := archive.Open(ctx, cfg.DatabaseURL, accounts)
		if err != nil {
			logger.Fatal("archive_init_failed", zap.Error(err))
		}
		defer func() { _ = repo.Close() }()
		sessions.AttachFinishHook(repo)
	}
	if cfg.S3.Enabled() {
		client, err := archive.NewS3Client(ctx, cfg.S3)
		if err != nil {
			logger.Fatal("s3_init_failed", zap.Error(err))
		}
		sessions.AttachFinishHook(archive.NewS3Exporter(client, cfg.S3.Bucket, accounts))
	}
	if cfg.WebhookURL != "" {
		sessions.AttachFinishHook(notify.New(cfg.WebhookURL, accounts))
	}

	var wg sync.WaitGroup
	if cfg.TelegramBotToken != "" {
		texts, err := msgcat.New(cfg.MessagesDir)
		if err != nil {
			logger.Fatal("msgcat_init_failed", zap.Error(err))
		}
		api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			logger.Fatal("telegram_init_failed", zap.Error(err))
		}
		logger.Info("telegram_authorized", zap.String("bot", api.Self.UserName))
		bot := telegram.New(api, accounts, l, games, sessions, boards, texts, telegram.Options{
			WebAppURL:         cfg.WebAppURL,
			MaxInflight:       cfg.BotMaxInflight,
			UpdateTimeout:     cfg.BotUpdateTimeout,
			RateLimitRequests: cfg.RateLimitRequests,
			RateLimitWindow:   cfg.RateLimitWindow,
		})
		sessions.AttachFinishHook(bot)
		wg.Add(1)
		go func() {
			defer wg.Done()
			bot.Start(ctx)
		}()
	}

	limits := httpapi.RateLimit{Max: cfg.RateLimitRequests, Window: cfg.RateLimitWindow}
	app := httpapi.New(httpapi.Deps{
		Accounts:         accounts,
		Lobby:            games,
		Sessions:         sessions,
		Boards:           boards,
		Health:           st,
		CORSOrigin:       cfg.CORSOrigin,
		RateLimit:        limits,
		LobbyLimit:       cfg.LobbyLimit,
		LeaderboardLimit: cfg.LeaderboardLimit,
	})

	go func() {
		<-ctx.Done()
		logger.Info("server_shutdown")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Warn("http_shutdown_error", zap.Error(err))
		}
	}()

	logger.Info("server_listen", zap.String("addr", cfg.HTTPAddr), zap.Bool("redis", cfg.RedisURL != ""))
	if err := app.Listen(cfg.HTTPAddr); err != nil {
		logger.Error("http_listen_failed", zap.Error(err))
		stop()
	}
	wg.Wait()
	if err := player.Shutdown(); err != nil {
		logger.Warn("autoplay_shutdown_error", zap.Error(err))
	}
	sessions.WaitHooks()
}

// openStore picks redis when REDIS_URL is set and the in-memory store otherwise.
func openStore(ctx context.Context, cfg *appcfg.AppConfig) (store.Store, error) {
	if cfg.RedisURL == "" {
		obslog.L().Warn("store_memory", zap.String("reason", "REDIS_URL not set"))
		return store.NewMemory(), nil
	}
	return store.OpenRedis(ctx, cfg.RedisURL, store.WithGameTTL(cfg.GameTTL))
}

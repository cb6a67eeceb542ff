// Package telegram is the chat front end: onboarding, balance, and playing
// games through commands and inline buttons.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/domain"
	"github.com/park285/cheese-chess-server/internal/ledger"
	"github.com/park285/cheese-chess-server/internal/lobby"
	"github.com/park285/cheese-chess-server/internal/msgcat"
	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/session"
)

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Accounts interface {
	EnsureTelegramUser(ctx context.Context, tgID int64, username string) (*domain.User, bool, error)
	Profile(ctx context.Context, userID string) (*domain.User, error)
}

type Ledger interface {
	Snapshot(ctx context.Context, userID string) (ledger.Snapshot, error)
	Reward() int64
}

type Lobby interface {
	Create(ctx context.Context, playerA string, req lobby.CreateRequest) (*domain.Game, error)
}

type Sessions interface {
	Get(ctx context.Context, gameID string) (*domain.Game, error)
	SubmitMove(ctx context.Context, gameID, actor, move string) (*session.MoveResult, error)
}

type BoardRenderer interface {
	RenderGame(ctx context.Context, g *domain.Game, title string) ([]byte, error)
}

type Options struct {
	WebAppURL         string
	MaxInflight       int
	UpdateTimeout     int
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

type Bot struct {
	api      API
	accounts Accounts
	ledger   Ledger
	lobby    Lobby
	sessions Sessions
	boards   BoardRenderer
	texts    *msgcat.Catalog

	limiter *RateLimiter
	parser  *CommandParser

	webURL        string
	updateTimeout int

	// bounds concurrent update handling
	inflight chan struct{}
	wg       sync.WaitGroup
}

func New(api API, accounts Accounts, l Ledger, lb Lobby, sessions Sessions, boards BoardRenderer, texts *msgcat.Catalog, opts Options) *Bot {
	maxInFlight := opts.MaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 16
	}
	timeout := opts.UpdateTimeout
	if timeout <= 0 {
		timeout = 60
	}
	return &Bot{
		api:           api,
		accounts:      accounts,
		ledger:        l,
		lobby:         lb,
		sessions:      sessions,
		boards:        boards,
		texts:         texts,
		limiter:       NewRateLimiter(opts.RateLimitRequests, opts.RateLimitWindow),
		parser:        NewCommandParser(),
		webURL:        strings.TrimRight(opts.WebAppURL, "/"),
		updateTimeout: timeout,
		inflight:      make(chan struct{}, maxInFlight),
	}
}

// Start long-polls until ctx is cancelled, then waits for in-flight updates.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.updateTimeout
	updates := b.api.GetUpdatesChan(u)

	obslog.L().Info("telegram_bot_started",
		zap.Int("max_inflight", cap(b.inflight)),
		zap.Int("timeout_sec", b.updateTimeout),
	)
	defer func() {
		b.wg.Wait()
		b.limiter.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			obslog.L().Info("telegram_bot_stopping")
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				obslog.L().Info("telegram_updates_closed")
				return
			}
			select {
			case b.inflight <- struct{}{}:
			case <-ctx.Done():
				b.api.StopReceivingUpdates()
				return
			}
			b.wg.Add(1)
			go func(upd tgbotapi.Update) {
				defer func() {
					<-b.inflight
					b.wg.Done()
				}()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer recoverFromPanic(update.UpdateID)

	if cq := update.CallbackQuery; cq != nil {
		b.handleCallback(ctx, cq)
		return
	}
	msg := update.Message
	if msg == nil || msg.Text == "" || msg.From == nil || msg.Chat == nil {
		return
	}
	logMessage(msg)

	if !b.limiter.Allow(msg.From.ID) {
		obslog.L().Debug("telegram_rate_limited", zap.Int64("tg_user_id", msg.From.ID))
		return
	}

	cmd, args, ok := b.parser.ParseCommand(msg.Text)
	if !ok {
		return
	}
	chatID := msg.Chat.ID

	user, created, err := b.accounts.EnsureTelegramUser(ctx, msg.From.ID, msg.From.UserName)
	if err != nil {
		obslog.L().Warn("telegram_onboard_failed", zap.Int64("tg_user_id", msg.From.ID), zap.Error(err))
		b.sendText(chatID, b.texts.Text("telegram.internal_error", nil))
		return
	}

	switch cmd {
	case "start":
		b.handleStart(ctx, chatID, user, created, args)
	case "help":
		b.sendText(chatID, b.texts.Text("telegram.help", nil))
	case "balance":
		b.handleBalance(ctx, chatID, user)
	case "play":
		b.handlePlay(chatID)
	case "move":
		b.handleMove(ctx, chatID, user, args)
	case "board":
		b.handleBoard(ctx, chatID, args)
	default:
		b.sendText(chatID, b.texts.Text("telegram.unknown_command", nil))
	}
}

// GameFinished tells every Telegram-linked player how the game ended.
func (b *Bot) GameFinished(ctx context.Context, g *domain.Game) error {
	var errs []error
	for _, id := range g.Humans() {
		u, err := b.accounts.Profile(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if u.TelegramID == 0 {
			continue
		}
		text := b.texts.Text("telegram.game_over", map[string]any{"Result": g.Result, "Method": g.Method})
		if _, err := b.api.Send(tgbotapi.NewMessage(u.TelegramID, text)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bot) sendText(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text), chatID)
}

func (b *Bot) send(c tgbotapi.Chattable, chatID int64) {
	if _, err := b.api.Send(c); err != nil {
		obslog.L().Error("telegram_send_failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// replyError shows domain errors verbatim and hides everything else.
func (b *Bot) replyError(chatID int64, err error) {
	switch {
	case errors.Is(err, domain.ErrStoreFailure), domain.Code(err) == domain.CodeInternal:
		obslog.L().Error("telegram_command_failed", zap.Int64("chat_id", chatID), zap.Error(err))
		b.sendText(chatID, b.texts.Text("telegram.internal_error", nil))
	default:
		b.sendText(chatID, b.texts.Text("telegram.error", map[string]any{"Message": domain.Message(err)}))
	}
}

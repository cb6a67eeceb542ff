package telegram

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/domain"
	"github.com/park285/cheese-chess-server/internal/lobby"
	"github.com/park285/cheese-chess-server/internal/obslog"
)

const (
	callbackPlayComputer = "play:computer"
	callbackPlayOpen     = "play:open"

	startGamePrefix = "game_"
)

func (b *Bot) gameURL(gameID string) string {
	return b.webURL + "/?game=" + gameID
}

// handleStart accepts an optional deep link payload of the form game_<id>.
func (b *Bot) handleStart(ctx context.Context, chatID int64, u *domain.User, created bool, args []string) {
	url := b.webURL
	if len(args) > 0 && strings.HasPrefix(args[0], startGamePrefix) {
		id := strings.TrimPrefix(args[0], startGamePrefix)
		if _, err := b.sessions.Get(ctx, id); err == nil {
			url = b.gameURL(id)
		}
	}
	key := "telegram.welcome_back"
	if created {
		key = "telegram.welcome"
	}
	b.sendText(chatID, b.texts.Text(key, map[string]any{
		"Username": u.Username,
		"Balance":  u.Balance,
		"Reward":   b.ledger.Reward(),
		"URL":      url,
	}))
}

func (b *Bot) handleBalance(ctx context.Context, chatID int64, u *domain.User) {
	snap, err := b.ledger.Snapshot(ctx, u.ID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.sendText(chatID, b.texts.Text("telegram.balance", snap))
}

func (b *Bot) handlePlay(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, b.texts.Text("telegram.play_prompt", nil))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(b.texts.Text("telegram.play_computer", nil), callbackPlayComputer),
			tgbotapi.NewInlineKeyboardButtonData(b.texts.Text("telegram.play_open", nil), callbackPlayOpen),
		),
	)
	b.send(msg, chatID)
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.From == nil || cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	chatID := cq.Message.Chat.ID
	answer := tgbotapi.NewCallback(cq.ID, "")
	defer func() {
		if _, err := b.api.Request(answer); err != nil {
			obslog.L().Warn("telegram_callback_answer_failed", zap.String("callback_id", cq.ID), zap.Error(err))
		}
	}()

	if !b.limiter.Allow(cq.From.ID) {
		answer.Text = b.texts.Text("telegram.rate_limited", nil)
		return
	}

	var mode domain.Mode
	switch cq.Data {
	case callbackPlayComputer:
		mode = domain.ModeComputer
	case callbackPlayOpen:
		mode = domain.ModeOpen
	default:
		return
	}

	u, _, err := b.accounts.EnsureTelegramUser(ctx, cq.From.ID, cq.From.UserName)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	g, err := b.lobby.Create(ctx, u.ID, lobby.CreateRequest{Mode: mode})
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	key := "telegram.game_created"
	if g.Status == domain.StatusWaiting {
		key = "telegram.game_open"
	}
	b.sendText(chatID, b.texts.Text(key, map[string]any{
		"GameID": g.ID,
		"Mode":   string(g.Mode),
		"URL":    b.gameURL(g.ID),
	}))
}

func (b *Bot) handleMove(ctx context.Context, chatID int64, u *domain.User, args []string) {
	if len(args) < 2 {
		b.sendText(chatID, b.texts.Text("telegram.move_usage", nil))
		return
	}
	res, err := b.sessions.SubmitMove(ctx, args[0], u.ID, args[1])
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.sendText(chatID, b.texts.Text("telegram.move_played", map[string]any{"SAN": res.Move.SAN}))
	if res.Game.AwaitingComputer {
		b.sendText(chatID, b.texts.Text("telegram.awaiting_computer", map[string]any{"GameID": res.Game.ID}))
	}
}

func (b *Bot) handleBoard(ctx context.Context, chatID int64, args []string) {
	if len(args) < 1 {
		b.sendText(chatID, b.texts.Text("telegram.board_usage", nil))
		return
	}
	g, err := b.sessions.Get(ctx, args[0])
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	white, black := b.displayName(ctx, g.PlayerA), b.displayName(ctx, g.PlayerB)
	png, err := b.boards.RenderGame(ctx, g, white+" vs "+black)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "board.png", Bytes: png})
	photo.Caption = b.texts.Text("telegram.board_caption", map[string]any{
		"White":  white,
		"Black":  black,
		"Status": string(g.Status),
	})
	b.send(photo, chatID)
}

func (b *Bot) displayName(ctx context.Context, id string) string {
	switch id {
	case "":
		return "?"
	case domain.ComputerID:
		return "Computer"
	}
	if u, err := b.accounts.Profile(ctx, id); err == nil {
		return u.Username
	}
	return id
}

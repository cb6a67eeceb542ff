// Package ledger owns every change to a user's balance, game counters and
// rating. All writes go through the store's per-user compare-and-swap.
package ledger

import (
	"context"
	"math"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/domain"
	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/store"
)

const (
	// DefaultWinReward is credited to a human winner when WIN_REWARD is unset.
	DefaultWinReward int64 = 100

	kFactor = 24

	// maxSettledHistory bounds User.SettledGames.
	maxSettledHistory = 64
)

// Completion describes how a finished game ended for one participant.
type Completion struct {
	Won        bool
	Lost       bool
	Draw       bool
	VsComputer bool
}

// Snapshot is the read-only view used by /balance and the profile endpoint.
type Snapshot struct {
	UserID           string
	Username         string
	Balance          int64
	TotalEarned      int64
	GamesPlayed      int
	GamesWon         int
	ComputerGamesWon int
	Losses           int
	Draws            int
	Rating           int
}

type Ledger struct {
	users  store.UserStore
	reward int64
}

func New(users store.UserStore, reward int64) *Ledger {
	if reward <= 0 {
		reward = DefaultWinReward
	}
	return &Ledger{users: users, reward: reward}
}

// Reward is the fixed amount credited per win.
func (l *Ledger) Reward() int64 { return l.reward }

// Credit adds amount to the player's balance. Positive amounts also count
// toward total_earned. A balance never goes below zero.
func (l *Ledger) Credit(ctx context.Context, playerID string, amount int64) (*domain.User, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" || playerID == domain.ComputerID {
		return nil, domain.NotFound("player not found")
	}
	u, err := l.users.UpdateUser(ctx, playerID, func(u *domain.User) error {
		if u.Balance+amount < 0 {
			return domain.Validation("insufficient balance")
		}
		applyCredit(u, amount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("ledger_credit",
		zap.String("user_id", playerID),
		zap.Int64("amount", amount),
		zap.Int64("balance", u.Balance),
	)
	return u, nil
}

// RecordGameCompletion bumps games_played, and games_won (plus
// computer_games_won for computer games) when won is set.
func (l *Ledger) RecordGameCompletion(ctx context.Context, playerID string, won, vsComputer bool) (*domain.User, error) {
	return l.Record(ctx, playerID, Completion{Won: won, VsComputer: vsComputer})
}

// Record applies a full completion including the loss and draw counters.
func (l *Ledger) Record(ctx context.Context, playerID string, c Completion) (*domain.User, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" || playerID == domain.ComputerID {
		return nil, domain.NotFound("player not found")
	}
	if !c.valid() {
		return nil, domain.Validation("completion must be a single outcome")
	}
	return l.users.UpdateUser(ctx, playerID, func(u *domain.User) error {
		applyCompletion(u, c)
		return nil
	})
}

// Settlement is one player's share of a finished game.
type Settlement struct {
	GameID     string
	Completion Completion

	// Credit is added to the balance and total_earned. Zero for no reward.
	Credit int64

	// Rated games move the player's Elo against OpponentRating.
	Rated          bool
	OpponentRating int
}

// Settle applies s to playerID in one write: credit, counters and rating.
// It is idempotent per game id; applied is false when the game was already
// settled for this player.
func (l *Ledger) Settle(ctx context.Context, playerID string, s Settlement) (*domain.User, bool, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" || playerID == domain.ComputerID {
		return nil, false, domain.NotFound("player not found")
	}
	if strings.TrimSpace(s.GameID) == "" {
		return nil, false, domain.Validation("game id is required")
	}
	if s.Credit < 0 {
		return nil, false, domain.Validation("settlement credit cannot be negative")
	}
	if !s.Completion.valid() {
		return nil, false, domain.Validation("completion must be a single outcome")
	}

	var applied bool
	var delta int
	u, err := l.users.UpdateUser(ctx, playerID, func(u *domain.User) error {
		applied, delta = false, 0
		if slices.Contains(u.SettledGames, s.GameID) {
			return nil
		}
		applyCredit(u, s.Credit)
		applyCompletion(u, s.Completion)
		if s.Rated {
			before := ratingOf(u)
			u.Rating = eloUpdate(before, effectiveRating(s.OpponentRating), s.Completion.score())
			delta = u.Rating - before
		}
		u.SettledGames = append(u.SettledGames, s.GameID)
		if n := len(u.SettledGames); n > maxSettledHistory {
			u.SettledGames = append([]string(nil), u.SettledGames[n-maxSettledHistory:]...)
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if applied {
		obslog.L().Info("ledger_settle",
			zap.String("user_id", playerID),
			zap.String("game_id", s.GameID),
			zap.Int64("credit", s.Credit),
			zap.Int("rating_delta", delta),
			zap.Int64("balance", u.Balance),
		)
	} else {
		obslog.L().Debug("ledger_settle_skip", zap.String("user_id", playerID), zap.String("game_id", s.GameID))
	}
	return u, applied, nil
}

func (l *Ledger) Snapshot(ctx context.Context, playerID string) (Snapshot, error) {
	u, err := l.users.GetUser(ctx, playerID)
	if err != nil {
		return Snapshot{}, err
	}
	return SnapshotOf(u), nil
}

func SnapshotOf(u *domain.User) Snapshot {
	return Snapshot{
		UserID:           u.ID,
		Username:         u.Username,
		Balance:          u.Balance,
		TotalEarned:      u.TotalEarned,
		GamesPlayed:      u.GamesPlayed,
		GamesWon:         u.GamesWon,
		ComputerGamesWon: u.ComputerGamesWon,
		Losses:           u.Losses,
		Draws:            u.Draws,
		Rating:           ratingOf(u),
	}
}

func (c Completion) valid() bool {
	return !(c.Won && (c.Lost || c.Draw) || c.Lost && c.Draw)
}

// score is the Elo result: 1 for a win, 0.5 for a draw, 0 otherwise.
func (c Completion) score() float64 {
	switch {
	case c.Won:
		return 1
	case c.Draw:
		return 0.5
	}
	return 0
}

func applyCredit(u *domain.User, amount int64) {
	u.Balance += amount
	if amount > 0 {
		u.TotalEarned += amount
	}
}

func applyCompletion(u *domain.User, c Completion) {
	u.GamesPlayed++
	switch {
	case c.Won:
		u.GamesWon++
		if c.VsComputer {
			u.ComputerGamesWon++
		}
	case c.Lost:
		u.Losses++
	case c.Draw:
		u.Draws++
	}
}

func ratingOf(u *domain.User) int { return effectiveRating(u.Rating) }

func effectiveRating(r int) int {
	if r <= 0 {
		return domain.DefaultRating
	}
	return r
}

func eloUpdate(rating, opponent int, score float64) int {
	expected := 1 / (1 + math.Pow(10, float64(opponent-rating)/400))
	return int(math.Round(float64(rating) + kFactor*(score-expected)))
}

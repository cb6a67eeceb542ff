// Package autoplay answers human moves in computer games. Each reply runs as
// a one-time gocron job a short delay after the human move; a periodic sweep
// picks up games whose reply was lost, e.g. across a restart, and retries
// settlement of finished games the ledger could not pay out.
package autoplay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/domain"
	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/opponent"
	"github.com/park285/cheese-chess-server/internal/rules"
	"github.com/park285/cheese-chess-server/internal/session"
)

const replyTimeout = 10 * time.Second

// Mover is the slice of the session manager the player needs.
type Mover interface {
	Get(ctx context.Context, gameID string) (*domain.Game, error)
	SubmitMove(ctx context.Context, gameID, actor, move string) (*session.MoveResult, error)
	SettlePending(ctx context.Context) (int, error)
}

// PendingLister finds games still waiting on a computer reply.
type PendingLister interface {
	ListAwaitingComputer(ctx context.Context) ([]*domain.Game, error)
}

type Player struct {
	sched   gocron.Scheduler
	mover   Mover
	pending PendingLister
	brain   *opponent.Heuristic
	delay   time.Duration
}

func New(mover Mover, pending PendingLister, brain *opponent.Heuristic, delay time.Duration) (*Player, error) {
	if mover == nil || brain == nil {
		return nil, errors.New("autoplay: mover and opponent are required")
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("autoplay scheduler: %w", err)
	}
	return &Player{sched: sched, mover: mover, pending: pending, brain: brain, delay: delay}, nil
}

// Start runs the scheduler. sweepEvery <= 0 disables the recovery sweep.
func (p *Player) Start(sweepEvery time.Duration) error {
	if sweepEvery > 0 {
		_, err := p.sched.NewJob(
			gocron.DurationJob(sweepEvery),
			gocron.NewTask(func() {
				ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
				defer cancel()
				if err := p.Sweep(ctx); err != nil {
					obslog.L().Warn("autoplay_sweep_error", zap.Error(err))
				}
			}),
			gocron.WithName("autoplay-sweep"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return fmt.Errorf("schedule sweep: %w", err)
		}
	}
	p.sched.Start()
	return nil
}

// ScheduleReply queues the computer's answer for gameID, replacing a reply
// already queued for the same game.
func (p *Player) ScheduleReply(gameID string) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return
	}
	p.sched.RemoveByTags(gameID)

	at := gocron.OneTimeJobStartImmediately()
	if p.delay > 0 {
		at = gocron.OneTimeJobStartDateTime(time.Now().Add(p.delay))
	}
	_, err := p.sched.NewJob(
		gocron.OneTimeJob(at),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
			defer cancel()
			if err := p.PlayReply(ctx, gameID); err != nil {
				obslog.L().Warn("autoplay_reply_error", zap.String("game_id", gameID), zap.Error(err))
			}
		}),
		gocron.WithTags(gameID),
		gocron.WithName("reply:"+gameID),
		gocron.WithLimitedRuns(1),
	)
	if err != nil {
		obslog.L().Error("autoplay_schedule_error", zap.String("game_id", gameID), zap.Error(err))
		return
	}
	obslog.L().Debug("autoplay_scheduled", zap.String("game_id", gameID), zap.Duration("delay", p.delay))
}

// PlayReply makes the computer's move now. It does nothing when the game no
// longer waits on the computer.
func (p *Player) PlayReply(ctx context.Context, gameID string) error {
	g, err := p.mover.Get(ctx, gameID)
	if err != nil {
		return err
	}
	if g.Status != domain.StatusActive || !g.VsComputer || !g.AwaitingComputer {
		return nil
	}
	pos, err := rules.New(g.MovesUCI())
	if err != nil {
		return fmt.Errorf("replay game %s: %w", g.ID, err)
	}
	mv, ok := p.brain.ChooseMove(pos)
	if !ok {
		return nil
	}
	res, err := p.mover.SubmitMove(ctx, g.ID, domain.ComputerID, mv.UCI)
	if err != nil {
		return err
	}
	obslog.L().Info("autoplay_reply",
		zap.String("game_id", g.ID),
		zap.String("uci", res.Move.UCI),
		zap.String("san", res.Move.SAN),
		zap.Bool("game_over", res.GameOver),
	)
	return nil
}

// Sweep re-queues replies for every game still awaiting the computer and
// settles finished games left unsettled. A reply that is already queued is
// replaced, so at most one job exists per game.
func (p *Player) Sweep(ctx context.Context) error {
	var errs []error
	if p.pending != nil {
		games, err := p.pending.ListAwaitingComputer(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		for _, g := range games {
			p.ScheduleReply(g.ID)
		}
		if len(games) > 0 {
			obslog.L().Info("autoplay_sweep", zap.Int("requeued", len(games)))
		}
	}
	if _, err := p.mover.SettlePending(ctx); err != nil {
		errs = append(errs, fmt.Errorf("settle pending: %w", err))
	}
	return errors.Join(errs...)
}

// Shutdown stops the scheduler and drops pending replies. The sweep picks
// them up again on the next start.
func (p *Player) Shutdown() error {
	return p.sched.Shutdown()
}

// Package session runs the game state machine: creation, joining and move
// submission, with settlement into the ledger once a game finishes.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/domain"
	"github.com/park285/cheese-chess-server/internal/ledger"
	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/rules"
	"github.com/park285/cheese-chess-server/internal/store"
)

// ReplyScheduler arranges for the computer to answer in a computer game.
type ReplyScheduler interface {
	ScheduleReply(gameID string)
}

// FinishHook observes games after they finished and were settled. Hooks run
// in the background after the mover's call returns; errors are logged.
type FinishHook interface {
	GameFinished(ctx context.Context, g *domain.Game) error
}

// CreateOptions carries the optional parts of a new game.
type CreateOptions struct {
	Mode        domain.Mode
	TimeControl string
}

// MoveResult is returned for every accepted move.
type MoveResult struct {
	Game     *domain.Game
	Move     domain.MoveRecord
	GameOver bool
}

const defaultHookTimeout = 30 * time.Second

type Manager struct {
	games  store.GameStore
	ledger *ledger.Ledger
	locks  *keyedMutex

	replies     ReplyScheduler
	hooks       []FinishHook
	hookTimeout time.Duration
	inflight    sync.WaitGroup

	now func() time.Time
}

type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithHookTimeout bounds each batch of finish hooks.
func WithHookTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.hookTimeout = d
		}
	}
}

func NewManager(games store.GameStore, l *ledger.Ledger, opts ...Option) *Manager {
	m := &Manager{
		games:       games,
		ledger:      l,
		locks:       newKeyedMutex(),
		hookTimeout: defaultHookTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AttachReplyScheduler wires the delayed computer reply. Call before serving.
func (m *Manager) AttachReplyScheduler(r ReplyScheduler) {
	if m != nil {
		m.replies = r
	}
}

// AttachFinishHook adds an observer for finished games. Call before serving.
func (m *Manager) AttachFinishHook(h FinishHook) {
	if m != nil && h != nil {
		m.hooks = append(m.hooks, h)
	}
}

// Create starts a game at the initial position. playerA plays white. The game
// waits for an opponent unless playerB is given or vsComputer is set.
func (m *Manager) Create(ctx context.Context, playerA, playerB string, vsComputer bool, opts CreateOptions) (*domain.Game, error) {
	playerA = strings.TrimSpace(playerA)
	playerB = strings.TrimSpace(playerB)
	switch {
	case playerA == "":
		return nil, domain.Validation("player is required")
	case playerA == domain.ComputerID:
		return nil, domain.Validation("the computer cannot open a game")
	case playerA == playerB:
		return nil, domain.Validation("you cannot play against yourself")
	case vsComputer && playerB != "" && playerB != domain.ComputerID:
		return nil, domain.Validation("computer games take no second player")
	case !vsComputer && playerB == domain.ComputerID:
		return nil, domain.Validation("reserved player id")
	}

	mode := opts.Mode
	if mode == "" {
		switch {
		case vsComputer:
			mode = domain.ModeComputer
		case playerB != "":
			mode = domain.ModeFriend
		default:
			mode = domain.ModeOpen
		}
	}
	tc := strings.TrimSpace(opts.TimeControl)
	if tc == "" {
		tc = domain.DefaultTimeControl
	}

	now := m.now()
	g := &domain.Game{
		ID:          uuid.NewString(),
		PlayerA:     playerA,
		PlayerB:     playerB,
		VsComputer:  vsComputer,
		Mode:        mode,
		TimeControl: tc,
		FEN:         rules.StartFEN(),
		Moves:       []domain.MoveRecord{},
		Status:      domain.StatusActive,
		Result:      "*",
		Turn:        playerA,
		CreatedAt:   now,
		LastMoveAt:  now,
	}
	if vsComputer {
		g.PlayerB = domain.ComputerID
	}
	if g.PlayerB == "" {
		g.Status = domain.StatusWaiting
	}

	if err := m.games.CreateGame(ctx, g); err != nil {
		return nil, err
	}
	obslog.L().Info("game_create",
		zap.String("game_id", g.ID),
		zap.String("player_a", g.PlayerA),
		zap.String("player_b", g.PlayerB),
		zap.String("mode", string(g.Mode)),
		zap.String("status", string(g.Status)),
	)
	return g, nil
}

func (m *Manager) Get(ctx context.Context, gameID string) (*domain.Game, error) {
	if strings.TrimSpace(gameID) == "" {
		return nil, domain.NotFound("game not found")
	}
	return m.games.GetGame(ctx, gameID)
}

// Join seats player as black in a waiting game and activates it.
func (m *Manager) Join(ctx context.Context, gameID, player string) (*domain.Game, error) {
	player = strings.TrimSpace(player)
	if player == "" || player == domain.ComputerID {
		return nil, domain.Validation("player is required")
	}
	unlock := m.locks.Lock(gameID)
	defer unlock()

	g, err := m.games.UpdateGame(ctx, gameID, func(g *domain.Game) error {
		switch {
		case g.PlayerA == player:
			return domain.WithCode(domain.Conflict("cannot join your own game"), "self_join")
		case g.Status != domain.StatusWaiting:
			return domain.WithCode(domain.Conflict("game is not open"), "game_not_open")
		case g.PlayerB != "":
			return domain.WithCode(domain.Conflict("game is full"), "game_full")
		}
		g.PlayerB = player
		g.Status = domain.StatusActive
		g.Turn = g.PlayerA
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("game_join", zap.String("game_id", g.ID), zap.String("player_b", player))
	return g, nil
}

// SubmitMove validates and applies move (UCI or SAN) for actor. Any
// rejection leaves the stored game untouched. A finishing move is accepted
// even when settlement fails; the game then stays unsettled until
// SettlePending picks it up.
func (m *Manager) SubmitMove(ctx context.Context, gameID, actor, move string) (*MoveResult, error) {
	actor = strings.TrimSpace(actor)
	if strings.TrimSpace(gameID) == "" {
		return nil, domain.InvalidMove("game not found")
	}
	res, err := m.submit(ctx, gameID, actor, move)
	if err != nil {
		return nil, err
	}
	if res.GameOver {
		if res.Game.Settled {
			m.runHooks(ctx, res.Game)
		}
		return res, nil
	}
	if res.Game.AwaitingComputer && m.replies != nil {
		m.replies.ScheduleReply(res.Game.ID)
	}
	return res, nil
}

// submit holds the per-game lock for the move and, when it ends the game,
// for settlement.
func (m *Manager) submit(ctx context.Context, gameID, actor, move string) (*MoveResult, error) {
	unlock := m.locks.Lock(gameID)
	defer unlock()

	var rec domain.MoveRecord
	g, err := m.games.UpdateGame(ctx, gameID, func(g *domain.Game) error {
		r, err := m.apply(g, actor, move)
		rec = r
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.InvalidMove("game not found")
	}
	if err != nil {
		return nil, err
	}

	obslog.L().Info("game_move",
		zap.String("game_id", g.ID),
		zap.String("mover", rec.Mover),
		zap.String("uci", rec.UCI),
		zap.String("san", rec.SAN),
		zap.String("status", string(g.Status)),
	)
	res := &MoveResult{Game: g, Move: rec, GameOver: g.Status == domain.StatusFinished}
	if res.GameOver {
		if settled, err := m.settle(ctx, g); err == nil {
			res.Game = settled
		}
	}
	return res, nil
}

// SettlePending retries settlement of finished games a ledger or store
// failure left unsettled, and returns how many it completed.
func (m *Manager) SettlePending(ctx context.Context) (int, error) {
	games, err := m.games.ListUnsettled(ctx)
	if err != nil {
		return 0, err
	}
	var (
		n    int
		errs []error
	)
	for _, g := range games {
		settled, err := m.resettle(ctx, g.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if settled != nil {
			n++
			m.runHooks(ctx, settled)
		}
	}
	if n > 0 {
		obslog.L().Info("game_settle_recovered", zap.Int("count", n))
	}
	return n, errors.Join(errs...)
}

func (m *Manager) resettle(ctx context.Context, gameID string) (*domain.Game, error) {
	unlock := m.locks.Lock(gameID)
	defer unlock()

	g, err := m.games.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !g.Unsettled() {
		return nil, nil
	}
	return m.settle(ctx, g)
}

// apply mutates g in place; it runs inside the store's compare-and-swap and may
// be retried against a fresher copy.
func (m *Manager) apply(g *domain.Game, actor, move string) (domain.MoveRecord, error) {
	if g.Status != domain.StatusActive {
		return domain.MoveRecord{}, domain.WithCode(domain.InvalidMove("game is not active"), "game_not_active")
	}
	isComputer := actor == domain.ComputerID
	if isComputer {
		if !g.VsComputer || !g.AwaitingComputer {
			return domain.MoveRecord{}, errNotYourTurn()
		}
	} else if actor == "" || actor != g.Turn || g.AwaitingComputer {
		return domain.MoveRecord{}, errNotYourTurn()
	}

	pos, err := rules.New(g.MovesUCI())
	if err != nil {
		return domain.MoveRecord{}, fmt.Errorf("replay game %s: %w", g.ID, err)
	}
	if pos.Turn() != colorOf(g, actor) {
		return domain.MoveRecord{}, errNotYourTurn()
	}
	applied, err := pos.Apply(move)
	if err != nil {
		return domain.MoveRecord{}, domain.InvalidMove(fmt.Sprintf("illegal move: %s", strings.TrimSpace(move)))
	}

	now := m.now()
	rec := domain.MoveRecord{
		Mover:      actor,
		UCI:        applied.UCI,
		SAN:        applied.SAN,
		FEN:        applied.FEN,
		IsComputer: isComputer,
		At:         now,
	}
	g.Moves = append(g.Moves, rec)
	g.FEN = applied.FEN
	g.LastMoveAt = now
	if g.VsComputer {
		// the human keeps the turn; the computer answers out of band
		g.AwaitingComputer = !isComputer
	} else {
		g.Turn = g.Opponent(actor)
	}

	if out := pos.Status(); out.Over {
		g.Status = domain.StatusFinished
		g.Result = out.Result
		g.Method = out.Method
		g.AwaitingComputer = false
		if out.Kind == rules.KindMate {
			g.Winner = actor
		}
	}
	return rec, nil
}

// settle writes every human's ledger entry for the finished game g and
// marks it settled. Entries are keyed by game id, so repeating a partially
// failed settlement only writes what is missing.
func (m *Manager) settle(ctx context.Context, g *domain.Game) (*domain.Game, error) {
	if g.Rated() && (g.WhiteRating == 0 || g.BlackRating == 0) {
		rated, err := m.snapshotRatings(ctx, g)
		if err != nil {
			return nil, m.settleFailed(g, err)
		}
		g = rated
	}

	var errs []error
	for _, p := range g.Humans() {
		if _, _, err := m.ledger.Settle(ctx, p, settlementFor(g, p, m.ledger.Reward())); err != nil {
			errs = append(errs, fmt.Errorf("settle %s: %w", p, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, m.settleFailed(g, err)
	}

	settled, err := m.games.UpdateGame(ctx, g.ID, func(cur *domain.Game) error {
		cur.Settled = true
		return nil
	})
	if err != nil {
		return nil, m.settleFailed(g, err)
	}
	obslog.L().Info("game_finish",
		zap.String("game_id", g.ID),
		zap.String("winner", g.Winner),
		zap.String("result", g.Result),
		zap.String("method", g.Method),
	)
	return settled, nil
}

// snapshotRatings pins both players' pre-game ratings onto g before any
// rating changes.
func (m *Manager) snapshotRatings(ctx context.Context, g *domain.Game) (*domain.Game, error) {
	white, err := m.ledger.Snapshot(ctx, g.PlayerA)
	if err != nil {
		return nil, fmt.Errorf("rating %s: %w", g.PlayerA, err)
	}
	black, err := m.ledger.Snapshot(ctx, g.PlayerB)
	if err != nil {
		return nil, fmt.Errorf("rating %s: %w", g.PlayerB, err)
	}
	return m.games.UpdateGame(ctx, g.ID, func(cur *domain.Game) error {
		if cur.WhiteRating == 0 {
			cur.WhiteRating = white.Rating
		}
		if cur.BlackRating == 0 {
			cur.BlackRating = black.Rating
		}
		return nil
	})
}

func (m *Manager) settleFailed(g *domain.Game, err error) error {
	obslog.L().Error("game_settle_error", zap.String("game_id", g.ID), zap.Error(err))
	return domain.StoreFailure("settle game "+g.ID, err)
}

func settlementFor(g *domain.Game, player string, reward int64) ledger.Settlement {
	won := player == g.Winner
	s := ledger.Settlement{
		GameID: g.ID,
		Completion: ledger.Completion{
			Won:        won,
			Lost:       g.Winner != "" && !won,
			Draw:       g.Winner == "",
			VsComputer: g.VsComputer,
		},
		Rated: g.Rated(),
	}
	if won {
		s.Credit = reward
	}
	if s.Rated {
		s.OpponentRating = g.WhiteRating
		if player == g.PlayerA {
			s.OpponentRating = g.BlackRating
		}
	}
	return s
}

// runHooks hands g to the finish hooks on a background goroutine. The hooks
// get a context detached from the caller's cancellation and bounded by the
// hook timeout.
func (m *Manager) runHooks(ctx context.Context, g *domain.Game) {
	if len(m.hooks) == 0 {
		return
	}
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.hookTimeout)
	snapshot := g.Clone()
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		defer cancel()
		for _, h := range m.hooks {
			if err := h.GameFinished(hctx, snapshot.Clone()); err != nil {
				obslog.L().Warn("game_finish_hook_error", zap.String("game_id", snapshot.ID), zap.Error(err))
			}
		}
	}()
}

// WaitHooks blocks until every finish hook started so far has returned.
func (m *Manager) WaitHooks() {
	m.inflight.Wait()
}

func colorOf(g *domain.Game, actor string) string {
	if actor == g.PlayerA {
		return "white"
	}
	return "black"
}

func errNotYourTurn() error {
	return domain.WithCode(domain.InvalidMove("not your turn"), "not_your_turn")
}

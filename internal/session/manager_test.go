package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-chess-server/internal/domain"
	"github.com/park285/cheese-chess-server/internal/ledger"
	"github.com/park285/cheese-chess-server/internal/store"
)

type recordingScheduler struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingScheduler) ScheduleReply(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *recordingScheduler) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

type recordingHook struct {
	finished atomic.Int32
	last     atomic.Pointer[domain.Game]
}

func (h *recordingHook) GameFinished(_ context.Context, g *domain.Game) error {
	h.finished.Add(1)
	h.last.Store(g)
	return nil
}

type fixture struct {
	m     *Manager
	store store.Store
	mr    *miniredis.Miniredis
	sched *recordingScheduler
	hook  *recordingHook
}

func newFixture(t *testing.T, useRedis bool) *fixture {
	t.Helper()
	f := &fixture{sched: &recordingScheduler{}, hook: &recordingHook{}}
	if useRedis {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("miniredis: %v", err)
		}
		t.Cleanup(func() { mr.Close() })
		rs, err := store.OpenRedis(context.Background(), fmt.Sprintf("redis://%s/0", mr.Addr()))
		if err != nil {
			t.Fatalf("OpenRedis: %v", err)
		}
		t.Cleanup(func() { _ = rs.Close() })
		f.store, f.mr = rs, mr
	} else {
		f.store = store.NewMemory()
	}
	for _, id := range []string{"alice", "bob", "carol"} {
		u := &domain.User{ID: id, Username: id, Rating: domain.DefaultRating, Active: true}
		if err := f.store.CreateUser(context.Background(), u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	f.m = NewManager(f.store, ledger.New(f.store, 100))
	f.m.AttachReplyScheduler(f.sched)
	f.m.AttachFinishHook(f.hook)
	return f
}

func (f *fixture) play(t *testing.T, gameID string, moves ...[2]string) *MoveResult {
	t.Helper()
	var res *MoveResult
	for _, mv := range moves {
		var err error
		res, err = f.m.SubmitMove(context.Background(), gameID, mv[0], mv[1])
		if err != nil {
			t.Fatalf("SubmitMove(%s, %s): %v", mv[0], mv[1], err)
		}
	}
	return res
}

func (f *fixture) user(t *testing.T, id string) *domain.User {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, false)
	cases := []struct {
		name       string
		a, b       string
		vsComputer bool
	}{
		{"missing player", "", "", false},
		{"self", "alice", "alice", false},
		{"computer opens", domain.ComputerID, "", false},
		{"human seat in computer game", "alice", "bob", true},
		{"reserved id", "alice", domain.ComputerID, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.m.Create(context.Background(), tc.a, tc.b, tc.vsComputer, CreateOptions{})
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestCreateStatusByMode(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	open, err := f.m.Create(ctx, "alice", "", false, CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, open.Status)
	assert.Equal(t, domain.ModeOpen, open.Mode)
	assert.Equal(t, "alice", open.Turn)
	assert.Equal(t, domain.DefaultTimeControl, open.TimeControl)

	friend, err := f.m.Create(ctx, "alice", "bob", false, CreateOptions{TimeControl: "5+3"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, friend.Status)
	assert.Equal(t, domain.ModeFriend, friend.Mode)
	assert.Equal(t, "5+3", friend.TimeControl)

	comp, err := f.m.Create(ctx, "alice", "", true, CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, comp.Status)
	assert.Equal(t, domain.ComputerID, comp.PlayerB)
	assert.True(t, comp.VsComputer)
	assert.Empty(t, f.sched.calls(), "human always moves first")
}

func TestJoin(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	g, err := f.m.Create(ctx, "alice", "", false, CreateOptions{})
	require.NoError(t, err)

	_, err = f.m.Join(ctx, g.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, "self_join", domain.Code(err))

	joined, err := f.m.Join(ctx, g.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, joined.Status)
	assert.Equal(t, "bob", joined.PlayerB)
	assert.Equal(t, "alice", joined.Turn)

	_, err = f.m.Join(ctx, g.ID, "carol")
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.m.Join(ctx, "missing", "carol")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	comp, err := f.m.Create(ctx, "alice", "", true, CreateOptions{})
	require.NoError(t, err)
	_, err = f.m.Join(ctx, comp.ID, "bob")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestRejectedMovesLeaveRecordUntouched(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	waiting, err := f.m.Create(ctx, "alice", "", false, CreateOptions{})
	require.NoError(t, err)
	active, err := f.m.Create(ctx, "alice", "bob", false, CreateOptions{})
	require.NoError(t, err)
	f.play(t, active.ID, [2]string{"alice", "e2e4"})

	cases := []struct {
		name, game, actor, move string
	}{
		{"waiting game", waiting.ID, "alice", "e2e4"},
		{"wrong turn", active.ID, "alice", "d2d4"},
		{"outsider", active.ID, "carol", "e7e5"},
		{"illegal", active.ID, "bob", "e7e4"},
		{"garbage", active.ID, "bob", "not-a-move"},
		{"computer in human game", active.ID, domain.ComputerID, "e7e5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before, err := f.mr.Get("chess:game:" + tc.game)
			require.NoError(t, err)

			_, err = f.m.SubmitMove(ctx, tc.game, tc.actor, tc.move)
			assert.ErrorIs(t, err, domain.ErrInvalidMove)

			after, err := f.mr.Get("chess:game:" + tc.game)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}

	_, err = f.m.SubmitMove(ctx, "missing", "alice", "e2e4")
	assert.ErrorIs(t, err, domain.ErrInvalidMove)
}

func TestTurnAlternatesBetweenHumans(t *testing.T) {
	f := newFixture(t, false)
	g, err := f.m.Create(context.Background(), "alice", "bob", false, CreateOptions{})
	require.NoError(t, err)

	res := f.play(t, g.ID, [2]string{"alice", "e2e4"})
	assert.Equal(t, "bob", res.Game.Turn)
	assert.Equal(t, "e4", res.Move.SAN)

	res = f.play(t, g.ID, [2]string{"bob", "Nc6"})
	assert.Equal(t, "alice", res.Game.Turn)
	assert.Equal(t, "b8c6", res.Move.UCI)
	assert.Equal(t, []string{"e2e4", "b8c6"}, res.Game.MovesUCI())
	assert.False(t, res.GameOver)
	assert.Empty(t, f.sched.calls())
}

func TestCheckmateSettlesLedger(t *testing.T) {
	f := newFixture(t, false)
	g, err := f.m.Create(context.Background(), "alice", "bob", false, CreateOptions{})
	require.NoError(t, err)

	res := f.play(t, g.ID,
		[2]string{"alice", "f2f3"}, [2]string{"bob", "e7e5"},
		[2]string{"alice", "g2g4"}, [2]string{"bob", "Qh4"},
	)
	require.True(t, res.GameOver)
	assert.Equal(t, domain.StatusFinished, res.Game.Status)
	assert.Equal(t, "bob", res.Game.Winner)
	assert.Equal(t, "0-1", res.Game.Result)
	assert.Equal(t, "checkmate", res.Game.Method)

	bob := f.user(t, "bob")
	assert.Equal(t, int64(100), bob.Balance)
	assert.Equal(t, int64(100), bob.TotalEarned)
	assert.Equal(t, 1, bob.GamesPlayed)
	assert.Equal(t, 1, bob.GamesWon)
	assert.Equal(t, 0, bob.ComputerGamesWon)
	assert.Greater(t, bob.Rating, domain.DefaultRating)

	alice := f.user(t, "alice")
	assert.Equal(t, int64(0), alice.Balance)
	assert.Equal(t, 1, alice.GamesPlayed)
	assert.Equal(t, 1, alice.Losses)
	assert.Less(t, alice.Rating, domain.DefaultRating)

	assert.True(t, res.Game.Settled)
	assert.Equal(t, domain.DefaultRating, res.Game.WhiteRating)
	assert.Equal(t, domain.DefaultRating, res.Game.BlackRating)

	f.m.WaitHooks()
	assert.Equal(t, int32(1), f.hook.finished.Load())

	_, err = f.m.SubmitMove(context.Background(), g.ID, "alice", "e1f2")
	assert.ErrorIs(t, err, domain.ErrInvalidMove)
}

func TestDrawCreditsNobody(t *testing.T) {
	f := newFixture(t, false)
	g, err := f.m.Create(context.Background(), "alice", "bob", false, CreateOptions{})
	require.NoError(t, err)

	shuffle := []string{"g1f3", "g8f6", "f3g1", "f6g8", "g1f3", "g8f6", "f3g1", "f6g8"}
	var res *MoveResult
	for i, mv := range shuffle {
		actor := "alice"
		if i%2 == 1 {
			actor = "bob"
		}
		res = f.play(t, g.ID, [2]string{actor, mv})
	}
	require.True(t, res.GameOver)
	assert.Empty(t, res.Game.Winner)
	assert.Equal(t, "1/2-1/2", res.Game.Result)

	for _, id := range []string{"alice", "bob"} {
		u := f.user(t, id)
		assert.Equal(t, int64(0), u.Balance, id)
		assert.Equal(t, int64(0), u.TotalEarned, id)
		assert.Equal(t, 1, u.GamesPlayed, id)
		assert.Equal(t, 1, u.Draws, id)
		assert.Equal(t, domain.DefaultRating, u.Rating, id)
	}
}

func TestComputerGameFlow(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	g, err := f.m.Create(ctx, "alice", "", true, CreateOptions{})
	require.NoError(t, err)

	res := f.play(t, g.ID, [2]string{"alice", "e2e4"})
	assert.Equal(t, "alice", res.Game.Turn)
	assert.True(t, res.Game.AwaitingComputer)
	assert.Equal(t, []string{g.ID}, f.sched.calls())

	_, err = f.m.SubmitMove(ctx, g.ID, "alice", "d2d4")
	assert.ErrorIs(t, err, domain.ErrInvalidMove)

	res = f.play(t, g.ID, [2]string{domain.ComputerID, "e7e5"})
	assert.True(t, res.Move.IsComputer)
	assert.False(t, res.Game.AwaitingComputer)
	assert.Equal(t, "alice", res.Game.Turn)

	_, err = f.m.SubmitMove(ctx, g.ID, domain.ComputerID, "d7d5")
	assert.ErrorIs(t, err, domain.ErrInvalidMove)

	// scholar's mate
	res = f.play(t, g.ID,
		[2]string{"alice", "f1c4"}, [2]string{domain.ComputerID, "b8c6"},
		[2]string{"alice", "d1h5"}, [2]string{domain.ComputerID, "g8f6"},
		[2]string{"alice", "h5f7"},
	)
	require.True(t, res.GameOver)
	assert.Equal(t, "alice", res.Game.Winner)
	assert.False(t, res.Game.AwaitingComputer)
	assert.Len(t, f.sched.calls(), 3)

	alice := f.user(t, "alice")
	assert.Equal(t, int64(100), alice.Balance)
	assert.Equal(t, 1, alice.GamesPlayed)
	assert.Equal(t, 1, alice.GamesWon)
	assert.Equal(t, 1, alice.ComputerGamesWon)
	assert.Equal(t, domain.DefaultRating, alice.Rating)
	assert.Equal(t, 0, alice.Losses)

	f.m.WaitHooks()
	last := f.hook.last.Load()
	require.NotNil(t, last)
	assert.Equal(t, g.ID, last.ID)
}

func TestConcurrentMovesApplyOnce(t *testing.T) {
	f := newFixture(t, true)
	g, err := f.m.Create(context.Background(), "alice", "bob", false, CreateOptions{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.m.SubmitMove(context.Background(), g.ID, "alice", "e2e4"); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())

	stored, err := f.m.Get(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Moves, 1)
	assert.Equal(t, 0, f.m.locks.size())
}

func TestComputerWinRecordsHumanLoss(t *testing.T) {
	f := newFixture(t, false)
	g, err := f.m.Create(context.Background(), "alice", "", true, CreateOptions{})
	require.NoError(t, err)

	res := f.play(t, g.ID,
		[2]string{"alice", "f2f3"}, [2]string{domain.ComputerID, "e7e5"},
		[2]string{"alice", "g2g4"}, [2]string{domain.ComputerID, "d8h4"},
	)
	require.True(t, res.GameOver)
	assert.Equal(t, domain.ComputerID, res.Game.Winner)
	assert.True(t, res.Game.Settled)

	alice := f.user(t, "alice")
	assert.Equal(t, 1, alice.GamesPlayed)
	assert.Equal(t, 0, alice.GamesWon)
	assert.Equal(t, 1, alice.Losses)
	assert.Equal(t, alice.GamesPlayed, alice.GamesWon+alice.Losses+alice.Draws)
	assert.Equal(t, int64(0), alice.Balance)
	assert.Equal(t, domain.DefaultRating, alice.Rating)
}

// flakyUsers fails UpdateUser for one user while armed.
type flakyUsers struct {
	store.Store
	failFor atomic.Pointer[string]
}

func (f *flakyUsers) UpdateUser(ctx context.Context, id string, fn func(u *domain.User) error) (*domain.User, error) {
	if p := f.failFor.Load(); p != nil && *p == id {
		return nil, domain.StoreFailure("update user", fmt.Errorf("connection reset"))
	}
	return f.Store.UpdateUser(ctx, id, fn)
}

func TestSettlementRecoversAfterLedgerFailure(t *testing.T) {
	for _, useRedis := range []bool{false, true} {
		t.Run(fmt.Sprintf("redis=%v", useRedis), func(t *testing.T) {
			f := newFixture(t, useRedis)
			users := &flakyUsers{Store: f.store}
			f.m = NewManager(f.store, ledger.New(users, 100))
			f.m.AttachFinishHook(f.hook)
			ctx := context.Background()

			g, err := f.m.Create(ctx, "alice", "bob", false, CreateOptions{})
			require.NoError(t, err)
			f.play(t, g.ID, [2]string{"alice", "f2f3"}, [2]string{"bob", "e7e5"}, [2]string{"alice", "g2g4"})

			bobID := "bob"
			users.failFor.Store(&bobID)
			res, err := f.m.SubmitMove(ctx, g.ID, "bob", "d8h4")
			require.NoError(t, err, "the mating move is accepted even when the ledger is down")
			require.True(t, res.GameOver)
			assert.False(t, res.Game.Settled)

			stored, err := f.store.GetGame(ctx, g.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusFinished, stored.Status)
			assert.False(t, stored.Settled)
			assert.Equal(t, int64(0), f.user(t, "bob").Balance)
			assert.Equal(t, 1, f.user(t, "alice").Losses, "alice's entry landed before the failure")

			f.m.WaitHooks()
			assert.Equal(t, int32(0), f.hook.finished.Load(), "hooks wait for settlement")

			n, err := f.m.SettlePending(ctx)
			require.Error(t, err, "still failing")
			assert.Zero(t, n)

			users.failFor.Store(nil)
			n, err = f.m.SettlePending(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			n, err = f.m.SettlePending(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)

			bob := f.user(t, "bob")
			assert.Equal(t, int64(100), bob.Balance)
			assert.Equal(t, 1, bob.GamesWon)
			assert.Equal(t, 1, bob.GamesPlayed)
			assert.Equal(t, 1512, bob.Rating)

			alice := f.user(t, "alice")
			assert.Equal(t, 1, alice.GamesPlayed)
			assert.Equal(t, 1, alice.Losses)
			assert.Equal(t, 1488, alice.Rating)

			stored, err = f.store.GetGame(ctx, g.ID)
			require.NoError(t, err)
			assert.True(t, stored.Settled)

			f.m.WaitHooks()
			assert.Equal(t, int32(1), f.hook.finished.Load())
		})
	}
}

type blockingHook struct {
	release chan struct{}
	entered chan struct{}
	ctxErr  atomic.Value
	hasDL   atomic.Bool
}

func (h *blockingHook) GameFinished(ctx context.Context, _ *domain.Game) error {
	close(h.entered)
	<-h.release
	_, ok := ctx.Deadline()
	h.hasDL.Store(ok)
	h.ctxErr.Store(fmt.Sprint(ctx.Err()))
	return nil
}

func TestFinishHooksRunDetached(t *testing.T) {
	f := newFixture(t, false)
	hook := &blockingHook{release: make(chan struct{}), entered: make(chan struct{})}
	f.m.AttachFinishHook(hook)

	g, err := f.m.Create(context.Background(), "alice", "bob", false, CreateOptions{})
	require.NoError(t, err)
	f.play(t, g.ID, [2]string{"alice", "f2f3"}, [2]string{"bob", "e7e5"}, [2]string{"alice", "g2g4"})

	ctx, cancel := context.WithCancel(context.Background())
	res, err := f.m.SubmitMove(ctx, g.ID, "bob", "d8h4")
	require.NoError(t, err)
	require.True(t, res.GameOver)
	cancel()

	<-hook.entered
	// the per-game lock is free while the hook is still running
	_, err = f.m.SubmitMove(context.Background(), g.ID, "alice", "e1f2")
	assert.ErrorIs(t, err, domain.ErrInvalidMove)

	close(hook.release)
	f.m.WaitHooks()
	assert.Equal(t, "<nil>", hook.ctxErr.Load())
	assert.True(t, hook.hasDL.Load())
	assert.Equal(t, int32(1), f.hook.finished.Load())
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-chess-server/internal/account"
	"github.com/park285/cheese-chess-server/internal/auth"
	"github.com/park285/cheese-chess-server/internal/domain"
	"github.com/park285/cheese-chess-server/internal/ledger"
	"github.com/park285/cheese-chess-server/internal/lobby"
	"github.com/park285/cheese-chess-server/internal/render"
	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/internal/store"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
)

type testServer struct {
	app   *fiber.App
	store *store.MemoryStore
}

func newTestServer(t *testing.T, rl RateLimit) *testServer {
	t.Helper()
	s := store.NewMemory()
	tokens, err := auth.NewTokens("test-secret", time.Hour)
	require.NoError(t, err)
	accounts := account.NewService(s, tokens)
	sessions := session.NewManager(s, ledger.New(s, 100))
	app := New(Deps{
		Accounts:  accounts,
		Lobby:     lobby.New(s, sessions, accounts, 0),
		Sessions:  sessions,
		Boards:    render.New(),
		Health:    s,
		RateLimit: rl,
	})
	return &testServer{app: app, store: s}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func (ts *testServer) register(t *testing.T, name string) (string, *chessdto.Profile) {
	t.Helper()
	resp, raw := ts.do(t, http.MethodPost, "/api/register", "", chessdto.RegisterRequest{
		Username: name, Email: name + "@example.com", Password: "secret1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var out chessdto.AuthResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	return out.Token, out.User
}

func decodeError(t *testing.T, raw []byte) chessdto.DomainError {
	t.Helper()
	var de chessdto.DomainError
	require.NoError(t, json.Unmarshal(raw, &de))
	return de
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t, RateLimit{Max: 100})
	_, user := ts.register(t, "alice")
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, domain.DefaultRating, user.Rating)

	resp, raw := ts.do(t, http.MethodPost, "/api/auth/register", "", chessdto.RegisterRequest{
		Username: "alice", Email: "other@example.com", Password: "secret1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "username_taken", decodeError(t, raw).Code)

	resp, raw = ts.do(t, http.MethodPost, "/api/register", "", chessdto.RegisterRequest{
		Username: "bob", Email: "bob@example.com", Password: "123",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Password must be at least 6 characters", decodeError(t, raw).Message)

	resp, raw = ts.do(t, http.MethodPost, "/api/login", "", chessdto.LoginRequest{Username: "alice", Password: "nope123"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid username or password", decodeError(t, raw).Message)

	resp, raw = ts.do(t, http.MethodPost, "/api/auth/login", "", chessdto.LoginRequest{Email: "alice@example.com", Password: "secret1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var out chessdto.AuthResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.NotEmpty(t, out.Token)
}

func TestProfileAuth(t *testing.T) {
	ts := newTestServer(t, RateLimit{Max: 100})
	token, _ := ts.register(t, "alice")

	resp, raw := ts.do(t, http.MethodGet, "/api/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, auth.CodeMissingToken, decodeError(t, raw).Code)

	resp, _ = ts.do(t, http.MethodGet, "/api/profile", "garbage", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, raw = ts.do(t, http.MethodGet, "/api/profile", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p chessdto.Profile
	require.NoError(t, json.Unmarshal(raw, &p))
	assert.Equal(t, "alice", p.Username)
	assert.Zero(t, p.Balance)
}

func TestGameLifecycle(t *testing.T) {
	ts := newTestServer(t, RateLimit{Max: 100})
	alice, _ := ts.register(t, "alice")
	bob, bobProfile := ts.register(t, "bob")

	resp, raw := ts.do(t, http.MethodPost, "/api/games", alice, chessdto.CreateGameRequest{GameMode: "human", TimeControl: "5+0"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var created chessdto.GameResponse
	require.NoError(t, json.Unmarshal(raw, &created))
	g := created.Game
	assert.Equal(t, "waiting", g.Status)
	assert.Equal(t, "alice", g.WhitePlayer)
	assert.Equal(t, "Waiting...", g.BlackPlayer)
	assert.Equal(t, "5+0", g.TimeControl)

	resp, raw = ts.do(t, http.MethodGet, "/api/games", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []chessdto.Game
	require.NoError(t, json.Unmarshal(raw, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, g.ID, listed[0].ID)

	resp, raw = ts.do(t, http.MethodPut, "/api/games/"+g.ID+"/join", alice, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "self_join", decodeError(t, raw).Code)

	resp, raw = ts.do(t, http.MethodPost, "/api/game/"+g.ID+"/join", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var joined chessdto.GameResponse
	require.NoError(t, json.Unmarshal(raw, &joined))
	assert.Equal(t, "active", joined.Game.Status)
	assert.Equal(t, "bob", joined.Game.BlackPlayer)

	resp, raw = ts.do(t, http.MethodPost, "/api/game/"+g.ID+"/move", bob, chessdto.MoveRequest{Move: "e7e5"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "not_your_turn", decodeError(t, raw).Code)

	resp, _ = ts.do(t, http.MethodPost, "/api/game/"+g.ID+"/move", alice, chessdto.MoveRequest{Move: "e2e5"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/game/"+g.ID+"/move", alice, chessdto.MoveRequest{Move: "e2e4", PlayerID: bobProfile.ID})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, raw = ts.do(t, http.MethodPost, "/api/game/"+g.ID+"/move", alice, chessdto.MoveRequest{Move: "e4"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var moved chessdto.MoveResponse
	require.NoError(t, json.Unmarshal(raw, &moved))
	assert.False(t, moved.GameOver)
	require.Len(t, moved.Game.Moves, 1)
	assert.Equal(t, "e2e4", moved.Game.Moves[0].UCI)
	assert.Equal(t, bobProfile.ID, moved.Game.Turn)

	resp, _ = ts.do(t, http.MethodGet, "/api/games/"+g.ID, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/api/games/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFoolsMateCreditsWinner(t *testing.T) {
	ts := newTestServer(t, RateLimit{Max: 100})
	alice, _ := ts.register(t, "alice")
	bob, _ := ts.register(t, "bob")

	resp, raw := ts.do(t, http.MethodPost, "/api/game", alice, chessdto.CreateGameRequest{Mode: "friend", Friend: "bob@example.com"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var created chessdto.GameResponse
	require.NoError(t, json.Unmarshal(raw, &created))
	id := created.Game.ID

	var last chessdto.MoveResponse
	for i, mv := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		token := alice
		if i%2 == 1 {
			token = bob
		}
		resp, raw = ts.do(t, http.MethodPost, "/api/game/"+id+"/move", token, chessdto.MoveRequest{Move: mv})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
		require.NoError(t, json.Unmarshal(raw, &last))
	}
	assert.True(t, last.GameOver)
	assert.Equal(t, "0-1", last.Game.Result)

	resp, raw = ts.do(t, http.MethodGet, "/api/leaderboard", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var board []chessdto.LeaderboardEntry
	require.NoError(t, json.Unmarshal(raw, &board))
	require.NotEmpty(t, board)
	assert.Equal(t, "bob", board[0].Username)
	assert.Equal(t, int64(100), board[0].Balance)
	assert.Equal(t, 1, board[0].Rank)
}

func TestComputerGameAndBoard(t *testing.T) {
	ts := newTestServer(t, RateLimit{Max: 100})
	alice, _ := ts.register(t, "alice")

	resp, raw := ts.do(t, http.MethodPost, "/api/games", alice, chessdto.CreateGameRequest{Mode: "computer"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var created chessdto.GameResponse
	require.NoError(t, json.Unmarshal(raw, &created))
	assert.Equal(t, "active", created.Game.Status)
	assert.Equal(t, "Computer", created.Game.BlackPlayer)
	assert.True(t, created.Game.VsComputer)

	resp, raw = ts.do(t, http.MethodGet, "/api/games/"+created.Game.ID+"/board.png", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(raw, []byte("\x89PNG")))

	resp, raw = ts.do(t, http.MethodPost, "/api/games", alice, chessdto.CreateGameRequest{Mode: "blitz"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, domain.CodeValidation, decodeError(t, raw).Code)
}

func TestAuthRateLimit(t *testing.T) {
	ts := newTestServer(t, RateLimit{Max: 2, Window: time.Minute})
	body := chessdto.LoginRequest{Username: "ghost", Password: "secret1"}
	for i := 0; i < 2; i++ {
		resp, _ := ts.do(t, http.MethodPost, "/api/login", "", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	resp, raw := ts.do(t, http.MethodPost, "/api/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.JSONEq(t, `{"error":"too_many_requests"}`, string(raw))
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, RateLimit{})
	resp, _ := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	app := New(Deps{Health: downPinger{}})
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.Validation("x"), http.StatusBadRequest},
		{domain.Conflict("x"), http.StatusConflict},
		{domain.NotFound("x"), http.StatusNotFound},
		{domain.InvalidMove("x"), http.StatusUnprocessableEntity},
		{domain.Unauthorized("x"), http.StatusUnauthorized},
		{domain.WithCode(domain.Unauthorized("x"), auth.CodeInvalidToken), http.StatusForbidden},
		{domain.StoreFailure("op", errors.New("boom")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

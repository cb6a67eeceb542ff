package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/domain"
	"github.com/park285/cheese-chess-server/internal/obslog"
)

const (
	keyLive      = "chess:games:live"
	keyComputer  = "chess:games:computer"
	keyUnsettled = "chess:games:unsettled"
	keyLeaderbrd = "chess:users:balance"

	defaultMaxRetries = 8
)

func userKey(id string) string       { return "chess:user:" + strings.TrimSpace(id) }
func userNameKey(name string) string { return "chess:user:name:" + normalize(name) }
func userMailKey(mail string) string { return "chess:user:email:" + normalize(mail) }
func userTGKey(id int64) string      { return "chess:user:tg:" + strconv.FormatInt(id, 10) }
func gameKey(id string) string       { return "chess:game:" + strings.TrimSpace(id) }

// RedisStore keeps records as JSON strings and uses WATCH/MULTI for
// compare-and-swap updates.
type RedisStore struct {
	rdb        *redis.Client
	gameTTL    time.Duration
	maxRetries int
}

type RedisOption func(*RedisStore)

// WithGameTTL sets the expiry refreshed on every game write; 0 disables it.
func WithGameTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.gameTTL = d }
}

// OpenRedis connects using a redis:// or rediss:// URL and verifies the
// connection.
func OpenRedis(ctx context.Context, redisURL string, opts ...RedisOption) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	ropts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(rdb, opts...), nil
}

func NewRedis(rdb *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return domain.StoreFailure("ping", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// Users

func (s *RedisStore) CreateUser(ctx context.Context, u *domain.User) error {
	if u == nil || strings.TrimSpace(u.ID) == "" || strings.TrimSpace(u.Username) == "" {
		return domain.Validation("user id and username are required")
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}

	// claim unique indexes first; release them if a later claim fails
	var claimed []string
	release := func() {
		if len(claimed) > 0 {
			_ = s.rdb.Del(ctx, claimed...).Err()
		}
	}
	claim := func(key string, taken func() error) error {
		ok, err := s.rdb.SetNX(ctx, key, u.ID, 0).Result()
		if err != nil {
			release()
			return domain.StoreFailure("claim "+key, err)
		}
		if !ok {
			release()
			return taken()
		}
		claimed = append(claimed, key)
		return nil
	}

	if err := claim(userNameKey(u.Username), errUsernameTaken); err != nil {
		return err
	}
	if strings.TrimSpace(u.Email) != "" {
		if err := claim(userMailKey(u.Email), errEmailTaken); err != nil {
			return err
		}
	}
	if u.TelegramID != 0 {
		if err := claim(userTGKey(u.TelegramID), errTelegramTaken); err != nil {
			return err
		}
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, userKey(u.ID), raw, 0)
	pipe.ZAdd(ctx, keyLeaderbrd, redis.Z{Score: float64(u.Balance), Member: u.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		release()
		return domain.StoreFailure("save user", err)
	}
	return nil
}

func (s *RedisStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	raw, err := s.rdb.Get(ctx, userKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errUserNotFound()
	}
	if err != nil {
		return nil, domain.StoreFailure("get user", err)
	}
	var u domain.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, domain.StoreFailure("decode user", err)
	}
	return &u, nil
}

func (s *RedisStore) userByIndex(ctx context.Context, key string) (*domain.User, error) {
	id, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, errUserNotFound()
	}
	if err != nil {
		return nil, domain.StoreFailure("lookup "+key, err)
	}
	return s.GetUser(ctx, id)
}

func (s *RedisStore) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	if normalize(username) == "" {
		return nil, errUserNotFound()
	}
	return s.userByIndex(ctx, userNameKey(username))
}

func (s *RedisStore) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	if normalize(email) == "" {
		return nil, errUserNotFound()
	}
	return s.userByIndex(ctx, userMailKey(email))
}

func (s *RedisStore) FindUserByTelegramID(ctx context.Context, tgID int64) (*domain.User, error) {
	if tgID == 0 {
		return nil, errUserNotFound()
	}
	return s.userByIndex(ctx, userTGKey(tgID))
}

func (s *RedisStore) UpdateUser(ctx context.Context, id string, fn func(u *domain.User) error) (*domain.User, error) {
	key := userKey(id)
	var out *domain.User
	err := s.watch(ctx, "update user", key, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return errUserNotFound()
		}
		if err != nil {
			return domain.StoreFailure("get user", err)
		}
		var cur domain.User
		if err := json.Unmarshal(raw, &cur); err != nil {
			return domain.StoreFailure("decode user", err)
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return callerErr{err}
		}
		if !sameIdentity(&cur, next) {
			return errImmutableIdentity()
		}
		newRaw, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode user: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newRaw, 0)
			pipe.ZAdd(ctx, keyLeaderbrd, redis.Z{Score: float64(next.Balance), Member: next.ID})
			return nil
		})
		if err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

func (s *RedisStore) TopUsersByBalance(ctx context.Context, limit int) ([]*domain.User, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := s.rdb.ZRevRange(ctx, keyLeaderbrd, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, domain.StoreFailure("leaderboard", err)
	}
	out := make([]*domain.User, 0, len(ids))
	for _, id := range ids {
		u, err := s.GetUser(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			_ = s.rdb.ZRem(ctx, keyLeaderbrd, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// Games

func (s *RedisStore) CreateGame(ctx context.Context, g *domain.Game) error {
	if g == nil || strings.TrimSpace(g.ID) == "" {
		return domain.Validation("game id is required")
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode game: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, gameKey(g.ID), raw, s.gameTTL).Result()
	if err != nil {
		return domain.StoreFailure("save game", err)
	}
	if !ok {
		return domain.Conflict("game already exists")
	}
	pipe := s.rdb.TxPipeline()
	s.indexGame(ctx, pipe, g)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.StoreFailure("index game", err)
	}
	return nil
}

func (s *RedisStore) GetGame(ctx context.Context, id string) (*domain.Game, error) {
	raw, err := s.rdb.Get(ctx, gameKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errGameNotFound()
	}
	if err != nil {
		return nil, domain.StoreFailure("get game", err)
	}
	var g domain.Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, domain.StoreFailure("decode game", err)
	}
	return &g, nil
}

func (s *RedisStore) UpdateGame(ctx context.Context, id string, fn func(g *domain.Game) error) (*domain.Game, error) {
	key := gameKey(id)
	var out *domain.Game
	err := s.watch(ctx, "update game", key, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return errGameNotFound()
		}
		if err != nil {
			return domain.StoreFailure("get game", err)
		}
		var cur domain.Game
		if err := json.Unmarshal(raw, &cur); err != nil {
			return domain.StoreFailure("decode game", err)
		}
		if err := fn(&cur); err != nil {
			return callerErr{err}
		}
		newRaw, err := json.Marshal(&cur)
		if err != nil {
			return fmt.Errorf("encode game: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newRaw, s.gameTTL)
			s.indexGame(ctx, pipe, &cur)
			return nil
		})
		if err != nil {
			return err
		}
		out = &cur
		return nil
	})
	return out, err
}

func (s *RedisStore) ListLiveGames(ctx context.Context, limit int) ([]*domain.Game, error) {
	if limit <= 0 {
		return nil, nil
	}
	out := make([]*domain.Game, 0, limit)
	var start int64
	for len(out) < limit {
		ids, err := s.rdb.ZRevRange(ctx, keyLive, start, start+int64(limit)-1).Result()
		if err != nil {
			return nil, domain.StoreFailure("list live games", err)
		}
		if len(ids) == 0 {
			break
		}
		start += int64(len(ids))
		games, stale, err := s.loadGames(ctx, ids)
		if err != nil {
			return nil, err
		}
		if len(stale) > 0 && s.rdb.ZRem(ctx, keyLive, stale...).Err() == nil {
			start -= int64(len(stale))
		}
		for _, g := range games {
			if g.Live() && len(out) < limit {
				out = append(out, g)
			}
		}
	}
	return out, nil
}

func (s *RedisStore) ListAwaitingComputer(ctx context.Context) ([]*domain.Game, error) {
	ids, err := s.rdb.SMembers(ctx, keyComputer).Result()
	if err != nil {
		return nil, domain.StoreFailure("list pending replies", err)
	}
	games, stale, err := s.loadGames(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		_ = s.rdb.SRem(ctx, keyComputer, stale...).Err()
	}
	out := games[:0]
	for _, g := range games {
		if g.AwaitingComputer && g.Status == domain.StatusActive {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *RedisStore) ListUnsettled(ctx context.Context) ([]*domain.Game, error) {
	ids, err := s.rdb.SMembers(ctx, keyUnsettled).Result()
	if err != nil {
		return nil, domain.StoreFailure("list unsettled games", err)
	}
	games, stale, err := s.loadGames(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		_ = s.rdb.SRem(ctx, keyUnsettled, stale...).Err()
	}
	out := games[:0]
	for _, g := range games {
		if g.Unsettled() {
			out = append(out, g)
		}
	}
	return out, nil
}

// loadGames fetches ids in one round trip; ids whose record expired are
// returned as stale.
func (s *RedisStore) loadGames(ctx context.Context, ids []string) ([]*domain.Game, []any, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = gameKey(id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, domain.StoreFailure("load games", err)
	}
	var (
		games []*domain.Game
		stale []any
	)
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var g domain.Game
		if err := json.Unmarshal([]byte(str), &g); err != nil {
			obslog.L().Warn("store_game_decode_error", zap.String("game_id", ids[i]), zap.Error(err))
			continue
		}
		games = append(games, &g)
	}
	return games, stale, nil
}

// indexGame은 로비/컴퓨터 응수/미정산 집합을 게임 상태에 맞춰 갱신.
func (s *RedisStore) indexGame(ctx context.Context, pipe redis.Pipeliner, g *domain.Game) {
	if g.Live() {
		pipe.ZAdd(ctx, keyLive, redis.Z{Score: float64(g.CreatedAt.UnixMicro()), Member: g.ID})
	} else {
		pipe.ZRem(ctx, keyLive, g.ID)
	}
	if g.AwaitingComputer && g.Status == domain.StatusActive {
		pipe.SAdd(ctx, keyComputer, g.ID)
	} else {
		pipe.SRem(ctx, keyComputer, g.ID)
	}
	if g.Unsettled() {
		pipe.SAdd(ctx, keyUnsettled, g.ID)
	} else {
		pipe.SRem(ctx, keyUnsettled, g.ID)
	}
}

// watch runs txf under WATCH key, retrying when a concurrent writer wins.
// Errors returned by txf itself are passed through unchanged.
func (s *RedisStore) watch(ctx context.Context, op, key string, txf func(tx *redis.Tx) error) error {
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		var ce callerErr
		if errors.As(err, &ce) {
			return ce.err
		}
		if !errors.Is(err, redis.TxFailedErr) {
			if errors.Is(err, domain.ErrStoreFailure) || isDomainErr(err) {
				return err
			}
			return domain.StoreFailure(op, err)
		}
		obslog.L().Debug("store_cas_retry", zap.String("key", key), zap.Int("attempt", attempt))
	}
	return domain.StoreFailure(op, fmt.Errorf("too much contention on %s", key))
}

// callerErr marks errors produced by the update function so they are not
// mistaken for backend failures.
type callerErr struct{ err error }

func (e callerErr) Error() string { return e.err.Error() }
func (e callerErr) Unwrap() error { return e.err }

func isDomainErr(err error) bool {
	var de *domain.Error
	return errors.As(err, &de)
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{ServerName: u.Hostname(), MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

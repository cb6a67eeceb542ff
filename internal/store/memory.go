package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/park285/cheese-chess-server/internal/domain"
)

// MemoryStore is a single-process Store used when no REDIS_URL is configured
// and in tests. Records are copied on the way in and out.
type MemoryStore struct {
	mu sync.RWMutex

	users   map[string]*domain.User
	byName  map[string]string
	byEmail map[string]string
	byTG    map[int64]string

	games map[string]*domain.Game
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*domain.User),
		byName:  make(map[string]string),
		byEmail: make(map[string]string),
		byTG:    make(map[int64]string),
		games:   make(map[string]*domain.Game),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }

func (m *MemoryStore) CreateUser(_ context.Context, u *domain.User) error {
	if u == nil || strings.TrimSpace(u.ID) == "" || strings.TrimSpace(u.Username) == "" {
		return domain.Validation("user id and username are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	name := normalize(u.Username)
	if _, taken := m.byName[name]; taken {
		return errUsernameTaken()
	}
	mail := normalize(u.Email)
	if mail != "" {
		if _, taken := m.byEmail[mail]; taken {
			return errEmailTaken()
		}
	}
	if u.TelegramID != 0 {
		if _, taken := m.byTG[u.TelegramID]; taken {
			return errTelegramTaken()
		}
	}
	if _, exists := m.users[u.ID]; exists {
		return domain.Conflict("user already exists")
	}

	m.users[u.ID] = u.Clone()
	m.byName[name] = u.ID
	if mail != "" {
		m.byEmail[mail] = u.ID
	}
	if u.TelegramID != 0 {
		m.byTG[u.TelegramID] = u.ID
	}
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[strings.TrimSpace(id)]
	if !ok {
		return nil, errUserNotFound()
	}
	return u.Clone(), nil
}

func (m *MemoryStore) userByIndex(id string, ok bool) (*domain.User, error) {
	if !ok {
		return nil, errUserNotFound()
	}
	u, found := m.users[id]
	if !found {
		return nil, errUserNotFound()
	}
	return u.Clone(), nil
}

func (m *MemoryStore) FindUserByUsername(_ context.Context, username string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[normalize(username)]
	return m.userByIndex(id, ok)
}

func (m *MemoryStore) FindUserByEmail(_ context.Context, email string) (*domain.User, error) {
	if normalize(email) == "" {
		return nil, errUserNotFound()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[normalize(email)]
	return m.userByIndex(id, ok)
}

func (m *MemoryStore) FindUserByTelegramID(_ context.Context, tgID int64) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byTG[tgID]
	return m.userByIndex(id, ok)
}

func (m *MemoryStore) UpdateUser(_ context.Context, id string, fn func(u *domain.User) error) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[strings.TrimSpace(id)]
	if !ok {
		return nil, errUserNotFound()
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if !sameIdentity(cur, next) {
		return nil, errImmutableIdentity()
	}
	m.users[cur.ID] = next
	return next.Clone(), nil
}

func (m *MemoryStore) TopUsersByBalance(_ context.Context, limit int) ([]*domain.User, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	all := make([]*domain.User, 0, len(m.users))
	for _, u := range m.users {
		all = append(all, u.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].Balance != all[j].Balance {
			return all[i].Balance > all[j].Balance
		}
		return all[i].ID > all[j].ID
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStore) CreateGame(_ context.Context, g *domain.Game) error {
	if g == nil || strings.TrimSpace(g.ID) == "" {
		return domain.Validation("game id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.games[g.ID]; exists {
		return domain.Conflict("game already exists")
	}
	m.games[g.ID] = g.Clone()
	return nil
}

func (m *MemoryStore) GetGame(_ context.Context, id string) (*domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[strings.TrimSpace(id)]
	if !ok {
		return nil, errGameNotFound()
	}
	return g.Clone(), nil
}

func (m *MemoryStore) UpdateGame(_ context.Context, id string, fn func(g *domain.Game) error) (*domain.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.games[strings.TrimSpace(id)]
	if !ok {
		return nil, errGameNotFound()
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.games[cur.ID] = next
	return next.Clone(), nil
}

func (m *MemoryStore) ListLiveGames(_ context.Context, limit int) ([]*domain.Game, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	var live []*domain.Game
	for _, g := range m.games {
		if g.Live() {
			live = append(live, g.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(live, func(i, j int) bool { return live[i].CreatedAt.After(live[j].CreatedAt) })
	if len(live) > limit {
		live = live[:limit]
	}
	return live, nil
}

func (m *MemoryStore) ListAwaitingComputer(context.Context) ([]*domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Game
	for _, g := range m.games {
		if g.AwaitingComputer && g.Status == domain.StatusActive {
			out = append(out, g.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) ListUnsettled(context.Context) ([]*domain.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Game
	for _, g := range m.games {
		if g.Unsettled() {
			out = append(out, g.Clone())
		}
	}
	return out, nil
}

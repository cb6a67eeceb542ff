package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/domain"
	"github.com/park285/cheese-chess-server/internal/obslog"
)

const schema = `
CREATE TABLE IF NOT EXISTS finished_games (
	game_id       TEXT PRIMARY KEY,
	white_id      TEXT NOT NULL,
	white_name    TEXT NOT NULL,
	black_id      TEXT NOT NULL,
	black_name    TEXT NOT NULL,
	mode          TEXT NOT NULL,
	vs_computer   BOOLEAN NOT NULL,
	time_control  TEXT NOT NULL,
	winner_id     TEXT NOT NULL,
	result        TEXT NOT NULL,
	result_method TEXT NOT NULL,
	moves_uci     JSONB NOT NULL,
	moves_san     JSONB NOT NULL,
	pgn           TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL
)`

const upsertGame = `
INSERT INTO finished_games (
	game_id, white_id, white_name, black_id, black_name,
	mode, vs_computer, time_control, winner_id,
	result, result_method, moves_uci, moves_san, pgn,
	started_at, ended_at, duration_ms
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13::jsonb, $14, $15, $16, $17
) ON CONFLICT (game_id) DO UPDATE SET
	white_name=EXCLUDED.white_name,
	black_name=EXCLUDED.black_name,
	winner_id=EXCLUDED.winner_id,
	result=EXCLUDED.result,
	result_method=EXCLUDED.result_method,
	moves_uci=EXCLUDED.moves_uci,
	moves_san=EXCLUDED.moves_san,
	pgn=EXCLUDED.pgn,
	ended_at=EXCLUDED.ended_at,
	duration_ms=EXCLUDED.duration_ms`

// Repository stores finished games in PostgreSQL.
type Repository struct {
	db    *sql.DB
	names Names
}

// Open connects, pings and ensures the table exists.
func Open(ctx context.Context, databaseURL string, names Names) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	r := NewRepository(db, names)
	if err := r.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func NewRepository(db *sql.DB, names Names) *Repository {
	return &Repository{db: db, names: names}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure finished_games schema: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// GameFinished upserts g. Re-delivery of the same game overwrites the row.
func (r *Repository) GameFinished(ctx context.Context, g *domain.Game) error {
	if r == nil || r.db == nil || g == nil {
		return nil
	}
	players := ResolvePlayers(ctx, r.names, g)
	pgn := BuildPGN(g, players)

	movesUCI, err := json.Marshal(g.MovesUCI())
	if err != nil {
		return fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(g.MovesSAN())
	if err != nil {
		return fmt.Errorf("marshal moves_san: %w", err)
	}
	duration := g.LastMoveAt.Sub(g.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	_, err = r.db.ExecContext(ctx, upsertGame,
		g.ID,
		g.PlayerA, players.White,
		g.PlayerB, players.Black,
		string(g.Mode), g.VsComputer, g.TimeControl, g.Winner,
		pgnResult(g.Result), g.Method, string(movesUCI), string(movesSAN), pgn,
		g.CreatedAt, g.LastMoveAt, duration,
	)
	if err != nil {
		return fmt.Errorf("upsert finished game %s: %w", g.ID, err)
	}
	obslog.L().Info("archive_game_saved", zap.String("game_id", g.ID), zap.String("result", g.Result))
	return nil
}

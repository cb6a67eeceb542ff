// Package archive keeps finished games: a PostgreSQL record with the PGN
// transcript and an optional PGN copy in S3 compatible object storage.
package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-chess-server/internal/domain"
)

const (
	pgnEvent = "Cheese Chess"
	pgnSite  = "cheese-chess"
)

// Names resolves player ids to display names.
type Names interface {
	Profile(ctx context.Context, userID string) (*domain.User, error)
}

// Players are the display names of both seats.
type Players struct {
	White string
	Black string
}

// ResolvePlayers looks up both seats. Unknown ids fall back to the raw id.
func ResolvePlayers(ctx context.Context, names Names, g *domain.Game) Players {
	return Players{White: displayName(ctx, names, g.PlayerA), Black: displayName(ctx, names, g.PlayerB)}
}

func displayName(ctx context.Context, names Names, id string) string {
	switch id {
	case "":
		return "?"
	case domain.ComputerID:
		return "Computer"
	}
	if names != nil {
		if u, err := names.Profile(ctx, id); err == nil && u.Username != "" {
			return u.Username
		}
	}
	return id
}

// BuildPGN renders g as a single game PGN with numbered SAN move text.
func BuildPGN(g *domain.Game, p Players) string {
	if g == nil {
		return ""
	}
	date := g.LastMoveAt
	if date.IsZero() {
		date = time.Now()
	}
	result := pgnResult(g.Result)

	var b strings.Builder
	fmt.Fprintf(&b, "[Event \"%s\"]\n", pgnEvent)
	fmt.Fprintf(&b, "[Site \"%s\"]\n", pgnSite)
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	fmt.Fprintf(&b, "[White \"%s\"]\n", sanitizePGN(p.White))
	fmt.Fprintf(&b, "[Black \"%s\"]\n", sanitizePGN(p.Black))
	if tc := strings.TrimSpace(g.TimeControl); tc != "" {
		fmt.Fprintf(&b, "[TimeControl \"%s\"]\n", sanitizePGN(tc))
	}
	if m := strings.TrimSpace(g.Method); m != "" {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(m)))
	}
	fmt.Fprintf(&b, "[Result \"%s\"]\n\n", result)

	san := g.MovesSAN()
	for i := 0; i < len(san); i += 2 {
		fmt.Fprintf(&b, "%d. %s", i/2+1, strings.TrimSpace(san[i]))
		if i+1 < len(san) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(san[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func pgnResult(r string) string {
	switch strings.TrimSpace(r) {
	case "1-0", "0-1", "1/2-1/2":
		return r
	}
	return "*"
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}

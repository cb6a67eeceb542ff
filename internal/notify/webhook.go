// Package notify announces finished games to an outbound JSON webhook.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-chess-server/internal/archive"
	"github.com/park285/cheese-chess-server/internal/domain"
	"github.com/park285/cheese-chess-server/internal/obslog"
)

const EventGameFinished = "game.finished"

// Event is the webhook payload.
type Event struct {
	Type       string    `json:"type"`
	GameID     string    `json:"game_id"`
	Mode       string    `json:"mode"`
	WhiteID    string    `json:"white_id"`
	WhiteName  string    `json:"white_name"`
	BlackID    string    `json:"black_id"`
	BlackName  string    `json:"black_name"`
	WinnerID   string    `json:"winner_id,omitempty"`
	Result     string    `json:"result"`
	Method     string    `json:"method,omitempty"`
	Moves      []string  `json:"moves"`
	FinishedAt time.Time `json:"finished_at"`
}

// Webhook posts events to a single URL.
type Webhook struct {
	url     string
	http    *fasthttp.Client
	names   archive.Names
	headers map[string]string

	defaultTimeout time.Duration
	retryMax       int
	backoffBase    time.Duration
}

type Option func(*Webhook)

func WithTimeout(d time.Duration) Option {
	return func(w *Webhook) { w.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(w *Webhook) { w.retryMax = max }
}

func WithBackoff(base time.Duration) Option {
	return func(w *Webhook) { w.backoffBase = base }
}

// WithHeader adds a static header, e.g. a shared secret.
func WithHeader(key, value string) Option {
	return func(w *Webhook) {
		if strings.TrimSpace(key) != "" && strings.TrimSpace(value) != "" {
			w.headers[key] = value
		}
	}
}

// WithDial replaces the TCP dialer.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(w *Webhook) { w.http.Dial = dial }
}

func New(url string, names archive.Names, opts ...Option) *Webhook {
	w := &Webhook{
		url:            strings.TrimSpace(url),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		names:          names,
		headers:        map[string]string{},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
		backoffBase:    100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// GameFinished builds and posts a game.finished event.
func (w *Webhook) GameFinished(ctx context.Context, g *domain.Game) error {
	if w == nil || g == nil {
		return nil
	}
	p := archive.ResolvePlayers(ctx, w.names, g)
	ev := Event{
		Type:       EventGameFinished,
		GameID:     g.ID,
		Mode:       string(g.Mode),
		WhiteID:    g.PlayerA,
		WhiteName:  p.White,
		BlackID:    g.PlayerB,
		BlackName:  p.Black,
		WinnerID:   g.Winner,
		Result:     g.Result,
		Method:     g.Method,
		Moves:      g.MovesUCI(),
		FinishedAt: g.LastMoveAt,
	}
	if err := w.Post(ctx, ev); err != nil {
		obslog.L().Warn("webhook_post_failed", zap.String("game_id", g.ID), zap.Error(err))
		return err
	}
	obslog.L().Debug("webhook_posted", zap.String("game_id", g.ID))
	return nil
}

// Post sends ev, retrying transport errors and 5xx responses.
func (w *Webhook) Post(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(w.url)
	req.Header.SetContentType("application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	req.SetBody(payload)

	attempts := w.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := w.http.DoDeadline(req, resp, w.deadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else if status := resp.StatusCode(); status < 200 || status >= 300 {
			lastErr = fmt.Errorf("webhook error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if !shouldRetryStatus(status) {
				return lastErr
			}
		} else {
			return nil
		}
		if attempt == attempts {
			break
		}
		if err := sleepWithContext(ctx, w.backoff(attempt)); err != nil {
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (w *Webhook) deadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(w.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

// backoff doubles from backoffBase, capped at 32x.
func (w *Webhook) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * w.backoffBase
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

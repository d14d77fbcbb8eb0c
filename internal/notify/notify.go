// Package notify is the client of the offline-push provider. Batches of
// notifications are sent as a NATS request; the provider answers with one
// result per token. Per-token failures are logged and never fail the call.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/fiora/chat-app/internal/metrics"
)

// Message is one notification for one device token.
type Message struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Result is the provider's answer for one token. An empty Error means the
// notification was accepted.
type Result struct {
	Token string `json:"token"`
	Error string `json:"error,omitempty"`
}

type request struct {
	Messages []Message `json:"messages"`
}

type response struct {
	Results []Result `json:"results"`
}

// Requester sends a request and waits for the reply.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// Config tunes the client.
type Config struct {
	Subject   string
	Timeout   time.Duration
	PerSecond float64 // batches per second toward the provider
	Burst     int
}

// Client sends notification batches to the push provider.
type Client struct {
	req     Requester
	cfg     Config
	limiter *rate.Limiter
	log     zerolog.Logger
}

// New creates a Client. A non-positive PerSecond disables throttling.
func New(req Requester, cfg Config, log zerolog.Logger) *Client {
	limit := rate.Inf
	if cfg.PerSecond > 0 {
		limit = rate.Limit(cfg.PerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		req:     req,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}
}

// Send delivers msgs in one batch and returns the per-token results.
func (c *Client) Send(ctx context.Context, msgs []Message) ([]Result, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("notify: throttled: %w", err)
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	data, err := json.Marshal(request{Messages: msgs})
	if err != nil {
		return nil, fmt.Errorf("notify: marshal batch: %w", err)
	}
	reply, err := c.req.Request(ctx, c.cfg.Subject, data)
	if err != nil {
		metrics.PushTotal.WithLabelValues("failed").Add(float64(len(msgs)))
		return nil, fmt.Errorf("notify: %w", err)
	}

	var resp response
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, fmt.Errorf("notify: invalid reply: %w", err)
	}
	for _, r := range resp.Results {
		if r.Error != "" {
			metrics.PushTotal.WithLabelValues("rejected").Inc()
			c.log.Warn().Str("token", redact(r.Token)).Str("error", r.Error).Msg("push rejected")
			continue
		}
		metrics.PushTotal.WithLabelValues("ok").Inc()
	}
	return resp.Results, nil
}

// redact keeps a token recognizable in logs without exposing it.
func redact(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// Package ratelimit provides the two throttles of the server: a Redis-backed
// fixed window for per-ip connection attempts, shared by all processes, and
// the process-local per-connection call Window used by the rate stage.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Rule is a fixed window: at most Limit hits per Window under Prefix+id.
type Rule struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// ConnectRule allows perMinute WebSocket upgrades per minute per ip.
func ConnectRule(perMinute int) Rule {
	return Rule{Prefix: "rl:conn:", Limit: perMinute, Window: time.Minute}
}

// Decision is the outcome of one hit.
type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration // zero when allowed
}

// hitScript counts a hit and opens the window on the first one, in a single
// round trip. It returns the count and the remaining window in ms.
var hitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// Limiter counts hits in Redis so every process shares one window per id.
type Limiter struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewLimiter(client *redis.Client, log zerolog.Logger) *Limiter {
	return &Limiter{client: client, log: log}
}

// Hit records one attempt by id. Redis failures allow the attempt and are
// returned alongside the permissive decision.
func (l *Limiter) Hit(ctx context.Context, id string, rule Rule) (Decision, error) {
	key := rule.Prefix + id
	res, err := hitScript.Run(ctx, l.client, []string{key}, rule.Window.Milliseconds()).Int64Slice()
	if err == nil && len(res) != 2 {
		err = fmt.Errorf("ratelimit: unexpected reply %v", res)
	}
	if err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("rate limit check failed, allowing")
		return Decision{Allowed: true}, err
	}

	d := Decision{Count: int(res[0]), Allowed: int(res[0]) <= rule.Limit}
	if !d.Allowed {
		d.RetryAfter = time.Duration(res[1]) * time.Millisecond
		if d.RetryAfter <= 0 {
			d.RetryAfter = rule.Window
		}
	}
	return d, nil
}

// Remaining returns how many hits id has left in its current window.
func (l *Limiter) Remaining(ctx context.Context, id string, rule Rule) (int, error) {
	count, err := l.client.Get(ctx, rule.Prefix+id).Int()
	switch {
	case err == redis.Nil:
		return rule.Limit, nil
	case err != nil:
		return rule.Limit, err
	}
	return max(rule.Limit-count, 0), nil
}

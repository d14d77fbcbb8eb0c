package roster

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fiora/chat-app/internal/metrics"
)

// Fingerprint computes a deterministic hash of an id set. IDs are sorted
// before hashing so the result is order-independent.
func Fingerprint(ids []string) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	joined := strings.Join(sorted, ",")
	h := sha256.Sum256([]byte(joined))
	return fmt.Sprintf("%x", h[:8]) // 16-char hex prefix
}

// Result is the answer of Cache.GetOrCompute. When Unchanged is set the
// caller already holds Value and it is left zero.
type Result[T any] struct {
	Fingerprint string
	Value       T
	Unchanged   bool
}

type entry[T any] struct {
	value       T
	fingerprint string
	expires     time.Time
}

// Cache maps a key to a computed value, its fingerprint and an expiry.
type Cache[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry[T]
	now     func() time.Time
}

// NewCache creates a Cache whose entries live for ttl.
func NewCache[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		ttl:     ttl,
		entries: make(map[string]entry[T]),
		now:     time.Now,
	}
}

// ComputeFunc produces a fresh value and its fingerprint.
type ComputeFunc[T any] func(ctx context.Context) (T, string, error)

// GetOrCompute returns the value cached under key, computing it when
// missing or expired. If the fingerprint of the current value equals
// clientFingerprint, only the fingerprint is returned.
func (c *Cache[T]) GetOrCompute(ctx context.Context, key, clientFingerprint string, compute ComputeFunc[T]) (Result[T], error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()

	if ok && c.now().Before(e.expires) {
		if clientFingerprint != "" && clientFingerprint == e.fingerprint {
			metrics.RosterCache.WithLabelValues("unchanged").Inc()
			return Result[T]{Fingerprint: e.fingerprint, Unchanged: true}, nil
		}
		metrics.RosterCache.WithLabelValues("hit").Inc()
		return Result[T]{Fingerprint: e.fingerprint, Value: e.value}, nil
	}

	metrics.RosterCache.WithLabelValues("miss").Inc()
	value, fp, err := compute(ctx)
	if err != nil {
		return Result[T]{}, err
	}

	c.mu.Lock()
	c.entries[key] = entry[T]{value: value, fingerprint: fp, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()

	if clientFingerprint != "" && clientFingerprint == fp {
		return Result[T]{Fingerprint: fp, Unchanged: true}, nil
	}
	return Result[T]{Fingerprint: fp, Value: value}, nil
}

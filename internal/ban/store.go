// Package ban is the shared abuse ledger backed by Redis. Every server
// process reads and writes the same keys, so a seal applied on one process
// is enforced by all of them:
//
//	Key:   seal:user:<userID> | seal:ip:<ip>
//	Value: <reason>
//	TTL:   seal duration
//
// The same store carries the global mute flags and the time-boxed new-user
// markers consulted by the rate stage.
package ban

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SealUserPrefix is the Redis key prefix for sealed user ids.
	SealUserPrefix = "seal:user:"

	// SealIPPrefix is the Redis key prefix for sealed ips.
	SealIPPrefix = "seal:ip:"

	// NewUserPrefix marks users registered within the new-user window.
	NewUserPrefix = "newuser:"

	// FlagMuteAll blocks sendMessage for every non-administrator.
	FlagMuteAll = "flag:disable-send-message"

	// FlagMuteNewUsers blocks sendMessage for non-administrators flagged new.
	FlagMuteNewUsers = "flag:disable-new-user-send-message"
)

// ErrAlreadySealed is returned when the target already has a live seal.
var ErrAlreadySealed = errors.New("ban: already sealed")

// Kind distinguishes user seals from ip seals.
type Kind string

const (
	KindUser Kind = "user"
	KindIP   Kind = "ip"
)

func prefix(kind Kind) string {
	if kind == KindIP {
		return SealIPPrefix
	}
	return SealUserPrefix
}

// Seal is one live ledger entry.
type Seal struct {
	Kind      Kind          `json:"kind"`
	Target    string        `json:"target"`
	Reason    string        `json:"reason"`
	Remaining time.Duration `json:"remaining"`
}

// Store manages the ban ledger in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a new ban store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Seal bans target for duration. It returns ErrAlreadySealed if a seal is
// already in effect; the existing seal is left untouched.
func (s *Store) Seal(ctx context.Context, kind Kind, target string, duration time.Duration, reason string) error {
	ok, err := s.client.SetNX(ctx, prefix(kind)+target, reason, duration).Result()
	if err != nil {
		return fmt.Errorf("ban: seal %s %s: %w", kind, target, err)
	}
	if !ok {
		return ErrAlreadySealed
	}
	return nil
}

// Unseal lifts a seal immediately.
func (s *Store) Unseal(ctx context.Context, kind Kind, target string) error {
	return s.client.Del(ctx, prefix(kind)+target).Err()
}

// IsSealed reports whether target currently has a seal and its remaining
// lifetime. Redis errors are returned so callers can decide how to handle
// them.
func (s *Store) IsSealed(ctx context.Context, kind Kind, target string) (bool, time.Duration, error) {
	if target == "" {
		return false, 0, nil
	}
	ttl, err := s.client.TTL(ctx, prefix(kind)+target).Result()
	if err != nil {
		return false, 0, err
	}
	// -2: key missing. -1: key without expiry, still a seal.
	if ttl == -2 {
		return false, 0, nil
	}
	if ttl < 0 {
		return true, 0, nil
	}
	return true, ttl, nil
}

// Check reports whether either the user or the ip is sealed. Empty values
// are skipped.
func (s *Store) Check(ctx context.Context, userID, ip string) (bool, error) {
	keys := make([]string, 0, 2)
	if userID != "" {
		keys = append(keys, SealUserPrefix+userID)
	}
	if ip != "" {
		keys = append(keys, SealIPPrefix+ip)
	}
	if len(keys) == 0 {
		return false, nil
	}
	n, err := s.client.Exists(ctx, keys...).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List returns every live seal across all server processes.
func (s *Store) List(ctx context.Context) ([]Seal, error) {
	var out []Seal
	for _, kind := range []Kind{KindUser, KindIP} {
		p := prefix(kind)
		iter := s.client.Scan(ctx, 0, p+"*", 200).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			reason, err := s.client.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("ban: list: %w", err)
			}
			ttl, _ := s.client.TTL(ctx, key).Result()
			if ttl < 0 {
				ttl = 0
			}
			out = append(out, Seal{
				Kind:      kind,
				Target:    strings.TrimPrefix(key, p),
				Reason:    reason,
				Remaining: ttl,
			})
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("ban: list: %w", err)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Mute flags
// ---------------------------------------------------------------------------

// MuteState is the pair of global mute flags.
type MuteState struct {
	All      bool
	NewUsers bool
}

// SetMute sets or clears one mute flag.
func (s *Store) SetMute(ctx context.Context, flag string, muted bool) error {
	if flag != FlagMuteAll && flag != FlagMuteNewUsers {
		return fmt.Errorf("ban: unknown flag %q", flag)
	}
	if muted {
		return s.client.Set(ctx, flag, "1", 0).Err()
	}
	return s.client.Del(ctx, flag).Err()
}

// Mutes reads both mute flags in one round trip.
func (s *Store) Mutes(ctx context.Context) (MuteState, error) {
	vals, err := s.client.MGet(ctx, FlagMuteAll, FlagMuteNewUsers).Result()
	if err != nil {
		return MuteState{}, err
	}
	return MuteState{All: vals[0] != nil, NewUsers: vals[1] != nil}, nil
}

// ---------------------------------------------------------------------------
// New-user markers
// ---------------------------------------------------------------------------

// MarkNewUser flags userID as new for window.
func (s *Store) MarkNewUser(ctx context.Context, userID string, window time.Duration) error {
	return s.client.Set(ctx, NewUserPrefix+userID, "1", window).Err()
}

// IsNewUser reports whether userID is still inside its new-user window.
func (s *Store) IsNewUser(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	n, err := s.client.Exists(ctx, NewUserPrefix+userID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

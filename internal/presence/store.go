// Package presence is the Presence Store: which live connection belongs to
// which user, shared by every server process through Redis.
//
//	conn:<connID>       hash  id ip server user_id os browser environment created_at updated_at
//	user:conns:<userID> set   connection ids bound to the user
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fiora/chat-app/internal/model"
)

const (
	// ConnPrefix is the Redis key prefix for connection hashes.
	ConnPrefix = "conn:"

	// UserConnsPrefix is the Redis key prefix for a user's connection set.
	UserConnsPrefix = "user:conns:"

	// ConnTTL bounds how long a record of a crashed process can linger.
	ConnTTL = 24 * time.Hour
)

// Store manages Connection records in Redis.
type Store struct {
	client     *redis.Client
	serverName string
}

// NewStore creates a presence store for the given server instance.
func NewStore(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// ServerName returns the instance name written into new records.
func (s *Store) ServerName() string {
	return s.serverName
}

// Create stores a fresh, unbound Connection record.
func (s *Store) Create(ctx context.Context, connID, ip string) error {
	key := ConnPrefix + connID
	now := time.Now().UnixMilli()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":          connID,
		"ip":          ip,
		"server":      s.serverName,
		"user_id":     "",
		"os":          "",
		"browser":     "",
		"environment": "",
		"created_at":  now,
		"updated_at":  now,
	})
	pipe.Expire(ctx, key, ConnTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("presence: create %s: %w", connID, err)
	}
	return nil
}

// Get returns the Connection record, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, connID string) (*model.Connection, error) {
	var c model.Connection
	if err := s.client.HGetAll(ctx, ConnPrefix+connID).Scan(&c); err != nil {
		return nil, fmt.Errorf("presence: get %s: %w", connID, err)
	}
	if c.ID == "" {
		return nil, nil
	}
	return &c, nil
}

// ClientInfo is the client metadata carried by a Connection.
type ClientInfo struct {
	OS          string
	Browser     string
	Environment string
}

// Bind attaches a user and client metadata to a connection. A connection
// previously bound to another user is moved.
func (s *Store) Bind(ctx context.Context, connID, userID string, info ClientInfo) error {
	key := ConnPrefix + connID
	prev, err := s.client.HGet(ctx, key, "user_id").Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("presence: bind %s: %w", connID, err)
	}

	pipe := s.client.TxPipeline()
	if prev != "" && prev != userID {
		pipe.SRem(ctx, UserConnsPrefix+prev, connID)
	}
	pipe.HSet(ctx, key,
		"user_id", userID,
		"os", info.OS,
		"browser", info.Browser,
		"environment", info.Environment,
		"updated_at", time.Now().UnixMilli(),
	)
	pipe.Expire(ctx, key, ConnTTL)
	pipe.SAdd(ctx, UserConnsPrefix+userID, connID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: bind %s: %w", connID, err)
	}
	return nil
}

// Delete removes the record and its user index entry.
func (s *Store) Delete(ctx context.Context, connID string) error {
	key := ConnPrefix + connID
	userID, err := s.client.HGet(ctx, key, "user_id").Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("presence: delete %s: %w", connID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if userID != "" {
		pipe.SRem(ctx, UserConnsPrefix+userID, connID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: delete %s: %w", connID, err)
	}
	return nil
}

// ConnectionsOf returns every live Connection bound to any of userIDs.
// Index entries whose record has expired are pruned.
func (s *Store) ConnectionsOf(ctx context.Context, userIDs ...string) ([]model.Connection, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	sets := make([]*redis.StringSliceCmd, len(userIDs))
	for i, uid := range userIDs {
		sets[i] = pipe.SMembers(ctx, UserConnsPrefix+uid)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("presence: list user connections: %w", err)
	}

	type ref struct{ userID, connID string }
	var refs []ref
	for i, cmd := range sets {
		for _, connID := range cmd.Val() {
			refs = append(refs, ref{userIDs[i], connID})
		}
	}
	if len(refs) == 0 {
		return nil, nil
	}

	pipe = s.client.Pipeline()
	hashes := make([]*redis.MapStringStringCmd, len(refs))
	for i, r := range refs {
		hashes[i] = pipe.HGetAll(ctx, ConnPrefix+r.connID)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("presence: load connections: %w", err)
	}

	out := make([]model.Connection, 0, len(refs))
	stale := s.client.Pipeline()
	var staleCount int
	for i, cmd := range hashes {
		var c model.Connection
		if err := cmd.Scan(&c); err != nil || c.ID == "" || c.UserID != refs[i].userID {
			stale.SRem(ctx, UserConnsPrefix+refs[i].userID, refs[i].connID)
			staleCount++
			continue
		}
		out = append(out, c)
	}
	if staleCount > 0 {
		_, _ = stale.Exec(ctx)
	}
	return out, nil
}

// IsOnline reports whether userID has at least one live connection.
func (s *Store) IsOnline(ctx context.Context, userID string) (bool, error) {
	conns, err := s.ConnectionsOf(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(conns) > 0, nil
}

// PurgeServer removes every record written by this server instance. It is
// called on shutdown so a restarted process does not inherit ghosts.
func (s *Store) PurgeServer(ctx context.Context) (int, error) {
	var removed int
	iter := s.client.Scan(ctx, 0, ConnPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		server, err := s.client.HGet(ctx, key, "server").Result()
		if err != nil || server != s.serverName {
			continue
		}
		if err := s.Delete(ctx, key[len(ConnPrefix):]); err == nil {
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("presence: purge: %w", err)
	}
	return removed, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}

package presence

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

// newTestStore connects to a local Redis on DB 15 and flushes it. Tests
// that call this helper are skipped when Redis is not running.
func newTestStore(t *testing.T, server string) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	client.FlushDB(ctx)
	t.Cleanup(func() {
		client.FlushDB(ctx)
		client.Close()
	})
	return NewStore(client, server)
}

func TestCreateGetDelete(t *testing.T) {
	s := newTestStore(t, "srv-a")
	ctx := context.Background()

	if err := s.Create(ctx, "c1", "10.0.0.1"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	c, err := s.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if c == nil || c.IP != "10.0.0.1" || c.Server != "srv-a" || c.UserID != "" {
		t.Fatalf("unexpected record: %+v", c)
	}

	if err := s.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	c, err = s.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get() after delete error: %v", err)
	}
	if c != nil {
		t.Fatalf("expected nil after delete, got %+v", c)
	}
}

func TestBindAndConnectionsOf(t *testing.T) {
	s := newTestStore(t, "srv-a")
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		if err := s.Create(ctx, id, "1.1.1.1"); err != nil {
			t.Fatalf("Create(%s) error: %v", id, err)
		}
	}
	info := ClientInfo{OS: "linux", Browser: "firefox", Environment: "test"}
	s.Bind(ctx, "c1", "alice", info)
	s.Bind(ctx, "c2", "alice", info)
	s.Bind(ctx, "c3", "bob", info)

	conns, err := s.ConnectionsOf(ctx, "alice", "bob", "carol")
	if err != nil {
		t.Fatalf("ConnectionsOf() error: %v", err)
	}
	if len(conns) != 3 {
		t.Fatalf("expected 3 connections, got %d", len(conns))
	}

	// Rebinding c2 to bob moves it out of alice's index.
	s.Bind(ctx, "c2", "bob", info)
	conns, _ = s.ConnectionsOf(ctx, "alice")
	if len(conns) != 1 || conns[0].ID != "c1" || conns[0].Browser != "firefox" {
		t.Fatalf("unexpected alice connections: %+v", conns)
	}

	online, _ := s.IsOnline(ctx, "carol")
	if online {
		t.Error("carol should be offline")
	}
}

func TestConnectionsOfPrunesStale(t *testing.T) {
	s := newTestStore(t, "srv-a")
	ctx := context.Background()

	s.Create(ctx, "c1", "1.1.1.1")
	s.Bind(ctx, "c1", "alice", ClientInfo{})
	// Simulate an expired hash with a dangling index entry.
	s.client.Del(ctx, ConnPrefix+"c1")

	conns, err := s.ConnectionsOf(ctx, "alice")
	if err != nil {
		t.Fatalf("ConnectionsOf() error: %v", err)
	}
	if len(conns) != 0 {
		t.Fatalf("expected no connections, got %+v", conns)
	}
	if n := s.client.SCard(ctx, UserConnsPrefix+"alice").Val(); n != 0 {
		t.Errorf("expected stale index entry pruned, set size=%d", n)
	}
}

func TestPurgeServer(t *testing.T) {
	a := newTestStore(t, "srv-a")
	b := NewStore(a.client, "srv-b")
	ctx := context.Background()

	a.Create(ctx, "c1", "1.1.1.1")
	b.Create(ctx, "c2", "1.1.1.1")

	n, err := a.PurgeServer(ctx)
	if err != nil {
		t.Fatalf("PurgeServer() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged record, got %d", n)
	}
	if c, _ := b.Get(ctx, "c2"); c == nil {
		t.Fatal("other server's record must survive")
	}
}

package ban

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestStore connects to a local Redis on DB 15 and flushes it. Tests that
// call this helper are skipped when Redis is not running.
func newTestStore(t *testing.T) *Store {
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
	return NewStore(client)
}

func TestIsSealed_NotSealed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sealed, remaining, err := store.IsSealed(ctx, KindUser, "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sealed || remaining != 0 {
		t.Errorf("expected not sealed, got sealed=%v remaining=%v", sealed, remaining)
	}
}

func TestSealAndCheck(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Seal(ctx, KindUser, "u1", 30*time.Second, "rate"); err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	sealed, remaining, err := store.IsSealed(ctx, KindUser, "u1")
	if err != nil {
		t.Fatalf("IsSealed() error: %v", err)
	}
	if !sealed {
		t.Fatal("expected sealed=true")
	}
	if remaining <= 0 || remaining > 30*time.Second {
		t.Errorf("expected remaining in (0,30s], got %v", remaining)
	}

	hit, err := store.Check(ctx, "u1", "9.9.9.9")
	if err != nil || !hit {
		t.Fatalf("Check(user) = %v, %v; want true", hit, err)
	}
	hit, _ = store.Check(ctx, "u2", "9.9.9.9")
	if hit {
		t.Error("unrelated user and ip must pass")
	}
}

func TestSealTwiceConflicts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Seal(ctx, KindIP, "1.2.3.4", time.Minute, "admin"); err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	err := store.Seal(ctx, KindIP, "1.2.3.4", time.Hour, "admin")
	if !errors.Is(err, ErrAlreadySealed) {
		t.Fatalf("expected ErrAlreadySealed, got %v", err)
	}
	_, remaining, _ := store.IsSealed(ctx, KindIP, "1.2.3.4")
	if remaining > time.Minute {
		t.Errorf("second seal must not extend the first, remaining=%v", remaining)
	}

	hit, _ := store.Check(ctx, "", "1.2.3.4")
	if !hit {
		t.Error("expected ip seal to be visible through Check")
	}
}

func TestUnsealAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Seal(ctx, KindUser, "u1", time.Minute, "rate")
	store.Seal(ctx, KindIP, "5.5.5.5", time.Minute, "admin")

	seals, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(seals) != 2 {
		t.Fatalf("expected 2 seals, got %+v", seals)
	}

	if err := store.Unseal(ctx, KindUser, "u1"); err != nil {
		t.Fatalf("Unseal() error: %v", err)
	}
	seals, _ = store.List(ctx)
	if len(seals) != 1 || seals[0].Kind != KindIP || seals[0].Target != "5.5.5.5" {
		t.Fatalf("unexpected seals after unseal: %+v", seals)
	}
}

func TestMutes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state, err := store.Mutes(ctx)
	if err != nil {
		t.Fatalf("Mutes() error: %v", err)
	}
	if state.All || state.NewUsers {
		t.Fatalf("expected no mutes, got %+v", state)
	}

	store.SetMute(ctx, FlagMuteNewUsers, true)
	state, _ = store.Mutes(ctx)
	if state.All || !state.NewUsers {
		t.Fatalf("expected only new-user mute, got %+v", state)
	}

	store.SetMute(ctx, FlagMuteNewUsers, false)
	state, _ = store.Mutes(ctx)
	if state.NewUsers {
		t.Fatal("expected new-user mute cleared")
	}

	if err := store.SetMute(ctx, "flag:other", true); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestNewUserWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if isNew, _ := store.IsNewUser(ctx, "u1"); isNew {
		t.Fatal("unmarked user reported new")
	}
	store.MarkNewUser(ctx, "u1", time.Hour)
	if isNew, _ := store.IsNewUser(ctx, "u1"); !isNew {
		t.Fatal("marked user not reported new")
	}
}

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiora/chat-app/internal/apperr"
	"github.com/fiora/chat-app/internal/ban"
	"github.com/fiora/chat-app/internal/logging"
	"github.com/fiora/chat-app/internal/protocol"
	"github.com/fiora/chat-app/internal/ratelimit"
	"github.com/fiora/chat-app/internal/ws"
)

type fakeLedger struct {
	mu       sync.Mutex
	sealed   map[string]bool // "user:<id>" / "ip:<ip>"
	newUsers map[string]bool
	mutes    ban.MuteState
	seals    []string
	err      error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{sealed: make(map[string]bool), newUsers: make(map[string]bool)}
}

func (f *fakeLedger) Check(_ context.Context, userID, ip string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.sealed["user:"+userID] || f.sealed["ip:"+ip], nil
}

func (f *fakeLedger) Mutes(context.Context) (ban.MuteState, error) {
	return f.mutes, nil
}

func (f *fakeLedger) IsNewUser(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.newUsers[userID], nil
}

func (f *fakeLedger) Seal(_ context.Context, kind ban.Kind, target string, _ time.Duration, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(kind) + ":" + target
	if f.sealed[key] {
		return ban.ErrAlreadySealed
	}
	f.sealed[key] = true
	f.seals = append(f.seals, key)
	return nil
}

func okHandler(*ws.Context) (any, error) { return "ok", nil }

func call(h ws.Handler, conn *ws.Connection, event string) (any, error) {
	return h(&ws.Context{Context: context.Background(), Conn: conn, Event: event})
}

func chain(stages []ws.Middleware, h ws.Handler) ws.Handler {
	for i := len(stages) - 1; i >= 0; i-- {
		h = stages[i](h)
	}
	return h
}

func userConn(id, userID string, admin bool) *ws.Connection {
	c := &ws.Connection{ID: id, IP: "10.0.0.1"}
	if userID != "" {
		c.Bind(userID, admin)
	}
	return c
}

func TestBanCheck(t *testing.T) {
	ledger := newFakeLedger()
	ledger.sealed["ip:10.0.0.1"] = true
	h := BanCheck(ledger, logging.Nop())(okHandler)

	_, err := call(h, userConn("c1", "", false), protocol.EventLogin)
	require.Error(t, err)
	assert.Equal(t, ReasonDenied, apperr.Public(err))
	assert.Equal(t, apperr.KindDenied, apperr.KindOf(err))

	ledger.sealed = map[string]bool{"user:u1": true}
	conn := userConn("c2", "u1", false)
	conn.IP = "10.0.0.2"
	_, err = call(h, conn, protocol.EventSendMessage)
	assert.Equal(t, ReasonDenied, apperr.Public(err))

	ledger.err = errors.New("redis down")
	_, err = call(h, userConn("c3", "u2", false), protocol.EventSendMessage)
	assert.Equal(t, apperr.InternalMessage, apperr.Public(err))
}

func TestLoginRequired(t *testing.T) {
	h := LoginRequired(logging.Nop())(okHandler)

	tests := []struct {
		event  string
		userID string
		want   string
	}{
		{protocol.EventRegister, "", ""},
		{protocol.EventGuest, "", ""},
		{protocol.EventGetGroupBasicInfo, "", ""},
		{protocol.EventSendMessage, "", ReasonLogin},
		{protocol.EventJoinGroup, "", ReasonLogin},
		{protocol.EventJoinGroup, "u1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.event+"/"+tt.userID, func(t *testing.T) {
			_, err := call(h, userConn("c1", tt.userID, false), tt.event)
			assert.Equal(t, tt.want, apperr.Public(err))
		})
	}
}

func TestAdminRequired(t *testing.T) {
	h := AdminRequired(logging.Nop())(okHandler)

	_, err := call(h, userConn("c1", "u1", false), protocol.EventSealUser)
	assert.Equal(t, ReasonAdmin, apperr.Public(err))
	assert.ErrorIs(t, err, apperr.ErrPermission)

	_, err = call(h, userConn("c1", "u1", true), protocol.EventSealUser)
	assert.NoError(t, err)

	_, err = call(h, userConn("c1", "u1", false), protocol.EventSendMessage)
	assert.NoError(t, err)
}

func TestRateCheckNewUserWindow(t *testing.T) {
	ledger := newFakeLedger()
	ledger.newUsers["u1"] = true
	window := ratelimit.NewWindow()
	cfg := Config{MaxCallPerMinutes: 20, NewUserMaxCallPerMinutes: 2, SealDuration: 5 * time.Minute}
	h := RateCheck(ledger, window, cfg, logging.Nop())(okHandler)
	conn := userConn("c1", "u1", false)

	_, err := call(h, conn, protocol.EventSendMessage)
	require.NoError(t, err)
	_, err = call(h, conn, protocol.EventSendMessage)
	require.NoError(t, err)
	_, err = call(h, conn, protocol.EventSendMessage)
	assert.Equal(t, ReasonRateLimited, apperr.Public(err))
	assert.Equal(t, []string{"user:u1"}, ledger.seals)

	// Further denials do not stack seals.
	_, err = call(h, conn, protocol.EventSendMessage)
	assert.Error(t, err)
	assert.Len(t, ledger.seals, 1)

	window.Reset()
	_, err = call(h, conn, protocol.EventSendMessage)
	assert.NoError(t, err)
}

func TestRateCheckEstablishedUser(t *testing.T) {
	ledger := newFakeLedger()
	window := ratelimit.NewWindow()
	cfg := Config{MaxCallPerMinutes: 3, NewUserMaxCallPerMinutes: 1, SealDuration: time.Minute}
	h := RateCheck(ledger, window, cfg, logging.Nop())(okHandler)
	conn := userConn("c1", "u1", false)

	for i := 0; i < 3; i++ {
		_, err := call(h, conn, protocol.EventSendMessage)
		require.NoError(t, err, "call %d", i)
	}
	_, err := call(h, conn, protocol.EventSendMessage)
	assert.Error(t, err)

	// Other events are not counted.
	_, err = call(h, conn, protocol.EventJoinGroup)
	assert.NoError(t, err)
}

func TestRateCheckMutes(t *testing.T) {
	ledger := newFakeLedger()
	ledger.newUsers["fresh"] = true
	window := ratelimit.NewWindow()
	cfg := Config{MaxCallPerMinutes: 20, NewUserMaxCallPerMinutes: 5}
	h := RateCheck(ledger, window, cfg, logging.Nop())(okHandler)

	ledger.mutes = ban.MuteState{NewUsers: true}
	_, err := call(h, userConn("c1", "fresh", false), protocol.EventSendMessage)
	assert.Equal(t, ReasonNewUserMuted, apperr.Public(err))
	_, err = call(h, userConn("c2", "old", false), protocol.EventSendMessage)
	assert.NoError(t, err)

	ledger.mutes = ban.MuteState{All: true}
	_, err = call(h, userConn("c2", "old", false), protocol.EventSendMessage)
	assert.Equal(t, ReasonMuted, apperr.Public(err))
	_, err = call(h, userConn("c3", "root", true), protocol.EventSendMessage)
	assert.NoError(t, err)
}

func TestStagesOrder(t *testing.T) {
	ledger := newFakeLedger()
	ledger.sealed["ip:10.0.0.1"] = true
	h := chain(Stages(ledger, ratelimit.NewWindow(), Config{MaxCallPerMinutes: 1}, logging.Nop()), okHandler)

	// The ban stage answers before the login stage.
	_, err := call(h, userConn("c1", "", false), protocol.EventSendMessage)
	assert.Equal(t, ReasonDenied, apperr.Public(err))

	ledger.sealed = map[string]bool{}
	_, err = call(h, userConn("c1", "", false), protocol.EventSealUser)
	assert.Equal(t, ReasonLogin, apperr.Public(err))

	_, err = call(h, userConn("c1", "u1", false), protocol.EventSealUser)
	assert.Equal(t, ReasonAdmin, apperr.Public(err))

	out, err := call(h, userConn("c1", "u1", false), protocol.EventSendMessage)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

package hub

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiora/chat-app/internal/logging"
	"github.com/fiora/chat-app/internal/model"
)

type recordSender struct {
	mu   sync.Mutex
	sent map[string][]string
}

func newRecordSender() *recordSender {
	return &recordSender{sent: make(map[string][]string)}
}

func (r *recordSender) SendMessage(connID string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var frame struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(data, &frame)
	r.sent[connID] = append(r.sent[connID], frame.Type)
	return nil
}

func (r *recordSender) events(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[connID]
}

// memBus delivers synchronously to every matching subscriber. A trailing
// "*" token matches any single token.
type memBus struct {
	mu   sync.Mutex
	subs map[string][]func(*nats.Msg)
}

func newMemBus() *memBus { return &memBus{subs: make(map[string][]func(*nats.Msg))} }

func (b *memBus) Subscribe(subject string, handler func(*nats.Msg)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[subject] = append(b.subs[subject], handler)
	return nil
}

func (b *memBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	var targets []func(*nats.Msg)
	for pattern, hs := range b.subs {
		if pattern == subject || (strings.HasSuffix(pattern, ".*") && strings.HasPrefix(subject, strings.TrimSuffix(pattern, "*"))) {
			targets = append(targets, hs...)
		}
	}
	b.mu.Unlock()
	for _, h := range targets {
		h(&nats.Msg{Subject: subject, Data: data})
	}
	return nil
}

func TestJoinLeaveDrop(t *testing.T) {
	h := New("s1", newRecordSender(), nil, logging.Nop())

	h.Join("c1", "g1")
	h.Join("c1", "g2")
	h.Join("c2", "g1")
	assert.ElementsMatch(t, []string{"c1", "c2"}, h.Members("g1"))
	assert.ElementsMatch(t, []string{"g1", "g2"}, h.RoomsOf("c1"))

	h.Leave("c2", "g1")
	assert.Equal(t, []string{"c1"}, h.Members("g1"))

	h.Drop("c1")
	assert.Empty(t, h.Members("g1"))
	assert.Empty(t, h.Members("g2"))
	assert.Empty(t, h.RoomsOf("c1"))
}

func TestEmitToRoomStandalone(t *testing.T) {
	sender := newRecordSender()
	h := New("s1", sender, nil, logging.Nop())
	h.Join("c1", "g1")
	h.Join("c2", "g2")

	require.NoError(t, h.EmitToRoom(context.Background(), "g1", "message", map[string]string{"a": "b"}))

	assert.Equal(t, []string{"message"}, sender.events("c1"))
	assert.Empty(t, sender.events("c2"))
}

func TestCrossProcessFanout(t *testing.T) {
	bus := newMemBus()
	sendA, sendB := newRecordSender(), newRecordSender()
	a := New("a", sendA, bus, logging.Nop())
	b := New("b", sendB, bus, logging.Nop())
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	ctx := context.Background()

	conns := []model.Connection{
		{ID: "a1", Server: "a"},
		{ID: "b1", Server: "b"},
		{ID: "b1", Server: "b"},
	}

	// a joins a remote connection to the room through b.
	require.NoError(t, a.JoinConnections(ctx, conns, "g1"))
	assert.Equal(t, []string{"a1"}, a.Members("g1"))
	assert.Equal(t, []string{"b1"}, b.Members("g1"))

	require.NoError(t, a.EmitToRoom(ctx, "g1", "message", nil))
	assert.Equal(t, []string{"message"}, sendA.events("a1"))
	assert.Equal(t, []string{"message"}, sendB.events("b1"))

	require.NoError(t, b.EmitToConnections(ctx, conns, "typing", nil))
	assert.Equal(t, []string{"message", "typing"}, sendA.events("a1"))
	assert.Equal(t, []string{"message", "typing"}, sendB.events("b1"))

	require.NoError(t, a.LeaveConnections(ctx, conns, "g1"))
	assert.Empty(t, a.Members("g1"))
	assert.Empty(t, b.Members("g1"))
}

func TestHandleRemoteIgnoresOwnOrigin(t *testing.T) {
	sender := newRecordSender()
	h := New("s1", sender, nil, logging.Nop())
	h.Join("c1", "g1")

	env, _ := json.Marshal(Envelope{Kind: KindEmit, Origin: "s1", Room: "g1", Frame: json.RawMessage(`{"type":"x"}`)})
	h.HandleRemote(env)
	assert.Empty(t, sender.events("c1"))

	env, _ = json.Marshal(Envelope{Kind: KindEmit, Origin: "s2", Room: "g1", Frame: json.RawMessage(`{"type":"x"}`)})
	h.HandleRemote(env)
	assert.Equal(t, []string{"x"}, sender.events("c1"))

	h.HandleRemote([]byte("not json"))
}

// Package chattest provides in-process fakes of the transport and presence
// collaborators for engine tests.
package chattest

import (
	"context"
	"sort"
	"sync"

	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/presence"
)

// Emit is one recorded push.
type Emit struct {
	Room    string   // set for room emits
	ConnIDs []string // set for connection emits
	Event   string
	Payload any
}

// Transport records room changes and emits.
type Transport struct {
	mu    sync.Mutex
	rooms map[string]map[string]bool
	emits []Emit
}

// NewTransport returns an empty Transport.
func NewTransport() *Transport {
	return &Transport{rooms: make(map[string]map[string]bool)}
}

func (t *Transport) JoinConnections(_ context.Context, conns []model.Connection, room string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rooms[room] == nil {
		t.rooms[room] = make(map[string]bool)
	}
	for _, c := range conns {
		t.rooms[room][c.ID] = true
	}
	return nil
}

func (t *Transport) LeaveConnections(_ context.Context, conns []model.Connection, room string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range conns {
		delete(t.rooms[room], c.ID)
	}
	return nil
}

func (t *Transport) EmitToRoom(_ context.Context, room, event string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emits = append(t.emits, Emit{Room: room, Event: event, Payload: payload})
	return nil
}

func (t *Transport) EmitToConnections(_ context.Context, conns []model.Connection, event string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)
	t.emits = append(t.emits, Emit{ConnIDs: ids, Event: event, Payload: payload})
	return nil
}

// InRoom returns the sorted connection ids joined to room.
func (t *Transport) InRoom(room string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.rooms[room]))
	for id := range t.rooms[room] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Emits returns the recorded pushes of event, in order.
func (t *Transport) Emits(event string) []Emit {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Emit
	for _, e := range t.emits {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets recorded emits.
func (t *Transport) Reset() {
	t.mu.Lock()
	t.emits = nil
	t.mu.Unlock()
}

// Presence maps users to connections in memory.
type Presence struct {
	mu    sync.Mutex
	conns map[string]model.Connection
}

// NewPresence returns an empty Presence.
func NewPresence() *Presence {
	return &Presence{conns: make(map[string]model.Connection)}
}

// Connect registers a bound connection. UpdatedAt orders connections of
// the same user.
func (p *Presence) Connect(c model.Connection) {
	p.mu.Lock()
	p.conns[c.ID] = c
	p.mu.Unlock()
}

// Disconnect drops a connection.
func (p *Presence) Disconnect(connID string) {
	p.mu.Lock()
	delete(p.conns, connID)
	p.mu.Unlock()
}

// Bind attaches userID and client metadata to connID, creating the record
// when it does not exist.
func (p *Presence) Bind(_ context.Context, connID, userID string, info presence.ClientInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.conns[connID]
	c.ID = connID
	c.UserID = userID
	c.OS, c.Browser, c.Environment = info.OS, info.Browser, info.Environment
	c.UpdatedAt++
	p.conns[connID] = c
	return nil
}

// Get returns the record of connID, or nil.
func (p *Presence) Get(_ context.Context, connID string) (*model.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[connID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// ConnectionsOf returns the connections bound to any of userIDs, sorted by id.
func (p *Presence) ConnectionsOf(_ context.Context, userIDs ...string) ([]model.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	want := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		want[id] = true
	}
	var out []model.Connection
	for _, c := range p.conns {
		if c.UserID != "" && want[c.UserID] {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Package hub is the room-multicast layer of the transport. It keeps the
// process-local table of which connection sits in which room and relays
// emits to other server processes over NATS:
//
//	rooms.<room>      emit to every member of a room, on every process
//	deliver.<server>  emit/join/leave for named connections on one process
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/fiora/chat-app/internal/messaging"
	"github.com/fiora/chat-app/internal/metrics"
	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/protocol"
)

// Sender writes a frame to a local connection.
type Sender interface {
	SendMessage(connID string, data []byte) error
}

// Bus is the cross-process transport. nil runs the hub standalone.
type Bus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(msg *nats.Msg)) error
}

// Envelope kinds.
const (
	KindEmit  = "emit"
	KindJoin  = "join"
	KindLeave = "leave"
)

// Envelope is the inter-process message.
type Envelope struct {
	Kind    string          `json:"kind"`
	Origin  string          `json:"origin"`
	Room    string          `json:"room,omitempty"`
	ConnIDs []string        `json:"connIds,omitempty"`
	Frame   json.RawMessage `json:"frame,omitempty"`
}

// Hub tracks room membership of local connections.
type Hub struct {
	server string
	sender Sender
	bus    Bus
	log    zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]map[string]struct{} // room -> conn ids
	conns map[string]map[string]struct{} // conn id -> rooms
}

// New creates a hub for the named server process.
func New(server string, sender Sender, bus Bus, log zerolog.Logger) *Hub {
	return &Hub{
		server: server,
		sender: sender,
		bus:    bus,
		log:    log,
		rooms:  make(map[string]map[string]struct{}),
		conns:  make(map[string]map[string]struct{}),
	}
}

// Start subscribes to room emits and to commands addressed to this process.
func (h *Hub) Start() error {
	if h.bus == nil {
		return nil
	}
	if err := h.bus.Subscribe(messaging.SubjectRooms+".*", func(msg *nats.Msg) {
		h.HandleRemote(msg.Data)
	}); err != nil {
		return err
	}
	return h.bus.Subscribe(messaging.DeliverSubject(h.server), func(msg *nats.Msg) {
		h.HandleRemote(msg.Data)
	})
}

// Join adds a local connection to room.
func (h *Hub) Join(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[connID] = struct{}{}

	joined, ok := h.conns[connID]
	if !ok {
		joined = make(map[string]struct{})
		h.conns[connID] = joined
	}
	joined[room] = struct{}{}
}

// Leave removes a local connection from room.
func (h *Hub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID, room)
}

func (h *Hub) leaveLocked(connID, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if joined, ok := h.conns[connID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(h.conns, connID)
		}
	}
}

// Drop removes a local connection from every room it joined.
func (h *Hub) Drop(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.conns[connID] {
		h.leaveLocked(connID, room)
	}
}

// Members returns the local connection ids in room.
func (h *Hub) Members(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		out = append(out, id)
	}
	return out
}

// RoomsOf returns the rooms a local connection joined.
func (h *Hub) RoomsOf(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.conns[connID]))
	for room := range h.conns[connID] {
		out = append(out, room)
	}
	return out
}

// JoinConnections adds every listed connection to room, wherever it lives.
func (h *Hub) JoinConnections(ctx context.Context, conns []model.Connection, room string) error {
	return h.control(ctx, KindJoin, conns, room)
}

// LeaveConnections removes every listed connection from room.
func (h *Hub) LeaveConnections(ctx context.Context, conns []model.Connection, room string) error {
	return h.control(ctx, KindLeave, conns, room)
}

func (h *Hub) control(_ context.Context, kind string, conns []model.Connection, room string) error {
	local, remote := h.partition(conns)
	for _, id := range local {
		if kind == KindJoin {
			h.Join(id, room)
		} else {
			h.Leave(id, room)
		}
	}
	for server, ids := range remote {
		if err := h.publish(messaging.DeliverSubject(server), Envelope{Kind: kind, Room: room, ConnIDs: ids}); err != nil {
			return err
		}
	}
	return nil
}

// EmitToRoom pushes event to every connection in room on every process.
func (h *Hub) EmitToRoom(_ context.Context, room, event string, payload any) error {
	frame, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		return err
	}
	h.deliverRoom(room, frame)
	metrics.FanoutTotal.WithLabelValues("room").Inc()
	return h.publish(messaging.RoomSubject(room), Envelope{Kind: KindEmit, Room: room, Frame: frame})
}

// EmitToConnections pushes event to the listed connections.
func (h *Hub) EmitToConnections(_ context.Context, conns []model.Connection, event string, payload any) error {
	if len(conns) == 0 {
		return nil
	}
	frame, err := protocol.NewServerMessage(event, payload)
	if err != nil {
		return err
	}
	local, remote := h.partition(conns)
	h.deliver(local, frame)
	metrics.FanoutTotal.WithLabelValues("direct").Inc()
	for server, ids := range remote {
		if err := h.publish(messaging.DeliverSubject(server), Envelope{Kind: KindEmit, ConnIDs: ids, Frame: frame}); err != nil {
			return err
		}
	}
	return nil
}

// HandleRemote applies an envelope received from another process.
func (h *Hub) HandleRemote(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.log.Warn().Err(err).Msg("invalid hub envelope")
		return
	}
	if env.Origin == h.server {
		return
	}
	metrics.FanoutTotal.WithLabelValues("remote").Inc()

	switch env.Kind {
	case KindEmit:
		if len(env.ConnIDs) > 0 {
			h.deliver(env.ConnIDs, env.Frame)
		} else if env.Room != "" {
			h.deliverRoom(env.Room, env.Frame)
		}
	case KindJoin:
		for _, id := range env.ConnIDs {
			h.Join(id, env.Room)
		}
	case KindLeave:
		for _, id := range env.ConnIDs {
			h.Leave(id, env.Room)
		}
	default:
		h.log.Warn().Str("kind", env.Kind).Msg("unknown hub envelope kind")
	}
}

func (h *Hub) deliverRoom(room string, frame []byte) {
	h.deliver(h.Members(room), frame)
}

func (h *Hub) deliver(connIDs []string, frame []byte) {
	for _, id := range connIDs {
		if err := h.sender.SendMessage(id, frame); err != nil {
			h.log.Debug().Err(err).Str("conn", id).Msg("deliver failed")
		}
	}
}

// partition splits conns into local ids and remote ids grouped by server.
// Duplicates are collapsed.
func (h *Hub) partition(conns []model.Connection) ([]string, map[string][]string) {
	seen := make(map[string]struct{}, len(conns))
	var local []string
	remote := make(map[string][]string)
	for _, c := range conns {
		if _, dup := seen[c.ID]; dup || c.ID == "" {
			continue
		}
		seen[c.ID] = struct{}{}
		if c.Server == h.server || c.Server == "" || h.bus == nil {
			local = append(local, c.ID)
			continue
		}
		remote[c.Server] = append(remote[c.Server], c.ID)
	}
	return local, remote
}

func (h *Hub) publish(subject string, env Envelope) error {
	if h.bus == nil {
		return nil
	}
	env.Origin = h.server
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("hub: marshal envelope: %w", err)
	}
	if err := h.bus.Publish(subject, data); err != nil {
		return fmt.Errorf("hub: publish %s: %w", subject, err)
	}
	return nil
}

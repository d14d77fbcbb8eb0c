// Package handler binds every inbound event to the engine that serves it.
package handler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fiora/chat-app/internal/ban"
	"github.com/fiora/chat-app/internal/chat"
	"github.com/fiora/chat-app/internal/identity"
	"github.com/fiora/chat-app/internal/membership"
	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/roster"
	"github.com/fiora/chat-app/internal/store"
	"github.com/fiora/chat-app/internal/ws"
)

// AdminLedger is the part of the ban ledger administrators drive.
type AdminLedger interface {
	Seal(ctx context.Context, kind ban.Kind, target string, duration time.Duration, reason string) error
	List(ctx context.Context) ([]ban.Seal, error)
	SetMute(ctx context.Context, flag string, muted bool) error
}

// Presence resolves users to their live connections.
type Presence interface {
	ConnectionsOf(ctx context.Context, userIDs ...string) ([]model.Connection, error)
}

// Rooms forgets the room memberships of a closed connection.
type Rooms interface {
	Drop(connID string)
}

// Counter forgets the call count of a closed connection.
type Counter interface {
	Forget(connID string)
}

// Deps are the collaborators of Handlers.
type Deps struct {
	Store      *store.Store
	Identity   *identity.Service
	Membership *membership.Engine
	Chat       *chat.Engine
	Roster     *roster.Service
	Ledger     AdminLedger
	Presence   Presence
	Rooms      Rooms
	Counter    Counter

	AdminSealDuration time.Duration
}

// Handlers serves the event surface.
type Handlers struct {
	Deps
	log zerolog.Logger
}

// New creates Handlers.
func New(deps Deps, log zerolog.Logger) *Handlers {
	if deps.AdminSealDuration <= 0 {
		deps.AdminSealDuration = 10 * time.Minute
	}
	return &Handlers{Deps: deps, log: log}
}

// Register installs every event handler on d.
func (h *Handlers) Register(d *ws.MessageDispatcher) {
	h.registerIdentity(d)
	h.registerMembership(d)
	h.registerMessaging(d)
	h.registerPresence(d)
	h.registerAdmin(d)
}

// OnDisconnect releases the process-local state of a closed connection.
// The Presence Store record is removed by the server itself.
func (h *Handlers) OnDisconnect(conn *ws.Connection) {
	if h.Rooms != nil {
		h.Rooms.Drop(conn.ID)
	}
	if h.Counter != nil {
		h.Counter.Forget(conn.ID)
	}
	h.log.Debug().Str("conn", conn.ID).Str("user", conn.UserID()).Msg("connection closed")
}

func memberActor(c *ws.Context) membership.Actor {
	return membership.Actor{UserID: c.Conn.UserID(), IsAdmin: c.Conn.IsAdmin()}
}

func chatActor(c *ws.Context) chat.Actor {
	return chat.Actor{UserID: c.Conn.UserID(), IsAdmin: c.Conn.IsAdmin(), ConnID: c.Conn.ID}
}

// bind decodes the payload into a fresh T.
func bind[T any](c *ws.Context) (T, error) {
	var v T
	err := c.Bind(&v)
	return v, err
}

// ok is the result of events with nothing to return.
var ok = struct{}{}

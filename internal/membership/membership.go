// Package membership is the Membership & Role Engine. It owns every write to
// Group, Channel and Community membership, including the writes that keep a
// Group or Channel and its parent Community pointing at each other.
package membership

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/fiora/chat-app/internal/apperr"
	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/store"
)

// Transport is the room-multicast surface the engine notifies through.
type Transport interface {
	JoinConnections(ctx context.Context, conns []model.Connection, room string) error
	LeaveConnections(ctx context.Context, conns []model.Connection, room string) error
	EmitToRoom(ctx context.Context, room, event string, payload any) error
	EmitToConnections(ctx context.Context, conns []model.Connection, event string, payload any) error
}

// Presence resolves users to their live connections.
type Presence interface {
	ConnectionsOf(ctx context.Context, userIDs ...string) ([]model.Connection, error)
}

// Actor is the caller of an operation.
type Actor struct {
	UserID  string
	IsAdmin bool // configured system administrator
}

// Config bounds entity sizes.
type Config struct {
	CommunityGroupLimit int
	MaxNameLength       int
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{CommunityGroupLimit: 10, MaxNameLength: 32}
}

// Engine implements the membership operations.
type Engine struct {
	store     *store.Store
	presence  Presence
	transport Transport
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time
}

// New creates an Engine.
func New(st *store.Store, presence Presence, transport Transport, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		store:     st,
		presence:  presence,
		transport: transport,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

func (e *Engine) validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Validation("name must not be empty")
	}
	if e.cfg.MaxNameLength > 0 && utf8.RuneCountInString(name) > e.cfg.MaxNameLength {
		return "", apperr.Validation("name must be at most %d characters", e.cfg.MaxNameLength)
	}
	return name, nil
}

// notFound maps store.ErrNotFound to a not-found error with msg and passes
// anything else through.
func notFound(err error, msg string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(msg)
	}
	return err
}

func (e *Engine) group(ctx context.Context, id string) (*model.Group, error) {
	g, err := e.store.Groups.Get(ctx, id)
	if err != nil {
		return nil, notFound(err, "group does not exist")
	}
	return g, nil
}

func (e *Engine) channel(ctx context.Context, id string) (*model.Channel, error) {
	c, err := e.store.Channels.Get(ctx, id)
	if err != nil {
		return nil, notFound(err, "channel does not exist")
	}
	return c, nil
}

func (e *Engine) community(ctx context.Context, id string) (*model.Community, error) {
	c, err := e.store.Communities.Get(ctx, id)
	if err != nil {
		return nil, notFound(err, "community does not exist")
	}
	return c, nil
}

// groupNameFree rejects a taken group name before any write.
func (e *Engine) groupNameFree(ctx context.Context, name string) error {
	_, err := e.store.Groups.GetByName(ctx, name)
	switch {
	case err == nil:
		return apperr.Conflict("group name already exists")
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return err
	}
}

func (e *Engine) channelNameFree(ctx context.Context, name string) error {
	_, err := e.store.Channels.GetByName(ctx, name)
	switch {
	case err == nil:
		return apperr.Conflict("channel name already exists")
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return err
	}
}

func (e *Engine) communityNameFree(ctx context.Context, name string) error {
	_, err := e.store.Communities.GetByName(ctx, name)
	switch {
	case err == nil:
		return apperr.Conflict("community name already exists")
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return err
	}
}

// duplicate maps a unique violation that slipped past the pre-check.
func duplicate(err error, msg string) error {
	if errors.Is(err, store.ErrDuplicate) {
		return apperr.Conflict(msg)
	}
	return err
}

// connections returns the live connections of userIDs. Presence failures
// are logged; the membership write they follow has already happened.
func (e *Engine) connections(ctx context.Context, userIDs ...string) []model.Connection {
	if len(userIDs) == 0 {
		return nil
	}
	conns, err := e.presence.ConnectionsOf(ctx, userIDs...)
	if err != nil {
		e.log.Error().Err(err).Msg("presence lookup failed")
		return nil
	}
	return conns
}

func (e *Engine) joinRoom(ctx context.Context, room string, userIDs ...string) {
	if err := e.transport.JoinConnections(ctx, e.connections(ctx, userIDs...), room); err != nil {
		e.log.Error().Err(err).Str("room", room).Msg("join room failed")
	}
}

func (e *Engine) leaveRoom(ctx context.Context, room string, userIDs ...string) {
	if err := e.transport.LeaveConnections(ctx, e.connections(ctx, userIDs...), room); err != nil {
		e.log.Error().Err(err).Str("room", room).Msg("leave room failed")
	}
}

func (e *Engine) emitRoom(ctx context.Context, room, event string, payload any) {
	if err := e.transport.EmitToRoom(ctx, room, event, payload); err != nil {
		e.log.Error().Err(err).Str("room", room).Str("event", event).Msg("emit failed")
	}
}

func (e *Engine) emitUsers(ctx context.Context, userIDs []string, event string, payload any) {
	if err := e.transport.EmitToConnections(ctx, e.connections(ctx, userIDs...), event, payload); err != nil {
		e.log.Error().Err(err).Str("event", event).Msg("emit failed")
	}
}

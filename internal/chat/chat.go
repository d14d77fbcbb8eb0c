// Package chat is the Message Fan-out Engine. It resolves the target of
// every outbound message, persists it, and delivers it to live connections
// and offline notification tokens.
package chat

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/fiora/chat-app/internal/apperr"
	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/notify"
	"github.com/fiora/chat-app/internal/store"
)

// Transport is the delivery surface of the engine.
type Transport interface {
	EmitToRoom(ctx context.Context, room, event string, payload any) error
	EmitToConnections(ctx context.Context, conns []model.Connection, event string, payload any) error
}

// Presence resolves users to their live connections.
type Presence interface {
	ConnectionsOf(ctx context.Context, userIDs ...string) ([]model.Connection, error)
}

// Pusher delivers notifications to offline devices.
type Pusher interface {
	Send(ctx context.Context, msgs []notify.Message) ([]notify.Result, error)
}

// Actor is the caller of an operation.
type Actor struct {
	UserID  string
	IsAdmin bool
	ConnID  string // connection the call arrived on
}

// Config bounds message content and history pages.
type Config struct {
	MaxTextLength      int
	MaxFileSize        int64
	RollDefault        int
	RollMax            int
	HistoryPageSize    int
	UnreadCap          int
	DefaultGroupBuffer int
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		MaxTextLength:      2048,
		MaxFileSize:        100 * 1024 * 1024,
		RollDefault:        100,
		RollMax:            99999,
		HistoryPageSize:    15,
		UnreadCap:          99,
		DefaultGroupBuffer: 50,
	}
}

// Engine implements the messaging operations.
type Engine struct {
	store     *store.Store
	presence  Presence
	transport Transport
	pusher    Pusher
	buffer    *MessageBuffer
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time
	intn      func(n int) int
}

// New creates an Engine. pusher may be nil, in which case offline
// recipients are not notified.
func New(st *store.Store, presence Presence, transport Transport, pusher Pusher, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		store:     st,
		presence:  presence,
		transport: transport,
		pusher:    pusher,
		buffer:    NewMessageBuffer(cfg.DefaultGroupBuffer),
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		intn:      rand.Intn,
	}
}

type targetKind int

const (
	targetGroup targetKind = iota
	targetChannel
	targetDirect
)

// target is a resolved linkman.
type target struct {
	kind    targetKind
	id      string // routing token messages are stored under
	group   *model.Group
	channel *model.Channel
	peer    string // direct counterpart
}

// resolve maps a routing token to a Group, a Channel or a direct
// conversation of self, in that order.
func (e *Engine) resolve(ctx context.Context, self, to string) (*target, error) {
	g, err := e.store.Groups.Get(ctx, to)
	if err == nil {
		return &target{kind: targetGroup, id: to, group: g}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	c, err := e.store.Channels.Get(ctx, to)
	if err == nil {
		return &target{kind: targetChannel, id: to, channel: c}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	peer, ok := model.Counterpart(to, self)
	if !ok || peer == self {
		return nil, apperr.NotFound("target does not exist")
	}
	if _, err := e.store.Users.Get(ctx, peer); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("target does not exist")
		}
		return nil, err
	}
	return &target{kind: targetDirect, id: model.DirectID(self, peer), peer: peer}, nil
}

// audience returns the user ids a message on t is addressed to.
func (t *target) audience(self string) []string {
	switch t.kind {
	case targetGroup:
		return t.group.Members
	case targetChannel:
		return append([]string{t.channel.Creator}, t.channel.Subscribers...)
	default:
		return []string{self, t.peer}
	}
}

// canRead reports whether userID belongs to the audience of t.
func (t *target) canRead(userID string) bool {
	switch t.kind {
	case targetGroup:
		return t.group.HasMember(userID)
	case targetChannel:
		return t.channel.Creator == userID || t.channel.HasSubscriber(userID)
	default:
		return true
	}
}

// linkmanOf returns the id messages for linkman are stored under, as seen
// by userID. Anyone may read a Group or Channel. A direct token is accepted
// in either order but only from one of its two distinct participants, and
// maps to the canonical DirectID.
func linkmanOf(userID, linkman string) (string, bool) {
	if !model.IsDirect(linkman) {
		return linkman, true
	}
	peer, ok := model.Counterpart(linkman, userID)
	if !ok || peer == userID {
		return "", false
	}
	return model.DirectID(userID, peer), true
}

// Sender is the author block embedded in every message view.
type Sender struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Tag      string `json:"tag"`
}

// MessageView is a Message as returned to clients.
type MessageView struct {
	ID        string            `json:"_id"`
	From      Sender            `json:"from"`
	To        string            `json:"to"`
	Type      model.MessageType `json:"type"`
	Content   string            `json:"content"`
	CreatedAt time.Time         `json:"createTime"`
	Deleted   bool              `json:"deleted,omitempty"`
}

// views joins msgs with their authors. Soft-deleted messages keep their
// slot but lose their content.
func (e *Engine) views(ctx context.Context, msgs []*model.Message) ([]MessageView, error) {
	out := make([]MessageView, 0, len(msgs))
	if len(msgs) == 0 {
		return out, nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, m := range msgs {
		if !seen[m.From] {
			seen[m.From] = true
			ids = append(ids, m.From)
		}
	}
	users, err := e.store.Users.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	for _, m := range msgs {
		out = append(out, view(m, byID[m.From]))
	}
	return out, nil
}

func view(m *model.Message, u *model.User) MessageView {
	v := MessageView{
		ID:        m.ID,
		From:      Sender{ID: m.From},
		To:        m.To,
		Type:      m.Type,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		Deleted:   m.Deleted,
	}
	if u != nil {
		v.From = Sender{ID: u.ID, Username: u.Username, Avatar: u.Avatar, Tag: u.Tag}
	}
	if m.Deleted {
		v.Content = ""
	}
	return v
}

func (e *Engine) message(ctx context.Context, id string) (*model.Message, error) {
	m, err := e.store.Messages.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("message does not exist")
	}
	return m, err
}

// connections returns the live connections of userIDs. Presence failures
// are logged; delivery is best effort once the message is stored.
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

func (e *Engine) emitRoom(ctx context.Context, room, event string, payload any) {
	if err := e.transport.EmitToRoom(ctx, room, event, payload); err != nil {
		e.log.Error().Err(err).Str("room", room).Str("event", event).Msg("emit failed")
	}
}

func (e *Engine) emitConns(ctx context.Context, conns []model.Connection, event string, payload any) {
	if len(conns) == 0 {
		return
	}
	if err := e.transport.EmitToConnections(ctx, conns, event, payload); err != nil {
		e.log.Error().Err(err).Str("event", event).Msg("emit failed")
	}
}

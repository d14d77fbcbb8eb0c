package chat

import (
	"context"
	"unicode/utf8"

	"github.com/fiora/chat-app/internal/apperr"
	"github.com/fiora/chat-app/internal/metrics"
	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/notify"
	"github.com/fiora/chat-app/internal/protocol"
)

// previewLength caps the body of an offline notification.
const previewLength = 80

// SendMessage stores a message to `to` and delivers it.
func (e *Engine) SendMessage(ctx context.Context, actor Actor, to string, typ model.MessageType, content string) (*MessageView, error) {
	if to == "" {
		return nil, apperr.Validation("target is required")
	}
	if typ == "" {
		typ = model.MessageText
	}
	if typ == model.MessageSystem || !typ.Valid() {
		return nil, apperr.Validation("unsupported message type")
	}

	t, err := e.resolve(ctx, actor.UserID, to)
	if err != nil {
		return nil, err
	}
	switch t.kind {
	case targetGroup:
		if !t.group.HasMember(actor.UserID) {
			return nil, apperr.Permission("you are not a member of this group")
		}
	case targetChannel:
		if t.channel.Creator != actor.UserID {
			return nil, apperr.Permission("only the channel creator can post")
		}
	}

	typ, content, err = e.normalize(ctx, actor.UserID, typ, content)
	if err != nil {
		return nil, err
	}

	m := &model.Message{
		From:        actor.UserID,
		To:          t.id,
		Type:        typ,
		Content:     content,
		CreatedAt:   e.now(),
		DeliveredTo: []string{},
		ReadBy:      []string{},
	}
	if err := e.store.Messages.Create(ctx, m); err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues(string(m.Type)).Inc()

	sender, err := e.store.Users.Get(ctx, actor.UserID)
	if err != nil {
		e.log.Warn().Err(err).Str("user", actor.UserID).Msg("sender lookup failed")
	}
	v := view(m, sender)

	e.deliver(ctx, actor, t, m, &v, sender)

	if t.kind == targetGroup && t.group.IsDefault {
		e.buffer.Add(t.id, m)
	}

	// Only the sender has certainly seen m. Other participants move their own
	// pointer through read receipts or updateHistory, or they would never
	// have unread messages.
	if err := e.store.Histories.Upsert(ctx, &model.History{
		UserID:    actor.UserID,
		LinkmanID: t.id,
		MessageID: m.ID,
		UpdatedAt: m.CreatedAt,
	}); err != nil {
		e.log.Error().Err(err).Str("user", actor.UserID).Str("linkman", t.id).Msg("history update failed")
	}
	return &v, nil
}

// deliver pushes v to the live audience of t and notifies audience members
// without a live connection.
func (e *Engine) deliver(ctx context.Context, actor Actor, t *target, m *model.Message, v *MessageView, sender *model.User) {
	switch t.kind {
	case targetGroup, targetChannel:
		e.emitRoom(ctx, t.id, protocol.PushMessage, v)
		metrics.FanoutTotal.WithLabelValues("room").Inc()

		members := t.audience(actor.UserID)
		online := make(map[string]bool)
		for _, c := range e.connections(ctx, members...) {
			online[c.UserID] = true
		}
		var offline []string
		for _, id := range members {
			if id != actor.UserID && !online[id] {
				offline = append(offline, id)
			}
		}
		e.push(ctx, offline, e.title(t, sender), m)

	case targetDirect:
		var conns []model.Connection
		peerOnline := false
		for _, c := range e.connections(ctx, t.peer, actor.UserID) {
			if c.ID == actor.ConnID {
				continue
			}
			if c.UserID == t.peer {
				peerOnline = true
			}
			conns = append(conns, c)
		}
		e.emitConns(ctx, conns, protocol.PushMessage, v)
		metrics.FanoutTotal.WithLabelValues("direct").Inc()
		if !peerOnline {
			e.push(ctx, []string{t.peer}, e.title(t, sender), m)
		}
	}
}

func (e *Engine) title(t *target, sender *model.User) string {
	switch t.kind {
	case targetGroup:
		return t.group.Name
	case targetChannel:
		return t.channel.Name
	}
	if sender != nil {
		return sender.Username
	}
	return "New message"
}

// push notifies the tokens of userIDs. Failures are logged and never
// surface to the sender.
func (e *Engine) push(ctx context.Context, userIDs []string, title string, m *model.Message) {
	if e.pusher == nil || len(userIDs) == 0 {
		return
	}
	tokens, err := e.store.NotificationTokens.ListByUsers(ctx, userIDs)
	if err != nil {
		e.log.Error().Err(err).Msg("notification token lookup failed")
		return
	}
	if len(tokens) == 0 {
		return
	}
	body := preview(m)
	batch := make([]notify.Message, 0, len(tokens))
	for _, tok := range tokens {
		batch = append(batch, notify.Message{
			Token: tok.Token,
			Title: title,
			Body:  body,
			Data:  map[string]string{"linkmanId": m.To, "messageId": m.ID},
		})
	}
	if _, err := e.pusher.Send(ctx, batch); err != nil {
		e.log.Warn().Err(err).Int("tokens", len(batch)).Msg("offline push failed")
		return
	}
	metrics.FanoutTotal.WithLabelValues("push").Inc()
}

func preview(m *model.Message) string {
	switch m.Type {
	case model.MessageText:
		if utf8.RuneCountInString(m.Content) <= previewLength {
			return m.Content
		}
		return string([]rune(m.Content)[:previewLength]) + "..."
	case model.MessageImage:
		return "[image]"
	case model.MessageFile:
		return "[file]"
	case model.MessageCode:
		return "[code]"
	case model.MessageInvite:
		return "[invite]"
	}
	return "[message]"
}

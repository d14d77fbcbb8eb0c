package chat

import (
	"context"
	"errors"

	"github.com/fiora/chat-app/internal/apperr"
	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/protocol"
	"github.com/fiora/chat-app/internal/store"
)

// ReadStatus lists who received and who read a message.
type ReadStatus struct {
	MessageID   string   `json:"messageId"`
	DeliveredTo []string `json:"deliveredTo"`
	ReadBy      []string `json:"readBy"`
}

// readableMessage loads a message and checks that actor is in its audience.
func (e *Engine) readableMessage(ctx context.Context, actor Actor, id string) (*model.Message, *target, error) {
	m, err := e.message(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	t, err := e.resolve(ctx, actor.UserID, m.To)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, nil, apperr.Permission("you cannot access this message")
		}
		return nil, nil, err
	}
	if !t.canRead(actor.UserID) {
		return nil, nil, apperr.Permission("you cannot access this message")
	}
	return m, t, nil
}

// SendReadReceipt records that actor read a message and moves actor's
// last-read pointer forward to it. Repeated calls change nothing.
func (e *Engine) SendReadReceipt(ctx context.Context, actor Actor, messageID string) error {
	m, _, err := e.readableMessage(ctx, actor, messageID)
	if err != nil {
		return err
	}
	if m.From == actor.UserID {
		return nil
	}
	changed, err := e.store.Messages.AddReceipt(ctx, m.ID, actor.UserID, store.ReceiptRead)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	e.advanceHistory(ctx, actor.UserID, m)
	e.emitConns(ctx, e.connections(ctx, m.From), protocol.PushReadReceipt, protocol.ReceiptPush{
		MessageID: m.ID,
		UserID:    actor.UserID,
	})
	return nil
}

// SendDeliveryReceipt records that a message reached one of actor's devices.
func (e *Engine) SendDeliveryReceipt(ctx context.Context, actor Actor, messageID string) error {
	m, _, err := e.readableMessage(ctx, actor, messageID)
	if err != nil {
		return err
	}
	if m.From == actor.UserID {
		return nil
	}
	changed, err := e.store.Messages.AddReceipt(ctx, m.ID, actor.UserID, store.ReceiptDelivered)
	if err != nil {
		return err
	}
	if changed {
		e.emitConns(ctx, e.connections(ctx, m.From), protocol.PushDeliveryReceipt, protocol.ReceiptPush{
			MessageID: m.ID,
			UserID:    actor.UserID,
		})
	}
	return nil
}

// GetMessageReadStatus returns the receipt sets of a message.
func (e *Engine) GetMessageReadStatus(ctx context.Context, actor Actor, messageID string) (*ReadStatus, error) {
	m, _, err := e.readableMessage(ctx, actor, messageID)
	if err != nil {
		return nil, err
	}
	st := &ReadStatus{MessageID: m.ID, DeliveredTo: m.DeliveredTo, ReadBy: m.ReadBy}
	if st.DeliveredTo == nil {
		st.DeliveredTo = []string{}
	}
	if st.ReadBy == nil {
		st.ReadBy = []string{}
	}
	return st, nil
}

// advanceHistory moves userID's pointer for m.To to m unless it already
// points at a newer message.
func (e *Engine) advanceHistory(ctx context.Context, userID string, m *model.Message) {
	hs, err := e.store.Histories.ListByUser(ctx, userID, []string{m.To})
	if err != nil {
		e.log.Error().Err(err).Str("user", userID).Msg("history lookup failed")
		return
	}
	if len(hs) > 0 && hs[0].MessageID != m.ID {
		cur, err := e.store.Messages.Get(ctx, hs[0].MessageID)
		if err == nil && cur.CreatedAt.After(m.CreatedAt) {
			return
		}
	}
	if err := e.store.Histories.Upsert(ctx, &model.History{
		UserID:    userID,
		LinkmanID: m.To,
		MessageID: m.ID,
		UpdatedAt: e.now(),
	}); err != nil {
		e.log.Error().Err(err).Str("user", userID).Msg("history update failed")
	}
}

// DeleteMessage removes a message. Authors soft-delete their own messages;
// administrators hard-delete any message. Either way the audience the
// message reached is told.
func (e *Engine) DeleteMessage(ctx context.Context, actor Actor, messageID string) error {
	m, err := e.message(ctx, messageID)
	if err != nil {
		return err
	}

	switch {
	case actor.IsAdmin:
		if err := e.store.Messages.Delete(ctx, m.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		e.buffer.Drop(m.To, m.ID)
	case m.From == actor.UserID:
		if err := e.store.Messages.MarkDeleted(ctx, m.ID); err != nil {
			return err
		}
		soft := *m
		soft.Deleted = true
		e.buffer.Replace(m.To, &soft)
	default:
		return apperr.Permission("you can only delete your own messages")
	}

	push := protocol.DeleteMessagePush{LinkmanID: m.To, MessageID: m.ID, IsAdmin: actor.IsAdmin}
	if model.IsDirect(m.To) {
		a, b := m.To[:model.IDLength], m.To[model.IDLength:]
		e.emitConns(ctx, e.connections(ctx, a, b), protocol.PushDeleteMessage, push)
		return nil
	}
	e.emitRoom(ctx, m.To, protocol.PushDeleteMessage, push)
	return nil
}

// SendTypingIndicator relays actor's typing state to the other side of a
// conversation.
func (e *Engine) SendTypingIndicator(ctx context.Context, actor Actor, to string, isTyping bool) error {
	t, err := e.resolve(ctx, actor.UserID, to)
	if err != nil {
		return err
	}
	if !t.canRead(actor.UserID) {
		return apperr.Permission("you cannot access this conversation")
	}
	push := protocol.TypingPush{From: actor.UserID, To: t.id, IsTyping: isTyping}
	if t.kind == targetDirect {
		e.emitConns(ctx, e.connections(ctx, t.peer), protocol.PushTyping, push)
		return nil
	}
	e.emitRoom(ctx, t.id, protocol.PushTyping, push)
	return nil
}

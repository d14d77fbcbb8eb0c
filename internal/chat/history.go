package chat

import (
	"context"
	"errors"

	"github.com/fiora/chat-app/internal/apperr"
	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/store"
)

// LinkmanMessages is one entry of the V2 last-messages answer.
type LinkmanMessages struct {
	Messages []MessageView `json:"messages"`
	Unread   int           `json:"unread"`
}

// GetLinkmansLastMessages returns the newest page of every linkman the
// actor may read, keyed by linkman id as the client sent it.
func (e *Engine) GetLinkmansLastMessages(ctx context.Context, actor Actor, linkmans []string) (map[string][]MessageView, error) {
	out := make(map[string][]MessageView, len(linkmans))
	for _, id := range linkmans {
		if _, done := out[id]; done {
			continue
		}
		stored, ok := linkmanOf(actor.UserID, id)
		if !ok {
			continue
		}
		msgs, err := e.store.Messages.Recent(ctx, stored, 0, e.cfg.HistoryPageSize)
		if err != nil {
			return nil, err
		}
		views, err := e.views(ctx, msgs)
		if err != nil {
			return nil, err
		}
		out[id] = views
	}
	return out, nil
}

// GetLinkmansLastMessagesV2 is GetLinkmansLastMessages plus the number of
// messages newer than the actor's last-read pointer, capped at UnreadCap.
// A linkman without a pointer has no unread messages.
func (e *Engine) GetLinkmansLastMessagesV2(ctx context.Context, actor Actor, linkmans []string) (map[string]LinkmanMessages, error) {
	last, err := e.GetLinkmansLastMessages(ctx, actor, linkmans)
	if err != nil {
		return nil, err
	}
	stored := make(map[string]string, len(last))
	ids := make([]string, 0, len(last))
	for id := range last {
		stored[id], _ = linkmanOf(actor.UserID, id)
		ids = append(ids, stored[id])
	}
	hs, err := e.store.Histories.ListByUser(ctx, actor.UserID, ids)
	if err != nil {
		return nil, err
	}
	pointer := make(map[string]string, len(hs))
	for _, h := range hs {
		pointer[h.LinkmanID] = h.MessageID
	}

	out := make(map[string]LinkmanMessages, len(last))
	for id, views := range last {
		entry := LinkmanMessages{Messages: views}
		if msgID, ok := pointer[stored[id]]; ok {
			n, err := e.store.Messages.CountAfter(ctx, stored[id], msgID, e.cfg.UnreadCap)
			if err != nil {
				return nil, err
			}
			entry.Unread = min(n, e.cfg.UnreadCap)
		}
		out[id] = entry
	}
	return out, nil
}

// GetLinkmanHistoryMessages pages backwards through a linkman's history,
// skipping the existCount messages the client already holds.
func (e *Engine) GetLinkmanHistoryMessages(ctx context.Context, actor Actor, linkmanID string, existCount int) ([]MessageView, error) {
	if linkmanID == "" {
		return nil, apperr.Validation("linkmanId is required")
	}
	if existCount < 0 {
		return nil, apperr.Validation("existCount must not be negative")
	}
	stored, ok := linkmanOf(actor.UserID, linkmanID)
	if !ok {
		return nil, apperr.Permission("you cannot access this conversation")
	}
	msgs, err := e.store.Messages.Recent(ctx, stored, existCount, e.cfg.HistoryPageSize)
	if err != nil {
		return nil, err
	}
	return e.views(ctx, msgs)
}

// GetDefaultGroupHistoryMessages pages through the default group. Pages
// that fit inside the in-memory buffer are served without a store query.
func (e *Engine) GetDefaultGroupHistoryMessages(ctx context.Context, existCount int) ([]MessageView, error) {
	if existCount < 0 {
		return nil, apperr.Validation("existCount must not be negative")
	}
	g, err := e.store.Groups.GetDefault(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("default group does not exist")
		}
		return nil, err
	}

	buffered, ok := e.buffer.Get(g.ID, 0)
	if !ok {
		recent, err := e.store.Messages.Recent(ctx, g.ID, 0, e.cfg.DefaultGroupBuffer)
		if err != nil {
			return nil, err
		}
		e.buffer.Fill(g.ID, recent)
		buffered, _ = e.buffer.Get(g.ID, 0)
	}

	page := e.cfg.HistoryPageSize
	if end := len(buffered) - existCount; end >= page {
		return e.views(ctx, buffered[end-page:end])
	}

	msgs, err := e.store.Messages.Recent(ctx, g.ID, existCount, page)
	if err != nil {
		return nil, err
	}
	return e.views(ctx, msgs)
}

// UpdateHistory moves the actor's last-read pointer for a linkman.
func (e *Engine) UpdateHistory(ctx context.Context, actor Actor, linkmanID, messageID string) error {
	if linkmanID == "" || messageID == "" {
		return apperr.Validation("linkmanId and messageId are required")
	}
	stored, ok := linkmanOf(actor.UserID, linkmanID)
	if !ok {
		return apperr.Permission("you cannot access this conversation")
	}
	m, err := e.message(ctx, messageID)
	if err != nil {
		return err
	}
	if m.To != stored {
		return apperr.Validation("message does not belong to this conversation")
	}
	return e.store.Histories.Upsert(ctx, &model.History{
		UserID:    actor.UserID,
		LinkmanID: stored,
		MessageID: m.ID,
		UpdatedAt: e.now(),
	})
}

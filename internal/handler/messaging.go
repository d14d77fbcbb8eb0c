package handler

import (
	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/protocol"
	"github.com/fiora/chat-app/internal/ws"
)

func (h *Handlers) registerMessaging(d *ws.MessageDispatcher) {
	e := h.Chat

	d.Register(protocol.EventSendMessage, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.SendMessageReq](c)
		if err != nil {
			return nil, err
		}
		return e.SendMessage(c, chatActor(c), req.To, model.MessageType(req.Type), req.Content)
	})

	d.Register(protocol.EventGetLinkmansLastMessages, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.LinkmansReq](c)
		if err != nil {
			return nil, err
		}
		return e.GetLinkmansLastMessages(c, chatActor(c), req.Linkmans)
	})

	d.Register(protocol.EventGetLinkmansLastMessagesV2, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.LinkmansReq](c)
		if err != nil {
			return nil, err
		}
		return e.GetLinkmansLastMessagesV2(c, chatActor(c), req.Linkmans)
	})

	d.Register(protocol.EventGetLinkmanHistoryMessages, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.HistoryReq](c)
		if err != nil {
			return nil, err
		}
		return e.GetLinkmanHistoryMessages(c, chatActor(c), req.LinkmanID, req.ExistCount)
	})

	d.Register(protocol.EventGetDefaultGroupHistoryMessages, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.HistoryReq](c)
		if err != nil {
			return nil, err
		}
		return e.GetDefaultGroupHistoryMessages(c, req.ExistCount)
	})

	d.Register(protocol.EventUpdateHistory, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.UpdateHistoryReq](c)
		if err != nil {
			return nil, err
		}
		return ok, e.UpdateHistory(c, chatActor(c), req.LinkmanID, req.MessageID)
	})

	d.Register(protocol.EventDeleteMessage, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.MessageRef](c)
		if err != nil {
			return nil, err
		}
		return ok, e.DeleteMessage(c, chatActor(c), req.MessageID)
	})

	d.Register(protocol.EventSendTypingIndicator, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.TypingReq](c)
		if err != nil {
			return nil, err
		}
		return ok, e.SendTypingIndicator(c, chatActor(c), req.To, req.IsTyping)
	})

	d.Register(protocol.EventSendReadReceipt, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.MessageRef](c)
		if err != nil {
			return nil, err
		}
		return ok, e.SendReadReceipt(c, chatActor(c), req.MessageID)
	})

	d.Register(protocol.EventSendDeliveryReceipt, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.MessageRef](c)
		if err != nil {
			return nil, err
		}
		return ok, e.SendDeliveryReceipt(c, chatActor(c), req.MessageID)
	})

	d.Register(protocol.EventGetMessageReadStatus, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.MessageRef](c)
		if err != nil {
			return nil, err
		}
		return e.GetMessageReadStatus(c, chatActor(c), req.MessageID)
	})
}

func (h *Handlers) registerPresence(d *ws.MessageDispatcher) {
	r := h.Roster

	d.Register(protocol.EventGetGroupOnlineMembers, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.OnlineMembersReq](c)
		if err != nil {
			return nil, err
		}
		return r.GetGroupOnlineMembers(c, req.GroupID)
	})

	d.Register(protocol.EventGetGroupOnlineMembersV2, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.OnlineMembersReq](c)
		if err != nil {
			return nil, err
		}
		return r.GetGroupOnlineMembersV2(c, req.GroupID, req.Cache)
	})

	d.Register(protocol.EventGetDefaultGroupOnlineMembers, func(c *ws.Context) (any, error) {
		return r.GetDefaultGroupOnlineMembers(c)
	})

	d.Register(protocol.EventGetUserOnlineStatus, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.UserRef](c)
		if err != nil {
			return nil, err
		}
		online, err := r.GetUserOnlineStatus(c, req.UserID)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"isOnline": online}, nil
	})
}

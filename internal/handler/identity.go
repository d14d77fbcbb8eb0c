package handler

import (
	"github.com/fiora/chat-app/internal/presence"
	"github.com/fiora/chat-app/internal/protocol"
	"github.com/fiora/chat-app/internal/ws"
)

func clientInfo(ci protocol.ClientInfo) presence.ClientInfo {
	return presence.ClientInfo{OS: ci.OS, Browser: ci.Browser, Environment: ci.Environment}
}

func (h *Handlers) registerIdentity(d *ws.MessageDispatcher) {
	// -----------------------------------------------------------------------
	// register / login / loginByToken: bind the connection to a user
	// -----------------------------------------------------------------------
	d.Register(protocol.EventRegister, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.CredentialsReq](c)
		if err != nil {
			return nil, err
		}
		sess, err := h.Identity.Register(c, c.Conn.ID, c.Conn.IP, req.Username, req.Password, clientInfo(req.ClientInfo))
		if err != nil {
			return nil, err
		}
		c.Conn.Bind(sess.User.ID, sess.User.IsAdmin)
		return sess, nil
	})

	d.Register(protocol.EventLogin, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.CredentialsReq](c)
		if err != nil {
			return nil, err
		}
		sess, err := h.Identity.Login(c, c.Conn.ID, c.Conn.IP, req.Username, req.Password, clientInfo(req.ClientInfo))
		if err != nil {
			return nil, err
		}
		c.Conn.Bind(sess.User.ID, sess.User.IsAdmin)
		return sess, nil
	})

	d.Register(protocol.EventLoginByToken, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.TokenLoginReq](c)
		if err != nil {
			return nil, err
		}
		sess, err := h.Identity.LoginByToken(c, c.Conn.ID, c.Conn.IP, req.Token, clientInfo(req.ClientInfo))
		if err != nil {
			return nil, err
		}
		c.Conn.Bind(sess.User.ID, sess.User.IsAdmin)
		return sess, nil
	})

	d.Register(protocol.EventGuest, func(c *ws.Context) (any, error) {
		return h.Identity.Guest(c, c.Conn.ID)
	})

	// -----------------------------------------------------------------------
	// friends and devices
	// -----------------------------------------------------------------------
	d.Register(protocol.EventAddFriend, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.UserRef](c)
		if err != nil {
			return nil, err
		}
		return h.Identity.AddFriend(c, c.Conn.UserID(), req.UserID)
	})

	d.Register(protocol.EventDeleteFriend, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.UserRef](c)
		if err != nil {
			return nil, err
		}
		return ok, h.Identity.DeleteFriend(c, c.Conn.UserID(), req.UserID)
	})

	d.Register(protocol.EventSetNotificationToken, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.TokenReq](c)
		if err != nil {
			return nil, err
		}
		return ok, h.Identity.SetNotificationToken(c, c.Conn.UserID(), req.Token)
	})
}

package handler

import (
	"errors"
	"net"

	"github.com/fiora/chat-app/internal/apperr"
	"github.com/fiora/chat-app/internal/ban"
	"github.com/fiora/chat-app/internal/metrics"
	"github.com/fiora/chat-app/internal/protocol"
	"github.com/fiora/chat-app/internal/store"
	"github.com/fiora/chat-app/internal/ws"
)

const adminSealReason = "sealed by administrator"

// SealList groups the live seals by kind.
type SealList struct {
	Users []ban.Seal `json:"users"`
	IPs   []ban.Seal `json:"ips"`
}

func (h *Handlers) seal(c *ws.Context, kind ban.Kind, target string) error {
	err := h.Ledger.Seal(c, kind, target, h.AdminSealDuration, adminSealReason)
	if errors.Is(err, ban.ErrAlreadySealed) {
		return apperr.Conflict("already sealed")
	}
	if err != nil {
		return err
	}
	metrics.SealsTotal.WithLabelValues(string(kind)).Inc()
	h.log.Info().
		Str("kind", string(kind)).
		Str("target", target).
		Str("admin", c.Conn.UserID()).
		Msg("seal")
	return nil
}

func (h *Handlers) registerAdmin(d *ws.MessageDispatcher) {
	d.Register(protocol.EventSealUser, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.UsernameReq](c)
		if err != nil {
			return nil, err
		}
		u, err := h.Store.Users.GetByName(c, req.Username)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("user does not exist")
		}
		if err != nil {
			return nil, err
		}
		return ok, h.seal(c, ban.KindUser, u.ID)
	})

	d.Register(protocol.EventSealIP, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.IPReq](c)
		if err != nil {
			return nil, err
		}
		if net.ParseIP(req.IP) == nil {
			return nil, apperr.Validation("invalid ip address")
		}
		return ok, h.seal(c, ban.KindIP, req.IP)
	})

	// Seals every ip the user is currently connected from.
	d.Register(protocol.EventSealUserOnlineIP, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.UserRef](c)
		if err != nil {
			return nil, err
		}
		conns, err := h.Presence.ConnectionsOf(c, req.UserID)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool)
		sealed := []string{}
		for _, conn := range conns {
			if conn.IP == "" || seen[conn.IP] {
				continue
			}
			seen[conn.IP] = true
			if err := h.seal(c, ban.KindIP, conn.IP); err != nil {
				if apperr.KindOf(err) == apperr.KindConflict {
					continue
				}
				return nil, err
			}
			sealed = append(sealed, conn.IP)
		}
		if len(seen) == 0 {
			return nil, apperr.NotFound("user is not online")
		}
		return map[string][]string{"ips": sealed}, nil
	})

	d.Register(protocol.EventGetSealList, func(c *ws.Context) (any, error) {
		seals, err := h.Ledger.List(c)
		if err != nil {
			return nil, err
		}
		out := SealList{Users: []ban.Seal{}, IPs: []ban.Seal{}}
		for _, s := range seals {
			if s.Kind == ban.KindIP {
				out.IPs = append(out.IPs, s)
			} else {
				out.Users = append(out.Users, s)
			}
		}
		return out, nil
	})

	d.Register(protocol.EventToggleSendMessage, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.ToggleReq](c)
		if err != nil {
			return nil, err
		}
		if err := h.Ledger.SetMute(c, ban.FlagMuteAll, !req.Enable); err != nil {
			return nil, err
		}
		return req, nil
	})

	d.Register(protocol.EventToggleNewUserSendMessage, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.ToggleReq](c)
		if err != nil {
			return nil, err
		}
		if err := h.Ledger.SetMute(c, ban.FlagMuteNewUsers, !req.Enable); err != nil {
			return nil, err
		}
		return req, nil
	})

	d.Register(protocol.EventResetUserPassword, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.UsernameReq](c)
		if err != nil {
			return nil, err
		}
		password, err := h.Identity.ResetUserPassword(c, req.Username)
		if err != nil {
			return nil, err
		}
		return map[string]string{"newPassword": password}, nil
	})

	d.Register(protocol.EventSetUserTag, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.UserTagReq](c)
		if err != nil {
			return nil, err
		}
		return ok, h.Identity.SetUserTag(c, req.Username, req.Tag)
	})
}

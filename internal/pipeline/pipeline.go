// Package pipeline holds the interceptors every inbound event crosses before
// its handler runs. The order is fixed: ban check, login check, admin check,
// rate check.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/fiora/chat-app/internal/apperr"
	"github.com/fiora/chat-app/internal/ban"
	"github.com/fiora/chat-app/internal/metrics"
	"github.com/fiora/chat-app/internal/protocol"
	"github.com/fiora/chat-app/internal/ws"
)

// Reasons surfaced by the stages.
const (
	ReasonDenied        = "request denied"
	ReasonLogin         = "please login"
	ReasonAdmin         = "administrator privileges required"
	ReasonMuted         = "sending messages is disabled by the administrator"
	ReasonNewUserMuted  = "new users may not send messages right now"
	ReasonRateLimited   = "sending too frequently, try again later"
	autoSealReasonLabel = "message rate exceeded"
)

// Ledger is the shared ban, mute and new-user state.
type Ledger interface {
	Check(ctx context.Context, userID, ip string) (bool, error)
	Mutes(ctx context.Context) (ban.MuteState, error)
	IsNewUser(ctx context.Context, userID string) (bool, error)
	Seal(ctx context.Context, kind ban.Kind, target string, duration time.Duration, reason string) error
}

// Counter is the per-connection call counter of the current window.
type Counter interface {
	Allow(connID string, limit int) bool
}

// Config tunes the rate stage.
type Config struct {
	MaxCallPerMinutes        int
	NewUserMaxCallPerMinutes int
	SealDuration             time.Duration
}

// publicEvents may be called without a bound user.
var publicEvents = map[string]bool{
	protocol.EventRegister:                       true,
	protocol.EventLogin:                          true,
	protocol.EventLoginByToken:                   true,
	protocol.EventGuest:                          true,
	protocol.EventGetDefaultGroupOnlineMembers:   true,
	protocol.EventGetDefaultGroupHistoryMessages: true,
	protocol.EventGetGroupBasicInfo:              true,
	protocol.EventGetChannelBasicInfo:            true,
}

// adminEvents require a configured administrator.
var adminEvents = map[string]bool{
	protocol.EventSealUser:                 true,
	protocol.EventSealIP:                   true,
	protocol.EventSealUserOnlineIP:         true,
	protocol.EventGetSealList:              true,
	protocol.EventToggleSendMessage:        true,
	protocol.EventToggleNewUserSendMessage: true,
	protocol.EventResetUserPassword:        true,
	protocol.EventSetUserTag:               true,
}

// IsPublic reports whether event bypasses the login check.
func IsPublic(event string) bool { return publicEvents[event] }

// IsAdminOnly reports whether event requires an administrator.
func IsAdminOnly(event string) bool { return adminEvents[event] }

// Stages returns the full chain in its fixed order.
func Stages(ledger Ledger, counter Counter, cfg Config, log zerolog.Logger) []ws.Middleware {
	return []ws.Middleware{
		BanCheck(ledger, log),
		LoginRequired(log),
		AdminRequired(log),
		RateCheck(ledger, counter, cfg, log),
	}
}

func reject(log zerolog.Logger, c *ws.Context, stage string, err error) (any, error) {
	log.Debug().
		Str("stage", stage).
		Str("event", c.Event).
		Str("conn", c.Conn.ID).
		Str("user", c.Conn.UserID()).
		Msg("event rejected")
	return nil, err
}

// BanCheck rejects calls from a sealed ip or user with a generic reason.
func BanCheck(ledger Ledger, log zerolog.Logger) ws.Middleware {
	return func(next ws.Handler) ws.Handler {
		return func(c *ws.Context) (any, error) {
			sealed, err := ledger.Check(c, c.Conn.UserID(), c.Conn.IP)
			if err != nil {
				return nil, err
			}
			if sealed {
				return reject(log, c, "ban", apperr.Denied(ReasonDenied))
			}
			return next(c)
		}
	}
}

// LoginRequired rejects non-public events on anonymous connections.
func LoginRequired(log zerolog.Logger) ws.Middleware {
	return func(next ws.Handler) ws.Handler {
		return func(c *ws.Context) (any, error) {
			if !publicEvents[c.Event] && c.Conn.UserID() == "" {
				return reject(log, c, "login", apperr.Permission(ReasonLogin))
			}
			return next(c)
		}
	}
}

// AdminRequired rejects privileged events from non-administrators.
func AdminRequired(log zerolog.Logger) ws.Middleware {
	return func(next ws.Handler) ws.Handler {
		return func(c *ws.Context) (any, error) {
			if adminEvents[c.Event] && !c.Conn.IsAdmin() {
				return reject(log, c, "admin", apperr.Permission(ReasonAdmin))
			}
			return next(c)
		}
	}
}

// RateCheck guards sendMessage. Global mutes apply first; then the
// connection's call count for the window is compared with the threshold
// for new or established users. Exceeding it seals the caller.
// Administrators are exempt.
func RateCheck(ledger Ledger, counter Counter, cfg Config, log zerolog.Logger) ws.Middleware {
	return func(next ws.Handler) ws.Handler {
		return func(c *ws.Context) (any, error) {
			if c.Event != protocol.EventSendMessage || c.Conn.IsAdmin() {
				return next(c)
			}
			userID := c.Conn.UserID()

			mutes, err := ledger.Mutes(c)
			if err != nil {
				return nil, err
			}
			if mutes.All {
				return reject(log, c, "mute", apperr.Permission(ReasonMuted))
			}

			isNew := false
			if userID != "" {
				if isNew, err = ledger.IsNewUser(c, userID); err != nil {
					return nil, err
				}
			}
			if isNew && mutes.NewUsers {
				return reject(log, c, "mute", apperr.Permission(ReasonNewUserMuted))
			}

			limit := cfg.MaxCallPerMinutes
			if isNew {
				limit = cfg.NewUserMaxCallPerMinutes
			}
			if counter.Allow(c.Conn.ID, limit) {
				return next(c)
			}

			kind, target := ban.KindUser, userID
			if target == "" {
				kind, target = ban.KindIP, c.Conn.IP
			}
			err = ledger.Seal(c, kind, target, cfg.SealDuration, autoSealReasonLabel)
			switch {
			case err == nil:
				metrics.SealsTotal.WithLabelValues(string(kind)).Inc()
				log.Info().Str("kind", string(kind)).Str("target", target).Msg("auto seal")
			case !errors.Is(err, ban.ErrAlreadySealed):
				log.Error().Err(err).Str("target", target).Msg("auto seal failed")
			}
			return reject(log, c, "rate", apperr.Denied(ReasonRateLimited))
		}
	}
}

// Package roster is the Presence/Roster Cache: which members of a group are
// online right now, cached per group with a fingerprint clients can echo
// back to skip unchanged payloads.
package roster

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/fiora/chat-app/internal/apperr"
	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/store"
)

// Presence resolves users to their live connections.
type Presence interface {
	ConnectionsOf(ctx context.Context, userIDs ...string) ([]model.Connection, error)
}

// Member is one online user together with the client of their most
// recently updated connection.
type Member struct {
	UserID      string `json:"_id"`
	Username    string `json:"username"`
	Avatar      string `json:"avatar"`
	Tag         string `json:"tag"`
	OS          string `json:"os"`
	Browser     string `json:"browser"`
	Environment string `json:"environment"`
}

// OnlineMembers is the fingerprinted answer. Members is omitted when the
// caller's fingerprint is still current.
type OnlineMembers struct {
	Cache   string   `json:"cache"`
	Members []Member `json:"members,omitempty"`
}

// Service answers roster queries.
type Service struct {
	store        *store.Store
	presence     Presence
	groups       *Cache[[]Member]
	defaultGroup *Cache[[]Member]
	log          zerolog.Logger
}

// New creates a Service whose cached rosters live for ttl.
func New(st *store.Store, presence Presence, ttl time.Duration, log zerolog.Logger) *Service {
	return &Service{
		store:        st,
		presence:     presence,
		groups:       NewCache[[]Member](ttl),
		defaultGroup: NewCache[[]Member](ttl),
		log:          log,
	}
}

// GetGroupOnlineMembers returns the full roster of a group.
func (s *Service) GetGroupOnlineMembers(ctx context.Context, groupID string) ([]Member, error) {
	res, err := s.groups.GetOrCompute(ctx, groupID, "", s.compute(groupID))
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// GetGroupOnlineMembersV2 returns the roster of a group unless fingerprint
// already matches it.
func (s *Service) GetGroupOnlineMembersV2(ctx context.Context, groupID, fingerprint string) (*OnlineMembers, error) {
	res, err := s.groups.GetOrCompute(ctx, groupID, fingerprint, s.compute(groupID))
	if err != nil {
		return nil, err
	}
	out := &OnlineMembers{Cache: res.Fingerprint}
	if !res.Unchanged {
		out.Members = res.Value
	}
	return out, nil
}

// GetDefaultGroupOnlineMembers returns the roster of the default group.
func (s *Service) GetDefaultGroupOnlineMembers(ctx context.Context) ([]Member, error) {
	res, err := s.defaultGroup.GetOrCompute(ctx, "", "", func(ctx context.Context) ([]Member, string, error) {
		g, err := s.store.Groups.GetDefault(ctx)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, "", apperr.NotFound("default group does not exist")
			}
			return nil, "", err
		}
		return s.online(ctx, g)
	})
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// GetUserOnlineStatus reports whether userID has at least one live
// connection on any server.
func (s *Service) GetUserOnlineStatus(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, apperr.Validation("userId is required")
	}
	conns, err := s.presence.ConnectionsOf(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(conns) > 0, nil
}

func (s *Service) compute(groupID string) ComputeFunc[[]Member] {
	return func(ctx context.Context) ([]Member, string, error) {
		g, err := s.store.Groups.Get(ctx, groupID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, "", apperr.NotFound("group does not exist")
			}
			return nil, "", err
		}
		return s.online(ctx, g)
	}
}

// online resolves the live members of g, one entry per user.
func (s *Service) online(ctx context.Context, g *model.Group) ([]Member, string, error) {
	conns, err := s.presence.ConnectionsOf(ctx, g.Members...)
	if err != nil {
		return nil, "", err
	}

	latest := make(map[string]model.Connection)
	for _, c := range conns {
		if prev, ok := latest[c.UserID]; !ok || c.UpdatedAt > prev.UpdatedAt {
			latest[c.UserID] = c
		}
	}
	ids := make([]string, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	users, err := s.store.Users.GetMany(ctx, ids)
	if err != nil {
		return nil, "", err
	}
	byID := make(map[string]*model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	members := make([]Member, 0, len(ids))
	for _, id := range ids {
		u, ok := byID[id]
		if !ok {
			s.log.Debug().Str("user", id).Msg("online connection of unknown user")
			continue
		}
		c := latest[id]
		members = append(members, Member{
			UserID:      u.ID,
			Username:    u.Username,
			Avatar:      u.Avatar,
			Tag:         u.Tag,
			OS:          c.OS,
			Browser:     c.Browser,
			Environment: c.Environment,
		})
	}
	return members, Fingerprint(ids), nil
}

// Package identity binds connections to users: registration, password and
// token login, guest entry, friends and notification tokens.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/fiora/chat-app/internal/apperr"
	"github.com/fiora/chat-app/internal/chat"
	"github.com/fiora/chat-app/internal/membership"
	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/presence"
	"github.com/fiora/chat-app/internal/store"
)

// Presence is the part of the Presence Store identity writes to.
type Presence interface {
	Bind(ctx context.Context, connID, userID string, info presence.ClientInfo) error
	Get(ctx context.Context, connID string) (*model.Connection, error)
}

// Ledger flags freshly registered users.
type Ledger interface {
	MarkNewUser(ctx context.Context, userID string, window time.Duration) error
}

// Transport moves connections in and out of rooms.
type Transport interface {
	JoinConnections(ctx context.Context, conns []model.Connection, room string) error
	LeaveConnections(ctx context.Context, conns []model.Connection, room string) error
}

// Groups adds a user to a group through the membership engine.
type Groups interface {
	JoinGroup(ctx context.Context, actor membership.Actor, groupID string) (*model.Group, error)
}

// History serves the default group's recent messages to guests.
type History interface {
	GetDefaultGroupHistoryMessages(ctx context.Context, existCount int) ([]chat.MessageView, error)
}

// Config tunes identity.
type Config struct {
	JWTSecret            []byte
	TokenTTL             time.Duration
	NewUserWindow        time.Duration
	Administrators       []string // user ids
	NotificationTokenCap int
	MaxUsernameLength    int
	BcryptCost           int
}

// DefaultConfig returns production settings with the given secret.
func DefaultConfig(secret string) Config {
	return Config{
		JWTSecret:            []byte(secret),
		TokenTTL:             7 * 24 * time.Hour,
		NewUserWindow:        24 * time.Hour,
		NotificationTokenCap: 3,
		MaxUsernameLength:    32,
		BcryptCost:           bcrypt.DefaultCost,
	}
}

// UserInfo is the public part of a User plus the caller's admin flag.
type UserInfo struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Tag      string `json:"tag"`
	IsAdmin  bool   `json:"isAdmin"`
}

// FriendInfo is one entry of a friend roster.
type FriendInfo struct {
	ID        string    `json:"_id"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"createTime"`
}

// Session is what a bound connection starts with.
type Session struct {
	User        UserInfo           `json:"user"`
	Token       string             `json:"token,omitempty"`
	Groups      []*model.Group     `json:"groups"`
	Channels    []*model.Channel   `json:"channels"`
	Communities []*model.Community `json:"communities"`
	Friends     []FriendInfo       `json:"friends"`
}

// GuestSession is what an anonymous connection starts with.
type GuestSession struct {
	DefaultGroup *model.Group       `json:"defaultGroup"`
	Messages     []chat.MessageView `json:"messages"`
}

// Service implements the identity operations.
type Service struct {
	store     *store.Store
	presence  Presence
	ledger    Ledger
	transport Transport
	groups    Groups
	history   History
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time
}

// New creates a Service.
func New(st *store.Store, p Presence, ledger Ledger, transport Transport, groups Groups, history History, cfg Config, log zerolog.Logger) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		store:     st,
		presence:  p,
		ledger:    ledger,
		transport: transport,
		groups:    groups,
		history:   history,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// IsAdmin reports whether userID is a configured administrator.
func (s *Service) IsAdmin(userID string) bool {
	return userID != "" && slices.Contains(s.cfg.Administrators, userID)
}

func (s *Service) credentials(username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", apperr.Validation("username must not be empty")
	}
	if s.cfg.MaxUsernameLength > 0 && utf8.RuneCountInString(username) > s.cfg.MaxUsernameLength {
		return "", apperr.Validation("username must be at most %d characters", s.cfg.MaxUsernameLength)
	}
	if password == "" {
		return "", apperr.Validation("password must not be empty")
	}
	return username, nil
}

// Register creates a user, adds it to the default group and binds connID.
func (s *Service) Register(ctx context.Context, connID, ip, username, password string, info presence.ClientInfo) (*Session, error) {
	username, err := s.credentials(username, password)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Users.GetByName(ctx, username); err == nil {
		return nil, apperr.Conflict("username already exists")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	def, err := s.store.Groups.GetDefault(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("default group does not exist")
		}
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	now := s.now()
	u := &model.User{
		Username:      username,
		PasswordHash:  string(hash),
		Expressions:   []string{},
		CreatedAt:     now,
		LastLoginTime: now,
		LastLoginIP:   ip,
	}
	if err := s.store.Users.Create(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Conflict("username already exists")
		}
		return nil, err
	}

	s.release(ctx, connID, u.ID)
	if err := s.presence.Bind(ctx, connID, u.ID, info); err != nil {
		return nil, err
	}
	if _, err := s.groups.JoinGroup(ctx, membership.Actor{UserID: u.ID}, def.ID); err != nil {
		return nil, err
	}
	if err := s.ledger.MarkNewUser(ctx, u.ID, s.cfg.NewUserWindow); err != nil {
		s.log.Error().Err(err).Str("user", u.ID).Msg("mark new user failed")
	}
	s.log.Info().Str("user", u.ID).Str("username", u.Username).Msg("user registered")

	return s.session(ctx, u, connID, true)
}

// Login verifies a password and binds connID to the user.
func (s *Service) Login(ctx context.Context, connID, ip, username, password string, info presence.ClientInfo) (*Session, error) {
	username, err := s.credentials(username, password)
	if err != nil {
		return nil, err
	}
	u, err := s.store.Users.GetByName(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("user does not exist")
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.Permission("password is incorrect")
	}
	if err := s.bind(ctx, u, connID, ip, info); err != nil {
		return nil, err
	}
	return s.session(ctx, u, connID, true)
}

// LoginByToken binds connID to the user a previously issued token names.
func (s *Service) LoginByToken(ctx context.Context, connID, ip, token string, info presence.ClientInfo) (*Session, error) {
	if token == "" {
		return nil, apperr.Validation("token is required")
	}
	userID, err := UserIDFromToken(token, s.cfg.JWTSecret)
	if err != nil {
		return nil, apperr.Permission("token is invalid or expired, please login again")
	}
	u, err := s.store.Users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("user does not exist")
		}
		return nil, err
	}
	if err := s.bind(ctx, u, connID, ip, info); err != nil {
		return nil, err
	}
	return s.session(ctx, u, connID, false)
}

// Guest joins connID to the default group room without binding a user.
func (s *Service) Guest(ctx context.Context, connID string) (*GuestSession, error) {
	def, err := s.store.Groups.GetDefault(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("default group does not exist")
		}
		return nil, err
	}
	s.join(ctx, connID, []string{def.ID})

	msgs, err := s.history.GetDefaultGroupHistoryMessages(ctx, 0)
	if err != nil {
		return nil, err
	}
	return &GuestSession{DefaultGroup: def, Messages: msgs}, nil
}

func (s *Service) bind(ctx context.Context, u *model.User, connID, ip string, info presence.ClientInfo) error {
	if err := s.store.Users.UpdateLogin(ctx, u.ID, s.now(), ip); err != nil {
		return err
	}
	s.release(ctx, connID, u.ID)
	return s.presence.Bind(ctx, connID, u.ID, info)
}

// release takes connID out of the rooms of the user it is bound to when
// that user is not userID. Failures are logged; the new binding proceeds.
func (s *Service) release(ctx context.Context, connID, userID string) {
	conn, err := s.presence.Get(ctx, connID)
	if err != nil || conn == nil || conn.UserID == "" || conn.UserID == userID {
		return
	}
	var rooms []string
	groups, err := s.store.Groups.ListByMember(ctx, conn.UserID)
	if err != nil {
		s.log.Error().Err(err).Str("user", conn.UserID).Msg("list previous groups failed")
	}
	for _, g := range groups {
		rooms = append(rooms, g.ID)
	}
	channels, err := s.store.Channels.ListBySubscriber(ctx, conn.UserID)
	if err != nil {
		s.log.Error().Err(err).Str("user", conn.UserID).Msg("list previous channels failed")
	}
	for _, c := range channels {
		rooms = append(rooms, c.ID)
	}
	for _, room := range rooms {
		if err := s.transport.LeaveConnections(ctx, []model.Connection{*conn}, room); err != nil {
			s.log.Error().Err(err).Str("room", room).Msg("leave room failed")
		}
	}
	s.log.Debug().Str("conn", connID).Str("from", conn.UserID).Str("to", userID).Int("rooms", len(rooms)).Msg("connection rebound")
}

// session collects the user's rooms and friends and joins connID to every
// group and channel room.
func (s *Service) session(ctx context.Context, u *model.User, connID string, withToken bool) (*Session, error) {
	groups, err := s.store.Groups.ListByMember(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	channels, err := s.store.Channels.ListBySubscriber(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	communities, err := s.store.Communities.ListByMember(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	friends, err := s.Friends(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	rooms := make([]string, 0, len(groups)+len(channels))
	for _, g := range groups {
		rooms = append(rooms, g.ID)
	}
	for _, c := range channels {
		rooms = append(rooms, c.ID)
	}
	s.join(ctx, connID, rooms)

	sess := &Session{
		User: UserInfo{
			ID:       u.ID,
			Username: u.Username,
			Avatar:   u.Avatar,
			Tag:      u.Tag,
			IsAdmin:  s.IsAdmin(u.ID),
		},
		Groups:      groups,
		Channels:    channels,
		Communities: communities,
		Friends:     friends,
	}
	if withToken {
		sess.Token, err = GenerateToken(u.ID, s.cfg.JWTSecret, s.now(), s.cfg.TokenTTL)
		if err != nil {
			return nil, err
		}
	}
	return sess, nil
}

func (s *Service) join(ctx context.Context, connID string, rooms []string) {
	conn, err := s.presence.Get(ctx, connID)
	if err != nil || conn == nil {
		s.log.Error().Err(err).Str("conn", connID).Msg("connection record missing")
		return
	}
	for _, room := range rooms {
		if err := s.transport.JoinConnections(ctx, []model.Connection{*conn}, room); err != nil {
			s.log.Error().Err(err).Str("room", room).Msg("join room failed")
		}
	}
}

// Friends returns the friend roster of userID.
func (s *Service) Friends(ctx context.Context, userID string) ([]FriendInfo, error) {
	edges, err := s.store.Friends.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]FriendInfo, 0, len(edges))
	if len(edges) == 0 {
		return out, nil
	}
	ids := make([]string, len(edges))
	for i, f := range edges {
		ids[i] = f.To
	}
	users, err := s.store.Users.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	for _, f := range edges {
		if u, ok := byID[f.To]; ok {
			out = append(out, FriendInfo{ID: u.ID, Username: u.Username, Avatar: u.Avatar, CreatedAt: f.CreatedAt})
		}
	}
	return out, nil
}

// AddFriend adds friendID to userID's roster.
func (s *Service) AddFriend(ctx context.Context, userID, friendID string) (*FriendInfo, error) {
	if friendID == "" || friendID == userID {
		return nil, apperr.Validation("cannot add yourself as a friend")
	}
	u, err := s.store.Users.Get(ctx, friendID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("user does not exist")
		}
		return nil, err
	}
	f := &model.Friend{From: userID, To: friendID, CreatedAt: s.now()}
	if err := s.store.Friends.Create(ctx, f); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Conflict("already friends")
		}
		return nil, err
	}
	return &FriendInfo{ID: u.ID, Username: u.Username, Avatar: u.Avatar, CreatedAt: f.CreatedAt}, nil
}

// DeleteFriend removes friendID from userID's roster.
func (s *Service) DeleteFriend(ctx context.Context, userID, friendID string) error {
	if err := s.store.Friends.Delete(ctx, userID, friendID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("not friends")
		}
		return err
	}
	return nil
}

// SetNotificationToken registers token as the user's newest device. The
// oldest tokens are evicted beyond the per-user cap; a known token moves to
// the newest slot.
func (s *Service) SetNotificationToken(ctx context.Context, userID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperr.Validation("token is required")
	}
	existing, err := s.store.NotificationTokens.ListByUser(ctx, userID)
	if err != nil {
		return err
	}

	kept := existing[:0:0]
	for _, t := range existing {
		if t.Token == token {
			if err := s.store.NotificationTokens.Delete(ctx, t.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			continue
		}
		kept = append(kept, t)
	}
	if limit := s.cfg.NotificationTokenCap; limit > 0 {
		for len(kept) >= limit {
			if err := s.store.NotificationTokens.Delete(ctx, kept[0].ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			kept = kept[1:]
		}
	}
	return s.store.NotificationTokens.Create(ctx, &model.NotificationToken{
		UserID:    userID,
		Token:     token,
		CreatedAt: s.now(),
	})
}

var tagPattern = regexp.MustCompile(`^[\p{L}\p{N}]{1,5}$`)

// ResetUserPassword replaces the password of username with a random one
// and returns it.
func (s *Service) ResetUserPassword(ctx context.Context, username string) (string, error) {
	u, err := s.userByName(ctx, username)
	if err != nil {
		return "", err
	}
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	password := hex.EncodeToString(buf)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return "", err
	}
	if err := s.store.Users.UpdatePassword(ctx, u.ID, string(hash)); err != nil {
		return "", err
	}
	s.log.Info().Str("user", u.ID).Msg("password reset")
	return password, nil
}

// SetUserTag sets the short label shown next to a user's name.
func (s *Service) SetUserTag(ctx context.Context, username, tag string) error {
	tag = strings.TrimSpace(tag)
	if !tagPattern.MatchString(tag) {
		return apperr.Validation("tag must be 1 to 5 letters or digits")
	}
	u, err := s.userByName(ctx, username)
	if err != nil {
		return err
	}
	return s.store.Users.UpdateTag(ctx, u.ID, tag)
}

func (s *Service) userByName(ctx context.Context, username string) (*model.User, error) {
	if username == "" {
		return nil, apperr.Validation("username is required")
	}
	u, err := s.store.Users.GetByName(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("user does not exist")
		}
		return nil, err
	}
	return u, nil
}

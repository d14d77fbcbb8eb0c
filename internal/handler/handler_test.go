package handler

import (
	"context"
	"encoding/json"
	"net"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fiora/chat-app/internal/ban"
	"github.com/fiora/chat-app/internal/chat"
	"github.com/fiora/chat-app/internal/chattest"
	"github.com/fiora/chat-app/internal/identity"
	"github.com/fiora/chat-app/internal/logging"
	"github.com/fiora/chat-app/internal/membership"
	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/pipeline"
	"github.com/fiora/chat-app/internal/protocol"
	"github.com/fiora/chat-app/internal/ratelimit"
	"github.com/fiora/chat-app/internal/roster"
	"github.com/fiora/chat-app/internal/store"
	"github.com/fiora/chat-app/internal/store/memory"
	"github.com/fiora/chat-app/internal/ws"
)

type fakeLedger struct {
	mu       sync.Mutex
	sealed   map[string]bool
	newUsers map[string]bool
	mutes    ban.MuteState
}

func (f *fakeLedger) Check(_ context.Context, userID, ip string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sealed["user:"+userID] || f.sealed["ip:"+ip], nil
}

func (f *fakeLedger) Mutes(context.Context) (ban.MuteState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutes, nil
}

func (f *fakeLedger) IsNewUser(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.newUsers[userID], nil
}

func (f *fakeLedger) MarkNewUser(_ context.Context, userID string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.newUsers[userID] = true
	return nil
}

func (f *fakeLedger) Seal(_ context.Context, kind ban.Kind, target string, _ time.Duration, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(kind) + ":" + target
	if f.sealed[key] {
		return ban.ErrAlreadySealed
	}
	f.sealed[key] = true
	return nil
}

func (f *fakeLedger) List(context.Context) ([]ban.Seal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ban.Seal
	for key := range f.sealed {
		kind, target, _ := strings.Cut(key, ":")
		out = append(out, ban.Seal{Kind: ban.Kind(kind), Target: target})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out, nil
}

func (f *fakeLedger) SetMute(_ context.Context, flag string, muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch flag {
	case ban.FlagMuteAll:
		f.mutes.All = muted
	case ban.FlagMuteNewUsers:
		f.mutes.NewUsers = muted
	}
	return nil
}

func (f *fakeLedger) isSealed(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sealed[key]
}

func (f *fakeLedger) settle(userID string) {
	f.mu.Lock()
	f.newUsers[userID] = false
	f.mu.Unlock()
}

type recordRooms struct {
	mu      sync.Mutex
	dropped []string
}

func (r *recordRooms) Drop(connID string) {
	r.mu.Lock()
	r.dropped = append(r.dropped, connID)
	r.mu.Unlock()
}

type env struct {
	t          *testing.T
	dispatcher *ws.MessageDispatcher
	handlers   *Handlers
	store      *store.Store
	presence   *chattest.Presence
	transport  *chattest.Transport
	ledger     *fakeLedger
	window     *ratelimit.Window
	rooms      *recordRooms
	lobby      *model.Group
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := logging.Nop()
	st := memory.New()
	pr := chattest.NewPresence()
	tr := chattest.NewTransport()
	led := &fakeLedger{sealed: map[string]bool{}, newUsers: map[string]bool{}}
	win := ratelimit.NewWindow()
	rooms := &recordRooms{}

	lobby := &model.Group{Name: "Lobby", IsDefault: true, Members: []string{}}
	require.NoError(t, st.Groups.Create(context.Background(), lobby))

	members := membership.New(st, pr, tr, membership.DefaultConfig(), log)
	messages := chat.New(st, pr, tr, nil, chat.DefaultConfig(), log)
	idCfg := identity.DefaultConfig("secret")
	idCfg.BcryptCost = bcrypt.MinCost
	ids := identity.New(st, pr, led, tr, members, messages, idCfg, log)

	h := New(Deps{
		Store:      st,
		Identity:   ids,
		Membership: members,
		Chat:       messages,
		Roster:     roster.New(st, pr, time.Minute, log),
		Ledger:     led,
		Presence:   pr,
		Rooms:      rooms,
		Counter:    win,
	}, log)

	d := ws.NewMessageDispatcher(log, time.Second)
	d.Use(pipeline.Stages(led, win, pipeline.Config{
		MaxCallPerMinutes:        2,
		NewUserMaxCallPerMinutes: 1,
		SealDuration:             time.Minute,
	}, log)...)
	h.Register(d)

	return &env{t: t, dispatcher: d, handlers: h, store: st, presence: pr, transport: tr,
		ledger: led, window: win, rooms: rooms, lobby: lobby}
}

type ackFrame struct {
	Type  string          `json:"type"`
	Ack   uint64          `json:"ack"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

type client struct {
	env  *env
	conn *ws.Connection
	peer net.Conn
	seq  uint64
}

func (e *env) connect(id, ip string) *client {
	e.t.Helper()
	server, peer := net.Pipe()
	e.t.Cleanup(func() {
		server.Close()
		peer.Close()
	})
	e.presence.Connect(model.Connection{ID: id, IP: ip})
	return &client{env: e, conn: &ws.Connection{ID: id, IP: ip, Conn: server, CreatedAt: time.Now()}, peer: peer}
}

func (c *client) call(event string, data any) ackFrame {
	t := c.env.t
	t.Helper()
	c.seq++
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(protocol.Request{Type: event, Ack: c.seq, Data: payload})
	require.NoError(t, err)

	go c.env.dispatcher.Dispatch(c.conn, frame)

	require.NoError(t, c.peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	raw, _, err := wsutil.ReadServerData(c.peer)
	require.NoError(t, err)
	var out ackFrame
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Equal(t, c.seq, out.Ack)
	return out
}

func (c *client) register(name string) string {
	t := c.env.t
	t.Helper()
	out := c.call(protocol.EventRegister, protocol.CredentialsReq{Username: name, Password: "pw"})
	require.Empty(t, out.Error)
	var sess struct {
		User struct {
			ID string `json:"_id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &sess))
	require.NotEmpty(t, sess.User.ID)
	return sess.User.ID
}

func TestEveryEventRegistered(t *testing.T) {
	e := newEnv(t)
	want := []string{
		protocol.EventRegister, protocol.EventLogin, protocol.EventLoginByToken, protocol.EventGuest,
		protocol.EventSetNotificationToken, protocol.EventAddFriend, protocol.EventDeleteFriend,
		protocol.EventCreateGroup, protocol.EventJoinGroup, protocol.EventLeaveGroup,
		protocol.EventChangeGroupName, protocol.EventChangeGroupAvatar, protocol.EventChangeGroupAnnouncement,
		protocol.EventDeleteGroup, protocol.EventGetGroupBasicInfo, protocol.EventUpdateGroupMemberRole,
		protocol.EventKickGroupMember, protocol.EventPromoteToAdmin, protocol.EventDemoteToMember,
		protocol.EventCreateChannel, protocol.EventSubscribeChannel, protocol.EventUnsubscribeChannel,
		protocol.EventDeleteChannel, protocol.EventGetChannelBasicInfo,
		protocol.EventCreateCommunity, protocol.EventJoinCommunity, protocol.EventLeaveCommunity,
		protocol.EventAddGroupToCommunity, protocol.EventAddChannelToCommunity,
		protocol.EventPromoteMemberToAdmin, protocol.EventDemoteMemberFromAdmin,
		protocol.EventDeleteCommunity, protocol.EventGetCommunity,
		protocol.EventSendMessage, protocol.EventGetLinkmansLastMessages, protocol.EventGetLinkmansLastMessagesV2,
		protocol.EventGetLinkmanHistoryMessages, protocol.EventGetDefaultGroupHistoryMessages,
		protocol.EventDeleteMessage, protocol.EventSendTypingIndicator, protocol.EventSendReadReceipt,
		protocol.EventSendDeliveryReceipt, protocol.EventGetMessageReadStatus, protocol.EventUpdateHistory,
		protocol.EventGetGroupOnlineMembers, protocol.EventGetGroupOnlineMembersV2,
		protocol.EventGetDefaultGroupOnlineMembers, protocol.EventGetUserOnlineStatus,
		protocol.EventSealUser, protocol.EventSealIP, protocol.EventSealUserOnlineIP, protocol.EventGetSealList,
		protocol.EventToggleSendMessage, protocol.EventToggleNewUserSendMessage,
		protocol.EventResetUserPassword, protocol.EventSetUserTag,
	}
	assert.ElementsMatch(t, want, e.dispatcher.Events())
}

func TestRegisterAndSendMessage(t *testing.T) {
	e := newEnv(t)
	alice := e.connect("c-alice", "10.0.0.1")

	out := alice.call(protocol.EventSendMessage, protocol.SendMessageReq{To: e.lobby.ID, Content: "hi"})
	assert.Equal(t, pipeline.ReasonLogin, out.Error)

	aliceID := alice.register("alice")
	e.ledger.settle(aliceID)

	out = alice.call(protocol.EventSendMessage, protocol.SendMessageReq{To: e.lobby.ID, Type: "text", Content: "hello"})
	require.Empty(t, out.Error)
	var msg chat.MessageView
	require.NoError(t, json.Unmarshal(out.Data, &msg))
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, aliceID, msg.From.ID)

	emits := e.transport.Emits(protocol.PushMessage)
	require.Len(t, emits, 1)
	assert.Equal(t, e.lobby.ID, emits[0].Room)

	out = alice.call(protocol.EventGetLinkmanHistoryMessages, protocol.HistoryReq{LinkmanID: e.lobby.ID})
	require.Empty(t, out.Error)
	var history []chat.MessageView
	require.NoError(t, json.Unmarshal(out.Data, &history))
	require.Len(t, history, 1)

	out = alice.call(protocol.EventSendMessage, protocol.SendMessageReq{To: model.NewID(), Content: "x"})
	assert.Equal(t, "target does not exist", out.Error)
}

func TestPublicEventsWithoutLogin(t *testing.T) {
	e := newEnv(t)
	guest := e.connect("c-guest", "10.0.0.9")

	out := guest.call(protocol.EventGuest, struct{}{})
	require.Empty(t, out.Error)
	assert.Equal(t, []string{"c-guest"}, e.transport.InRoom(e.lobby.ID))

	out = guest.call(protocol.EventGetDefaultGroupOnlineMembers, struct{}{})
	assert.Empty(t, out.Error)

	out = guest.call(protocol.EventGetGroupBasicInfo, protocol.GroupRef{GroupID: e.lobby.ID})
	require.Empty(t, out.Error)
	var info membership.GroupInfo
	require.NoError(t, json.Unmarshal(out.Data, &info))
	assert.Equal(t, "Lobby", info.Name)

	out = guest.call(protocol.EventCreateGroup, protocol.CreateGroupReq{Name: "G"})
	assert.Equal(t, pipeline.ReasonLogin, out.Error)
}

func TestNewUserRateLimitSeals(t *testing.T) {
	e := newEnv(t)
	bob := e.connect("c-bob", "10.0.0.2")
	bobID := bob.register("bob")

	out := bob.call(protocol.EventSendMessage, protocol.SendMessageReq{To: e.lobby.ID, Content: "1"})
	require.Empty(t, out.Error)
	out = bob.call(protocol.EventSendMessage, protocol.SendMessageReq{To: e.lobby.ID, Content: "2"})
	assert.Equal(t, pipeline.ReasonRateLimited, out.Error)
	assert.True(t, e.ledger.isSealed("user:"+bobID))

	// The seal now blocks every event.
	out = bob.call(protocol.EventGetUserOnlineStatus, protocol.UserRef{UserID: bobID})
	assert.Equal(t, pipeline.ReasonDenied, out.Error)
}

func TestAdminOperations(t *testing.T) {
	e := newEnv(t)
	admin := e.connect("c-admin", "10.0.0.1")
	adminID := admin.register("root")
	user := e.connect("c-user", "10.0.0.2")
	userID := user.register("mallory")

	out := user.call(protocol.EventSealUser, protocol.UsernameReq{Username: "root"})
	assert.Equal(t, pipeline.ReasonAdmin, out.Error)

	admin.conn.Bind(adminID, true)

	out = admin.call(protocol.EventToggleSendMessage, protocol.ToggleReq{Enable: false})
	require.Empty(t, out.Error)
	out = user.call(protocol.EventSendMessage, protocol.SendMessageReq{To: e.lobby.ID, Content: "spam"})
	assert.Equal(t, pipeline.ReasonMuted, out.Error)

	// Administrators are not muted.
	out = admin.call(protocol.EventSendMessage, protocol.SendMessageReq{To: e.lobby.ID, Content: "notice"})
	assert.Empty(t, out.Error)

	out = admin.call(protocol.EventSealUserOnlineIP, protocol.UserRef{UserID: userID})
	require.Empty(t, out.Error)
	assert.JSONEq(t, `{"ips":["10.0.0.2"]}`, string(out.Data))

	out = admin.call(protocol.EventSealUser, protocol.UsernameReq{Username: "mallory"})
	require.Empty(t, out.Error)
	out = admin.call(protocol.EventSealUser, protocol.UsernameReq{Username: "mallory"})
	assert.Equal(t, "already sealed", out.Error)
	out = admin.call(protocol.EventSealUser, protocol.UsernameReq{Username: "nobody"})
	assert.Equal(t, "user does not exist", out.Error)

	out = admin.call(protocol.EventSealIP, protocol.IPReq{IP: "not-an-ip"})
	assert.Equal(t, "invalid ip address", out.Error)

	out = admin.call(protocol.EventGetSealList, struct{}{})
	require.Empty(t, out.Error)
	var list SealList
	require.NoError(t, json.Unmarshal(out.Data, &list))
	require.Len(t, list.Users, 1)
	assert.Equal(t, userID, list.Users[0].Target)
	require.Len(t, list.IPs, 1)
	assert.Equal(t, "10.0.0.2", list.IPs[0].Target)

	out = admin.call(protocol.EventResetUserPassword, protocol.UsernameReq{Username: "mallory"})
	require.Empty(t, out.Error)
	assert.Contains(t, string(out.Data), "newPassword")
}

func TestOnDisconnectReleasesState(t *testing.T) {
	e := newEnv(t)
	c := e.connect("c-1", "10.0.0.3")
	c.register("carol")
	e.window.Allow("c-1", 10)

	e.handlers.OnDisconnect(c.conn)
	assert.Equal(t, []string{"c-1"}, e.rooms.dropped)
	assert.Equal(t, 0, e.window.Count("c-1"))
}

package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fiora/chat-app/internal/apperr"
	"github.com/fiora/chat-app/internal/chattest"
	"github.com/fiora/chat-app/internal/logging"
	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/notify"
	"github.com/fiora/chat-app/internal/protocol"
	"github.com/fiora/chat-app/internal/store"
	"github.com/fiora/chat-app/internal/store/memory"
)

type recordPusher struct {
	mu      sync.Mutex
	batches [][]notify.Message
}

func (p *recordPusher) Send(_ context.Context, msgs []notify.Message) ([]notify.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, msgs)
	out := make([]notify.Result, len(msgs))
	for i, m := range msgs {
		out[i] = notify.Result{Token: m.Token}
	}
	return out, nil
}

func (p *recordPusher) tokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, b := range p.batches {
		for _, m := range b {
			out = append(out, m.Token)
		}
	}
	return out
}

type fixture struct {
	engine    *Engine
	store     *store.Store
	transport *chattest.Transport
	presence  *chattest.Presence
	pusher    *recordPusher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	tr := chattest.NewTransport()
	pr := chattest.NewPresence()
	pu := &recordPusher{}
	e := New(st, pr, tr, pu, DefaultConfig(), logging.Nop())
	clock := time.Unix(1700000000, 0)
	e.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	e.intn = func(n int) int { return n - 1 }
	return &fixture{engine: e, store: st, transport: tr, presence: pr, pusher: pu}
}

func (f *fixture) user(t *testing.T, name string) string {
	t.Helper()
	u := &model.User{Username: name}
	require.NoError(t, f.store.Users.Create(context.Background(), u))
	return u.ID
}

func (f *fixture) group(t *testing.T, name string, isDefault bool, members ...string) *model.Group {
	t.Helper()
	g := &model.Group{Name: name, Creator: members[0], IsDefault: isDefault, Members: members}
	require.NoError(t, f.store.Groups.Create(context.Background(), g))
	return g
}

func (f *fixture) online(userID, connID string) {
	f.presence.Connect(model.Connection{ID: connID, UserID: userID})
}

func (f *fixture) token(t *testing.T, userID, token string) {
	t.Helper()
	require.NoError(t, f.store.NotificationTokens.Create(context.Background(), &model.NotificationToken{
		UserID: userID, Token: token,
	}))
}

func as(userID, connID string) Actor { return Actor{UserID: userID, ConnID: connID} }

func TestSendRollCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice")
	g := f.group(t, "G", false, alice)

	cases := []struct {
		text string
		top  int
	}{
		{"-roll 10", 10},
		{"-roll", 100},
		{"-roll 1234567", 99999},
	}
	for _, tc := range cases {
		v, err := f.engine.SendMessage(ctx, as(alice, "c1"), g.ID, model.MessageText, tc.text)
		require.NoError(t, err, tc.text)
		assert.Equal(t, model.MessageSystem, v.Type)

		stored, err := f.store.Messages.Get(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, model.MessageSystem, stored.Type)

		var roll RollCommand
		require.NoError(t, json.Unmarshal([]byte(stored.Content), &roll))
		assert.Equal(t, "roll", roll.Command)
		assert.Equal(t, tc.top, roll.Top)
		assert.GreaterOrEqual(t, roll.Value, 0)
		assert.LessOrEqual(t, roll.Value, tc.top)
	}

	v, err := f.engine.SendMessage(ctx, as(alice, "c1"), g.ID, model.MessageText, "-rps")
	require.NoError(t, err)
	var rps RPSCommand
	require.NoError(t, json.Unmarshal([]byte(v.Content), &rps))
	assert.Equal(t, "scissors", rps.Value)

	// Not a command: trailing text.
	v, err = f.engine.SendMessage(ctx, as(alice, "c1"), g.ID, model.MessageText, "-roll dice")
	require.NoError(t, err)
	assert.Equal(t, model.MessageText, v.Type)
}

func TestSendGroupMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	g := f.group(t, "G", false, alice, bob, carol)
	f.online(alice, "c-alice")
	f.online(carol, "c-carol")
	f.token(t, bob, "tok-bob")
	f.token(t, carol, "tok-carol")
	f.token(t, alice, "tok-alice")

	v, err := f.engine.SendMessage(ctx, as(alice, "c-alice"), g.ID, "", "<b>hi</b>")
	require.NoError(t, err)
	assert.Equal(t, "&lt;b&gt;hi&lt;/b&gt;", v.Content)
	assert.Equal(t, "alice", v.From.Username)

	emits := f.transport.Emits(protocol.PushMessage)
	require.Len(t, emits, 1)
	assert.Equal(t, g.ID, emits[0].Room)

	// Only the member without a live connection is notified.
	assert.Equal(t, []string{"tok-bob"}, f.pusher.tokens())

	hs, err := f.store.Histories.ListByUser(ctx, alice, []string{g.ID})
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.Equal(t, v.ID, hs[0].MessageID)
}

func TestSendMessageRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	g := f.group(t, "G", false, alice)
	ch := &model.Channel{Name: "news", Creator: alice, Subscribers: []string{bob}}
	require.NoError(t, f.store.Channels.Create(ctx, ch))

	cases := []struct {
		name    string
		actor   string
		to      string
		typ     model.MessageType
		content string
		want    error
	}{
		{"not a member", bob, g.ID, model.MessageText, "hi", apperr.ErrPermission},
		{"channel subscriber posts", bob, ch.ID, model.MessageText, "hi", apperr.ErrPermission},
		{"unknown target", alice, model.NewID(), model.MessageText, "hi", apperr.ErrNotFound},
		{"direct to self stranger", alice, model.DirectID(bob, model.NewID()), model.MessageText, "hi", apperr.ErrNotFound},
		{"direct to missing user", alice, model.DirectID(alice, model.NewID()), model.MessageText, "hi", apperr.ErrNotFound},
		{"system type", alice, g.ID, model.MessageSystem, "hi", apperr.ErrValidation},
		{"unknown type", alice, g.ID, "video", "hi", apperr.ErrValidation},
		{"empty text", alice, g.ID, model.MessageText, "", apperr.ErrValidation},
		{"too long", alice, g.ID, model.MessageText, strings.Repeat("x", 2049), apperr.ErrValidation},
		{"file too big", alice, g.ID, model.MessageFile, `{"filename":"a.iso","size":104857601}`, apperr.ErrValidation},
		{"file not json", alice, g.ID, model.MessageFile, "a.iso", apperr.ErrValidation},
		{"invite unknown group", alice, g.ID, model.MessageInvite, model.NewID(), apperr.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.SendMessage(ctx, as(tc.actor, ""), tc.to, tc.typ, tc.content)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	v, err := f.engine.SendMessage(ctx, as(alice, ""), ch.ID, model.MessageText, "breaking")
	require.NoError(t, err)
	assert.Equal(t, ch.ID, v.To)
}

func TestSendInviteEmbedsGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice")
	g := f.group(t, "G", false, alice)
	other := f.group(t, "Other", false, alice)

	v, err := f.engine.SendMessage(ctx, as(alice, ""), g.ID, model.MessageInvite, other.ID)
	require.NoError(t, err)

	var inv InviteContent
	require.NoError(t, json.Unmarshal([]byte(v.Content), &inv))
	assert.Equal(t, InviteContent{Inviter: alice, InviterName: "alice", Group: other.ID, GroupName: "Other"}, inv)
}

func TestSendDirectMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	f.online(alice, "a1")
	f.online(alice, "a2")
	f.online(bob, "b1")
	f.token(t, bob, "tok-bob")

	assert.Equal(t, model.DirectID(alice, bob), model.DirectID(bob, alice))
	to := model.DirectID(bob, alice)

	v, err := f.engine.SendMessage(ctx, as(alice, "a1"), to, model.MessageText, "hey")
	require.NoError(t, err)
	assert.Equal(t, to, v.To)

	emits := f.transport.Emits(protocol.PushMessage)
	require.Len(t, emits, 1)
	assert.Equal(t, []string{"a2", "b1"}, emits[0].ConnIDs)
	assert.Empty(t, f.pusher.tokens())

	f.presence.Disconnect("b1")
	f.transport.Reset()
	_, err = f.engine.SendMessage(ctx, as(alice, "a1"), to, model.MessageText, "still there?")
	require.NoError(t, err)
	emits = f.transport.Emits(protocol.PushMessage)
	require.Len(t, emits, 1)
	assert.Equal(t, []string{"a2"}, emits[0].ConnIDs)
	assert.Equal(t, []string{"tok-bob"}, f.pusher.tokens())

	// A third user cannot route through someone else's pair.
	carol := f.user(t, "carol")
	_, err = f.engine.SendMessage(ctx, as(carol, ""), to, model.MessageText, "hi")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReceiptsAreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	g := f.group(t, "G", false, alice, bob)
	f.online(alice, "c-alice")

	v, err := f.engine.SendMessage(ctx, as(alice, "c-alice"), g.ID, model.MessageText, "hello")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, f.engine.SendReadReceipt(ctx, as(bob, ""), v.ID))
		require.NoError(t, f.engine.SendDeliveryReceipt(ctx, as(bob, ""), v.ID))
	}

	m, err := f.store.Messages.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{bob}, m.ReadBy)
	assert.Equal(t, []string{bob}, m.DeliveredTo)

	reads := f.transport.Emits(protocol.PushReadReceipt)
	require.Len(t, reads, 1)
	assert.Equal(t, []string{"c-alice"}, reads[0].ConnIDs)
	assert.Equal(t, protocol.ReceiptPush{MessageID: v.ID, UserID: bob}, reads[0].Payload)
	assert.Len(t, f.transport.Emits(protocol.PushDeliveryReceipt), 1)

	// Reading moved bob's pointer.
	hs, err := f.store.Histories.ListByUser(ctx, bob, []string{g.ID})
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.Equal(t, v.ID, hs[0].MessageID)

	// The author's own receipt is a no-op.
	require.NoError(t, f.engine.SendReadReceipt(ctx, as(alice, ""), v.ID))
	m, _ = f.store.Messages.Get(ctx, v.ID)
	assert.Equal(t, []string{bob}, m.ReadBy)

	err = f.engine.SendReadReceipt(ctx, as(carol, ""), v.ID)
	assert.ErrorIs(t, err, apperr.ErrPermission)

	err = f.engine.SendReadReceipt(ctx, as(bob, ""), model.NewID())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	st, err := f.engine.GetMessageReadStatus(ctx, as(alice, ""), v.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{bob}, st.ReadBy)
	assert.Equal(t, []string{bob}, st.DeliveredTo)
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	g := f.group(t, "G", false, alice, bob)

	v, err := f.engine.SendMessage(ctx, as(alice, ""), g.ID, model.MessageText, "oops")
	require.NoError(t, err)

	err = f.engine.DeleteMessage(ctx, as(bob, ""), v.ID)
	assert.ErrorIs(t, err, apperr.ErrPermission)

	require.NoError(t, f.engine.DeleteMessage(ctx, as(alice, ""), v.ID))
	m, err := f.store.Messages.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, m.Deleted)
	assert.Equal(t, "oops", m.Content)

	dels := f.transport.Emits(protocol.PushDeleteMessage)
	require.Len(t, dels, 1)
	assert.Equal(t, g.ID, dels[0].Room)

	history, err := f.engine.GetLinkmanHistoryMessages(ctx, as(bob, ""), g.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Deleted)
	assert.Empty(t, history[0].Content)

	admin := Actor{UserID: bob, IsAdmin: true}
	require.NoError(t, f.engine.DeleteMessage(ctx, admin, v.ID))
	_, err = f.store.Messages.Get(ctx, v.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteDirectMessageNotifiesBothSides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	f.online(alice, "a1")
	f.online(bob, "b1")

	v, err := f.engine.SendMessage(ctx, as(alice, "a1"), model.DirectID(alice, bob), model.MessageText, "hi")
	require.NoError(t, err)
	require.NoError(t, f.engine.DeleteMessage(ctx, as(alice, "a1"), v.ID))

	dels := f.transport.Emits(protocol.PushDeleteMessage)
	require.Len(t, dels, 1)
	assert.Equal(t, []string{"a1", "b1"}, dels[0].ConnIDs)
}

func TestDirectTokenIsOrderIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	canonical := model.DirectID(alice, bob)
	reversed := canonical[model.IDLength:] + canonical[:model.IDLength]
	require.NotEqual(t, canonical, reversed)

	first, err := f.engine.SendMessage(ctx, as(alice, ""), canonical, model.MessageText, "hi bob")
	require.NoError(t, err)
	second, err := f.engine.SendMessage(ctx, as(bob, ""), reversed, model.MessageText, "hi alice")
	require.NoError(t, err)
	assert.Equal(t, canonical, first.To)
	assert.Equal(t, canonical, second.To)

	for _, token := range []string{canonical, reversed} {
		page, err := f.engine.GetLinkmanHistoryMessages(ctx, as(alice, ""), token, 0)
		require.NoError(t, err)
		require.Len(t, page, 2, token)
		assert.Equal(t, first.ID, page[0].ID)
		assert.Equal(t, second.ID, page[1].ID)
	}

	// The pointer set through the reversed token counts Bob's reply as unread.
	require.NoError(t, f.engine.UpdateHistory(ctx, as(alice, ""), reversed, first.ID))
	got, err := f.engine.GetLinkmansLastMessagesV2(ctx, as(alice, ""), []string{reversed})
	require.NoError(t, err)
	assert.Len(t, got[reversed].Messages, 2)
	assert.Equal(t, 1, got[reversed].Unread)
}

func TestDirectToSelfRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice")
	self := alice + alice

	_, err := f.engine.SendMessage(ctx, as(alice, ""), self, model.MessageText, "note to self")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	recent, err := f.store.Messages.Recent(ctx, self, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)

	_, err = f.engine.GetLinkmanHistoryMessages(ctx, as(alice, ""), self, 0)
	assert.ErrorIs(t, err, apperr.ErrPermission)
}

func TestUnreadCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	g := f.group(t, "G", false, alice, bob)
	direct := model.DirectID(alice, bob)

	var first string
	for i := 0; i < 3; i++ {
		v, err := f.engine.SendMessage(ctx, as(alice, ""), g.ID, model.MessageText, "m")
		require.NoError(t, err)
		if i == 0 {
			first = v.ID
		}
	}
	_, err := f.engine.SendMessage(ctx, as(alice, ""), direct, model.MessageText, "dm")
	require.NoError(t, err)

	require.NoError(t, f.engine.UpdateHistory(ctx, as(bob, ""), g.ID, first))
	err = f.engine.UpdateHistory(ctx, as(bob, ""), direct, first)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	got, err := f.engine.GetLinkmansLastMessagesV2(ctx, as(bob, ""), []string{g.ID, direct})
	require.NoError(t, err)
	assert.Len(t, got[g.ID].Messages, 3)
	assert.Equal(t, 2, got[g.ID].Unread)
	assert.Len(t, got[direct].Messages, 1)
	assert.Equal(t, 0, got[direct].Unread)

	// Someone else's direct conversation is skipped.
	carol := f.user(t, "carol")
	last, err := f.engine.GetLinkmansLastMessages(ctx, as(carol, ""), []string{g.ID, direct})
	require.NoError(t, err)
	assert.Contains(t, last, g.ID)
	assert.NotContains(t, last, direct)

	_, err = f.engine.GetLinkmanHistoryMessages(ctx, as(carol, ""), direct, 0)
	assert.ErrorIs(t, err, apperr.ErrPermission)
}

func TestHistoryPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice")
	g := f.group(t, "G", false, alice)

	var ids []string
	for i := 0; i < 20; i++ {
		v, err := f.engine.SendMessage(ctx, as(alice, ""), g.ID, model.MessageText, "m")
		require.NoError(t, err)
		ids = append(ids, v.ID)
	}

	page, err := f.engine.GetLinkmanHistoryMessages(ctx, as(alice, ""), g.ID, 0)
	require.NoError(t, err)
	require.Len(t, page, 15)
	assert.Equal(t, ids[5], page[0].ID)
	assert.Equal(t, ids[19], page[14].ID)

	page, err = f.engine.GetLinkmanHistoryMessages(ctx, as(alice, ""), g.ID, 15)
	require.NoError(t, err)
	require.Len(t, page, 5)
	assert.Equal(t, ids[0], page[0].ID)
}

func TestDefaultGroupHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice")
	g := f.group(t, "Lobby", true, alice)

	// Messages stored before the process started are loaded on first read.
	early := &model.Message{From: alice, To: g.ID, Type: model.MessageText, Content: "early", CreatedAt: time.Unix(1600000000, 0)}
	require.NoError(t, f.store.Messages.Create(ctx, early))

	var ids []string
	for i := 0; i < 19; i++ {
		v, err := f.engine.SendMessage(ctx, as(alice, ""), g.ID, model.MessageText, "m")
		require.NoError(t, err)
		ids = append(ids, v.ID)
	}

	page, err := f.engine.GetDefaultGroupHistoryMessages(ctx, 0)
	require.NoError(t, err)
	require.Len(t, page, 15)
	assert.Equal(t, ids[18], page[14].ID)

	page, err = f.engine.GetDefaultGroupHistoryMessages(ctx, 15)
	require.NoError(t, err)
	require.Len(t, page, 5)
	assert.Equal(t, early.ID, page[0].ID)

	// The buffer serves the newest page even after the row is gone.
	require.NoError(t, f.store.Messages.Delete(ctx, ids[18]))
	page, err = f.engine.GetDefaultGroupHistoryMessages(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, ids[18], page[14].ID)

	_, err = f.engine.GetDefaultGroupHistoryMessages(ctx, -1)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestTypingIndicator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	g := f.group(t, "G", false, alice, bob)
	f.online(bob, "b1")

	require.NoError(t, f.engine.SendTypingIndicator(ctx, as(alice, ""), g.ID, true))
	require.NoError(t, f.engine.SendTypingIndicator(ctx, as(alice, ""), model.DirectID(alice, bob), false))

	typing := f.transport.Emits(protocol.PushTyping)
	require.Len(t, typing, 2)
	assert.Equal(t, g.ID, typing[0].Room)
	assert.Equal(t, []string{"b1"}, typing[1].ConnIDs)
	assert.Equal(t, protocol.TypingPush{From: alice, To: model.DirectID(alice, bob), IsTyping: false}, typing[1].Payload)

	err := f.engine.SendTypingIndicator(ctx, as(carol, ""), g.ID, true)
	assert.ErrorIs(t, err, apperr.ErrPermission)
}

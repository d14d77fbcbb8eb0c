// Package memory is an in-process implementation of the store interfaces.
// Records are copied on the way in and out so callers never share state
// with the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/store"
)

type db struct {
	mu          sync.RWMutex
	users       map[string]*model.User
	groups      map[string]*model.Group
	channels    map[string]*model.Channel
	communities map[string]*model.Community
	messages    map[string]*model.Message
	histories   map[[2]string]*model.History
	tokens      map[string]*model.NotificationToken
	friends     map[[2]string]*model.Friend
}

// New returns an empty in-memory store.
func New() *store.Store {
	d := &db{
		users:       make(map[string]*model.User),
		groups:      make(map[string]*model.Group),
		channels:    make(map[string]*model.Channel),
		communities: make(map[string]*model.Community),
		messages:    make(map[string]*model.Message),
		histories:   make(map[[2]string]*model.History),
		tokens:      make(map[string]*model.NotificationToken),
		friends:     make(map[[2]string]*model.Friend),
	}
	return &store.Store{
		Users:              users{d},
		Groups:             groups{d},
		Channels:           channels{d},
		Communities:        communities{d},
		Messages:           messages{d},
		Histories:          histories{d},
		NotificationTokens: tokens{d},
		Friends:            friends{d},
	}
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneRoles(r []model.MemberRole) []model.MemberRole {
	if r == nil {
		return nil
	}
	return append([]model.MemberRole(nil), r...)
}

func has(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// --- users ---

type users struct{ d *db }

func cloneUser(u *model.User) *model.User {
	c := *u
	c.Expressions = cloneStrings(u.Expressions)
	return &c
}

func (r users) Create(_ context.Context, u *model.User) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, existing := range r.d.users {
		if existing.Username == u.Username {
			return store.ErrDuplicate
		}
	}
	if u.ID == "" {
		u.ID = model.NewID()
	}
	r.d.users[u.ID] = cloneUser(u)
	return nil
}

func (r users) Get(_ context.Context, id string) (*model.User, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	u, ok := r.d.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r users) GetByName(_ context.Context, username string) (*model.User, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	for _, u := range r.d.users {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r users) GetMany(_ context.Context, ids []string) ([]*model.User, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	out := make([]*model.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := r.d.users[id]; ok {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

func (r users) update(id string, fn func(u *model.User)) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	u, ok := r.d.users[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(u)
	return nil
}

func (r users) UpdateLogin(_ context.Context, id string, at time.Time, ip string) error {
	return r.update(id, func(u *model.User) {
		u.LastLoginTime = at
		u.LastLoginIP = ip
	})
}

func (r users) UpdatePassword(_ context.Context, id, hash string) error {
	return r.update(id, func(u *model.User) { u.PasswordHash = hash })
}

func (r users) UpdateTag(_ context.Context, id, tag string) error {
	return r.update(id, func(u *model.User) { u.Tag = tag })
}

// --- groups ---

type groups struct{ d *db }

func cloneGroup(g *model.Group) *model.Group {
	c := *g
	c.Members = cloneStrings(g.Members)
	c.MemberRoles = cloneRoles(g.MemberRoles)
	return &c
}

func (r groups) Create(_ context.Context, g *model.Group) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, existing := range r.d.groups {
		if existing.Name == g.Name {
			return store.ErrDuplicate
		}
	}
	if g.ID == "" {
		g.ID = model.NewID()
	}
	r.d.groups[g.ID] = cloneGroup(g)
	return nil
}

func (r groups) Get(_ context.Context, id string) (*model.Group, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	g, ok := r.d.groups[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneGroup(g), nil
}

func (r groups) GetByName(_ context.Context, name string) (*model.Group, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	for _, g := range r.d.groups {
		if g.Name == name {
			return cloneGroup(g), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r groups) GetDefault(_ context.Context) (*model.Group, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	for _, g := range r.d.groups {
		if g.IsDefault {
			return cloneGroup(g), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r groups) GetMany(_ context.Context, ids []string) ([]*model.Group, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	out := make([]*model.Group, 0, len(ids))
	for _, id := range ids {
		if g, ok := r.d.groups[id]; ok {
			out = append(out, cloneGroup(g))
		}
	}
	return out, nil
}

func (r groups) ListByMember(_ context.Context, userID string) ([]*model.Group, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	var out []*model.Group
	for _, g := range r.d.groups {
		if has(g.Members, userID) {
			out = append(out, cloneGroup(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r groups) Update(_ context.Context, g *model.Group) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.groups[g.ID]; !ok {
		return store.ErrNotFound
	}
	for id, existing := range r.d.groups {
		if id != g.ID && existing.Name == g.Name {
			return store.ErrDuplicate
		}
	}
	r.d.groups[g.ID] = cloneGroup(g)
	return nil
}

func (r groups) Delete(_ context.Context, id string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.groups[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.d.groups, id)
	return nil
}

func (r groups) DeleteMany(_ context.Context, ids []string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, id := range ids {
		delete(r.d.groups, id)
	}
	return nil
}

// --- channels ---

type channels struct{ d *db }

func cloneChannel(c *model.Channel) *model.Channel {
	out := *c
	out.Subscribers = cloneStrings(c.Subscribers)
	return &out
}

func (r channels) Create(_ context.Context, c *model.Channel) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, existing := range r.d.channels {
		if existing.Name == c.Name {
			return store.ErrDuplicate
		}
	}
	if c.ID == "" {
		c.ID = model.NewID()
	}
	r.d.channels[c.ID] = cloneChannel(c)
	return nil
}

func (r channels) Get(_ context.Context, id string) (*model.Channel, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	c, ok := r.d.channels[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneChannel(c), nil
}

func (r channels) GetByName(_ context.Context, name string) (*model.Channel, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	for _, c := range r.d.channels {
		if c.Name == name {
			return cloneChannel(c), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r channels) GetMany(_ context.Context, ids []string) ([]*model.Channel, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	out := make([]*model.Channel, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.d.channels[id]; ok {
			out = append(out, cloneChannel(c))
		}
	}
	return out, nil
}

func (r channels) ListBySubscriber(_ context.Context, userID string) ([]*model.Channel, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	var out []*model.Channel
	for _, c := range r.d.channels {
		if c.Creator == userID || has(c.Subscribers, userID) {
			out = append(out, cloneChannel(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r channels) Update(_ context.Context, c *model.Channel) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.channels[c.ID]; !ok {
		return store.ErrNotFound
	}
	r.d.channels[c.ID] = cloneChannel(c)
	return nil
}

func (r channels) Delete(_ context.Context, id string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.channels[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.d.channels, id)
	return nil
}

// --- communities ---

type communities struct{ d *db }

func cloneCommunity(c *model.Community) *model.Community {
	out := *c
	out.Members = cloneRoles(c.Members)
	out.Groups = cloneStrings(c.Groups)
	out.Channels = cloneStrings(c.Channels)
	return &out
}

func (r communities) Create(_ context.Context, c *model.Community) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	for _, existing := range r.d.communities {
		if existing.Name == c.Name {
			return store.ErrDuplicate
		}
	}
	if c.ID == "" {
		c.ID = model.NewID()
	}
	r.d.communities[c.ID] = cloneCommunity(c)
	return nil
}

func (r communities) Get(_ context.Context, id string) (*model.Community, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	c, ok := r.d.communities[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneCommunity(c), nil
}

func (r communities) GetByName(_ context.Context, name string) (*model.Community, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	for _, c := range r.d.communities {
		if c.Name == name {
			return cloneCommunity(c), nil
		}
	}
	return nil, store.ErrNotFound
}

func (r communities) ListByMember(_ context.Context, userID string) ([]*model.Community, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	var out []*model.Community
	for _, c := range r.d.communities {
		for _, m := range c.Members {
			if m.UserID == userID {
				out = append(out, cloneCommunity(c))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r communities) Update(_ context.Context, c *model.Community) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.communities[c.ID]; !ok {
		return store.ErrNotFound
	}
	r.d.communities[c.ID] = cloneCommunity(c)
	return nil
}

func (r communities) Delete(_ context.Context, id string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.communities[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.d.communities, id)
	return nil
}

// --- messages ---

type messages struct{ d *db }

func cloneMessage(m *model.Message) *model.Message {
	out := *m
	out.DeliveredTo = cloneStrings(m.DeliveredTo)
	out.ReadBy = cloneStrings(m.ReadBy)
	return &out
}

func (r messages) Create(_ context.Context, m *model.Message) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if m.ID == "" {
		m.ID = model.NewID()
	}
	if _, ok := r.d.messages[m.ID]; ok {
		return store.ErrDuplicate
	}
	r.d.messages[m.ID] = cloneMessage(m)
	return nil
}

func (r messages) Get(_ context.Context, id string) (*model.Message, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	m, ok := r.d.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneMessage(m), nil
}

// byTo returns the messages to `to` newest first. Caller holds the lock.
func (r messages) byTo(to string) []*model.Message {
	var list []*model.Message
	for _, m := range r.d.messages {
		if m.To == to {
			list = append(list, m)
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}

func (r messages) Recent(_ context.Context, to string, skip, limit int) ([]*model.Message, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	list := r.byTo(to)
	if skip >= len(list) {
		return []*model.Message{}, nil
	}
	list = list[skip:]
	if limit < len(list) {
		list = list[:limit]
	}
	out := make([]*model.Message, len(list))
	for i, m := range list {
		out[len(list)-1-i] = cloneMessage(m)
	}
	return out, nil
}

func (r messages) CountAfter(_ context.Context, to, messageID string, limit int) (int, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	pivot, ok := r.d.messages[messageID]
	if !ok {
		return 0, nil
	}
	n := 0
	for _, m := range r.d.messages {
		if m.To == to && m.CreatedAt.After(pivot.CreatedAt) {
			n++
			if n >= limit {
				break
			}
		}
	}
	return n, nil
}

func (r messages) MarkDeleted(_ context.Context, id string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	m, ok := r.d.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	m.Deleted = true
	return nil
}

func (r messages) Delete(_ context.Context, id string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.messages[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.d.messages, id)
	return nil
}

func (r messages) AddReceipt(_ context.Context, id, userID string, kind store.Receipt) (bool, error) {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	m, ok := r.d.messages[id]
	if !ok {
		return false, store.ErrNotFound
	}
	set := &m.DeliveredTo
	if kind == store.ReceiptRead {
		set = &m.ReadBy
	}
	if has(*set, userID) {
		return false, nil
	}
	*set = append(*set, userID)
	return true, nil
}

// --- histories ---

type histories struct{ d *db }

func (r histories) Upsert(_ context.Context, h *model.History) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	c := *h
	r.d.histories[[2]string{h.UserID, h.LinkmanID}] = &c
	return nil
}

func (r histories) ListByUser(_ context.Context, userID string, linkmanIDs []string) ([]*model.History, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	var out []*model.History
	for _, id := range linkmanIDs {
		if h, ok := r.d.histories[[2]string{userID, id}]; ok {
			c := *h
			out = append(out, &c)
		}
	}
	return out, nil
}

// --- notification tokens ---

type tokens struct{ d *db }

func (r tokens) Create(_ context.Context, t *model.NotificationToken) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if t.ID == "" {
		t.ID = model.NewID()
	}
	c := *t
	r.d.tokens[t.ID] = &c
	return nil
}

func (r tokens) list(match func(*model.NotificationToken) bool) []*model.NotificationToken {
	var out []*model.NotificationToken
	for _, t := range r.d.tokens {
		if match(t) {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r tokens) ListByUser(_ context.Context, userID string) ([]*model.NotificationToken, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	return r.list(func(t *model.NotificationToken) bool { return t.UserID == userID }), nil
}

func (r tokens) ListByUsers(_ context.Context, userIDs []string) ([]*model.NotificationToken, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	return r.list(func(t *model.NotificationToken) bool { return has(userIDs, t.UserID) }), nil
}

func (r tokens) Delete(_ context.Context, id string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	if _, ok := r.d.tokens[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.d.tokens, id)
	return nil
}

// --- friends ---

type friends struct{ d *db }

func (r friends) Create(_ context.Context, f *model.Friend) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	key := [2]string{f.From, f.To}
	if _, ok := r.d.friends[key]; ok {
		return store.ErrDuplicate
	}
	c := *f
	r.d.friends[key] = &c
	return nil
}

func (r friends) Delete(_ context.Context, from, to string) error {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	key := [2]string{from, to}
	if _, ok := r.d.friends[key]; !ok {
		return store.ErrNotFound
	}
	delete(r.d.friends, key)
	return nil
}

func (r friends) ListByUser(_ context.Context, from string) ([]*model.Friend, error) {
	r.d.mu.RLock()
	defer r.d.mu.RUnlock()
	var out []*model.Friend
	for _, f := range r.d.friends {
		if f.From == from {
			c := *f
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

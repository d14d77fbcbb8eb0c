// Package store defines the document-store collaborator the engines read and
// write through. Implementations live in store/postgres and store/memory.
//
// Update methods replace the whole document; concurrent writers to the same
// Group or Community resolve as last-writer-wins.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fiora/chat-app/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique key (name, pair) already exists.
	ErrDuplicate = errors.New("duplicate")
)

type Users interface {
	Create(ctx context.Context, u *model.User) error
	Get(ctx context.Context, id string) (*model.User, error)
	GetByName(ctx context.Context, username string) (*model.User, error)
	GetMany(ctx context.Context, ids []string) ([]*model.User, error)
	UpdateLogin(ctx context.Context, id string, at time.Time, ip string) error
	UpdatePassword(ctx context.Context, id, hash string) error
	UpdateTag(ctx context.Context, id, tag string) error
}

type Groups interface {
	Create(ctx context.Context, g *model.Group) error
	Get(ctx context.Context, id string) (*model.Group, error)
	GetByName(ctx context.Context, name string) (*model.Group, error)
	GetDefault(ctx context.Context) (*model.Group, error)
	GetMany(ctx context.Context, ids []string) ([]*model.Group, error)
	ListByMember(ctx context.Context, userID string) ([]*model.Group, error)
	Update(ctx context.Context, g *model.Group) error
	Delete(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) error
}

type Channels interface {
	Create(ctx context.Context, c *model.Channel) error
	Get(ctx context.Context, id string) (*model.Channel, error)
	GetByName(ctx context.Context, name string) (*model.Channel, error)
	GetMany(ctx context.Context, ids []string) ([]*model.Channel, error)
	ListBySubscriber(ctx context.Context, userID string) ([]*model.Channel, error)
	Update(ctx context.Context, c *model.Channel) error
	Delete(ctx context.Context, id string) error
}

type Communities interface {
	Create(ctx context.Context, c *model.Community) error
	Get(ctx context.Context, id string) (*model.Community, error)
	GetByName(ctx context.Context, name string) (*model.Community, error)
	ListByMember(ctx context.Context, userID string) ([]*model.Community, error)
	Update(ctx context.Context, c *model.Community) error
	Delete(ctx context.Context, id string) error
}

// Receipt selects which receipt set AddReceipt appends to.
type Receipt int

const (
	ReceiptDelivered Receipt = iota
	ReceiptRead
)

type Messages interface {
	Create(ctx context.Context, m *model.Message) error
	Get(ctx context.Context, id string) (*model.Message, error)
	// Recent returns up to limit messages addressed to `to`, skipping the
	// newest skip, in chronological order.
	Recent(ctx context.Context, to string, skip, limit int) ([]*model.Message, error)
	// CountAfter counts messages to `to` newer than messageID, stopping at limit.
	CountAfter(ctx context.Context, to, messageID string, limit int) (int, error)
	MarkDeleted(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	// AddReceipt appends userID to the chosen receipt set. changed is false
	// when userID was already present.
	AddReceipt(ctx context.Context, id, userID string, kind Receipt) (changed bool, err error)
}

type Histories interface {
	Upsert(ctx context.Context, h *model.History) error
	ListByUser(ctx context.Context, userID string, linkmanIDs []string) ([]*model.History, error)
}

type NotificationTokens interface {
	Create(ctx context.Context, t *model.NotificationToken) error
	// ListByUser returns the user's tokens oldest first.
	ListByUser(ctx context.Context, userID string) ([]*model.NotificationToken, error)
	ListByUsers(ctx context.Context, userIDs []string) ([]*model.NotificationToken, error)
	Delete(ctx context.Context, id string) error
}

type Friends interface {
	Create(ctx context.Context, f *model.Friend) error
	Delete(ctx context.Context, from, to string) error
	ListByUser(ctx context.Context, from string) ([]*model.Friend, error)
}

// Store bundles every repository.
type Store struct {
	Users              Users
	Groups             Groups
	Channels           Channels
	Communities        Communities
	Messages           Messages
	Histories          Histories
	NotificationTokens NotificationTokens
	Friends            Friends
}

// EnsureDefaultGroup returns the default Group, creating it with name when
// none exists.
func EnsureDefaultGroup(ctx context.Context, st *Store, name string, now time.Time) (*model.Group, bool, error) {
	g, err := st.Groups.GetDefault(ctx)
	if err == nil {
		return g, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	g = &model.Group{Name: name, IsDefault: true, Members: []string{}, CreatedAt: now}
	if err := st.Groups.Create(ctx, g); err != nil {
		return nil, false, err
	}
	return g, true, nil
}

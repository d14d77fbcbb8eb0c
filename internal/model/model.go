// Package model holds the entity types shared by the storage layer, the
// engines and the wire protocol.
package model

import (
	"time"

	"github.com/google/uuid"
)

// IDLength is the fixed length of every entity id (canonical uuid form).
// Direct-conversation tokens rely on it to split a pair back into two ids.
const IDLength = 36

// NewID returns a fresh entity id.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id is a well-formed entity id.
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// User is a registered identity.
type User struct {
	ID            string    `json:"_id"`
	Username      string    `json:"username"`
	PasswordHash  string    `json:"-"`
	Avatar        string    `json:"avatar"`
	Tag           string    `json:"tag"`
	Expressions   []string  `json:"expressions"`
	CreatedAt     time.Time `json:"createTime"`
	LastLoginTime time.Time `json:"lastLoginTime"`
	LastLoginIP   string    `json:"-"`
}

// Group is a multi-member chat room.
//
// MemberRoles is nil for legacy documents that only carry the flat Members
// list; see membership.Materialize.
type Group struct {
	ID           string       `json:"_id"`
	Name         string       `json:"name"`
	Avatar       string       `json:"avatar"`
	Announcement string       `json:"announcement"`
	Creator      string       `json:"creator"`
	IsDefault    bool         `json:"isDefault"`
	Members      []string     `json:"members"`
	MemberRoles  []MemberRole `json:"memberRoles,omitempty"`
	CommunityID  string       `json:"communityId,omitempty"`
	CreatedAt    time.Time    `json:"createTime"`
}

// HasMember reports whether userID is in the flat member list.
func (g *Group) HasMember(userID string) bool {
	return contains(g.Members, userID)
}

// Channel is a broadcast room: only its creator posts, subscribers read.
type Channel struct {
	ID          string    `json:"_id"`
	Name        string    `json:"name"`
	Avatar      string    `json:"avatar"`
	Description string    `json:"description"`
	Creator     string    `json:"creator"`
	Subscribers []string  `json:"subscribers"`
	Verified    bool      `json:"isVerified"`
	CommunityID string    `json:"communityId,omitempty"`
	CreatedAt   time.Time `json:"createTime"`
}

// HasSubscriber reports whether userID subscribes to the channel.
func (c *Channel) HasSubscriber(userID string) bool {
	return contains(c.Subscribers, userID)
}

// Community groups Groups and Channels under one role-based membership.
type Community struct {
	ID                  string       `json:"_id"`
	Name                string       `json:"name"`
	Avatar              string       `json:"avatar"`
	Description         string       `json:"description"`
	OwnerID             string       `json:"ownerId"`
	Members             []MemberRole `json:"members"`
	Groups              []string     `json:"groups"`
	Channels            []string     `json:"channels"`
	AnnouncementGroupID string       `json:"announcementGroupId"`
	CreatedAt           time.Time    `json:"createTime"`
}

// MessageType enumerates message payload kinds.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageCode   MessageType = "code"
	MessageInvite MessageType = "invite"
	MessageSystem MessageType = "system"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageCode, MessageInvite, MessageSystem:
		return true
	}
	return false
}

// Message is immutable once created except for the soft-delete flag and
// the append-only receipt sets.
type Message struct {
	ID          string      `json:"_id"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	Type        MessageType `json:"type"`
	Content     string      `json:"content"`
	CreatedAt   time.Time   `json:"createTime"`
	Deleted     bool        `json:"deleted"`
	DeliveredTo []string    `json:"deliveredTo"`
	ReadBy      []string    `json:"readBy"`
}

// NotificationToken is an opaque offline-push token owned by a user.
type NotificationToken struct {
	ID        string    `json:"_id"`
	UserID    string    `json:"user"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createTime"`
}

// History is a user's last-read pointer for one linkman. One row per
// (user, linkman); writes replace.
type History struct {
	UserID    string    `json:"user"`
	LinkmanID string    `json:"linkman"`
	MessageID string    `json:"message"`
	UpdatedAt time.Time `json:"updateTime"`
}

// Friend is a directed friendship edge.
type Friend struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	CreatedAt time.Time `json:"createTime"`
}

// Connection is the Presence Store record of one live transport session.
type Connection struct {
	ID          string `redis:"id" json:"id"`
	IP          string `redis:"ip" json:"-"`
	Server      string `redis:"server" json:"-"`
	UserID      string `redis:"user_id" json:"user,omitempty"`
	OS          string `redis:"os" json:"os"`
	Browser     string `redis:"browser" json:"browser"`
	Environment string `redis:"environment" json:"environment"`
	CreatedAt   int64  `redis:"created_at" json:"-"`
	UpdatedAt   int64  `redis:"updated_at" json:"-"`
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

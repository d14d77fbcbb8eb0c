package membership

import (
	"context"
	"strings"

	"github.com/fiora/chat-app/internal/apperr"
	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/protocol"
)

// announcementSuffix names the mandatory Group of a Community.
const announcementSuffix = " Announcements"

// CommunityView is a Community with its live Groups and Channels resolved.
// References to removed entities are dropped.
type CommunityView struct {
	*model.Community
	GroupList   []*model.Group   `json:"groupList"`
	ChannelList []*model.Channel `json:"channelList"`
}

func (e *Engine) requireCommunityAdmin(c *model.Community, actor Actor) error {
	if actor.IsAdmin {
		return nil
	}
	role, ok := RoleOf(c.Members, actor.UserID)
	if !ok {
		return apperr.Permission(ReasonNotMember)
	}
	if role.Rank() < model.RoleAdmin.Rank() {
		return apperr.Permission(ReasonNoRights)
	}
	return nil
}

func (e *Engine) checkGroupCap(c *model.Community) error {
	if e.cfg.CommunityGroupLimit > 0 && len(c.Groups) >= e.cfg.CommunityGroupLimit {
		return apperr.Validation("a community holds at most %d groups", e.cfg.CommunityGroupLimit)
	}
	return nil
}

// CreateCommunity creates a Community together with its announcement Group.
// The Group is written first, then the Community, then the Group's back
// reference; a failure after the first write deletes what was created.
func (e *Engine) CreateCommunity(ctx context.Context, actor Actor, name, description, avatar string) (*model.Community, error) {
	name, err := e.validName(name)
	if err != nil {
		return nil, err
	}
	groupName := name + announcementSuffix
	if err := e.communityNameFree(ctx, name); err != nil {
		return nil, err
	}
	if err := e.groupNameFree(ctx, groupName); err != nil {
		return nil, err
	}

	now := e.now()
	owner := model.MemberRole{UserID: actor.UserID, Role: model.RoleOwner, JoinedAt: now}
	g := &model.Group{
		ID:          model.NewID(),
		Name:        groupName,
		Avatar:      avatar,
		Creator:     actor.UserID,
		Members:     []string{actor.UserID},
		MemberRoles: []model.MemberRole{owner},
		CreatedAt:   now,
	}
	if err := e.store.Groups.Create(ctx, g); err != nil {
		return nil, duplicate(err, "group name already exists")
	}

	c := &model.Community{
		ID:                  model.NewID(),
		Name:                name,
		Avatar:              avatar,
		Description:         strings.TrimSpace(description),
		OwnerID:             actor.UserID,
		Members:             []model.MemberRole{owner},
		Groups:              []string{g.ID},
		Channels:            []string{},
		AnnouncementGroupID: g.ID,
		CreatedAt:           now,
	}
	if err := e.store.Communities.Create(ctx, c); err != nil {
		e.rollbackGroup(ctx, g.ID)
		return nil, duplicate(err, "community name already exists")
	}

	g.CommunityID = c.ID
	if err := e.store.Groups.Update(ctx, g); err != nil {
		if derr := e.store.Communities.Delete(context.WithoutCancel(ctx), c.ID); derr != nil {
			e.log.Error().Err(derr).Str("community", c.ID).Msg("rollback of community failed")
		}
		e.rollbackGroup(ctx, g.ID)
		return nil, err
	}

	e.joinRoom(ctx, g.ID, actor.UserID)
	return c, nil
}

// JoinCommunity adds the actor as a member, and as a member of the
// announcement Group.
func (e *Engine) JoinCommunity(ctx context.Context, actor Actor, communityID string) (*model.Community, error) {
	c, err := e.community(ctx, communityID)
	if err != nil {
		return nil, err
	}
	members, err := Add(c.Members, actor.UserID, e.now())
	if err != nil {
		return nil, err
	}
	c.Members = members
	if err := e.store.Communities.Update(ctx, c); err != nil {
		return nil, err
	}

	if c.AnnouncementGroupID != "" {
		e.addToGroup(ctx, c.AnnouncementGroupID, actor.UserID)
	}
	return c, nil
}

// addToGroup makes userID a member of groupID if it is not one already.
func (e *Engine) addToGroup(ctx context.Context, groupID, userID string) {
	g, err := e.store.Groups.Get(ctx, groupID)
	if err != nil {
		e.log.Warn().Err(err).Str("group", groupID).Msg("announcement group unavailable")
		return
	}
	if g.HasMember(userID) {
		return
	}
	g.Members = append(g.Members, userID)
	if g.MemberRoles != nil {
		g.MemberRoles = append(g.MemberRoles, model.MemberRole{UserID: userID, Role: model.RoleMember, JoinedAt: e.now()})
	}
	if err := e.store.Groups.Update(ctx, g); err != nil {
		e.log.Error().Err(err).Str("group", groupID).Msg("announcement group join failed")
		return
	}
	e.joinRoom(ctx, g.ID, userID)
}

// LeaveCommunity removes the actor from the Community and its announcement
// Group. The owner cannot leave.
func (e *Engine) LeaveCommunity(ctx context.Context, actor Actor, communityID string) error {
	c, err := e.community(ctx, communityID)
	if err != nil {
		return err
	}
	members, err := Leave(c.Members, actor.UserID)
	if err != nil {
		return err
	}
	c.Members = members
	if err := e.store.Communities.Update(ctx, c); err != nil {
		return err
	}

	if c.AnnouncementGroupID == "" {
		return nil
	}
	g, err := e.store.Groups.Get(ctx, c.AnnouncementGroupID)
	if err != nil || !g.HasMember(actor.UserID) {
		return nil
	}
	g.Members = removeID(g.Members, actor.UserID)
	if g.MemberRoles != nil {
		g.MemberRoles = without(g.MemberRoles, actor.UserID)
	}
	if err := e.store.Groups.Update(ctx, g); err != nil {
		e.log.Error().Err(err).Str("group", g.ID).Msg("announcement group leave failed")
		return nil
	}
	e.leaveRoom(ctx, g.ID, actor.UserID)
	return nil
}

// AddGroupToCommunity attaches an existing Group. The actor must administer
// the Community and own or administer the Group.
func (e *Engine) AddGroupToCommunity(ctx context.Context, actor Actor, communityID, groupID string) (*model.Community, error) {
	c, err := e.community(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if err := e.requireCommunityAdmin(c, actor); err != nil {
		return nil, err
	}
	g, err := e.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if err := requireGroupAdmin(g, actor); err != nil {
		return nil, err
	}
	if g.IsDefault {
		return nil, apperr.Permission("the default group cannot join a community")
	}
	if g.CommunityID != "" || containsID(c.Groups, g.ID) {
		return nil, apperr.Conflict("group already belongs to a community")
	}
	if err := e.checkGroupCap(c); err != nil {
		return nil, err
	}

	g.CommunityID = c.ID
	if err := e.store.Groups.Update(ctx, g); err != nil {
		return nil, err
	}
	c.Groups = append(c.Groups, g.ID)
	if err := e.store.Communities.Update(ctx, c); err != nil {
		g.CommunityID = ""
		if rerr := e.store.Groups.Update(context.WithoutCancel(ctx), g); rerr != nil {
			e.log.Error().Err(rerr).Str("group", g.ID).Msg("rollback of group link failed")
		}
		return nil, err
	}
	return c, nil
}

// AddChannelToCommunity attaches an existing Channel created by the actor.
func (e *Engine) AddChannelToCommunity(ctx context.Context, actor Actor, communityID, channelID string) (*model.Community, error) {
	c, err := e.community(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if err := e.requireCommunityAdmin(c, actor); err != nil {
		return nil, err
	}
	ch, err := e.channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin && ch.Creator != actor.UserID {
		return nil, apperr.Permission(ReasonNoRights)
	}
	if ch.CommunityID != "" || containsID(c.Channels, ch.ID) {
		return nil, apperr.Conflict("channel already belongs to a community")
	}

	ch.CommunityID = c.ID
	if err := e.store.Channels.Update(ctx, ch); err != nil {
		return nil, err
	}
	c.Channels = append(c.Channels, ch.ID)
	if err := e.store.Communities.Update(ctx, c); err != nil {
		ch.CommunityID = ""
		if rerr := e.store.Channels.Update(context.WithoutCancel(ctx), ch); rerr != nil {
			e.log.Error().Err(rerr).Str("channel", ch.ID).Msg("rollback of channel link failed")
		}
		return nil, err
	}
	return c, nil
}

// setCommunityRole applies a role transition and keeps OwnerID in step
// with the owner entry.
func (e *Engine) setCommunityRole(ctx context.Context, actor Actor, communityID, targetID string, role model.Role) (*model.Community, error) {
	c, err := e.community(ctx, communityID)
	if err != nil {
		return nil, err
	}
	members, err := SetRole(c.Members, actor.UserID, targetID, role)
	if err != nil {
		return nil, err
	}
	previousOwner := c.OwnerID
	c.Members = members
	c.OwnerID = Owner(members)
	if err := e.store.Communities.Update(ctx, c); err != nil {
		return nil, err
	}
	if c.OwnerID != previousOwner && c.AnnouncementGroupID != "" {
		e.transferGroupOwner(ctx, c.AnnouncementGroupID, c.OwnerID)
	}
	e.emitUsers(ctx, IDs(members), protocol.PushMemberRoleUpdated, protocol.MemberPush{CommunityID: c.ID, UserID: targetID, Role: string(role)})
	return c, nil
}

// transferGroupOwner makes ownerID the owner of the announcement Group and
// demotes its previous owner to admin.
func (e *Engine) transferGroupOwner(ctx context.Context, groupID, ownerID string) {
	g, err := e.store.Groups.Get(ctx, groupID)
	if err != nil {
		e.log.Warn().Err(err).Str("group", groupID).Msg("announcement group unavailable")
		return
	}
	Materialize(g)
	if !g.HasMember(ownerID) {
		g.Members = append(g.Members, ownerID)
		g.MemberRoles = append(g.MemberRoles, model.MemberRole{UserID: ownerID, Role: model.RoleMember, JoinedAt: e.now()})
	}
	for i := range g.MemberRoles {
		switch {
		case g.MemberRoles[i].UserID == ownerID:
			g.MemberRoles[i].Role = model.RoleOwner
		case g.MemberRoles[i].Role == model.RoleOwner:
			g.MemberRoles[i].Role = model.RoleAdmin
		}
	}
	if err := e.store.Groups.Update(ctx, g); err != nil {
		e.log.Error().Err(err).Str("group", groupID).Msg("announcement group owner transfer failed")
	}
}

// PromoteMemberToAdmin raises a Community member one tier: member to admin,
// or admin to owner (transferring ownership).
func (e *Engine) PromoteMemberToAdmin(ctx context.Context, actor Actor, communityID, targetID string) (*model.Community, error) {
	c, err := e.community(ctx, communityID)
	if err != nil {
		return nil, err
	}
	role, ok := RoleOf(c.Members, targetID)
	if !ok {
		return nil, apperr.NotFound(ReasonTargetNotMember)
	}
	next := model.RoleAdmin
	if role == model.RoleAdmin {
		next = model.RoleOwner
	}
	return e.setCommunityRole(ctx, actor, communityID, targetID, next)
}

// DemoteMemberFromAdmin lowers a Community admin to member.
func (e *Engine) DemoteMemberFromAdmin(ctx context.Context, actor Actor, communityID, targetID string) (*model.Community, error) {
	return e.setCommunityRole(ctx, actor, communityID, targetID, model.RoleMember)
}

// DeleteCommunity deletes the Community and every Group it lists,
// announcement Group included. Only the owner or a system administrator may
// do so.
func (e *Engine) DeleteCommunity(ctx context.Context, actor Actor, communityID string) error {
	c, err := e.community(ctx, communityID)
	if err != nil {
		return err
	}
	if !actor.IsAdmin && c.OwnerID != actor.UserID {
		return apperr.Permission(ReasonNoRights)
	}

	groups, err := e.store.Groups.GetMany(ctx, c.Groups)
	if err != nil {
		return err
	}
	if err := e.store.Groups.DeleteMany(ctx, c.Groups); err != nil {
		return err
	}
	if err := e.store.Communities.Delete(ctx, c.ID); err != nil {
		return notFound(err, "community does not exist")
	}

	for _, g := range groups {
		e.emitRoom(ctx, g.ID, protocol.PushDeleteGroup, protocol.GroupPush{GroupID: g.ID})
		e.leaveRoom(ctx, g.ID, g.Members...)
	}
	return nil
}

// GetCommunity returns the Community with its Groups and Channels resolved.
func (e *Engine) GetCommunity(ctx context.Context, communityID string) (*CommunityView, error) {
	c, err := e.community(ctx, communityID)
	if err != nil {
		return nil, err
	}
	groups, err := e.store.Groups.GetMany(ctx, c.Groups)
	if err != nil {
		return nil, err
	}
	channels, err := e.store.Channels.GetMany(ctx, c.Channels)
	if err != nil {
		return nil, err
	}

	c.Groups = c.Groups[:0]
	for _, g := range groups {
		c.Groups = append(c.Groups, g.ID)
	}
	c.Channels = c.Channels[:0]
	for _, ch := range channels {
		c.Channels = append(c.Channels, ch.ID)
	}
	return &CommunityView{Community: c, GroupList: groups, ChannelList: channels}, nil
}

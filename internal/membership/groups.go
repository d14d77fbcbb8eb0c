package membership

import (
	"context"

	"github.com/fiora/chat-app/internal/apperr"
	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/protocol"
)

// GroupInfo is the public profile of a Group.
type GroupInfo struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar"`
	Members     int    `json:"members"`
	CommunityID string `json:"communityId,omitempty"`
}

// CreateGroup creates a Group owned by the actor, optionally inside a
// Community the actor administers.
func (e *Engine) CreateGroup(ctx context.Context, actor Actor, name, communityID string) (*model.Group, error) {
	name, err := e.validName(name)
	if err != nil {
		return nil, err
	}

	var community *model.Community
	if communityID != "" {
		if community, err = e.community(ctx, communityID); err != nil {
			return nil, err
		}
		if err := e.requireCommunityAdmin(community, actor); err != nil {
			return nil, err
		}
		if err := e.checkGroupCap(community); err != nil {
			return nil, err
		}
	}
	if err := e.groupNameFree(ctx, name); err != nil {
		return nil, err
	}

	now := e.now()
	g := &model.Group{
		ID:          model.NewID(),
		Name:        name,
		Creator:     actor.UserID,
		Members:     []string{actor.UserID},
		MemberRoles: []model.MemberRole{{UserID: actor.UserID, Role: model.RoleOwner, JoinedAt: now}},
		CommunityID: communityID,
		CreatedAt:   now,
	}
	if err := e.store.Groups.Create(ctx, g); err != nil {
		return nil, duplicate(err, "group name already exists")
	}

	if community != nil {
		community.Groups = append(community.Groups, g.ID)
		if err := e.store.Communities.Update(ctx, community); err != nil {
			e.rollbackGroup(ctx, g.ID)
			return nil, err
		}
	}

	e.joinRoom(ctx, g.ID, actor.UserID)
	return g, nil
}

// rollbackGroup deletes a half-created Group. It outlives the request's
// deadline, which is often why the rollback is running.
func (e *Engine) rollbackGroup(ctx context.Context, id string) {
	if err := e.store.Groups.Delete(context.WithoutCancel(ctx), id); err != nil {
		e.log.Error().Err(err).Str("group", id).Msg("rollback of group failed")
	}
}

// JoinGroup adds the actor to a Group. Joining a Group that belongs to a
// Community also makes the actor a member of that Community.
func (e *Engine) JoinGroup(ctx context.Context, actor Actor, groupID string) (*model.Group, error) {
	g, err := e.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.HasMember(actor.UserID) {
		return nil, apperr.Conflict("already a member")
	}

	g.Members = append(g.Members, actor.UserID)
	if g.MemberRoles != nil {
		g.MemberRoles = append(g.MemberRoles, model.MemberRole{UserID: actor.UserID, Role: model.RoleMember, JoinedAt: e.now()})
	}
	if err := e.store.Groups.Update(ctx, g); err != nil {
		return nil, err
	}

	if g.CommunityID != "" {
		e.mirrorCommunityJoin(ctx, g.CommunityID, actor.UserID)
	}

	e.joinRoom(ctx, g.ID, actor.UserID)
	return g, nil
}

// mirrorCommunityJoin records userID in the parent Community. A missing
// Community is a tolerated stale reference.
func (e *Engine) mirrorCommunityJoin(ctx context.Context, communityID, userID string) {
	c, err := e.store.Communities.Get(ctx, communityID)
	if err != nil {
		e.log.Warn().Err(err).Str("community", communityID).Msg("parent community unavailable")
		return
	}
	members, err := Add(c.Members, userID, e.now())
	if err != nil {
		return
	}
	c.Members = members
	if err := e.store.Communities.Update(ctx, c); err != nil {
		e.log.Error().Err(err).Str("community", communityID).Msg("community membership mirror failed")
	}
}

// LeaveGroup removes the actor from a Group. The default Group and groups
// the actor owns cannot be left.
func (e *Engine) LeaveGroup(ctx context.Context, actor Actor, groupID string) error {
	g, err := e.group(ctx, groupID)
	if err != nil {
		return err
	}
	if g.IsDefault {
		return apperr.Permission("cannot leave the default group")
	}
	if !g.HasMember(actor.UserID) {
		return apperr.NotFound(ReasonNotMember)
	}
	members, err := Leave(Roles(g), actor.UserID)
	if err != nil {
		return err
	}

	g.Members = removeID(g.Members, actor.UserID)
	if g.MemberRoles != nil {
		g.MemberRoles = members
	}
	if err := e.store.Groups.Update(ctx, g); err != nil {
		return err
	}

	e.leaveRoom(ctx, g.ID, actor.UserID)
	return nil
}

// KickGroupMember removes target from the Group. Everyone who was a member
// before the removal, the removed user included, is told about it before
// the removed user's connections leave the room.
func (e *Engine) KickGroupMember(ctx context.Context, actor Actor, groupID, targetID string) error {
	g, err := e.group(ctx, groupID)
	if err != nil {
		return err
	}
	if g.IsDefault {
		return apperr.Permission("cannot remove members of the default group")
	}
	Materialize(g)
	members, err := Kick(g.MemberRoles, actor.UserID, targetID)
	if err != nil {
		return err
	}

	audience := g.Members
	g.MemberRoles = members
	g.Members = removeID(g.Members, targetID)
	if err := e.store.Groups.Update(ctx, g); err != nil {
		return err
	}

	e.emitUsers(ctx, audience, protocol.PushGroupMemberRemoved, protocol.MemberPush{GroupID: g.ID, UserID: targetID})
	e.leaveRoom(ctx, g.ID, targetID)
	return nil
}

// UpdateGroupMemberRole moves target one tier toward role.
func (e *Engine) UpdateGroupMemberRole(ctx context.Context, actor Actor, groupID, targetID string, role model.Role) ([]model.MemberRole, error) {
	g, err := e.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if role == model.RoleOwner && g.CommunityID != "" {
		c, err := e.community(ctx, g.CommunityID)
		if err != nil {
			return nil, err
		}
		if c.AnnouncementGroupID == g.ID {
			return nil, apperr.Permission(ReasonAnnouncement)
		}
	}
	Materialize(g)
	members, err := SetRole(g.MemberRoles, actor.UserID, targetID, role)
	if err != nil {
		return nil, err
	}

	g.MemberRoles = members
	if err := e.store.Groups.Update(ctx, g); err != nil {
		return nil, err
	}

	e.emitUsers(ctx, g.Members, protocol.PushMemberRoleUpdated, protocol.MemberPush{GroupID: g.ID, UserID: targetID, Role: string(role)})
	return members, nil
}

// PromoteToAdmin makes a Group member an admin.
func (e *Engine) PromoteToAdmin(ctx context.Context, actor Actor, groupID, targetID string) ([]model.MemberRole, error) {
	return e.UpdateGroupMemberRole(ctx, actor, groupID, targetID, model.RoleAdmin)
}

// DemoteToMember makes a Group admin a plain member.
func (e *Engine) DemoteToMember(ctx context.Context, actor Actor, groupID, targetID string) ([]model.MemberRole, error) {
	return e.UpdateGroupMemberRole(ctx, actor, groupID, targetID, model.RoleMember)
}

// GroupRoles returns the role view of a Group without materializing it.
func (e *Engine) GroupRoles(ctx context.Context, groupID string) ([]model.MemberRole, error) {
	g, err := e.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return Roles(g), nil
}

// requireGroupAdmin fails unless actor is an admin or owner of g, or a
// system administrator.
func requireGroupAdmin(g *model.Group, actor Actor) error {
	if actor.IsAdmin {
		return nil
	}
	role, ok := RoleOf(Roles(g), actor.UserID)
	if !ok {
		return apperr.Permission(ReasonNotMember)
	}
	if role.Rank() < model.RoleAdmin.Rank() {
		return apperr.Permission(ReasonNoRights)
	}
	return nil
}

// ChangeGroupName renames a Group.
func (e *Engine) ChangeGroupName(ctx context.Context, actor Actor, groupID, name string) (*model.Group, error) {
	name, err := e.validName(name)
	if err != nil {
		return nil, err
	}
	g, err := e.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if err := requireGroupAdmin(g, actor); err != nil {
		return nil, err
	}
	if g.Name == name {
		return g, nil
	}
	if err := e.groupNameFree(ctx, name); err != nil {
		return nil, err
	}

	g.Name = name
	if err := e.store.Groups.Update(ctx, g); err != nil {
		return nil, duplicate(err, "group name already exists")
	}
	e.emitRoom(ctx, g.ID, protocol.PushChangeGroupName, protocol.GroupPush{GroupID: g.ID, Name: name})
	return g, nil
}

// ChangeGroupAvatar replaces a Group's avatar url.
func (e *Engine) ChangeGroupAvatar(ctx context.Context, actor Actor, groupID, avatar string) (*model.Group, error) {
	if avatar == "" {
		return nil, apperr.Validation("avatar must not be empty")
	}
	g, err := e.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if err := requireGroupAdmin(g, actor); err != nil {
		return nil, err
	}
	g.Avatar = avatar
	if err := e.store.Groups.Update(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// ChangeGroupAnnouncement replaces a Group's announcement text.
func (e *Engine) ChangeGroupAnnouncement(ctx context.Context, actor Actor, groupID, text string) (*model.Group, error) {
	g, err := e.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if err := requireGroupAdmin(g, actor); err != nil {
		return nil, err
	}
	g.Announcement = text
	if err := e.store.Groups.Update(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// DeleteGroup removes a Group. Only its owner or a system administrator may
// do so; the default Group and Community announcement Groups are protected.
// The parent Community's group list is left as is.
func (e *Engine) DeleteGroup(ctx context.Context, actor Actor, groupID string) error {
	g, err := e.group(ctx, groupID)
	if err != nil {
		return err
	}
	if g.IsDefault {
		return apperr.Permission("the default group cannot be deleted")
	}
	if !actor.IsAdmin && Owner(Roles(g)) != actor.UserID {
		return apperr.Permission(ReasonNoRights)
	}
	if g.CommunityID != "" {
		c, err := e.store.Communities.Get(ctx, g.CommunityID)
		if err == nil && c.AnnouncementGroupID == g.ID {
			return apperr.Permission("announcement groups are removed with their community")
		}
	}

	if err := e.store.Groups.Delete(ctx, g.ID); err != nil {
		return notFound(err, "group does not exist")
	}
	e.emitRoom(ctx, g.ID, protocol.PushDeleteGroup, protocol.GroupPush{GroupID: g.ID})
	e.leaveRoom(ctx, g.ID, g.Members...)
	return nil
}

// GroupBasicInfo returns the public profile of a Group.
func (e *Engine) GroupBasicInfo(ctx context.Context, groupID string) (*GroupInfo, error) {
	g, err := e.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return &GroupInfo{
		ID:          g.ID,
		Name:        g.Name,
		Avatar:      g.Avatar,
		Members:     len(g.Members),
		CommunityID: g.CommunityID,
	}, nil
}

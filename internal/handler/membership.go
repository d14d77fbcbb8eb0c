package handler

import (
	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/protocol"
	"github.com/fiora/chat-app/internal/ws"
)

func (h *Handlers) registerMembership(d *ws.MessageDispatcher) {
	m := h.Membership

	// -----------------------------------------------------------------------
	// groups
	// -----------------------------------------------------------------------
	d.Register(protocol.EventCreateGroup, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.CreateGroupReq](c)
		if err != nil {
			return nil, err
		}
		return m.CreateGroup(c, memberActor(c), req.Name, req.CommunityID)
	})

	d.Register(protocol.EventJoinGroup, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.GroupRef](c)
		if err != nil {
			return nil, err
		}
		return m.JoinGroup(c, memberActor(c), req.GroupID)
	})

	d.Register(protocol.EventLeaveGroup, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.GroupRef](c)
		if err != nil {
			return nil, err
		}
		return ok, m.LeaveGroup(c, memberActor(c), req.GroupID)
	})

	d.Register(protocol.EventKickGroupMember, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.GroupMemberReq](c)
		if err != nil {
			return nil, err
		}
		return ok, m.KickGroupMember(c, memberActor(c), req.GroupID, req.UserID)
	})

	d.Register(protocol.EventUpdateGroupMemberRole, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.GroupRoleReq](c)
		if err != nil {
			return nil, err
		}
		return m.UpdateGroupMemberRole(c, memberActor(c), req.GroupID, req.UserID, model.Role(req.Role))
	})

	d.Register(protocol.EventPromoteToAdmin, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.GroupMemberReq](c)
		if err != nil {
			return nil, err
		}
		return m.PromoteToAdmin(c, memberActor(c), req.GroupID, req.UserID)
	})

	d.Register(protocol.EventDemoteToMember, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.GroupMemberReq](c)
		if err != nil {
			return nil, err
		}
		return m.DemoteToMember(c, memberActor(c), req.GroupID, req.UserID)
	})

	d.Register(protocol.EventChangeGroupName, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.GroupFieldReq](c)
		if err != nil {
			return nil, err
		}
		return m.ChangeGroupName(c, memberActor(c), req.GroupID, req.Name)
	})

	d.Register(protocol.EventChangeGroupAvatar, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.GroupFieldReq](c)
		if err != nil {
			return nil, err
		}
		return m.ChangeGroupAvatar(c, memberActor(c), req.GroupID, req.Avatar)
	})

	d.Register(protocol.EventChangeGroupAnnouncement, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.GroupFieldReq](c)
		if err != nil {
			return nil, err
		}
		return m.ChangeGroupAnnouncement(c, memberActor(c), req.GroupID, req.Announcement)
	})

	d.Register(protocol.EventDeleteGroup, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.GroupRef](c)
		if err != nil {
			return nil, err
		}
		return ok, m.DeleteGroup(c, memberActor(c), req.GroupID)
	})

	d.Register(protocol.EventGetGroupBasicInfo, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.GroupRef](c)
		if err != nil {
			return nil, err
		}
		return m.GroupBasicInfo(c, req.GroupID)
	})

	// -----------------------------------------------------------------------
	// channels
	// -----------------------------------------------------------------------
	d.Register(protocol.EventCreateChannel, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.CreateChannelReq](c)
		if err != nil {
			return nil, err
		}
		return m.CreateChannel(c, memberActor(c), req.Name, req.Description, req.CommunityID)
	})

	d.Register(protocol.EventSubscribeChannel, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.ChannelRef](c)
		if err != nil {
			return nil, err
		}
		return m.SubscribeChannel(c, memberActor(c), req.ChannelID)
	})

	d.Register(protocol.EventUnsubscribeChannel, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.ChannelRef](c)
		if err != nil {
			return nil, err
		}
		return ok, m.UnsubscribeChannel(c, memberActor(c), req.ChannelID)
	})

	d.Register(protocol.EventDeleteChannel, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.ChannelRef](c)
		if err != nil {
			return nil, err
		}
		return ok, m.DeleteChannel(c, memberActor(c), req.ChannelID)
	})

	d.Register(protocol.EventGetChannelBasicInfo, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.ChannelRef](c)
		if err != nil {
			return nil, err
		}
		return m.ChannelBasicInfo(c, req.ChannelID)
	})

	// -----------------------------------------------------------------------
	// communities
	// -----------------------------------------------------------------------
	d.Register(protocol.EventCreateCommunity, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.CreateCommunityReq](c)
		if err != nil {
			return nil, err
		}
		return m.CreateCommunity(c, memberActor(c), req.Name, req.Description, req.Avatar)
	})

	d.Register(protocol.EventJoinCommunity, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.CommunityRef](c)
		if err != nil {
			return nil, err
		}
		return m.JoinCommunity(c, memberActor(c), req.CommunityID)
	})

	d.Register(protocol.EventLeaveCommunity, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.CommunityRef](c)
		if err != nil {
			return nil, err
		}
		return ok, m.LeaveCommunity(c, memberActor(c), req.CommunityID)
	})

	d.Register(protocol.EventAddGroupToCommunity, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.AttachGroupReq](c)
		if err != nil {
			return nil, err
		}
		return m.AddGroupToCommunity(c, memberActor(c), req.CommunityID, req.GroupID)
	})

	d.Register(protocol.EventAddChannelToCommunity, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.AttachChannelReq](c)
		if err != nil {
			return nil, err
		}
		return m.AddChannelToCommunity(c, memberActor(c), req.CommunityID, req.ChannelID)
	})

	d.Register(protocol.EventPromoteMemberToAdmin, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.CommunityMemberReq](c)
		if err != nil {
			return nil, err
		}
		return m.PromoteMemberToAdmin(c, memberActor(c), req.CommunityID, req.UserID)
	})

	d.Register(protocol.EventDemoteMemberFromAdmin, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.CommunityMemberReq](c)
		if err != nil {
			return nil, err
		}
		return m.DemoteMemberFromAdmin(c, memberActor(c), req.CommunityID, req.UserID)
	})

	d.Register(protocol.EventDeleteCommunity, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.CommunityRef](c)
		if err != nil {
			return nil, err
		}
		return ok, m.DeleteCommunity(c, memberActor(c), req.CommunityID)
	})

	d.Register(protocol.EventGetCommunity, func(c *ws.Context) (any, error) {
		req, err := bind[protocol.CommunityRef](c)
		if err != nil {
			return nil, err
		}
		return m.GetCommunity(c, req.CommunityID)
	})
}

package membership

import (
	"context"
	"strings"

	"github.com/fiora/chat-app/internal/apperr"
	"github.com/fiora/chat-app/internal/model"
)

// ChannelInfo is the public profile of a Channel.
type ChannelInfo struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar"`
	Description string `json:"description"`
	Subscribers int    `json:"subscribers"`
	Verified    bool   `json:"isVerified"`
	CommunityID string `json:"communityId,omitempty"`
}

// CreateChannel creates a Channel published by the actor, optionally inside
// a Community the actor administers.
func (e *Engine) CreateChannel(ctx context.Context, actor Actor, name, description, communityID string) (*model.Channel, error) {
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
	}
	if err := e.channelNameFree(ctx, name); err != nil {
		return nil, err
	}

	ch := &model.Channel{
		ID:          model.NewID(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Creator:     actor.UserID,
		Subscribers: []string{actor.UserID},
		CommunityID: communityID,
		CreatedAt:   e.now(),
	}
	if err := e.store.Channels.Create(ctx, ch); err != nil {
		return nil, duplicate(err, "channel name already exists")
	}

	if community != nil {
		community.Channels = append(community.Channels, ch.ID)
		if err := e.store.Communities.Update(ctx, community); err != nil {
			if derr := e.store.Channels.Delete(context.WithoutCancel(ctx), ch.ID); derr != nil {
				e.log.Error().Err(derr).Str("channel", ch.ID).Msg("rollback of channel failed")
			}
			return nil, err
		}
	}

	e.joinRoom(ctx, ch.ID, actor.UserID)
	return ch, nil
}

// SubscribeChannel adds the actor to a Channel's subscribers.
func (e *Engine) SubscribeChannel(ctx context.Context, actor Actor, channelID string) (*model.Channel, error) {
	ch, err := e.channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch.Creator == actor.UserID || ch.HasSubscriber(actor.UserID) {
		return nil, apperr.Conflict("already subscribed")
	}
	ch.Subscribers = append(ch.Subscribers, actor.UserID)
	if err := e.store.Channels.Update(ctx, ch); err != nil {
		return nil, err
	}
	e.joinRoom(ctx, ch.ID, actor.UserID)
	return ch, nil
}

// UnsubscribeChannel removes the actor from a Channel. The creator cannot
// unsubscribe from their own Channel.
func (e *Engine) UnsubscribeChannel(ctx context.Context, actor Actor, channelID string) error {
	ch, err := e.channel(ctx, channelID)
	if err != nil {
		return err
	}
	if ch.Creator == actor.UserID {
		return apperr.Permission("the creator cannot unsubscribe")
	}
	if !ch.HasSubscriber(actor.UserID) {
		return apperr.NotFound("not subscribed")
	}
	ch.Subscribers = removeID(ch.Subscribers, actor.UserID)
	if err := e.store.Channels.Update(ctx, ch); err != nil {
		return err
	}
	e.leaveRoom(ctx, ch.ID, actor.UserID)
	return nil
}

// DeleteChannel removes a Channel. Only its creator or a system
// administrator may do so.
func (e *Engine) DeleteChannel(ctx context.Context, actor Actor, channelID string) error {
	ch, err := e.channel(ctx, channelID)
	if err != nil {
		return err
	}
	if !actor.IsAdmin && ch.Creator != actor.UserID {
		return apperr.Permission(ReasonNoRights)
	}
	if err := e.store.Channels.Delete(ctx, ch.ID); err != nil {
		return notFound(err, "channel does not exist")
	}
	e.leaveRoom(ctx, ch.ID, ch.Subscribers...)
	return nil
}

// ChannelBasicInfo returns the public profile of a Channel.
func (e *Engine) ChannelBasicInfo(ctx context.Context, channelID string) (*ChannelInfo, error) {
	ch, err := e.channel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return &ChannelInfo{
		ID:          ch.ID,
		Name:        ch.Name,
		Avatar:      ch.Avatar,
		Description: ch.Description,
		Subscribers: len(ch.Subscribers),
		Verified:    ch.Verified,
		CommunityID: ch.CommunityID,
	}, nil
}

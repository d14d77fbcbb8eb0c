package protocol

// Client -> Server events.
const (
	EventRegister             = "register"
	EventLogin                = "login"
	EventLoginByToken         = "loginByToken"
	EventGuest                = "guest"
	EventSetNotificationToken = "setNotificationToken"
	EventAddFriend            = "addFriend"
	EventDeleteFriend         = "deleteFriend"

	EventCreateGroup             = "createGroup"
	EventJoinGroup               = "joinGroup"
	EventLeaveGroup              = "leaveGroup"
	EventChangeGroupName         = "changeGroupName"
	EventChangeGroupAvatar       = "changeGroupAvatar"
	EventChangeGroupAnnouncement = "changeGroupAnnouncement"
	EventDeleteGroup             = "deleteGroup"
	EventGetGroupBasicInfo       = "getGroupBasicInfo"
	EventUpdateGroupMemberRole   = "updateGroupMemberRole"
	EventKickGroupMember         = "kickGroupMember"
	EventPromoteToAdmin          = "promoteToAdmin"
	EventDemoteToMember          = "demoteToMember"

	EventCreateChannel       = "createChannel"
	EventSubscribeChannel    = "subscribeChannel"
	EventUnsubscribeChannel  = "unsubscribeChannel"
	EventDeleteChannel       = "deleteChannel"
	EventGetChannelBasicInfo = "getChannelBasicInfo"

	EventCreateCommunity       = "createCommunity"
	EventJoinCommunity         = "joinCommunity"
	EventLeaveCommunity        = "leaveCommunity"
	EventAddGroupToCommunity   = "addGroupToCommunity"
	EventAddChannelToCommunity = "addChannelToCommunity"
	EventPromoteMemberToAdmin  = "promoteMemberToAdmin"
	EventDemoteMemberFromAdmin = "demoteMemberFromAdmin"
	EventDeleteCommunity       = "deleteCommunity"
	EventGetCommunity          = "getCommunity"

	EventSendMessage                    = "sendMessage"
	EventGetLinkmansLastMessages        = "getLinkmansLastMessages"
	EventGetLinkmansLastMessagesV2      = "getLinkmansLastMessagesV2"
	EventGetLinkmanHistoryMessages      = "getLinkmanHistoryMessages"
	EventGetDefaultGroupHistoryMessages = "getDefaultGroupHistoryMessages"
	EventDeleteMessage                  = "deleteMessage"
	EventSendTypingIndicator            = "sendTypingIndicator"
	EventSendReadReceipt                = "sendReadReceipt"
	EventSendDeliveryReceipt            = "sendDeliveryReceipt"
	EventGetMessageReadStatus           = "getMessageReadStatus"
	EventUpdateHistory                  = "updateHistory"

	EventGetGroupOnlineMembers        = "getGroupOnlineMembers"
	EventGetGroupOnlineMembersV2      = "getGroupOnlineMembersV2"
	EventGetDefaultGroupOnlineMembers = "getDefaultGroupOnlineMembers"
	EventGetUserOnlineStatus          = "getUserOnlineStatus"

	EventSealUser                 = "sealUser"
	EventSealIP                   = "sealIp"
	EventSealUserOnlineIP         = "sealUserOnlineIp"
	EventGetSealList              = "getSealList"
	EventToggleSendMessage        = "toggleSendMessage"
	EventToggleNewUserSendMessage = "toggleNewUserSendMessage"
	EventResetUserPassword        = "resetUserPassword"
	EventSetUserTag               = "setUserTag"
)

// Server -> Client push events.
const (
	PushMessage            = "message"
	PushDeleteMessage      = "deleteMessage"
	PushTyping             = "typing"
	PushReadReceipt        = "readReceipt"
	PushDeliveryReceipt    = "deliveryReceipt"
	PushGroupMemberRemoved = "groupMemberRemoved"
	PushMemberRoleUpdated  = "memberRoleUpdated"
	PushChangeGroupName    = "changeGroupName"
	PushDeleteGroup        = "deleteGroup"
)

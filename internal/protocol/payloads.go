package protocol

// ClientInfo is the environment block sent with every identity call.
type ClientInfo struct {
	OS          string `json:"os"`
	Browser     string `json:"browser"`
	Environment string `json:"environment"`
}

type CredentialsReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ClientInfo
}

type TokenLoginReq struct {
	Token string `json:"token"`
	ClientInfo
}

type GuestReq struct {
	ClientInfo
}

type TokenReq struct {
	Token string `json:"token"`
}

type UserRef struct {
	UserID string `json:"userId"`
}

type GroupRef struct {
	GroupID string `json:"groupId"`
}

type ChannelRef struct {
	ChannelID string `json:"channelId"`
}

type CommunityRef struct {
	CommunityID string `json:"communityId"`
}

type GroupMemberReq struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
}

type GroupRoleReq struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
	Role    string `json:"role"`
}

type CommunityMemberReq struct {
	CommunityID string `json:"communityId"`
	UserID      string `json:"userId"`
}

type CreateGroupReq struct {
	Name        string `json:"name"`
	CommunityID string `json:"communityId"`
}

type GroupFieldReq struct {
	GroupID      string `json:"groupId"`
	Name         string `json:"name"`
	Avatar       string `json:"avatar"`
	Announcement string `json:"announcement"`
}

type CreateChannelReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	CommunityID string `json:"communityId"`
}

type CreateCommunityReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Avatar      string `json:"avatar"`
}

type AttachGroupReq struct {
	CommunityID string `json:"communityId"`
	GroupID     string `json:"groupId"`
}

type AttachChannelReq struct {
	CommunityID string `json:"communityId"`
	ChannelID   string `json:"channelId"`
}

type SendMessageReq struct {
	To      string `json:"to"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

type LinkmansReq struct {
	Linkmans []string `json:"linkmans"`
}

type HistoryReq struct {
	LinkmanID  string `json:"linkmanId"`
	ExistCount int    `json:"existCount"`
}

type MessageRef struct {
	MessageID string `json:"messageId"`
}

type TypingReq struct {
	To       string `json:"to"`
	IsTyping bool   `json:"isTyping"`
}

type UpdateHistoryReq struct {
	LinkmanID string `json:"linkmanId"`
	MessageID string `json:"messageId"`
}

type OnlineMembersReq struct {
	GroupID string `json:"groupId"`
	Cache   string `json:"cache"`
}

type UsernameReq struct {
	Username string `json:"username"`
}

type IPReq struct {
	IP string `json:"ip"`
}

type ToggleReq struct {
	Enable bool `json:"enable"`
}

type UserTagReq struct {
	Username string `json:"username"`
	Tag      string `json:"tag"`
}

// DeleteMessagePush tells the audience of a message that it was removed.
type DeleteMessagePush struct {
	LinkmanID string `json:"linkmanId"`
	MessageID string `json:"messageId"`
	IsAdmin   bool   `json:"isAdmin"`
}

// TypingPush relays a typing indicator.
type TypingPush struct {
	From     string `json:"from"`
	To       string `json:"to"`
	IsTyping bool   `json:"isTyping"`
}

// ReceiptPush notifies a sender that userId received or read messageId.
type ReceiptPush struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// MemberPush reports a membership change inside a Group or Community.
type MemberPush struct {
	GroupID     string `json:"groupId,omitempty"`
	CommunityID string `json:"communityId,omitempty"`
	UserID      string `json:"userId"`
	Role        string `json:"role,omitempty"`
}

// GroupPush reports a change to a Group's profile or its removal.
type GroupPush struct {
	GroupID string `json:"groupId"`
	Name    string `json:"name,omitempty"`
}

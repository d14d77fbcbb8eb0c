package membership

import (
	"time"

	"github.com/fiora/chat-app/internal/apperr"
	"github.com/fiora/chat-app/internal/model"
)

// Reasons returned by role transitions.
const (
	ReasonNotMember       = "you are not a member"
	ReasonTargetNotMember = "user is not a member"
	ReasonNoRights        = "insufficient permissions"
	ReasonOwnerImmutable  = "the owner cannot be removed or demoted"
	ReasonOwnerLeave      = "the owner must transfer ownership before leaving"
	ReasonBadTransition   = "invalid role transition"
	ReasonSameRole        = "user already has this role"
	ReasonSelf            = "cannot change your own role"
	ReasonAnnouncement    = "announcement group ownership follows its community"
)

// Roles returns the role view of g. A legacy group without an explicit role
// list reports its creator as owner and every other member as member.
func Roles(g *model.Group) []model.MemberRole {
	if g.MemberRoles != nil {
		return g.MemberRoles
	}
	out := make([]model.MemberRole, 0, len(g.Members))
	for _, id := range g.Members {
		role := model.RoleMember
		if id == g.Creator {
			role = model.RoleOwner
		}
		out = append(out, model.MemberRole{UserID: id, Role: role, JoinedAt: g.CreatedAt})
	}
	return out
}

// Materialize stores the computed role list on a legacy group. It reports
// whether g changed; calling it again is a no-op.
func Materialize(g *model.Group) bool {
	if g.MemberRoles != nil {
		return false
	}
	g.MemberRoles = Roles(g)
	return true
}

// RoleOf returns userID's role in members.
func RoleOf(members []model.MemberRole, userID string) (model.Role, bool) {
	for _, m := range members {
		if m.UserID == userID {
			return m.Role, true
		}
	}
	return "", false
}

// CanManage reports whether actor may change the role of, or remove, a
// member holding target. Owners act on anyone below them; admins act on
// members only.
func CanManage(actor, target model.Role) bool {
	if actor.Rank() < model.RoleAdmin.Rank() {
		return false
	}
	return actor.Rank() > target.Rank()
}

func roles(members []model.MemberRole, actorID, targetID string) (model.Role, model.Role, error) {
	actor, ok := RoleOf(members, actorID)
	if !ok {
		return "", "", apperr.Permission(ReasonNotMember)
	}
	target, ok := RoleOf(members, targetID)
	if !ok {
		return "", "", apperr.NotFound(ReasonTargetNotMember)
	}
	return actor, target, nil
}

// SetRole moves targetID one tier up or down to role on behalf of actorID
// and returns the new list. Promoting to owner demotes the previous owner
// to admin, so ownership transfers and is never shared. The input slice is
// not modified.
func SetRole(members []model.MemberRole, actorID, targetID string, role model.Role) ([]model.MemberRole, error) {
	if !role.Valid() {
		return nil, apperr.Validation(ReasonBadTransition)
	}
	if actorID == targetID {
		return nil, apperr.Permission(ReasonSelf)
	}
	actor, target, err := roles(members, actorID, targetID)
	if err != nil {
		return nil, err
	}
	if target == role {
		return nil, apperr.Conflict(ReasonSameRole)
	}

	switch role.Rank() - target.Rank() {
	case 1:
		// Creating an owner is reserved to the owner.
		if role == model.RoleOwner && actor != model.RoleOwner {
			return nil, apperr.Permission(ReasonNoRights)
		}
		if role != model.RoleOwner && !CanManage(actor, target) {
			return nil, apperr.Permission(ReasonNoRights)
		}
	case -1:
		if target == model.RoleOwner {
			return nil, apperr.Permission(ReasonOwnerImmutable)
		}
		if !CanManage(actor, target) {
			return nil, apperr.Permission(ReasonNoRights)
		}
	default:
		return nil, apperr.Validation(ReasonBadTransition)
	}

	out := make([]model.MemberRole, len(members))
	copy(out, members)
	for i := range out {
		switch {
		case out[i].UserID == targetID:
			out[i].Role = role
		case role == model.RoleOwner && out[i].Role == model.RoleOwner:
			out[i].Role = model.RoleAdmin
		}
	}
	return out, nil
}

// Kick removes targetID on behalf of actorID. The owner can never be
// removed, and an admin may only remove plain members.
func Kick(members []model.MemberRole, actorID, targetID string) ([]model.MemberRole, error) {
	if actorID == targetID {
		return nil, apperr.Validation("use leave to quit")
	}
	actor, target, err := roles(members, actorID, targetID)
	if err != nil {
		return nil, err
	}
	if target == model.RoleOwner {
		return nil, apperr.Permission(ReasonOwnerImmutable)
	}
	if !CanManage(actor, target) {
		return nil, apperr.Permission(ReasonNoRights)
	}
	return without(members, targetID), nil
}

// Leave removes userID from members. The owner cannot leave.
func Leave(members []model.MemberRole, userID string) ([]model.MemberRole, error) {
	role, ok := RoleOf(members, userID)
	if !ok {
		return nil, apperr.NotFound(ReasonNotMember)
	}
	if role == model.RoleOwner {
		return nil, apperr.Permission(ReasonOwnerLeave)
	}
	return without(members, userID), nil
}

// Add appends userID as a member. It fails with a conflict if already present.
func Add(members []model.MemberRole, userID string, now time.Time) ([]model.MemberRole, error) {
	if _, ok := RoleOf(members, userID); ok {
		return nil, apperr.Conflict("already a member")
	}
	out := make([]model.MemberRole, len(members), len(members)+1)
	copy(out, members)
	return append(out, model.MemberRole{UserID: userID, Role: model.RoleMember, JoinedAt: now}), nil
}

// Owner returns the id holding the owner role, or "".
func Owner(members []model.MemberRole) string {
	for _, m := range members {
		if m.Role == model.RoleOwner {
			return m.UserID
		}
	}
	return ""
}

// IDs returns the member ids in order.
func IDs(members []model.MemberRole) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.UserID
	}
	return out
}

func without(members []model.MemberRole, userID string) []model.MemberRole {
	out := make([]model.MemberRole, 0, len(members))
	for _, m := range members {
		if m.UserID != userID {
			out = append(out, m)
		}
	}
	return out
}

func removeID(list []string, id string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func containsID(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/fiora/chat-app/internal/model"
)

const groupColumns = `id, name, avatar, announcement, creator, is_default, members, member_roles, community_id, created_at`

type GroupRepository struct {
	db DBTX
}

func NewGroupRepository(db DBTX) *GroupRepository {
	return &GroupRepository{db: db}
}

// encodeRoles returns nil (SQL NULL) for legacy groups without a role list.
func encodeRoles(roles []model.MemberRole) ([]byte, error) {
	if roles == nil {
		return nil, nil
	}
	b, err := json.Marshal(roles)
	if err != nil {
		return nil, fmt.Errorf("encode member roles: %w", err)
	}
	return b, nil
}

func scanGroup(row scanner) (*model.Group, error) {
	g := &model.Group{}
	var roles []byte
	err := row.Scan(&g.ID, &g.Name, &g.Avatar, &g.Announcement, &g.Creator, &g.IsDefault,
		pq.Array(&g.Members), &roles, &g.CommunityID, &g.CreatedAt)
	if err != nil {
		return nil, wrap(err)
	}
	if roles != nil {
		g.MemberRoles = []model.MemberRole{}
		if err := json.Unmarshal(roles, &g.MemberRoles); err != nil {
			return nil, fmt.Errorf("decode member roles of %s: %w", g.ID, err)
		}
	}
	return g, nil
}

func (r *GroupRepository) list(ctx context.Context, query string, args ...any) ([]*model.Group, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var out []*model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, wrap(rows.Err())
}

func (r *GroupRepository) Create(ctx context.Context, g *model.Group) error {
	if g.ID == "" {
		g.ID = model.NewID()
	}
	roles, err := encodeRoles(g.MemberRoles)
	if err != nil {
		return err
	}
	query := `INSERT INTO groups (` + groupColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = r.db.ExecContext(ctx, query, g.ID, g.Name, g.Avatar, g.Announcement, g.Creator, g.IsDefault,
		pq.Array(nonNil(g.Members)), roles, g.CommunityID, g.CreatedAt)
	return wrap(err)
}

func (r *GroupRepository) Get(ctx context.Context, id string) (*model.Group, error) {
	return scanGroup(r.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, id))
}

func (r *GroupRepository) GetByName(ctx context.Context, name string) (*model.Group, error) {
	return scanGroup(r.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE name = $1`, name))
}

func (r *GroupRepository) GetDefault(ctx context.Context) (*model.Group, error) {
	return scanGroup(r.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE is_default LIMIT 1`))
}

func (r *GroupRepository) GetMany(ctx context.Context, ids []string) ([]*model.Group, error) {
	return r.list(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = ANY($1)`, pq.Array(ids))
}

func (r *GroupRepository) ListByMember(ctx context.Context, userID string) ([]*model.Group, error) {
	return r.list(ctx, `SELECT `+groupColumns+` FROM groups WHERE $1 = ANY(members) ORDER BY created_at`, userID)
}

func (r *GroupRepository) Update(ctx context.Context, g *model.Group) error {
	roles, err := encodeRoles(g.MemberRoles)
	if err != nil {
		return err
	}
	query := `UPDATE groups SET name = $2, avatar = $3, announcement = $4, members = $5,
		member_roles = $6, community_id = $7 WHERE id = $1`
	return expectOne(r.db.ExecContext(ctx, query, g.ID, g.Name, g.Avatar, g.Announcement,
		pq.Array(nonNil(g.Members)), roles, g.CommunityID))
}

func (r *GroupRepository) Delete(ctx context.Context, id string) error {
	return expectOne(r.db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id))
}

func (r *GroupRepository) DeleteMany(ctx context.Context, ids []string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM groups WHERE id = ANY($1)`, pq.Array(ids))
	return wrap(err)
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/fiora/chat-app/internal/model"
)

const communityColumns = `id, name, avatar, description, owner_id, members, groups, channels, announcement_group_id, created_at`

type CommunityRepository struct {
	db DBTX
}

func NewCommunityRepository(db DBTX) *CommunityRepository {
	return &CommunityRepository{db: db}
}

func scanCommunity(row scanner) (*model.Community, error) {
	c := &model.Community{}
	var members []byte
	err := row.Scan(&c.ID, &c.Name, &c.Avatar, &c.Description, &c.OwnerID, &members,
		pq.Array(&c.Groups), pq.Array(&c.Channels), &c.AnnouncementGroupID, &c.CreatedAt)
	if err != nil {
		return nil, wrap(err)
	}
	if err := json.Unmarshal(members, &c.Members); err != nil {
		return nil, fmt.Errorf("decode community members of %s: %w", c.ID, err)
	}
	return c, nil
}

func encodeMembers(members []model.MemberRole) ([]byte, error) {
	if members == nil {
		members = []model.MemberRole{}
	}
	b, err := json.Marshal(members)
	if err != nil {
		return nil, fmt.Errorf("encode community members: %w", err)
	}
	return b, nil
}

func (r *CommunityRepository) Create(ctx context.Context, c *model.Community) error {
	if c.ID == "" {
		c.ID = model.NewID()
	}
	members, err := encodeMembers(c.Members)
	if err != nil {
		return err
	}
	query := `INSERT INTO communities (` + communityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = r.db.ExecContext(ctx, query, c.ID, c.Name, c.Avatar, c.Description, c.OwnerID, members,
		pq.Array(nonNil(c.Groups)), pq.Array(nonNil(c.Channels)), c.AnnouncementGroupID, c.CreatedAt)
	return wrap(err)
}

func (r *CommunityRepository) Get(ctx context.Context, id string) (*model.Community, error) {
	return scanCommunity(r.db.QueryRowContext(ctx, `SELECT `+communityColumns+` FROM communities WHERE id = $1`, id))
}

func (r *CommunityRepository) GetByName(ctx context.Context, name string) (*model.Community, error) {
	return scanCommunity(r.db.QueryRowContext(ctx, `SELECT `+communityColumns+` FROM communities WHERE name = $1`, name))
}

func (r *CommunityRepository) ListByMember(ctx context.Context, userID string) ([]*model.Community, error) {
	probe, err := json.Marshal([]map[string]string{{"user": userID}})
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+communityColumns+` FROM communities
		WHERE members @> $1::jsonb ORDER BY created_at`, probe)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var out []*model.Community
	for rows.Next() {
		c, err := scanCommunity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, wrap(rows.Err())
}

func (r *CommunityRepository) Update(ctx context.Context, c *model.Community) error {
	members, err := encodeMembers(c.Members)
	if err != nil {
		return err
	}
	query := `UPDATE communities SET name = $2, avatar = $3, description = $4, owner_id = $5,
		members = $6, groups = $7, channels = $8, announcement_group_id = $9 WHERE id = $1`
	return expectOne(r.db.ExecContext(ctx, query, c.ID, c.Name, c.Avatar, c.Description, c.OwnerID,
		members, pq.Array(nonNil(c.Groups)), pq.Array(nonNil(c.Channels)), c.AnnouncementGroupID))
}

func (r *CommunityRepository) Delete(ctx context.Context, id string) error {
	return expectOne(r.db.ExecContext(ctx, `DELETE FROM communities WHERE id = $1`, id))
}

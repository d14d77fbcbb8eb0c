package postgres

import (
	"context"

	"github.com/lib/pq"

	"github.com/fiora/chat-app/internal/model"
)

const channelColumns = `id, name, avatar, description, creator, subscribers, verified, community_id, created_at`

type ChannelRepository struct {
	db DBTX
}

func NewChannelRepository(db DBTX) *ChannelRepository {
	return &ChannelRepository{db: db}
}

func scanChannel(row scanner) (*model.Channel, error) {
	c := &model.Channel{}
	err := row.Scan(&c.ID, &c.Name, &c.Avatar, &c.Description, &c.Creator,
		pq.Array(&c.Subscribers), &c.Verified, &c.CommunityID, &c.CreatedAt)
	if err != nil {
		return nil, wrap(err)
	}
	return c, nil
}

func (r *ChannelRepository) list(ctx context.Context, query string, args ...any) ([]*model.Channel, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var out []*model.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, wrap(rows.Err())
}

func (r *ChannelRepository) Create(ctx context.Context, c *model.Channel) error {
	if c.ID == "" {
		c.ID = model.NewID()
	}
	query := `INSERT INTO channels (` + channelColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query, c.ID, c.Name, c.Avatar, c.Description, c.Creator,
		pq.Array(nonNil(c.Subscribers)), c.Verified, c.CommunityID, c.CreatedAt)
	return wrap(err)
}

func (r *ChannelRepository) Get(ctx context.Context, id string) (*model.Channel, error) {
	return scanChannel(r.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id))
}

func (r *ChannelRepository) GetByName(ctx context.Context, name string) (*model.Channel, error) {
	return scanChannel(r.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE name = $1`, name))
}

func (r *ChannelRepository) GetMany(ctx context.Context, ids []string) ([]*model.Channel, error) {
	return r.list(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = ANY($1)`, pq.Array(ids))
}

func (r *ChannelRepository) ListBySubscriber(ctx context.Context, userID string) ([]*model.Channel, error) {
	return r.list(ctx, `SELECT `+channelColumns+` FROM channels
		WHERE creator = $1 OR $1 = ANY(subscribers) ORDER BY created_at`, userID)
}

func (r *ChannelRepository) Update(ctx context.Context, c *model.Channel) error {
	query := `UPDATE channels SET name = $2, avatar = $3, description = $4, subscribers = $5,
		verified = $6, community_id = $7 WHERE id = $1`
	return expectOne(r.db.ExecContext(ctx, query, c.ID, c.Name, c.Avatar, c.Description,
		pq.Array(nonNil(c.Subscribers)), c.Verified, c.CommunityID))
}

func (r *ChannelRepository) Delete(ctx context.Context, id string) error {
	return expectOne(r.db.ExecContext(ctx, `DELETE FROM channels WHERE id = $1`, id))
}

package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/fiora/chat-app/internal/model"
	"github.com/fiora/chat-app/internal/store"
)

const messageColumns = `id, from_id, to_id, type, content, created_at, deleted, delivered_to, read_by`

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

func scanMessage(row scanner) (*model.Message, error) {
	m := &model.Message{}
	var typ string
	err := row.Scan(&m.ID, &m.From, &m.To, &typ, &m.Content, &m.CreatedAt, &m.Deleted,
		pq.Array(&m.DeliveredTo), pq.Array(&m.ReadBy))
	if err != nil {
		return nil, wrap(err)
	}
	m.Type = model.MessageType(typ)
	return m, nil
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	if m.ID == "" {
		m.ID = model.NewID()
	}
	query := `INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query, m.ID, m.From, m.To, string(m.Type), m.Content, m.CreatedAt,
		m.Deleted, pq.Array(nonNil(m.DeliveredTo)), pq.Array(nonNil(m.ReadBy)))
	return wrap(err)
}

func (r *MessageRepository) Get(ctx context.Context, id string) (*model.Message, error) {
	return scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
}

func (r *MessageRepository) Recent(ctx context.Context, to string, skip, limit int) ([]*model.Message, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE to_id = $1 ORDER BY created_at DESC, id DESC OFFSET $2 LIMIT $3`, to, skip, limit)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var newestFirst []*model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err)
	}
	out := make([]*model.Message, len(newestFirst))
	for i, m := range newestFirst {
		out[len(newestFirst)-1-i] = m
	}
	return out, nil
}

func (r *MessageRepository) CountAfter(ctx context.Context, to, messageID string, limit int) (int, error) {
	query := `SELECT count(*) FROM (
		SELECT 1 FROM messages
		WHERE to_id = $1 AND created_at > (SELECT created_at FROM messages WHERE id = $2)
		LIMIT $3) t`
	var n int
	if err := r.db.QueryRowContext(ctx, query, to, messageID, limit).Scan(&n); err != nil {
		return 0, wrap(err)
	}
	return n, nil
}

func (r *MessageRepository) MarkDeleted(ctx context.Context, id string) error {
	return expectOne(r.db.ExecContext(ctx, `UPDATE messages SET deleted = TRUE WHERE id = $1`, id))
}

func (r *MessageRepository) Delete(ctx context.Context, id string) error {
	return expectOne(r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, id))
}

const (
	appendDelivered = `UPDATE messages SET delivered_to = array_append(delivered_to, $2::text)
		WHERE id = $1 AND NOT ($2::text = ANY(delivered_to))`
	appendRead = `UPDATE messages SET read_by = array_append(read_by, $2::text)
		WHERE id = $1 AND NOT ($2::text = ANY(read_by))`
)

func (r *MessageRepository) AddReceipt(ctx context.Context, id, userID string, kind store.Receipt) (bool, error) {
	query := appendDelivered
	if kind == store.ReceiptRead {
		query = appendRead
	}
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return false, wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, wrap(err)
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

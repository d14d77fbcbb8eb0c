package postgres

import (
	"context"

	"github.com/lib/pq"

	"github.com/fiora/chat-app/internal/model"
)

type HistoryRepository struct {
	db DBTX
}

func NewHistoryRepository(db DBTX) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) Upsert(ctx context.Context, h *model.History) error {
	query := `INSERT INTO histories (user_id, linkman_id, message_id, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, linkman_id)
		DO UPDATE SET message_id = EXCLUDED.message_id, updated_at = EXCLUDED.updated_at`
	_, err := r.db.ExecContext(ctx, query, h.UserID, h.LinkmanID, h.MessageID, h.UpdatedAt)
	return wrap(err)
}

func (r *HistoryRepository) ListByUser(ctx context.Context, userID string, linkmanIDs []string) ([]*model.History, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id, linkman_id, message_id, updated_at FROM histories
		WHERE user_id = $1 AND linkman_id = ANY($2)`, userID, pq.Array(linkmanIDs))
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var out []*model.History
	for rows.Next() {
		h := &model.History{}
		if err := rows.Scan(&h.UserID, &h.LinkmanID, &h.MessageID, &h.UpdatedAt); err != nil {
			return nil, wrap(err)
		}
		out = append(out, h)
	}
	return out, wrap(rows.Err())
}

type TokenRepository struct {
	db DBTX
}

func NewTokenRepository(db DBTX) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) Create(ctx context.Context, t *model.NotificationToken) error {
	if t.ID == "" {
		t.ID = model.NewID()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO notification_tokens (id, user_id, token, created_at)
		VALUES ($1, $2, $3, $4)`, t.ID, t.UserID, t.Token, t.CreatedAt)
	return wrap(err)
}

func (r *TokenRepository) list(ctx context.Context, query string, args ...any) ([]*model.NotificationToken, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var out []*model.NotificationToken
	for rows.Next() {
		t := &model.NotificationToken{}
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.CreatedAt); err != nil {
			return nil, wrap(err)
		}
		out = append(out, t)
	}
	return out, wrap(rows.Err())
}

func (r *TokenRepository) ListByUser(ctx context.Context, userID string) ([]*model.NotificationToken, error) {
	return r.list(ctx, `SELECT id, user_id, token, created_at FROM notification_tokens
		WHERE user_id = $1 ORDER BY created_at`, userID)
}

func (r *TokenRepository) ListByUsers(ctx context.Context, userIDs []string) ([]*model.NotificationToken, error) {
	return r.list(ctx, `SELECT id, user_id, token, created_at FROM notification_tokens
		WHERE user_id = ANY($1) ORDER BY created_at`, pq.Array(userIDs))
}

func (r *TokenRepository) Delete(ctx context.Context, id string) error {
	return expectOne(r.db.ExecContext(ctx, `DELETE FROM notification_tokens WHERE id = $1`, id))
}

type FriendRepository struct {
	db DBTX
}

func NewFriendRepository(db DBTX) *FriendRepository {
	return &FriendRepository{db: db}
}

func (r *FriendRepository) Create(ctx context.Context, f *model.Friend) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO friends (from_id, to_id, created_at) VALUES ($1, $2, $3)`,
		f.From, f.To, f.CreatedAt)
	return wrap(err)
}

func (r *FriendRepository) Delete(ctx context.Context, from, to string) error {
	return expectOne(r.db.ExecContext(ctx, `DELETE FROM friends WHERE from_id = $1 AND to_id = $2`, from, to))
}

func (r *FriendRepository) ListByUser(ctx context.Context, from string) ([]*model.Friend, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT from_id, to_id, created_at FROM friends
		WHERE from_id = $1 ORDER BY created_at`, from)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var out []*model.Friend
	for rows.Next() {
		f := &model.Friend{}
		if err := rows.Scan(&f.From, &f.To, &f.CreatedAt); err != nil {
			return nil, wrap(err)
		}
		out = append(out, f)
	}
	return out, wrap(rows.Err())
}

package postgres

import (
	"context"
	"time"

	"github.com/lib/pq"

	"github.com/fiora/chat-app/internal/model"
)

const userColumns = `id, username, password_hash, avatar, tag, expressions, created_at, last_login_time, last_login_ip`

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row scanner) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Avatar, &u.Tag,
		pq.Array(&u.Expressions), &u.CreatedAt, &u.LastLoginTime, &u.LastLoginIP)
	if err != nil {
		return nil, wrap(err)
	}
	return u, nil
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = model.NewID()
	}
	query := `INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query, u.ID, u.Username, u.PasswordHash, u.Avatar, u.Tag,
		pq.Array(nonNil(u.Expressions)), u.CreatedAt, u.LastLoginTime, u.LastLoginIP)
	return wrap(err)
}

func (r *UserRepository) Get(ctx context.Context, id string) (*model.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *UserRepository) GetByName(ctx context.Context, username string) (*model.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (r *UserRepository) GetMany(ctx context.Context, ids []string) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var out []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, wrap(rows.Err())
}

func (r *UserRepository) UpdateLogin(ctx context.Context, id string, at time.Time, ip string) error {
	return expectOne(r.db.ExecContext(ctx,
		`UPDATE users SET last_login_time = $2, last_login_ip = $3 WHERE id = $1`, id, at, ip))
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, hash string) error {
	return expectOne(r.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash))
}

func (r *UserRepository) UpdateTag(ctx context.Context, id, tag string) error {
	return expectOne(r.db.ExecContext(ctx, `UPDATE users SET tag = $2 WHERE id = $1`, id, tag))
}

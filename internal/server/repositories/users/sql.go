// Package users persists account rows. The SQL is portable between the
// SQLite and PostgreSQL drivers.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fredemmott/TempFiles/internal/common"
	"github.com/fredemmott/TempFiles/internal/dbx"
	"github.com/fredemmott/TempFiles/internal/server/models"
)

type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query :=
		`INSERT INTO users (uuid, username, created_at)
		 VALUES ($1, $2, $3)
		 RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		user.UUID, user.UserName, user.CreatedAt.Unix()).Scan(&user.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *SQLRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getOne(ctx,
		`SELECT id, uuid, username, created_at FROM users WHERE id = $1`, id)
}

func (r *SQLRepository) GetByUUID(ctx context.Context, uuid string) (*models.User, error) {
	return r.getOne(ctx,
		`SELECT id, uuid, username, created_at FROM users WHERE uuid = $1`, uuid)
}

func (r *SQLRepository) GetByUserName(ctx context.Context, userName string) (*models.User, error) {
	return r.getOne(ctx,
		`SELECT id, uuid, username, created_at FROM users WHERE username = $1`, userName)
}

func (r *SQLRepository) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	user := &models.User{}
	var created int64

	err := r.db.QueryRowContext(ctx, query, arg).Scan(&user.ID, &user.UUID, &user.UserName, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	user.CreatedAt = time.Unix(created, 0)

	return user, nil
}

// DeleteByUserName removes the user; credentials, tokens and blob rows go
// with it through ON DELETE CASCADE.
func (r *SQLRepository) DeleteByUserName(ctx context.Context, userName string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE username = $1`, userName)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.AffectedOne(res)
}

// Package registrationtokens persists single-use enrollment tokens.
package registrationtokens

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

func (r *SQLRepository) Create(ctx context.Context, token *models.RegistrationToken) error {
	query :=
		`INSERT INTO registration_tokens (token, user_id, expires_at)
		 VALUES ($1, $2, $3)`

	if _, err := r.db.ExecContext(ctx, query, token.Token, token.UserID, token.ExpiresAt.Unix()); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) FindUser(ctx context.Context, token string, now time.Time) (int64, error) {
	query :=
		`SELECT user_id FROM registration_tokens
		 WHERE token = $1 AND expires_at > $2`

	var userID int64
	err := r.db.QueryRowContext(ctx, query, token, now.Unix()).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return userID, nil
}

// Delete removes the token; a token already gone yields common.ErrNotFound so
// that two racing registrations cannot both consume it.
func (r *SQLRepository) Delete(ctx context.Context, token string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM registration_tokens WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.AffectedOne(res)
}

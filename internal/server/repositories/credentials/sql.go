// Package credentials persists registered passkeys. Credential ids are
// stored base64url-encoded so the schema stays TEXT-only across dialects.
package credentials

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

func (r *SQLRepository) Create(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	query :=
		`INSERT INTO credentials (user_id, credential_id, public_key, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		cred.UserID, common.EncodeToken(cred.CredentialID), string(cred.PublicKey), cred.CreatedAt.Unix(),
	).Scan(&cred.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return cred, nil
}

func (r *SQLRepository) GetByUserAndCredentialID(ctx context.Context, userID int64, credentialID []byte) (*models.Credential, error) {
	query :=
		`SELECT id, user_id, credential_id, public_key, created_at FROM credentials
		 WHERE user_id = $1 AND credential_id = $2`

	row := r.db.QueryRowContext(ctx, query, userID, common.EncodeToken(credentialID))
	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return cred, nil
}

func (r *SQLRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Credential, error) {
	query :=
		`SELECT id, user_id, credential_id, public_key, created_at FROM credentials
		 WHERE user_id = $1
		 ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(s scanner) (*models.Credential, error) {
	var (
		cred    models.Credential
		encID   string
		key     string
		created int64
	)
	if err := s.Scan(&cred.ID, &cred.UserID, &encID, &key, &created); err != nil {
		return nil, err
	}
	id, err := common.DecodeToken(encID)
	if err != nil {
		return nil, fmt.Errorf("decode credential id: %w", err)
	}
	cred.CredentialID = id
	cred.PublicKey = []byte(key)
	cred.CreatedAt = time.Unix(created, 0)
	return &cred, nil
}

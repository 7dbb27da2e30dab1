// Package blobs persists encrypted blob metadata. The download budget is
// spent with a single conditional UPDATE so that concurrent downloads can
// never overdraw it.
package blobs

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

func (r *SQLRepository) Create(ctx context.Context, b *models.Blob) error {
	query :=
		`INSERT INTO blobs (uuid, user_id, credential_id, salt, filename_iv, data_iv,
		                    encrypted_filename, created_at, downloads_remaining, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	var salt any
	if b.Salt != nil {
		salt = *b.Salt
	}

	_, err := r.db.ExecContext(ctx, query,
		b.UUID, b.UserID, nullInt(b.CredentialID), salt, b.FilenameIV, b.DataIV,
		b.EncryptedFilename, b.CreatedAt.Unix(), nullInt(b.DownloadsRemaining), nullUnix(b.ExpiresAt))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) ListLive(ctx context.Context, userID, credentialID int64, now time.Time) ([]*models.Blob, error) {
	query :=
		`SELECT uuid, user_id, credential_id, salt, filename_iv, data_iv,
		        encrypted_filename, created_at, downloads_remaining, expires_at
		 FROM blobs
		 WHERE user_id = $1
		   AND (credential_id IS NULL OR credential_id = $2)
		   AND salt IS NOT NULL
		   AND (downloads_remaining IS NULL OR downloads_remaining > 0)
		   AND (expires_at IS NULL OR expires_at > $3)
		 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, userID, credentialID, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Blob
	for rows.Next() {
		b, err := scanBlob(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *SQLRepository) ConsumeDownload(ctx context.Context, id string, userID, credentialID int64, now time.Time) (*int64, error) {
	query :=
		`UPDATE blobs
		 SET downloads_remaining = downloads_remaining - 1
		 WHERE uuid = $1
		   AND user_id = $2
		   AND (credential_id IS NULL OR credential_id = $3)
		   AND salt IS NOT NULL
		   AND (expires_at IS NULL OR expires_at > $4)
		   AND (downloads_remaining IS NULL OR downloads_remaining > 0)
		 RETURNING downloads_remaining`

	var remaining sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, id, userID, credentialID, now.Unix()).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if !remaining.Valid {
		return nil, nil
	}
	return &remaining.Int64, nil
}

// Tombstone clears the salt of one of the user's rows. A row that is already
// tombstoned, or not theirs, yields common.ErrNotFound.
func (r *SQLRepository) Tombstone(ctx context.Context, id string, userID int64) error {
	query :=
		`UPDATE blobs SET salt = NULL
		 WHERE uuid = $1 AND user_id = $2 AND salt IS NOT NULL`

	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.AffectedOne(res)
}

func (r *SQLRepository) TombstoneAll(ctx context.Context, userID int64) ([]string, error) {
	query :=
		`UPDATE blobs SET salt = NULL
		 WHERE user_id = $1 AND salt IS NOT NULL
		 RETURNING uuid`

	return r.queryUUIDs(ctx, query, userID)
}

func (r *SQLRepository) Purge(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM blobs WHERE uuid = $1 AND salt IS NULL`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.AffectedOne(res)
}

func (r *SQLRepository) ListLiveUUIDs(ctx context.Context, now time.Time) ([]string, error) {
	query :=
		`SELECT uuid FROM blobs
		 WHERE salt IS NOT NULL
		   AND (downloads_remaining IS NULL OR downloads_remaining > 0)
		   AND (expires_at IS NULL OR expires_at > $1)`

	return r.queryUUIDs(ctx, query, now.Unix())
}

func (r *SQLRepository) ListDeadUUIDs(ctx context.Context, now time.Time) ([]string, error) {
	query :=
		`SELECT uuid FROM blobs
		 WHERE salt IS NULL OR downloads_remaining < 1 OR expires_at <= $1`

	return r.queryUUIDs(ctx, query, now.Unix())
}

// DeleteDead removes the row only if it is still dead at now.
func (r *SQLRepository) DeleteDead(ctx context.Context, id string, now time.Time) error {
	query :=
		`DELETE FROM blobs
		 WHERE uuid = $1
		   AND (salt IS NULL OR downloads_remaining < 1 OR expires_at <= $2)`

	res, err := r.db.ExecContext(ctx, query, id, now.Unix())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.AffectedOne(res)
}

func (r *SQLRepository) queryUUIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ids, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBlob(s scanner) (*models.Blob, error) {
	var (
		b         models.Blob
		credID    sql.NullInt64
		salt      sql.NullString
		created   int64
		remaining sql.NullInt64
		expires   sql.NullInt64
	)
	err := s.Scan(&b.UUID, &b.UserID, &credID, &salt, &b.FilenameIV, &b.DataIV,
		&b.EncryptedFilename, &created, &remaining, &expires)
	if err != nil {
		return nil, err
	}

	b.CreatedAt = time.Unix(created, 0)
	if credID.Valid {
		b.CredentialID = &credID.Int64
	}
	if salt.Valid {
		b.Salt = &salt.String
	}
	if remaining.Valid {
		b.DownloadsRemaining = &remaining.Int64
	}
	if expires.Valid {
		t := time.Unix(expires.Int64, 0)
		b.ExpiresAt = &t
	}
	return &b, nil
}

func nullInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
